// Package mem provides an in-memory device.Device, used by echfs's own
// tests so chain-walking can be exercised without a real file.
package mem

type Device struct {
	data      []byte
	blockSize int
}

// New wraps data as a device with the given block size. BlockCount
// rounds len(data)/blockSize down, so a trailing partial block is not
// counted. ReadAt never returns an error: a read that runs past
// len(data) returns only the bytes that exist (0 at or past the end),
// without zero-filling the rest of p and without io.EOF.
func New(data []byte, blockSize int) *Device {
	return &Device{data: data, blockSize: blockSize}
}

func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(d.data)) {
		return 0, nil
	}
	n := copy(p, d.data[off:])
	return n, nil
}

func (d *Device) BlockSize() int     { return d.blockSize }
func (d *Device) BlockCount() uint64 { return uint64(len(d.data) / d.blockSize) }
