// Package file implements device.Device over a local disk-image file,
// grounded on perkeep's pkg/blobserver/localdisk backend (the default,
// simplest storage implementation every other backend is compared
// against).
package file

import "os"

type Device struct {
	f         *os.File
	blockSize int
	blocks    uint64
}

// Open opens path as a disk image with the given block size. The
// image's block count is derived from its file size.
func Open(path string, blockSize int) (*Device, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Device{
		f:         f,
		blockSize: blockSize,
		blocks:    uint64(info.Size()) / uint64(blockSize),
	}, nil
}

func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	return d.f.ReadAt(p, off)
}

func (d *Device) BlockSize() int     { return d.blockSize }
func (d *Device) BlockCount() uint64 { return d.blocks }

func (d *Device) Close() error { return d.f.Close() }
