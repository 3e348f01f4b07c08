// Package gcs implements device.Device for a disk image staged as a
// single object in Google Cloud Storage, read with ranged
// NewRangeReader calls. Grounded on perkeep's
// pkg/blobserver/google/cloudstorage backend's use of
// cloud.google.com/go/storage.
package gcs

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
)

type Config struct {
	Bucket, Object string
}

type Device struct {
	obj       *storage.ObjectHandle
	blockSize int
	size      int64
}

// Open constructs a Device over an existing disk-image object,
// fetching its size via Attrs.
func Open(ctx context.Context, cfg Config, blockSize int) (*Device, error) {
	cl, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	obj := cl.Bucket(cfg.Bucket).Object(cfg.Object)
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return nil, err
	}
	return &Device{obj: obj, blockSize: blockSize, size: attrs.Size}, nil
}

func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	if off >= d.size {
		return 0, io.EOF
	}
	length := int64(len(p))
	if off+length > d.size {
		length = d.size - off
	}
	r, err := d.obj.NewRangeReader(context.Background(), off, length)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	return io.ReadFull(r, p[:length])
}

func (d *Device) BlockSize() int     { return d.blockSize }
func (d *Device) BlockCount() uint64 { return uint64(d.size) / uint64(d.blockSize) }
