// Package s3 implements device.Device for a disk image staged as a
// single object in an S3 bucket, read with ranged GetObject calls.
// Grounded on perkeep's pkg/blobserver/s3 backend, which drives the
// same github.com/aws/aws-sdk-go client for blob storage.
package s3

import (
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

type Config struct {
	Bucket, Key, Region string
}

type Device struct {
	cli       *s3.S3
	bucket    string
	key       string
	blockSize int
	size      int64
}

// Open constructs a Device over an existing disk-image object,
// fetching its size with a HEAD request.
func Open(cfg Config, blockSize int) (*Device, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(cfg.Region)})
	if err != nil {
		return nil, err
	}
	cli := s3.New(sess)
	head, err := cli.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(cfg.Bucket),
		Key:    aws.String(cfg.Key),
	})
	if err != nil {
		return nil, err
	}
	return &Device{
		cli:       cli,
		bucket:    cfg.Bucket,
		key:       cfg.Key,
		blockSize: blockSize,
		size:      aws.Int64Value(head.ContentLength),
	}, nil
}

func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	if off >= d.size {
		return 0, io.EOF
	}
	end := off + int64(len(p)) - 1
	if end >= d.size {
		end = d.size - 1
	}
	out, err := d.cli.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end)),
	})
	if err != nil {
		return 0, err
	}
	defer out.Body.Close()
	return io.ReadFull(out.Body, p[:end-off+1])
}

func (d *Device) BlockSize() int     { return d.blockSize }
func (d *Device) BlockCount() uint64 { return uint64(d.size) / uint64(d.blockSize) }
