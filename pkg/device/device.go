// Package device is the block-device contract of spec.md §6: "A block
// device appears as a VFS node under /dev whose read/seek ops perform
// byte-addressed I/O." Sub-packages provide concrete backing stores,
// grounded on perkeep's pkg/blobserver backend family (localdisk,
// sftp, google/cloudstorage, s3): one small interface, many
// interchangeable implementations.
package device

import "io"

// Device is a read-only, byte-addressed block device.
type Device interface {
	io.ReaderAt
	BlockSize() int
	BlockCount() uint64
}
