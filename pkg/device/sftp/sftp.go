// Package sftp implements device.Device for a disk image that lives on
// a remote host, reached over SFTP. Grounded on perkeep's
// pkg/blobserver/sftp backend: an ssh.ClientConfig plus a lazily
// dialed *sftp.Client, reused across reads.
package sftp

import (
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Config names the remote host and disk-image path.
type Config struct {
	Addr   string // "host:22"
	Path   string // remote path to the disk image
	Client *ssh.ClientConfig
}

type Device struct {
	cfg       Config
	blockSize int

	mu   sync.Mutex
	sc   *sftp.Client
	file *sftp.File
	size int64
}

// Open dials addr over SSH and opens cfg.Path as a disk image with the
// given block size.
func Open(cfg Config, blockSize int) (*Device, error) {
	conn, err := ssh.Dial("tcp", cfg.Addr, cfg.Client)
	if err != nil {
		return nil, err
	}
	sc, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	f, err := sc.Open(cfg.Path)
	if err != nil {
		sc.Close()
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		sc.Close()
		return nil, err
	}
	return &Device{cfg: cfg, blockSize: blockSize, sc: sc, file: f, size: info.Size()}, nil
}

func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.file.ReadAt(p, off)
}

func (d *Device) BlockSize() int     { return d.blockSize }
func (d *Device) BlockCount() uint64 { return uint64(d.size) / uint64(d.blockSize) }

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.file.Close()
	d.sc.Close()
	return err
}
