// Package devfs exposes registered block devices as VFS nodes under
// /dev (spec.md §6: "A block device appears as a VFS node under /dev
// whose read/seek ops perform byte-addressed I/O"). Grounded on
// pkg/fs/recent.go and pkg/fs/roots.go's pattern of materializing VFS
// nodes from in-memory program state rather than reading bytes off an
// underlying store.
package devfs

import (
	"dripos.dev/kernel/pkg/device"
	"dripos.dev/kernel/pkg/kerrno"
	"dripos.dev/kernel/pkg/vfs"
)

type deviceOps struct {
	dev device.Device
}

func (deviceOps) Open(*vfs.Node, vfs.OpenFlags) error { return nil }
func (deviceOps) Close(*vfs.Node) error               { return nil }
func (deviceOps) Write(*vfs.Node, []byte, uint64) (int, error) {
	return 0, kerrno.EINVAL // read-only, per spec.md's Non-goals
}

func (d deviceOps) Read(_ *vfs.Node, buf []byte, offset uint64) (int, error) {
	n, err := d.dev.ReadAt(buf, int64(offset))
	if n > 0 {
		return n, nil
	}
	return n, err
}

func (d deviceOps) Seek(_ *vfs.Node, offset int64, whence int, cur uint64) (uint64, error) {
	size := d.dev.BlockCount() * uint64(d.dev.BlockSize())
	return vfs.SeekDefault(offset, whence, cur, size)
}

// Register creates /dev/<name> as a node backed by dev. If a node
// already exists at that path it is returned unchanged and dev is not
// attached to it.
func Register(tree *vfs.Tree, name string, dev device.Device) (*vfs.Node, error) {
	return tree.CreateMissingNodesFromPath("/dev/"+name, deviceOps{dev: dev})
}
