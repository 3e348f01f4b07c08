package devfs_test

import (
	"testing"

	"dripos.dev/kernel/pkg/device/mem"
	"dripos.dev/kernel/pkg/kerrno"
	"dripos.dev/kernel/pkg/vfs"
	"dripos.dev/kernel/pkg/vfs/devfs"
)

func TestRegisterAndReadThroughVFS(t *testing.T) {
	data := make([]byte, 1024)
	for i := range data {
		data[i] = byte(i)
	}
	dev := mem.New(data, 512)

	tree := vfs.New()
	node, err := devfs.Register(tree, "sda", dev)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if vfs.GetFullPath(node) != "/dev/sda" {
		t.Errorf("path = %q, want /dev/sda", vfs.GetFullPath(node))
	}

	resolved, err := tree.Resolve("/dev/sda")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	buf := make([]byte, 16)
	n, err := resolved.Ops.Read(resolved, buf, 512)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 16 || buf[0] != 0 {
		t.Errorf("Read = %v", buf)
	}
}

func TestDeviceIsReadOnly(t *testing.T) {
	dev := mem.New(make([]byte, 512), 512)
	tree := vfs.New()
	node, err := devfs.Register(tree, "sda", dev)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := node.Ops.Write(node, []byte("x"), 0); err != kerrno.EINVAL {
		t.Errorf("Write = %v, want EINVAL", err)
	}
}

func TestSeekEndUsesDeviceGeometry(t *testing.T) {
	dev := mem.New(make([]byte, 1024), 512)
	tree := vfs.New()
	node, err := devfs.Register(tree, "sda", dev)
	if err != nil {
		t.Fatal(err)
	}
	pos, err := node.Ops.Seek(node, 0, vfs.SeekEnd, 0)
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if pos != 1024 {
		t.Errorf("Seek(END) = %d, want 1024", pos)
	}
}
