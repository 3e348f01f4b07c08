package fd_test

import (
	"testing"

	"dripos.dev/kernel/pkg/fd"
	"dripos.dev/kernel/pkg/kerrno"
	"dripos.dev/kernel/pkg/vfs"
)

type memFileOps struct {
	data []byte
}

func (*memFileOps) Open(*vfs.Node, vfs.OpenFlags) error { return nil }
func (*memFileOps) Close(*vfs.Node) error               { return nil }
func (o *memFileOps) Read(_ *vfs.Node, buf []byte, offset uint64) (int, error) {
	if offset >= uint64(len(o.data)) {
		return 0, nil
	}
	return copy(buf, o.data[offset:]), nil
}
func (o *memFileOps) Write(_ *vfs.Node, buf []byte, offset uint64) (int, error) {
	end := offset + uint64(len(buf))
	if end > uint64(len(o.data)) {
		grown := make([]byte, end)
		copy(grown, o.data)
		o.data = grown
	}
	copy(o.data[offset:], buf)
	return len(buf), nil
}
func (o *memFileOps) Seek(_ *vfs.Node, offset int64, whence int, cur uint64) (uint64, error) {
	return vfs.SeekDefault(offset, whence, cur, uint64(len(o.data)))
}

func newFileTree(t *testing.T, content []byte) *vfs.Tree {
	t.Helper()
	tree := vfs.New()
	if _, err := tree.CreateMissingNodesFromPath("/f.txt", &memFileOps{data: content}); err != nil {
		t.Fatalf("CreateMissingNodesFromPath: %v", err)
	}
	return tree
}

func TestOpenAssignsFDStartingAtThree(t *testing.T) {
	tree := newFileTree(t, []byte("hello"))
	table := fd.NewTable()

	handle, err := table.Open(tree, "/f.txt", 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if handle != 3 {
		t.Errorf("handle = %d, want 3 (fds 0-2 reserved)", handle)
	}
}

func TestReadSeekRoundTrip(t *testing.T) {
	tree := newFileTree(t, []byte("hello world"))
	table := fd.NewTable()

	h, err := table.Open(tree, "/f.txt", 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	buf := make([]byte, 5)
	n, err := table.Read(h, buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 5 || string(buf) != "hello" {
		t.Errorf("Read = %q, want hello", buf[:n])
	}

	pos, err := table.Seek(h, 6, vfs.SeekSet)
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if pos != 6 {
		t.Errorf("Seek pos = %d, want 6", pos)
	}

	n, err = table.Read(h, buf)
	if err != nil {
		t.Fatalf("Read after seek: %v", err)
	}
	if string(buf[:n]) != "world" {
		t.Errorf("Read after seek = %q, want world", buf[:n])
	}
}

func TestSeekAdvancesAfterReadWithoutExplicitSeek(t *testing.T) {
	tree := newFileTree(t, []byte("abcdef"))
	table := fd.NewTable()
	h, err := table.Open(tree, "/f.txt", 0)
	if err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 3)
	if _, err := table.Read(h, buf); err != nil {
		t.Fatal(err)
	}
	if _, err := table.Read(h, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "def" {
		t.Errorf("second Read = %q, want def", buf)
	}
}

func TestCloseInvalidatesHandle(t *testing.T) {
	tree := newFileTree(t, []byte("x"))
	table := fd.NewTable()
	h, err := table.Open(tree, "/f.txt", 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := table.Close(h); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := table.Read(h, make([]byte, 1)); err != kerrno.EBADF {
		t.Errorf("Read after Close: err = %v, want EBADF", err)
	}
}

func TestReadUnknownHandle(t *testing.T) {
	table := fd.NewTable()
	if _, err := table.Read(99, make([]byte, 1)); err != kerrno.EBADF {
		t.Errorf("err = %v, want EBADF", err)
	}
}

func TestOpenMissingPath(t *testing.T) {
	tree := vfs.New()
	table := fd.NewTable()
	if _, err := table.Open(tree, "/nope", 0); err != kerrno.ENOENT {
		t.Errorf("err = %v, want ENOENT", err)
	}
}
