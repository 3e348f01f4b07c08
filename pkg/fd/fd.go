// Package fd implements the per-process file-descriptor table of
// spec.md §4.2: a numeric handle mapping to (node, seek offset, open
// mode), with the smallest-unused-handle allocation policy and the
// negative-errno return convention of spec.md §7.
package fd

import (
	"sync"

	"dripos.dev/kernel/pkg/kerrno"
	"dripos.dev/kernel/pkg/vfs"
)

// Entry is one live file descriptor (spec.md §3's "FD table entry").
type Entry struct {
	Node  *vfs.Node
	Seek  uint64
	Flags vfs.OpenFlags
}

// Table is a process's FD table. Descriptors 0-2 are reserved (stdin/
// stdout/stderr analogues) so the first descriptor handed out by Open
// is 3, matching spec.md §8 scenario 1's "FD >= 3".
type Table struct {
	mu      sync.Mutex
	entries map[int]*Entry
}

const firstFD = 3

// NewTable returns an empty FD table.
func NewTable() *Table {
	return &Table{entries: make(map[int]*Entry)}
}

// Open resolves path through tree, allocates the smallest unused
// handle, and stores an Entry for it.
func (t *Table) Open(tree *vfs.Tree, path string, flags vfs.OpenFlags) (int, error) {
	n, err := tree.Open(path, flags)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	handle := firstFD
	for {
		if _, used := t.entries[handle]; !used {
			break
		}
		handle++
	}
	t.entries[handle] = &Entry{Node: n, Flags: flags}
	return handle, nil
}

func (t *Table) lookup(handle int) (*Entry, error) {
	t.mu.Lock()
	e, ok := t.entries[handle]
	t.mu.Unlock()
	if !ok {
		return nil, kerrno.EBADF
	}
	return e, nil
}

// Close removes handle's entry and invokes the node's Close op.
func (t *Table) Close(handle int) error {
	t.mu.Lock()
	e, ok := t.entries[handle]
	if ok {
		delete(t.entries, handle)
	}
	t.mu.Unlock()
	if !ok {
		return kerrno.EBADF
	}
	return e.Node.Ops.Close(e.Node)
}

// Read reads up to len(buf) bytes at the current seek offset,
// advancing it by the number of bytes actually transferred.
func (t *Table) Read(handle int, buf []byte) (int, error) {
	e, err := t.lookup(handle)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	off := e.Seek
	t.mu.Unlock()

	n, err := e.Node.Ops.Read(e.Node, buf, off)
	if err != nil {
		return n, err
	}
	t.mu.Lock()
	e.Seek += uint64(n)
	t.mu.Unlock()
	return n, nil
}

// Write writes len(buf) bytes at the current seek offset, advancing it
// by the number of bytes actually transferred.
func (t *Table) Write(handle int, buf []byte) (int, error) {
	e, err := t.lookup(handle)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	off := e.Seek
	t.mu.Unlock()

	n, err := e.Node.Ops.Write(e.Node, buf, off)
	if err != nil {
		return n, err
	}
	t.mu.Lock()
	e.Seek += uint64(n)
	t.mu.Unlock()
	return n, nil
}

// Seek repositions handle's offset. Only SeekSet is required by
// spec.md; SeekCur/SeekEnd are implemented per DESIGN.md's resolution
// of the source's open question.
func (t *Table) Seek(handle int, offset int64, whence int) (uint64, error) {
	e, err := t.lookup(handle)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	cur := e.Seek
	t.mu.Unlock()

	newOff, err := e.Node.Ops.Seek(e.Node, offset, whence, cur)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	e.Seek = newOff
	t.mu.Unlock()
	return newOff, nil
}
