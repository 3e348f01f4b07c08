// Package procfs exposes live thread state as a synthetic read-only
// VFS subtree, /proc/<tid>/status, formatted afresh on every Read
// and Seek rather than stored anywhere. Grounded on pkg/fs/recent.go and pkg/fs/roots.go's
// approach of materializing nodes from in-memory program state.
package procfs

import (
	"fmt"
	"strconv"

	"dripos.dev/kernel/pkg/arena"
	"dripos.dev/kernel/pkg/kerrno"
	"dripos.dev/kernel/pkg/task"
	"dripos.dev/kernel/pkg/vfs"
)

func splitTIDLeaf(relPath string) (tid, leaf string, err error) {
	for i := 0; i < len(relPath); i++ {
		if relPath[i] == '/' {
			return relPath[:i], relPath[i+1:], nil
		}
	}
	return "", "", kerrno.ENOENT
}

type statusOps struct {
	reg *task.Registry
	tid arena.ID
}

func (statusOps) Open(*vfs.Node, vfs.OpenFlags) error { return nil }
func (statusOps) Close(*vfs.Node) error               { return nil }
func (statusOps) Write(*vfs.Node, []byte, uint64) (int, error) {
	return 0, kerrno.EINVAL
}

func (s statusOps) Read(_ *vfs.Node, buf []byte, offset uint64) (int, error) {
	body, err := s.render()
	if err != nil {
		return 0, err
	}
	if offset >= uint64(len(body)) {
		return 0, nil
	}
	return copy(buf, body[offset:]), nil
}

func (s statusOps) Seek(_ *vfs.Node, offset int64, whence int, cur uint64) (uint64, error) {
	body, err := s.render()
	if err != nil {
		return 0, err
	}
	return vfs.SeekDefault(offset, whence, cur, uint64(len(body)))
}

func (s statusOps) render() ([]byte, error) {
	ref, ok := s.reg.Threads.Get(s.tid)
	if !ok {
		return nil, kerrno.ENOENT
	}
	defer ref.Release()
	t := ref.Value()
	return []byte(fmt.Sprintf("tid:\t%d\nname:\t%s\nstate:\t%s\nring:\t%d\nticks:\t%d\nerrno:\t%d\n",
		t.TID.Pack(), t.Name, t.State, t.Ring, t.TotalTicks, t.TLB.Errno)), nil
}

// generator is the NodeGenerator registered at /proc: it materializes
// /proc/<tid>/status on first lookup from the live thread registry.
type generator struct {
	reg  *task.Registry
	tree *vfs.Tree
}

func (g *generator) Lookup(mount *vfs.Node, relPath string) (*vfs.Node, error) {
	tidStr, leaf, err := splitTIDLeaf(relPath)
	if err != nil {
		return nil, err
	}
	if leaf != "status" {
		return nil, kerrno.ENOENT
	}
	tidN, err := strconv.ParseUint(tidStr, 10, 64)
	if err != nil {
		return nil, kerrno.ENOENT
	}
	tid := arena.Unpack(tidN)
	if !g.reg.Threads.Live(tid) {
		return nil, kerrno.ENOENT
	}
	return g.tree.CreateMissingNodesFromPath("/proc/"+relPath, statusOps{reg: g.reg, tid: tid})
}

// Mount registers the /proc subtree on tree, backed by reg.
func Mount(tree *vfs.Tree, reg *task.Registry) error {
	_, err := tree.RegisterMount("/proc", &generator{reg: reg, tree: tree})
	return err
}
