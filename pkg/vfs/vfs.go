// Package vfs implements the virtual filesystem tree of spec.md §3 and
// §4.3: named hierarchical nodes with a per-node operation vtable,
// mountpoint attribution, and path resolution that defers to a
// registered filesystem driver's node-generator on a lookup miss.
//
// The mountpoint registry mirrors perkeep's pkg/blobserver registry
// (RegisterStorageConstructor / CreateStorage): a string-keyed map
// guarded by a lock, here one map and lock per Tree, mapping an
// absolute mount prefix to the NodeGenerator that can materialize
// nodes beneath it, rather than the source's void*-plus-function-
// pointer pair (spec.md §9).
package vfs

import (
	"path"
	"strings"
	"sync"

	"dripos.dev/kernel/pkg/kerrno"
)

// MaxNameLen is the longest a single path component may be (spec.md
// §3, §4.3): 201 bytes.
const MaxNameLen = 201

// OpenFlags are the flags captured at open time (spec.md §3's "FD
// table entry").
type OpenFlags int

// Whence values for Seek (spec.md §4.2).
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

// Ops is the five-method operation vtable of spec.md §3/§4.3. It
// replaces the source's vfs_ops_t struct of function pointers with a
// plain Go interface (spec.md §9, "C-style vtable structs → interface
// abstraction").
type Ops interface {
	Open(n *Node, flags OpenFlags) error
	Close(n *Node) error
	Read(n *Node, buf []byte, offset uint64) (int, error)
	Write(n *Node, buf []byte, offset uint64) (int, error)
	Seek(n *Node, offset int64, whence int, cur uint64) (uint64, error)
}

// dummyOps is the default vtable: EISDIR on read/write, success on
// open/close/seek. Every node starts with this; a driver overrides
// only what it implements (spec.md §4.3).
type dummyOps struct{}

func (dummyOps) Open(*Node, OpenFlags) error { return nil }
func (dummyOps) Close(*Node) error           { return nil }
func (dummyOps) Read(*Node, []byte, uint64) (int, error) {
	return 0, kerrno.EISDIR
}
func (dummyOps) Write(*Node, []byte, uint64) (int, error) {
	return 0, kerrno.EISDIR
}
func (dummyOps) Seek(_ *Node, offset int64, whence int, cur uint64) (uint64, error) {
	return SeekDefault(offset, whence, cur, 0)
}

// DummyOps is the default (directory-like) vtable shared by the root
// and by any intermediate node created implicitly while resolving a
// deeper path.
var DummyOps Ops = dummyOps{}

// SeekDefault implements the ordinary io.Seeker arithmetic shared by
// every Ops.Seek implementation that knows its own size: SeekSet is
// absolute, SeekCur is relative to cur, SeekEnd is relative to size.
// This completes the source's undocumented whence values beyond SET
// (spec.md §9; decision recorded in DESIGN.md).
func SeekDefault(offset int64, whence int, cur, size uint64) (uint64, error) {
	var base int64
	switch whence {
	case SeekSet:
		base = 0
	case SeekCur:
		base = int64(cur)
	case SeekEnd:
		base = int64(size)
	default:
		return 0, kerrno.EINVAL
	}
	n := base + offset
	if n < 0 {
		return 0, kerrno.EINVAL
	}
	return uint64(n), nil
}

// Node is a VFS node (spec.md §3).
type Node struct {
	mu sync.Mutex

	UNID   uint64
	Name   string
	Ops    Ops
	Parent *Node
	children []*Node

	// Mount is the nearest ancestor that registered a filesystem; the
	// root belongs to no mountpoint.
	Mount *Node

	// Private is scratch state a filesystem driver attaches to a node
	// it materializes (e.g. an echfs directory-entry descriptor).
	Private any
}

func (n *Node) addChild(c *Node) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.children = append(n.children, c)
}

// Children returns a snapshot of n's children.
func (n *Node) Children() []*Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

func (n *Node) childNamed(name string) *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, c := range n.children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// NodeGenerator materializes a node below a mountpoint on a lookup
// miss, given the path relative to that mount's root. It returns
// kerrno.ENOENT if nothing exists at that path.
type NodeGenerator interface {
	Lookup(mount *Node, relPath string) (*Node, error)
}

type mountEntry struct {
	node *Node
	gen  NodeGenerator
}

// Tree is a VFS tree with its own mountpoint registry. Unlike
// perkeep's package-level blobserver registry, mounts are per-Tree:
// nothing about path resolution needs to be process-global.
type Tree struct {
	mu     sync.Mutex
	nextID uint64

	Root *Node

	mounts map[string]*mountEntry // absolute prefix -> entry
}

// New returns a Tree with a bare root node.
func New() *Tree {
	t := &Tree{mounts: make(map[string]*mountEntry)}
	t.Root = t.newNode("/", DummyOps, nil)
	return t
}

func (t *Tree) newNode(name string, ops Ops, parent *Node) *Node {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.mu.Unlock()

	n := &Node{UNID: id, Name: name, Ops: ops, Parent: parent}
	if parent != nil {
		n.Mount = parent.Mount
		parent.addChild(n)
	}
	return n
}

// RegisterMount attaches a NodeGenerator to the node at prefix,
// creating any missing intermediate directories along the way. Future
// lookups under prefix that miss the in-memory tree are delegated to
// gen.
func (t *Tree) RegisterMount(prefix string, gen NodeGenerator) (*Node, error) {
	mnt, err := t.CreateMissingNodesFromPath(prefix, DummyOps)
	if err != nil {
		return nil, err
	}
	mnt.Mount = mnt // a mountpoint belongs to itself

	t.mu.Lock()
	t.mounts[prefix] = &mountEntry{node: mnt, gen: gen}
	t.mu.Unlock()
	return mnt, nil
}

func splitPath(p string) ([]string, error) {
	if p == "" || p[0] != '/' {
		return nil, kerrno.ENOENT
	}
	clean := path.Clean(p)
	if clean == "/" {
		return nil, nil
	}
	parts := strings.Split(strings.TrimPrefix(clean, "/"), "/")
	for _, c := range parts {
		if len(c) > MaxNameLen {
			return nil, kerrno.ENAMETOOLONG
		}
	}
	return parts, nil
}

// Resolve walks path from the root, consulting the nearest ancestor
// mountpoint's node-generator on a miss (spec.md §4.3).
func (t *Tree) Resolve(p string) (*Node, error) {
	parts, err := splitPath(p)
	if err != nil {
		return nil, err
	}
	cur := t.Root
	for i, part := range parts {
		if next := cur.childNamed(part); next != nil {
			cur = next
			continue
		}
		// Miss: consult the nearest ancestor mountpoint.
		t.mu.Lock()
		var entry *mountEntry
		var mountPrefix string
		for prefix, e := range t.mounts {
			if e.node == cur.Mount || e.node == cur {
				if entry == nil || len(prefix) > len(mountPrefix) {
					entry, mountPrefix = e, prefix
				}
			}
		}
		t.mu.Unlock()
		if entry == nil {
			return nil, kerrno.ENOENT
		}
		rel := path.Join(append([]string{}, parts[i:]...)...)
		n, err := entry.gen.Lookup(entry.node, rel)
		if err != nil {
			return nil, err
		}
		return n, nil
	}
	return cur, nil
}

// CreateMissingNodesFromPath walks path from the root, creating any
// missing intermediate nodes with DummyOps and finally the leaf node
// with ops, attributing every new node to the nearest mount ancestor
// found along the way (spec.md §4.3).
func (t *Tree) CreateMissingNodesFromPath(p string, ops Ops) (*Node, error) {
	parts, err := splitPath(p)
	if err != nil {
		return nil, err
	}
	cur := t.Root
	for i, part := range parts {
		if next := cur.childNamed(part); next != nil {
			cur = next
			continue
		}
		nodeOps := Ops(DummyOps)
		if i == len(parts)-1 {
			nodeOps = ops
		}
		cur = t.newNode(part, nodeOps, cur)
	}
	return cur, nil
}

// GetFullPath reconstructs n's absolute path by walking parent
// pointers to the root (spec.md §4.3).
func GetFullPath(n *Node) string {
	if n.Parent == nil {
		return "/"
	}
	var parts []string
	for cur := n; cur.Parent != nil; cur = cur.Parent {
		parts = append([]string{cur.Name}, parts...)
	}
	return "/" + strings.Join(parts, "/")
}

// Open dispatches through n's Open op (spec.md §4.3's vfs_open).
func (t *Tree) Open(p string, flags OpenFlags) (*Node, error) {
	n, err := t.Resolve(p)
	if err != nil {
		return nil, err
	}
	if err := n.Ops.Open(n, flags); err != nil {
		return nil, err
	}
	return n, nil
}
