package syscall_test

import (
	"testing"

	"dripos.dev/kernel/pkg/fd"
	"dripos.dev/kernel/pkg/kerrno"
	sc "dripos.dev/kernel/pkg/syscall"
	"dripos.dev/kernel/pkg/task"
	"dripos.dev/kernel/pkg/vfs"
	"dripos.dev/kernel/pkg/vmm"
)

type constOps struct{ data []byte }

func (constOps) Open(*vfs.Node, vfs.OpenFlags) error { return nil }
func (constOps) Close(*vfs.Node) error               { return nil }
func (o constOps) Read(_ *vfs.Node, buf []byte, offset uint64) (int, error) {
	if offset >= uint64(len(o.data)) {
		return 0, nil
	}
	return copy(buf, o.data[offset:]), nil
}
func (constOps) Write(*vfs.Node, []byte, uint64) (int, error) { return 0, kerrno.EINVAL }
func (o constOps) Seek(_ *vfs.Node, offset int64, whence int, cur uint64) (uint64, error) {
	return vfs.SeekDefault(offset, whence, cur, uint64(len(o.data)))
}

// newGatewayWithFile builds a gateway over a single-file VFS tree and a
// live calling thread, so tests can exercise the errno-mirroring path
// as well as the bare return value.
func newGatewayWithFile(t *testing.T, content []byte) (*sc.Gateway, uintptr, *task.Registry, task.ID) {
	t.Helper()
	tree := vfs.New()
	if _, err := tree.CreateMissingNodesFromPath("/f.txt", constOps{data: content}); err != nil {
		t.Fatal(err)
	}
	as := vmm.NewFlatSpace()
	pathVirt := uintptr(0x1000)
	if err := as.Map(pathVirt, 64, vmm.Present); err != nil {
		t.Fatal(err)
	}
	reg := task.NewRegistry()
	_, tid := reg.NewKernelProcess("caller", 0)
	g := sc.NewGateway(tree, fd.NewTable(), as, reg.Threads)
	g.MapPath(pathVirt, "/f.txt")
	return g, pathVirt, reg, tid
}

func errnoOf(t *testing.T, reg *task.Registry, tid task.ID) int64 {
	t.Helper()
	ref, ok := reg.Threads.Get(tid)
	if !ok {
		t.Fatal("calling thread not found")
	}
	defer ref.Release()
	return ref.Value().TLB.Errno
}

func TestOpenReadCloseRoundTrip(t *testing.T) {
	g, pathVirt, _, tid := newGatewayWithFile(t, []byte("hello, kernel"))

	fdRet := g.Dispatch(tid, sc.SysOpen, uint64(pathVirt), 0, 0)
	if fdRet < 0 {
		t.Fatalf("open returned %d", fdRet)
	}
	handle := uint64(fdRet)

	bufVirt := uintptr(0x2000)
	buf := make([]byte, 5)
	// The gateway's own AddrSpace (not a fresh one) must have this
	// range mapped for the pointer check to pass.
	g.AddrSpace.(*vmm.FlatSpace).Map(bufVirt, len(buf), vmm.Present|vmm.Write)
	g.MapBuffer(bufVirt, buf)

	n := g.Dispatch(tid, sc.SysRead, handle, uint64(bufVirt), uint64(len(buf)))
	if n != 5 {
		t.Fatalf("read returned %d, want 5", n)
	}
	if string(buf) != "hello" {
		t.Errorf("buf = %q, want hello", buf)
	}

	if rc := g.Dispatch(tid, sc.SysClose, handle, 0, 0); rc != 0 {
		t.Errorf("close returned %d, want 0", rc)
	}

	// Reading a closed fd must report -EBADF.
	if rc := g.Dispatch(tid, sc.SysRead, handle, uint64(bufVirt), uint64(len(buf))); rc != kerrno.EBADF.Neg() {
		t.Errorf("read after close = %d, want %d", rc, kerrno.EBADF.Neg())
	}
}

func TestOpenUnmappedPathReturnsEFAULT(t *testing.T) {
	g, _, _, tid := newGatewayWithFile(t, nil)
	unmapped := uintptr(0x9999)
	if rc := g.Dispatch(tid, sc.SysOpen, uint64(unmapped), 0, 0); rc != kerrno.EFAULT.Neg() {
		t.Errorf("open with unmapped path = %d, want %d", rc, kerrno.EFAULT.Neg())
	}
}

func TestReadWithUnmappedBufferReturnsEFAULT(t *testing.T) {
	g, pathVirt, _, tid := newGatewayWithFile(t, []byte("data"))
	fdRet := g.Dispatch(tid, sc.SysOpen, uint64(pathVirt), 0, 0)
	if fdRet < 0 {
		t.Fatalf("open returned %d", fdRet)
	}
	rc := g.Dispatch(tid, sc.SysRead, uint64(fdRet), 0xDEADBEEF, 4)
	if rc != kerrno.EFAULT.Neg() {
		t.Errorf("read with unmapped buffer = %d, want %d", rc, kerrno.EFAULT.Neg())
	}
}

func TestSeekAndReadAfterSeek(t *testing.T) {
	g, pathVirt, _, tid := newGatewayWithFile(t, []byte("0123456789"))
	fdRet := g.Dispatch(tid, sc.SysOpen, uint64(pathVirt), 0, 0)
	handle := uint64(fdRet)

	pos := g.Dispatch(tid, sc.SysSeek, handle, 5, vfs.SeekSet)
	if pos != 5 {
		t.Fatalf("seek returned %d, want 5", pos)
	}

	bufVirt := uintptr(0x3000)
	buf := make([]byte, 3)
	g.AddrSpace.(*vmm.FlatSpace).Map(bufVirt, len(buf), vmm.Present|vmm.Write)
	g.MapBuffer(bufVirt, buf)

	n := g.Dispatch(tid, sc.SysRead, handle, uint64(bufVirt), uint64(len(buf)))
	if n != 3 || string(buf) != "567" {
		t.Errorf("read after seek = n=%d buf=%q, want 3 567", n, buf)
	}
}

func TestUnrecognizedSyscallNumber(t *testing.T) {
	g, _, _, tid := newGatewayWithFile(t, nil)
	if rc := g.Dispatch(tid, 999, 0, 0, 0); rc != kerrno.EINVAL.Neg() {
		t.Errorf("unrecognized syscall = %d, want %d", rc, kerrno.EINVAL.Neg())
	}
}

// TestNegativeReturnMirrorsThreadLocalErrno exercises spec.md §8.4's
// scenario directly: opening a missing path must set the caller's
// thread-local errno to ENOENT, not just return -ENOENT in rax.
func TestNegativeReturnMirrorsThreadLocalErrno(t *testing.T) {
	g, _, reg, tid := newGatewayWithFile(t, nil)

	if before := errnoOf(t, reg, tid); before != 0 {
		t.Fatalf("errno before any syscall = %d, want 0", before)
	}

	unmapped := uintptr(0x9999)
	if rc := g.Dispatch(tid, sc.SysOpen, uint64(unmapped), 0, 0); rc != kerrno.EFAULT.Neg() {
		t.Fatalf("open with unmapped path = %d, want %d", rc, kerrno.EFAULT.Neg())
	}
	if got := errnoOf(t, reg, tid); got != int64(kerrno.EFAULT) {
		t.Errorf("thread-local errno = %d, want %d (EFAULT)", got, kerrno.EFAULT)
	}

	// A later ENOENT (open with a registered-but-nonexistent path) must
	// overwrite the previous mirrored errno, not accumulate.
	pathVirt := uintptr(0x4000)
	g.AddrSpace.(*vmm.FlatSpace).Map(pathVirt, 64, vmm.Present)
	g.MapPath(pathVirt, "/nope")
	if rc := g.Dispatch(tid, sc.SysOpen, uint64(pathVirt), 0, 0); rc != kerrno.ENOENT.Neg() {
		t.Fatalf("open of missing file = %d, want %d", rc, kerrno.ENOENT.Neg())
	}
	if got := errnoOf(t, reg, tid); got != int64(kerrno.ENOENT) {
		t.Errorf("thread-local errno = %d, want %d (ENOENT)", got, kerrno.ENOENT)
	}

	// A successful syscall must not perturb the mirrored errno.
	fdRet := g.Dispatch(tid, sc.SysOpen, uint64(0x1000), 0, 0)
	if fdRet < 0 {
		t.Fatalf("open of existing file returned %d", fdRet)
	}
	if got := errnoOf(t, reg, tid); got != int64(kerrno.ENOENT) {
		t.Errorf("successful syscall perturbed errno: got %d, want unchanged %d", got, kerrno.ENOENT)
	}
}
