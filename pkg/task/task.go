// Package task holds the thread and process data model of spec.md §3
// and the creation routines of §4.5.
package task

import (
	"errors"

	"dripos.dev/kernel/pkg/arena"
	"dripos.dev/kernel/pkg/fd"
)

// ID is the arena identifier type used for tids and pids, aliased here
// so callers that only deal with tasks and processes can spell it
// task.ID rather than reaching into package arena directly.
type ID = arena.ID

// ErrNoSuchProcess is returned when AddNewChildThread is given a pid
// that no longer has a live process record; spec.md §7 treats this as
// a logged, non-fatal scheduler-internal failure.
var ErrNoSuchProcess = errors.New("task: no such process")

// State is a thread's position in the run-state machine of spec.md
// §4.6.
type State int

const (
	Ready State = iota
	Running
	Blocked
	Zombie
)

func (s State) String() string {
	switch s {
	case Ready:
		return "READY"
	case Running:
		return "RUNNING"
	case Blocked:
		return "BLOCKED"
	case Zombie:
		return "ZOMBIE"
	default:
		return "UNKNOWN"
	}
}

// Ring is the CPU privilege level a thread runs at.
type Ring uint8

const (
	Ring0 Ring = 0
	Ring3 Ring = 3
)

// Frame is the saved general register frame, in the field order
// called out in spec.md §9: this ordering mirrors the hardware
// interrupt push layout and must be preserved bit-for-bit in any
// reimplementation that wires a real trap stub to it.
type Frame struct {
	R15, R14, R13, R12, R11, R10, R9, R8 uint64
	RBP, RDI, RSI, RDX, RCX, RBX, RAX    uint64
	IntNo, ErrCode                       uint64
	RIP                                  uint64
	CS                                   uint64
	RFlags                               uint64
	RSP                                  uint64
	SS                                   uint64
}

// defaultRFlags has IF (bit 9) set and the reserved bit 1 set, per
// spec.md §4.5.
const defaultRFlags = 0x202

const (
	kernelCS = 0x08
	kernelSS = 0x10
	userCS   = 0x1B
	userSS   = 0x23
)

// ThreadLocalBlock is the thread-local block addressed through the
// FS-base segment (spec.md §3, §5): tid, errno, and a self-pointer so
// user code can reach it via fs:[0]. In this userspace simulation
// "reach via fs:[0]" is simply "hold this pointer"; Self exists only
// to keep the field-for-field shape of the source record.
type ThreadLocalBlock struct {
	TID   arena.ID
	Errno int64
	Self  *ThreadLocalBlock
}

// Task is a thread record (spec.md §3's "Thread record").
type Task struct {
	TID       arena.ID
	PID       arena.ID
	Name      string
	State     State
	Frame     Frame
	AddrSpace uintptr // cr3-equivalent address-space root
	Ring      Ring

	KernelStackTop uint64
	UserStackTop   uint64

	// TSC accounting.
	TotalTicks uint64
	LastStart  uint64
	LastStop   uint64

	TLB *ThreadLocalBlock
}

// Process is a process record (spec.md §3's "Process record").
type Process struct {
	PID       arena.ID
	Name      string
	AddrSpace uintptr
	UID, GID  uint32
	Children  []arena.ID // child tids
	FDs       *fd.Table
}

// Registry owns the thread table and process table (spec.md §3's
// invariant that every live tid/pid equals its key in these tables).
// It is the kernel-level analogue of perkeep's blobserver registry,
// generalized from named constructors to arena-backed id tables.
type Registry struct {
	Threads   *arena.Table[Task]
	Processes *arena.Table[Process]
}

// NewRegistry returns an empty thread/process registry.
func NewRegistry() *Registry {
	return &Registry{
		Threads:   arena.New[Task](),
		Processes: arena.New[Process](),
	}
}

// NewProcess allocates and inserts a process record (spec.md §4.5).
func (r *Registry) NewProcess(name string, addrSpace uintptr) arena.ID {
	pid := r.Processes.Add(Process{Name: name, AddrSpace: addrSpace, FDs: fd.NewTable()})
	ref, _ := r.Processes.Get(pid)
	ref.Value().PID = pid
	ref.Release()
	r.Processes.Unref(pid)
	return pid
}

// CreateThread builds a fresh Task with a default register frame,
// kernel stack, and thread-local block, but does not yet attach it to
// any process or thread table (spec.md §4.5: "create_thread(name,
// entry, rsp, ring) -> Task").
func CreateThread(name string, entry, rsp uint64, ring Ring) *Task {
	const kernelStackSize = 4096
	t := &Task{
		Name:           name,
		State:          Ready,
		Frame:          NewFrame(ring, entry, rsp),
		Ring:           ring,
		KernelStackTop: uint64(kernelStackSize), // simulated: size, not a real address
		UserStackTop:   rsp,
	}
	t.TLB = &ThreadLocalBlock{}
	t.TLB.Self = t.TLB
	return t
}

// AddNewChildThread atomically inserts t into the thread table,
// inherits the parent process's address space, stamps t's tid inside
// the stored slot, and appends the tid to the process's child list
// (spec.md §4.5).
func (r *Registry) AddNewChildThread(t *Task, pid arena.ID) (arena.ID, error) {
	pref, ok := r.Processes.Get(pid)
	if !ok {
		return arena.ID{}, ErrNoSuchProcess
	}
	defer pref.Release()

	proc := pref.Value()
	t.PID = pid
	t.AddrSpace = proc.AddrSpace

	tid := r.Threads.Add(*t)
	tref, _ := r.Threads.Get(tid)
	tref.Value().TID = tid
	tref.Value().TLB.TID = tid
	tref.Release()
	r.Threads.Unref(tid)

	proc.Children = append(proc.Children, tid)
	return tid, nil
}

// NewKernelProcess is the convenience composition of spec.md §4.5: a
// process sharing the kernel address space (addrSpace 0 here — there
// is no real page table in this simulation) with one ring-0 thread
// entered at fn with a fresh TASK_STACK_SIZE stack.
func (r *Registry) NewKernelProcess(name string, entry uint64) (pid, tid arena.ID) {
	const taskStackSize = 16384
	pid = r.NewProcess(name, 0)
	th := CreateThread(name, entry, taskStackSize, Ring0)
	tid, _ = r.AddNewChildThread(th, pid)
	return pid, tid
}

// KillTask marks a thread's slot pending-free (spec.md §4.6's
// kill_task, scheduler-lock handling lives in package sched), and
// scrubs tid out of its parent process's child list so a later
// kill_process never replays a freed tid through Remove again.
func (r *Registry) KillTask(tid arena.ID) bool {
	var pid arena.ID
	if tref, ok := r.Threads.Get(tid); ok {
		pid = tref.Value().PID
		tref.Release()
	}

	if !r.Threads.Remove(tid) {
		return false
	}

	if pref, ok := r.Processes.Get(pid); ok {
		proc := pref.Value()
		proc.Children = removeID(proc.Children, tid)
		pref.Release()
	}
	return true
}

// removeID returns ids with every exact occurrence of target filtered
// out, preserving order.
func removeID(ids []arena.ID, target arena.ID) []arena.ID {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// KillProcess kills every child thread, then removes the process slot
// (spec.md §4.6).
func (r *Registry) KillProcess(pid arena.ID) bool {
	pref, ok := r.Processes.Get(pid)
	if !ok {
		return false
	}
	children := append([]arena.ID{}, pref.Value().Children...)
	pref.Release()

	for _, tid := range children {
		r.KillTask(tid)
	}
	return r.Processes.Remove(pid)
}

// NewFrame builds the default register frame for a fresh thread per
// spec.md §4.5: selectors by ring, rflags with IF set, rip/rsp from
// the caller, cr3 to be overwritten at child-attach.
func NewFrame(ring Ring, entry, rsp uint64) Frame {
	f := Frame{RIP: entry, RSP: rsp, RFlags: defaultRFlags}
	if ring == Ring0 {
		f.CS, f.SS = kernelCS, kernelSS
	} else {
		f.CS, f.SS = userCS, userSS
	}
	return f
}
