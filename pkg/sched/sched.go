// Package sched implements the preemptive scheduler of spec.md §4.6
// and the SMP wiring of §5: a global run-queue shared across cores,
// picked round-robin under one scheduler lock, with per-core idle
// tasks and TSC-style accounting. Grounded on perkeep's blobserver
// registry style for the thread/process tables it drives (package
// task) and, for cross-core notification, on the same
// subscriber-fanout shape pkg/blobserver/blobhub.go uses for blob
// upload events, here repurposed as the IPI fabric in package topo.
package sched

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"dripos.dev/kernel/pkg/arena"
	"dripos.dev/kernel/pkg/task"
	"dripos.dev/kernel/pkg/topo"
	"dripos.dev/kernel/pkg/vmm"
)

// CoreLocals is the Go analogue of the GS-base-addressed cpu_locals
// block of spec.md §5: one per configured core, holding the currently
// running thread and idle-TSC bookkeeping.
type CoreLocals struct {
	CPUIndex uint32

	hasCurrent    bool
	currentThread arena.ID
	idleTID       arena.ID

	idleStartTSC uint64
	idleTSCCount uint64
	totalTSC     uint64

	addrSpace vmm.AddressSpace
}

// tscCounter stands in for RDTSC: a monotonically increasing counter
// advanced once per recorded event, since this runtime has no real
// cycle counter to read.
var tscCounter uint64

func readTSC() uint64 { return atomic.AddUint64(&tscCounter, 1) }

// Scheduler owns the global scheduler lock (spec.md §5: "the
// scheduler lock is a single global spinlock") and drives context
// switches across every configured core.
type Scheduler struct {
	mu sync.Mutex // the global scheduler lock

	reg   *task.Registry
	topo  *topo.Topology
	cores []*CoreLocals

	tick    uint64
	enabled bool

	m *metrics
}

// New builds a scheduler over reg's thread/process tables and top's
// CPU topology, with one idle task created per CPU in top (spec.md
// §4.6: "idle task ... created per-CPU at init").
func New(reg *task.Registry, top *topo.Topology) *Scheduler {
	s := &Scheduler{
		reg:     reg,
		topo:    top,
		enabled: true,
		m:       newMetrics(),
	}
	for _, cpu := range top.CPUs() {
		core := &CoreLocals{CPUIndex: cpu.APICID, addrSpace: vmm.NewFlatSpace()}
		_, idleTID := reg.NewKernelProcess("idle", 0)
		ref, ok := reg.Threads.Get(idleTID)
		if ok {
			ref.Value().State = task.Blocked
			ref.Release()
		}
		core.idleTID = idleTID
		s.cores = append(s.cores, core)
	}
	return s
}

// Enable turns scheduling on or off; Tick is a no-op while disabled.
func (s *Scheduler) Enable(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = on
}

// Tick is the timer entry point (spec.md §4.6): every second tick,
// while scheduling is enabled, the BSP broadcasts a reschedule IPI to
// every other online AP and reschedules locally.
func (s *Scheduler) Tick(frame *task.Frame) {
	s.mu.Lock()
	s.tick++
	fire := s.enabled && s.tick%2 == 0
	s.mu.Unlock()
	if !fire {
		return
	}
	s.scheduleBSP(frame)
}

func (s *Scheduler) scheduleBSP(frame *task.Frame) {
	bsp := s.topo.CPUs()[0]
	s.topo.BroadcastReschedule(bsp.APICID)
	s.contextSwitch(0, frame)
}

// RunAP runs one application processor's event loop: it blocks on its
// IPI channel and reschedules on RescheduleVector, per spec.md §4.6
// ("Vector 253 on APs invokes schedule_ap ... without re-broadcasting").
func (s *Scheduler) RunAP(ctx context.Context, coreIdx int, frame *task.Frame) error {
	cpu := s.topo.CPUs()[coreIdx]
	ch := s.topo.Listen(cpu.APICID)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case vector := <-ch:
			if vector != topo.RescheduleVector {
				continue
			}
			s.contextSwitch(coreIdx, frame)
		}
	}
}

// RunCores launches every configured AP's event loop under an
// errgroup, propagating the first fatal error and cancelling the
// others (spec.md §7: a ring-0 fault ends the owning process;
// surfaced here as the loop's return error). Core 0 (the BSP) is
// driven by the caller's own timer, not by this loop.
func (s *Scheduler) RunCores(ctx context.Context, frames []*task.Frame) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 1; i < len(s.cores); i++ {
		i := i
		g.Go(func() error {
			if err := s.RunAP(ctx, i, frames[i]); err != nil && err != context.Canceled {
				log.Printf("sched: core %d exited: %v", i, err)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// contextSwitch implements the four-step sequence of spec.md §4.6
// under the global scheduler lock.
func (s *Scheduler) contextSwitch(coreIdx int, frame *task.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	core := s.cores[coreIdx]

	// Step 1: save the outgoing thread, if any and not idle.
	if core.hasCurrent && core.currentThread != core.idleTID {
		if ref, ok := s.reg.Threads.Get(core.currentThread); ok {
			t := ref.Value()
			t.Frame = *frame
			t.AddrSpace = uintptr(0) // stashed cr3-equivalent; real value lives on core.addrSpace
			if t.State == task.Running {
				t.State = task.Ready
			}
			ref.Release()
		}
		s.reg.Threads.Unref(core.currentThread)
	} else if core.hasCurrent && core.currentThread == core.idleTID {
		end := readTSC()
		core.idleTSCCount += end - core.idleStartTSC
	}

	// Step 2: pick the next thread.
	next, isIdle := s.pickTask(core)

	// Step 3: load the incoming thread and flip it to RUNNING. For a
	// non-idle thread the reference taken here is kept as its
	// self-reference while it runs; step 1 or KillTask drops it.
	if ref, ok := s.reg.Threads.Get(next); ok {
		t := ref.Value()
		*frame = t.Frame
		t.State = task.Running
		t.LastStart = readTSC()
		if isIdle {
			ref.Release()
		}
	}
	core.hasCurrent = true
	core.currentThread = next

	// Step 4: idle accounting.
	if isIdle {
		core.idleStartTSC = readTSC()
	}
	core.totalTSC = readTSC()

	s.m.recordSwitch(core.CPUIndex)
}

// pickTask scans the thread table round-robin starting at
// (current+1) mod N (spec.md §4.6), returning the first READY thread
// found on any CPU, or this core's idle task if none is ready.
func (s *Scheduler) pickTask(core *CoreLocals) (arena.ID, bool) {
	n := s.reg.Threads.Len()
	if n > 0 {
		start := int(core.currentThread.Slot) + 1
		for i := 0; i < n; i++ {
			idx := (start + i) % n
			ref, ok := s.reg.Threads.At(idx)
			if !ok {
				continue
			}
			ready := ref.Value().State == task.Ready
			id := ref.ID()
			ref.Release()
			if ready {
				return id, false
			}
		}
	}
	return core.idleTID, true
}

// KillTask implements spec.md §4.6's kill_task: acquires the
// scheduler lock, and if tid is the current thread on any core,
// releases its self-reference first before marking the slot
// pending-free.
func (s *Scheduler) KillTask(tid arena.ID) bool {
	s.mu.Lock()
	for _, core := range s.cores {
		if core.hasCurrent && core.currentThread == tid {
			s.reg.Threads.Unref(tid)
			core.hasCurrent = false
		}
	}
	s.mu.Unlock()
	return s.reg.KillTask(tid)
}

// KillProcess implements spec.md §4.6's kill_process: kill every
// child thread, then remove the process slot.
func (s *Scheduler) KillProcess(pid arena.ID) bool {
	ref, ok := s.reg.Processes.Get(pid)
	if !ok {
		return false
	}
	children := append([]arena.ID{}, ref.Value().Children...)
	ref.Release()
	s.reg.Processes.Unref(pid)

	for _, tid := range children {
		s.KillTask(tid)
	}
	return s.reg.Processes.Remove(pid)
}

// IdleRatio returns the fraction of recorded TSC ticks core has spent
// idle. It is not exported through Collectors.
func (s *Scheduler) IdleRatio(coreIdx int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	core := s.cores[coreIdx]
	if core.totalTSC == 0 {
		return 0
	}
	return float64(core.idleTSCCount) / float64(core.totalTSC)
}
