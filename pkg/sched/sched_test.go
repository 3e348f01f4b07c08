package sched_test

import (
	"testing"

	"dripos.dev/kernel/pkg/arena"
	"dripos.dev/kernel/pkg/sched"
	"dripos.dev/kernel/pkg/task"
	"dripos.dev/kernel/pkg/topo"
)

func TestTickIsNoOpOnOddCounts(t *testing.T) {
	top := topo.NewTopology(1)
	reg := task.NewRegistry()
	s := sched.New(reg, top)

	var frame task.Frame
	s.Tick(&frame) // tick 1: no-op, per "every second tick"
	if s.IdleRatio(0) != 0 {
		t.Errorf("expected no switch recorded on first tick")
	}
}

func TestTickPicksReadyThreadOverIdle(t *testing.T) {
	top := topo.NewTopology(1)
	reg := task.NewRegistry()
	s := sched.New(reg, top)

	pid, tid := reg.NewKernelProcess("worker", 0x1000)
	_ = pid

	var frame task.Frame
	s.Tick(&frame)
	s.Tick(&frame) // second tick: fires

	ref, ok := reg.Threads.Get(tid)
	if !ok {
		t.Fatal("worker thread not found")
	}
	defer ref.Release()
	if ref.Value().State != task.Running {
		t.Errorf("worker state = %v, want RUNNING", ref.Value().State)
	}
	if frame.RIP != 0x1000 {
		t.Errorf("frame.RIP = %#x, want 0x1000", frame.RIP)
	}
}

func TestKillTaskRunningOnCurrentCPUReleasesSelfRef(t *testing.T) {
	top := topo.NewTopology(1)
	reg := task.NewRegistry()
	s := sched.New(reg, top)

	_, tid := reg.NewKernelProcess("worker", 0x2000)

	var frame task.Frame
	s.Tick(&frame)
	s.Tick(&frame)

	if !s.KillTask(tid) {
		t.Fatal("KillTask returned false")
	}
	if reg.Threads.Live(tid) {
		t.Errorf("tid %d still live after KillTask", tid.Pack())
	}
}

func TestKillProcessKillsAllChildren(t *testing.T) {
	top := topo.NewTopology(1)
	reg := task.NewRegistry()
	s := sched.New(reg, top)

	pid, tid := reg.NewKernelProcess("worker", 0x3000)

	if !s.KillProcess(pid) {
		t.Fatal("KillProcess returned false")
	}
	if reg.Threads.Live(tid) {
		t.Errorf("child tid %d still live after KillProcess", tid.Pack())
	}
	if reg.Processes.Live(pid) {
		t.Errorf("pid %d still live after KillProcess", pid.Pack())
	}
}

func TestPickTaskRoundRobinAcrossMultipleThreads(t *testing.T) {
	top := topo.NewTopology(1)
	reg := task.NewRegistry()
	s := sched.New(reg, top)

	_, tidA := reg.NewKernelProcess("a", 0xA000)
	_, tidB := reg.NewKernelProcess("b", 0xB000)

	var frame task.Frame
	s.Tick(&frame)
	s.Tick(&frame) // picks the first ready thread after idle

	first := frame.RIP
	if first != 0xA000 && first != 0xB000 {
		t.Fatalf("unexpected first pick RIP=%#x", first)
	}

	// Put both threads back to READY so the picker has somewhere to go,
	// then advance another tick; round-robin should still land on one
	// of the two known threads rather than falling back to idle.
	markReady(reg, tidA)
	markReady(reg, tidB)

	s.Tick(&frame)
	s.Tick(&frame)
	if frame.RIP != 0xA000 && frame.RIP != 0xB000 {
		t.Fatalf("unexpected second pick RIP=%#x", frame.RIP)
	}
}

func TestKillTaskStaleGenerationDoesNotKillRecycledSlot(t *testing.T) {
	top := topo.NewTopology(1)
	reg := task.NewRegistry()
	s := sched.New(reg, top)

	_, staleTid := reg.NewKernelProcess("first", 0x1000)
	if !s.KillTask(staleTid) {
		t.Fatal("KillTask on first returned false")
	}

	// A later, unrelated thread may land on the very slot the first
	// one freed, under a new generation.
	var recycledTid arena.ID
	for i := 0; i < 8; i++ {
		_, tid := reg.NewKernelProcess("later", 0x4000)
		if tid.Slot == staleTid.Slot {
			recycledTid = tid
			break
		}
	}
	if recycledTid == (arena.ID{}) {
		t.Skip("slot was not recycled within the attempt budget")
	}

	// Replaying the stale tid must not delete the unrelated thread now
	// occupying the same slot under a new generation.
	if s.KillTask(staleTid) {
		t.Fatal("KillTask succeeded on a stale generation")
	}
	if !reg.Threads.Live(recycledTid) {
		t.Fatal("stale KillTask deleted an unrelated thread sharing the recycled slot")
	}
}

func markReady(reg *task.Registry, tid arena.ID) {
	ref, ok := reg.Threads.Get(tid)
	if !ok {
		return
	}
	ref.Value().State = task.Ready
	ref.Release()
}
