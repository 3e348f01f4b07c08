package topo_test

import (
	"testing"
	"time"

	"dripos.dev/kernel/pkg/topo"
)

func TestNewTopologyEnablesAllCPUs(t *testing.T) {
	top := topo.NewTopology(4)
	cpus := top.CPUs()
	if len(cpus) != 4 {
		t.Fatalf("len(CPUs()) = %d, want 4", len(cpus))
	}
	for i, cpu := range cpus {
		if cpu.APICID != uint32(i) {
			t.Errorf("cpu[%d].APICID = %d", i, cpu.APICID)
		}
		if !cpu.Enabled() || !cpu.OnlineCapable() {
			t.Errorf("cpu[%d] not enabled/online-capable", i)
		}
	}
}

func TestSendIPIDeliversToListener(t *testing.T) {
	top := topo.NewTopology(2)
	ch := top.Listen(1)
	top.SendIPI(1, topo.RescheduleVector)

	select {
	case v := <-ch:
		if v != topo.RescheduleVector {
			t.Errorf("received vector %d, want %d", v, topo.RescheduleVector)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for IPI")
	}
}

func TestSendIPIToNonListenerIsNoOp(t *testing.T) {
	top := topo.NewTopology(1)
	top.SendIPI(99, topo.RescheduleVector) // must not panic or block
}

func TestBroadcastRescheduleSkipsSelf(t *testing.T) {
	top := topo.NewTopology(3)
	chs := make([]<-chan int, 3)
	for i := uint32(0); i < 3; i++ {
		chs[i] = top.Listen(i)
	}

	top.BroadcastReschedule(0)

	select {
	case <-chs[0]:
		t.Errorf("excepted CPU 0 should not receive a reschedule IPI")
	default:
	}
	for i := 1; i < 3; i++ {
		select {
		case v := <-chs[i]:
			if v != topo.RescheduleVector {
				t.Errorf("cpu %d got vector %d", i, v)
			}
		case <-time.After(time.Second):
			t.Errorf("cpu %d never received reschedule IPI", i)
		}
	}
}
