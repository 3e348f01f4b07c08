// Package topo models the APIC/IOAPIC contract of spec.md §6: a
// cpu_vector of processor records and the send_ipi/get_lapic_id seams
// the scheduler drives. This runtime has no real interrupt
// controller, so SendIPI fans a signal out over a channel per
// registered listener — the same subscriber-fanout shape as
// perkeep's pkg/blobserver/blobhub.go uses for blob-upload
// notifications, generalized here from blob refs to a reschedule
// vector.
package topo

import "sync"

// CPUFlags mirrors the flag bits of spec.md §6's cpu_vector entries.
type CPUFlags uint8

const (
	FlagEnabled       CPUFlags = 1 << 0
	FlagOnlineCapable CPUFlags = 1 << 1
)

// CPU is one processor record in the topology.
type CPU struct {
	APICID uint32
	Flags  CPUFlags
}

func (c CPU) Enabled() bool       { return c.Flags&FlagEnabled != 0 }
func (c CPU) OnlineCapable() bool { return c.Flags&FlagOnlineCapable != 0 }

// RescheduleVector is the IPI vector used for cross-core rescheduling
// (spec.md §4.6: "Vector 253 on APs invokes schedule_ap").
const RescheduleVector = 253

// Topology is the in-process stand-in for the real APIC driver.
// send_ipi/get_lapic_id are consumed-only per spec.md §6; this default
// implementation lets sched exercise the full broadcast-then-
// reschedule-locally sequence without real hardware.
type Topology struct {
	mu        sync.Mutex
	cpus      []CPU
	listeners map[uint32]chan int // apicID -> vector channel
}

// NewTopology builds a topology with n enabled, online-capable CPUs,
// APIC ids 0..n-1, BSP = apic id 0.
func NewTopology(n int) *Topology {
	t := &Topology{listeners: make(map[uint32]chan int)}
	for i := 0; i < n; i++ {
		t.cpus = append(t.cpus, CPU{APICID: uint32(i), Flags: FlagEnabled | FlagOnlineCapable})
	}
	return t
}

// CPUs returns the processor records (spec.md §6's cpu_vector).
func (t *Topology) CPUs() []CPU {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]CPU, len(t.cpus))
	copy(out, t.cpus)
	return out
}

// Listen registers a vector channel for apicID, returning it. The
// scheduler's per-core goroutine reads from this channel to learn
// when it has been sent an IPI.
func (t *Topology) Listen(apicID uint32) <-chan int {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan int, 8)
	t.listeners[apicID] = ch
	return ch
}

// SendIPI delivers vector to apicID's listener, non-blocking: a core
// that is not yet listening (or whose queue is full) simply misses
// this IPI, matching real hardware's fire-and-forget semantics.
func (t *Topology) SendIPI(apicID uint32, vector int) {
	t.mu.Lock()
	ch, ok := t.listeners[apicID]
	t.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- vector:
	default:
	}
}

// BroadcastReschedule sends the reschedule IPI to every online CPU
// except exceptAPICID (spec.md §4.6: "broadcasts a rescheduling IPI to
// all other online application processors").
func (t *Topology) BroadcastReschedule(exceptAPICID uint32) {
	for _, cpu := range t.CPUs() {
		if cpu.APICID == exceptAPICID || !cpu.Enabled() {
			continue
		}
		t.SendIPI(cpu.APICID, RescheduleVector)
	}
}
