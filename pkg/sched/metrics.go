package sched

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics exports per-core scheduler activity, grounded on the
// prometheus client the broader retrieval pack already carries as a
// dependency; promoted here from indirect to directly wired.
type metrics struct {
	switches *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		switches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dripos",
			Subsystem: "sched",
			Name:      "context_switches_total",
			Help:      "Number of context switches performed on a core.",
		}, []string{"cpu"}),
	}
	return m
}

func (m *metrics) recordSwitch(cpuIndex uint32) {
	m.switches.WithLabelValues(strconv.FormatUint(uint64(cpuIndex), 10)).Inc()
}

// Collectors returns the collectors to register with a
// prometheus.Registry (cmd/driposd does this at boot).
func (s *Scheduler) Collectors() []prometheus.Collector {
	return []prometheus.Collector{s.m.switches}
}
