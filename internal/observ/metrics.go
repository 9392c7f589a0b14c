package observ

import (
	"sort"
	"strings"
	"sync"
)

// In-process metrics registry. Counters and gauges keyed by name plus a
// canonical label string, snapshot-able for tests and the run summary.

type registry struct {
	mu       sync.Mutex
	counters map[string]map[string]int64
	gauges   map[string]map[string]float64
}

var reg = &registry{
	counters: map[string]map[string]int64{},
	gauges:   map[string]map[string]float64{},
}

// canonLabels renders a label map with stable key order.
func canonLabels(lbl map[string]string) string {
	if len(lbl) == 0 {
		return ""
	}
	keys := make([]string, 0, len(lbl))
	for k := range lbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(lbl[k])
	}
	return b.String()
}

func IncCounter(name string, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.counters[name]
	if !ok {
		m = map[string]int64{}
		reg.counters[name] = m
	}
	m[canonLabels(labels)]++
}

func SetGauge(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.gauges[name]
	if !ok {
		m = map[string]float64{}
		reg.gauges[name] = m
	}
	m[canonLabels(labels)] = value
}

// CounterValue returns the current value of a counter series.
func CounterValue(name string, labels map[string]string) int64 {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.counters[name][canonLabels(labels)]
}

// GaugeValue returns the current value of a gauge series.
func GaugeValue(name string, labels map[string]string) float64 {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.gauges[name][canonLabels(labels)]
}

// Snapshot returns a copy of all counters, keyed "name{labels}".
func Snapshot() map[string]int64 {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out := map[string]int64{}
	for name, series := range reg.counters {
		for lbl, v := range series {
			key := name
			if lbl != "" {
				key = name + "{" + lbl + "}"
			}
			out[key] = v
		}
	}
	return out
}

// Reset clears the registry. Test helper.
func Reset() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.counters = map[string]map[string]int64{}
	reg.gauges = map[string]map[string]float64{}
}
