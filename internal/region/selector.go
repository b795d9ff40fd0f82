// Package region maps a caller's coarse geographic location to the
// lowest-latency provisioning region. The latency table is read-mostly
// shared state, replaced atomically so a reload never exposes a
// half-updated table.
package region

import (
	"fmt"
	"sync/atomic"
)

// Table holds estimated latency in milliseconds from each geo hint to
// each candidate region, plus a fixed preference order used to break
// ties deterministically.
type Table struct {
	// LatencyMS[geo][region] = estimated milliseconds.
	LatencyMS map[string]map[string]int

	// Preference lists every candidate region, most preferred first.
	Preference []string
}

type Selector struct {
	table atomic.Pointer[Table]
}

func NewSelector(t *Table) *Selector {
	s := &Selector{}
	s.table.Store(t)
	return s
}

// Reload swaps in a new latency table. Concurrent Select calls see
// either the old table or the new one, never a mix.
func (s *Selector) Reload(t *Table) {
	s.table.Store(t)
}

// Select returns the lowest-latency region for the geo hint. An
// unknown hint falls back to the first preference-order region. Ties
// resolve by preference order so selection is deterministic.
func (s *Selector) Select(geoHint string) (string, error) {
	t := s.table.Load()
	if len(t.Preference) == 0 {
		return "", fmt.Errorf("region: empty preference order")
	}

	latencies, ok := t.LatencyMS[geoHint]
	if !ok {
		return t.Preference[0], nil
	}

	best := ""
	bestMS := 0
	for _, r := range t.Preference {
		ms, ok := latencies[r]
		if !ok {
			continue
		}
		if best == "" || ms < bestMS {
			best = r
			bestMS = ms
		}
	}
	if best == "" {
		return t.Preference[0], nil
	}
	return best, nil
}

// Alternate returns the best region excluding the given one, for
// capacity fallbacks. Returns an error when no alternate exists.
func (s *Selector) Alternate(geoHint, exclude string) (string, error) {
	t := s.table.Load()
	latencies := t.LatencyMS[geoHint]

	best := ""
	bestMS := 0
	for _, r := range t.Preference {
		if r == exclude {
			continue
		}
		ms, ok := latencies[r]
		if !ok {
			// No latency estimate; still usable as a last resort.
			if best == "" {
				best = r
				bestMS = 1 << 30
			}
			continue
		}
		if best == "" || ms < bestMS {
			best = r
			bestMS = ms
		}
	}
	if best == "" {
		return "", fmt.Errorf("region: no alternate region for %s", exclude)
	}
	return best, nil
}

// Regions returns the configured candidate regions in preference order.
func (s *Selector) Regions() []string {
	t := s.table.Load()
	out := make([]string, len(t.Preference))
	copy(out, t.Preference)
	return out
}

// DefaultTable is the static latency table shipped with the daemon.
// Deployments override it via configuration or a periodic probe.
func DefaultTable() *Table {
	return &Table{
		Preference: []string{"us-east-1", "us-west-2", "eu-west-1", "ap-southeast-1"},
		LatencyMS: map[string]map[string]int{
			"us-east": {"us-east-1": 15, "us-west-2": 70, "eu-west-1": 90, "ap-southeast-1": 210},
			"us-west": {"us-east-1": 70, "us-west-2": 12, "eu-west-1": 140, "ap-southeast-1": 160},
			"europe":  {"us-east-1": 90, "us-west-2": 140, "eu-west-1": 18, "ap-southeast-1": 180},
			"apac":    {"us-east-1": 200, "us-west-2": 150, "eu-west-1": 170, "ap-southeast-1": 25},
		},
	}
}
