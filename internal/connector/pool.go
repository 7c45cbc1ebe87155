// ABOUTME: Coarse connection counters per transport class for capacity observability
// ABOUTME: Atomic active/total counts; not used for connection reuse

package connector

import (
	"sync/atomic"

	"github.com/2389/fanout-gateway/internal/store"
)

// PoolStats is a snapshot of one transport class's counters.
type PoolStats struct {
	Active int64 `json:"active"`
	Total  int64 `json:"total"`
}

type classCounters struct {
	active atomic.Int64
	total  atomic.Int64
}

// Pool tracks active and lifetime connection counts per transport class.
// It is a long-lived service constructed once at process start and injected
// into the connector; counters are read concurrently by the observability
// endpoint. It deliberately tracks no per-connection identity: connections
// are never reused across requests.
type Pool struct {
	classes map[store.TransportKind]*classCounters
}

// NewPool creates a pool with counters for every supported transport class.
func NewPool() *Pool {
	return &Pool{
		classes: map[store.TransportKind]*classCounters{
			store.TransportStdio:          {},
			store.TransportSSE:            {},
			store.TransportStreamableHTTP: {},
		},
	}
}

func (p *Pool) acquire(kind store.TransportKind) {
	if c, ok := p.classes[kind]; ok {
		c.active.Add(1)
		c.total.Add(1)
	}
}

func (p *Pool) release(kind store.TransportKind) {
	if c, ok := p.classes[kind]; ok {
		c.active.Add(-1)
	}
}

// Stats returns a snapshot of all counters keyed by transport class.
func (p *Pool) Stats() map[string]PoolStats {
	stats := make(map[string]PoolStats, len(p.classes))
	for kind, c := range p.classes {
		stats[string(kind)] = PoolStats{
			Active: c.active.Load(),
			Total:  c.total.Load(),
		}
	}
	return stats
}

// Reset zeroes all counters. For tests.
func (p *Pool) Reset() {
	for _, c := range p.classes {
		c.active.Store(0)
		c.total.Store(0)
	}
}
