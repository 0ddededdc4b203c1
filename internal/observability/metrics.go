package observability

import "sync/atomic"

// Counter names a Metrics counter.
type Counter int

const (
	RPCCalls Counter = iota
	RPCFailures
	DroppedCalls
	IgnoredCalls
	RateLimited
	Broadcasts
	DeliveryFailures
	RoomsCreated
	RoomsReaped
	PlayersJoined
	PlayersLeft
	Kills
	numCounters
)

var counterNames = [numCounters]string{
	RPCCalls:         "rpc_calls",
	RPCFailures:      "rpc_failures",
	DroppedCalls:     "dropped_calls",
	IgnoredCalls:     "ignored_calls",
	RateLimited:      "rate_limited",
	Broadcasts:       "broadcasts",
	DeliveryFailures: "delivery_failures",
	RoomsCreated:     "rooms_created",
	RoomsReaped:      "rooms_reaped",
	PlayersJoined:    "players_joined",
	PlayersLeft:      "players_left",
	Kills:            "kills",
}

// String returns the counter's snapshot key.
func (c Counter) String() string {
	if c < 0 || c >= numCounters {
		return "unknown"
	}
	return counterNames[c]
}

// Metrics is a fixed set of process-wide counters. A nil *Metrics discards
// every update, so components may be built without one.
type Metrics struct {
	counters [numCounters]atomic.Int64
}

// NewMetrics returns zeroed counters.
func NewMetrics() *Metrics { return &Metrics{} }

// Inc adds one to c.
func (m *Metrics) Inc(c Counter) { m.Add(c, 1) }

// Add adds n to c.
func (m *Metrics) Add(c Counter, n int64) {
	if m == nil || c < 0 || c >= numCounters {
		return
	}
	m.counters[c].Add(n)
}

// Get returns the current value of c.
func (m *Metrics) Get(c Counter) int64 {
	if m == nil || c < 0 || c >= numCounters {
		return 0
	}
	return m.counters[c].Load()
}

// Snapshot returns every counter keyed by name.
func (m *Metrics) Snapshot() map[string]int64 {
	out := make(map[string]int64, numCounters)
	for c := Counter(0); c < numCounters; c++ {
		out[c.String()] = m.Get(c)
	}
	return out
}
