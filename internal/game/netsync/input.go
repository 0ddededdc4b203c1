package netsync

import "time"

const (
	// MaxPendingInputs bounds the unacknowledged input history per player.
	MaxPendingInputs = 60
	// DefaultInputMaxAge is how long an unacknowledged input is retained.
	DefaultInputMaxAge = 5 * time.Second
)

// InputSnapshot is one sequenced input sample together with the position the
// client predicted for it.
type InputSnapshot struct {
	Direction Vec3      `json:"inputDirection" msgpack:"inputDirection"`
	Position  Vec3      `json:"position" msgpack:"position"`
	Sequence  uint32    `json:"sequence" msgpack:"sequence"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
}

// NetworkInput keeps the sequenced input history of one player. The history
// is scaffolding for client reconciliation: nothing replays it, and
// authoritative updates simply override predicted state.
//
// Invariant: len(PendingInputs) <= MaxPendingInputs; sequences in
// PendingInputs are strictly increasing.
type NetworkInput struct {
	Direction        Vec3
	Sequence         uint32
	LastInputTime    time.Time
	PendingInputs    []InputSnapshot
	EnablePrediction bool
}

// NewNetworkInput returns an empty input history with prediction enabled.
func NewNetworkInput() NetworkInput {
	return NetworkInput{EnablePrediction: true}
}

// AddInput records a new input, assigning it the next sequence number.
// When prediction is enabled the sample is appended to the pending history,
// evicting the oldest entry once the history is full.
func (in *NetworkInput) AddInput(dir, pos Vec3, now time.Time) InputSnapshot {
	in.Sequence++
	snap := InputSnapshot{
		Direction: dir,
		Position:  pos,
		Sequence:  in.Sequence,
		Timestamp: now,
	}
	in.Direction = dir
	in.LastInputTime = now
	if in.EnablePrediction {
		in.PendingInputs = append(in.PendingInputs, snap)
		if over := len(in.PendingInputs) - MaxPendingInputs; over > 0 {
			in.PendingInputs = append(in.PendingInputs[:0:0], in.PendingInputs[over:]...)
		}
	}
	return snap
}

// AcknowledgeInput drops every pending input with sequence <= seq.
func (in *NetworkInput) AcknowledgeInput(seq uint32) {
	kept := in.PendingInputs[:0]
	for _, snap := range in.PendingInputs {
		if snap.Sequence > seq {
			kept = append(kept, snap)
		}
	}
	in.PendingInputs = kept
}

// CleanupOldInputs drops pending inputs older than maxAge at now.
func (in *NetworkInput) CleanupOldInputs(now time.Time, maxAge time.Duration) {
	kept := in.PendingInputs[:0]
	for _, snap := range in.PendingInputs {
		if now.Sub(snap.Timestamp) < maxAge {
			kept = append(kept, snap)
		}
	}
	in.PendingInputs = kept
}

// Pending returns a copy of the unacknowledged inputs.
func (in *NetworkInput) Pending() []InputSnapshot {
	out := make([]InputSnapshot, len(in.PendingInputs))
	copy(out, in.PendingInputs)
	return out
}

// Reset clears the history and restarts sequencing.
func (in *NetworkInput) Reset() {
	in.Sequence = 0
	in.PendingInputs = nil
	in.Direction = Vec3{}
}
