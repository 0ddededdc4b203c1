package netsync_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/arena/internal/game/netsync"
)

func TestAddInput_SequencesMonotonically(t *testing.T) {
	in := netsync.NewNetworkInput()
	a := in.AddInput(netsync.Vec3{X: 1}, netsync.Origin, t0)
	b := in.AddInput(netsync.Vec3{Y: 1}, netsync.Origin, t0)
	assert.Equal(t, uint32(1), a.Sequence)
	assert.Equal(t, uint32(2), b.Sequence)
	assert.Len(t, in.Pending(), 2)
}

func TestAddInput_CapsPendingHistory(t *testing.T) {
	in := netsync.NewNetworkInput()
	for i := 0; i < netsync.MaxPendingInputs+15; i++ {
		in.AddInput(netsync.Vec3{X: 1}, netsync.Origin, t0)
	}
	pending := in.Pending()
	require.Len(t, pending, netsync.MaxPendingInputs)
	assert.Equal(t, uint32(16), pending[0].Sequence, "oldest entries are evicted first")
	assert.Equal(t, uint32(netsync.MaxPendingInputs+15), pending[len(pending)-1].Sequence)
}

func TestAddInput_PredictionDisabledKeepsNoHistory(t *testing.T) {
	in := netsync.NewNetworkInput()
	in.EnablePrediction = false
	snap := in.AddInput(netsync.Vec3{X: 1}, netsync.Origin, t0)
	assert.Equal(t, uint32(1), snap.Sequence)
	assert.Empty(t, in.Pending())
}

func TestAcknowledgeInput_DropsThroughSequence(t *testing.T) {
	in := netsync.NewNetworkInput()
	for i := 0; i < 10; i++ {
		in.AddInput(netsync.Vec3{X: 1}, netsync.Origin, t0)
	}
	in.AcknowledgeInput(7)
	pending := in.Pending()
	require.Len(t, pending, 3)
	assert.Equal(t, uint32(8), pending[0].Sequence)
}

func TestCleanupOldInputs(t *testing.T) {
	in := netsync.NewNetworkInput()
	in.AddInput(netsync.Vec3{X: 1}, netsync.Origin, t0)
	in.AddInput(netsync.Vec3{X: 1}, netsync.Origin, t0.Add(4*time.Second))

	in.CleanupOldInputs(t0.Add(5*time.Second), netsync.DefaultInputMaxAge)
	pending := in.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, uint32(2), pending[0].Sequence)
}

func TestPending_ReturnsCopy(t *testing.T) {
	in := netsync.NewNetworkInput()
	in.AddInput(netsync.Vec3{X: 1}, netsync.Origin, t0)
	p := in.Pending()
	p[0].Sequence = 99
	assert.Equal(t, uint32(1), in.Pending()[0].Sequence)
}

func TestShootEvent_Sequenced(t *testing.T) {
	var ev netsync.NetworkEvents
	a := ev.CreateShootEvent(netsync.Vec3{X: 5}, "", t0)
	b := ev.CreateShootEvent(netsync.Vec3{X: 6}, "rifle", t0)
	assert.Equal(t, "default", a.WeaponType)
	assert.Equal(t, uint32(1), a.Sequence)
	assert.Equal(t, uint32(2), b.Sequence)
	assert.Equal(t, b, ev.LastShot)

	dmg := ev.CreateDamageEvent(25, "target", "source", t0)
	assert.Equal(t, 25, dmg.Damage)
	assert.Equal(t, uint32(2), ev.LastEventSequence, "damage events are not sequenced")
}

// Property: after any mix of adds and acks the pending history is bounded
// and strictly increasing.
func TestProperty_PendingInputsBoundedAndOrdered(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := netsync.NewNetworkInput()
		ops := rapid.SliceOf(rapid.IntRange(0, 3)).Draw(t, "ops")
		for _, op := range ops {
			if op == 0 && in.Sequence > 0 {
				ack := rapid.Uint32Range(0, in.Sequence).Draw(t, "ack")
				in.AcknowledgeInput(ack)
				for _, p := range in.PendingInputs {
					if p.Sequence <= ack {
						t.Fatalf("sequence %d survived ack %d", p.Sequence, ack)
					}
				}
				continue
			}
			in.AddInput(netsync.Vec3{X: 1}, netsync.Origin, t0)
		}
		if len(in.PendingInputs) > netsync.MaxPendingInputs {
			t.Fatalf("pending grew to %d", len(in.PendingInputs))
		}
		for i := 1; i < len(in.PendingInputs); i++ {
			if in.PendingInputs[i].Sequence <= in.PendingInputs[i-1].Sequence {
				t.Fatalf("pending not strictly increasing at %d", i)
			}
		}
	})
}
