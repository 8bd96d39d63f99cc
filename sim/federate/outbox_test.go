package federate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/checkout-sim/sim"
	"github.com/inference-sim/checkout-sim/sim/internal/testutil"
)

func ops(calls []testutil.Call) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Op
	}
	return out
}

func TestOutbox_Flush_UpdatesThenEventsThenDeletes(t *testing.T) {
	// GIVEN a registered queue, a staged event, and a deleted shopper
	fb := testutil.NewFakeBus("queue", nil)
	dir := sim.NewDirectory()
	o := NewOutbox(fb, dir)
	hq, err := o.Register(&sim.Queue{ID: 0})
	require.NoError(t, err)
	dir.Insert(hq, &sim.Queue{ID: 0, MaxSize: 3})
	hs, err := o.Register(&sim.Shopper{ID: 1})
	require.NoError(t, err)
	dir.Insert(hs, &sim.Shopper{ID: 1})

	o.Send(sim.EndService(0, 1))
	o.Update(hq)
	o.Update(hq)
	o.Update(hs)
	o.Delete(hs)
	assert.Equal(t, 4, o.Pending())

	// WHEN the tick's output is flushed
	require.NoError(t, o.Flush())

	// THEN the queue update precedes the event and the delete comes last;
	// the deleted shopper gets no update and the queue only one
	calls := fb.Calls()
	assert.Equal(t, []string{"RegisterObject", "RegisterObject", "UpdateAttributes", "SendInteraction", "DeleteObject"}, ops(calls))
	assert.Equal(t, hq, calls[2].Handle)
	assert.Equal(t, sim.EventEndService, calls[3].Name)
	assert.Equal(t, hs, calls[4].Handle)
	assert.Equal(t, 1, o.SentEvents())
	assert.Equal(t, 0, o.Pending())
}

func TestOutbox_Flush_SkipsMirrorsAndForgottenHandles(t *testing.T) {
	fb := testutil.NewFakeBus("queue", nil)
	dir := sim.NewDirectory()
	dir.Discover(5, sim.KindQueue)
	o := NewOutbox(fb, dir)

	o.Update(5)
	o.Update(99)
	require.NoError(t, o.Flush())

	assert.Empty(t, fb.CallsTo("UpdateAttributes"))
}

func TestOutbox_Flush_ErrorsCombined_RestStillSent(t *testing.T) {
	// GIVEN a bus rejecting every interaction
	fb := testutil.NewFakeBus("manager", nil)
	fb.Fail = map[string]error{"SendInteraction": errors.New("boom")}
	o := NewOutbox(fb, sim.NewDirectory())
	o.Send(sim.OpenCheckout(0))
	o.Send(sim.OpenCheckout(1))

	// WHEN flushed
	err := o.Flush()

	// THEN both attempts were made and both failures reported
	require.Error(t, err)
	assert.Len(t, fb.CallsTo("SendInteraction"), 2)
	assert.Contains(t, err.Error(), "OpenCheckout{checkout=0}")
	assert.Contains(t, err.Error(), "OpenCheckout{checkout=1}")
	assert.Equal(t, 0, o.Pending())
}

func TestOutbox_Register_Error_Wrapped(t *testing.T) {
	fb := testutil.NewFakeBus("client", nil)
	fb.Fail = map[string]error{"RegisterObject": errors.New("full")}
	o := NewOutbox(fb, sim.NewDirectory())

	_, err := o.Register(&sim.Shopper{ID: 3})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Shopper 3")
}
