package barrier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/checkout-sim/sim/bus"
	"github.com/inference-sim/checkout-sim/sim/internal/testutil"
)

func TestAnnounceAndWaitStart_SoloBus_Synchronizes(t *testing.T) {
	// GIVEN a bus that announces and synchronizes immediately
	fb := testutil.NewFakeBus("p", testutil.SoloScript)
	gated := false
	b := New(fb, nil, Options{Gate: func(context.Context) error { gated = true; return nil }})

	// WHEN the barrier runs the startup rendezvous
	err := b.AnnounceAndWaitStart(context.Background())

	// THEN it registers, gates, achieves, and reports synchronized
	require.NoError(t, err)
	assert.True(t, b.Synchronized())
	assert.True(t, gated)
	ops := []string{}
	for _, c := range fb.Calls() {
		ops = append(ops, c.Op)
	}
	assert.Equal(t, []string{"RegisterSyncPoint", "AchieveSyncPoint"}, ops)
	assert.Equal(t, DefaultLabel, fb.CallsTo("AchieveSyncPoint")[0].Label)
}

func TestAnnounceAndWaitStart_RegistrationFailed_TreatedAsSuccess(t *testing.T) {
	// GIVEN a peer already registered the label
	fb := testutil.NewFakeBus("p", func(c testutil.Call) []bus.Notification {
		switch c.Op {
		case "RegisterSyncPoint":
			return []bus.Notification{
				{Kind: bus.KindSyncRegistrationFailed, Label: c.Label, Reason: "label not unique"},
				{Kind: bus.KindSyncAnnounced, Label: c.Label},
			}
		case "AchieveSyncPoint":
			return []bus.Notification{{Kind: bus.KindSynchronized, Label: c.Label}}
		}
		return nil
	})
	b := New(fb, nil, Options{})

	// WHEN / THEN the rendezvous still completes without error
	require.NoError(t, b.AnnounceAndWaitStart(context.Background()))
	assert.True(t, b.Synchronized())
}

func TestAnnounceAndWaitStart_OtherLabelsIgnored(t *testing.T) {
	// GIVEN announcements for an unrelated label arrive first
	fb := testutil.NewFakeBus("p", testutil.SoloScript)
	fb.Push(bus.Notification{Kind: bus.KindSyncAnnounced, Label: "Other"})
	b := New(fb, nil, Options{Label: "Mine"})

	// WHEN the barrier runs
	require.NoError(t, b.AnnounceAndWaitStart(context.Background()))

	// THEN it used its own label throughout
	assert.Equal(t, "Mine", fb.CallsTo("RegisterSyncPoint")[0].Label)
	assert.Equal(t, "Mine", fb.CallsTo("AchieveSyncPoint")[0].Label)
}

func TestAnnounceAndWaitStart_GateError_Aborts(t *testing.T) {
	fb := testutil.NewFakeBus("p", testutil.SoloScript)
	gateErr := errors.New("operator declined")
	b := New(fb, nil, Options{Gate: func(context.Context) error { return gateErr }})

	err := b.AnnounceAndWaitStart(context.Background())

	assert.ErrorIs(t, err, gateErr)
	assert.Empty(t, fb.CallsTo("AchieveSyncPoint"), "never achieve after a failed gate")
}

func TestRequestAdvance_Grant_ReturnsNewTime(t *testing.T) {
	// GIVEN a synchronized barrier at t=0
	fb := testutil.NewFakeBus("p", testutil.SoloScript)
	b := New(fb, nil, Options{})
	require.NoError(t, b.AnnounceAndWaitStart(context.Background()))

	// WHEN advancing twice
	t1, err := b.RequestAdvance(context.Background(), 1)
	require.NoError(t, err)
	t2, err := b.RequestAdvance(context.Background(), 3)
	require.NoError(t, err)

	// THEN each call returns the granted time and requests now+delta
	assert.Equal(t, int64(1), t1)
	assert.Equal(t, int64(4), t2)
	reqs := fb.CallsTo("RequestTimeAdvance")
	require.Len(t, reqs, 2)
	assert.Equal(t, int64(1), reqs[0].Time)
	assert.Equal(t, int64(4), reqs[1].Time)
	assert.False(t, b.Advancing())
}

func TestRequestAdvance_RoutesOtherNotifications(t *testing.T) {
	// GIVEN reflections arrive while waiting for the grant
	fb := testutil.NewFakeBus("p", func(c testutil.Call) []bus.Notification {
		if c.Op == "RequestTimeAdvance" {
			return []bus.Notification{
				{Kind: bus.KindReflect, Handle: 7},
				{Kind: bus.KindTimeAdvanceGrant, Time: c.Time},
			}
		}
		return nil
	})
	var routed []bus.Kind
	var b *Barrier
	b = New(fb, func(n bus.Notification) {
		if !b.Handle(n) {
			routed = append(routed, n.Kind)
		}
	}, Options{})

	// WHEN advancing
	_, err := b.RequestAdvance(context.Background(), 1)

	// THEN non-barrier notifications reached the router
	require.NoError(t, err)
	assert.Equal(t, []bus.Kind{bus.KindReflect}, routed)
}

func TestRequestAdvance_NoGrant_ReturnsOnCancel(t *testing.T) {
	// GIVEN a bus that never grants
	fb := testutil.NewFakeBus("p", nil)
	b := New(fb, nil, Options{PollTimeout: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	// WHEN the context is cancelled mid-wait
	go func() {
		for fb.Evokes() < 3 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()
	now, err := b.RequestAdvance(ctx, 1)

	// THEN the call returns the cancellation and time did not move
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(0), now)
	assert.True(t, b.Advancing())
}

func TestRequestAdvance_Stall_LogsWarning(t *testing.T) {
	// GIVEN a mock clock and a grant that arrives only after 12 polls of 1s
	mock := clock.NewMock()
	logger, hook := test.NewNullLogger()
	fb := testutil.NewFakeBus("p", nil)
	fb.Clock = mock
	b := New(fb, nil, Options{
		PollTimeout:  time.Second,
		StallWarning: 5 * time.Second,
		Clock:        mock,
		Logger:       logger,
	})

	done := make(chan error, 1)
	go func() {
		_, err := b.RequestAdvance(context.Background(), 1)
		done <- err
	}()
	for fb.Evokes() < 12 {
		time.Sleep(time.Millisecond)
	}
	fb.Push(bus.Notification{Kind: bus.KindTimeAdvanceGrant, Time: 1})

	// WHEN the grant finally arrives
	require.NoError(t, <-done)

	// THEN warnings were logged at each 5s of waiting
	var warnings int
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warnings++
			assert.Contains(t, e.Message, "still waiting for grant to t=1")
		}
	}
	assert.GreaterOrEqual(t, warnings, 2)
	assert.Equal(t, int64(1), b.Now())
}

func TestRequestAdvance_BusError_ClearsAdvancing(t *testing.T) {
	fb := testutil.NewFakeBus("p", nil)
	fb.Fail = map[string]error{"RequestTimeAdvance": bus.ErrAdvancePending}
	b := New(fb, nil, Options{})

	_, err := b.RequestAdvance(context.Background(), 1)

	assert.ErrorIs(t, err, bus.ErrAdvancePending)
	assert.False(t, b.Advancing())
}

func TestHandle_UnexpectedGrant_Warns(t *testing.T) {
	logger, hook := test.NewNullLogger()
	b := New(testutil.NewFakeBus("p", nil), nil, Options{Logger: logger})

	consumed := b.Handle(bus.Notification{Kind: bus.KindTimeAdvanceGrant, Time: 9})

	assert.True(t, consumed)
	assert.Equal(t, int64(0), b.Now(), "a grant nobody asked for does not move time")
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestHandle_NonBarrierKinds_NotConsumed(t *testing.T) {
	b := New(testutil.NewFakeBus("p", nil), nil, Options{})
	for _, k := range []bus.Kind{bus.KindDiscover, bus.KindReflect, bus.KindInteraction, bus.KindRemove} {
		assert.False(t, b.Handle(bus.Notification{Kind: k}), k.String())
	}
}
