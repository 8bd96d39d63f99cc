package wsbus

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/checkout-sim/sim/bus"
	"github.com/inference-sim/checkout-sim/sim/bus/local"
)

func startServer(t *testing.T, minFederates int) *Client {
	t.Helper()
	srv := NewServer(local.NewRTI(nil, minFederates))
	hs := httptest.NewServer(srv)
	t.Cleanup(func() {
		hs.Close()
		srv.Wait()
	})
	c := NewClient("ws" + strings.TrimPrefix(hs.URL, "http"))
	c.CallTimeout = 5 * time.Second
	return c
}

// collect pumps b until want reports true or a deadline passes.
func collect(t *testing.T, b bus.Bus, want func([]bus.Notification) bool) []bus.Notification {
	t.Helper()
	var got []bus.Notification
	deadline := time.Now().Add(5 * time.Second)
	for !want(got) {
		require.True(t, time.Now().Before(deadline), "timed out, got %v", got)
		_, err := b.Evoke(context.Background(), 20*time.Millisecond, func(n bus.Notification) {
			got = append(got, n)
		})
		require.NoError(t, err)
	}
	return got
}

func has(kind bus.Kind) func([]bus.Notification) bool {
	return func(ns []bus.Notification) bool {
		for _, n := range ns {
			if n.Kind == kind {
				return true
			}
		}
		return false
	}
}

func TestClient_CreateFederation_Twice_MapsSentinel(t *testing.T) {
	c := startServer(t, 1)
	ctx := context.Background()
	require.NoError(t, c.CreateFederation(ctx, "shop"))

	err := c.CreateFederation(ctx, "shop")

	assert.ErrorIs(t, err, bus.ErrFederationExists)
	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.NotEmpty(t, remote.Code)
}

func TestClient_Join_UnknownFederation_Fails(t *testing.T) {
	c := startServer(t, 1)

	_, err := c.Join(context.Background(), "nowhere", "p")

	assert.ErrorIs(t, err, bus.ErrFederationNotFound)
}

func TestSession_RoundTrip_ObjectsInteractionsAndTime(t *testing.T) {
	// GIVEN two participants joined over websockets
	c := startServer(t, 2)
	ctx := context.Background()
	require.NoError(t, c.CreateFederation(ctx, "shop"))
	a, err := c.Join(ctx, "shop", "client")
	require.NoError(t, err)
	b, err := c.Join(ctx, "shop", "queue")
	require.NoError(t, err)
	assert.Equal(t, "queue", b.Name())

	// WHEN both pass the rendezvous
	require.NoError(t, a.RegisterSyncPoint("ReadyToRun"))
	collect(t, a, has(bus.KindSyncAnnounced))
	collect(t, b, has(bus.KindSyncAnnounced))
	require.NoError(t, a.AchieveSyncPoint("ReadyToRun"))
	require.NoError(t, b.AchieveSyncPoint("ReadyToRun"))
	collect(t, a, has(bus.KindSynchronized))
	collect(t, b, has(bus.KindSynchronized))

	// AND b subscribes while a publishes an object and an interaction
	require.NoError(t, b.SubscribeObjectClass("Shopper"))
	require.NoError(t, b.SubscribeInteraction("ChooseQueue"))
	h, err := a.RegisterObject("Shopper")
	require.NoError(t, err)
	require.NoError(t, a.UpdateAttributes(h, bus.NewValues().SetInt("id", 4)))
	require.NoError(t, a.SendInteraction("ChooseQueue", bus.NewValues().SetInt("checkoutId", 0).SetInt("clientId", 4)))
	require.NoError(t, a.RequestTimeAdvance(1))
	require.NoError(t, b.RequestTimeAdvance(1))

	// THEN b sees the object, its values and the interaction before its grant
	got := collect(t, b, has(bus.KindTimeAdvanceGrant))
	var kinds []bus.Kind
	for _, n := range got {
		kinds = append(kinds, n.Kind)
		switch n.Kind {
		case bus.KindReflect:
			id, ok, err := n.Values.Int("id")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, 4, id)
		case bus.KindInteraction:
			assert.Equal(t, "ChooseQueue", n.Interaction)
			assert.Equal(t, "client", n.Sender)
			assert.NotEmpty(t, n.MessageID)
		case bus.KindTimeAdvanceGrant:
			assert.Equal(t, int64(1), n.Time)
		}
	}
	assert.Equal(t, []bus.Kind{bus.KindDiscover, bus.KindReflect, bus.KindInteraction, bus.KindTimeAdvanceGrant}, kinds)
	collect(t, a, has(bus.KindTimeAdvanceGrant))

	// AND resigning a removes its object at b
	require.NoError(t, a.Resign(ctx))
	got = collect(t, b, has(bus.KindRemove))
	assert.Equal(t, h, got[len(got)-1].Handle)
	require.NoError(t, b.Resign(ctx))
	require.NoError(t, c.DestroyFederation(ctx, "shop"))
}

func TestSession_UpdateNotOwned_ReturnsSentinel(t *testing.T) {
	c := startServer(t, 1)
	ctx := context.Background()
	require.NoError(t, c.CreateFederation(ctx, "shop"))
	a, err := c.Join(ctx, "shop", "a")
	require.NoError(t, err)
	defer a.Resign(ctx)

	err = a.UpdateAttributes(999, bus.NewValues().SetInt("id", 1))

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrClosed)
}

func TestSession_AfterResign_CallsFail(t *testing.T) {
	c := startServer(t, 1)
	ctx := context.Background()
	require.NoError(t, c.CreateFederation(ctx, "shop"))
	a, err := c.Join(ctx, "shop", "a")
	require.NoError(t, err)
	require.NoError(t, a.Resign(ctx))

	_, err = a.Evoke(ctx, 0, func(bus.Notification) {})

	assert.Error(t, err)
}
