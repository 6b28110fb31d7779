package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airdash/airdash/internal/engine"
	"github.com/airdash/airdash/internal/export"
	"github.com/airdash/airdash/internal/session"
	"github.com/airdash/airdash/internal/transfer"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newStore(c *clock, maxPerUser int) *session.Store {
	tr := transfer.TransportFunc(func(context.Context, *export.Request) (export.RawResponse, error) {
		return export.TextResponse("datetime,pm2_5\n2024-01-01,1"), nil
	})
	return session.NewStore(session.StoreConfig{
		NewEngine: func(id string, limits export.SelectionLimits) *engine.Engine {
			return engine.New(engine.Config{Transport: tr, Limits: limits, SessionID: id, Logger: zerolog.Nop()})
		},
		TTL:        10 * time.Minute,
		MaxPerUser: maxPerUser,
		Logger:     zerolog.Nop(),
		Now:        c.Now,
	})
}

func TestStore_CreateAndGet(t *testing.T) {
	c := &clock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := newStore(c, 0)

	sess, err := store.Create("user-1", session.FlowFavorites)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, export.FavoriteLimits, sess.Engine.State().Limits())

	got, err := store.Get("user-1", sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, got)
	assert.Equal(t, 1, store.Len())
}

func TestStore_OtherUsersSessionIsNotFound(t *testing.T) {
	c := &clock{now: time.Now()}
	store := newStore(c, 0)

	sess, err := store.Create("user-1", session.FlowAnalysis)
	require.NoError(t, err)

	_, err = store.Get("user-2", sess.ID)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
	assert.ErrorIs(t, store.Delete("user-2", sess.ID), session.ErrSessionNotFound)
	assert.Equal(t, 1, store.Len())
}

func TestStore_Expiry(t *testing.T) {
	c := &clock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := newStore(c, 0)

	active, err := store.Create("user-1", session.FlowAnalysis)
	require.NoError(t, err)
	idle, err := store.Create("user-1", session.FlowAnalysis)
	require.NoError(t, err)

	c.Advance(6 * time.Minute)
	_, err = store.Get("user-1", active.ID)
	require.NoError(t, err)

	c.Advance(6 * time.Minute)
	_, err = store.Get("user-1", idle.ID)
	assert.ErrorIs(t, err, session.ErrSessionNotFound, "expired sessions are not returned before the sweep")

	assert.Equal(t, 1, store.Sweep())
	assert.Equal(t, 1, store.Len())

	_, err = store.Get("user-1", active.ID)
	assert.NoError(t, err)
}

func TestStore_MaxPerUserEvictsLeastRecentlyUsed(t *testing.T) {
	c := &clock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := newStore(c, 2)

	first, err := store.Create("user-1", session.FlowAnalysis)
	require.NoError(t, err)
	c.Advance(time.Second)
	second, err := store.Create("user-1", session.FlowAnalysis)
	require.NoError(t, err)
	c.Advance(time.Second)
	_, err = store.Get("user-1", first.ID)
	require.NoError(t, err)
	c.Advance(time.Second)

	_, err = store.Create("user-1", session.FlowAnalysis)
	require.NoError(t, err)
	_, err = store.Create("user-2", session.FlowAnalysis)
	require.NoError(t, err)

	_, err = store.Get("user-1", second.ID)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
	_, err = store.Get("user-1", first.ID)
	assert.NoError(t, err)
	assert.Equal(t, 3, store.Len())
}

func TestStore_Delete(t *testing.T) {
	store := newStore(&clock{now: time.Now()}, 0)
	sess, err := store.Create("user-1", session.FlowInsights)
	require.NoError(t, err)

	require.NoError(t, store.Delete("user-1", sess.ID))
	_, err = store.Get("user-1", sess.ID)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestStore_RunClosesSessionsOnShutdown(t *testing.T) {
	store := newStore(&clock{now: time.Now()}, 0)
	_, err := store.Create("user-1", session.FlowAnalysis)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		store.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Zero(t, store.Len())
}

func TestParseFlow(t *testing.T) {
	tests := []struct {
		in      string
		want    session.Flow
		wantErr bool
	}{
		{in: "", want: session.FlowAnalysis},
		{in: "Favorites", want: session.FlowFavorites},
		{in: "insights", want: session.FlowInsights},
		{in: "reports", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := session.ParseFlow(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, session.ErrUnknownFlow)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, 20, session.FlowInsights.Limits().Max)
	assert.Zero(t, session.FlowAnalysis.Limits().Max)
}

func TestStore_CreateUnknownFlow(t *testing.T) {
	store := newStore(&clock{now: time.Now()}, 0)
	_, err := store.Create("user-1", session.Flow("reports"))
	assert.ErrorIs(t, err, session.ErrUnknownFlow)
}
