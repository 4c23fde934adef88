package idempotency

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/order-choreography/internal/apperr"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cli.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(time.Hour),
		"redis":  NewRedisStore(cli, time.Hour),
	}
}

func TestGuardRunsOncePerEvent(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			g := NewGuard(store, "payment-service")
			calls := 0
			f := func(context.Context) (Outcome, error) {
				calls++
				return Outcome{Reference: "pay-1"}, nil
			}

			const deliveries = 5
			for i := 0; i < deliveries; i++ {
				out, err := g.Handle(context.Background(), "evt-1", f)
				require.NoError(t, err)
				assert.Equal(t, "pay-1", out.Reference)
				assert.Equal(t, i > 0, out.Replayed)
			}
			assert.Equal(t, 1, calls)
		})
	}
}

func TestGuardScopesByGroup(t *testing.T) {
	store := NewMemoryStore(0)
	calls := 0
	f := func(context.Context) (Outcome, error) { calls++; return Outcome{}, nil }
	_, err := NewGuard(store, "a").Handle(context.Background(), "evt-1", f)
	require.NoError(t, err)
	_, err = NewGuard(store, "b").Handle(context.Background(), "evt-1", f)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestGuardDoesNotRecordFailures(t *testing.T) {
	g := NewGuard(NewMemoryStore(0), "g")
	boom := errors.New("boom")
	_, err := g.Handle(context.Background(), "evt-1", func(context.Context) (Outcome, error) { return Outcome{}, boom })
	require.ErrorIs(t, err, boom)

	calls := 0
	out, err := g.Handle(context.Background(), "evt-1", func(context.Context) (Outcome, error) { calls++; return Outcome{}, nil })
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "processed", out.Status)
}

func TestGuardRequiresEventID(t *testing.T) {
	_, err := NewGuard(NewMemoryStore(0), "g").Handle(context.Background(), "", func(context.Context) (Outcome, error) {
		t.Fatal("handler must not run")
		return Outcome{}, nil
	})
	assert.True(t, apperr.Is(err, apperr.KindMalformed))
}

type failingStore struct{}

func (failingStore) Seen(context.Context, string, string) (Outcome, bool, error) {
	return Outcome{}, false, errors.New("redis down")
}
func (failingStore) MarkSeen(context.Context, string, string, Outcome) error { return nil }

func TestGuardStoreFailureIsTransient(t *testing.T) {
	_, err := NewGuard(failingStore{}, "g").Handle(context.Background(), "evt-1", func(context.Context) (Outcome, error) {
		return Outcome{}, nil
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindTransient))
	assert.True(t, apperr.Retryable(err))
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	base := time.Now()
	s.now = func() time.Time { return base }
	require.NoError(t, s.MarkSeen(context.Background(), "g", "evt-1", Outcome{}))
	_, seen, _ := s.Seen(context.Background(), "g", "evt-1")
	assert.True(t, seen)

	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, seen, _ = s.Seen(context.Background(), "g", "evt-1")
	assert.False(t, seen)
}

func TestRedisStoreTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cli.Close()
	s := NewRedisStore(cli, time.Minute)
	ctx := context.Background()

	require.NoError(t, s.MarkSeen(ctx, "g", "evt-1", Outcome{Status: "processed", Reference: "first"}))
	require.NoError(t, s.MarkSeen(ctx, "g", "evt-1", Outcome{Status: "processed", Reference: "second"}))
	out, seen, err := s.Seen(ctx, "g", "evt-1")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.Equal(t, "first", out.Reference)
	assert.True(t, mr.Exists("idempotency:g:evt-1"))

	mr.FastForward(2 * time.Minute)
	_, seen, err = s.Seen(ctx, "g", "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestGuardDuplicateLogHasSingleEventID(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf).With().Str("eventId", "evt-9").Logger()
	ctx := l.WithContext(context.Background())

	g := NewGuard(NewMemoryStore(time.Hour), "order-service")
	f := func(context.Context) (Outcome, error) { return Outcome{}, nil }
	_, err := g.Handle(ctx, "evt-9", f)
	require.NoError(t, err)
	_, err = g.Handle(ctx, "evt-9", f)
	require.NoError(t, err)

	line := strings.TrimSpace(buf.String())
	require.Contains(t, line, "duplicate event skipped")
	assert.Equal(t, 1, strings.Count(line, `"eventId"`))
	assert.Contains(t, line, `"group":"order-service"`)
}
