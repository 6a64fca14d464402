package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateDerivesCancellableChildContext(t *testing.T) {
	m := NewManager()
	parent, parentCancel := context.WithCancel(context.Background())
	defer parentCancel()

	s := m.Create(parent)
	require.NotEmpty(t, s.ID())

	parentCancel()
	select {
	case <-s.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("session context was not cancelled when parent was cancelled")
	}
}

func TestSessionCancelPropagatesToContext(t *testing.T) {
	m := NewManager()
	s := m.Create(context.Background())
	s.Cancel()
	select {
	case <-s.Context().Done():
	default:
		t.Fatal("expected session context to be done after Cancel")
	}
}

func TestGetEvictsExpiredSessionLazily(t *testing.T) {
	m := NewManager(WithTTL(time.Millisecond))
	s := m.Create(context.Background())
	time.Sleep(5 * time.Millisecond)

	_, ok := m.Get(s.ID())
	assert.False(t, ok)
	assert.Equal(t, 0, m.Count())
}

func TestEndRemovesSessionImmediately(t *testing.T) {
	m := NewManager()
	s := m.Create(context.Background())
	m.End(s.ID())

	_, ok := m.Get(s.ID())
	assert.False(t, ok)
	select {
	case <-s.Context().Done():
	default:
		t.Fatal("expected session context to be cancelled after End")
	}
}

func TestJanitorSweepsExpiredSessions(t *testing.T) {
	m := NewManager(WithTTL(5*time.Millisecond), WithJanitorInterval(2*time.Millisecond))
	s := m.Create(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx)
	defer m.StopJanitor()

	require.Eventually(t, func() bool {
		select {
		case <-s.Context().Done():
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestJournalRingBufferOverwritesOldestEntries(t *testing.T) {
	j := newJournal(2)
	j.Append(Entry{Summary: "first"})
	j.Append(Entry{Summary: "second"})
	j.Append(Entry{Summary: "third"})

	snap := j.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "second", snap[0].Summary)
	assert.Equal(t, "third", snap[1].Summary)
}
