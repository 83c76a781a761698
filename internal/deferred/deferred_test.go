package deferred

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDeleter struct {
	mu      sync.Mutex
	deleted []string
}

func (f *fakeDeleter) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeDeleter) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.deleted))
	copy(out, f.deleted)
	return out
}

func TestEnqueueThenCancel(t *testing.T) {
	deleter := &fakeDeleter{}
	s := New(time.Hour, deleter)

	s.Enqueue("000123.sst", time.Now())
	assert.True(t, s.Pending("000123.sst"))

	assert.True(t, s.Cancel("000123.sst"))
	assert.False(t, s.Pending("000123.sst"))
}

func TestCancelUnknownKeyReturnsFalse(t *testing.T) {
	s := New(time.Hour, &fakeDeleter{})
	assert.False(t, s.Cancel("never-enqueued"))
}

func TestScheduler_IssuesDeleteAtDeadline(t *testing.T) {
	deleter := &fakeDeleter{}
	s := New(5*time.Millisecond, deleter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	s.Enqueue("000123.sst", time.Now())

	require.Eventually(t, func() bool {
		for _, k := range deleter.snapshot() {
			if k == "000123.sst" {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
}

func TestScheduler_ReEnqueueResetsDeadline(t *testing.T) {
	deleter := &fakeDeleter{}
	s := New(50*time.Millisecond, deleter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	now := time.Now()
	s.Enqueue("000123.sst", now)
	time.Sleep(20 * time.Millisecond)
	s.Enqueue("000123.sst", time.Now()) // push deadline further out

	time.Sleep(40 * time.Millisecond)
	assert.Empty(t, deleter.snapshot(), "delete should not have fired yet after deadline reset")

	require.Eventually(t, func() bool {
		return len(deleter.snapshot()) == 1
	}, time.Second, time.Millisecond)
}
