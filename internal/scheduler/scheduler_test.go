package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/openchain/pkg/source"
)

type countingSweeper struct {
	mu    sync.Mutex
	calls int
}

func (c *countingSweeper) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return 1
}

func (c *countingSweeper) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type recordingWarmer struct {
	mu   sync.Mutex
	rels []source.Relation
	fail source.Relation
}

func (w *recordingWarmer) Related(_ context.Context, id string, rel source.Relation) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rels = append(w.rels, rel)
	if rel == w.fail {
		return nil, errors.New("upstream down")
	}
	return []string{"a/b"}, nil
}

func (w *recordingWarmer) seen() []source.Relation {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]source.Relation(nil), w.rels...)
}

func TestRunSweepsAndWarms(t *testing.T) {
	sweeper := &countingSweeper{}
	warmer := &recordingWarmer{fail: source.RelActiveUsers}
	s := New(sweeper, warmer, 5*time.Millisecond, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return sweeper.count() >= 2 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, []source.Relation{source.RelTrendingRepos, source.RelActiveUsers}, warmer.seen())
}

func TestRunWithoutWarmer(t *testing.T) {
	s := New(nil, nil, time.Millisecond, time.Millisecond, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Run(ctx), context.DeadlineExceeded)
}

func TestDefaults(t *testing.T) {
	s := New(nil, nil, 0, 0, nil)
	assert.Equal(t, 10*time.Minute, s.sweepInt)
	assert.Equal(t, 30*time.Minute, s.warmInt)
}
