package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/todddickerson/overskill-sub011/internal/notify"
	"github.com/todddickerson/overskill-sub011/internal/sourcefile"
)

// newCoordinator snapshots goroutines after construction so the result
// cache's janitor is not reported as a leak.
func newCoordinator(t *testing.T, opts Options, hub Broadcaster, live LiveChecker) *Coordinator {
	t.Helper()
	c := New(opts, hub, live, nil)
	ignore := goleak.IgnoreCurrent()
	t.Cleanup(func() {
		c.Close()
		goleak.VerifyNone(t, ignore)
	})
	return c
}

func wait(t *testing.T, c *Coordinator, appID string) Operation {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	op, err := c.Wait(ctx, appID)
	require.NoError(t, err)
	return op
}

func TestStartRunsAndRetainsResult(t *testing.T) {
	c := newCoordinator(t, Options{}, nil, nil)

	op, err := c.Start("app", "deploy", func(context.Context) (any, error) { return "https://app.example.com", nil })
	require.NoError(t, err)
	assert.NotEmpty(t, op.ID)
	assert.Equal(t, StatusQueued, op.Status)

	done := wait(t, c, "app")
	assert.Equal(t, op.ID, done.ID)
	assert.Equal(t, StatusSucceeded, done.Status)
	assert.Equal(t, "https://app.example.com", done.Result)
	assert.True(t, done.Done())

	got, ok := c.Lookup("app")
	require.True(t, ok)
	assert.Equal(t, done, got)
}

func TestSameAppIsBusy(t *testing.T) {
	c := newCoordinator(t, Options{}, nil, nil)
	release := make(chan struct{})

	first, err := c.Start("app", "deploy", func(context.Context) (any, error) {
		<-release
		return nil, nil
	})
	require.NoError(t, err)

	cur, err := c.Start("app", "deploy", func(context.Context) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, first.ID, cur.ID)

	_, err = c.Start("other", "deploy", func(context.Context) (any, error) { return nil, nil })
	assert.NoError(t, err)

	close(release)
	wait(t, c, "app")
	_, err = c.Start("app", "deploy", func(context.Context) (any, error) { return nil, nil })
	assert.NoError(t, err)
	wait(t, c, "app")
	wait(t, c, "other")
}

func TestConcurrencyIsBounded(t *testing.T) {
	c := newCoordinator(t, Options{MaxConcurrent: 2}, nil, nil)
	var running, peak atomic.Int32
	release := make(chan struct{})

	apps := []string{"a", "b", "c", "d", "e"}
	for _, app := range apps {
		_, err := c.Start(app, "build", func(context.Context) (any, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			return nil, nil
		})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return running.Load() == 2 }, time.Second, 5*time.Millisecond)
	queued := 0
	for _, app := range apps {
		if op, ok := c.Lookup(app); ok && op.Status == StatusQueued {
			queued++
		}
	}
	assert.Equal(t, 3, queued)
	close(release)
	for _, app := range apps {
		assert.Equal(t, StatusSucceeded, wait(t, c, app).Status)
	}
	assert.Equal(t, int32(2), peak.Load())
}

func TestStopCancelsOperation(t *testing.T) {
	c := newCoordinator(t, Options{}, nil, nil)
	started := make(chan struct{})
	_, err := c.Start("app", "build", func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)
	<-started

	assert.True(t, c.Stop("app"))
	op := wait(t, c, "app")
	assert.Equal(t, StatusCanceled, op.Status)
	assert.False(t, c.Stop("app"))
}

func TestFailureAndPanicAreRecorded(t *testing.T) {
	c := newCoordinator(t, Options{}, nil, nil)

	_, err := c.Start("a", "build", func(context.Context) (any, error) { return nil, errors.New("boom") })
	require.NoError(t, err)
	op := wait(t, c, "a")
	assert.Equal(t, StatusFailed, op.Status)
	assert.Equal(t, "boom", op.Error)

	_, err = c.Start("b", "build", func(context.Context) (any, error) { panic("kaboom") })
	require.NoError(t, err)
	op = wait(t, c, "b")
	assert.Equal(t, StatusFailed, op.Status)
	assert.Contains(t, op.Error, "kaboom")
}

func TestLookupUnknownApp(t *testing.T) {
	c := newCoordinator(t, Options{}, nil, nil)
	_, ok := c.Lookup("nope")
	assert.False(t, ok)
	_, err := c.Wait(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFinishedResultsExpire(t *testing.T) {
	c := newCoordinator(t, Options{ResultTTL: 50 * time.Millisecond}, nil, nil)
	_, err := c.Start("app", "build", func(context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)
	wait(t, c, "app")
	require.Eventually(t, func() bool {
		_, ok := c.Lookup("app")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestClosedCoordinatorRejectsWork(t *testing.T) {
	c := New(Options{}, nil, nil, nil)
	c.Close()
	_, err := c.Start("app", "build", func(context.Context) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.Watch("app", nil), ErrClosed)
}

type liveSet map[string]bool

func (l liveSet) Live(_ context.Context, appID, env string) (bool, error) {
	return l[appID+"/"+env], nil
}

type recorder struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (r *recorder) Broadcast(appID string, msg notify.Message) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg.AppID = appID
	r.msgs = append(r.msgs, msg)
	return 1
}

func (r *recorder) Messages() []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Message(nil), r.msgs...)
}

func TestFileChangedBroadcastsOnlyForLivePreview(t *testing.T) {
	hub := &recorder{}
	var invalidated []string
	c := newCoordinator(t, Options{OnFileChange: func(appID, _ string) { invalidated = append(invalidated, appID) }},
		hub, liveSet{"live/preview": true})

	assert.True(t, c.FileChanged(context.Background(), "live", "./src/App.tsx", []byte("x")))
	assert.False(t, c.FileChanged(context.Background(), "cold", "src/App.tsx", []byte("x")))

	msgs := hub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, notify.KindFileChanged, msgs[0].Kind)
	assert.Equal(t, "src/App.tsx", msgs[0].Path)
	assert.Equal(t, "x", msgs[0].Content)
	assert.Equal(t, []string{"live", "cold"}, invalidated)
}

func TestWatchForwardsChanges(t *testing.T) {
	hub := &recorder{}
	c := newCoordinator(t, Options{}, hub, liveSet{"app/preview": true})

	fire := make(chan sourcefile.Change)
	watcher := func(ctx context.Context, appID string, onChange func(sourcefile.Change)) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case ch := <-fire:
				onChange(ch)
			}
		}
	}
	require.NoError(t, c.Watch("app", watcher))
	require.NoError(t, c.Watch("app", watcher))
	assert.True(t, c.Watching("app"))

	fire <- sourcefile.Change{AppID: "app", Path: "index.html", Content: []byte("<html>")}
	require.Eventually(t, func() bool { return len(hub.Messages()) == 1 }, time.Second, 5*time.Millisecond)

	assert.True(t, c.Unwatch("app"))
	require.Eventually(t, func() bool { return !c.Watching("app") }, time.Second, 5*time.Millisecond)
}
