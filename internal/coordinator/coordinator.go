// Package coordinator is the process-wide registry of running operations
// and file watchers. At most one operation runs per app; total concurrency
// is bounded; finished operations stay readable for a while.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/todddickerson/overskill-sub011/internal/notify"
	"github.com/todddickerson/overskill-sub011/internal/sourcefile"
)

var (
	ErrBusy     = errors.New("an operation is already running for this app")
	ErrNotFound = errors.New("no operation for this app")
	ErrClosed   = errors.New("coordinator is closed")
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Operation is a snapshot; callers never see the coordinator's copy.
type Operation struct {
	ID         string
	AppID      string
	Kind       string
	Status     Status
	Error      string
	Result     any
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

func (o Operation) Done() bool {
	return o.Status == StatusSucceeded || o.Status == StatusFailed || o.Status == StatusCanceled
}

// Func is the body of an operation. A non-nil error marks it failed.
type Func func(ctx context.Context) (any, error)

// Watcher blocks delivering changes for appID until ctx ends.
// sourcefile.DirStore.Watch fits once its logger is bound.
type Watcher func(ctx context.Context, appID string, onChange func(sourcefile.Change)) error

type Broadcaster interface {
	Broadcast(appID string, msg notify.Message) int
}

type LiveChecker interface {
	Live(ctx context.Context, appID, env string) (bool, error)
}

type Options struct {
	MaxConcurrent int
	ResultTTL     time.Duration
	// PreviewEnv is the environment whose live deployment gates change
	// broadcasts.
	PreviewEnv string
	// OnFileChange runs for every observed change before broadcasting.
	OnFileChange func(appID, path string)
}

type watch struct {
	cancel context.CancelFunc
}

type entry struct {
	op     Operation
	cancel context.CancelFunc
	done   chan struct{}
}

type Coordinator struct {
	opts Options
	hub  Broadcaster
	live LiveChecker
	log  *zap.Logger
	sem  *semaphore.Weighted

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	active   map[string]*entry
	watchers map[string]*watch
	finished *expirable.LRU[string, Operation]
}

func New(opts Options, hub Broadcaster, live LiveChecker, log *zap.Logger) *Coordinator {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = 15 * time.Minute
	}
	if opts.PreviewEnv == "" {
		opts.PreviewEnv = "preview"
	}
	if log == nil {
		log = zap.NewNop()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		opts:     opts,
		hub:      hub,
		live:     live,
		log:      log,
		sem:      semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		base:     base,
		cancel:   cancel,
		active:   make(map[string]*entry),
		watchers: make(map[string]*watch),
		finished: expirable.NewLRU[string, Operation](1024, nil, opts.ResultTTL),
	}
}

// Start registers and launches an operation for appID. It returns ErrBusy
// while another operation for the same app is queued or running.
func (c *Coordinator) Start(appID, kind string, fn Func) (Operation, error) {
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return Operation{}, fmt.Errorf("app_id is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Operation{}, ErrClosed
	}
	if cur, ok := c.active[appID]; ok {
		return cur.op, ErrBusy
	}

	ctx, cancel := context.WithCancel(c.base)
	e := &entry{
		op: Operation{
			ID:        uuid.NewString(),
			AppID:     appID,
			Kind:      kind,
			Status:    StatusQueued,
			CreatedAt: time.Now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.active[appID] = e
	c.wg.Add(1)
	go c.run(ctx, e, fn)
	return e.op, nil
}

func (c *Coordinator) run(ctx context.Context, e *entry, fn Func) {
	defer c.wg.Done()
	defer e.cancel()
	log := c.log.With(zap.String("app_id", e.op.AppID), zap.String("operation_id", e.op.ID), zap.String("kind", e.op.Kind))

	if err := c.sem.Acquire(ctx, 1); err != nil {
		c.finish(e, nil, err)
		return
	}
	defer c.sem.Release(1)

	c.mu.Lock()
	e.op.Status = StatusRunning
	e.op.StartedAt = time.Now().UTC()
	c.mu.Unlock()
	log.Info("operation started")

	result, err := invoke(ctx, fn)
	c.finish(e, result, err)
	if err != nil {
		log.Warn("operation failed", zap.Error(err))
		return
	}
	log.Info("operation finished")
}

func invoke(ctx context.Context, fn Func) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()
	return fn(ctx)
}

func (c *Coordinator) finish(e *entry, result any, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e.op.Result = result
	e.op.FinishedAt = time.Now().UTC()
	switch {
	case err == nil:
		e.op.Status = StatusSucceeded
	case errors.Is(err, context.Canceled):
		e.op.Status = StatusCanceled
		e.op.Error = err.Error()
	default:
		e.op.Status = StatusFailed
		e.op.Error = err.Error()
	}
	if c.active[e.op.AppID] == e {
		delete(c.active, e.op.AppID)
	}
	c.finished.Add(e.op.AppID, e.op)
	close(e.done)
}

// Stop cancels the app's active operation. It reports whether one existed.
func (c *Coordinator) Stop(appID string) bool {
	c.mu.Lock()
	e, ok := c.active[strings.TrimSpace(appID)]
	c.mu.Unlock()
	if ok {
		e.cancel()
	}
	return ok
}

// Lookup returns the active operation for appID, else the most recent
// finished one still retained.
func (c *Coordinator) Lookup(appID string) (Operation, bool) {
	appID = strings.TrimSpace(appID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.active[appID]; ok {
		return e.op, true
	}
	return c.finished.Get(appID)
}

// Wait blocks until the app's active operation finishes and returns it.
func (c *Coordinator) Wait(ctx context.Context, appID string) (Operation, error) {
	appID = strings.TrimSpace(appID)
	c.mu.Lock()
	e, ok := c.active[appID]
	c.mu.Unlock()
	if ok {
		select {
		case <-e.done:
		case <-ctx.Done():
			return Operation{}, ctx.Err()
		}
	}
	op, ok := c.Lookup(appID)
	if !ok {
		return Operation{}, ErrNotFound
	}
	return op, nil
}

// Watch starts w for appID unless a watcher is already registered.
func (c *Coordinator) Watch(appID string, w Watcher) error {
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return fmt.Errorf("app_id is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if _, ok := c.watchers[appID]; ok {
		return nil
	}
	ctx, cancel := context.WithCancel(c.base)
	wt := &watch{cancel: cancel}
	c.watchers[appID] = wt
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := w(ctx, appID, func(ch sourcefile.Change) {
			c.FileChanged(ctx, appID, ch.Path, ch.Content)
		})
		if err != nil {
			c.log.Warn("watcher stopped", zap.String("app_id", appID), zap.Error(err))
		}
		c.mu.Lock()
		if c.watchers[appID] == wt {
			delete(c.watchers, appID)
		}
		c.mu.Unlock()
		cancel()
	}()
	return nil
}

func (c *Coordinator) Unwatch(appID string) bool {
	c.mu.Lock()
	wt, ok := c.watchers[strings.TrimSpace(appID)]
	c.mu.Unlock()
	if ok {
		wt.cancel()
	}
	return ok
}

// Watching reports whether a watcher is registered for appID.
func (c *Coordinator) Watching(appID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.watchers[strings.TrimSpace(appID)]
	return ok
}

// FileChanged broadcasts a change when the app has a live preview. It
// reports whether anything was sent.
func (c *Coordinator) FileChanged(ctx context.Context, appID, path string, content []byte) bool {
	if c.opts.OnFileChange != nil {
		c.opts.OnFileChange(appID, path)
	}
	if c.hub == nil || c.live == nil {
		return false
	}
	live, err := c.live.Live(ctx, appID, c.opts.PreviewEnv)
	if err != nil {
		c.log.Warn("preview lookup failed", zap.String("app_id", appID), zap.Error(err))
		return false
	}
	if !live {
		return false
	}
	c.hub.Broadcast(appID, notify.Message{
		Kind:    notify.KindFileChanged,
		Path:    sourcefile.NormalizePath(path),
		Content: string(content),
	})
	return true
}

// Close cancels every operation and watcher and waits for them to exit.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}
