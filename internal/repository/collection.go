// Package repository implements the task and category repositories: the
// remote-synced variants that apply every mutation optimistically and roll it
// back when the document store rejects it, and the local-only variants that
// keep everything in the cache.
package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"todo-go/internal/todo"
)

// Options carries the collaborators shared by every repository.
type Options struct {
	Cache  todo.Cache
	Status *todo.SyncStatus
	Clock  todo.Clock
	IDs    todo.IDGenerator
	Logger todo.Logger
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = todo.RealClock{}
	}
	if o.IDs == nil {
		o.IDs = todo.UUIDGenerator{}
	}
	if o.Logger == nil {
		o.Logger = todo.NewNopLogger()
	}
	if o.Status == nil {
		o.Status = todo.NewSyncStatus()
	}
	return o
}

// syncedList is the state behind one remote-synced repository: the live list,
// the cache entry mirroring it, and the sync channel it reports on.
// T must be a value type with no reference fields, so copying the slice
// copies the state.
type syncedList[T any] struct {
	channel  string
	cacheKey string
	cache    todo.Cache
	status   *todo.SyncStatus
	logger   todo.Logger

	queue mutationQueue

	// mu orders publish+cache pairs so the cache always ends up holding
	// the last published list.
	mu      sync.Mutex
	state   *todo.Stream[[]T]
	settled bool // a remote snapshot or local mutation has been published

	restored chan struct{}
}

func newSyncedList[T any](channel, cacheKey string, opts Options) *syncedList[T] {
	return &syncedList[T]{
		channel:  channel,
		cacheKey: cacheKey,
		cache:    opts.Cache,
		status:   opts.Status,
		logger:   opts.Logger,
		state:    todo.NewStream([]T{}),
		restored: make(chan struct{}),
	}
}

// snapshot returns a copy of the current list that later mutations cannot alias.
func (l *syncedList[T]) snapshot() []T {
	return slices.Clone(l.state.Value())
}

// persistLocally publishes items and then writes them to the cache.
func (l *syncedList[T]) persistLocally(ctx context.Context, items []T) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.settled = true
	l.state.Publish(items)
	return todo.CacheSet(ctx, l.cache, l.cacheKey, items)
}

// restore publishes the cached list unless it is empty or something newer
// has already been published.
func (l *syncedList[T]) restore(ctx context.Context) {
	defer close(l.restored)

	cached, err := todo.CacheGet(ctx, l.cache, l.cacheKey, []T{})
	if err != nil {
		l.logger.Warn("restoring cached snapshot failed", "channel", l.channel, "error", err)
		return
	}
	if len(cached) == 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.settled {
		l.logger.Debug("skipping cached snapshot, newer state already published", "channel", l.channel)
		return
	}
	l.state.Publish(cached)
	l.logger.Debug("restored cached snapshot", "channel", l.channel, "count", len(cached))
}

// applyRemote replaces the list with a snapshot from the document store.
func (l *syncedList[T]) applyRemote(ctx context.Context, items []T) {
	if err := l.persistLocally(ctx, items); err != nil {
		l.logger.Warn("cache sync failed", "channel", l.channel, "error", err)
		return
	}
	l.status.Update(l.channel, todo.PhaseOnline, "")
}

func (l *syncedList[T]) remoteError(err error) {
	l.logger.Error("snapshot error", "channel", l.channel, "error", err)
	l.status.Update(l.channel, todo.PhaseOffline, err.Error())
}

// mutate runs one optimistic mutation. apply receives a private copy of the
// current list and returns the new one, which is published and cached before
// remote runs. If remote fails the pre-mutation list is restored and the
// remote error is returned. A cache failure while applying is returned as is,
// leaving the optimistic list published.
// ctx only bounds the wait for the queue: once admitted, the remote call and
// any rollback run to completion even if the caller goes away.
func (l *syncedList[T]) mutate(ctx context.Context, op string, apply func([]T) []T, remote func(ctx context.Context) error) error {
	release, err := l.queue.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	ctx = context.WithoutCancel(ctx)

	previous := l.snapshot()
	if err := l.persistLocally(ctx, apply(l.snapshot())); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	l.status.Update(l.channel, todo.PhaseSyncing, "")
	if err := remote(ctx); err != nil {
		l.status.Update(l.channel, todo.PhaseOffline, err.Error())
		l.logger.Warn("remote write failed, rolling back", "channel", l.channel, "op", op, "error", err)
		if rerr := l.persistLocally(ctx, previous); rerr != nil {
			return errors.Join(err, fmt.Errorf("rolling back %s: %w", op, rerr))
		}
		return err
	}

	l.status.Update(l.channel, todo.PhaseOnline, "")
	l.logger.Debug("mutation synced", "channel", l.channel, "op", op)
	return nil
}

// lifecycle is the start-up and shutdown shared by the remote repositories.
type lifecycle struct {
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	closeOnce   sync.Once
}

func (lc *lifecycle) close(restored <-chan struct{}) {
	lc.closeOnce.Do(func() {
		if lc.unsubscribe != nil {
			lc.unsubscribe()
		}
		lc.cancel()
		<-restored
	})
}

// start reports connecting, restores the cache in the background and opens
// the standing subscription, mapping each snapshot with decode.
func start[T any](l *syncedList[T], store todo.DocumentStore, q todo.Query, decode func([]todo.Document) []T) *lifecycle {
	ctx, cancel := context.WithCancel(context.Background())
	lc := &lifecycle{ctx: ctx, cancel: cancel}

	l.status.Update(l.channel, todo.PhaseConnecting, "")
	go l.restore(ctx)
	lc.unsubscribe = store.Subscribe(q,
		func(docs []todo.Document) { l.applyRemote(ctx, decode(docs)) },
		l.remoteError,
	)
	return lc
}
