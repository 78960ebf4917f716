// Package sqlite is the leaf adapter over the store's records table.
//
// Every step runs its query through flow.Go, so the dispatch handle settles
// on a later turn of the registry's scheduler.
package sqlite

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/protoflow/internal/adapter"
	"github.com/roach88/protoflow/internal/flow"
	"github.com/roach88/protoflow/internal/ir"
	"github.com/roach88/protoflow/internal/store"
)

// Adapter keeps one collection of records.
type Adapter struct {
	store      *store.Store
	collection string
	sched      flow.Scheduler
	ctx        context.Context
	logger     *slog.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// WithContext sets the context passed to every query.
// Default: context.Background().
func WithContext(ctx context.Context) Option {
	return func(a *Adapter) {
		a.ctx = ctx
	}
}

// New creates an adapter for collection. Results settle through sched;
// pass the registry's scheduler.
func New(st *store.Store, collection string, sched flow.Scheduler, opts ...Option) *Adapter {
	a := &Adapter{
		store:      st,
		collection: collection,
		sched:      sched,
		ctx:        context.Background(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var _ adapter.Leaf = (*Adapter)(nil)

// Collection returns the collection name.
func (a *Adapter) Collection() string { return a.collection }

// Save upserts (key, value) and resolves with value. Values must be
// representable as ir.Value.
func (a *Adapter) Save() flow.DeferredStep {
	return func(d *flow.Deferred, args ...any) any {
		key, err := adapter.Key(args)
		if err != nil {
			d.Reject(err)
			return nil
		}
		payload, err := adapter.Payload(args)
		if err != nil {
			d.Reject(err)
			return nil
		}
		data, err := ir.FromGo(payload)
		if err != nil {
			d.Reject(fmt.Errorf("value: %w", err))
			return nil
		}
		return flow.Go(a.sched, func() (any, error) {
			id, err := a.store.PutRecord(a.ctx, a.collection, key, data)
			if err != nil {
				return nil, err
			}
			a.logger.Debug("record saved", "collection", a.collection, "id", id)
			return payload, nil
		})
	}
}

// Find resolves with the stored value converted by ir.ToGo, or advances to
// the next implementation when there is no record.
func (a *Adapter) Find() flow.DeferredStep {
	return func(d *flow.Deferred, args ...any) any {
		key, err := adapter.Key(args)
		if err != nil {
			d.Reject(err)
			return nil
		}
		type lookup struct {
			value ir.Value
			found bool
		}
		out := flow.NewFuture()
		flow.Go(a.sched, func() (any, error) {
			v, ok, err := a.store.GetRecord(a.ctx, a.collection, key)
			return lookup{v, ok}, err
		}).Then(func(res any) {
			l := res.(lookup)
			if !l.found {
				out.Resolve(d.Advance())
				return
			}
			out.Resolve(ir.ToGo(l.value))
		}, out.Reject)
		return out
	}
}

// Remove deletes the record and resolves with whether it existed.
func (a *Adapter) Remove() flow.DeferredStep {
	return func(d *flow.Deferred, args ...any) any {
		key, err := adapter.Key(args)
		if err != nil {
			d.Reject(err)
			return nil
		}
		return flow.Go(a.sched, func() (any, error) {
			existed, err := a.store.DeleteRecord(a.ctx, a.collection, key)
			if err != nil {
				return nil, err
			}
			return existed, nil
		})
	}
}
