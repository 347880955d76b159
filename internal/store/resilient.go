package store

import (
	"context"

	"go.uber.org/zap"
)

// Resilient wraps a Store so that failures never reach the caller.
//
// Every error is logged and counted, reads degrade to an empty result and
// writes become no-ops. In-memory engine state stays authoritative until the
// next successful write.
type Resilient struct {
	inner  Store
	logger *zap.Logger
}

// NewResilient wraps inner. A nil inner behaves like an always-empty store.
func NewResilient(inner Store, logger *zap.Logger) *Resilient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resilient{inner: inner, logger: logger.Named("store")}
}

// Get never returns an error; failures yield an empty map.
func (r *Resilient) Get(ctx context.Context, ns Namespace, keys ...string) (map[string][]byte, error) {
	if r.inner == nil {
		return map[string][]byte{}, nil
	}
	values, err := r.inner.Get(ctx, ns, keys...)
	if err != nil {
		r.fail("get", ns, err)
		return map[string][]byte{}, nil
	}
	RecordOperation("get", ns, true)
	return values, nil
}

// Set never returns an error; failures are logged.
func (r *Resilient) Set(ctx context.Context, ns Namespace, data map[string][]byte) error {
	if r.inner == nil {
		return nil
	}
	if err := r.inner.Set(ctx, ns, data); err != nil {
		r.fail("set", ns, err)
		return nil
	}
	RecordOperation("set", ns, true)
	return nil
}

// Remove never returns an error; failures are logged.
func (r *Resilient) Remove(ctx context.Context, ns Namespace, keys ...string) error {
	if r.inner == nil {
		return nil
	}
	if err := r.inner.Remove(ctx, ns, keys...); err != nil {
		r.fail("remove", ns, err)
		return nil
	}
	RecordOperation("remove", ns, true)
	return nil
}

// Close closes the wrapped store and reports its error, since shutdown
// callers want to know about it.
func (r *Resilient) Close() error {
	if r.inner == nil {
		return nil
	}
	return r.inner.Close()
}

func (r *Resilient) fail(op string, ns Namespace, err error) {
	RecordOperation(op, ns, false)
	r.logger.Warn("store operation failed",
		zap.String("op", op),
		zap.String("namespace", string(ns)),
		zap.Error(err))
}
