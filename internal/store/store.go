// Package store provides namespaced key/value persistence for the engine.
//
// The engine keeps its working state in memory and mirrors it into a Store.
// Implementations may fail; wrap them with NewResilient so that failures are
// logged and counted instead of propagating into engine operations.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Namespace partitions the key space.
type Namespace string

const (
	NamespacePreferences     Namespace = "userPreferences"
	NamespacePopupHistory    Namespace = "popupHistory"
	NamespaceUserDecisions   Namespace = "userDecisions"
	NamespaceLearnedPatterns Namespace = "learningPatterns"
	NamespacePendingDecision Namespace = "pendingDecisions"
)

// Namespaces lists every namespace a Store accepts.
var Namespaces = []Namespace{
	NamespacePreferences,
	NamespacePopupHistory,
	NamespaceUserDecisions,
	NamespaceLearnedPatterns,
	NamespacePendingDecision,
}

var (
	ErrUnknownNamespace = errors.New("unknown namespace")
	ErrClosed           = errors.New("store is closed")
)

// Valid reports whether ns is a known namespace.
func (ns Namespace) Valid() bool {
	for _, n := range Namespaces {
		if n == ns {
			return true
		}
	}
	return false
}

// Store is an asynchronous-safe namespaced key/value store.
type Store interface {
	// Get returns the values stored under keys. With no keys it returns the
	// whole namespace. Missing keys are absent from the result.
	Get(ctx context.Context, ns Namespace, keys ...string) (map[string][]byte, error)

	// Set upserts every key in data.
	Set(ctx context.Context, ns Namespace, data map[string][]byte) error

	// Remove deletes keys. Removing a missing key is not an error.
	Remove(ctx context.Context, ns Namespace, keys ...string) error

	// Close releases resources.
	Close() error
}

func checkNamespace(ns Namespace) error {
	if !ns.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownNamespace, ns)
	}
	return nil
}

// SetJSON marshals v and stores it under key.
func SetJSON(ctx context.Context, s Store, ns Namespace, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", ns, key, err)
	}
	return s.Set(ctx, ns, map[string][]byte{key: data})
}

// GetJSON loads key into v. It returns false when the key is absent.
func GetJSON(ctx context.Context, s Store, ns Namespace, key string, v interface{}) (bool, error) {
	values, err := s.Get(ctx, ns, key)
	if err != nil {
		return false, err
	}
	raw, ok := values[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("unmarshal %s/%s: %w", ns, key, err)
	}
	return true, nil
}
