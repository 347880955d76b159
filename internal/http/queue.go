package http

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/popguard/internal/decision"
)

// DefaultQueueLimit caps the presentations parked for one tab.
const DefaultQueueLimit = 64

// Queue errors.
var (
	ErrQueueFull  = errors.New("decision queue is full")
	ErrMissingTab = errors.New("presentation has no tab ID")
)

// QueueChannel is a decision.UserDecisionChannel that parks presentations per
// tab until the extension polls for them. An entry leaves the queue when the
// coordinator settles it, whatever the outcome.
type QueueChannel struct {
	mu    sync.Mutex
	tabs  map[string]map[string]decision.Pending
	limit int
}

var (
	_ decision.UserDecisionChannel = (*QueueChannel)(nil)
	_ decision.Withdrawer          = (*QueueChannel)(nil)
)

// NewQueueChannel returns an empty queue. A limit below 1 uses
// DefaultQueueLimit.
func NewQueueChannel(limit int) *QueueChannel {
	if limit < 1 {
		limit = DefaultQueueLimit
	}
	return &QueueChannel{
		tabs:  make(map[string]map[string]decision.Pending),
		limit: limit,
	}
}

// Present parks p under its tab. A full tab queue refuses the presentation;
// the coordinator's timer still settles the decision.
func (q *QueueChannel) Present(_ context.Context, p decision.Pending) error {
	if p.TabID == "" {
		return ErrMissingTab
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	tab, ok := q.tabs[p.TabID]
	if !ok {
		tab = make(map[string]decision.Pending)
		q.tabs[p.TabID] = tab
	}
	if _, exists := tab[p.PopupID]; !exists && len(tab) >= q.limit {
		return ErrQueueFull
	}
	tab[p.PopupID] = p
	return nil
}

// Withdraw drops the presentation of popupID on tabID.
func (q *QueueChannel) Withdraw(_ context.Context, tabID, popupID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	tab, ok := q.tabs[tabID]
	if !ok {
		return
	}
	delete(tab, popupID)
	if len(tab) == 0 {
		delete(q.tabs, tabID)
	}
}

// Pending returns the parked presentations of tabID, oldest first.
func (q *QueueChannel) Pending(tabID string) []decision.Pending {
	q.mu.Lock()
	out := make([]decision.Pending, 0, len(q.tabs[tabID]))
	for _, p := range q.tabs[tabID] {
		out = append(out, p)
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].PopupID < out[j].PopupID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of parked presentations across tabs.
func (q *QueueChannel) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, tab := range q.tabs {
		n += len(tab)
	}
	return n
}
