package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/popguard/internal/popup"
	"github.com/fyrsmithlabs/popguard/internal/store"
)

func pendingKey(tabID, popupID string) string {
	return tabID + "/" + popupID
}

func (c *Coordinator) mirror(ctx context.Context, e *entry, p Pending) {
	defer close(e.mirrored)
	if c.persist == nil {
		return
	}
	if err := store.SetJSON(ctx, c.persist, store.NamespacePendingDecision, pendingKey(p.TabID, p.PopupID), p); err != nil {
		c.logger.Failure(ctx, p.TabID, p.PopupID, "persist", err)
	}
}

func (c *Coordinator) unmirror(ctx context.Context, popupID string) {
	if c.persist == nil {
		return
	}
	if err := c.persist.Remove(ctx, store.NamespacePendingDecision, pendingKey(c.tabID, popupID)); err != nil {
		c.logger.Failure(ctx, c.tabID, popupID, "persist", err)
	}
}

// RecoverOrphans settles pending decisions left in s by a previous process
// as timeouts, appending their records to history, and clears them. It
// returns how many were settled.
func RecoverOrphans(ctx context.Context, s store.Store, history HistorySink, now time.Time) (int, error) {
	raw, err := s.Get(ctx, store.NamespacePendingDecision)
	if err != nil {
		return 0, fmt.Errorf("failed to read pending decisions: %w", err)
	}
	if len(raw) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(raw))
	settled := 0
	for key, data := range raw {
		keys = append(keys, key)

		var p Pending
		if err := json.Unmarshal(data, &p); err != nil || p.PopupID == "" {
			continue
		}
		if p.TabID == "" {
			p.TabID, _, _ = strings.Cut(key, "/")
		}
		r := popup.NewRecord(p.PopupID, p.URL, p.Domain, p.Characteristics, popup.DecisionTimeout, p.Score.Value, now)
		r.TabID = p.TabID
		if history != nil {
			history.Append(ctx, *r)
		}
		settled++
	}

	if err := s.Remove(ctx, store.NamespacePendingDecision, keys...); err != nil {
		return settled, fmt.Errorf("failed to clear pending decisions: %w", err)
	}
	return settled, nil
}
