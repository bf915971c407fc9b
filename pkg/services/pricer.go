package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// FlatPricer prices commerce items at a flat per-item rate. It stands in for
// the external pricing service in single-binary deployments; the commerce
// processor only sees the Pricer interface.
type FlatPricer struct {
	PerItemCents int64
	Currency     string
}

// NewFlatPricer creates a pricer with the default rate.
func NewFlatPricer() *FlatPricer {
	return &FlatPricer{PerItemCents: 500, Currency: "USD"}
}

// Quote prices a set of items. An empty item list is priced as one item.
func (p *FlatPricer) Quote(ctx context.Context, userID uuid.UUID, items json.RawMessage) (int64, string, json.RawMessage, error) {
	n := 1
	if len(items) > 0 {
		var parsed []json.RawMessage
		if err := json.Unmarshal(items, &parsed); err != nil {
			return 0, "", nil, fmt.Errorf("items must be a JSON array: %w", err)
		}
		if len(parsed) > 0 {
			n = len(parsed)
		}
	}
	amount := int64(n) * p.PerItemCents
	breakdown, err := json.Marshal(map[string]any{
		"items":          n,
		"per_item_cents": p.PerItemCents,
		"currency":       p.Currency,
	})
	if err != nil {
		return 0, "", nil, err
	}
	return amount, p.Currency, breakdown, nil
}
