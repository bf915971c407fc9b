package services

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatPricerQuote(t *testing.T) {
	p := NewFlatPricer()
	ctx := t.Context()
	userID := uuid.New()

	amount, currency, breakdown, err := p.Quote(ctx, userID,
		json.RawMessage(`[{"sku":"a"},{"sku":"b"},{"sku":"c"}]`))
	require.NoError(t, err)
	assert.Equal(t, int64(1500), amount)
	assert.Equal(t, "USD", currency)

	var bd struct {
		Items        int    `json:"items"`
		PerItemCents int64  `json:"per_item_cents"`
		Currency     string `json:"currency"`
	}
	require.NoError(t, json.Unmarshal(breakdown, &bd))
	assert.Equal(t, 3, bd.Items)
	assert.Equal(t, int64(500), bd.PerItemCents)

	// Empty and missing item lists price as one item.
	amount, _, _, err = p.Quote(ctx, userID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(500), amount)

	amount, _, _, err = p.Quote(ctx, userID, json.RawMessage(`[]`))
	require.NoError(t, err)
	assert.Equal(t, int64(500), amount)

	_, _, _, err = p.Quote(ctx, userID, json.RawMessage(`{"sku":"a"}`))
	assert.ErrorContains(t, err, "items must be a JSON array")
}
