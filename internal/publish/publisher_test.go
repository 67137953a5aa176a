package publish

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Publisher = (*KafkaPublisher)(nil)
	_ Publisher = (*MemoryPublisher)(nil)
	_ Publisher = NewDiscardPublisher()
)

func update(symbol, bid, ask, last string) BookUpdate {
	return BookUpdate{
		Symbol:         symbol,
		BestBid:        decimal.RequireFromString(bid),
		BestAsk:        decimal.RequireFromString(ask),
		LastTradePrice: decimal.RequireFromString(last),
		At:             time.Now(),
	}
}

func TestBookUpdateEqualIgnoresTimestamp(t *testing.T) {
	a := update("BTC-USDT", "99", "101", "100")
	b := update("BTC-USDT", "99", "101", "100")
	b.At = a.At.Add(time.Minute)

	assert.True(t, a.Equal(b))

	c := update("BTC-USDT", "99.5", "101", "100")
	assert.False(t, a.Equal(c))

	d := update("ETH-USDT", "99", "101", "100")
	assert.False(t, a.Equal(d))
}

func TestBookUpdateJSONShape(t *testing.T) {
	u := update("BTC-USDT", "99", "101", "100")

	data, err := json.Marshal(u)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "BTC-USDT", decoded["symbol"])
	assert.Contains(t, decoded, "best_bid")
	assert.Contains(t, decoded, "best_ask")
	assert.Contains(t, decoded, "last_trade_price")
}

func TestMemoryPublisher(t *testing.T) {
	p := NewMemoryPublisher()
	require.NoError(t, p.Publish(context.Background(), update("BTC-USDT", "99", "101", "100")))
	require.NoError(t, p.Publish(context.Background(), update("ETH-USDT", "9", "11", "10")))

	assert.Equal(t, 2, p.Count())
	assert.Equal(t, "BTC-USDT", p.Get(0).Symbol)

	updates := p.Updates()
	require.Len(t, updates, 2)
	assert.Equal(t, "ETH-USDT", updates[1].Symbol)
}
