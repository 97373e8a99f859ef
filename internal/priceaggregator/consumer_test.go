package priceaggregator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coruscant-bank/beskar-liquidation/internal/clock"
	"github.com/coruscant-bank/beskar-liquidation/internal/domain"
	"github.com/coruscant-bank/beskar-liquidation/pkg/logger"
)

type recordingListener struct {
	mu     sync.Mutex
	venues []domain.Venue
}

func (r *recordingListener) OnTick(_ context.Context, venue domain.Venue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.venues = append(r.venues, venue)
}

func (r *recordingListener) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.venues)
}

func TestHandleMessageIngestsValidMosEspaTickAndNotifiesListener(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	agg := New(clk, time.Hour, logger.Development("consumer-test"))
	listener := &recordingListener{}
	c := NewMosEspaConsumer(nil, "prices.mos_espa", clk, agg, listener, logger.Development("consumer-test"))

	raw := []byte(`{"ladder":[
		{"quantity":1,"buy":"99","sell":"101","time":"2026-01-01T00:00:00Z"},
		{"quantity":10,"buy":"95","sell":"105","time":"2026-01-01T00:00:00Z"},
		{"quantity":50,"buy":"90","sell":"110","time":"2026-01-01T00:00:00Z"},
		{"quantity":100,"buy":"85","sell":"115","time":"2026-01-01T00:00:00Z"}
	]}`)

	c.handleMessage(context.Background(), raw)

	_, ok := agg.Latest(domain.VenueMosEspa)
	assert.True(t, ok)
	assert.Equal(t, 1, listener.count())
}

func TestHandleMessageDropsMalformedTickWithoutNotifying(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	agg := New(clk, time.Hour, logger.Development("consumer-test"))
	listener := &recordingListener{}
	c := NewMosEspaConsumer(nil, "prices.mos_espa", clk, agg, listener, logger.Development("consumer-test"))

	c.handleMessage(context.Background(), []byte(`not json`))

	_, ok := agg.Latest(domain.VenueMosEspa)
	assert.False(t, ok)
	assert.Equal(t, 0, listener.count())
}

func TestHandleMessageSkipsNonBSKBlackSpireItemSilently(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	agg := New(clk, time.Hour, logger.Development("consumer-test"))
	listener := &recordingListener{}
	c := NewBlackSpireConsumer(nil, "prices.black_spire", clk, agg, listener, logger.Development("consumer-test"))

	c.handleMessage(context.Background(), []byte(`{"item":"CARBONITE","time":1700000000,"buy":[],"sell":[]}`))

	_, ok := agg.Latest(domain.VenueBlackSpire)
	assert.False(t, ok)
	assert.Equal(t, 0, listener.count())
}

func TestHandleMessageIngestsValidBlackSpireTick(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	agg := New(clk, time.Hour, logger.Development("consumer-test"))
	listener := &recordingListener{}
	c := NewBlackSpireConsumer(nil, "prices.black_spire", clk, agg, listener, logger.Development("consumer-test"))

	raw := []byte(`{
		"item":"BSK","time":1700000000,
		"buy":[{"amount":1,"price":99},{"amount":10,"price":95},{"amount":50,"price":90},{"amount":100,"price":85}],
		"sell":[{"amount":1,"price":101},{"amount":10,"price":105},{"amount":50,"price":110},{"amount":100,"price":115}]
	}`)

	c.handleMessage(context.Background(), raw)

	_, ok := agg.Latest(domain.VenueBlackSpire)
	require.True(t, ok)
	assert.Equal(t, 1, listener.count())
}
