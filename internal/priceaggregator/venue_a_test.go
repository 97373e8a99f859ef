package priceaggregator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coruscant-bank/beskar-liquidation/internal/clock"
	"github.com/coruscant-bank/beskar-liquidation/internal/domain"
)

func TestParseVenueAFullLadder(t *testing.T) {
	clk := clock.NewFake(time.Unix(1000, 0))
	raw := []byte(`{"ladder":[
		{"quantity":1,"buy":"99","sell":"101","time":"2026-01-01T00:00:00Z"},
		{"quantity":10,"buy":"95","sell":"105","time":"2026-01-01T00:00:01Z"},
		{"quantity":50,"buy":"90","sell":"110","time":"2026-01-01T00:00:02Z"},
		{"quantity":100,"buy":"85","sell":"115","time":"2026-01-01T00:00:03Z"}
	]}`)

	tick, err := ParseVenueA(clk, raw)
	require.NoError(t, err)
	assert.Equal(t, domain.VenueMosEspa, tick.Venue)
	assert.Len(t, tick.Tiers, 4)

	sell, ok := tick.SellPriceForTier(50)
	require.True(t, ok)
	assert.True(t, sell.Equal(decimal.NewFromInt(110)))
}

func TestParseVenueAInvalidDecimalInvalidatesWholeTick(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	raw := []byte(`{"ladder":[{"quantity":1,"buy":"not-a-number","sell":"101","time":"2026-01-01T00:00:00Z"}]}`)

	_, err := ParseVenueA(clk, raw)
	require.Error(t, err)
}

func TestParseVenueAMalformedJSONIsError(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	_, err := ParseVenueA(clk, []byte(`not json`))
	require.Error(t, err)
}

func TestParseVenueATakesLatestSourceTimestamp(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	raw := []byte(`{"ladder":[
		{"quantity":1,"buy":"99","sell":"101","time":"2026-01-01T00:00:05Z"},
		{"quantity":10,"buy":"95","sell":"105","time":"2026-01-01T00:00:00Z"}
	]}`)

	tick, err := ParseVenueA(clk, raw)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01T00:00:05Z", tick.SourceTimestamp.Format(time.RFC3339))
}
