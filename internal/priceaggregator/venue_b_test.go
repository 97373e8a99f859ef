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

func TestParseVenueBFullLadder(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	raw := []byte(`{
		"item":"BSK","time":1700000000,
		"buy":[{"amount":1,"price":99},{"amount":10,"price":95},{"amount":50,"price":90},{"amount":100,"price":85}],
		"sell":[{"amount":1,"price":101},{"amount":10,"price":105},{"amount":50,"price":110},{"amount":100,"price":115}]
	}`)

	tick, keep, err := ParseVenueB(clk, raw)
	require.NoError(t, err)
	require.True(t, keep)
	assert.Equal(t, domain.VenueBlackSpire, tick.Venue)
	assert.Len(t, tick.Tiers, 4)

	sell, ok := tick.SellPriceForTier(100)
	require.True(t, ok)
	assert.True(t, sell.Equal(decimal.NewFromInt(115)))
}

func TestParseVenueBNonBSKItemIsSilentlyDropped(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	raw := []byte(`{"item":"CARBONITE","time":1700000000,"buy":[],"sell":[]}`)

	_, keep, err := ParseVenueB(clk, raw)
	require.NoError(t, err, "a non-BSK item must not be treated as a parse error")
	assert.False(t, keep)
}

func TestParseVenueBTierMissingOneSideIsIncomplete(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	raw := []byte(`{
		"item":"BSK","time":1700000000,
		"buy":[{"amount":1,"price":99}],
		"sell":[{"amount":1,"price":101},{"amount":10,"price":105}]
	}`)

	tick, keep, err := ParseVenueB(clk, raw)
	require.NoError(t, err)
	require.True(t, keep)
	_, ok := tick.SellPriceForTier(10)
	assert.False(t, ok, "a tier quoted only on the sell side never becomes a complete PriceLevel")
}

func TestParseVenueBMalformedJSONIsError(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	_, _, err := ParseVenueB(clk, []byte(`not json`))
	require.Error(t, err)
}
