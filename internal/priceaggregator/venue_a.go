package priceaggregator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coruscant-bank/beskar-liquidation/internal/clock"
	"github.com/coruscant-bank/beskar-liquidation/internal/domain"
)

// venueAEntry is one ladder rung as MOS_ESPA publishes it: decimal strings
// and an RFC3339 timestamp per entry.
type venueAEntry struct {
	Quantity int    `json:"quantity"`
	Buy      string `json:"buy"`
	Sell     string `json:"sell"`
	Time     string `json:"time"`
}

// venueAMessage is the full MOS_ESPA wire payload: a ladder of entries.
type venueAMessage struct {
	Ladder []venueAEntry `json:"ladder"`
}

// ParseVenueA normalizes a MOS_ESPA payload into a PriceTick. Any parse
// error invalidates the whole tick, matching the "any parse error
// invalidates the whole tick" normalization rule.
func ParseVenueA(clk clock.Clock, raw []byte) (domain.PriceTick, error) {
	var msg venueAMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.PriceTick{}, fmt.Errorf("venue A: decode: %w", err)
	}

	tick := domain.PriceTick{
		Venue:      domain.VenueMosEspa,
		ReceivedAt: clk.Now(),
		Tiers:      make(map[int]domain.PriceLevel, len(msg.Ladder)),
	}

	var latestSourceTS time.Time
	for _, entry := range msg.Ladder {
		buy, err := decimal.NewFromString(entry.Buy)
		if err != nil {
			return domain.PriceTick{}, fmt.Errorf("venue A: parse buy %q: %w", entry.Buy, err)
		}
		sell, err := decimal.NewFromString(entry.Sell)
		if err != nil {
			return domain.PriceTick{}, fmt.Errorf("venue A: parse sell %q: %w", entry.Sell, err)
		}
		ts, err := time.Parse(time.RFC3339, entry.Time)
		if err != nil {
			return domain.PriceTick{}, fmt.Errorf("venue A: parse time %q: %w", entry.Time, err)
		}
		if ts.After(latestSourceTS) {
			latestSourceTS = ts
		}

		tick.Tiers[entry.Quantity] = domain.PriceLevel{Buy: buy, Sell: sell}
	}
	tick.SourceTimestamp = latestSourceTS

	return tick, nil
}
