package liquidation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coruscant-bank/beskar-liquidation/internal/domain"
	apperrors "github.com/coruscant-bank/beskar-liquidation/pkg/errors"
	"github.com/coruscant-bank/beskar-liquidation/pkg/metrics"
)

// TradeResult is the outcome of one venue order attempt that cleared.
type TradeResult struct {
	AchievedPrice decimal.Decimal // GC per BSK
	OrderID       string
}

// VenueClient executes a single sell lot against one trading venue.
type VenueClient interface {
	Venue() domain.Venue
	Sell(ctx context.Context, clientOrderID string, quantity int) (TradeResult, error)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			// 5s connect + remaining budget toward the total timeout, per §5.
			DialContext: (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		},
	}
}

// MosEspaClient talks to the MOS_ESPA venue: POST /orders.
type MosEspaClient struct {
	baseURL string
	client  *http.Client
}

func NewMosEspaClient(baseURL string, timeout time.Duration) *MosEspaClient {
	return &MosEspaClient{baseURL: baseURL, client: newHTTPClient(timeout)}
}

func (c *MosEspaClient) Venue() domain.Venue { return domain.VenueMosEspa }

type mosEspaRequest struct {
	RequestID string `json:"requestId"`
	Type      string `json:"type"`
	Side      string `json:"side"`
	Asset     string `json:"asset"`
	Currency  string `json:"currency"`
	Quantity  string `json:"quantity"`
}

type mosEspaResponse struct {
	RequestID string `json:"requestId"`
	OrderID   string `json:"orderId"`
	Success   bool   `json:"success"`
	Reason    string `json:"reason"`
	Price     string `json:"price"`
}

func (c *MosEspaClient) Sell(ctx context.Context, clientOrderID string, quantity int) (TradeResult, error) {
	reqBody := mosEspaRequest{
		RequestID: clientOrderID,
		Type:      "market",
		Side:      "sell",
		Asset:     "BESKAR",
		Currency:  "GC",
		Quantity:  strconv.Itoa(quantity),
	}
	return doVenueRequest(ctx, c.client, c.baseURL+"/orders", domain.VenueMosEspa, reqBody, func(body []byte) (TradeResult, error) {
		var resp mosEspaResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return TradeResult{}, apperrors.NewTransient("mos_espa_decode", err)
		}
		if !resp.Success {
			return TradeResult{}, apperrors.NewVenueRejected(string(domain.VenueMosEspa), fmt.Errorf("%s", resp.Reason))
		}
		price, err := decimal.NewFromString(resp.Price)
		if err != nil {
			return TradeResult{}, apperrors.NewTransient("mos_espa_price_parse", err)
		}
		return TradeResult{AchievedPrice: price, OrderID: resp.OrderID}, nil
	})
}

// BlackSpireClient talks to the BLACK_SPIRE venue: POST /market/orders.
type BlackSpireClient struct {
	baseURL string
	client  *http.Client
}

func NewBlackSpireClient(baseURL string, timeout time.Duration) *BlackSpireClient {
	return &BlackSpireClient{baseURL: baseURL, client: newHTTPClient(timeout)}
}

func (c *BlackSpireClient) Venue() domain.Venue { return domain.VenueBlackSpire }

type blackSpireRequest struct {
	RequestID string `json:"requestId"`
	Side      string `json:"side"`
	Item      string `json:"item"`
	Amount    int    `json:"amount"`
}

type blackSpireResponse struct {
	RequestID  string      `json:"requestId"`
	ID         string      `json:"id"`
	Side       string      `json:"side"`
	Item       string      `json:"item"`
	Amount     int         `json:"amount"`
	TotalPrice json.Number `json:"totalPrice"`
	Error      string      `json:"error"`
}

func (c *BlackSpireClient) Sell(ctx context.Context, clientOrderID string, quantity int) (TradeResult, error) {
	reqBody := blackSpireRequest{
		RequestID: clientOrderID,
		Side:      "SELL",
		Item:      "STEEL:MANDALORIAN",
		Amount:    quantity,
	}
	return doVenueRequest(ctx, c.client, c.baseURL+"/market/orders", domain.VenueBlackSpire, reqBody, func(body []byte) (TradeResult, error) {
		var resp blackSpireResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return TradeResult{}, apperrors.NewTransient("black_spire_decode", err)
		}
		if resp.Error != "" {
			return TradeResult{}, apperrors.NewVenueRejected(string(domain.VenueBlackSpire), fmt.Errorf("%s", resp.Error))
		}
		if quantity == 0 {
			return TradeResult{}, apperrors.NewTransient("black_spire_zero_quantity", fmt.Errorf("zero quantity order"))
		}
		totalPrice, err := decimal.NewFromString(resp.TotalPrice.String())
		if err != nil {
			return TradeResult{}, apperrors.NewTransient("black_spire_price_parse", err)
		}
		achieved := totalPrice.Div(decimal.NewFromInt(int64(quantity)))
		return TradeResult{AchievedPrice: achieved, OrderID: resp.ID}, nil
	})
}

// doVenueRequest performs the shared POST/decode/classify dance: both
// HTTP-level failures (5xx, timeouts) and logical venue rejections
// (HTTP-200 success:false bodies) are classified as retryable, per §7 —
// the simulated venue fails "successfully" about 30% of the time and the
// worker must treat both failure shapes identically.
func doVenueRequest(ctx context.Context, client *http.Client, url string, venue domain.Venue, reqBody interface{}, parse func([]byte) (TradeResult, error)) (TradeResult, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return TradeResult{}, apperrors.NewFatal("marshal venue request", err)
	}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return TradeResult{}, apperrors.NewFatal("build venue request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	metrics.VenueRequestDuration.WithLabelValues(string(venue)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LiquidationAttemptsTotal.WithLabelValues(string(venue), "transient_error").Inc()
		return TradeResult{}, apperrors.NewTransient("venue_http_call", err)
	}
	defer resp.Body.Close()

	body := make([]byte, 0, 512)
	buf := make([]byte, 512)
	for {
		n, readErr := resp.Body.Read(buf)
		body = append(body, buf[:n]...)
		if readErr != nil {
			break
		}
	}

	if resp.StatusCode >= 500 {
		metrics.LiquidationAttemptsTotal.WithLabelValues(string(venue), "5xx").Inc()
		return TradeResult{}, apperrors.NewTransient("venue_5xx", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		metrics.LiquidationAttemptsTotal.WithLabelValues(string(venue), "4xx").Inc()
		return TradeResult{}, apperrors.NewVenueRejected(string(venue), fmt.Errorf("status %d", resp.StatusCode))
	}

	result, err := parse(body)
	if err != nil {
		metrics.LiquidationAttemptsTotal.WithLabelValues(string(venue), "rejected").Inc()
		return TradeResult{}, err
	}
	metrics.LiquidationAttemptsTotal.WithLabelValues(string(venue), "success").Inc()
	return result, nil
}
