package broker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/quantdesk/tradeengine/internal/domain"
)

const (
	httpMaxAttempts = 5
	httpRetryWait   = time.Second
)

// ShutdownFunc cancels the process-wide shutdown token, recording cause as
// the reason. It must be safe to call more than once.
type ShutdownFunc func(cause error)

// HTTPClient is the typed REST surface of the broker connector: account,
// orders (list/post/cancel), positions (list/close), and historical bars.
// Every request is attempted up to 5 times with a 1s fixed delay: a
// domain error (the endpoint reports failure via its status code) is
// retried, a transport or unknown error is not retried and instead cancels
// the shutdown token, per spec.md §4.2.
type HTTPClient struct {
	http     *resty.Client
	shutdown ShutdownFunc
}

// NewHTTPClient builds an HTTPClient against baseURL, authenticated with the
// broker API key/secret headers.
func NewHTTPClient(baseURL, apiKey, apiSecret string, shutdown ShutdownFunc) *HTTPClient {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetHeader("APCA-API-KEY-ID", apiKey).
		SetHeader("APCA-API-SECRET-KEY", apiSecret).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(httpMaxAttempts - 1).
		SetRetryWaitTime(httpRetryWait).
		SetRetryMaxWaitTime(httpRetryWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				// Transport/unknown error: handled (and shutdown triggered)
				// by execute below, never retried here.
				return false
			}
			return r.StatusCode() >= http.StatusBadRequest
		})

	return &HTTPClient{http: rc, shutdown: shutdown}
}

// execute runs req against method/path and classifies the outcome: a
// transport error trips shutdown immediately; a domain error (non-2xx after
// retries exhausted) is returned as a plain error for the caller to handle.
func (c *HTTPClient) execute(req *resty.Request, method, path string) (*resty.Response, error) {
	resp, err := req.Execute(method, path)
	if err != nil {
		cause := fmt.Errorf("broker: transport error calling %s %s: %w", method, path, err)
		c.shutdown(cause)
		return nil, cause
	}
	if resp.IsError() {
		return nil, fmt.Errorf("broker: %s %s failed: status %d: %s", method, path, resp.StatusCode(), resp.String())
	}
	return resp, nil
}

type accountResponse struct {
	Equity decimal.Decimal `json:"equity"`
}

// Account is the broker account snapshot used by the Risk Sizer.
type Account struct {
	Equity decimal.Decimal
}

// GetAccount fetches the trading account's current equity.
func (c *HTTPClient) GetAccount(ctx context.Context) (Account, error) {
	var out accountResponse
	_, err := c.execute(
		c.http.R().SetContext(ctx).SetResult(&out),
		http.MethodGet, "/v2/account",
	)
	if err != nil {
		return Account{}, err
	}
	return Account{Equity: out.Equity}, nil
}

type OrderWire struct {
	ID             string          `json:"id"`
	Symbol         string          `json:"symbol"`
	Side           string          `json:"side"`
	Type           string          `json:"type"`
	Status         string          `json:"status"`
	LimitPrice     decimal.Decimal `json:"limit_price"`
	StopPrice      decimal.Decimal `json:"stop_price"`
	Qty            decimal.Decimal `json:"qty"`
	FilledQty      decimal.Decimal `json:"filled_qty"`
	FilledAvgPrice decimal.Decimal `json:"filled_avg_price"`
	FilledAt       *time.Time      `json:"filled_at"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (o OrderWire) toDomain(strategy string, action domain.Action, direction domain.Direction) domain.MktOrder {
	return domain.MktOrder{
		LocalID:        o.ID,
		Action:         action,
		Strategy:       strategy,
		Symbol:         o.Symbol,
		Direction:      direction,
		Side:           domain.Side(o.Side),
		Type:           domain.OrderType(o.Type),
		State:          domain.OrderState(o.Status),
		LimitPrice:     o.LimitPrice,
		StopPrice:      o.StopPrice,
		Quantity:       o.Qty,
		FilledQuantity: o.FilledQty,
		AvgFillPrice:   o.FilledAvgPrice,
		FilledAt:       o.FilledAt,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

// NewOrderRequest describes a stop-limit or market order placement.
type NewOrderRequest struct {
	Symbol     string
	Side       domain.Side
	Type       domain.OrderType
	Quantity   decimal.Decimal
	LimitPrice decimal.Decimal
	StopPrice  decimal.Decimal
}

// PostOrder places a new order and returns the broker's raw response,
// converted with the caller-supplied strategy/action/direction tags (the
// broker itself has no notion of either).
func (c *HTTPClient) PostOrder(ctx context.Context, req NewOrderRequest, strategy string, action domain.Action, direction domain.Direction) (domain.MktOrder, error) {
	body := map[string]any{
		"symbol":        req.Symbol,
		"side":          string(req.Side),
		"type":          string(req.Type),
		"qty":           req.Quantity.String(),
		"time_in_force": "day",
	}
	if !req.LimitPrice.IsZero() {
		body["limit_price"] = req.LimitPrice.String()
	}
	if !req.StopPrice.IsZero() {
		body["stop_price"] = req.StopPrice.String()
	}

	var out OrderWire
	_, err := c.execute(
		c.http.R().SetContext(ctx).SetBody(body).SetResult(&out),
		http.MethodPost, "/v2/orders",
	)
	if err != nil {
		return domain.MktOrder{}, err
	}
	return out.toDomain(strategy, action, direction), nil
}

// CancelOrder cancels an open order by broker id.
func (c *HTTPClient) CancelOrder(ctx context.Context, localID string) error {
	_, err := c.execute(
		c.http.R().SetContext(ctx),
		http.MethodDelete, "/v2/orders/"+localID,
	)
	return err
}

// ListOrders returns every open order known to the broker. Strategy,
// action and direction are not broker concepts; the caller must hydrate
// them (per spec.md §4.6, from the `order` table by local_id).
func (c *HTTPClient) ListOrders(ctx context.Context) ([]OrderWire, error) {
	var out []OrderWire
	_, err := c.execute(
		c.http.R().SetContext(ctx).SetQueryParam("status", "open").SetResult(&out),
		http.MethodGet, "/v2/orders",
	)
	return out, err
}

// ToDomain converts an OrderWire into domain.MktOrder once the caller (the
// Order Registry) has hydrated strategy/action/direction from the `order`
// table.
func ToDomain(o OrderWire, strategy string, action domain.Action, direction domain.Direction) domain.MktOrder {
	return o.toDomain(strategy, action, direction)
}

type PositionWire struct {
	Symbol        string          `json:"symbol"`
	Qty           decimal.Decimal `json:"qty"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	CostBasis     decimal.Decimal `json:"cost_basis"`
	UnrealizedPL  decimal.Decimal `json:"unrealized_pl"`
}

// ListPositions returns every open broker position.
func (c *HTTPClient) ListPositions(ctx context.Context) ([]PositionWire, error) {
	var out []PositionWire
	_, err := c.execute(
		c.http.R().SetContext(ctx).SetResult(&out),
		http.MethodGet, "/v2/positions",
	)
	return out, err
}

// PositionToDomain converts a wire position into domain.MktPosition, given
// the strategy/direction recovered from the matching Active Transaction.
func PositionToDomain(p PositionWire, strategy string, direction domain.Direction) domain.MktPosition {
	return domain.MktPosition{
		Symbol:        p.Symbol,
		Strategy:      strategy,
		Direction:     direction,
		AvgEntryPrice: p.AvgEntryPrice,
		Quantity:      p.Qty,
		CostBasis:     p.CostBasis,
		UnrealizedPnL: p.UnrealizedPL,
	}
}

// ClosePosition issues a market close for the full position in symbol.
func (c *HTTPClient) ClosePosition(ctx context.Context, symbol string) (domain.MktOrder, error) {
	var out OrderWire
	_, err := c.execute(
		c.http.R().SetContext(ctx).SetResult(&out),
		http.MethodDelete, "/v2/positions/"+symbol,
	)
	if err != nil {
		return domain.MktOrder{}, err
	}
	return out.toDomain("", domain.ActionLiquidate, ""), nil
}

type barResponse struct {
	Bars []struct {
		Time   time.Time       `json:"t"`
		Open   decimal.Decimal `json:"o"`
		High   decimal.Decimal `json:"h"`
		Low    decimal.Decimal `json:"l"`
		Close  decimal.Decimal `json:"c"`
		Volume decimal.Decimal `json:"v"`
	} `json:"bars"`
}

// GetDailyBars fetches `days` of daily OHLCV bars for symbol, used by both
// the Risk Sizer and the ATR trailing stop.
func (c *HTTPClient) GetDailyBars(ctx context.Context, symbol string, days int) ([]domain.Bar, error) {
	var out barResponse
	_, err := c.execute(
		c.http.R().SetContext(ctx).
			SetQueryParams(map[string]string{
				"timeframe": "1Day",
				"limit":     fmt.Sprintf("%d", days),
			}).
			SetResult(&out),
		http.MethodGet, "/v2/stocks/"+symbol+"/bars",
	)
	if err != nil {
		return nil, err
	}

	bars := make([]domain.Bar, 0, len(out.Bars))
	for _, b := range out.Bars {
		bars = append(bars, domain.Bar{
			Time:   b.Time,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		})
	}
	return bars, nil
}

type assetResponse struct {
	Symbol       string `json:"symbol"`
	Tradable     bool   `json:"tradable"`
	Shortable    bool   `json:"shortable"`
	Marginable   bool   `json:"marginable"`
	EasyToBorrow bool   `json:"easy_to_borrow"`
}

// ListAssets fetches the active US equities universe for the Asset
// Catalogue's startup hydration.
func (c *HTTPClient) ListAssets(ctx context.Context) ([]domain.Asset, error) {
	var out []assetResponse
	_, err := c.execute(
		c.http.R().SetContext(ctx).SetQueryParam("status", "active").SetResult(&out),
		http.MethodGet, "/v2/assets",
	)
	if err != nil {
		return nil, err
	}

	assets := make([]domain.Asset, 0, len(out))
	for _, a := range out {
		assets = append(assets, domain.Asset{
			Symbol:       a.Symbol,
			Tradable:     a.Tradable,
			Shortable:    a.Shortable,
			Marginable:   a.Marginable,
			EasyToBorrow: a.EasyToBorrow,
		})
	}
	return assets, nil
}
