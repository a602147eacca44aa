// Package binance adapts the Binance USDT-M futures API to the engine's
// gateway surface. Transport, signing and JSON decoding live in go-binance;
// this package maps types, formats numbers, and classifies benign rejections.
package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"bn-grid-bot/internal/config"
	"bn-grid-bot/internal/engine"

	"github.com/adshao/go-binance/v2/futures"
	"go.uber.org/zap"
)

type Client struct {
	fc  *futures.Client
	log *zap.Logger
}

func New(cfg config.ExchangeConfig, log *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("exchange credentials are required")
	}
	return NewPublic(cfg, log), nil
}

// NewPublic builds a client without requiring credentials. Only unsigned
// endpoints such as exchangeInfo and ticker prices will work.
func NewPublic(cfg config.ExchangeConfig, log *zap.Logger) *Client {
	if cfg.Network == "testnet" {
		futures.UseTestnet = true
	}
	fc := futures.NewClient(cfg.APIKey, cfg.APISecret)
	if cfg.Timeout > 0 {
		fc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{fc: fc, log: log}
}

// Verify makes a signed no-op call to prove the credentials work.
func (c *Client) Verify(ctx context.Context) error {
	if _, err := c.fc.NewGetBalanceService().Do(ctx); err != nil {
		return fmt.Errorf("credential check failed: %w", err)
	}
	return nil
}

// Filters fetches the per-symbol instrument precision from exchangeInfo.
func (c *Client) Filters(ctx context.Context, symbol string) (engine.Filters, error) {
	info, err := c.fc.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return engine.Filters{}, err
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		priceFilter := s.PriceFilter()
		lotFilter := s.LotSizeFilter()
		if priceFilter == nil || lotFilter == nil {
			return engine.Filters{}, fmt.Errorf("symbol %s is missing price or lot size filters", symbol)
		}
		tick, err := strconv.ParseFloat(priceFilter.TickSize, 64)
		if err != nil {
			return engine.Filters{}, fmt.Errorf("parse tick size %q: %w", priceFilter.TickSize, err)
		}
		minQty, err := strconv.ParseFloat(lotFilter.MinQuantity, 64)
		if err != nil {
			return engine.Filters{}, fmt.Errorf("parse min quantity %q: %w", lotFilter.MinQuantity, err)
		}
		return engine.Filters{TickSize: tick, MinQty: minQty}, nil
	}
	return engine.Filters{}, fmt.Errorf("symbol %s not found in exchange info", symbol)
}

func (c *Client) Price(ctx context.Context, symbol string) (float64, error) {
	prices, err := c.fc.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("no price returned for %s", symbol)
	}
	return strconv.ParseFloat(prices[0].Price, 64)
}

func (c *Client) OpenOrderIDs(ctx context.Context, symbol string) (map[int64]struct{}, error) {
	orders, err := c.fc.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[int64]struct{}, len(orders))
	for _, o := range orders {
		ids[o.OrderID] = struct{}{}
	}
	return ids, nil
}

func (c *Client) Order(ctx context.Context, symbol string, orderID int64) (engine.OrderStatus, error) {
	o, err := c.fc.NewGetOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
	if err != nil {
		return engine.OrderStatus{}, err
	}
	price, _ := strconv.ParseFloat(o.Price, 64)
	stopPrice, _ := strconv.ParseFloat(o.StopPrice, 64)
	return engine.OrderStatus{
		ID:        o.OrderID,
		Status:    string(o.Status),
		Side:      engine.Side(o.Side),
		Kind:      engine.OrderKind(o.Type),
		Price:     price,
		StopPrice: stopPrice,
	}, nil
}

func (c *Client) PlaceOrder(ctx context.Context, symbol string, req engine.OrderRequest) (int64, error) {
	svc := c.fc.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(req.Side)).
		PositionSide(futures.PositionSideType(req.PositionSide)).
		Quantity(formatNumber(req.Quantity))
	switch req.Kind {
	case engine.KindEntryLimit:
		svc = svc.Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Price(formatNumber(req.Price))
	case engine.KindStopMarket:
		svc = svc.Type(futures.OrderTypeStopMarket).
			StopPrice(formatNumber(req.StopPrice))
	default:
		return 0, fmt.Errorf("unsupported order kind %q", req.Kind)
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return 0, err
	}
	return resp.OrderID, nil
}

func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	return c.fc.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx)
}

func (c *Client) Positions(ctx context.Context, symbol string) ([]engine.Position, error) {
	risks, err := c.fc.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, err
	}
	positions := make([]engine.Position, 0, len(risks))
	for _, r := range risks {
		amt, _ := strconv.ParseFloat(r.PositionAmt, 64)
		if amt == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(r.EntryPrice, 64)
		if amt < 0 {
			amt = -amt
		}
		positions = append(positions, engine.Position{
			Symbol:     r.Symbol,
			Side:       string(r.PositionSide),
			EntryPrice: entry,
			Quantity:   amt,
		})
	}
	return positions, nil
}

// SetLeverage applies the configured leverage. Binance reports success for a
// no-op change, so the outcome is always applied unless the call errors.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) (Outcome, error) {
	_, err := c.fc.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	return classify(err)
}

// SetDualSideMode switches hedge (dual-position) mode on or off. Asking for
// the mode already in effect is classified as already-set, not an error.
func (c *Client) SetDualSideMode(ctx context.Context, enabled bool) (Outcome, error) {
	err := c.fc.NewChangePositionModeService().DualSide(enabled).Do(ctx)
	return classify(err)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
