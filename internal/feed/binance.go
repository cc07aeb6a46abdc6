package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"crunch-coordinator/internal/domain"
)

const (
	binanceDefaultBaseURL = "https://api.binance.com"
	binanceDefaultWSURL   = "wss://stream.binance.com:9443"
	binanceDefaultQuote   = "USDT"

	binanceMaxKlinesPerPage = 1000
)

// BinanceOptions configures the Binance provider. Zero values use the public
// production endpoints.
type BinanceOptions struct {
	BaseURL string
	WSURL   string
	Quote   string
	Client  *http.Client
	Logger  *log.Logger

	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

// BinanceProvider serves spot-market candles over the public REST and
// websocket APIs.
type BinanceProvider struct {
	baseURL string
	wsURL   string
	quote   string
	client  *http.Client
	logger  *log.Logger

	reconnectDelay    time.Duration
	maxReconnectDelay time.Duration
}

// NewBinanceProvider creates a Binance provider.
func NewBinanceProvider(opts BinanceOptions) *BinanceProvider {
	if opts.BaseURL == "" {
		opts.BaseURL = binanceDefaultBaseURL
	}
	if opts.WSURL == "" {
		opts.WSURL = binanceDefaultWSURL
	}
	if opts.Quote == "" {
		opts.Quote = binanceDefaultQuote
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stdout, "[binance-feed] ", log.LstdFlags|log.Lshortfile)
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 1 * time.Second
	}
	if opts.MaxReconnectDelay <= 0 {
		opts.MaxReconnectDelay = 30 * time.Second
	}

	return &BinanceProvider{
		baseURL:           strings.TrimRight(opts.BaseURL, "/"),
		wsURL:             strings.TrimRight(opts.WSURL, "/"),
		quote:             strings.ToUpper(opts.Quote),
		client:            opts.Client,
		logger:            opts.Logger,
		reconnectDelay:    opts.ReconnectDelay,
		maxReconnectDelay: opts.MaxReconnectDelay,
	}
}

// Name returns the provider key.
func (p *BinanceProvider) Name() string { return "binance" }

// pairSymbol maps a subject like "BTC" to the venue symbol "BTCUSDT".
func (p *BinanceProvider) pairSymbol(subject string) string {
	return strings.ToUpper(subject) + p.quote
}

// ListSubjects reports the subjects this provider can serve. Binance serves
// any spot pair; the descriptor list is derived from the exchangeInfo
// endpoint filtered to the configured quote asset.
func (p *BinanceProvider) ListSubjects(ctx context.Context) ([]SubjectDescriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/v3/exchangeInfo", nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("binance exchangeInfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("binance exchangeInfo: status %d", resp.StatusCode)
	}

	var payload struct {
		Symbols []struct {
			Symbol     string `json:"symbol"`
			Status     string `json:"status"`
			BaseAsset  string `json:"baseAsset"`
			QuoteAsset string `json:"quoteAsset"`
		} `json:"symbols"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("binance exchangeInfo decode: %w", err)
	}

	var subjects []SubjectDescriptor
	for _, sym := range payload.Symbols {
		if sym.QuoteAsset != p.quote || sym.Status != "TRADING" {
			continue
		}
		subjects = append(subjects, SubjectDescriptor{
			Symbol:        sym.BaseAsset,
			DisplayName:   sym.Symbol,
			Kinds:         []string{"candle"},
			Granularities: []string{"1m", "5m", "15m", "1h"},
			Quote:         sym.QuoteAsset,
			Base:          sym.BaseAsset,
			Venue:         "binance",
		})
	}
	return subjects, nil
}

// Fetch pulls candles for each subject over the klines REST endpoint and
// normalizes them to FeedRecords.
func (p *BinanceProvider) Fetch(ctx context.Context, req FetchRequest) ([]*domain.FeedRecord, error) {
	if req.Kind != "" && req.Kind != "candle" {
		return nil, fmt.Errorf("binance provider serves candles, got kind %q", req.Kind)
	}
	granularity := req.Granularity
	if granularity == "" {
		granularity = "1m"
	}

	limit := req.Limit
	if limit <= 0 || limit > binanceMaxKlinesPerPage {
		limit = binanceMaxKlinesPerPage
	}

	var records []*domain.FeedRecord
	for _, subject := range req.Subjects {
		klines, err := p.fetchKlines(ctx, p.pairSymbol(subject), granularity, req.StartTs, req.EndTs, limit)
		if err != nil {
			return nil, err
		}
		for _, k := range klines {
			records = append(records, &domain.FeedRecord{
				Source:      "binance",
				Subject:     strings.ToUpper(subject),
				Kind:        "candle",
				Granularity: granularity,
				TsEvent:     k.OpenTimeMs / 1000,
				Values: map[string]any{
					"open":   k.Open,
					"high":   k.High,
					"low":    k.Low,
					"close":  k.Close,
					"volume": k.Volume,
				},
				Meta:       map[string]any{"venue_symbol": p.pairSymbol(subject)},
				TsIngested: time.Now().UTC(),
			})
		}
	}
	return records, nil
}

type binanceKline struct {
	OpenTimeMs int64
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
}

func (p *BinanceProvider) fetchKlines(ctx context.Context, symbol, interval string, startTs, endTs int64, limit int) ([]binanceKline, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))
	if startTs > 0 {
		q.Set("startTime", strconv.FormatInt(startTs*1000, 10))
	}
	if endTs > 0 {
		q.Set("endTime", strconv.FormatInt(endTs*1000, 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/v3/klines?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("binance klines: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("binance klines: status %d: %s", resp.StatusCode, string(body))
	}

	// Kline payload rows are positional arrays of mixed numbers and strings.
	var raw [][]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("binance klines decode: %w", err)
	}

	klines := make([]binanceKline, 0, len(raw))
	for _, row := range raw {
		if len(row) < 6 {
			continue
		}
		openTime, ok := row[0].(float64)
		if !ok {
			continue
		}
		k := binanceKline{OpenTimeMs: int64(openTime)}
		fields := []*float64{&k.Open, &k.High, &k.Low, &k.Close, &k.Volume}
		valid := true
		for i, dst := range fields {
			s, ok := row[i+1].(string)
			if !ok {
				valid = false
				break
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				valid = false
				break
			}
			*dst = v
		}
		if valid {
			klines = append(klines, k)
		}
	}
	return klines, nil
}

// Listen subscribes to the combined kline stream and pushes closed candles
// into the sink. Reconnects with exponential backoff until ctx is cancelled.
func (p *BinanceProvider) Listen(ctx context.Context, sub Subscription, sink Sink) error {
	granularity := sub.Granularity
	if granularity == "" {
		granularity = "1m"
	}

	streams := make([]string, 0, len(sub.Subjects))
	for _, subject := range sub.Subjects {
		streams = append(streams, strings.ToLower(p.pairSymbol(subject))+"@kline_"+granularity)
	}
	endpoint := p.wsURL + "/stream?streams=" + strings.Join(streams, "/")

	delay := p.reconnectDelay
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := p.listenOnce(ctx, endpoint, granularity, sink)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}

		p.logger.Printf("stream error: %v, reconnecting in %s", err, delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > p.maxReconnectDelay {
			delay = p.maxReconnectDelay
		}
	}
}

type binanceStreamMessage struct {
	Stream string `json:"stream"`
	Data   struct {
		Symbol string `json:"s"`
		Kline  struct {
			OpenTimeMs int64  `json:"t"`
			Interval   string `json:"i"`
			Open       string `json:"o"`
			High       string `json:"h"`
			Low        string `json:"l"`
			Close      string `json:"c"`
			Volume     string `json:"v"`
			Closed     bool   `json:"x"`
		} `json:"k"`
	} `json:"data"`
}

func (p *BinanceProvider) listenOnce(ctx context.Context, endpoint, granularity string, sink Sink) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	p.logger.Printf("listening on %d streams", strings.Count(endpoint, "@kline_"))

	for {
		_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("websocket read: %w", err)
		}

		var msg binanceStreamMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			p.logger.Printf("skipping malformed message: %v", err)
			continue
		}
		k := msg.Data.Kline
		if !k.Closed || msg.Data.Symbol == "" {
			continue
		}

		values, ok := parseKlineValues(k.Open, k.High, k.Low, k.Close, k.Volume)
		if !ok {
			continue
		}

		sink(&domain.FeedRecord{
			Source:      "binance",
			Subject:     strings.TrimSuffix(strings.ToUpper(msg.Data.Symbol), p.quote),
			Kind:        "candle",
			Granularity: granularity,
			TsEvent:     k.OpenTimeMs / 1000,
			Values:      values,
			Meta:        map[string]any{"venue_symbol": msg.Data.Symbol},
			TsIngested:  time.Now().UTC(),
		})
	}
}

func parseKlineValues(open, high, low, close, volume string) (map[string]any, bool) {
	out := map[string]any{}
	for key, raw := range map[string]string{
		"open": open, "high": high, "low": low, "close": close, "volume": volume,
	} {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, false
		}
		out[key] = v
	}
	return out, true
}

var _ Provider = (*BinanceProvider)(nil)
