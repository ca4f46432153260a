// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package alpaca

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/ericlagergren/decimal"
	"github.com/gorilla/websocket"

	"maystream/config"
	"maystream/marketapi"
	"maystream/marketval"
	"maystream/webclient"
)

// We are not using the official alpaca client SDK, because it uses float64,
// which is bad for price values. We directly unmarshal into decimal.Big.
type alpacaProvider struct {
	rateLimiter *webclient.RateLimiter
	apiClient   *http.Client
	hub         *marketapi.Hub
	state       *marketapi.ConnTracker
	subs        *marketapi.SubscriptionTable
	quotes      *marketapi.LatestMap[marketval.Quote]
	trades      *marketapi.LatestMap[marketval.Trade]
	bars        *marketapi.LatestMap[marketval.Bar]
	cfg         config.ProviderConfig

	connMu          sync.Mutex
	conn            *websocket.Conn
	closing         bool
	reconnectCancel context.CancelFunc
	pingStop        chan struct{}
}

type trade struct {
	Timestamp time.Time    `json:"t"`
	Price     *decimal.Big `json:"p"`
	Size      *decimal.Big `json:"s"`
	Exchange  string       `json:"x"`
	Id        int64        `json:"i"`
	Tape      string       `json:"z"`
}

type quote struct {
	Timestamp   time.Time    `json:"t"`
	BidPrice    *decimal.Big `json:"bp"`
	BidSize     *decimal.Big `json:"bs"`
	BidExchange string       `json:"bx"`
	AskPrice    *decimal.Big `json:"ap"`
	AskSize     *decimal.Big `json:"as"`
	AskExchange string       `json:"ax"`
	Tape        string       `json:"z"`
}

type bar struct {
	Timestamp time.Time    `json:"t"`
	Open      *decimal.Big `json:"o"`
	High      *decimal.Big `json:"h"`
	Low       *decimal.Big `json:"l"`
	Close     *decimal.Big `json:"c"`
	Volume    *decimal.Big `json:"v"`
}

type snapshot struct {
	LatestTrade *trade `json:"latestTrade"`
	LatestQuote *quote `json:"latestQuote"`
	MinuteBar   *bar   `json:"minuteBar"`
	DailyBar    *bar   `json:"dailyBar"`
}

type stockBars struct {
	Symbol        string  `json:"symbol"`
	NextPageToken *string `json:"next_page_token"`
	Bars          []bar   `json:"bars"`
}

// This struct is a union type of all stream messages.
type streamMessage struct {
	Type      string       `json:"T"`
	Code      int          `json:"code,omitempty"`
	Msg       string       `json:"msg,omitempty"`
	Symbol    string       `json:"S,omitempty"`
	TradeId   int64        `json:"i,omitempty"`
	AskPrice  *decimal.Big `json:"ap,omitempty"`
	AskSize   *decimal.Big `json:"as,omitempty"`
	BidPrice  *decimal.Big `json:"bp,omitempty"`
	BidSize   *decimal.Big `json:"bs,omitempty"`
	Price     *decimal.Big `json:"p,omitempty"`
	TradeSize *decimal.Big `json:"s,omitempty"`
	Open      *decimal.Big `json:"o,omitempty"`
	High      *decimal.Big `json:"h,omitempty"`
	Low       *decimal.Big `json:"l,omitempty"`
	Close     *decimal.Big `json:"c,omitempty"`
	Volume    *decimal.Big `json:"v,omitempty"`
	Timestamp time.Time    `json:"t,omitempty"`
	Tape      string       `json:"z,omitempty"`
}

type subscribeCommand struct {
	Action string   `json:"action"`
	Trades []string `json:"trades,omitempty"`
	Quotes []string `json:"quotes,omitempty"`
	Bars   []string `json:"bars,omitempty"`
}

type authCommand struct {
	Action string `json:"action"`
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

const (
	messageTypeSuccess = "success"
	messageTypeError   = "error"
	messageTypeTrade   = "t"
	messageTypeQuote   = "q"
	messageTypeBar     = "b"
)

const (
	messageConnected     = "connected"
	messageAuthenticated = "authenticated"
)

const keepAliveInterval = time.Second * 30

// Realtime bars on this feed are per-minute aggregates.
const streamBarTimeframe = marketval.TimeframeOneMinute

func getTimeframeStr(t marketval.Timeframe) string {
	switch t {
	case marketval.TimeframeOneMinute:
		return "1Min"
	case marketval.TimeframeFiveMinutes:
		return "5Min"
	case marketval.TimeframeFifteenMinutes:
		return "15Min"
	case marketval.TimeframeThirtyMinutes:
		return "30Min"
	case marketval.TimeframeSixtyMinutes:
		return "1Hour"
	case marketval.TimeframeOneDay:
		return "1Day"
	case marketval.TimeframeOneWeek:
		return "1Week"
	case marketval.TimeframeOneMonth:
		return "1Month"
	default:
		panic("unsupported timeframe")
	}
}

func NewProvider() marketapi.Provider {
	return &alpacaProvider{
		rateLimiter: webclient.NewRateLimiter(),
		apiClient:   &http.Client{},
		hub:         marketapi.NewHub(),
		state:       marketapi.NewConnTracker(),
		subs:        marketapi.NewSubscriptionTable(),
		quotes:      marketapi.NewLatestMap[marketval.Quote](),
		trades:      marketapi.NewLatestMap[marketval.Trade](),
		bars:        marketapi.NewLatestMap[marketval.Bar](),
	}
}

func GetProviderId() marketval.ProviderId {
	return "alpaca"
}

func (p *alpacaProvider) Id() marketval.ProviderId {
	return GetProviderId()
}

func (p *alpacaProvider) Capabilities() marketapi.Capabilities {
	return marketapi.Capabilities{
		Streaming:      true,
		PaperEndpoints: true,
	}
}

func (p *alpacaProvider) ReadConfig(c config.Config) error {
	appConfig, err := c.Copy()
	if err != nil {
		return err
	}
	p.cfg = appConfig.ProviderConfig[GetProviderId()]
	p.apiClient.Timeout = time.Second * time.Duration(p.cfg.DataTimeoutSeconds)
	if p.cfg.ApiKey == "" || p.cfg.ApiSecret == "" {
		return &marketapi.ConfigurationError{Reason: "alpaca requires api key and secret"}
	}
	return nil
}

func (p *alpacaProvider) Events() *marketapi.Hub {
	return p.hub
}

func (p *alpacaProvider) Status() marketapi.ConnState {
	return p.state.State()
}

func (p *alpacaProvider) dataUrl() string {
	if p.cfg.Paper && p.cfg.PaperDataUrl != "" {
		return p.cfg.PaperDataUrl
	}
	return p.cfg.DataUrl
}

// Connect establishes the streaming channel and authenticates.
// Failures are returned to the caller and additionally broadcast as an
// ERROR event for passive observers.
func (p *alpacaProvider) Connect(ctx context.Context) error {
	if err := p.state.Transition(marketapi.StateConnecting); err != nil {
		return err
	}
	conn, err := p.dialAndAuth(ctx)
	if err != nil {
		_ = p.state.Transition(marketapi.StateError)
		p.hub.Publish(marketapi.Event{Kind: marketapi.EventError, Provider: p.Id(), Err: err, Time: time.Now()})
		return err
	}

	p.connMu.Lock()
	p.conn = conn
	p.closing = false
	p.pingStop = make(chan struct{})
	pingStop := p.pingStop
	p.connMu.Unlock()

	_ = p.state.Transition(marketapi.StateConnected)
	p.hub.Publish(marketapi.Event{Kind: marketapi.EventConnected, Provider: p.Id(), Time: time.Now()})

	go p.handleStream(conn)
	go p.keepAlive(conn, pingStop)
	return nil
}

func (p *alpacaProvider) dialAndAuth(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, p.cfg.StreamUrl+"/iex", nil)
	if err != nil {
		return nil, &marketapi.ConnectionError{Provider: p.Id(), Err: err}
	}
	// wait for "connected" message
	var initMessage []streamMessage
	err = conn.ReadJSON(&initMessage)
	if err != nil || len(initMessage) != 1 || initMessage[0].Type != messageTypeSuccess || initMessage[0].Msg != messageConnected {
		conn.Close()
		if err == nil {
			err = errors.New("unexpected stream handshake message")
		}
		return nil, &marketapi.ConnectionError{Provider: p.Id(), Err: err}
	}
	// authenticate
	msg, _ := json.Marshal(authCommand{
		Action: "auth",
		Key:    p.cfg.ApiKey,
		Secret: p.cfg.ApiSecret,
	})
	if err = conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		conn.Close()
		return nil, &marketapi.ConnectionError{Provider: p.Id(), Err: err}
	}
	// wait for confirmation
	var confirmMessage []streamMessage
	err = conn.ReadJSON(&confirmMessage)
	if err != nil || len(confirmMessage) != 1 || confirmMessage[0].Type != messageTypeSuccess || confirmMessage[0].Msg != messageAuthenticated {
		conn.Close()
		if err == nil {
			err = fmt.Errorf("credentials rejected: %v", confirmMessage)
			return nil, &marketapi.AuthenticationError{Provider: p.Id(), Err: err}
		}
		return nil, &marketapi.ConnectionError{Provider: p.Id(), Err: err}
	}
	return conn, nil
}

// Disconnect closes the transport immediately and cancels any pending
// reconnection and keep-alive ping. Active subscriptions are purged;
// a following Connect starts with a clean table.
func (p *alpacaProvider) Disconnect() error {
	p.connMu.Lock()
	p.closing = true
	if p.reconnectCancel != nil {
		p.reconnectCancel()
		p.reconnectCancel = nil
	}
	if p.pingStop != nil {
		close(p.pingStop)
		p.pingStop = nil
	}
	conn := p.conn
	p.conn = nil
	p.connMu.Unlock()

	if conn != nil {
		conn.Close()
	}
	p.subs.Clear()
	if p.state.State() != marketapi.StateDisconnected {
		_ = p.state.Transition(marketapi.StateDisconnected)
		p.hub.Publish(marketapi.Event{Kind: marketapi.EventDisconnected, Provider: p.Id(), Time: time.Now()})
	}
	return nil
}

func (p *alpacaProvider) handleStream(conn *websocket.Conn) {
	for {
		var data []streamMessage
		if err := conn.ReadJSON(&data); err != nil {
			p.handleStreamClosure(conn, err)
			return
		}
		for i := range data {
			p.dispatchStreamMessage(&data[i])
		}
	}
}

func (p *alpacaProvider) dispatchStreamMessage(m *streamMessage) {
	switch m.Type {
	case messageTypeTrade:
		t := marketval.Trade{
			Symbol:    m.Symbol,
			Price:     m.Price,
			Size:      m.TradeSize,
			TradeId:   strconv.FormatInt(m.TradeId, 10),
			Timestamp: m.Timestamp,
		}
		p.trades.Store(m.Symbol, t)
		p.hub.Publish(marketapi.Event{Kind: marketapi.EventTrade, Provider: p.Id(), Symbol: m.Symbol, Trade: &t, Time: m.Timestamp})
	case messageTypeQuote:
		q := marketval.Quote{
			Symbol:    m.Symbol,
			BidPrice:  m.BidPrice,
			BidSize:   m.BidSize,
			AskPrice:  m.AskPrice,
			AskSize:   m.AskSize,
			Timestamp: m.Timestamp,
		}
		p.quotes.Store(m.Symbol, q)
		p.hub.Publish(marketapi.Event{Kind: marketapi.EventQuote, Provider: p.Id(), Symbol: m.Symbol, Quote: &q, Time: m.Timestamp})
	case messageTypeBar:
		b := marketval.Bar{
			Symbol:     m.Symbol,
			OpenPrice:  m.Open,
			HighPrice:  m.High,
			LowPrice:   m.Low,
			ClosePrice: m.Close,
			Volume:     m.Volume,
			Timeframe:  streamBarTimeframe,
			Timestamp:  m.Timestamp,
		}
		p.bars.Store(marketapi.BarKey(m.Symbol, streamBarTimeframe), b)
		p.hub.Publish(marketapi.Event{Kind: marketapi.EventBar, Provider: p.Id(), Symbol: m.Symbol, Bar: &b, Time: m.Timestamp})
	case messageTypeError:
		err := fmt.Errorf("venue error %d: %s", m.Code, m.Msg)
		log.Printf("alpaca stream: %v", err)
		p.hub.Publish(marketapi.Event{Kind: marketapi.EventError, Provider: p.Id(), Err: err, Time: time.Now()})
	}
}

func (p *alpacaProvider) handleStreamClosure(conn *websocket.Conn, cause error) {
	p.connMu.Lock()
	if p.conn != conn {
		// A newer connection took over, or Disconnect already cleaned up.
		p.connMu.Unlock()
		return
	}
	p.conn = nil
	if p.pingStop != nil {
		close(p.pingStop)
		p.pingStop = nil
	}
	closing := p.closing
	p.connMu.Unlock()

	if closing {
		return
	}
	log.Printf("alpaca stream terminated unexpectedly: %v", cause)
	p.hub.Publish(marketapi.Event{Kind: marketapi.EventDisconnected, Provider: p.Id(), Err: cause, Time: time.Now()})
	if !p.state.TransitionFrom(marketapi.StateConnected, marketapi.StateReconnecting) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.connMu.Lock()
	p.reconnectCancel = cancel
	p.connMu.Unlock()
	go p.reconnect(ctx)
}

// reconnect retries with a linearly growing delay. On success all
// previously active subscriptions are reissued exactly once from the
// subscription table. After the configured number of failures the
// provider settles in ERROR and a new Connect call is required.
func (p *alpacaProvider) reconnect(ctx context.Context) {
	interval := time.Second * time.Duration(p.cfg.ReconnectIntervalSeconds)
	for attempt := 1; attempt <= p.cfg.MaxReconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval * time.Duration(attempt)):
		}

		conn, err := p.dialAndAuth(ctx)
		if err != nil {
			log.Printf("alpaca reconnect attempt %d/%d failed: %v", attempt, p.cfg.MaxReconnectAttempts, err)
			continue
		}

		p.connMu.Lock()
		if p.closing {
			p.connMu.Unlock()
			conn.Close()
			return
		}
		p.conn = conn
		p.pingStop = make(chan struct{})
		pingStop := p.pingStop
		p.reconnectCancel = nil
		p.connMu.Unlock()

		_ = p.state.Transition(marketapi.StateConnected)
		p.hub.Publish(marketapi.Event{Kind: marketapi.EventConnected, Provider: p.Id(), Time: time.Now()})
		p.replaySubscriptions(conn)
		go p.handleStream(conn)
		go p.keepAlive(conn, pingStop)
		return
	}

	_ = p.state.Transition(marketapi.StateError)
	p.hub.Publish(marketapi.Event{
		Kind:     marketapi.EventError,
		Provider: p.Id(),
		Err:      fmt.Errorf("giving up after %d reconnect attempts", p.cfg.MaxReconnectAttempts),
		Time:     time.Now(),
	})
}

func (p *alpacaProvider) replaySubscriptions(conn *websocket.Conn) {
	for symbol, types := range p.subs.Snapshot() {
		if err := writeControl(conn, "subscribe", symbol, types); err != nil {
			log.Printf("alpaca: failed to replay subscription for %s: %v", symbol, err)
		}
	}
}

func (p *alpacaProvider) keepAlive(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(time.Second * 10)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func writeControl(conn *websocket.Conn, action string, symbol string, types marketval.DataType) error {
	cmd := subscribeCommand{Action: action}
	if types.Has(marketval.DataTrades) {
		cmd.Trades = []string{symbol}
	}
	if types.Has(marketval.DataQuotes) {
		cmd.Quotes = []string{symbol}
	}
	if types.Has(marketval.DataBars) {
		cmd.Bars = []string{symbol}
	}
	msg, _ := json.Marshal(cmd)
	return conn.WriteMessage(websocket.TextMessage, msg)
}

func (p *alpacaProvider) Subscribe(ctx context.Context, symbol string, types marketval.DataType) error {
	if !p.state.Is(marketapi.StateConnected) {
		return marketapi.ErrNotConnected
	}
	if types.Has(marketval.DataOrderBook) {
		return &marketapi.SubscriptionError{Provider: p.Id(), Symbol: symbol, Err: marketapi.ErrUnsupportedData}
	}
	added := p.subs.Add(symbol, types)
	if added == 0 {
		return nil
	}
	p.connMu.Lock()
	conn := p.conn
	p.connMu.Unlock()
	if conn == nil {
		p.subs.Remove(symbol, added)
		return marketapi.ErrNotConnected
	}
	if err := writeControl(conn, "subscribe", symbol, added); err != nil {
		p.subs.Remove(symbol, added)
		return &marketapi.SubscriptionError{Provider: p.Id(), Symbol: symbol, Err: err}
	}
	p.hub.Publish(marketapi.Event{
		Kind:     marketapi.EventSubscriptionChanged,
		Provider: p.Id(),
		Symbol:   symbol,
		Types:    p.subs.Get(symbol),
		Time:     time.Now(),
	})
	return nil
}

func (p *alpacaProvider) Unsubscribe(ctx context.Context, symbol string, types ...marketval.DataType) (marketval.DataType, error) {
	if !p.state.Is(marketapi.StateConnected) {
		return 0, marketapi.ErrNotConnected
	}
	before := p.subs.Get(symbol)
	if before == 0 {
		return 0, &marketapi.SubscriptionError{Provider: p.Id(), Symbol: symbol, Err: errors.New("not subscribed")}
	}
	remaining := p.subs.Remove(symbol, types...)
	removed := before &^ remaining
	if removed == 0 {
		return remaining, nil
	}
	p.connMu.Lock()
	conn := p.conn
	p.connMu.Unlock()
	if conn != nil {
		if err := writeControl(conn, "unsubscribe", symbol, removed); err != nil {
			log.Printf("alpaca: unsubscribe write for %s failed: %v", symbol, err)
		}
	}
	p.hub.Publish(marketapi.Event{
		Kind:     marketapi.EventSubscriptionChanged,
		Provider: p.Id(),
		Symbol:   symbol,
		Types:    remaining,
		Time:     time.Now(),
	})
	return remaining, nil
}

func (p *alpacaProvider) createRequest(ctx context.Context, cmd string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.dataUrl()+cmd, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Add("APCA-API-KEY-ID", p.cfg.ApiKey)
	req.Header.Add("APCA-API-SECRET-KEY", p.cfg.ApiSecret)
	return req, nil
}

func (p *alpacaProvider) runRequest(ctx context.Context, cmd string, query url.Values) (*http.Response, error) {
	retry := true
	var resp *http.Response
	for retry {
		// Throttle according to http headers.
		if err := p.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := p.createRequest(ctx, cmd)
		if err != nil {
			return nil, err
		}
		if query != nil {
			req.URL.RawQuery = query.Encode()
		}
		resp, err = p.apiClient.Do(req)
		if err != nil {
			return nil, err
		}
		retry, err = p.rateLimiter.HandleResponseHeadersWithWait(ctx, resp)
		if err != nil {
			resp.Body.Close()
			return nil, err
		}
		if retry {
			resp.Body.Close()
		}
	}
	return resp, nil
}

func (p *alpacaProvider) fetchSnapshot(ctx context.Context, symbol string) (*snapshot, error) {
	resp, err := p.runRequest(ctx, "/stocks/"+symbol+"/snapshot", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var s snapshot
	if err = webclient.ParseJsonResponse(resp, &s); err != nil {
		return nil, err
	}
	// Point queries populate the same caches the stream feeds.
	if s.LatestQuote != nil {
		p.quotes.Store(symbol, marketval.Quote{
			Symbol:    symbol,
			BidPrice:  s.LatestQuote.BidPrice,
			BidSize:   s.LatestQuote.BidSize,
			AskPrice:  s.LatestQuote.AskPrice,
			AskSize:   s.LatestQuote.AskSize,
			Timestamp: s.LatestQuote.Timestamp,
		})
	}
	if s.LatestTrade != nil {
		p.trades.Store(symbol, marketval.Trade{
			Symbol:    symbol,
			Price:     s.LatestTrade.Price,
			Size:      s.LatestTrade.Size,
			TradeId:   strconv.FormatInt(s.LatestTrade.Id, 10),
			Timestamp: s.LatestTrade.Timestamp,
		})
	}
	if s.MinuteBar != nil {
		p.bars.Store(marketapi.BarKey(symbol, streamBarTimeframe), marketval.Bar{
			Symbol:     symbol,
			OpenPrice:  s.MinuteBar.Open,
			HighPrice:  s.MinuteBar.High,
			LowPrice:   s.MinuteBar.Low,
			ClosePrice: s.MinuteBar.Close,
			Volume:     s.MinuteBar.Volume,
			Timeframe:  streamBarTimeframe,
			Timestamp:  s.MinuteBar.Timestamp,
		})
	}
	return &s, nil
}

func (p *alpacaProvider) Quote(ctx context.Context, symbol string) (marketval.Quote, error) {
	if !p.state.Is(marketapi.StateConnected) {
		return marketval.Quote{}, marketapi.ErrNotConnected
	}
	if q, exists := p.quotes.Load(symbol); exists {
		return q, nil
	}
	if _, err := p.fetchSnapshot(ctx, symbol); err != nil {
		return marketval.Quote{}, err
	}
	q, exists := p.quotes.Load(symbol)
	if !exists {
		return marketval.Quote{}, &marketapi.NotFoundError{Kind: "quote", Id: symbol}
	}
	return q, nil
}

func (p *alpacaProvider) Trade(ctx context.Context, symbol string) (marketval.Trade, error) {
	if !p.state.Is(marketapi.StateConnected) {
		return marketval.Trade{}, marketapi.ErrNotConnected
	}
	if t, exists := p.trades.Load(symbol); exists {
		return t, nil
	}
	if _, err := p.fetchSnapshot(ctx, symbol); err != nil {
		return marketval.Trade{}, err
	}
	t, exists := p.trades.Load(symbol)
	if !exists {
		return marketval.Trade{}, &marketapi.NotFoundError{Kind: "trade", Id: symbol}
	}
	return t, nil
}

// OrderBook builds a single level book from the latest quote, because
// this feed does not carry market depth.
func (p *alpacaProvider) OrderBook(ctx context.Context, symbol string, depth int) (marketval.OrderBook, error) {
	q, err := p.Quote(ctx, symbol)
	if err != nil {
		return marketval.OrderBook{}, err
	}
	book := marketval.OrderBook{
		Symbol:    symbol,
		Timestamp: q.Timestamp,
	}
	if q.BidPrice != nil {
		book.Bids = []marketval.BookLevel{{Price: q.BidPrice, Size: q.BidSize}}
	}
	if q.AskPrice != nil {
		book.Asks = []marketval.BookLevel{{Price: q.AskPrice, Size: q.AskSize}}
	}
	return book.Trimmed(depth), nil
}

func (p *alpacaProvider) HistoricalBars(ctx context.Context, req marketval.BarsRequest) ([]marketval.Bar, error) {
	if !p.state.Is(marketapi.StateConnected) {
		return nil, marketapi.ErrNotConnected
	}

	var data []marketval.Bar
	var nextPageToken string
	hasNextPage := true

	for hasNextPage {
		query := make(url.Values)
		query.Add("timeframe", getTimeframeStr(req.Timeframe))
		query.Add("start", req.FromTime.UTC().Format(time.RFC3339Nano))
		query.Add("end", req.ToTime.UTC().Format(time.RFC3339Nano))
		query.Add("adjustment", "all") // split & dividend adjustment
		pageLimit := 10000
		if req.Limit > 0 && req.Limit-len(data) < pageLimit {
			pageLimit = req.Limit - len(data)
		}
		query.Add("limit", strconv.Itoa(pageLimit))
		if nextPageToken != "" {
			query.Add("page_token", nextPageToken)
		}
		resp, err := p.runRequest(ctx, "/stocks/"+req.Symbol+"/bars", query)
		if err != nil {
			return nil, err
		}

		var page stockBars
		err = webclient.ParseJsonResponse(resp, &page)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		for _, b := range page.Bars {
			data = append(data, marketval.Bar{
				Symbol:     req.Symbol,
				OpenPrice:  b.Open,
				HighPrice:  b.High,
				LowPrice:   b.Low,
				ClosePrice: b.Close,
				Volume:     b.Volume,
				Timeframe:  req.Timeframe,
				Timestamp:  b.Timestamp,
			})
		}

		hasNextPage = page.NextPageToken != nil && *page.NextPageToken != ""
		if hasNextPage {
			nextPageToken = *page.NextPageToken
		}
		if req.Limit > 0 && len(data) >= req.Limit {
			data = data[:req.Limit]
			break
		}
	}
	return data, nil
}
