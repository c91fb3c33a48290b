package binance

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	reconnectDelay    = 5 * time.Second
	listenKeyInterval = 30 * time.Minute
)

// StreamCache maintains the live best bid/ask per symbol from the combined
// book-ticker stream and free balances from the user-data stream. The stream
// goroutine is the single writer; the trading loop reads through RWMutex
// accessors and may bypass the balance cache with a forced REST refresh.
type StreamCache struct {
	mu       sync.RWMutex
	bids     map[string]float64
	asks     map[string]float64
	balances map[string]float64

	logger    *zap.Logger
	wsURL     string
	listenKey string
	client    RestClientInterface

	connMu sync.Mutex
	conn   *websocket.Conn

	stopCh  chan struct{}
	stopped sync.Once
}

// NewStreamCache prepares a cache for the given symbols; Start must be
// called to begin streaming.
func NewStreamCache(wsBase string, client RestClientInterface, logger *zap.Logger) *StreamCache {
	return &StreamCache{
		bids:     make(map[string]float64),
		asks:     make(map[string]float64),
		balances: make(map[string]float64),
		logger:   logger,
		wsURL:    wsBase,
		client:   client,
		stopCh:   make(chan struct{}),
	}
}

// SeedBalances overwrites the balance cache, typically from a REST account
// snapshot at boot or after a forced refresh.
func (s *StreamCache) SeedBalances(balances map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances = balances
}

// BestBid returns the streamed best bid for a symbol.
func (s *StreamCache) BestBid(symbol string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	price, ok := s.bids[symbol]
	return price, ok
}

// BestAsk returns the streamed best ask for a symbol.
func (s *StreamCache) BestAsk(symbol string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	price, ok := s.asks[symbol]
	return price, ok
}

// Balance returns the cached free balance for an asset.
func (s *StreamCache) Balance(asset string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	amount, ok := s.balances[asset]
	return amount, ok
}

// Start connects and runs the read loop in the background, reconnecting on
// failure until Close is called. symbols are alt+quote market symbols to
// subscribe book tickers for.
func (s *StreamCache) Start(symbols []string) error {
	listenKey, err := s.client.CreateListenKey()
	if err != nil {
		return err
	}
	s.listenKey = listenKey

	streams := make([]string, 0, len(symbols)+1)
	for _, symbol := range symbols {
		streams = append(streams, strings.ToLower(symbol)+"@bookTicker")
	}
	streams = append(streams, listenKey)
	streamURL := s.wsURL + "?streams=" + strings.Join(streams, "/")

	go s.run(streamURL)
	go s.keepAliveLoop()
	return nil
}

// Close terminates the stream and its goroutines.
func (s *StreamCache) Close() {
	s.stopped.Do(func() {
		close(s.stopCh)
		s.connMu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.connMu.Unlock()
	})
}

func (s *StreamCache) run(streamURL string) {
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(streamURL, nil)
		if err != nil {
			s.logger.Warn("Stream connect failed, retrying",
				zap.Error(err), zap.Duration("delay", reconnectDelay))
			select {
			case <-time.After(reconnectDelay):
				continue
			case <-s.stopCh:
				return
			}
		}

		s.connMu.Lock()
		s.conn = conn
		s.connMu.Unlock()
		s.logger.Info("Market stream connected")

		s.readLoop(conn)

		select {
		case <-s.stopCh:
			return
		case <-time.After(reconnectDelay):
		}
	}
}

type streamFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type bookTickerEvent struct {
	Symbol  string `json:"s"`
	BestBid string `json:"b"`
	BestAsk string `json:"a"`
}

type accountPositionEvent struct {
	EventType string `json:"e"`
	Balances  []struct {
		Asset string `json:"a"`
		Free  string `json:"f"`
	} `json:"B"`
}

func (s *StreamCache) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopCh:
			default:
				s.logger.Warn("Stream read failed, reconnecting", zap.Error(err))
			}
			return
		}

		var frame streamFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			s.logger.Debug("Skipping unparseable stream frame", zap.Error(err))
			continue
		}

		if strings.HasSuffix(frame.Stream, "@bookTicker") {
			s.handleBookTicker(frame.Data)
		} else if frame.Stream == s.listenKey {
			s.handleUserData(frame.Data)
		}
	}
}

func (s *StreamCache) handleBookTicker(data json.RawMessage) {
	var event bookTickerEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return
	}
	bid, errB := strconv.ParseFloat(event.BestBid, 64)
	ask, errA := strconv.ParseFloat(event.BestAsk, 64)
	if errB != nil || errA != nil {
		return
	}

	s.mu.Lock()
	s.bids[event.Symbol] = bid
	s.asks[event.Symbol] = ask
	s.mu.Unlock()
}

func (s *StreamCache) handleUserData(data json.RawMessage) {
	var event accountPositionEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return
	}
	if event.EventType != "outboundAccountPosition" {
		return
	}

	s.mu.Lock()
	for _, balance := range event.Balances {
		free, err := strconv.ParseFloat(balance.Free, 64)
		if err != nil {
			continue
		}
		s.balances[balance.Asset] = free
	}
	s.mu.Unlock()
}

func (s *StreamCache) keepAliveLoop() {
	ticker := time.NewTicker(listenKeyInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.client.KeepAliveListenKey(s.listenKey); err != nil {
				s.logger.Warn("Listen key keepalive failed", zap.Error(err))
			}
		}
	}
}
