package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"renkoflow/config"
	"renkoflow/logger"
)

// KlineEvent is one closed candle from the kline stream.
type KlineEvent struct {
	Instrument string
	Timeframe  string
	CloseTime  time.Time
}

// KlineHandler receives closed candles. It runs on the stream goroutine and
// must not block.
type KlineHandler func(KlineEvent)

// wsKlineMessage is the combined-stream kline payload. Only the fields the
// streamer acts on are mapped.
type wsKlineMessage struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Kline     struct {
		Interval  string `json:"i"`
		CloseTime int64  `json:"T"`
		Closed    bool   `json:"x"`
	} `json:"k"`
}

// Streamer subscribes to futures kline streams and reports closed candles.
// One websocket connection is held per instrument and timeframe pair;
// dropped connections are redialed after a fixed delay.
type Streamer struct {
	config  *config.Config
	handler KlineHandler
	ctx     context.Context
	cancel  context.CancelFunc
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log
}

func NewStreamer(cfg *config.Config, handler KlineHandler) *Streamer {
	return &Streamer{
		config:  cfg,
		handler: handler,
		wg:      &sync.WaitGroup{},
		log:     logger.GetLogger(),
	}
}

// Start opens one stream per configured instrument and timeframe.
func (s *Streamer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("streamer already running")
	}
	s.running = true
	// Streams stop when either the caller's context ends or Stop is called.
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	log := s.log.WithComponent("binance_streamer").WithFields(logger.Fields{"operation": "start"})

	count := 0
	for _, inst := range s.config.Instruments {
		for _, tf := range inst.Timeframes {
			interval, ok := intervals[tf]
			if !ok {
				log.WithFields(logger.Fields{"instrument": inst.Symbol, "timeframe": tf}).
					Warn("unsupported stream timeframe, skipping")
				continue
			}
			s.wg.Add(1)
			go s.streamKlines(inst.Symbol, tf, interval)
			count++
		}
	}
	if count == 0 {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.cancel()
		return fmt.Errorf("no streamable instrument timeframes configured")
	}

	log.WithFields(logger.Fields{"streams": count}).Info("kline streamer started")
	return nil
}

// Stop terminates all websocket subscriptions and waits for the stream
// goroutines to exit. Safe to call without cancelling the Start context.
func (s *Streamer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	s.log.WithComponent("binance_streamer").Info("stopping kline streamer")
	cancel()
	s.wg.Wait()
	s.log.WithComponent("binance_streamer").Info("kline streamer stopped")
}

func (s *Streamer) streamKlines(instrument, timeframe, interval string) {
	defer s.wg.Done()

	log := s.log.WithComponent("binance_streamer").WithFields(logger.Fields{
		"instrument": instrument,
		"timeframe":  timeframe,
		"worker":     "kline_stream",
	})

	endpoint := fmt.Sprintf("%s/ws/%s@kline_%s",
		strings.TrimRight(s.config.Source.Binance.WsURL, "/"),
		strings.ToLower(instrument), interval)
	reconnectDelay := 5 * time.Second

	for {
		if s.ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(s.ctx, endpoint, nil)
		if err != nil {
			log.WithError(err).Warn("failed to dial kline stream")
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}
		log.Info("kline stream connected")

		// Unblock ReadMessage when the run context ends.
		done := make(chan struct{})
		go func() {
			select {
			case <-s.ctx.Done():
				conn.Close()
			case <-done:
			}
		}()

		s.readLoop(conn, instrument, timeframe, log)
		close(done)
		conn.Close()

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (s *Streamer) readLoop(conn *websocket.Conn, instrument, timeframe string, log *logger.Entry) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil {
				log.WithError(err).Warn("kline stream read failed, reconnecting")
			}
			return
		}

		var msg wsKlineMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.WithError(err).Warn("failed to decode kline event")
			continue
		}
		if msg.EventType != "kline" || !msg.Kline.Closed {
			continue
		}

		s.handler(KlineEvent{
			Instrument: msg.Symbol,
			Timeframe:  timeframe,
			CloseTime:  time.UnixMilli(msg.Kline.CloseTime).UTC(),
		})
		log.WithFields(logger.Fields{
			"close_time": time.UnixMilli(msg.Kline.CloseTime).UTC(),
		}).Debug("closed candle received")
	}
}
