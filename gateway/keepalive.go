package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"optionflow/config"
	"optionflow/logger"
)

// Keepalive holds a websocket session against the daemon and pings it on a
// fixed interval. The daemon drops its upstream brokerage session when no
// client has pinged for a while, which would silently stop all snapshots. A
// dropped connection is re-established for as long as the context lives;
// connect failures escalate to error level once the attempt budget is spent.
type Keepalive struct {
	cfg config.KeepaliveConfig
	url string

	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log
}

// NewKeepalive creates a keepalive session for the configured daemon.
func NewKeepalive(cfg config.GatewayConfig, log *logger.Log) *Keepalive {
	return &Keepalive{
		cfg: cfg.Keepalive,
		url: fmt.Sprintf("ws://%s:%d/ws/keepalive", cfg.Host, cfg.Port),
		wg:  &sync.WaitGroup{},
		log: log,
	}
}

// Start launches the ping loop.
func (k *Keepalive) Start(ctx context.Context) error {
	k.mu.Lock()
	if k.running {
		k.mu.Unlock()
		return fmt.Errorf("keepalive already running")
	}
	k.running = true
	k.ctx = ctx
	k.mu.Unlock()

	log := k.log.WithComponent("gateway_keepalive")
	log.WithFields(logger.Fields{"url": k.url, "interval": k.cfg.PingInterval.String()}).Info("starting gateway keepalive")

	k.wg.Add(1)
	go k.run()

	return nil
}

// Stop terminates the ping loop and waits for it to finish.
func (k *Keepalive) Stop() {
	k.mu.Lock()
	k.running = false
	k.mu.Unlock()
	k.log.WithComponent("gateway_keepalive").Info("stopping gateway keepalive")
	k.wg.Wait()
	k.log.WithComponent("gateway_keepalive").Info("gateway keepalive stopped")
}

func (k *Keepalive) run() {
	defer k.wg.Done()
	log := k.log.WithComponent("gateway_keepalive")

	attempts := 0
	for {
		if k.ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.Dial(k.url, nil)
		if err != nil {
			attempts++
			if k.cfg.MaxReconnectAttempts > 0 && attempts%k.cfg.MaxReconnectAttempts == 0 {
				log.WithError(err).WithFields(logger.Fields{"attempts": attempts}).Error("gateway keepalive still unreachable")
			} else {
				log.WithError(err).WithFields(logger.Fields{"attempt": attempts}).Warn("failed to connect keepalive websocket, retrying")
			}
			select {
			case <-time.After(k.cfg.ReconnectInterval):
				continue
			case <-k.ctx.Done():
				return
			}
		}

		attempts = 0
		log.Info("keepalive websocket connected")
		k.pingLoop(conn, log)
		conn.Close()

		select {
		case <-time.After(k.cfg.ReconnectInterval):
		case <-k.ctx.Done():
			return
		}
	}
}

// pingLoop pings until the connection breaks or the context is cancelled.
func (k *Keepalive) pingLoop(conn *websocket.Conn, log *logger.Entry) {
	ticker := time.NewTicker(k.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-k.ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteJSON(map[string]string{"op": "ping"}); err != nil {
				log.WithError(err).Warn("keepalive ping failed, reconnecting")
				return
			}
			conn.SetReadDeadline(time.Now().Add(k.cfg.PingInterval))
			if _, _, err := conn.ReadMessage(); err != nil {
				log.WithError(err).Warn("keepalive pong not received, reconnecting")
				return
			}
		}
	}
}
