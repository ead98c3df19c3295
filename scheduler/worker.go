package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"optionflow/config"
	"optionflow/logger"
)

// Scanner is what a worker drives once per cycle. The monitor package
// provides the real one.
type Scanner interface {
	Market() string
	WarmUp(ctx context.Context) error
	Scan(ctx context.Context) error
}

// MarketWorker owns one market's scan loop: wait for trading hours, take the
// turn, scan, hand the turn back, sleep out the cadence. Exits are absorbed
// by the supervisor.
type MarketWorker struct {
	market          string
	scanner         Scanner
	coordinator     *TurnCoordinator
	hours           *TradingHours
	monitorOffHours bool

	startDelay   time.Duration
	scanInterval time.Duration
	errorRetry   time.Duration
	closedPoll   time.Duration

	heartbeat int64

	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log
}

// NewMarketWorker wires a worker for one market. multiMarket selects the
// slower cadence used when two markets share the gateway; startDelay
// staggers the second market's first scan.
func NewMarketWorker(scanner Scanner, coordinator *TurnCoordinator, hours *TradingHours, marketCfg config.MarketConfig, schedCfg config.SchedulerConfig, multiMarket bool, startDelay time.Duration, log *logger.Log) *MarketWorker {
	interval := schedCfg.ScanIntervalSingle
	if multiMarket {
		interval = schedCfg.ScanIntervalMulti
	}

	return &MarketWorker{
		market:          scanner.Market(),
		scanner:         scanner,
		coordinator:     coordinator,
		hours:           hours,
		monitorOffHours: marketCfg.MonitorOffHours,
		startDelay:      startDelay,
		scanInterval:    interval,
		errorRetry:      schedCfg.ErrorRetryInterval,
		closedPoll:      schedCfg.ClosedPollInterval,
		wg:              &sync.WaitGroup{},
		log:             log,
	}
}

// Market returns the worker's market name.
func (w *MarketWorker) Market() string {
	return w.market
}

// Location returns the market's timezone.
func (w *MarketWorker) Location() *time.Location {
	return w.hours.Location()
}

// Start registers the market with the coordinator and launches the loop.
func (w *MarketWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("market worker %s already running", w.market)
	}
	w.running = true
	w.ctx = ctx
	w.mu.Unlock()

	w.coordinator.Register(w.market)
	w.beat()

	log := w.log.WithComponent("market_worker").WithFields(logger.Fields{"market": w.market})
	log.WithFields(logger.Fields{"scan_interval": w.scanInterval.String(), "start_delay": w.startDelay.String()}).Info("starting market worker")

	w.wg.Add(1)
	go w.run()
	return nil
}

// Stop flags the worker down and waits for the loop to exit. Cancel the
// context passed to Start first, or the loop will finish its current cycle.
func (w *MarketWorker) Stop() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	w.wg.Wait()
	w.log.WithComponent("market_worker").WithFields(logger.Fields{"market": w.market}).Info("market worker stopped")
}

// IsRunning reports whether the loop is alive.
func (w *MarketWorker) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// Heartbeat returns the time of the loop's last liveness beat.
func (w *MarketWorker) Heartbeat() time.Time {
	return time.Unix(0, atomic.LoadInt64(&w.heartbeat))
}

func (w *MarketWorker) beat() {
	atomic.StoreInt64(&w.heartbeat, time.Now().UnixNano())
}

func (w *MarketWorker) alive() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running && w.ctx.Err() == nil
}

func (w *MarketWorker) run() {
	log := w.log.WithComponent("market_worker").WithFields(logger.Fields{"market": w.market})

	defer w.wg.Done()
	defer w.coordinator.Unregister(w.market)
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logger.Fields{"panic": fmt.Sprint(r)}).Error("market worker panicked")
		}
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	if w.startDelay > 0 && !w.sleep(w.startDelay) {
		return
	}

	if err := w.scanner.WarmUp(w.ctx); err != nil {
		log.WithError(err).Warn("warm up failed, starting cold")
	}

	for w.alive() {
		w.beat()

		if !w.monitorOffHours && !w.hours.IsOpen(time.Now()) {
			w.coordinator.Yield(w.market)
			if !w.sleep(w.closedPoll) {
				return
			}
			continue
		}

		err := w.scanOnce()
		switch {
		case err == nil:
			if !w.sleep(w.scanInterval) {
				return
			}
		case errors.Is(err, ErrTurnTimeout):
			logger.IncrementTurnTimeout()
			log.Warn("turn never came around, skipping cycle")
			if !w.sleep(w.errorRetry) {
				return
			}
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return
		default:
			log.WithError(err).Error("scan cycle failed")
			if !w.sleep(w.errorRetry) {
				return
			}
		}
	}
}

// scanOnce takes the gateway slot for one scan and always hands it back.
func (w *MarketWorker) scanOnce() error {
	if err := w.coordinator.Acquire(w.ctx, w.market); err != nil {
		return err
	}
	defer w.coordinator.Release(w.market)
	return w.scanner.Scan(w.ctx)
}

// sleep waits d unless the worker is asked down first. Returns false when
// the loop should exit.
func (w *MarketWorker) sleep(d time.Duration) bool {
	if d <= 0 {
		return w.alive()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return w.alive()
	case <-w.ctx.Done():
		return false
	}
}
