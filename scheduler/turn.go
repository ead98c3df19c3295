// Package scheduler serializes market scans against the shared gateway
// session. Only one market may call the daemon at a time, markets take turns
// in registration order, and each market keeps a minimum distance between
// its own calls so the brokerage quota behind the daemon survives two
// markets polling at once.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"optionflow/config"
	"optionflow/logger"
)

// ErrTurnTimeout says a market waited out its whole cycle budget without the
// turn coming around. The caller skips the scan and tries again later.
var ErrTurnTimeout = errors.New("turn not acquired within cycle budget")

// TurnCoordinator hands the single gateway slot around between registered
// markets. The token channel carries the slot itself; the mutex guards the
// bookkeeping of whose turn it is.
type TurnCoordinator struct {
	mu          sync.Mutex
	token       chan struct{}
	markets     []string
	currentTurn string
	lastCall    map[string]time.Time

	minInterval  time.Duration
	pollInterval time.Duration
	maxCycles    int
	log          *logger.Entry
}

// NewTurnCoordinator creates a coordinator with the slot available.
func NewTurnCoordinator(cfg config.SchedulerConfig, log *logger.Log) *TurnCoordinator {
	tc := &TurnCoordinator{
		token:        make(chan struct{}, 1),
		lastCall:     make(map[string]time.Time),
		minInterval:  cfg.MinAPIInterval,
		pollInterval: cfg.TurnPollInterval,
		maxCycles:    cfg.TurnMaxCycles,
		log:          log.WithComponent("turn_coordinator"),
	}
	tc.token <- struct{}{}
	return tc
}

// Register adds a market to the rotation. The first registrant owns the
// initial turn.
func (tc *TurnCoordinator) Register(market string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	for _, m := range tc.markets {
		if m == market {
			return
		}
	}
	tc.markets = append(tc.markets, market)
	if tc.currentTurn == "" {
		tc.currentTurn = market
	}
	tc.log.WithFields(logger.Fields{"market": market, "active": len(tc.markets)}).Info("market registered")
}

// Unregister removes a market from the rotation, passing the turn on if the
// departing market held it. The last call timestamp survives so a restarted
// market cannot burst through the cooldown.
func (tc *TurnCoordinator) Unregister(market string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	for i, m := range tc.markets {
		if m == market {
			tc.markets = append(tc.markets[:i], tc.markets[i+1:]...)
			break
		}
	}
	if tc.currentTurn == market {
		tc.currentTurn = tc.nextLocked(market)
	}
	tc.log.WithFields(logger.Fields{"market": market, "active": len(tc.markets)}).Info("market unregistered")
}

// Acquire blocks until the market holds the gateway slot. With a single
// registered market it only waits for the slot and the cooldown. With
// several it polls for its turn and gives up after the cycle budget,
// returning ErrTurnTimeout.
func (tc *TurnCoordinator) Acquire(ctx context.Context, market string) error {
	if tc.isOnlyActive(market) {
		select {
		case <-tc.token:
		case <-ctx.Done():
			return ctx.Err()
		}
		return tc.cooldown(ctx, market)
	}

	for cycle := 0; cycle < tc.maxCycles; cycle++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		tc.mu.Lock()
		myTurn := tc.currentTurn == market
		tc.mu.Unlock()

		if myTurn {
			select {
			case <-tc.token:
				return tc.cooldown(ctx, market)
			default:
				// Slot still held, keep polling.
			}
		}

		select {
		case <-time.After(tc.pollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return ErrTurnTimeout
}

// Release returns the slot, stamps the market's last call and rotates the
// turn to the next registered market.
func (tc *TurnCoordinator) Release(market string) {
	tc.mu.Lock()
	tc.lastCall[market] = time.Now()
	tc.currentTurn = tc.nextLocked(market)
	tc.mu.Unlock()

	select {
	case tc.token <- struct{}{}:
	default:
	}
}

// Yield passes the turn on without an API call. A market that finds itself
// closed while holding the turn calls this so the open market is not stuck
// polling.
func (tc *TurnCoordinator) Yield(market string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.currentTurn == market {
		tc.currentTurn = tc.nextLocked(market)
	}
}

// CurrentTurn reports whose turn it is.
func (tc *TurnCoordinator) CurrentTurn() string {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.currentTurn
}

// ActiveMarkets returns the registered markets in registration order.
func (tc *TurnCoordinator) ActiveMarkets() []string {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	out := make([]string, len(tc.markets))
	copy(out, tc.markets)
	return out
}

// nextLocked finds the market after the given one in registration order.
// Called with the mutex held.
func (tc *TurnCoordinator) nextLocked(market string) string {
	if len(tc.markets) == 0 {
		return ""
	}
	for i, m := range tc.markets {
		if m == market {
			return tc.markets[(i+1)%len(tc.markets)]
		}
	}
	// Departing market is already out of the slice; fall back to the head.
	return tc.markets[0]
}

func (tc *TurnCoordinator) isOnlyActive(market string) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.markets) == 1 && tc.markets[0] == market
}

// cooldown sleeps out the remainder of the minimum distance since the
// market's own last call. A re-granted market cannot re-call the API early
// even when the other market is closed. The slot is already held; on
// cancellation it is put back so no one deadlocks.
func (tc *TurnCoordinator) cooldown(ctx context.Context, market string) error {
	tc.mu.Lock()
	last := tc.lastCall[market]
	tc.mu.Unlock()

	if last.IsZero() {
		return nil
	}
	remaining := tc.minInterval - time.Since(last)
	if remaining <= 0 {
		return nil
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		select {
		case tc.token <- struct{}{}:
		default:
		}
		return ctx.Err()
	}
}
