package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"optionflow/config"
	"optionflow/logger"
)

// Supervisor keeps market workers alive: a worker that exited (panic, fatal
// error) is relaunched, and one whose heartbeat went stale is flagged in the
// logs.
type Supervisor struct {
	workers    []*MarketWorker
	interval   time.Duration
	restartGap time.Duration
	staleAfter time.Duration

	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log
}

// NewSupervisor builds a supervisor over the given workers.
func NewSupervisor(workers []*MarketWorker, cfg config.SchedulerConfig, log *logger.Log) *Supervisor {
	staleAfter := 3 * cfg.ScanIntervalMulti
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}

	return &Supervisor{
		workers:    workers,
		interval:   cfg.SupervisorInterval,
		restartGap: cfg.RestartDelay,
		staleAfter: staleAfter,
		wg:         &sync.WaitGroup{},
		log:        log,
	}
}

// Start launches the supervision loop.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("supervisor already running")
	}
	s.running = true
	s.ctx = ctx
	s.mu.Unlock()

	s.log.WithComponent("supervisor").WithFields(logger.Fields{
		"workers":  len(s.workers),
		"interval": s.interval.String(),
	}).Info("starting supervisor")

	s.wg.Add(1)
	go s.run()
	return nil
}

// Stop terminates the supervision loop.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.wg.Wait()
	s.log.WithComponent("supervisor").Info("supervisor stopped")
}

func (s *Supervisor) run() {
	defer s.wg.Done()
	log := s.log.WithComponent("supervisor")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.check(log)
		}
	}
}

// check relaunches dead workers and reports stale ones.
func (s *Supervisor) check(log *logger.Entry) {
	for _, worker := range s.workers {
		if s.ctx.Err() != nil {
			return
		}

		if !worker.IsRunning() {
			log.WithFields(logger.Fields{"market": worker.Market()}).Warn("market worker is down, relaunching")
			if s.restartGap > 0 {
				select {
				case <-time.After(s.restartGap):
				case <-s.ctx.Done():
					return
				}
			}
			if err := worker.Start(s.ctx); err != nil {
				log.WithError(err).WithFields(logger.Fields{"market": worker.Market()}).Error("failed to relaunch market worker")
			}
			continue
		}

		if age := time.Since(worker.Heartbeat()); age > s.staleAfter {
			log.WithFields(logger.Fields{
				"market":        worker.Market(),
				"heartbeat_age": age.String(),
			}).Warn("market worker heartbeat is stale")
		}
	}
}
