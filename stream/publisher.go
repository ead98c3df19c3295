// Package stream publishes flagged trade events to Kafka for downstream
// consumers.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	kafka "github.com/segmentio/kafka-go"

	appconfig "optionflow/config"
	"optionflow/logger"
	"optionflow/models"
)

// Publisher consumes the trade event channel and writes each event as one
// JSON message, keyed by underlying so per-stock ordering survives
// partitioning.
type Publisher struct {
	config  *appconfig.Config
	events  <-chan models.TradeEvent
	writer  *kafka.Writer
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log
}

func NewPublisher(cfg *appconfig.Config, events <-chan models.TradeEvent) (*Publisher, error) {
	if len(cfg.Stream.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	p := &Publisher{
		config: cfg,
		events: events,
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Stream.Kafka.Brokers...),
			Topic:    cfg.Stream.Kafka.Topic,
			Balancer: &kafka.LeastBytes{},
		},
		wg:  &sync.WaitGroup{},
		log: logger.GetLogger(),
	}
	p.log.WithComponent("stream").WithFields(logger.Fields{
		"brokers": cfg.Stream.Kafka.Brokers,
		"topic":   cfg.Stream.Kafka.Topic,
	}).Debug("event publisher initialized")
	return p, nil
}

func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("event publisher already running")
	}
	p.running = true
	p.ctx = ctx
	p.mu.Unlock()

	p.log.WithComponent("stream").Debug("starting event publisher")

	p.wg.Add(1)
	go p.run()

	return nil
}

func (p *Publisher) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case event, ok := <-p.events:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				p.log.WithComponent("stream").WithError(err).Warn("failed to marshal trade event")
				continue
			}
			msg := kafka.Message{
				Key:   []byte(event.StockCode),
				Value: data,
			}
			if err := p.writer.WriteMessages(p.ctx, msg); err != nil {
				p.log.WithComponent("stream").WithError(err).Warn("failed to write trade event")
			} else {
				logger.RecordChannelMessage("kafka_events", len(data))
				p.log.WithComponent("stream").WithFields(logger.Fields{
					"scan_id":     event.ScanID,
					"option_code": event.OptionCode,
				}).Debug("trade event written to kafka")
			}
		}
	}
}

func (p *Publisher) Stop() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.log.WithComponent("stream").Debug("stopping event publisher")
	p.writer.Close()
	p.wg.Wait()
	p.log.WithComponent("stream").Debug("event publisher stopped")
}
