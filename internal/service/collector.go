// Package service provides the polling collector that drives the application.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/greenstem/go-egauge/internal/config"
	"github.com/greenstem/go-egauge/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Collector polls a meter on a fixed interval and fans each reading out to
// the publisher and the writer. One poll failure is logged and skipped; the
// loop keeps running.
type Collector struct {
	config    *config.Config
	meter     domain.MeterReader
	publisher domain.MessagePublisher
	writer    domain.ReadingWriter

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   zerolog.Logger

	// now is the time source, overridable in tests.
	now func() time.Time
}

// NewCollector creates a collector instance.
func NewCollector(cfg *config.Config, meter domain.MeterReader, publisher domain.MessagePublisher, writer domain.ReadingWriter) *Collector {
	return &Collector{
		config:    cfg,
		meter:     meter,
		publisher: publisher,
		writer:    writer,
		done:      make(chan struct{}),
		logger:    log.With().Str("component", "collector").Logger(),
		now:       time.Now,
	}
}

// Start begins the polling loop. It returns immediately; polling happens in
// a background goroutine until Stop is called.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Collector.Enabled {
		c.logger.Info().Msg("Collector disabled")
		return nil
	}

	interval := time.Duration(c.config.Collector.IntervalSeconds) * time.Second
	c.logger.Info().Dur("interval", interval).Msg("Collector started")

	c.wg.Add(1)
	go c.run(ctx, interval)
	return nil
}

// run is the polling loop.
func (c *Collector) run(ctx context.Context, interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.collect(ctx); err != nil {
				c.logger.Error().Err(err).Msg("Poll failed")
			}
		}
	}
}

// collect performs one poll: average rates over the last interval, then
// fan-out.
func (c *Collector) collect(ctx context.Context) error {
	interval := int64(c.config.Collector.IntervalSeconds)
	reading, err := c.meter.ValueAt(ctx, c.now().Unix(), interval)
	if err != nil {
		return fmt.Errorf("failed to read meter: %w", err)
	}

	topic := fmt.Sprintf("%s/%s", c.config.MQTT.Topic, reading.DeviceID)
	if err := c.publisher.Publish(ctx, topic, reading); err != nil {
		c.logger.Warn().Err(err).Str("topic", topic).Msg("Failed to publish reading")
	}

	if err := c.writer.Write(reading); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to write reading")
	}

	c.logger.Debug().
		Time("timestamp", reading.Timestamp).
		Int("registers", len(reading.Values)).
		Msg("Collected reading")
	return nil
}

// Stop halts the polling loop and waits for an in-flight poll to finish.
// Safe to call more than once.
func (c *Collector) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.done) })

	finished := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		c.logger.Info().Msg("Collector stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for collector to stop: %w", ctx.Err())
	}
}
