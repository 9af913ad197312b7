package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenstem/go-egauge/internal/config"
	"github.com/greenstem/go-egauge/internal/domain"
)

// fakeMeter implements domain.MeterReader with canned responses.
type fakeMeter struct {
	mu      sync.Mutex
	calls   int
	err     error
	reading domain.Reading
}

func (m *fakeMeter) ValueAt(_ context.Context, unix, interval int64) (domain.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return domain.Reading{}, m.err
	}
	r := m.reading
	r.Timestamp = time.Unix(unix, 0).UTC()
	return r, nil
}

func (m *fakeMeter) CurrentRates(context.Context) (domain.Reading, error) { return m.reading, nil }
func (m *fakeMeter) Range(context.Context, int64, int64, int64) (domain.ReadingSeries, error) {
	return nil, nil
}
func (m *fakeMeter) Epoch(context.Context) (int64, error)  { return 0, nil }
func (m *fakeMeter) Time(context.Context) (int64, error)   { return 0, nil }
func (m *fakeMeter) Uptime(context.Context) (int64, error) { return 0, nil }
func (m *fakeMeter) Reboot(context.Context) error          { return nil }

// capturePublisher records published readings.
type capturePublisher struct {
	mu     sync.Mutex
	topics []string
	data   []interface{}
}

func (p *capturePublisher) Connect(context.Context) error { return nil }
func (p *capturePublisher) Publish(_ context.Context, topic string, data interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.data = append(p.data, data)
	return nil
}
func (p *capturePublisher) Close() error { return nil }

// captureWriter records written readings.
type captureWriter struct {
	mu       sync.Mutex
	readings []domain.Reading
}

func (w *captureWriter) Write(r domain.Reading) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.readings = append(w.readings, r)
	return nil
}
func (w *captureWriter) Close() error { return nil }

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Device.ID = "meter1"
	cfg.Device.Username = "owner"
	cfg.Device.Password = "secret"
	cfg.MQTT.Topic = "energy/egauge"
	return cfg
}

func TestCollectorCollect(t *testing.T) {
	meter := &fakeMeter{reading: domain.Reading{
		DeviceID: "meter1",
		Values:   map[string]float64{"grid": 1500},
	}}
	publisher := &capturePublisher{}
	writer := &captureWriter{}

	collector := NewCollector(testConfig(), meter, publisher, writer)
	collector.now = func() time.Time { return time.Unix(1700000000, 0) }

	require.NoError(t, collector.collect(context.Background()))

	require.Len(t, publisher.topics, 1)
	assert.Equal(t, "energy/egauge/meter1", publisher.topics[0])

	require.Len(t, writer.readings, 1)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), writer.readings[0].Timestamp)
	assert.Equal(t, 1500.0, writer.readings[0].Values["grid"])
}

func TestCollectorCollectMeterFailure(t *testing.T) {
	meter := &fakeMeter{err: fmt.Errorf("device unreachable")}
	publisher := &capturePublisher{}
	writer := &captureWriter{}

	collector := NewCollector(testConfig(), meter, publisher, writer)
	err := collector.collect(context.Background())
	require.Error(t, err)
	assert.Empty(t, publisher.topics, "nothing published on a failed poll")
	assert.Empty(t, writer.readings)
}

func TestCollectorDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Collector.Enabled = false

	collector := NewCollector(cfg, &fakeMeter{}, &capturePublisher{}, &captureWriter{})
	require.NoError(t, collector.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, collector.Stop(ctx))
}

func TestCollectorStopTwice(t *testing.T) {
	cfg := testConfig()
	cfg.Collector.IntervalSeconds = 1

	collector := NewCollector(cfg, &fakeMeter{}, &capturePublisher{}, &captureWriter{})
	require.NoError(t, collector.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, collector.Stop(ctx))

	// A second stop is a no-op, not a panic.
	assert.NotPanics(t, func() {
		assert.NoError(t, collector.Stop(ctx))
	})
}

func TestCollectorStartStop(t *testing.T) {
	cfg := testConfig()
	cfg.Collector.IntervalSeconds = 1

	meter := &fakeMeter{reading: domain.Reading{
		DeviceID: "meter1",
		Values:   map[string]float64{"grid": 1},
	}}
	publisher := &capturePublisher{}
	writer := &captureWriter{}

	collector := NewCollector(cfg, meter, publisher, writer)
	require.NoError(t, collector.Start(context.Background()))

	// Wait for at least one tick.
	time.Sleep(1200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, collector.Stop(ctx))

	meter.mu.Lock()
	calls := meter.calls
	meter.mu.Unlock()
	assert.GreaterOrEqual(t, calls, 1)
}
