// Package domain provides core domain models and interfaces for the go-egauge application
package domain

import (
	"context"
	"sort"
	"time"
)

// Reading holds calibrated per-register values for a single point in time.
type Reading struct {
	DeviceID  string             `json:"device_id,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
}

// RegisterNames returns the reading's register names in sorted order.
func (r Reading) RegisterNames() []string {
	names := make([]string, 0, len(r.Values))
	for name := range r.Values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReadingSeries is a chronologically ordered sequence of readings. Every
// reading in one series carries the same set of register names.
type ReadingSeries []Reading

// MeterReader abstracts a metering device for collaborators such as the
// collector service and the HTTP API.
type MeterReader interface {
	// CurrentRates returns the instantaneous rate per register.
	CurrentRates(ctx context.Context) (Reading, error)

	// ValueAt returns the average rate per register over the interval
	// ending at the given unix timestamp.
	ValueAt(ctx context.Context, unix, interval int64) (Reading, error)

	// Range returns one reading per interval across [start, end].
	Range(ctx context.Context, start, end, interval int64) (ReadingSeries, error)

	// Epoch returns the timestamp at which the device began recording.
	Epoch(ctx context.Context) (int64, error)

	// Time returns the device's current clock as a unix timestamp.
	Time(ctx context.Context) (int64, error)

	// Uptime returns the device uptime in seconds.
	Uptime(ctx context.Context) (int64, error)

	// Reboot asks the device to restart. Fire-and-forget.
	Reboot(ctx context.Context) error
}

// MessagePublisher defines the interface for publishing readings.
type MessagePublisher interface {
	// Connect establishes a connection to the messaging system
	Connect(ctx context.Context) error

	// Publish sends data to the specified topic
	Publish(ctx context.Context, topic string, data interface{}) error

	// Close terminates the connection to the messaging system
	Close() error
}

// ReadingWriter persists readings, e.g. to daily CSV files.
type ReadingWriter interface {
	// Write appends a single reading.
	Write(reading Reading) error

	// Close flushes and releases any open files.
	Close() error
}
