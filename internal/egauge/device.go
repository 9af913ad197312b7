package egauge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/greenstem/go-egauge/internal/domain"
)

// Device is the public face of a single eGauge meter. It composes the
// authenticated request executor with the register converter and implements
// domain.MeterReader. Operations are safe for concurrent use; each one
// validates its own token before going on the wire.
type Device struct {
	client *Client
	conv   *Converter
}

// NewDevice creates a device handle for the given identity and multiplier
// table.
func NewDevice(deviceID, username, password string, multipliers map[string]float64, decimals int, opts ...ClientOption) (*Device, error) {
	conv, err := NewConverter(multipliers, decimals)
	if err != nil {
		return nil, err
	}

	return &Device{
		client: NewClient(deviceID, username, password, opts...),
		conv:   conv,
	}, nil
}

// CurrentRates returns the instantaneous rate per register, calibrated by
// the multiplier table. Single request, no differencing.
func (d *Device) CurrentRates(ctx context.Context) (domain.Reading, error) {
	params := url.Values{}
	params.Set("rate", "")

	resp, err := d.fetchRegisters(ctx, params)
	if err != nil {
		return domain.Reading{}, err
	}

	values, err := d.conv.rates(resp)
	if err != nil {
		return domain.Reading{}, err
	}

	return d.reading(time.Unix(int64(resp.TS), 0), values), nil
}

// ValueAt returns the average rate per register over [unix-interval, unix].
func (d *Device) ValueAt(ctx context.Context, unix, interval int64) (domain.Reading, error) {
	if interval <= 0 {
		return domain.Reading{}, fmt.Errorf("interval must be positive, got %d", interval)
	}

	params := url.Values{}
	params.Set("time", fmt.Sprintf("%d:%d:%d", unix-interval, interval, unix))

	resp, err := d.fetchRegisters(ctx, params)
	if err != nil {
		return domain.Reading{}, err
	}

	values, err := d.conv.averages(resp, interval)
	if err != nil {
		return domain.Reading{}, err
	}

	return d.reading(time.Unix(unix, 0), values), nil
}

// Range returns one reading per interval across [start, end], oldest first.
// One extra leading row is requested so the first interval can be
// differenced. A device that returns fewer rows than requested yields a
// short series, not an error.
func (d *Device) Range(ctx context.Context, start, end, interval int64) (domain.ReadingSeries, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %d", interval)
	}
	if end < start {
		return nil, fmt.Errorf("range end %d precedes start %d", end, start)
	}

	params := url.Values{}
	params.Set("time", fmt.Sprintf("%d:%d:%d", start-interval, interval, end))

	resp, err := d.fetchRegisters(ctx, params)
	if err != nil {
		return nil, err
	}

	series, err := d.conv.series(resp, interval)
	if err != nil {
		return nil, err
	}

	for i := range series {
		series[i].DeviceID = d.client.DeviceID()
	}
	return series, nil
}

// Epoch returns the timestamp at which the device began recording data.
func (d *Device) Epoch(ctx context.Context) (int64, error) {
	return d.fetchResult(ctx, apiPathEpoch)
}

// Time returns the device's current clock as a unix timestamp.
func (d *Device) Time(ctx context.Context) (int64, error) {
	return d.fetchResult(ctx, apiPathTime)
}

// Uptime returns the device uptime in seconds.
func (d *Device) Uptime(ctx context.Context) (int64, error) {
	return d.fetchResult(ctx, apiPathUptime)
}

// Reboot asks the device to restart. No body is sent and none is expected.
func (d *Device) Reboot(ctx context.Context) error {
	_, err := d.client.Post(ctx, apiPathReboot, nil)
	return err
}

// fetchRegisters issues a register read and decodes the response.
func (d *Device) fetchRegisters(ctx context.Context, params url.Values) (*registerResponse, error) {
	raw, err := d.client.Get(ctx, apiPathRegister, params)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, &ParseError{Endpoint: apiPathRegister, Err: fmt.Errorf("empty response body")}
	}

	var resp registerResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &ParseError{Endpoint: apiPathRegister, Err: err}
	}
	return &resp, nil
}

// fetchResult issues a GET against a single-value endpoint.
func (d *Device) fetchResult(ctx context.Context, endpoint string) (int64, error) {
	raw, err := d.client.Get(ctx, endpoint, nil)
	if err != nil {
		return 0, err
	}
	if raw == nil {
		return 0, &ParseError{Endpoint: endpoint, Err: fmt.Errorf("empty response body")}
	}

	var resp resultResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, &ParseError{Endpoint: endpoint, Err: err}
	}
	return int64(resp.Result), nil
}

// reading assembles a tagged reading for this device.
func (d *Device) reading(ts time.Time, values map[string]float64) domain.Reading {
	return domain.Reading{
		DeviceID:  d.client.DeviceID(),
		Timestamp: ts.UTC(),
		Values:    values,
	}
}
