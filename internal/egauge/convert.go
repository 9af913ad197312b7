package egauge

import (
	"fmt"
	"math"
	"time"

	"github.com/greenstem/go-egauge/internal/domain"
)

// DefaultDecimals is the rounding precision applied when none is configured.
const DefaultDecimals = 6

// Round rounds v to the given number of decimal places, half away from zero.
// A negative places argument is a usage error.
func Round(v float64, places int) (float64, error) {
	if places < 0 {
		return 0, fmt.Errorf("negative decimal places: %d", places)
	}
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale, nil
}

// Converter derives calibrated rate values from raw accumulator rows. The
// multiplier table must contain an entry for every register type the device
// reports; a missing entry is a configuration error and panics.
type Converter struct {
	multipliers map[string]float64
	decimals    int
}

// NewConverter creates a converter with the given per-type multiplier table
// and rounding precision.
func NewConverter(multipliers map[string]float64, decimals int) (*Converter, error) {
	if decimals < 0 {
		return nil, fmt.Errorf("negative decimal places: %d", decimals)
	}

	table := make(map[string]float64, len(multipliers))
	for typ, factor := range multipliers {
		table[typ] = factor
	}

	return &Converter{multipliers: table, decimals: decimals}, nil
}

// multiplier looks up the scaling factor for a register type.
func (cv *Converter) multiplier(typ string) float64 {
	factor, ok := cv.multipliers[typ]
	if !ok {
		panic(fmt.Sprintf("egauge: no multiplier configured for register type %q", typ))
	}
	return factor
}

// round applies the configured precision. The precision was validated at
// construction, so the error path is unreachable.
func (cv *Converter) round(v float64) float64 {
	rounded, _ := Round(v, cv.decimals)
	return rounded
}

// rates converts an instantaneous snapshot into per-register rate values.
// The device supplies the rate directly; only calibration and rounding apply.
func (cv *Converter) rates(resp *registerResponse) (map[string]float64, error) {
	values := make(map[string]float64, len(resp.Registers))
	for _, reg := range resp.Registers {
		var rate float64
		if reg.Rate != nil {
			rate = *reg.Rate
		}
		values[reg.Name] = cv.round(rate * cv.multiplier(reg.Type))
	}
	return values, nil
}

// averages converts a two-row window into per-register average rates. Rows
// arrive newest-first; when the device returns a single row (a query at or
// before its recording epoch) the missing earlier row is taken to equal the
// later one, yielding zero rates.
func (cv *Converter) averages(resp *registerResponse, interval int64) (map[string]float64, error) {
	rows, err := alignedRows(resp, interval)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &ParseError{Endpoint: apiPathRegister, Err: fmt.Errorf("no rows returned")}
	}

	newer := rows[0]
	older := newer
	if len(rows) > 1 {
		older = rows[1]
	}

	values := make(map[string]float64, len(resp.Registers))
	for _, reg := range resp.Registers {
		diff := float64(newer[reg.Idx]) - float64(older[reg.Idx])
		values[reg.Name] = cv.round(diff / float64(interval) * cv.multiplier(reg.Type))
	}
	return values, nil
}

// series converts a newest-first range response into a chronological reading
// series. Each adjacent row pair yields one reading stamped with the newer
// row's timestamp. An empty response yields an empty series.
func (cv *Converter) series(resp *registerResponse, interval int64) (domain.ReadingSeries, error) {
	if err := checkAlignment(resp, interval); err != nil {
		return nil, err
	}

	var out domain.ReadingSeries
	for _, rng := range resp.Ranges {
		for i := 0; i+1 < len(rng.Rows); i++ {
			newer, older := rng.Rows[i], rng.Rows[i+1]
			values := make(map[string]float64, len(resp.Registers))
			for _, reg := range resp.Registers {
				diff := float64(newer[reg.Idx]) - float64(older[reg.Idx])
				values[reg.Name] = cv.round(diff / float64(interval) * cv.multiplier(reg.Type))
			}
			ts := int64(rng.TS) - int64(i)*interval
			out = append(out, domain.Reading{
				Timestamp: time.Unix(ts, 0).UTC(),
				Values:    values,
			})
		}
	}

	// Device order is newest-first; callers get oldest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if out == nil {
		out = domain.ReadingSeries{}
	}
	return out, nil
}

// alignedRows flattens the response ranges after verifying row alignment.
func alignedRows(resp *registerResponse, interval int64) ([][]apiNumber, error) {
	if err := checkAlignment(resp, interval); err != nil {
		return nil, err
	}
	var rows [][]apiNumber
	for _, rng := range resp.Ranges {
		rows = append(rows, rng.Rows...)
	}
	return rows, nil
}

// checkAlignment verifies that every row has exactly one value per register
// descriptor, that every descriptor index addresses a row column, and that
// each range's delta matches the requested interval. Any mismatch is a
// protocol violation, never a panic: the response is remote input.
func checkAlignment(resp *registerResponse, interval int64) error {
	if resp.Registers == nil {
		return &ParseError{Endpoint: apiPathRegister, Err: fmt.Errorf("response missing registers field")}
	}
	for _, reg := range resp.Registers {
		if reg.Idx < 0 || reg.Idx >= len(resp.Registers) {
			return &ParseError{
				Endpoint: apiPathRegister,
				Err:      fmt.Errorf("register %q index %d out of range for %d registers", reg.Name, reg.Idx, len(resp.Registers)),
			}
		}
	}
	for _, rng := range resp.Ranges {
		if rng.Delta != 0 && rng.Delta != interval {
			return &ParseError{
				Endpoint: apiPathRegister,
				Err:      fmt.Errorf("range delta %d differs from requested interval %d", rng.Delta, interval),
			}
		}
		for _, row := range rng.Rows {
			if len(row) != len(resp.Registers) {
				return &ParseError{
					Endpoint: apiPathRegister,
					Err:      fmt.Errorf("row has %d values for %d registers", len(row), len(resp.Registers)),
				}
			}
		}
	}
	return nil
}
