package egauge

import (
	"fmt"
	"strconv"
	"strings"
)

// apiNumber decodes a numeric field that the device renders either as a JSON
// number or as a decimal string. Register counters are 64-bit accumulators
// and arrive as strings on current firmware.
type apiNumber float64

// UnmarshalJSON implements json.Unmarshaler.
func (n *apiNumber) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid numeric value %s: %w", string(data), err)
	}
	*n = apiNumber(f)
	return nil
}

// registerDef describes one register as reported by the device.
type registerDef struct {
	Name string   `json:"name"`
	Type string   `json:"type"`
	Idx  int      `json:"idx"`
	Rate *float64 `json:"rate,omitempty"`
}

// registerRange is a block of accumulator rows. TS is the timestamp of the
// first (newest) row; row i was sampled at TS - i*Delta.
type registerRange struct {
	TS    apiNumber     `json:"ts"`
	Delta int64         `json:"delta"`
	Rows  [][]apiNumber `json:"rows"`
}

// registerResponse decodes the register endpoint.
type registerResponse struct {
	TS        apiNumber       `json:"ts"`
	Registers []registerDef   `json:"registers"`
	Ranges    []registerRange `json:"ranges"`
}

// resultResponse decodes the single-value system and config endpoints.
type resultResponse struct {
	Result apiNumber `json:"result"`
}
