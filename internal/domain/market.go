package domain

import (
	"strings"
	"time"
)

// Instrument is one member of the tradable universe.
type Instrument struct {
	Symbol    string   `json:"symbol" yaml:"symbol"`
	Name      string   `json:"name" yaml:"name"`
	MarketCap *float64 `json:"market_cap,omitempty" yaml:"market_cap,omitempty"`
}

// SpecialTreatment reports whether the listing is flagged ST, *ST or is being
// delisted.
func (i Instrument) SpecialTreatment() bool {
	name := strings.ToUpper(strings.TrimSpace(i.Name))
	for _, prefix := range []string{"ST", "*ST", "S*ST", "SST"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return strings.Contains(name, "退")
}

// Bar is one daily OHLCV record.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}
