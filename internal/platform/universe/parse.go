package universe

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/phrazzld/signal-api/internal/domain"
	"gopkg.in/yaml.v3"
)

type yamlListing struct {
	Instruments []domain.Instrument `yaml:"instruments"`
}

// ParseYAML reads a listing of the form
//
//	instruments:
//	  - symbol: "600519"
//	    name: Kweichow Moutai
//	    market_cap: 2.1e12
//
// Entries with malformed symbols are dropped, as are repeated symbols.
func ParseYAML(r io.Reader) ([]domain.Instrument, error) {
	var listing yamlListing
	if err := yaml.NewDecoder(r).Decode(&listing); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("parse universe yaml: %w", err)
	}
	return dedupe(listing.Instruments), nil
}

// ParseHTML reads the first table of a listing page whose rows carry the
// symbol, the name and optionally the market cap in their first three cells.
func ParseHTML(r io.Reader) ([]domain.Instrument, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse universe html: %w", err)
	}

	var instruments []domain.Instrument
	doc.Find("table").First().Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}

		in := domain.Instrument{
			Symbol: strings.TrimSpace(cells.Eq(0).Text()),
			Name:   strings.TrimSpace(cells.Eq(1).Text()),
		}
		if cells.Length() > 2 {
			raw := strings.ReplaceAll(strings.TrimSpace(cells.Eq(2).Text()), ",", "")
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				in.MarketCap = &v
			}
		}
		instruments = append(instruments, in)
	})

	return dedupe(instruments), nil
}

func dedupe(in []domain.Instrument) []domain.Instrument {
	seen := make(map[string]struct{}, len(in))
	out := make([]domain.Instrument, 0, len(in))
	for _, inst := range in {
		inst.Symbol = strings.TrimSpace(inst.Symbol)
		if !symbolPattern.MatchString(inst.Symbol) {
			continue
		}
		if _, dup := seen[inst.Symbol]; dup {
			continue
		}
		seen[inst.Symbol] = struct{}{}
		out = append(out, inst)
	}
	return out
}
