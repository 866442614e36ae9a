package universe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/phrazzld/signal-api/internal/config"
	"github.com/phrazzld/signal-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingYAML = `instruments:
  - symbol: "600519"
    name: Kweichow Moutai
    market_cap: 2100000000000
  - symbol: "300750"
    name: CATL
    market_cap: 900000000000
  - symbol: "000004"
    name: "*ST Guohua"
    market_cap: 3000000000
  - symbol: "688981"
    name: SMIC
  - symbol: "bad"
    name: Broken
  - symbol: "600519"
    name: Duplicate
`

const listingHTML = `<html><body>
<table>
  <tr><th>Code</th><th>Name</th><th>Cap</th></tr>
  <tr><td>600519</td><td>Kweichow Moutai</td><td>2,100,000,000,000</td></tr>
  <tr><td> 000001 </td><td>Ping An Bank</td><td>n/a</td></tr>
  <tr><td>12345</td><td>Too short</td></tr>
</table>
<table><tr><td>601318</td><td>Ignored</td></tr></table>
</body></html>`

func TestParseYAML(t *testing.T) {
	got, err := ParseYAML(strings.NewReader(listingYAML))
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "Kweichow Moutai", got[0].Name)
	require.NotNil(t, got[0].MarketCap)
	assert.Nil(t, got[3].MarketCap)
}

func TestParseHTML(t *testing.T) {
	got, err := ParseHTML(strings.NewReader(listingHTML))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "600519", got[0].Symbol)
	require.NotNil(t, got[0].MarketCap)
	assert.InDelta(t, 2.1e12, *got[0].MarketCap, 1)
	assert.Equal(t, "000001", got[1].Symbol)
	assert.Nil(t, got[1].MarketCap)
}

func TestUniverse_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "universe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(listingYAML), 0o600))

	u := New(config.UniverseConfig{Format: FormatYAML, Source: path})
	ctx := context.Background()

	all, err := u.Instruments(ctx, domain.Filters{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, 4, u.Size())

	filtered, err := u.Instruments(ctx, domain.DefaultFilters())
	require.NoError(t, err)
	assert.Len(t, filtered, 3)

	gem, err := u.Instruments(ctx, domain.Filters{Boards: []domain.Board{domain.BoardGEM}})
	require.NoError(t, err)
	require.Len(t, gem, 1)
	assert.Equal(t, "300750", gem[0].Symbol)

	in, ok, err := u.Lookup(ctx, "688981")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "SMIC", in.Name)
}

func TestUniverse_FromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(listingHTML))
	}))
	defer srv.Close()

	u := New(config.UniverseConfig{Format: FormatHTML, Source: srv.URL})
	got, err := u.Instruments(context.Background(), domain.Filters{})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestUniverse_LoadErrors(t *testing.T) {
	missing := New(config.UniverseConfig{Format: FormatYAML, Source: filepath.Join(t.TempDir(), "nope.yaml")})
	_, err := missing.Instruments(context.Background(), domain.Filters{})
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("instruments: []\n"), 0o600))
	empty := New(config.UniverseConfig{Format: FormatYAML, Source: path})
	_, err = empty.Instruments(context.Background(), domain.Filters{})
	assert.True(t, errors.Is(err, ErrEmptyUniverse))
}

func TestNewStatic(t *testing.T) {
	u := NewStatic([]domain.Instrument{{Symbol: "600519", Name: "Moutai"}})
	got, err := u.Instruments(context.Background(), domain.Filters{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
