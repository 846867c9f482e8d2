package indexfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCSVWithQuarterSuffix(t *testing.T) {
	path := writeFile(t, t.TempDir(), "sp500_2023_q2.csv", "AAPL,0.07\nMSFT,0.065\n")

	ideal, err := LoadCSV(path)
	require.NoError(t, err)

	require.Len(t, ideal.Holdings, 2)
	assert.Equal(t, "AAPL", ideal.Holdings[0].Ticker)
	assert.Equal(t, "0.07", ideal.Holdings[0].Weight.String())
	assert.Equal(t, time.Date(2023, time.April, 1, 0, 0, 0, 0, time.UTC), ideal.SourceDate)
}

func TestLoadCSVWithoutSuffixDatesToday(t *testing.T) {
	path := writeFile(t, t.TempDir(), "custom.csv", "AAPL,0.5\nMSFT,0.5\n")

	ideal, err := LoadCSV(path)
	require.NoError(t, err)

	now := time.Now().UTC()
	assert.Equal(t, now.Year(), ideal.SourceDate.Year())
	assert.Equal(t, now.YearDay(), ideal.SourceDate.YearDay())
}

func TestLoadCSVRejectsBadWeight(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.csv", "AAPL,not-a-number\n")

	_, err := LoadCSV(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid weight")
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "tech.json", `{
		"name": "tech",
		"as_of": "2024-01-15",
		"components": [
			{"ticker": "AAPL", "weight": 0.6},
			{"ticker": "MSFT", "weight": 0.4}
		]
	}`)

	ideal, err := LoadJSON(path)
	require.NoError(t, err)

	require.Len(t, ideal.Holdings, 2)
	assert.Equal(t, time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC), ideal.SourceDate)
	assert.Equal(t, "0.6", ideal.Holdings[0].Weight.String())
}

func TestLoadJSONRejectsBadDate(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.json", `{"name":"x","as_of":"Q2 2024","components":[]}`)

	_, err := LoadJSON(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid as_of")
}

func TestLoadStockList(t *testing.T) {
	path := writeFile(t, t.TempDir(), "list.csv", "AAPL\nMSFT\n\nUNIL\n")

	tickers, err := LoadStockList(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT", "UNIL"}, tickers)
}

func TestInventoryLazyLoadsAndCaches(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sp500_2023_q2.csv", "AAPL,0.5\nMSFT,0.5\n")
	writeFile(t, dir, "tech.json", `{"name":"tech","as_of":"2024-01-15","components":[{"ticker":"AAPL","weight":1.0}]}`)
	writeFile(t, dir, "notes.txt", "ignored")

	inv, err := NewInventory(dir)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"sp500", "tech"}, inv.Keys())

	first, err := inv.Get("sp500")
	require.NoError(t, err)
	again, err := inv.Get("sp500")
	require.NoError(t, err)
	assert.Same(t, first, again)

	_, err = inv.Get("missing")
	require.Error(t, err)
}
