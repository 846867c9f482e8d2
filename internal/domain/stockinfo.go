package domain

import (
	"time"

	"github.com/aristath/rebalancer/internal/money"
)

// StockInfo is descriptive instrument metadata. Every attribute except the
// ticker is optional; adapters fill in whatever their backend exposes.
type StockInfo struct {
	Ticker         string   `json:"ticker"`
	Name           string   `json:"name,omitempty"`
	Country        string   `json:"country,omitempty"`
	Currency       string   `json:"currency,omitempty"`
	Exchange       string   `json:"exchange,omitempty"`
	Industry       string   `json:"industry,omitempty"`
	Sector         string   `json:"sector,omitempty"`
	Location       string   `json:"location,omitempty"`
	CUSIP          string   `json:"cusip,omitempty"`
	CIK            int64    `json:"cik,omitempty"`
	SICNum         int64    `json:"sic_num,omitempty"`
	SICDescription string   `json:"sic_description,omitempty"`
	Description    string   `json:"description,omitempty"`
	Website        string   `json:"website,omitempty"`
	Category       string   `json:"category,omitempty"`
	Tradable       *bool    `json:"tradable,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	Indexes        []string `json:"indexes,omitempty"`
}

// DividendResult is a single dividend payment reported by a broker.
type DividendResult struct {
	Ticker     string      `json:"ticker"`
	Date       time.Time   `json:"date"`
	Amount     money.Money `json:"amount"`
	Provider   ProviderID  `json:"provider"`
	ExternalID string      `json:"external_id,omitempty"`
}
