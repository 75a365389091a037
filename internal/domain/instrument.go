package domain

// AssetClass classifies an instrument.
type AssetClass string

const (
	AssetClassEquity AssetClass = "equity"
	AssetClassFuture AssetClass = "future"
	AssetClassForex  AssetClass = "forex"
)

// Instrument is a tradable symbol watched by the dashboard. It is managed by
// the administrative layer and read-only to the rule engine.
type Instrument struct {
	ID          string     `json:"id"`
	Symbol      string     `json:"symbol"`
	DisplayName string     `json:"displayName"`
	AssetClass  AssetClass `json:"assetClass"`
	Exchange    string     `json:"exchange"`
	Enabled     bool       `json:"enabled"`
}

// Name returns the display name, falling back to the symbol.
func (i Instrument) Name() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	return i.Symbol
}
