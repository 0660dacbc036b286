package alphavantage

// Daily is one daily closing price for a symbol.
type Daily struct {
	Date  string  `json:"date"` // YYYY-MM-DD
	Close float64 `json:"close"`
}

// CloseCache is the optional cache consulted before hitting the upstream
// API. Implementations key the full fetched history per symbol; date
// range filtering happens client-side.
type CloseCache interface {
	Get(symbol string) ([]Daily, bool)
	Set(symbol string, closes []Daily)
}

// MetricsCallback receives request counters and latency observations.
type MetricsCallback func(metric string, value float64, tags map[string]string)

// timeSeriesResponse mirrors the TIME_SERIES_DAILY payload. Alpha
// Vantage reports errors in-band: a populated Note means the request
// budget is exhausted, an Error Message means the symbol is unknown.
type timeSeriesResponse struct {
	MetaData     map[string]string   `json:"Meta Data"`
	Series       map[string]dailyBar `json:"Time Series (Daily)"`
	Note         string              `json:"Note"`
	ErrorMessage string              `json:"Error Message"`
}

type dailyBar struct {
	Open   string `json:"1. open"`
	High   string `json:"2. high"`
	Low    string `json:"3. low"`
	Close  string `json:"4. close"`
	Volume string `json:"5. volume"`
}
