package api

import (
	"fmt"
	"time"
)

// Bar is an aggregate of trades for one interval.
type Bar struct {
	Timestamp  time.Time `json:"t"`
	Open       float64   `json:"o"`
	High       float64   `json:"h"`
	Low        float64   `json:"l"`
	Close      float64   `json:"c"`
	Volume     uint64    `json:"v"`
	TradeCount uint64    `json:"n"`
	VWAP       float64   `json:"vw"`
}

type barsResponse struct {
	Symbol        string  `json:"symbol"`
	NextPageToken *string `json:"next_page_token"`
	Bars          []Bar   `json:"bars"`
}

// Asset is an entry of Alpaca's asset reference data.
type Asset struct {
	ID           string `json:"id"`
	Class        string `json:"class"`
	Exchange     string `json:"exchange"`
	Symbol       string `json:"symbol"`
	Name         string `json:"name"`
	Status       string `json:"status"`
	Tradable     bool   `json:"tradable"`
	Marginable   bool   `json:"marginable"`
	Shortable    bool   `json:"shortable"`
	EasyToBorrow bool   `json:"easy_to_borrow"`
	Fractionable bool   `json:"fractionable"`
}

// AssetStatusActive is the asset status for listed, non-delisted assets.
const AssetStatusActive = "active"

// AssetClassUSEquity is the asset class of US equities.
const AssetClassUSEquity = "us_equity"

// Account is the subset of the trading account entity used for the
// connectivity check at startup.
type Account struct {
	ID            string `json:"id"`
	AccountNumber string `json:"account_number"`
	Status        string `json:"status"`
	Currency      string `json:"currency"`
	Cash          string `json:"cash"`
	BuyingPower   string `json:"buying_power"`
}

// AccountStatusActive is the account status of a fully onboarded account.
const AccountStatusActive = "ACTIVE"

// GetBarsParams contains optional parameters for getting bars
type GetBarsParams struct {
	// TimeFrame is the aggregation size of the bars
	TimeFrame TimeFrame
	// Adjustment tells if the bars should be adjusted for corporate actions
	Adjustment Adjustment
	// Start is the inclusive beginning of the interval
	Start time.Time
	// End is the inclusive end of the interval
	End time.Time
	// TotalLimit is the limit of the total number of the returned bars.
	// If missing, all bars between start and end will be returned.
	TotalLimit int
	// PageLimit is the pagination size. If empty, the default page size will be used.
	PageLimit int
	// Sort is the ordering of the returned bars. Defaults to ascending.
	Sort Sort
}

// TimeFrameUnit is the base unit of the timeframe.
type TimeFrameUnit string

// List of timeframe units
const (
	Min  TimeFrameUnit = "Min"
	Hour TimeFrameUnit = "Hour"
	Day  TimeFrameUnit = "Day"
)

// TimeFrame is the resolution of the bars
type TimeFrame struct {
	N    int
	Unit TimeFrameUnit
}

func NewTimeFrame(n int, unit TimeFrameUnit) TimeFrame {
	return TimeFrame{
		N:    n,
		Unit: unit,
	}
}

func (tf TimeFrame) String() string {
	return fmt.Sprintf("%d%s", tf.N, tf.Unit)
}

var (
	OneMin  TimeFrame = NewTimeFrame(1, Min)
	OneHour TimeFrame = NewTimeFrame(1, Hour)
	OneDay  TimeFrame = NewTimeFrame(1, Day)
)

// Adjustment specifies the corporate action adjustment(s) for the bars
type Adjustment string

// List of adjustments
const (
	Raw      Adjustment = "raw"
	Split    Adjustment = "split"
	Dividend Adjustment = "dividend"
	All      Adjustment = "all"
)

// Sort specifies the ordering of returned data points.
type Sort string

// List of sort directions
const (
	SortAsc  Sort = "asc"
	SortDesc Sort = "desc"
)
