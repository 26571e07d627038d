package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// V2MaxLimit is the maximum allowed limit parameter for all v2 endpoints.
const V2MaxLimit = 10000

const (
	keyIDHeader     = "APCA-API-KEY-ID"
	secretKeyHeader = "APCA-API-SECRET-KEY"
)

// Default endpoints. The paper trading API is the default because the
// downloader only ever reads reference data from the trading host.
const (
	DefaultBaseURL       = "https://paper-api.alpaca.markets"
	DefaultDataURL       = "https://data.alpaca.markets"
	DefaultClientTimeout = 10 * time.Second
)

// APIError wraps the detailed code and message supplied
// by Alpaca's API for debugging purposes.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

// Client is an Alpaca REST API client. It carries its endpoints and
// credentials explicitly so that independent clients can coexist in one
// process. The client performs no retries of its own: callers own the
// retry policy.
type Client struct {
	credentials *APIKey
	baseURL     string
	dataURL     string
	httpClient  *http.Client
}

// NewClient creates a new Alpaca client with the specified credentials
// and endpoints. Empty baseURL, dataURL or a zero timeout fall back to
// the defaults.
func NewClient(credentials *APIKey, baseURL, dataURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if dataURL == "" {
		dataURL = DefaultDataURL
	}
	if timeout == 0 {
		timeout = DefaultClientTimeout
	}

	return &Client{
		credentials: credentials,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		dataURL:     strings.TrimSuffix(dataURL, "/"),
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// GetBars returns the bars for the given symbol, paginating with
// page_token until the requested window (or TotalLimit) is exhausted.
func (c *Client) GetBars(symbol string, params GetBarsParams) ([]Bar, error) {
	u, err := url.Parse(fmt.Sprintf("%s/v2/stocks/%s/bars", c.dataURL, symbol))
	if err != nil {
		return nil, err
	}

	q := u.Query()
	setQueryBarParams(q, params)

	var bars []Bar
	for params.TotalLimit == 0 || len(bars) < params.TotalLimit {
		setQueryLimit(q, params.TotalLimit, params.PageLimit, len(bars))
		u.RawQuery = q.Encode()

		resp, err := c.get(u)
		if err != nil {
			return nil, err
		}

		var barResp barsResponse
		if err = unmarshal(resp, &barResp); err != nil {
			return nil, err
		}

		bars = append(bars, barResp.Bars...)
		if barResp.NextPageToken == nil {
			break
		}
		q.Set("page_token", *barResp.NextPageToken)
	}

	if params.TotalLimit != 0 && len(bars) > params.TotalLimit {
		bars = bars[:params.TotalLimit]
	}
	return bars, nil
}

func setQueryBarParams(q url.Values, params GetBarsParams) {
	if !params.Start.IsZero() {
		q.Set("start", params.Start.Format(time.RFC3339))
	}
	if !params.End.IsZero() {
		q.Set("end", params.End.Format(time.RFC3339))
	}

	adjustment := Raw
	if params.Adjustment != "" {
		adjustment = params.Adjustment
	}
	q.Set("adjustment", string(adjustment))

	timeframe := OneDay
	if params.TimeFrame.N != 0 {
		timeframe = params.TimeFrame
	}
	q.Set("timeframe", timeframe.String())

	if params.Sort != "" {
		q.Set("sort", string(params.Sort))
	}
}

func setQueryLimit(q url.Values, totalLimit, pageLimit, received int) {
	limit := 0 // use server side default if unset
	if pageLimit != 0 {
		limit = pageLimit
	}
	if totalLimit != 0 {
		remaining := totalLimit - received
		if remaining <= 0 { // this should never happen
			return
		}
		if (limit == 0 || limit > remaining) && remaining <= V2MaxLimit {
			limit = remaining
		}
	}

	if limit != 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
}

// ListAssets returns the asset reference list, filtered by status when
// one is given.
func (c *Client) ListAssets(status string) ([]Asset, error) {
	u, err := url.Parse(fmt.Sprintf("%s/v2/assets", c.baseURL))
	if err != nil {
		return nil, err
	}

	q := u.Query()
	if status != "" {
		q.Set("status", status)
	}
	u.RawQuery = q.Encode()

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(u.String())
	req.Header.Set(keyIDHeader, c.credentials.ID)
	req.Header.Set(secretKeyHeader, c.credentials.Secret)

	if err := fasthttp.Do(req, resp); err != nil {
		return nil, err
	}

	if resp.StatusCode() >= fasthttp.StatusMultipleChoices {
		apiErr := &APIError{StatusCode: resp.StatusCode()}
		if err := json.Unmarshal(resp.Body(), apiErr); err != nil {
			apiErr.Message = strings.TrimSpace(string(resp.Body()))
		}
		return nil, apiErr
	}

	assets := []Asset{}
	if err := json.Unmarshal(resp.Body(), &assets); err != nil {
		return nil, err
	}

	return assets, nil
}

// GetAccount returns the trading account, primarily to verify
// credentials and account standing before a run.
func (c *Client) GetAccount() (*Account, error) {
	u, err := url.Parse(fmt.Sprintf("%s/v2/account", c.baseURL))
	if err != nil {
		return nil, err
	}

	resp, err := c.get(u)
	if err != nil {
		return nil, err
	}

	account := &Account{}
	if err = unmarshal(resp, account); err != nil {
		return nil, err
	}

	return account, nil
}

func (c *Client) get(u *url.URL) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set(keyIDHeader, c.credentials.ID)
	req.Header.Set(secretKeyHeader, c.credentials.Secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if err = verify(resp); err != nil {
		return nil, err
	}

	return resp, nil
}

func verify(resp *http.Response) error {
	if resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}

	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(body, apiErr); err != nil {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}

	return apiErr
}

func unmarshal(resp *http.Response, data interface{}) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	return json.Unmarshal(body, data)
}
