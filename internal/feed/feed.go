package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	ierrors "hftsim/internal/errors"
	"hftsim/internal/mdg"
	"hftsim/pkg/exception"
)

// Feed fetches the latest raw quotes for symbols. Any failure is reported
// as exception.ErrFeedUnavailable.
type Feed interface {
	Poll(ctx context.Context, symbols []string) ([]mdg.RawQuote, error)
}

const defaultHTTPTimeout = 5 * time.Second

// HTTPConfig configures an HTTPFeed.
type HTTPConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// HTTPFeed polls a JSON quote endpoint:
//
//	GET <url>?symbols=AAPL,BTC-USD
//	{"quotes":[{"symbol":"AAPL","bid":1,"ask":2,"last":1.5,"timestamp":1700000000000,"sequence":7}]}
//
// timestamp is in unix milliseconds. Records without a sequence use the
// timestamp in nanoseconds.
type HTTPFeed struct {
	endpoint *url.URL
	apiKey   string
	client   *http.Client
}

var _ Feed = (*HTTPFeed)(nil)

// NewHTTPFeed validates cfg and creates a feed with its own client timeout.
func NewHTTPFeed(cfg HTTPConfig) (*HTTPFeed, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("feed url is required")
	}
	endpoint, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse feed url: %w", err)
	}
	if endpoint.Scheme != "http" && endpoint.Scheme != "https" {
		return nil, fmt.Errorf("feed url must be http or https, got %q", endpoint.Scheme)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &HTTPFeed{
		endpoint: endpoint,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

type httpQuote struct {
	Symbol    string  `json:"symbol"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Last      float64 `json:"last"`
	Timestamp int64   `json:"timestamp"`
	Sequence  uint64  `json:"sequence"`
}

type httpResponse struct {
	Quotes []httpQuote `json:"quotes"`
}

// Poll implements Feed.
func (f *HTTPFeed) Poll(ctx context.Context, symbols []string) ([]mdg.RawQuote, error) {
	u := *f.endpoint
	q := u.Query()
	q.Set("symbols", strings.Join(symbols, ","))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, ierrors.Wrap(exception.ErrFeedUnavailable, "build request: "+err.Error())
	}
	req.Header.Set("Accept", "application/json")
	if f.apiKey != "" {
		req.Header.Set("X-API-Key", f.apiKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, ierrors.Wrap(exception.ErrFeedUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ierrors.Wrapf(exception.ErrFeedUnavailable, "unexpected status %d", resp.StatusCode)
	}

	var body httpResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, ierrors.Wrap(exception.ErrFeedUnavailable, "decode response: "+err.Error())
	}

	out := make([]mdg.RawQuote, 0, len(body.Quotes))
	for _, hq := range body.Quotes {
		raw := mdg.RawQuote{
			Symbol:   hq.Symbol,
			Bid:      hq.Bid,
			Ask:      hq.Ask,
			Last:     hq.Last,
			Sequence: hq.Sequence,
		}
		if hq.Timestamp > 0 {
			raw.Timestamp = time.UnixMilli(hq.Timestamp).UTC()
			if raw.Sequence == 0 {
				raw.Sequence = uint64(raw.Timestamp.UnixNano())
			}
		}
		out = append(out, raw)
	}
	return out, nil
}
