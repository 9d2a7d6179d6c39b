package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tx-guard/internal/cache"
	"tx-guard/internal/storage"
)

const (
	DefaultQuoteTTL   = 30 * time.Second
	DefaultAttempts   = 3
	DefaultRetryDelay = 500 * time.Millisecond

	maxIDsPerRequest = 100
)

// errStatus marks a non-2xx response; only 429 and 5xx are retried.
type errStatus struct {
	code int
	body string
}

func (e *errStatus) Error() string {
	return fmt.Sprintf("price api status %d: %s", e.code, e.body)
}

// HTTPOracle queries a Jupiter-style price API (GET {base}/price?ids=a,b).
type HTTPOracle struct {
	baseURL  string
	client   *http.Client
	attempts uint
	delay    time.Duration
	quotes   *cache.Cache[Quote]
	logger   zerolog.Logger
}

// HTTPOracleOptions contains configuration for creating an HTTPOracle.
type HTTPOracleOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	Attempts   uint
	RetryDelay time.Duration
	QuoteTTL   time.Duration
	Backing    storage.CacheStore
	Now        func() time.Time
	Logger     zerolog.Logger
}

// NewHTTPOracle creates an HTTP price oracle.
func NewHTTPOracle(opts HTTPOracleOptions) (*HTTPOracle, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("pricing: empty base url")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	attempts := opts.Attempts
	if attempts == 0 {
		attempts = DefaultAttempts
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	ttl := opts.QuoteTTL
	if ttl <= 0 {
		ttl = DefaultQuoteTTL
	}
	quotes, err := cache.New[Quote]("prices", cache.Options{TTL: ttl, Now: opts.Now, Backing: opts.Backing, Logger: opts.Logger})
	if err != nil {
		return nil, err
	}

	return &HTTPOracle{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		client:   client,
		attempts: attempts,
		delay:    delay,
		quotes:   quotes,
		logger:   opts.Logger.With().Str("component", "pricing").Logger(),
	}, nil
}

type priceResponse struct {
	Data map[string]*struct {
		ID         string          `json:"id"`
		MintSymbol string          `json:"mintSymbol"`
		Price      decimal.Decimal `json:"price"`
	} `json:"data"`
}

// GetPrices returns cached quotes and fetches the rest.
func (o *HTTPOracle) GetPrices(ctx context.Context, mints []string) (map[string]Quote, error) {
	out := make(map[string]Quote, len(mints))
	var missing []string
	seen := make(map[string]bool, len(mints))
	for _, m := range mints {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		if q, ok := o.quotes.Get(ctx, m); ok {
			out[m] = q
			continue
		}
		missing = append(missing, m)
	}
	sort.Strings(missing)

	for start := 0; start < len(missing); start += maxIDsPerRequest {
		end := min(start+maxIDsPerRequest, len(missing))
		fetched, err := o.fetch(ctx, missing[start:end])
		if err != nil {
			return out, err
		}
		for m, q := range fetched {
			o.quotes.Set(ctx, m, q)
			out[m] = q
		}
	}
	return out, nil
}

func (o *HTTPOracle) fetch(ctx context.Context, ids []string) (map[string]Quote, error) {
	u := o.baseURL + "/price?ids=" + url.QueryEscape(strings.Join(ids, ","))

	var resp priceResponse
	err := retry.Do(
		func() error {
			resp = priceResponse{}
			return o.get(ctx, u, &resp)
		},
		retry.Context(ctx),
		retry.Attempts(o.attempts),
		retry.Delay(o.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var se *errStatus
			if errors.As(err, &se) {
				return se.code == http.StatusTooManyRequests || se.code >= 500
			}
			return ctx.Err() == nil
		}),
		retry.OnRetry(func(n uint, err error) {
			o.logger.Debug().Err(err).Uint("attempt", n+1).Msg("price request retry")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch prices: %w", err)
	}

	out := make(map[string]Quote, len(resp.Data))
	for id, p := range resp.Data {
		if p == nil || !p.Price.IsPositive() {
			continue
		}
		out[id] = Quote{Price: p.Price, Symbol: p.MintSymbol}
	}
	return out, nil
}

func (o *HTTPOracle) get(ctx context.Context, u string, dst interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	res, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return &errStatus{code: res.StatusCode, body: strings.TrimSpace(string(body))}
	}
	return json.NewDecoder(res.Body).Decode(dst)
}

var _ Oracle = (*HTTPOracle)(nil)
