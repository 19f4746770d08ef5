package tushare

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/internal/provider"
	"github.com/wonny/hedgefund/pkg/config"
	"github.com/wonny/hedgefund/pkg/httputil"
	"github.com/wonny/hedgefund/pkg/logger"
)

// Name is the source tag of this adapter
const Name = "tushare"

const (
	// codeRateLimited is returned in the envelope when the per-minute quota is exceeded
	codeRateLimited = 40203
	// codeNoPermission means the token lacks points for the API
	codeNoPermission = 40001
)

// ErrNoToken is returned when TUSHARE_TOKEN is not configured
var ErrNoToken = errors.New("tushare token not configured")

// Client talks to the Tushare Pro JSON RPC endpoint
type Client struct {
	http    *resty.Client
	token   string
	logger  *logger.Logger
	limiter *provider.Limiter
}

// New creates a new Tushare client
func New(cfg config.TushareConfig, log *logger.Logger) *Client {
	r := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(30*time.Second).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:    r,
		token:   cfg.Token,
		logger:  log.WithField("provider", Name),
		limiter: provider.NewLimiter(Name, cfg.RPM, 0),
	}
}

// Name returns the source tag
func (c *Client) Name() string { return Name }

// Priority ranks Tushare after Eastmoney
func (c *Client) Priority() int { return 2 }

// RateLimitInfo reports the local token bucket
func (c *Client) RateLimitInfo() provider.RateLimitInfo { return c.limiter.Info() }

// HealthCheck requires a token and a successful trade_cal query
func (c *Client) HealthCheck(ctx context.Context) bool {
	if c.token == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	today := time.Now().Format("20060102")
	_, err := c.query(ctx, "health", "trade_cal", map[string]any{
		"exchange":   "SSE",
		"start_date": today,
		"end_date":   today,
	}, "cal_date,is_open")
	if err != nil {
		c.logger.WithError(err).Debug("Health check failed")
		return false
	}
	return true
}

type request struct {
	APIName string         `json:"api_name"`
	Token   string         `json:"token"`
	Params  map[string]any `json:"params"`
	Fields  string         `json:"fields"`
}

type envelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data *struct {
		Fields []string `json:"fields"`
		Items  [][]any  `json:"items"`
	} `json:"data"`
}

// rows zips the tabular payload into one map per item
func (e envelope) rows() []map[string]any {
	if e.Data == nil {
		return nil
	}
	out := make([]map[string]any, 0, len(e.Data.Items))
	for _, item := range e.Data.Items {
		row := make(map[string]any, len(e.Data.Fields))
		for i, field := range e.Data.Fields {
			if i < len(item) {
				row[field] = item[i]
			}
		}
		out = append(out, row)
	}
	return out
}

// query posts one API call and returns its rows
func (c *Client) query(ctx context.Context, op, api string, params map[string]any, fields string) ([]map[string]any, error) {
	if c.token == "" {
		return nil, contracts.NewProviderError(Name, op, contracts.ErrUnsupported, ErrNoToken)
	}
	if err := c.limiter.Wait(ctx, op); err != nil {
		return nil, err
	}

	var env envelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(request{APIName: api, Token: c.token, Params: params, Fields: fields}).
		SetResult(&env).
		Post("/")
	if err != nil {
		return nil, provider.Classify(Name, op, err)
	}
	if resp.IsError() {
		return nil, provider.Classify(Name, op, &httputil.StatusError{
			StatusCode: resp.StatusCode(),
			URL:        resp.Request.URL,
			Body:       resp.String(),
		})
	}

	switch env.Code {
	case 0:
		return env.rows(), nil
	case codeRateLimited:
		c.limiter.Penalize(time.Minute)
		return nil, contracts.NewProviderError(Name, op, contracts.ErrRateLimit, fmt.Errorf("%s: %s", api, env.Msg))
	case codeNoPermission:
		return nil, contracts.NewProviderError(Name, op, contracts.ErrUnsupported, fmt.Errorf("%s: %s", api, env.Msg))
	default:
		if resp.StatusCode() >= http.StatusInternalServerError {
			return nil, contracts.NewProviderError(Name, op, contracts.ErrTransientAPI, fmt.Errorf("%s: %s", api, env.Msg))
		}
		return nil, provider.Invalid(Name, op, fmt.Errorf("%s: code %d: %s", api, env.Code, env.Msg))
	}
}

// tsCode formats 600519 as 600519.SH
func tsCode(ticker string) string {
	return contracts.BareCode(ticker) + "." + contracts.ExchangeOf(ticker)
}

func (c *Client) supports(ticker, op string) error {
	if contracts.MarketOf(ticker) != contracts.MarketCN {
		return provider.Unsupported(Name, op)
	}
	return nil
}
