package eastmoney

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/internal/provider"
	"github.com/wonny/hedgefund/pkg/config"
	"github.com/wonny/hedgefund/pkg/httputil"
	"github.com/wonny/hedgefund/pkg/logger"
)

// Name is the source tag of this adapter
const Name = "eastmoney"

// Client serves A-share prices and fundamentals from Eastmoney's public endpoints
// ⭐ SSOT: every Eastmoney call goes through this client
type Client struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	limiter    *provider.Limiter
	quoteURL   string
	financeURL string
}

// New creates a new Eastmoney client
func New(cfg config.EastmoneyConfig, httpClient *httputil.Client, log *logger.Logger) *Client {
	httpClient.
		WithHeader("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36").
		WithHeader("Referer", "https://quote.eastmoney.com/")

	return &Client{
		httpClient: httpClient,
		logger:     log.WithField("provider", Name),
		limiter:    provider.NewLimiter(Name, cfg.RPM, 0),
		quoteURL:   strings.TrimRight(cfg.QuoteURL, "/"),
		financeURL: strings.TrimRight(cfg.FinanceURL, "/"),
	}
}

// Name returns the source tag
func (c *Client) Name() string { return Name }

// Priority ranks Eastmoney first for A-shares
func (c *Client) Priority() int { return 1 }

// RateLimitInfo reports the local token bucket
func (c *Client) RateLimitInfo() provider.RateLimitInfo { return c.limiter.Info() }

// HealthCheck fetches five days of the SSE Composite index
func (c *Client) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	end := time.Now()
	params := klineParams("1.000001", end.AddDate(0, 0, -7), end)
	var resp klineResponse
	if err := c.httpClient.GetJSON(ctx, c.quoteURL+"/api/qt/stock/kline/get?"+params.Encode(), &resp); err != nil {
		c.logger.WithError(err).Debug("Health check failed")
		return false
	}
	return resp.Data != nil
}

// secID builds Eastmoney's market-prefixed security id: 1.600519 (SH), 0.000001 (SZ/BJ)
func secID(ticker string) string {
	code := contracts.BareCode(ticker)
	if contracts.ExchangeOf(ticker) == "SH" {
		return "1." + code
	}
	return "0." + code
}

// secuCode builds the datacenter filter code: 600519.SH
func secuCode(ticker string) string {
	return contracts.BareCode(ticker) + "." + contracts.ExchangeOf(ticker)
}

func (c *Client) supports(ticker, op string) error {
	if contracts.MarketOf(ticker) != contracts.MarketCN {
		return provider.Unsupported(Name, op)
	}
	return nil
}

// datacenterResponse is the envelope of datacenter.eastmoney.com report queries
type datacenterResponse struct {
	Success bool   `json:"success"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Result  *struct {
		Pages int              `json:"pages"`
		Data  []map[string]any `json:"data"`
	} `json:"result"`
}

// queryReport pulls rows of a datacenter report filtered by security code
func (c *Client) queryReport(ctx context.Context, op, report, ticker string, pageSize int) ([]map[string]any, error) {
	if err := c.limiter.Wait(ctx, op); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("reportName", report)
	params.Set("columns", "ALL")
	params.Set("filter", fmt.Sprintf(`(SECUCODE="%s")`, secuCode(ticker)))
	params.Set("pageNumber", "1")
	params.Set("pageSize", fmt.Sprintf("%d", pageSize))
	params.Set("sortColumns", reportSortColumn(report))
	params.Set("sortTypes", "-1")
	params.Set("source", "HSF10")
	params.Set("client", "PC")

	var resp datacenterResponse
	if err := c.httpClient.GetJSON(ctx, c.financeURL+"/securities/api/data/v1/get?"+params.Encode(), &resp); err != nil {
		return nil, provider.Classify(Name, op, err)
	}

	// code 9201 means "no data" for the filter
	if resp.Result == nil || resp.Code == 9201 {
		return nil, nil
	}
	if !resp.Success {
		return nil, provider.Invalid(Name, op, fmt.Errorf("report %s: %s", report, resp.Message))
	}
	return resp.Result.Data, nil
}

func reportSortColumn(report string) string {
	if report == reportValuation {
		return "TRADE_DATE"
	}
	return "REPORT_DATE"
}
