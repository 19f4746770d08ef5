package sina

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/internal/provider"
	"github.com/wonny/hedgefund/pkg/config"
	"github.com/wonny/hedgefund/pkg/httputil"
	"github.com/wonny/hedgefund/pkg/logger"
)

// Name is the source tag of this adapter
const Name = "sina"

var datePattern = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`)

// Client scrapes the Sina Finance per-stock news list
type Client struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	limiter    *provider.Limiter
	baseURL    string
}

// New creates a new Sina client
func New(cfg config.SinaConfig, httpClient *httputil.Client, log *logger.Logger) *Client {
	httpClient.WithHeader("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")
	return &Client{
		httpClient: httpClient,
		logger:     log.WithField("provider", Name),
		limiter:    provider.NewLimiter(Name, 30, 0),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// Name returns the source tag
func (c *Client) Name() string { return Name }

// Priority ranks Sina after the market data sources
func (c *Client) Priority() int { return 4 }

// RateLimitInfo reports the local token bucket
func (c *Client) RateLimitInfo() provider.RateLimitInfo { return c.limiter.Info() }

// HealthCheck loads the news page of the SSE Composite
func (c *Client) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := c.httpClient.GetBody(ctx, c.newsURL("600000")); err != nil {
		c.logger.WithError(err).Debug("Health check failed")
		return false
	}
	return true
}

func (c *Client) newsURL(ticker string) string {
	symbol := strings.ToLower(contracts.ExchangeOf(ticker)) + contracts.BareCode(ticker)
	return fmt.Sprintf("%s/corp/go.php/vCB_AllNewsStock/symbol/%s.phtml", c.baseURL, symbol)
}

// GetCompanyNews returns headlines within [startDate, endDate], newest first
func (c *Client) GetCompanyNews(ctx context.Context, ticker, startDate, endDate string, limit int) (provider.Response[[]contracts.CompanyNews], error) {
	started := time.Now()
	var out provider.Response[[]contracts.CompanyNews]

	if contracts.MarketOf(ticker) != contracts.MarketCN {
		return out, provider.Unsupported(Name, provider.OpNews)
	}
	if err := c.limiter.Wait(ctx, provider.OpNews); err != nil {
		return out, err
	}

	body, err := c.httpClient.GetBody(ctx, c.newsURL(ticker))
	if err != nil {
		return out, provider.Classify(Name, provider.OpNews, err)
	}

	doc, err := goquery.NewDocumentFromReader(decode(body))
	if err != nil {
		return out, provider.Invalid(Name, provider.OpNews, fmt.Errorf("parse html: %w", err))
	}

	news := parseNewsList(doc, ticker, startDate, endDate, limit)
	c.logger.WithFields(map[string]interface{}{
		"ticker": ticker,
		"count":  len(news),
	}).Debug("Fetched news")

	return provider.NewResponse(news, Name, started), nil
}

// parseNewsList walks ".datelist ul", where each link is preceded by a "YYYY-MM-DD HH:MM" text node
func parseNewsList(doc *goquery.Document, ticker, startDate, endDate string, limit int) []contracts.CompanyNews {
	var (
		news     []contracts.CompanyNews
		lastDate string
		seen     = make(map[string]bool)
	)

	doc.Find(".datelist ul").Contents().Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) == "#text" {
			if m := datePattern.FindString(s.Text()); m != "" {
				lastDate = m
			}
			return
		}
		if goquery.NodeName(s) != "a" || lastDate == "" {
			return
		}

		title := strings.TrimSpace(s.Text())
		item := contracts.CompanyNews{
			Ticker: ticker,
			Title:  title,
			Date:   lastDate,
			Source: Name,
			URL:    s.AttrOr("href", ""),
		}
		lastDate = ""

		if title == "" || seen[item.NaturalKey()] {
			return
		}
		if (startDate != "" && item.Date < startDate) || (endDate != "" && item.Date > endDate) {
			return
		}
		seen[item.NaturalKey()] = true
		news = append(news, item)
	})

	sort.SliceStable(news, func(i, j int) bool { return news[i].Date > news[j].Date })
	if limit > 0 && len(news) > limit {
		news = news[:limit]
	}
	if news == nil {
		news = []contracts.CompanyNews{}
	}
	return news
}

// decode converts GBK pages to UTF-8; UTF-8 input passes through
func decode(body []byte) io.Reader {
	if utf8.Valid(body) {
		return bytes.NewReader(body)
	}
	return transform.NewReader(bytes.NewReader(body), simplifiedchinese.GBK.NewDecoder())
}

// GetPrices is not served by this adapter
func (c *Client) GetPrices(ctx context.Context, ticker, startDate, endDate string) (provider.Response[[]contracts.Price], error) {
	return provider.Response[[]contracts.Price]{}, provider.Unsupported(Name, provider.OpPrices)
}

// GetFinancialMetrics is not served by this adapter
func (c *Client) GetFinancialMetrics(ctx context.Context, ticker, endDate string, period contracts.Period, limit int) (provider.Response[[]contracts.FinancialMetrics], error) {
	return provider.Response[[]contracts.FinancialMetrics]{}, provider.Unsupported(Name, provider.OpMetrics)
}

// GetLineItems is not served by this adapter
func (c *Client) GetLineItems(ctx context.Context, ticker string, items []string, endDate string, period contracts.Period, limit int) (provider.Response[[]contracts.LineItem], error) {
	return provider.Response[[]contracts.LineItem]{}, provider.Unsupported(Name, provider.OpLineItems)
}
