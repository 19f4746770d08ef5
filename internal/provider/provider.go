package provider

import (
	"context"
	"time"

	"github.com/wonny/hedgefund/internal/contracts"
)

// Provider is the contract every market data source implements.
// ⭐ SSOT: adapters normalize to canonical units before returning;
// a non-nil error never comes with partial data
type Provider interface {
	Name() string
	// Priority orders providers in the router; lower is preferred
	Priority() int

	GetPrices(ctx context.Context, ticker, startDate, endDate string) (Response[[]contracts.Price], error)
	GetFinancialMetrics(ctx context.Context, ticker, endDate string, period contracts.Period, limit int) (Response[[]contracts.FinancialMetrics], error)
	GetLineItems(ctx context.Context, ticker string, items []string, endDate string, period contracts.Period, limit int) (Response[[]contracts.LineItem], error)
	GetCompanyNews(ctx context.Context, ticker, startDate, endDate string, limit int) (Response[[]contracts.CompanyNews], error)

	HealthCheck(ctx context.Context) bool
	RateLimitInfo() RateLimitInfo
}

// Response carries the payload plus where it came from
type Response[T any] struct {
	Data    T             `json:"data"`
	Source  string        `json:"source"`
	Latency time.Duration `json:"latency"`
}

// LatencyMs returns the latency in milliseconds
func (r Response[T]) LatencyMs() int64 {
	return r.Latency.Milliseconds()
}

// NewResponse stamps data with source and elapsed time since start
func NewResponse[T any](data T, source string, start time.Time) Response[T] {
	return Response[T]{Data: data, Source: source, Latency: time.Since(start)}
}

// RateLimitInfo describes a provider's current quota
type RateLimitInfo struct {
	RPM       int           `json:"rpm"`
	RPD       int           `json:"rpd"`
	Backoff   time.Duration `json:"backoff"`
	Remaining int           `json:"remaining"`
}

// DataType classifies cached payloads for TTL and metrics
type DataType string

const (
	DataPrices    DataType = "prices"
	DataMetrics   DataType = "financial_metrics"
	DataLineItems DataType = "line_items"
	DataNews      DataType = "news"
	DataSnapshot  DataType = "snapshot"
)

// Op names used in errors and metrics
const (
	OpPrices    = "prices"
	OpMetrics   = "financial_metrics"
	OpLineItems = "line_items"
	OpNews      = "news"
)

// ByPriority sorts providers by ascending priority, then name
type ByPriority []Provider

func (p ByPriority) Len() int      { return len(p) }
func (p ByPriority) Swap(i, j int) { p[i], p[j] = p[j], p[i] }
func (p ByPriority) Less(i, j int) bool {
	if p[i].Priority() != p[j].Priority() {
		return p[i].Priority() < p[j].Priority()
	}
	return p[i].Name() < p[j].Name()
}

// Unsupported builds the error an adapter returns for an operation it cannot serve
func Unsupported(name, op string) error {
	return contracts.NewProviderError(name, op, contracts.ErrUnsupported, nil)
}
