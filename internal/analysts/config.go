package analysts

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/wonny/hedgefund/internal/contracts"
)

//go:embed default.yaml
var defaultYAML []byte

// Config holds every analyst's tunables
// ⭐ SSOT: thresholds and market heuristics live here, not in analyst code
type Config struct {
	PriceLookbackDays int                `yaml:"price_lookback_days" json:"price_lookback_days" validate:"gte=30"`
	Technical         TechnicalConfig    `yaml:"technical" json:"technical"`
	Momentum          MomentumConfig     `yaml:"momentum" json:"momentum"`
	Fundamentals      FundamentalsConfig `yaml:"fundamentals" json:"fundamentals"`
	Growth            GrowthConfig       `yaml:"growth" json:"growth"`
	Valuation         ValuationConfig    `yaml:"valuation" json:"valuation"`
	Sentiment         SentimentConfig    `yaml:"sentiment" json:"sentiment"`
}

type TechnicalConfig struct {
	RSIPeriod       int       `yaml:"rsi_period" json:"rsi_period" validate:"gte=2"`
	EMAFast         int       `yaml:"ema_fast" json:"ema_fast" validate:"gte=2"`
	EMASlow         int       `yaml:"ema_slow" json:"ema_slow" validate:"gtfield=EMAFast"`
	EMATrend        int       `yaml:"ema_trend" json:"ema_trend" validate:"gtfield=EMASlow"`
	ADXPeriod       int       `yaml:"adx_period" json:"adx_period" validate:"gte=2"`
	BollingerPeriod int       `yaml:"bollinger_period" json:"bollinger_period" validate:"gte=2"`
	BollingerDev    float64   `yaml:"bollinger_dev" json:"bollinger_dev" validate:"gt=0"`
	MinBars         int       `yaml:"min_bars" json:"min_bars" validate:"gtefield=EMATrend"`
	Weights         []float64 `yaml:"weights" json:"weights" validate:"len=3"`
	Threshold       float64   `yaml:"threshold" json:"threshold" validate:"gt=0,lt=1"`
}

type MomentumConfig struct {
	ShortDays int       `yaml:"short_days" json:"short_days" validate:"gte=1"`
	LongDays  int       `yaml:"long_days" json:"long_days" validate:"gtfield=ShortDays"`
	Weights   []float64 `yaml:"weights" json:"weights" validate:"len=3"`
	Threshold float64   `yaml:"threshold" json:"threshold" validate:"gt=0,lt=1"`
}

type FundamentalsConfig struct {
	ROEMin             float64 `yaml:"roe_min" json:"roe_min"`
	NetMarginMin       float64 `yaml:"net_margin_min" json:"net_margin_min"`
	OperatingMarginMin float64 `yaml:"operating_margin_min" json:"operating_margin_min"`
	RevenueGrowthMin   float64 `yaml:"revenue_growth_min" json:"revenue_growth_min"`
	EarningsGrowthMin  float64 `yaml:"earnings_growth_min" json:"earnings_growth_min"`
	BookValueGrowthMin float64 `yaml:"book_value_growth_min" json:"book_value_growth_min"`
	CurrentRatioMin    float64 `yaml:"current_ratio_min" json:"current_ratio_min" validate:"gt=0"`
	DebtToEquityMax    float64 `yaml:"debt_to_equity_max" json:"debt_to_equity_max" validate:"gt=0"`
	FCFToEPSMin        float64 `yaml:"fcf_to_eps_min" json:"fcf_to_eps_min"`
	PEMax              float64 `yaml:"pe_max" json:"pe_max" validate:"gt=0"`
	PBMax              float64 `yaml:"pb_max" json:"pb_max" validate:"gt=0"`
	PSMax              float64 `yaml:"ps_max" json:"ps_max" validate:"gt=0"`
}

type GrowthConfig struct {
	Periods   int     `yaml:"periods" json:"periods" validate:"gte=2"`
	Threshold float64 `yaml:"threshold" json:"threshold" validate:"gt=0,lt=1"`
}

// ValuationConfig carries market-specific cost of equity.
// Keys of DiscountRate and CountryRiskPremium are contracts.Market values.
type ValuationConfig struct {
	DiscountRate       map[string]float64 `yaml:"discount_rate" json:"discount_rate" validate:"required"`
	CountryRiskPremium map[string]float64 `yaml:"country_risk_premium" json:"country_risk_premium"`
	TerminalGrowth     float64            `yaml:"terminal_growth" json:"terminal_growth" validate:"gte=0"`
	ProjectionYears    int                `yaml:"projection_years" json:"projection_years" validate:"gte=1,lte=20"`
	MaxGrowth          float64            `yaml:"max_growth" json:"max_growth" validate:"gt=0"`
	DefaultGrowth      float64            `yaml:"default_growth" json:"default_growth" validate:"gte=0"`
	MarginOfSafety     float64            `yaml:"margin_of_safety" json:"margin_of_safety" validate:"gte=0,lt=1"`
	Threshold          float64            `yaml:"threshold" json:"threshold" validate:"gt=0"`
}

// CostOfEquity returns discount rate plus country risk premium for market
func (v ValuationConfig) CostOfEquity(market contracts.Market) float64 {
	rate, ok := v.DiscountRate[string(market)]
	if !ok {
		rate = v.DiscountRate[string(contracts.MarketUS)]
	}
	return rate + v.CountryRiskPremium[string(market)]
}

type SentimentConfig struct {
	LookbackDays     int      `yaml:"lookback_days" json:"lookback_days" validate:"gte=1"`
	NewsLimit        int      `yaml:"news_limit" json:"news_limit" validate:"gte=1"`
	PositiveKeywords []string `yaml:"positive_keywords" json:"positive_keywords"`
	NegativeKeywords []string `yaml:"negative_keywords" json:"negative_keywords"`
}

// ValidationError names the offending field
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// DefaultConfig returns the embedded configuration
func DefaultConfig() *Config {
	cfg, err := parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded analyst config: %v", err))
	}
	return cfg
}

// LoadConfig reads a YAML file. Unknown fields fail loudly.
// An empty path returns the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read analyst config: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode analyst config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints and weight sums
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("analyst config: %w", err)
	}
	if err := weightsSumToOne(c.Technical.Weights); err != nil {
		return ValidationError{"technical.weights", err.Error()}
	}
	if err := weightsSumToOne(c.Momentum.Weights); err != nil {
		return ValidationError{"momentum.weights", err.Error()}
	}
	for market, rate := range c.Valuation.DiscountRate {
		if rate+c.Valuation.CountryRiskPremium[market] <= c.Valuation.TerminalGrowth {
			return ValidationError{"valuation.discount_rate." + market, "cost of equity must exceed terminal growth"}
		}
	}
	if _, ok := c.Valuation.DiscountRate[string(contracts.MarketUS)]; !ok {
		return ValidationError{"valuation.discount_rate", "US rate is required as the fallback"}
	}
	return nil
}

func weightsSumToOne(weights []float64) error {
	sum := 0.0
	for _, w := range weights {
		if w < 0 {
			return fmt.Errorf("negative weight %v", w)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("weights sum to %v, want 1.0", sum)
	}
	return nil
}

// Hash fingerprints the config (canonical JSON) for run metadata
func Hash(cfg *Config) (string, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
