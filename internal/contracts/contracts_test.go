package contracts

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrice_Validate(t *testing.T) {
	tests := []struct {
		name    string
		price   Price
		wantErr bool
	}{
		{"valid", Price{Time: "2024-01-02", Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100}, false},
		{"high below close", Price{Time: "2024-01-02", Open: 10, High: 10.2, Low: 9, Close: 10.5}, true},
		{"low above open", Price{Time: "2024-01-02", Open: 10, High: 11, Low: 10.1, Close: 10.5}, true},
		{"zero price", Price{Time: "2024-01-02", Open: 0, High: 11, Low: 9, Close: 10}, true},
		{"negative volume", Price{Time: "2024-01-02", Open: 10, High: 11, Low: 9, Close: 10, Volume: -1}, true},
		{"bad date", Price{Time: "20240102", Open: 10, High: 11, Low: 9, Close: 10}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.price.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDecision_Validate(t *testing.T) {
	tests := []struct {
		name     string
		decision Decision
		wantErr  bool
	}{
		{"hold zero", Decision{Action: ActionHold, Quantity: 0, Confidence: 50}, false},
		{"buy positive", Decision{Action: ActionBuy, Quantity: 10, Confidence: 80}, false},
		{"hold with quantity", Decision{Action: ActionHold, Quantity: 5}, true},
		{"buy zero", Decision{Action: ActionBuy, Quantity: 0}, true},
		{"unknown action", Decision{Action: "dance", Quantity: 1}, true},
		{"confidence too high", Decision{Action: ActionHold, Confidence: 101}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.decision.Validate()
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func TestProviderError_Is(t *testing.T) {
	cause := errors.New("HTTP 503")
	err := fmt.Errorf("fetch: %w", NewProviderError("eastmoney", "prices", ErrTransientAPI, cause))

	assert.ErrorIs(t, err, ErrTransientAPI)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrRateLimit)
	assert.True(t, IsRetryable(err))
	assert.False(t, IsRetryable(NewProviderError("yahoo", "metrics", ErrUnsupported, nil)))

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "eastmoney", pe.Provider)
}

func TestMarketOf(t *testing.T) {
	tests := []struct {
		ticker   string
		market   Market
		exchange string
	}{
		{"600519", MarketCN, "SH"},
		{"000001.SZ", MarketCN, "SZ"},
		{"300750", MarketCN, "SZ"},
		{"830799", MarketCN, "BJ"},
		{"AAPL", MarketUS, ""},
	}

	for _, tt := range tests {
		t.Run(tt.ticker, func(t *testing.T) {
			assert.Equal(t, tt.market, MarketOf(tt.ticker))
			if tt.market == MarketCN {
				assert.Equal(t, tt.exchange, ExchangeOf(tt.ticker))
				assert.Len(t, BareCode(tt.ticker), 6)
			}
		})
	}
}

func TestComputePEG(t *testing.T) {
	assert.InDelta(t, 1.5, *ComputePEG(Float(30), Float(0.2)), 1e-9)
	assert.Nil(t, ComputePEG(nil, Float(0.2)))
	assert.Nil(t, ComputePEG(Float(30), Float(-0.1)))
}

func TestPortfolio_Validate(t *testing.T) {
	assert.NoError(t, NewPortfolio(1000, 0.5, []string{"AAPL"}).Validate())
	assert.ErrorIs(t, NewPortfolio(-1, 0.5, nil).Validate(), ErrPrecondition)
	assert.ErrorIs(t, NewPortfolio(100, 1.5, nil).Validate(), ErrPrecondition)
}

func TestPortfolio_MarkToMarket(t *testing.T) {
	p := NewPortfolio(1000, 0.5, []string{"AAPL", "MSFT"})
	p.Positions["AAPL"] = Position{Long: 10, LongCostBasis: 100}
	p.Positions["MSFT"] = Position{Short: 5, ShortCostBasis: 200, ShortMarginUsed: 500}
	p.MarginUsed = 500

	// 1000 + 500 + 10*110 - 5*180
	assert.InDelta(t, 1700.0, p.MarkToMarket(map[string]float64{"AAPL": 110, "MSFT": 180}), 1e-9)
	// no prices: each side at its own cost basis, 1000 + 500 + 10*100 - 5*200
	assert.InDelta(t, 1500.0, p.MarkToMarket(nil), 1e-9)

	clone := p.Clone()
	clone.Positions["AAPL"] = Position{}
	assert.Equal(t, int64(10), p.Positions["AAPL"].Long)
}

func TestRunState_SignalPartitions(t *testing.T) {
	s := NewRunState([]string{"AAPL"}, "2024-01-01", "2024-03-01", NewPortfolio(100, 0, []string{"AAPL"}), RunMetadata{})

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("analyst_%d", i)
			_ = s.SetSignal(id, Signal{Ticker: "AAPL", Signal: Bullish, Confidence: 150})
		}(i)
	}
	wg.Wait()

	sigs := s.Signals()
	assert.Len(t, sigs, 12)
	assert.Equal(t, 100, sigs["analyst_3"]["AAPL"].Confidence)
	assert.Len(t, s.SignalsFor("AAPL"), 12)

	err := s.SetSignal("a", Signal{Ticker: "AAPL", AnalystID: "b", Signal: Bullish})
	assert.Error(t, err)

	sigs["analyst_3"]["AAPL"] = Signal{}
	assert.Equal(t, Bullish, s.Signals()["analyst_3"]["AAPL"].Signal)
}
