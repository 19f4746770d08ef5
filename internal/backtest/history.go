package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/internal/risk"
)

// history holds daily closes per ticker. The last known close is
// carried forward for tickers that did not trade on a given day.
type history struct {
	closes map[string]map[string]float64 // date -> ticker -> close
	last   map[string]float64
}

func loadHistory(ctx context.Context, src risk.PriceSource, tickers []string, start, end time.Time) (*history, error) {
	h := &history{
		closes: make(map[string]map[string]float64),
		last:   make(map[string]float64, len(tickers)),
	}
	for _, t := range tickers {
		resp, err := src.GetPrices(ctx, t, start.Format(contracts.DateLayout), end.Format(contracts.DateLayout))
		if err != nil {
			return nil, fmt.Errorf("load prices for %s: %w", t, err)
		}
		for _, p := range resp.Data {
			if p.Close <= 0 {
				continue
			}
			day, ok := h.closes[p.Time]
			if !ok {
				day = make(map[string]float64, len(tickers))
				h.closes[p.Time] = day
			}
			day[t] = p.Close
		}
	}
	return h, nil
}

// closesOn returns the closes for date with carry-forward applied.
// Dates must be visited in ascending order. ok is false when no ticker traded.
func (h *history) closesOn(date string) (map[string]float64, bool) {
	day, ok := h.closes[date]
	if !ok {
		return nil, false
	}
	for t, c := range day {
		h.last[t] = c
	}
	out := make(map[string]float64, len(h.last))
	for t, c := range h.last {
		out[t] = c
	}
	return out, true
}
