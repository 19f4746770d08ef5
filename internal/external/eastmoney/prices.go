package eastmoney

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/internal/provider"
)

// volume is quoted in lots of 100 shares
var priceUnits = provider.UnitTable{
	"volume": 100,
}

type klineResponse struct {
	RC   int `json:"rc"`
	Data *struct {
		Code   string   `json:"code"`
		Name   string   `json:"name"`
		Klines []string `json:"klines"`
	} `json:"data"`
}

func klineParams(secid string, start, end time.Time) url.Values {
	params := url.Values{}
	params.Set("secid", secid)
	params.Set("fields1", "f1,f2,f3,f4,f5,f6")
	params.Set("fields2", "f51,f52,f53,f54,f55,f56,f57")
	params.Set("klt", "101") // daily
	params.Set("fqt", "1")   // forward-adjusted
	params.Set("beg", start.Format("20060102"))
	params.Set("end", end.Format("20060102"))
	return params
}

// GetPrices fetches daily bars
func (c *Client) GetPrices(ctx context.Context, ticker, startDate, endDate string) (provider.Response[[]contracts.Price], error) {
	started := time.Now()
	var out provider.Response[[]contracts.Price]

	if err := c.supports(ticker, provider.OpPrices); err != nil {
		return out, err
	}
	start, err := contracts.ParseDate(startDate)
	if err != nil {
		return out, provider.Invalid(Name, provider.OpPrices, err)
	}
	end, err := contracts.ParseDate(endDate)
	if err != nil {
		return out, provider.Invalid(Name, provider.OpPrices, err)
	}
	if err := c.limiter.Wait(ctx, provider.OpPrices); err != nil {
		return out, err
	}

	var resp klineResponse
	endpoint := c.quoteURL + "/api/qt/stock/kline/get?" + klineParams(secID(ticker), start, end).Encode()
	if err := c.httpClient.GetJSON(ctx, endpoint, &resp); err != nil {
		return out, provider.Classify(Name, provider.OpPrices, err)
	}
	if resp.Data == nil {
		return provider.NewResponse([]contracts.Price{}, Name, started), nil
	}

	prices, err := parseKlines(resp.Data.Klines)
	if err != nil {
		return out, provider.Invalid(Name, provider.OpPrices, err)
	}

	c.logger.WithFields(map[string]interface{}{
		"ticker": ticker,
		"count":  len(prices),
	}).Debug("Fetched prices")

	return provider.NewResponse(prices, Name, started), nil
}

// parseKlines parses "date,open,close,high,low,volume,amount" rows.
// Rows that fail the OHLC invariant are skipped.
func parseKlines(rows []string) ([]contracts.Price, error) {
	prices := make([]contracts.Price, 0, len(rows))
	for _, row := range rows {
		cols := strings.Split(row, ",")
		if len(cols) < 6 {
			return nil, fmt.Errorf("kline row has %d columns: %q", len(cols), row)
		}

		date, ok := provider.ISODate(cols[0])
		if !ok {
			continue
		}

		nums := make([]float64, 5)
		valid := true
		for i := 1; i <= 5; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(cols[i]), 64)
			if err != nil {
				valid = false
				break
			}
			nums[i-1] = v
		}
		if !valid {
			continue
		}

		volume := priceUnits.Apply("volume", &nums[4])
		p := contracts.Price{
			Time:   date,
			Open:   nums[0],
			Close:  nums[1],
			High:   nums[2],
			Low:    nums[3],
			Volume: int64(math.Round(*volume)),
		}
		if p.Validate() != nil {
			continue
		}
		prices = append(prices, p)
	}
	return prices, nil
}
