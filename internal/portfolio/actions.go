package portfolio

import (
	"github.com/shopspring/decimal"

	"github.com/wonny/hedgefund/internal/contracts"
)

// Allowed maps an action to its maximum share quantity
type Allowed map[contracts.Action]int64

// Has reports whether action a may be taken
func (a Allowed) Has(action contracts.Action) bool {
	_, ok := a[action]
	return ok
}

// OnlyHold reports whether nothing but hold is allowed
func (a Allowed) OnlyHold() bool {
	for action := range a {
		if action != contracts.ActionHold {
			return false
		}
	}
	return true
}

// AllowedActions computes the maximum quantity per action for one ticker.
// Actions with a zero maximum are dropped; hold is always present.
// ⭐ SSOT: the decision bound for every order comes from here
func AllowedActions(price, remainingLimit float64, pos contracts.Position, p contracts.Portfolio, equity float64) Allowed {
	allowed := Allowed{contracts.ActionHold: 0}
	if price <= 0 {
		return allowed
	}

	byLimit := floorDiv(remainingLimit, price)

	if pos.Long > 0 {
		allowed[contracts.ActionSell] = pos.Long
	}
	if q := min(byLimit, floorDiv(p.Cash, price)); q > 0 {
		allowed[contracts.ActionBuy] = q
	}
	if pos.Short > 0 {
		allowed[contracts.ActionCover] = pos.Short
	}

	shortQty := byLimit
	if p.MarginRequirement > 0 {
		headroom := decimal.NewFromFloat(equity).
			Div(decimal.NewFromFloat(p.MarginRequirement)).
			Sub(decimal.NewFromFloat(p.MarginUsed))
		byMargin := int64(0)
		if headroom.IsPositive() {
			byMargin = headroom.Div(decimal.NewFromFloat(price)).Floor().IntPart()
		}
		shortQty = min(byLimit, byMargin)
	}
	if shortQty > 0 {
		allowed[contracts.ActionShort] = shortQty
	}
	return allowed
}

// PrefillHold is the decision for a ticker where only hold is allowed
func PrefillHold(ticker string) contracts.Decision {
	return contracts.HoldDecision(ticker, 100, "No valid trade available")
}

// floorDiv returns floor(a / b) in whole shares, 0 when either side is non-positive
func floorDiv(a, b float64) int64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	return decimal.NewFromFloat(a).Div(decimal.NewFromFloat(b)).Floor().IntPart()
}
