package portfolio

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/wonny/hedgefund/internal/contracts"
)

// dominance is how much one side's weight must exceed the other's to trade
const dominance = 1.5

var actionLabels = map[contracts.Action]string{
	contracts.ActionBuy:   "买入",
	contracts.ActionSell:  "卖出",
	contracts.ActionShort: "做空",
	contracts.ActionCover: "平空",
	contracts.ActionHold:  "持有",
}

var directionLabels = map[contracts.SignalDirection]string{
	contracts.Bullish: "看多",
	contracts.Bearish: "看空",
	contracts.Neutral: "中性",
}

// Tally is the confidence-weighted vote over one ticker's signals
type Tally struct {
	Bullish, Bearish, Neutral int
	BullWeight, BearWeight    float64
	Top                       []contracts.Signal // highest confidence first, at most two
}

// Count tallies signals
func Count(signals map[string]contracts.Signal) Tally {
	var t Tally
	ranked := make([]contracts.Signal, 0, len(signals))
	for id, sig := range signals {
		if sig.AnalystID == "" {
			sig.AnalystID = id
		}
		w := sig.Signal.Weight() * float64(contracts.ClampConfidence(sig.Confidence))
		switch {
		case w > 0 || sig.Signal == contracts.Bullish:
			t.Bullish++
			t.BullWeight += w
		case w < 0 || sig.Signal == contracts.Bearish:
			t.Bearish++
			t.BearWeight -= w
		default:
			t.Neutral++
		}
		ranked = append(ranked, sig)
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Confidence != ranked[j].Confidence {
			return ranked[i].Confidence > ranked[j].Confidence
		}
		return ranked[i].AnalystID < ranked[j].AnalystID
	})
	if len(ranked) > 2 {
		ranked = ranked[:2]
	}
	t.Top = ranked
	return t
}

// Fallback derives a decision from the signals alone.
// A side trades only when its weight exceeds the other side's by dominance
// and a matching action is allowed; the rest holds.
func Fallback(ticker string, signals map[string]contracts.Signal, allowed Allowed) contracts.Decision {
	t := Count(signals)
	total := t.BullWeight + t.BearWeight

	action := contracts.ActionHold
	var winner float64
	var winners int
	switch {
	case t.BullWeight > dominance*t.BearWeight:
		action = pick(allowed, contracts.ActionCover, contracts.ActionBuy)
		winner, winners = t.BullWeight, t.Bullish
	case t.BearWeight > dominance*t.BullWeight:
		action = pick(allowed, contracts.ActionSell, contracts.ActionShort)
		winner, winners = t.BearWeight, t.Bearish
	}

	d := contracts.Decision{Ticker: ticker, Action: action}
	if action == contracts.ActionHold {
		if total > 0 {
			d.Confidence = int(math.Round(50 * (1 - math.Abs(t.BullWeight-t.BearWeight)/total)))
		}
	} else {
		d.Quantity = allowed[action]
		// share of the vote times the winning side's average conviction
		d.Confidence = int(math.Round(winner / total * winner / float64(winners)))
	}
	d.Confidence = contracts.ClampConfidence(d.Confidence)
	d.Reasoning = Explain(t, d)
	return d
}

func pick(allowed Allowed, preferred ...contracts.Action) contracts.Action {
	for _, a := range preferred {
		if q, ok := allowed[a]; ok && q > 0 {
			return a
		}
	}
	return contracts.ActionHold
}

// Explain renders the deterministic reasoning for d
func Explain(t Tally, d contracts.Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "看多 %d 票, 看空 %d 票, 中性 %d 票 (加权 看多 %.0f / 看空 %.0f)",
		t.Bullish, t.Bearish, t.Neutral, t.BullWeight, t.BearWeight)

	if len(t.Top) > 0 {
		parts := make([]string, len(t.Top))
		for i, sig := range t.Top {
			parts[i] = fmt.Sprintf("%s %s %d", sig.AnalystID, directionLabels[sig.Signal], sig.Confidence)
		}
		b.WriteString("; 主要依据: ")
		b.WriteString(strings.Join(parts, ", "))
	}

	if d.Action == contracts.ActionHold {
		b.WriteString("; 结论: 持有")
	} else {
		fmt.Fprintf(&b, "; 结论: %s %d 股", actionLabels[d.Action], d.Quantity)
	}
	return b.String()
}
