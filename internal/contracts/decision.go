package contracts

import "fmt"

// Action is the order type of a decision
type Action string

const (
	ActionBuy   Action = "buy"
	ActionSell  Action = "sell"
	ActionShort Action = "short"
	ActionCover Action = "cover"
	ActionHold  Action = "hold"
)

// AllActions lists actions in evaluation order
var AllActions = []Action{ActionBuy, ActionSell, ActionShort, ActionCover, ActionHold}

// Valid reports whether a is a known action
func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionShort, ActionCover, ActionHold:
		return true
	}
	return false
}

// Decision is the final order per ticker
// ⭐ SSOT: Quantity == 0 iff Action == hold
type Decision struct {
	Ticker     string `json:"ticker"`
	Action     Action `json:"action"`
	Quantity   int64  `json:"quantity"`
	Confidence int    `json:"confidence"` // 0 ~ 100
	Reasoning  string `json:"reasoning"`
}

// Validate checks the action/quantity invariant
func (d Decision) Validate() error {
	if !d.Action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrValidation, d.Action)
	}
	if d.Quantity < 0 {
		return fmt.Errorf("%w: negative quantity", ErrValidation)
	}
	if (d.Action == ActionHold) != (d.Quantity == 0) {
		return fmt.Errorf("%w: action %s with quantity %d", ErrValidation, d.Action, d.Quantity)
	}
	if d.Confidence < 0 || d.Confidence > 100 {
		return fmt.Errorf("%w: confidence %d out of [0,100]", ErrValidation, d.Confidence)
	}
	return nil
}

// HoldDecision builds a hold order
func HoldDecision(ticker string, confidence int, reasoning string) Decision {
	return Decision{
		Ticker:     ticker,
		Action:     ActionHold,
		Quantity:   0,
		Confidence: ClampConfidence(confidence),
		Reasoning:  reasoning,
	}
}
