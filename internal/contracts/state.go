package contracts

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// RunMetadata is passthrough configuration for a run
type RunMetadata struct {
	RunID         string    `json:"run_id"`
	ModelName     string    `json:"model_name"`
	ShowReasoning bool      `json:"show_reasoning"`
	StartedAt     time.Time `json:"started_at"`
}

// RunState is the shared bag threaded through the analysis graph.
// Each node writes only its own partition; the mutex makes that safe
// even when a node misbehaves.
type RunState struct {
	Tickers   []string    `json:"tickers"`
	StartDate string      `json:"start_date"`
	EndDate   string      `json:"end_date"`
	Portfolio Portfolio   `json:"portfolio"`
	Metadata  RunMetadata `json:"metadata"`

	mu              sync.RWMutex
	analystSignals  map[string]map[string]Signal
	currentPrices   map[string]float64
	riskAssessments map[string]RiskAssessment
	decisions       map[string]Decision
	messages        []string
}

// NewRunState creates a state for the given request
func NewRunState(tickers []string, startDate, endDate string, portfolio Portfolio, meta RunMetadata) *RunState {
	return &RunState{
		Tickers:         append([]string(nil), tickers...),
		StartDate:       startDate,
		EndDate:         endDate,
		Portfolio:       portfolio.Clone(),
		Metadata:        meta,
		analystSignals:  make(map[string]map[string]Signal),
		currentPrices:   make(map[string]float64),
		riskAssessments: make(map[string]RiskAssessment),
		decisions:       make(map[string]Decision),
	}
}

// SetSignal records analystID's signal for ticker.
// Writing another analyst's partition is rejected.
func (s *RunState) SetSignal(analystID string, sig Signal) error {
	if sig.AnalystID == "" {
		sig.AnalystID = analystID
	}
	if sig.AnalystID != analystID {
		return fmt.Errorf("analyst %s cannot write signal owned by %s", analystID, sig.AnalystID)
	}
	sig.Confidence = ClampConfidence(sig.Confidence)
	if err := sig.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	part, ok := s.analystSignals[analystID]
	if !ok {
		part = make(map[string]Signal)
		s.analystSignals[analystID] = part
	}
	part[sig.Ticker] = sig
	return nil
}

// HasSignal reports whether analystID already wrote ticker
func (s *RunState) HasSignal(analystID, ticker string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.analystSignals[analystID][ticker]
	return ok
}

// Signals returns a deep copy of analystID -> ticker -> Signal
func (s *RunState) Signals() map[string]map[string]Signal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]map[string]Signal, len(s.analystSignals))
	for id, part := range s.analystSignals {
		cp := make(map[string]Signal, len(part))
		for t, sig := range part {
			cp[t] = sig
		}
		out[id] = cp
	}
	return out
}

// SignalsFor returns analystID -> Signal for one ticker
func (s *RunState) SignalsFor(ticker string) map[string]Signal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Signal)
	for id, part := range s.analystSignals {
		if sig, ok := part[ticker]; ok {
			out[id] = sig
		}
	}
	return out
}

// AnalystIDs returns the analysts that have written at least one signal, sorted
func (s *RunState) AnalystIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.analystSignals))
	for id := range s.analystSignals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetCurrentPrice records the latest close for ticker
func (s *RunState) SetCurrentPrice(ticker string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentPrices[ticker] = price
}

// CurrentPrices returns a copy of ticker -> latest close
func (s *RunState) CurrentPrices() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.currentPrices))
	for k, v := range s.currentPrices {
		out[k] = v
	}
	return out
}

// SetRiskAssessments stores the risk gate output
func (s *RunState) SetRiskAssessments(assessments map[string]RiskAssessment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for t, a := range assessments {
		s.riskAssessments[t] = a
		s.currentPrices[t] = a.CurrentPrice
	}
}

// RiskAssessments returns a copy of the risk gate output
func (s *RunState) RiskAssessments() map[string]RiskAssessment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]RiskAssessment, len(s.riskAssessments))
	for k, v := range s.riskAssessments {
		out[k] = v
	}
	return out
}

// SetDecisions stores the final decisions
func (s *RunState) SetDecisions(decisions map[string]Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for t, d := range decisions {
		s.decisions[t] = d
	}
}

// Decisions returns a copy of the final decisions
func (s *RunState) Decisions() map[string]Decision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Decision, len(s.decisions))
	for k, v := range s.decisions {
		out[k] = v
	}
	return out
}

// AppendMessage records a node's terminal message
func (s *RunState) AppendMessage(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

// Messages returns node messages in append order
func (s *RunState) Messages() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.messages...)
}
