package analysts

import (
	"context"
	"strings"
	"time"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/pkg/logger"
)

// SentimentID is the registry id of the sentiment analyst
const SentimentID = "sentiment_analyst"

// Sentiment counts news tone. Items without an upstream tag are classified by title keywords.
type Sentiment struct {
	base
}

// NewSentiment creates the sentiment analyst
func NewSentiment(cfg *Config, log *logger.Logger, opts ...Option) *Sentiment {
	return &Sentiment{base: newBase(SentimentID, "Sentiment Analyst", cfg, log, opts)}
}

// SentimentReading is the evidence behind a sentiment signal
type SentimentReading struct {
	Positive  int      `json:"positive"`
	Negative  int      `json:"negative"`
	Neutral   int      `json:"neutral"`
	Headlines []string `json:"headlines,omitempty"`
}

// Run emits one signal per ticker
func (a *Sentiment) Run(ctx context.Context, state *contracts.RunState, data DataSource) error {
	cfg := a.cfg.Sentiment
	end, err := contracts.ParseDate(state.EndDate)
	if err != nil {
		return err
	}
	start := end.AddDate(0, 0, -cfg.LookbackDays).Format(time.DateOnly)

	return a.runTickers(ctx, state, func(ctx context.Context, ticker string) (contracts.Signal, error) {
		resp, err := data.GetCompanyNews(ctx, ticker, start, state.EndDate, cfg.NewsLimit)
		if err != nil {
			return contracts.Signal{}, err
		}
		return a.score(ticker, resp.Data), nil
	})
}

func (a *Sentiment) score(ticker string, news []contracts.CompanyNews) contracts.Signal {
	if len(news) == 0 {
		return contracts.NeutralSignal(a.id, ticker, "近期无新闻")
	}

	var r SentimentReading
	for _, n := range news {
		switch a.classify(n) {
		case contracts.SentimentPositive:
			r.Positive++
		case contracts.SentimentNegative:
			r.Negative++
		default:
			r.Neutral++
		}
		if len(r.Headlines) < 3 {
			r.Headlines = append(r.Headlines, n.Title)
		}
	}

	direction, _ := fromVotes(r.Positive, r.Negative, len(news))
	confidence := 0
	if tagged := r.Positive + r.Negative; tagged > 0 {
		confidence = max(r.Positive, r.Negative) * 100 / tagged
		// dilute by how much of the flow was neutral
		confidence = confidence * tagged / len(news)
	}
	if direction == contracts.Neutral {
		confidence = min(confidence, 50)
	}
	return contracts.Signal{Signal: direction, Confidence: confidence, Reasoning: r}
}

func (a *Sentiment) classify(n contracts.CompanyNews) contracts.Sentiment {
	if n.Sentiment != "" {
		return n.Sentiment
	}
	title := strings.ToLower(n.Title)
	pos := countKeywords(title, a.cfg.Sentiment.PositiveKeywords)
	neg := countKeywords(title, a.cfg.Sentiment.NegativeKeywords)
	switch {
	case pos > neg:
		return contracts.SentimentPositive
	case neg > pos:
		return contracts.SentimentNegative
	}
	return contracts.SentimentNeutral
}

func countKeywords(text string, keywords []string) int {
	n := 0
	for _, k := range keywords {
		if k != "" && strings.Contains(text, strings.ToLower(k)) {
			n++
		}
	}
	return n
}
