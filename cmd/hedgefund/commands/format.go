package commands

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/internal/hedgefund"
	"github.com/wonny/hedgefund/internal/provider"
	"github.com/wonny/hedgefund/internal/router"
	"github.com/wonny/hedgefund/internal/snapshot"
)

// ═══════════════════════════════════════════════════════════
// Output styles shared by every command
// ═══════════════════════════════════════════════════════════

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#6B50FF"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#DFDBDD"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#858392"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FFB2"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD300"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#E94090"))
)

func actionStyle(a contracts.Action) lipgloss.Style {
	switch a {
	case contracts.ActionBuy, contracts.ActionCover:
		return okStyle
	case contracts.ActionSell, contracts.ActionShort:
		return errorStyle
	default:
		return mutedStyle
	}
}

func signalStyle(s contracts.SignalDirection) lipgloss.Style {
	switch s {
	case contracts.Bullish:
		return okStyle
	case contracts.Bearish:
		return errorStyle
	default:
		return warnStyle
	}
}

// table renders rows as padded columns. cells may carry ANSI styling;
// widths are measured on the visible text.
type table struct {
	headers []string
	rows    [][]string
}

func (t *table) add(cells ...string) { t.rows = append(t.rows, cells) }

func (t *table) render(w io.Writer) {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.rows {
		for i, c := range row {
			widths[i] = max(widths[i], lipgloss.Width(c))
		}
	}

	line := func(cells []string, style *lipgloss.Style) string {
		parts := make([]string, len(cells))
		for i, c := range cells {
			if style != nil {
				c = style.Render(c)
			}
			parts[i] = lipgloss.NewStyle().Width(widths[i]).Render(c)
		}
		return strings.Join(parts, "  ")
	}

	total := 2 * (len(widths) - 1)
	for _, w := range widths {
		total += w
	}
	fmt.Fprintln(w, line(t.headers, &headerStyle))
	fmt.Fprintln(w, mutedStyle.Render(strings.Repeat("─", total)))
	for _, row := range t.rows {
		fmt.Fprintln(w, line(row, nil))
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// printResult renders decisions, and per-analyst signals when reasoning is requested
func printResult(w io.Writer, res *hedgefund.Result, showReasoning bool) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("Trading decisions")+"  "+mutedStyle.Render(res.RunID))

	decisions := &table{headers: []string{"TICKER", "ACTION", "QTY", "CONF", "PRICE", "LIMIT"}}
	for _, ticker := range sortedKeys(res.Decisions) {
		d := res.Decisions[ticker]
		ra := res.RiskAssessments[ticker]
		decisions.add(
			ticker,
			actionStyle(d.Action).Render(strings.ToUpper(string(d.Action))),
			strconv.FormatInt(d.Quantity, 10),
			fmt.Sprintf("%d%%", d.Confidence),
			fmt.Sprintf("%.2f", ra.CurrentPrice),
			fmt.Sprintf("%.0f", ra.RemainingPositionLimit),
		)
	}
	decisions.render(w)

	if showReasoning {
		for _, ticker := range sortedKeys(res.Decisions) {
			fmt.Fprintln(w)
			fmt.Fprintln(w, headerStyle.Render(ticker)+"  "+res.Decisions[ticker].Reasoning)

			signals := &table{headers: []string{"ANALYST", "SIGNAL", "CONF"}}
			bySource := res.AnalystSignals[ticker]
			for _, id := range sortedKeys(bySource) {
				s := bySource[id]
				signals.add(id, signalStyle(s.Signal).Render(string(s.Signal)), fmt.Sprintf("%d%%", s.Confidence))
			}
			signals.render(w)
		}
	}

	if len(res.Trades) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, titleStyle.Render("Executed trades"))
		trades := &table{headers: []string{"TICKER", "ACTION", "REQUESTED", "EXECUTED", "PRICE", "REALIZED"}}
		for _, tr := range res.Trades {
			trades.add(tr.Ticker, string(tr.Action),
				strconv.FormatInt(tr.Requested, 10), strconv.FormatInt(tr.Executed, 10),
				fmt.Sprintf("%.2f", tr.Price), fmt.Sprintf("%.2f", tr.Realized))
		}
		trades.render(w)
		fmt.Fprintf(w, "%s cash %.2f  margin used %.2f  equity %.2f\n",
			mutedStyle.Render("portfolio"), res.Portfolio.Cash, res.Portfolio.MarginUsed, res.Portfolio.Equity)
	}
	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("finished in %s", res.Duration.Round(1e6))))
}

func printProviders(w io.Writer, statuses []router.ProviderStatus) {
	t := &table{headers: []string{"PROVIDER", "PRIORITY", "STATUS", "CHECKED", "RATE LIMIT"}}
	for _, st := range statuses {
		status := okStyle.Render("healthy")
		if !st.Healthy {
			status = errorStyle.Render("unhealthy")
		}
		if !st.Checked {
			status = mutedStyle.Render("unchecked")
		}
		checked := "-"
		if !st.CheckedAt.IsZero() {
			checked = st.CheckedAt.Format("15:04:05")
		}
		t.add(st.Name, strconv.Itoa(st.Priority), status, checked, rateLimit(st.RateLimit))
	}
	t.render(w)
}

func printSnapshots(w io.Writer, entries []snapshot.IndexEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no snapshots"))
		return
	}
	t := &table{headers: []string{"TICKER", "DATE", "SOURCE", "PATH"}}
	for _, e := range entries {
		t.add(e.Ticker, e.Date, e.DataSource, e.SnapshotPath)
	}
	t.render(w)
}

func rateLimit(rl provider.RateLimitInfo) string {
	if rl.RPM == 0 && rl.RPD == 0 {
		return "-"
	}
	parts := []string{}
	if rl.RPM > 0 {
		parts = append(parts, fmt.Sprintf("%d/min", rl.RPM))
	}
	if rl.RPD > 0 {
		parts = append(parts, fmt.Sprintf("%d/day", rl.RPD))
	}
	return strings.Join(parts, " ")
}
