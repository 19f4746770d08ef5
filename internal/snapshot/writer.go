package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/pkg/logger"
)

const (
	pricesFile     = "prices.json"
	financialsFile = "financials.json"
	summaryFile    = "summary.md"
	indexFile      = "index.json"
	lockFile       = "index.json.lock"
)

// Mode selects inline or queued writes
type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

// queueSize bounds pending async writes
const queueSize = 256

// IndexEntry is one row of index.json
type IndexEntry struct {
	Ticker       string    `json:"ticker"`
	Date         string    `json:"date"`
	SnapshotPath string    `json:"snapshot_path"`
	CreatedAt    time.Time `json:"created_at"`
	DataSource   string    `json:"data_source"`
}

// Financials is the layout of financials.json
type Financials struct {
	FinancialMetrics []contracts.FinancialMetrics `json:"financial_metrics"`
	LineItems        []contracts.LineItem         `json:"line_items"`
}

// Writer mirrors served data batches under <root>/<ticker>/<date>/
// ⭐ SSOT: the snapshot tree and index.json are written only here
type Writer struct {
	root   string
	mode   Mode
	logger *logger.Logger
	now    func() time.Time

	mu sync.Mutex // serializes writers inside the process; flock covers other processes

	qmu    sync.RWMutex // guards closed; senders hold it for reading
	closed bool
	queue  chan func()
	done   chan struct{}
	once   sync.Once
}

// NewWriter creates a writer rooted at root
func NewWriter(root string, mode Mode, log *logger.Logger) *Writer {
	w := &Writer{
		root:   root,
		mode:   mode,
		logger: log.Component("snapshot"),
		now:    time.Now,
	}
	if mode == ModeAsync {
		w.queue = make(chan func(), queueSize)
		w.done = make(chan struct{})
		go w.drain()
	}
	return w
}

// Root returns the snapshot directory
func (w *Writer) Root() string {
	return w.root
}

func (w *Writer) drain() {
	defer close(w.done)
	for job := range w.queue {
		job()
	}
}

// Close flushes pending async writes. Exports after Close are dropped.
func (w *Writer) Close() {
	w.once.Do(func() {
		if w.queue == nil {
			return
		}
		w.qmu.Lock()
		w.closed = true
		close(w.queue)
		w.qmu.Unlock()
		<-w.done
	})
}

// ExportPrices mirrors a price batch; failures are logged, never returned
func (w *Writer) ExportPrices(ctx context.Context, ticker, date string, prices []contracts.Price, source string) {
	w.dispatch(ticker, date, func() error {
		_, err := w.WritePrices(context.WithoutCancel(ctx), ticker, date, prices, source)
		return err
	})
}

// ExportFinancials mirrors metrics and line items; a nil slice keeps what is on disk
func (w *Writer) ExportFinancials(ctx context.Context, ticker, date string, metrics []contracts.FinancialMetrics, lineItems []contracts.LineItem, source string) {
	w.dispatch(ticker, date, func() error {
		_, err := w.WriteFinancials(context.WithoutCancel(ctx), ticker, date, metrics, lineItems, source)
		return err
	})
}

func (w *Writer) dispatch(ticker, date string, job func() error) {
	run := func() {
		defer func() {
			if r := recover(); r != nil {
				w.logger.WithFields(map[string]interface{}{"ticker": ticker, "date": date, "panic": r}).Warn("Snapshot write panicked")
			}
		}()
		if err := job(); err != nil {
			w.logger.WithError(err).WithFields(map[string]interface{}{"ticker": ticker, "date": date}).Warn("Snapshot write failed")
		}
	}

	if w.mode != ModeAsync {
		run()
		return
	}

	w.qmu.RLock()
	defer w.qmu.RUnlock()
	if w.closed {
		w.logger.WithFields(map[string]interface{}{"ticker": ticker, "date": date}).Warn("Snapshot writer closed, dropping write")
		return
	}
	select {
	case w.queue <- run:
	default:
		w.logger.WithFields(map[string]interface{}{"ticker": ticker, "date": date}).Warn("Snapshot queue full, dropping write")
	}
}

func (w *Writer) dir(ticker, date string) string {
	return filepath.Join(w.root, ticker, date)
}

// WritePrices writes prices.json unless the on-disk date set is identical. It reports whether a write happened.
func (w *Writer) WritePrices(ctx context.Context, ticker, date string, prices []contracts.Price, source string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	dir := w.dir(ticker, date)
	path := filepath.Join(dir, pricesFile)

	var existing []contracts.Price
	if ok, err := readJSON(path, &existing); err != nil {
		return false, wrap(err)
	} else if ok && equalKeys(priceKeys(existing), priceKeys(prices)) {
		return false, nil
	}

	if err := writeJSON(path, prices); err != nil {
		return false, wrap(err)
	}
	if err := w.finish(ctx, ticker, date, dir, source); err != nil {
		return true, err
	}
	return true, nil
}

// WriteFinancials merges into financials.json unless both period sets are unchanged
func (w *Writer) WriteFinancials(ctx context.Context, ticker, date string, metrics []contracts.FinancialMetrics, lineItems []contracts.LineItem, source string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	dir := w.dir(ticker, date)
	path := filepath.Join(dir, financialsFile)

	var current Financials
	found, err := readJSON(path, &current)
	if err != nil {
		return false, wrap(err)
	}

	next := current
	if metrics != nil {
		next.FinancialMetrics = metrics
	}
	if lineItems != nil {
		next.LineItems = lineItems
	}
	if next.FinancialMetrics == nil {
		next.FinancialMetrics = []contracts.FinancialMetrics{}
	}
	if next.LineItems == nil {
		next.LineItems = []contracts.LineItem{}
	}

	if found &&
		equalKeys(metricKeys(current.FinancialMetrics), metricKeys(next.FinancialMetrics)) &&
		equalKeys(lineItemKeys(current.LineItems), lineItemKeys(next.LineItems)) {
		return false, nil
	}

	if err := writeJSON(path, next); err != nil {
		return false, wrap(err)
	}
	if err := w.finish(ctx, ticker, date, dir, source); err != nil {
		return true, err
	}
	return true, nil
}

// finish regenerates summary.md and upserts the index entry
func (w *Writer) finish(ctx context.Context, ticker, date, dir, source string) error {
	if err := w.writeSummary(ticker, date, dir); err != nil {
		return wrap(err)
	}
	rel, err := filepath.Rel(w.root, dir)
	if err != nil {
		rel = dir
	}
	entry := IndexEntry{
		Ticker:       ticker,
		Date:         date,
		SnapshotPath: filepath.ToSlash(rel),
		CreatedAt:    w.now().UTC(),
		DataSource:   source,
	}
	if err := w.upsertIndex(ctx, entry); err != nil {
		return wrap(err)
	}

	w.logger.WithFields(map[string]interface{}{
		"ticker": ticker,
		"date":   date,
		"source": source,
	}).Debug("Snapshot written")
	return nil
}

// upsertIndex replaces the (ticker, date) entry in place or appends it, under the file lock
func (w *Writer) upsertIndex(ctx context.Context, entry IndexEntry) error {
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return err
	}

	lock := flock.New(filepath.Join(w.root, lockFile))
	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock index: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock index: not acquired")
	}
	defer func() { _ = lock.Unlock() }()

	path := filepath.Join(w.root, indexFile)
	var entries []IndexEntry
	if _, err := readJSON(path, &entries); err != nil {
		return err
	}

	replaced := false
	for i := range entries {
		if entries[i].Ticker == entry.Ticker && entries[i].Date == entry.Date {
			entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, entry)
	}
	return writeJSON(path, entries)
}

// Index reads index.json
func (w *Writer) Index(ctx context.Context) ([]IndexEntry, error) {
	lock := flock.New(filepath.Join(w.root, lockFile))
	if _, err := os.Stat(w.root); os.IsNotExist(err) {
		return []IndexEntry{}, nil
	}
	locked, err := lock.TryRLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("lock index: %w", err)
	}
	if locked {
		defer func() { _ = lock.Unlock() }()
	}

	entries := []IndexEntry{}
	if _, err := readJSON(filepath.Join(w.root, indexFile), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func wrap(err error) error {
	return fmt.Errorf("%w: %w", contracts.ErrSnapshotWrite, err)
}

// readJSON decodes path into v; a missing file reports false with no error
func readJSON(path string, v any) (bool, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

// writeJSON writes v as 2-space indented UTF-8 without HTML escaping, via a temp file and rename
func writeJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	return writeFile(path, buf.Bytes())
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func priceKeys(prices []contracts.Price) []string {
	keys := make([]string, len(prices))
	for i, p := range prices {
		keys[i] = p.Time
	}
	return sortedUnique(keys)
}

func metricKeys(metrics []contracts.FinancialMetrics) []string {
	keys := make([]string, len(metrics))
	for i, m := range metrics {
		keys[i] = m.NaturalKey()
	}
	return sortedUnique(keys)
}

func lineItemKeys(items []contracts.LineItem) []string {
	keys := make([]string, len(items))
	for i, item := range items {
		keys[i] = item.NaturalKey()
	}
	return sortedUnique(keys)
}

func sortedUnique(keys []string) []string {
	sort.Strings(keys)
	out := keys[:0]
	for i, k := range keys {
		if i == 0 || k != keys[i-1] {
			out = append(out, k)
		}
	}
	return out
}

func equalKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
