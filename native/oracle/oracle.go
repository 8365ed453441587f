package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

// Quote captures an exchange rate for a currency pair along with the timestamp
// reported by the upstream source and the source identifier.
type Quote struct {
	Rate      *big.Rat
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q Quote) Clone() Quote {
	clone := Quote{Timestamp: q.Timestamp, Source: q.Source}
	if q.Rate != nil {
		clone.Rate = new(big.Rat).Set(q.Rate)
	}
	return clone
}

// RateString renders the rate using the supplied precision.
func (q Quote) RateString(precision int) string {
	if q.Rate == nil {
		return ""
	}
	if precision < 0 {
		precision = 18
	}
	return q.Rate.FloatString(precision)
}

// RateSource resolves an exchange rate for the provided base/quote pair.
type RateSource interface {
	Rate(base, quote string) (Quote, error)
}

// ErrNoFreshQuote indicates that no source produced a quote within the
// configured freshness window.
var ErrNoFreshQuote = errors.New("oracle: no fresh quote available")

// Aggregator consults registered sources in priority order until a fresh quote
// is obtained. Ledger valuations read through the aggregator on every call so
// administrative rewiring takes effect immediately.
type Aggregator struct {
	mu       sync.RWMutex
	priority []string
	sources  map[string]RateSource
	maxAge   time.Duration
}

// NewAggregator constructs an aggregator with the provided priority ordering
// and freshness window.
func NewAggregator(priority []string, maxAge time.Duration) *Aggregator {
	return &Aggregator{
		priority: append([]string{}, priority...),
		sources:  make(map[string]RateSource),
		maxAge:   maxAge,
	}
}

// SetMaxAge updates the freshness window used when filtering quotes.
func (a *Aggregator) SetMaxAge(maxAge time.Duration) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.maxAge = maxAge
	a.mu.Unlock()
}

// Register adds or replaces a source under the supplied identifier.
// Identifiers are stored in lowercase so lookups stay case-insensitive.
func (a *Aggregator) Register(name string, source RateSource) {
	if a == nil {
		return
	}
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sources[trimmed] = source
	for _, entry := range a.priority {
		if strings.EqualFold(entry, trimmed) {
			return
		}
	}
	a.priority = append(a.priority, trimmed)
}

// Rate fetches a rate respecting the priority ordering and freshness window.
// The returned quote is a defensive copy.
func (a *Aggregator) Rate(base, quote string) (Quote, error) {
	if a == nil {
		return Quote{}, fmt.Errorf("oracle aggregator not configured")
	}
	a.mu.RLock()
	priority := append([]string{}, a.priority...)
	maxAge := a.maxAge
	a.mu.RUnlock()

	baseSym := normaliseSymbol(base)
	quoteSym := normaliseSymbol(quote)
	if baseSym == "" || quoteSym == "" {
		return Quote{}, fmt.Errorf("oracle: base and quote required")
	}

	var lastErr error
	cutoff := time.Time{}
	if maxAge > 0 {
		cutoff = time.Now().Add(-maxAge)
	}

	for _, name := range priority {
		a.mu.RLock()
		source := a.sources[strings.ToLower(name)]
		a.mu.RUnlock()
		if source == nil {
			continue
		}
		q, err := source.Rate(baseSym, quoteSym)
		if err != nil {
			lastErr = err
			continue
		}
		if q.Rate == nil || q.Rate.Sign() <= 0 {
			lastErr = fmt.Errorf("oracle %s returned invalid rate", name)
			continue
		}
		if maxAge > 0 && q.Timestamp.Before(cutoff) {
			lastErr = ErrNoFreshQuote
			continue
		}
		result := q.Clone()
		if strings.TrimSpace(result.Source) == "" {
			result.Source = strings.ToLower(name)
		}
		return result, nil
	}

	if lastErr == nil {
		lastErr = ErrNoFreshQuote
	}
	return Quote{}, lastErr
}

// ManualOracle provides an in-memory source used for tests and manual
// overrides during incident response.
type ManualOracle struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewManualOracle constructs an empty manual oracle instance.
func NewManualOracle() *ManualOracle {
	return &ManualOracle{quotes: make(map[string]Quote)}
}

func manualKey(base, quote string) string {
	return normaliseSymbol(base) + "_" + normaliseSymbol(quote)
}

// SetDecimal records the supplied decimal rate for the pair.
func (m *ManualOracle) SetDecimal(base, quote, rate string, ts time.Time) error {
	if m == nil {
		return fmt.Errorf("manual oracle not configured")
	}
	trimmed := strings.TrimSpace(rate)
	if trimmed == "" {
		return fmt.Errorf("manual oracle: rate required")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return fmt.Errorf("manual oracle: invalid rate %q", rate)
	}
	if rat.Sign() <= 0 {
		return fmt.Errorf("manual oracle: rate must be positive")
	}
	m.Set(base, quote, rat, ts)
	return nil
}

// Set stores the provided rational rate for the pair.
func (m *ManualOracle) Set(base, quote string, rate *big.Rat, ts time.Time) {
	if m == nil || rate == nil {
		return
	}
	key := manualKey(base, quote)
	m.mu.Lock()
	stored := Quote{Timestamp: ts, Source: "manual"}
	stored.Rate = new(big.Rat).Set(rate)
	m.quotes[key] = stored
	m.mu.Unlock()
}

// Rate retrieves the stored rate for the pair.
func (m *ManualOracle) Rate(base, quote string) (Quote, error) {
	if m == nil {
		return Quote{}, fmt.Errorf("manual oracle not configured")
	}
	key := manualKey(base, quote)
	m.mu.RLock()
	stored, ok := m.quotes[key]
	m.mu.RUnlock()
	if !ok {
		return Quote{}, fmt.Errorf("manual oracle: quote for %s/%s not found", base, quote)
	}
	return stored.Clone(), nil
}

func normaliseSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
