// Package market provides instrument metadata and local top-of-book state.
//
// Registry resolves operator-supplied instrument names against the venue's
// active contract list and caches per-instrument metadata (tick size, min
// size, base decimals, signing hash). BookCache mirrors the top of book per
// instrument, fed by WebSocket snapshots and refreshed over REST when
// stale.
package market

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"grvt-hedge/pkg/types"
)

// maxSuggestions bounds the alternatives offered for an unknown
// instrument name.
const maxSuggestions = 6

// MetadataSource fetches instrument definitions from the venue.
type MetadataSource interface {
	Instruments(ctx context.Context) ([]types.Instrument, error)
	Instrument(ctx context.Context, name string) (types.Instrument, error)
}

// Meta is one instrument's definition with its numeric fields parsed.
// SizeStep is the quantum orders are floored to: min_size when set, never
// finer than one base-decimals unit.
type Meta struct {
	Instrument   types.Instrument
	TickSize     decimal.Decimal
	MinSize      decimal.Decimal
	SizeStep     decimal.Decimal
	BaseDecimals int32
}

// Registry resolves instrument names and caches metadata.
type Registry struct {
	source MetadataSource
	logger *logrus.Entry

	mu    sync.RWMutex
	alias map[string]string // name / UPPER / lower variants to canonical
	cache map[string]Meta   // canonical name to parsed definition
	names []string          // sorted canonical names, for suggestions
}

// NewRegistry creates a registry backed by the given metadata source.
func NewRegistry(source MetadataSource, logger *logrus.Logger) *Registry {
	return &Registry{
		source: source,
		logger: logger.WithField("component", "market"),
		alias:  make(map[string]string),
		cache:  make(map[string]Meta),
	}
}

// Preload fetches the venue's active perpetual list and builds the alias
// map used for name resolution. Failure is tolerated: resolution then
// passes canonicalised names through unchecked, and metadata is fetched
// lazily per instrument.
func (r *Registry) Preload(ctx context.Context) {
	instruments, err := r.source.Instruments(ctx)
	if err != nil {
		r.logger.WithError(err).Warn("instrument preload failed, continuing without alias map")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inst := range instruments {
		name := strings.TrimSpace(inst.Instrument)
		if name == "" {
			continue
		}
		r.alias[name] = name
		r.alias[strings.ToUpper(name)] = name
		r.alias[strings.ToLower(name)] = name
		r.cache[name] = parseMeta(inst)
	}
	r.names = r.names[:0]
	seen := make(map[string]bool, len(r.alias))
	for _, canonical := range r.alias {
		if !seen[canonical] {
			seen[canonical] = true
			r.names = append(r.names, canonical)
		}
	}
	sort.Strings(r.names)
	r.logger.WithField("instruments", len(r.names)).Info("instrument definitions loaded")
}

// Canonicalize normalises an operator-supplied instrument name: trimmed,
// with a trailing _PERP (any case) rewritten to the venue's _Perp.
func Canonicalize(name string) string {
	name = strings.TrimSpace(name)
	if strings.HasSuffix(strings.ToUpper(name), "_PERP") {
		name = name[:len(name)-5] + "_Perp"
	}
	return name
}

// Resolve maps a raw instrument name onto its canonical venue name.
// Unknown names fail with up to six suggested alternatives. With an empty
// alias map (preload failed) the canonicalised name passes through.
func (r *Registry) Resolve(raw string) (string, error) {
	name := Canonicalize(raw)
	if name == "" {
		return "", fmt.Errorf("empty instrument name")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.alias) == 0 {
		return name, nil
	}

	resolved, ok := r.alias[name]
	if !ok {
		resolved, ok = r.alias[strings.ToUpper(name)]
	}
	if !ok {
		resolved, ok = r.alias[strings.ToLower(name)]
	}
	if !ok {
		if suggestions := r.suggestLocked(raw); len(suggestions) > 0 {
			return "", fmt.Errorf("unknown instrument %q, maybe: %s", raw, strings.Join(suggestions, ", "))
		}
		return "", fmt.Errorf("unknown instrument %q", raw)
	}

	if resolved != strings.TrimSpace(raw) {
		r.logger.WithFields(logrus.Fields{
			"raw":      raw,
			"resolved": resolved,
		}).Info("instrument name normalised")
	}
	return resolved, nil
}

// suggestLocked lists canonical names sharing the raw name's base token,
// prefix matches first. Caller holds at least the read lock.
func (r *Registry) suggestLocked(raw string) []string {
	token := strings.ToUpper(strings.SplitN(strings.TrimSpace(raw), "_", 2)[0])
	if token == "" {
		if len(r.names) <= maxSuggestions {
			return append([]string(nil), r.names...)
		}
		return append([]string(nil), r.names[:maxSuggestions]...)
	}

	prefix := token + "_"
	var suggestions []string
	for _, name := range r.names {
		if strings.HasPrefix(strings.ToUpper(name), prefix) {
			suggestions = append(suggestions, name)
		}
	}
	if len(suggestions) < maxSuggestions {
		for _, name := range r.names {
			if len(suggestions) >= maxSuggestions {
				break
			}
			if strings.Contains(strings.ToUpper(name), token) && !contains(suggestions, name) {
				suggestions = append(suggestions, name)
			}
		}
	}
	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}
	return suggestions
}

// Metadata returns the parsed definition for a canonical instrument name,
// fetching and caching it on first use.
func (r *Registry) Metadata(ctx context.Context, name string) (Meta, error) {
	r.mu.RLock()
	meta, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return meta, nil
	}

	inst, err := r.source.Instrument(ctx, name)
	if err != nil {
		return Meta{}, fmt.Errorf("fetch instrument %s: %w", name, err)
	}
	meta = parseMeta(inst)

	r.mu.Lock()
	r.cache[name] = meta
	r.mu.Unlock()
	return meta, nil
}

// parseMeta converts the wire definition's decimal strings. Unparseable
// tick sizes fall back to 0.1 so price rounding always has a grid.
func parseMeta(inst types.Instrument) Meta {
	tick, err := decimal.NewFromString(inst.TickSize)
	if err != nil || tick.Sign() <= 0 {
		tick = decimal.New(1, -1)
	}
	minSize, err := decimal.NewFromString(inst.MinSize)
	if err != nil || minSize.Sign() < 0 {
		minSize = decimal.Zero
	}

	quantum := decimal.New(1, -int32(inst.BaseDecimals))
	step := minSize
	if step.Sign() <= 0 || step.LessThan(quantum) {
		step = quantum
	}

	return Meta{
		Instrument:   inst,
		TickSize:     tick,
		MinSize:      minSize,
		SizeStep:     step,
		BaseDecimals: int32(inst.BaseDecimals),
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
