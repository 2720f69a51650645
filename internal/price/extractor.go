package price

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/gzhole/spendshield/internal/policy"
)

// Strategy is one way of finding prices. Implementations may assume
// nothing about the page and are free to panic; the Extractor contains it.
type Strategy interface {
	Name() string
	Extract(in *Input) []Candidate
}

// Extractor runs strategies in priority order and concatenates their
// candidates.
type Extractor struct {
	strategies []Strategy
	log        *zap.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

func WithLogger(l *zap.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.log = l
		}
	}
}

// WithStrategies replaces the default strategy list.
func WithStrategies(s ...Strategy) Option {
	return func(e *Extractor) { e.strategies = s }
}

// NewExtractor creates an extractor with the standard strategies driven by
// m.
func NewExtractor(m *policy.Matcher, opts ...Option) *Extractor {
	e := &Extractor{
		strategies: DefaultStrategies(m),
		log:        zap.NewNop(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// DefaultStrategies lists every built-in strategy, strongest first.
func DefaultStrategies(m *policy.Matcher) []Strategy {
	return []Strategy{
		&SiteRuleStrategy{Matcher: m},
		&StructuredDataStrategy{},
		&MetaTagStrategy{},
		&DataAttributeStrategy{},
		&GenericSelectorStrategy{Matcher: m},
		&ProximityStrategy{Matcher: m},
		&EmbeddedStateStrategy{Matcher: m},
	}
}

// Extract never fails. A strategy that panics contributes nothing.
func (e *Extractor) Extract(in *Input) []Candidate {
	var all []Candidate
	for _, s := range e.strategies {
		all = append(all, e.run(s, in)...)
	}
	return all
}

// Rank is Extract followed by Aggregate.
func (e *Extractor) Rank(in *Input) []Ranked {
	return Aggregate(e.Extract(in))
}

func (e *Extractor) run(s Strategy, in *Input) (out []Candidate) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Debug("price strategy failed",
				zap.String("strategy", s.Name()),
				zap.String("panic", fmt.Sprint(r)))
			out = nil
		}
	}()
	return s.Extract(in)
}

// Strategies returns the configured strategies.
func (e *Extractor) Strategies() []Strategy { return e.strategies }
