// Package price infers the amount a shopper is about to pay from whatever
// the page exposes: retailer-specific markup, structured data, generic
// price styling, text near the buy button and client-side state.
package price

import (
	"github.com/shopspring/decimal"

	"github.com/gzhole/spendshield/internal/jsonv"
	"github.com/gzhole/spendshield/internal/normalize"
	"github.com/gzhole/spendshield/internal/page"
)

// Source names the strategy that produced a candidate.
type Source string

const (
	SourceSiteRule       Source = "site-rule"
	SourceStructuredData Source = "structured-data"
	SourceMetaTag        Source = "meta-tag"
	SourceDataAttribute  Source = "data-attribute"
	SourceGeneric        Source = "generic-selector"
	SourceProximity      Source = "proximity-to-action"
	SourceEmbedded       Source = "embedded-data"
)

// Confidence ranks how authoritative a source is.
type Confidence int

const (
	Weak   Confidence = 1
	Medium Confidence = 2
	Strong Confidence = 3
)

func (c Confidence) String() string {
	switch c {
	case Weak:
		return "weak"
	case Medium:
		return "medium"
	case Strong:
		return "strong"
	}
	return "unknown"
}

// Candidate is one observed price.
type Candidate struct {
	Value      decimal.Decimal `json:"value"`
	Source     Source          `json:"source"`
	Label      string          `json:"label"`
	Confidence Confidence      `json:"confidence"`
}

// Input is everything a strategy may look at. Doc may be nil when only a
// request payload is available.
type Input struct {
	Doc  *page.Document
	Host string

	// Globals are named page-level state objects such as __NEXT_DATA__.
	Globals map[string]*jsonv.Value

	// Payloads are extra JSON documents to mine, e.g. an intercepted
	// request body.
	Payloads []*jsonv.Value
}

// InputFromDocument builds an Input for a live page.
func InputFromDocument(d *page.Document) *Input {
	return &Input{
		Doc:     d,
		Host:    normalize.Domain(d.Host()),
		Globals: d.Globals(),
	}
}

// collector normalizes raw strings into candidates.
type collector struct {
	out []Candidate
}

func (c *collector) add(raw string, src Source, label string, conf Confidence) {
	v, ok := normalize.Price(raw)
	if !ok {
		return
	}
	c.out = append(c.out, Candidate{Value: v, Source: src, Label: label, Confidence: conf})
}
