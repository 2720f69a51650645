package price

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gzhole/spendshield/internal/jsonv"
	"github.com/gzhole/spendshield/internal/normalize"
	"github.com/gzhole/spendshield/internal/page"
	"github.com/gzhole/spendshield/internal/policy"
)

// firstOutsideUI returns the first match for selector, or nil if that
// match belongs to the engine's own UI.
func firstOutsideUI(d *page.Document, selector string) *page.Element {
	el := d.First(selector)
	if el == nil || el.InOwnUI() {
		return nil
	}
	return el
}

func contentOrText(el *page.Element) string {
	if c := el.Attr("content"); c != "" {
		return c
	}
	return el.Text()
}

// SiteRuleStrategy applies selectors pinned to the current retailer.
type SiteRuleStrategy struct {
	Matcher *policy.Matcher
}

func (s *SiteRuleStrategy) Name() string { return string(SourceSiteRule) }

func (s *SiteRuleStrategy) Extract(in *Input) []Candidate {
	if in.Doc == nil || s.Matcher == nil {
		return nil
	}
	rule, ok := s.Matcher.SiteRule(in.Host)
	if !ok {
		return nil
	}
	var c collector
	label := fmt.Sprintf("site CSS (%s)", rule.Domain)
	for _, sel := range rule.Selectors {
		if el := firstOutsideUI(in.Doc, sel); el != nil {
			c.add(contentOrText(el), SourceSiteRule, label, Strong)
		}
	}
	return c.out
}

// StructuredDataStrategy reads schema.org offers from JSON-LD blocks.
type StructuredDataStrategy struct{}

func (s *StructuredDataStrategy) Name() string { return string(SourceStructuredData) }

const maxLDDepth = 64

func (s *StructuredDataStrategy) Extract(in *Input) []Candidate {
	if in.Doc == nil {
		return nil
	}
	var c collector
	for _, script := range in.Doc.Find(`script[type="application/ld+json"]`) {
		v, err := jsonv.Parse([]byte(script.Text()))
		if err != nil {
			continue
		}
		digLD(&c, v, 0)
	}
	return c.out
}

func digLD(c *collector, v *jsonv.Value, depth int) {
	if v == nil || depth > maxLDDepth {
		return
	}
	switch v.Kind {
	case jsonv.Object:
		offers := v.Get("offers")
		for _, p := range []*jsonv.Value{v.Get("lowPrice"), v.Get("price"), offers.Get("lowPrice"), offers.Get("price")} {
			if !p.Present() {
				continue
			}
			if raw, ok := p.Scalar(); ok {
				c.add(raw, SourceStructuredData, "structured data (JSON-LD)", Strong)
			}
			break
		}
		for _, m := range v.Members {
			digLD(c, m.Value, depth+1)
		}
	case jsonv.Array:
		for _, item := range v.Items {
			digLD(c, item, depth+1)
		}
	}
}

// MetaTagStrategy reads price meta tags such as og:price:amount.
type MetaTagStrategy struct{}

func (s *MetaTagStrategy) Name() string { return string(SourceMetaTag) }

func (s *MetaTagStrategy) Extract(in *Input) []Candidate {
	if in.Doc == nil {
		return nil
	}
	var c collector
	for _, m := range in.Doc.Find(`meta[property*="price"], meta[name*="price"]`) {
		c.add(m.Attr("content"), SourceMetaTag, "meta tag", Strong)
	}
	return c.out
}

// DataAttributeStrategy reads prices stored in data-* attributes and
// microdata.
type DataAttributeStrategy struct{}

func (s *DataAttributeStrategy) Name() string { return string(SourceDataAttribute) }

var dataPriceAttrs = []string{"data-price", "data-buy-price", "data-final-price", "data-product-price", "data-sale-price", "content"}

func (s *DataAttributeStrategy) Extract(in *Input) []Candidate {
	if in.Doc == nil {
		return nil
	}
	var c collector
	sel := `[data-price],[data-buy-price],[data-final-price],[data-product-price],[data-sale-price],[itemprop="price"]`
	for _, el := range in.Doc.Find(sel) {
		if el.InOwnUI() {
			continue
		}
		raw := ""
		for _, a := range dataPriceAttrs {
			if raw = el.Attr(a); raw != "" {
				break
			}
		}
		if raw == "" {
			raw = el.Text()
		}
		c.add(raw, SourceDataAttribute, "data attribute", Strong)
	}
	return c.out
}

// GenericSelectorStrategy tries class and id conventions common to shop
// platforms.
type GenericSelectorStrategy struct {
	Matcher *policy.Matcher
}

func (s *GenericSelectorStrategy) Name() string { return string(SourceGeneric) }

func (s *GenericSelectorStrategy) Extract(in *Input) []Candidate {
	if in.Doc == nil || s.Matcher == nil {
		return nil
	}
	var c collector
	for _, sel := range s.Matcher.GenericSelectors() {
		if el := firstOutsideUI(in.Doc, sel); el != nil {
			c.add(contentOrText(el), SourceGeneric, "CSS selector", Medium)
		}
	}
	return c.out
}

// currencyAmountRegex finds "£12.99", "$ 1,299" or "12,99 €" in free text.
var currencyAmountRegex = regexp.MustCompile(`(?:£|\$|€|USD|GBP|EUR)\s?(\d{1,6}(?:[,\s]\d{3})*(?:[.,]\d{1,2})?)|(\d{1,6}(?:[,\s]\d{3})*(?:[.,]\d{2}))\s?(?:£|\$|€|USD|GBP|EUR)`)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// maxProximityAncestors bounds how far above a checkout button the
// strategy looks for price text.
const maxProximityAncestors = 4

// ProximityStrategy reads currency amounts printed around checkout
// buttons.
type ProximityStrategy struct {
	Matcher *policy.Matcher
}

func (s *ProximityStrategy) Name() string { return string(SourceProximity) }

func (s *ProximityStrategy) Extract(in *Input) []Candidate {
	if in.Doc == nil || s.Matcher == nil {
		return nil
	}
	var c collector
	for _, btn := range in.Doc.Find(`button, input[type="submit"], [role="button"]`) {
		if btn.InOwnUI() {
			continue
		}
		text := btn.Text()
		if strings.TrimSpace(text) == "" {
			text = btn.Value()
		}
		if !s.Matcher.IsCheckoutLabel(normalize.Label(text)) {
			continue
		}
		el := btn
		for i := 0; i < maxProximityAncestors; i++ {
			if el = el.Parent(); el == nil {
				break
			}
			for _, m := range currencyAmountRegex.FindAllStringSubmatch(el.Text(), -1) {
				raw := m[1]
				if raw == "" {
					raw = m[2]
				}
				c.add(whitespaceRegex.ReplaceAllString(raw, ""), SourceProximity, "near checkout button", Medium)
			}
		}
	}
	return c.out
}

// EmbeddedStateStrategy mines client-side state containers and request
// payloads for members named like prices.
type EmbeddedStateStrategy struct {
	Matcher *policy.Matcher
	Limits  jsonv.Limits
}

func (s *EmbeddedStateStrategy) Name() string { return string(SourceEmbedded) }

func (s *EmbeddedStateStrategy) Extract(in *Input) []Candidate {
	if s.Matcher == nil {
		return nil
	}
	lim := s.Limits
	if lim.MaxDepth == 0 {
		lim = jsonv.DefaultLimits
	}

	var c collector
	mine := func(root *jsonv.Value, label string) {
		jsonv.Walk(root, lim, func(key string, v *jsonv.Value) {
			if !s.Matcher.IsPriceKey(key) {
				return
			}
			if raw, ok := v.Scalar(); ok {
				c.add(raw, SourceEmbedded, label, Weak)
			}
		})
	}

	for _, name := range s.Matcher.StateContainers() {
		if v := in.Globals[name]; v != nil {
			mine(v, fmt.Sprintf("page state (%s)", name))
		}
	}
	for _, p := range in.Payloads {
		mine(p, "request payload")
	}
	return c.out
}
