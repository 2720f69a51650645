package policy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gzhole/spendshield/internal/normalize"
)

// Matcher is a compiled Policy. It is immutable and safe for concurrent
// use.
type Matcher struct {
	policy  *Policy
	buttons []*regexp.Regexp
	cards   []*regexp.Regexp
	urls    []*regexp.Regexp
	keys    []*regexp.Regexp
}

// Compile validates every pattern in p. All patterns are matched
// case-insensitively.
func Compile(p *Policy) (*Matcher, error) {
	m := &Matcher{policy: p}
	var err error
	if m.buttons, err = compileAll("checkout.button_patterns", p.Checkout.ButtonPatterns); err != nil {
		return nil, err
	}
	if m.cards, err = compileAll("checkout.card_field_patterns", p.Checkout.CardFieldPatterns); err != nil {
		return nil, err
	}
	if m.urls, err = compileAll("checkout.url_patterns", p.Checkout.URLPatterns); err != nil {
		return nil, err
	}
	if m.keys, err = compileAll("prices.key_patterns", p.Prices.KeyPatterns); err != nil {
		return nil, err
	}
	return m, nil
}

// MustCompile is Compile for policies known to be valid, such as
// DefaultPolicy.
func MustCompile(p *Policy) *Matcher {
	m, err := Compile(p)
	if err != nil {
		panic(err)
	}
	return m
}

func compileAll(field string, patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for i, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("%s[%d] %q: %w", field, i, p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Policy returns the source policy.
func (m *Matcher) Policy() *Policy { return m.policy }

// IsCheckoutLabel reports whether an element caption reads like a
// purchase action.
func (m *Matcher) IsCheckoutLabel(label string) bool {
	label = strings.TrimSpace(label)
	if label == "" {
		return false
	}
	return anyMatch(m.buttons, label)
}

// IsCardField reports whether any of the given input descriptors (id,
// name, placeholder and so on) names a card number field.
func (m *Matcher) IsCardField(descriptors ...string) bool {
	for _, d := range descriptors {
		if d != "" && anyMatch(m.cards, d) {
			return true
		}
	}
	return false
}

// IsCheckoutURL reports whether a request target looks like it submits a
// purchase.
func (m *Matcher) IsCheckoutURL(u string) bool {
	return u != "" && anyMatch(m.urls, u)
}

// IsPriceKey reports whether a state blob member name holds a price.
func (m *Matcher) IsPriceKey(key string) bool {
	return anyMatch(m.keys, key)
}

// SiteRule returns the first rule whose domain covers host.
func (m *Matcher) SiteRule(host string) (SiteRule, bool) {
	for _, s := range m.policy.Sites {
		if normalize.HostMatches(host, s.Domain) {
			return s, true
		}
	}
	return SiteRule{}, false
}

// ButtonSelector is the union of interactive-element selectors.
func (m *Matcher) ButtonSelector() string {
	return strings.Join(m.policy.Checkout.ButtonSelectors, ", ")
}

func (m *Matcher) GenericSelectors() []string { return m.policy.Prices.GenericSelectors }

func (m *Matcher) StateContainers() []string { return m.policy.Prices.StateContainers }

func anyMatch(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
