package normalize

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/gzhole/spendshield/internal/unicode"
)

var (
	// MinPrice and MaxPrice bound the accepted range: [MinPrice, MaxPrice).
	MinPrice = decimal.RequireFromString("0.50")
	MaxPrice = decimal.NewFromInt(50000)
)

var (
	currencyRegex     = regexp.MustCompile(`[£$€]|USD|GBP|EUR`)
	decimalCommaRegex = regexp.MustCompile(`,(\d{1,2})$`)
	thousandsRegex    = regexp.MustCompile(`,(\d{3})`)
	nonNumericRegex   = regexp.MustCompile(`[^0-9.]`)
	numberPrefixRegex = regexp.MustCompile(`^(\d+(\.\d+)?|\.\d+)`)
	spaceRegex        = regexp.MustCompile(`\s+`)
	domainRegex       = regexp.MustCompile(`^(?:[a-z][a-z0-9+.-]*://)?([^/\s'"?#]+)`)
)

// Price turns a raw price-like string into a decimal amount. It reports
// false when nothing numeric can be recovered or the value falls outside
// the plausible range.
func Price(raw string) (decimal.Decimal, bool) {
	s := currencyRegex.ReplaceAllString(raw, "")
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}

	// "1.299,99" and "12,5": the trailing comma group is the decimal part.
	if decimalCommaRegex.MatchString(s) {
		s = strings.NewReplacer(".", "", " ", "", "\u00a0", "").Replace(s)
		s = decimalCommaRegex.ReplaceAllString(s, ".$1")
	}

	s = thousandsRegex.ReplaceAllString(s, "$1")
	s = nonNumericRegex.ReplaceAllString(s, "")

	num := numberPrefixRegex.FindString(s)
	if num == "" {
		return decimal.Zero, false
	}
	if strings.HasPrefix(num, ".") {
		num = "0" + num
	}

	d, err := decimal.NewFromString(num)
	if err != nil {
		return decimal.Zero, false
	}
	if d.LessThan(MinPrice) || !d.LessThan(MaxPrice) {
		return decimal.Zero, false
	}
	return d, true
}

// PriceFloat is Price for values that arrive as JSON numbers.
func PriceFloat(f float64) (decimal.Decimal, bool) {
	d := decimal.NewFromFloat(f)
	if d.LessThan(MinPrice) || !d.LessThan(MaxPrice) {
		return decimal.Zero, false
	}
	return d, true
}

// Label collapses whitespace and drops invisible characters so button
// captions can be matched against patterns.
func Label(s string) string {
	s = unicode.Fold(unicode.Strip(s))
	return strings.TrimSpace(spaceRegex.ReplaceAllString(s, " "))
}

// Domain returns the lowercase host of a URL or bare host with any
// leading "www." removed.
func Domain(raw string) string {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return ""
	}

	host := ""
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		host = u.Hostname()
	} else if m := domainRegex.FindStringSubmatch(raw); len(m) > 1 {
		host = m[1]
		if i := strings.LastIndex(host, ":"); i > 0 && !strings.Contains(host, "]") {
			host = host[:i]
		}
	}

	return strings.TrimPrefix(host, "www.")
}

// HostMatches reports whether host equals key or is a subdomain of it.
func HostMatches(host, key string) bool {
	host = Domain(host)
	key = strings.ToLower(key)
	return host == key || strings.HasSuffix(host, "."+key)
}
