package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a policy file. A missing file yields DefaultPolicy. Sections
// left empty in the file fall back to the defaults for that section.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultPolicy(), nil
		}
		return nil, err
	}

	var policy Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy %s: %w", path, err)
	}

	fillDefaults(&policy)
	return &policy, nil
}

func fillDefaults(p *Policy) {
	def := DefaultPolicy()
	if p.Version == "" {
		p.Version = def.Version
	}
	if len(p.Checkout.ButtonPatterns) == 0 {
		p.Checkout.ButtonPatterns = def.Checkout.ButtonPatterns
	}
	if len(p.Checkout.ButtonSelectors) == 0 {
		p.Checkout.ButtonSelectors = def.Checkout.ButtonSelectors
	}
	if len(p.Checkout.CardFieldPatterns) == 0 {
		p.Checkout.CardFieldPatterns = def.Checkout.CardFieldPatterns
	}
	if len(p.Checkout.URLPatterns) == 0 {
		p.Checkout.URLPatterns = def.Checkout.URLPatterns
	}
	if len(p.Prices.GenericSelectors) == 0 {
		p.Prices.GenericSelectors = def.Prices.GenericSelectors
	}
	if len(p.Prices.StateContainers) == 0 {
		p.Prices.StateContainers = def.Prices.StateContainers
	}
	if len(p.Prices.KeyPatterns) == 0 {
		p.Prices.KeyPatterns = def.Prices.KeyPatterns
	}
	if p.Sites == nil {
		p.Sites = def.Sites
	}
}

func DefaultPolicy() *Policy {
	return &Policy{
		Version: "0.1",
		Checkout: Checkout{
			ButtonPatterns: []string{
				`place\s*order`, `complete\s*purchase`, `pay\s*(now|today|£|\$|€)`,
				`confirm\s*(and\s*)?(pay|order|purchase)`, `buy\s*(now|it\s*now)`,
				`^purchase$`, `checkout`, `check\s*out`,
				`submit\s*order`, `finish\s*purchase`,
				`proceed\s*to\s*(pay|checkout)`, `make\s*payment`, `confirm\s*payment`,
				`add\s*to\s*bag`, `order\s*now`, `purchase\s*now`,
				`continue\s*to\s*(pay|checkout|payment)`, `complete\s*order`,
				`review\s*(and\s*)?pay`, `subscribe\s*(and\s*pay)?`,
				`^add\s*to\s*cart$`, `reserve\s*now`,
				`book\s*(now|and\s*pay)`, `confirm\s*(booking|reservation)`,
			},
			ButtonSelectors: []string{
				`button`, `input[type="submit"]`, `input[type="button"]`,
				`a[role="button"]`, `div[role="button"]`, `span[role="button"]`, `[role="button"]`,
				`a.btn`, `.checkout-btn`,
				`[data-testid*="buy"]`, `[data-testid*="checkout"]`, `[data-testid*="purchase"]`,
				`[class*="checkout"]`, `[class*="buy-now"]`, `[class*="buynow"]`, `[class*="place-order"]`,
				`[id*="buy-now"]`, `[id*="checkout"]`, `[id*="place-order"]`,
			},
			CardFieldPatterns: []string{
				`card.*(number|num|no)`, `credit.*card`, `debit.*card`,
				`ccnumber`, `cc-number`, `cardnumber`, `card-number`, `pan\b`,
			},
			URLPatterns: []string{
				`checkout|payment|order|purchase|cart/submit|place[-_]?order|pay\b`,
			},
		},
		Prices: Prices{
			GenericSelectors: []string{
				`[class*="sale-price"]:not([class*="was"])`, `[class*="offer-price"]`, `[class*="final-price"]`,
				`[class*="current-price"]`, `[class*="selling-price"]`,
				`[class*="product-price"]:not([class*="was"]):not([class*="old"])`, `[id*="product-price"]`,
				`.price ins .woocommerce-Price-amount`, `.woocommerce-Price-amount`,
				`[data-price-type="finalPrice"] .price`, `.price-wrapper .price`,
				`[class*="price__current"]`, `.product__price`,
				`.current-price-value`, `#our_price_display`,
			},
			StateContainers: []string{
				"__NEXT_DATA__", "__INITIAL_STATE__", "__PRELOADED_STATE__",
				"__APP_STATE__", "__NUXT__", "pageData", "utag_data",
			},
			KeyPatterns: []string{
				`^(price|sale_?price|current_?price|selling_?price|offer_?price|unit_?price|final_?price|buy_?price|amount)$`,
			},
		},
		Sites: defaultSites(),
	}
}

func defaultSites() []SiteRule {
	return []SiteRule{
		{"ebay.co.uk", []string{`.x-price-primary [class*="textspans"]:first-child`, `.x-price-approx__price`}},
		{"ebay.com", []string{`.x-price-primary [class*="textspans"]:first-child`}},
		{"amazon.co.uk", []string{`.a-price .a-offscreen`, `#corePriceDisplay_desktop_feature_div .a-price-whole`, `#priceblock_ourprice`}},
		{"amazon.com", []string{`.a-price .a-offscreen`, `#corePriceDisplay_desktop_feature_div .a-price-whole`}},
		{"asos.com", []string{`[data-testid="current-price"]`, `[class*="current-price"]`}},
		{"argos.co.uk", []string{`[data-test="product-price"] strong`, `[class*="ProductPrice"]`}},
		{"next.co.uk", []string{`[class*="Price-module__price"]`, `[class*="styled__Price"]`}},
		{"johnlewis.com", []string{`[data-testid="product-price"]`, `[class*="price-module_price"]`}},
		{"currys.co.uk", []string{`[class*="price__main"]`, `[data-component="price"]`}},
		{"very.co.uk", []string{`[class*="product-price__current"]`, `.productPrice`}},
		{"boots.com", []string{`[class*="product-price"]`, `[data-testid="price"]`}},
		{"marksandspencer.com", []string{`[data-testid="price"]`, `[class*="price-value"]`}},
		{"hm.com", []string{`[class*="price-value"]`, `[class*="ProductPrice"]`}},
		{"zara.com", []string{`[class*="price-current"]`, `[class*="money-amount__main"]`}},
		{"ikea.com", []string{`[class*="pip-price__integer"]`, `.pip-price`}},
		{"etsy.com", []string{`[data-testid="price-only"] .currency-value`, `[class*="currency-value"]`}},
		{"wayfair.co.uk", []string{`[class*="SFPrice"]`, `[data-enzyme-id="PriceBlock"] [class*="price"]`}},
		{"screwfix.com", []string{`[class*="price"]`, `[data-testid="product-price"]`}},
		{"diy.com", []string{`[data-testid="product-price"]`, `[class*="productPrice"]`}},
		{"booking.com", []string{`[data-testid="price-and-discounted-price"]`}},
		{"sportsdirect.com", []string{`#dnn_ctr1524_View_lblSellingPrice`, `[class*="productPrice"]`}},
		{"halfords.com", []string{`[class*="price__value"]`, `[data-testid="product-price"]`}},
		{"dunelm.com", []string{`[class*="Price__"]`, `[data-testid="product-price"]`}},
		{"gymshark.com", []string{`[data-testid="product-price"]`, `[class*="ProductPrice"]`}},
		{"nike.com", []string{`[data-testid="product-price"]`}},
		{"adidas.co.uk", []string{`[class*="gl-price__value--sale"]`, `[class*="gl-price__value"]`}},
		{"apple.com", []string{`[data-autom="product-price"]`, `[class*="current_price"]`}},
		{"game.co.uk", []string{`[class*="product-price__value"]`}},
		{"sainsburys.co.uk", []string{`[data-testid="product-price-value"]`, `[class*="pd__cost"]`}},
		{"tesco.com", []string{`[data-auto="price-value"]`}},
		{"ao.com", []string{`[class*="c-product-price__value"]`}},
		{"toolstation.com", []string{`[class*="price-inc-vat"]`}},
		{"wickes.co.uk", []string{`[class*="price__"]`}},
	}
}
