package policy

// Policy is the full set of pattern tables that drive detection and price
// extraction. Everything that varies by retailer lives here so it can be
// tuned from YAML without a rebuild.
type Policy struct {
	Version  string     `yaml:"version"`
	Checkout Checkout   `yaml:"checkout"`
	Prices   Prices     `yaml:"prices"`
	Sites    []SiteRule `yaml:"sites"`
}

// Checkout describes what a purchase action looks like on a page and on
// the wire.
type Checkout struct {
	// ButtonPatterns are case-insensitive regexes matched against the
	// collapsed label of an interactive element.
	ButtonPatterns []string `yaml:"button_patterns"`

	// ButtonSelectors choose which elements are considered interactive.
	ButtonSelectors []string `yaml:"button_selectors"`

	// CardFieldPatterns are matched against id, name, placeholder,
	// autocomplete and data-field of inputs.
	CardFieldPatterns []string `yaml:"card_field_patterns"`

	// URLPatterns decide whether an outgoing request is checkout-shaped.
	URLPatterns []string `yaml:"url_patterns"`
}

// Prices configures the weaker, site-agnostic extraction strategies.
type Prices struct {
	GenericSelectors []string `yaml:"generic_selectors"`
	StateContainers  []string `yaml:"state_containers"`
	KeyPatterns      []string `yaml:"key_patterns"`
}

// SiteRule pins price selectors to a registered domain. A rule for
// "amazon.co.uk" also covers "smile.amazon.co.uk".
type SiteRule struct {
	Domain    string   `yaml:"domain"`
	Selectors []string `yaml:"selectors"`
}
