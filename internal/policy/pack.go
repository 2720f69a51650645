package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Pack adds retailer coverage or vocabulary on top of a base policy.
// We avoid yaml:",inline" because Policy also has a `version` field.
type Pack struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	PackVersion string     `yaml:"version"`
	Author      string     `yaml:"author"`
	Checkout    Checkout   `yaml:"checkout"`
	Prices      Prices     `yaml:"prices"`
	Sites       []SiteRule `yaml:"sites"`
}

// PackInfo is a summary of a pack for listing.
type PackInfo struct {
	Name        string
	Description string
	Version     string
	Author      string
	Enabled     bool
	Path        string
	SiteCount   int
	Error       string
}

// LoadPacks reads all .yaml files from packsDir and merges them into the
// base policy. Pattern lists are unioned. Site rules for a domain already
// in the base gain the pack's selectors after the existing ones; new
// domains are appended. Files whose name starts with "_" are listed but
// not merged.
func LoadPacks(packsDir string, base *Policy) (*Policy, []PackInfo, error) {
	var infos []PackInfo

	entries, err := os.ReadDir(packsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil, nil
		}
		return nil, nil, err
	}

	result := clonePolicy(base)

	for _, entry := range entries {
		if entry.IsDir() || !isYAMLFile(entry.Name()) {
			continue
		}

		path := filepath.Join(packsDir, entry.Name())
		baseName := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		enabled := !strings.HasPrefix(baseName, "_")

		pack, err := loadPack(path)
		if err != nil {
			infos = append(infos, PackInfo{
				Name:    baseName,
				Enabled: enabled,
				Path:    path,
				Error:   err.Error(),
			})
			continue
		}

		info := PackInfo{
			Name:        pack.Name,
			Description: pack.Description,
			Version:     pack.PackVersion,
			Author:      pack.Author,
			Enabled:     enabled,
			Path:        path,
			SiteCount:   len(pack.Sites),
		}
		if info.Name == "" {
			info.Name = baseName
		}
		infos = append(infos, info)

		if !enabled {
			continue
		}
		mergePackInto(result, pack)
	}

	return result, infos, nil
}

func loadPack(path string) (*Pack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var pack Pack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("failed to parse pack %s: %w", path, err)
	}
	return &pack, nil
}

func mergePackInto(target *Policy, pack *Pack) {
	target.Checkout.ButtonPatterns = union(target.Checkout.ButtonPatterns, pack.Checkout.ButtonPatterns)
	target.Checkout.ButtonSelectors = union(target.Checkout.ButtonSelectors, pack.Checkout.ButtonSelectors)
	target.Checkout.CardFieldPatterns = union(target.Checkout.CardFieldPatterns, pack.Checkout.CardFieldPatterns)
	target.Checkout.URLPatterns = union(target.Checkout.URLPatterns, pack.Checkout.URLPatterns)
	target.Prices.GenericSelectors = union(target.Prices.GenericSelectors, pack.Prices.GenericSelectors)
	target.Prices.StateContainers = union(target.Prices.StateContainers, pack.Prices.StateContainers)
	target.Prices.KeyPatterns = union(target.Prices.KeyPatterns, pack.Prices.KeyPatterns)

	for _, site := range pack.Sites {
		domain := strings.ToLower(strings.TrimPrefix(site.Domain, "www."))
		merged := false
		for i := range target.Sites {
			if strings.EqualFold(target.Sites[i].Domain, domain) {
				target.Sites[i].Selectors = union(target.Sites[i].Selectors, site.Selectors)
				merged = true
				break
			}
		}
		if !merged {
			target.Sites = append(target.Sites, SiteRule{Domain: domain, Selectors: append([]string(nil), site.Selectors...)})
		}
	}
}

func union(dst, src []string) []string {
	seen := make(map[string]bool, len(dst))
	for _, s := range dst {
		seen[s] = true
	}
	for _, s := range src {
		if !seen[s] {
			seen[s] = true
			dst = append(dst, s)
		}
	}
	return dst
}

func clonePolicy(p *Policy) *Policy {
	clone := &Policy{Version: p.Version}

	clone.Checkout = Checkout{
		ButtonPatterns:    append([]string(nil), p.Checkout.ButtonPatterns...),
		ButtonSelectors:   append([]string(nil), p.Checkout.ButtonSelectors...),
		CardFieldPatterns: append([]string(nil), p.Checkout.CardFieldPatterns...),
		URLPatterns:       append([]string(nil), p.Checkout.URLPatterns...),
	}
	clone.Prices = Prices{
		GenericSelectors: append([]string(nil), p.Prices.GenericSelectors...),
		StateContainers:  append([]string(nil), p.Prices.StateContainers...),
		KeyPatterns:      append([]string(nil), p.Prices.KeyPatterns...),
	}

	clone.Sites = make([]SiteRule, len(p.Sites))
	for i, s := range p.Sites {
		clone.Sites[i] = SiteRule{Domain: s.Domain, Selectors: append([]string(nil), s.Selectors...)}
	}
	return clone
}

func isYAMLFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
