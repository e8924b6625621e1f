// Package extract pulls named fields out of loaded HTML using ordered selector
// fallbacks. The extraction policy is data (a RuleSet), not control flow.
package extract

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
)

// NotAvailable is returned for a field when every rule came up empty.
const NotAvailable = "N/A"

// Rule is one selector attempt. An empty Selector targets the current
// selection itself, which is useful inside ExtractItems. When Attr is set the
// attribute value is read instead of the element text.
type Rule struct {
	Selector string `json:"selector"`
	Attr     string `json:"attr,omitempty"`
}

// FieldRules lists the rules for one logical field, most specific first.
type FieldRules struct {
	Field string `json:"field"`
	Rules []Rule `json:"rules"`
}

type RuleSet []FieldRules

// LoadRuleSet reads a JSON rule set, e.g. to retarget the scraper without a
// rebuild.
func LoadRuleSet(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rs RuleSet
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse rule set %s: %w", path, err)
	}
	return rs, nil
}

// Finder is satisfied by *goquery.Document and *goquery.Selection.
type Finder interface {
	Find(selector string) *goquery.Selection
}

// Extract resolves every field in rules against root. It never fails: a field
// whose rules all return empty text maps to NotAvailable.
func Extract(root Finder, rules RuleSet) map[string]string {
	out := make(map[string]string, len(rules))
	for _, fr := range rules {
		out[fr.Field] = First(root, fr.Rules)
	}
	return out
}

// First returns the value of the first rule whose trimmed result is
// non-empty, or NotAvailable. Element text is cleaned; attribute values such
// as URLs and datetimes are only trimmed.
func First(root Finder, rules []Rule) string {
	for _, rule := range rules {
		sel := resolve(root, rule.Selector)
		if sel == nil || sel.Length() == 0 {
			continue
		}
		if rule.Attr != "" {
			raw, _ := sel.Attr(rule.Attr)
			if v := strings.TrimSpace(raw); v != "" {
				return v
			}
			continue
		}
		trimmed := strings.TrimSpace(sel.Text())
		if trimmed == "" {
			continue
		}
		if cleaned := Clean(trimmed); cleaned != "" {
			return cleaned
		}
		return trimmed
	}
	return NotAvailable
}

func resolve(root Finder, selector string) *goquery.Selection {
	if selector == "" {
		switch v := root.(type) {
		case *goquery.Selection:
			return v.First()
		case *goquery.Document:
			return v.Selection
		}
		return nil
	}
	return root.Find(selector).First()
}

// ExtractItems extracts one field map per element matching itemSelector.
// Items whose key field is missing, looks like site chrome, or exactly repeats
// an item already collected in this batch are skipped.
func ExtractItems(doc Finder, itemSelector string, rules RuleSet, key string) []map[string]string {
	var items []map[string]string
	seen := make(map[string]struct{})
	doc.Find(itemSelector).Each(func(_ int, s *goquery.Selection) {
		fields := Extract(s, rules)
		primary := fields[key]
		if primary == "" || primary == NotAvailable || IsNavigationText(primary) {
			return
		}
		if _, dup := seen[primary]; dup {
			return
		}
		seen[primary] = struct{}{}
		items = append(items, fields)
	})
	return items
}

var (
	agoUnit     = `(?:seconds?|secs?|minutes?|mins?|hours?|hrs?|days?|weeks?)`
	bylineRE    = regexp.MustCompile(`(?i)\bby\s+(?:\S+\s+){1,4}?\d+\s*` + agoUnit + `\s+ago\b`)
	agoRE       = regexp.MustCompile(`(?i)\b\d+\s*` + agoUnit + `\s+ago\b`)
	dotsRE      = regexp.MustCompile(`(?:\.{2,}|…)+`)
	spaceRE     = regexp.MustCompile(`\s+`)
	danglingSep = regexp.MustCompile(`(?:\s+[-–—|·•])+$`)
	leadingSep  = regexp.MustCompile(`^(?:[-–—|·•]\s+)+`)
)

// Clean strips bylines and relative-time fragments, collapses whitespace and
// turns runs of dots into a single ellipsis.
func Clean(text string) string {
	text = bylineRE.ReplaceAllString(text, " ")
	text = agoRE.ReplaceAllString(text, " ")
	text = dotsRE.ReplaceAllString(text, "…")
	text = spaceRE.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)
	text = danglingSep.ReplaceAllString(text, "")
	text = leadingSep.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

var navigationPatterns = []string{
	"subscribe", "sign in", "log in", "cookie", "advertisement",
	"privacy policy", "terms of use", "read more", "continue reading",
	"related articles", "you may also like", "newsletter",
}

// IsNavigationText reports whether text looks like site chrome rather than
// content.
func IsNavigationText(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range navigationPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

var numberRE = regexp.MustCompile(`[-+−]?\s*\d[\d,]*(?:\.\d+)?`)

// ParseNumber reads the first number in text, tolerating currency symbols,
// thousands separators, percent signs and a unicode minus.
func ParseNumber(text string) (float64, bool) {
	if text == "" || text == NotAvailable {
		return 0, false
	}
	m := numberRE.FindString(text)
	if m == "" {
		return 0, false
	}
	m = strings.NewReplacer(",", "", " ", "", "−", "-", "+", "").Replace(m)
	d, err := decimal.NewFromString(m)
	if err != nil {
		return 0, false
	}
	f, _ := d.Float64()
	return f, true
}
