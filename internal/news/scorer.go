// Package news scores, orders and de-duplicates gold-market headlines.
package news

import (
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/dyike/AurumGo/internal/models"
)

// Result is the keyword-derived view of one piece of text.
type Result struct {
	Sentiment string
	Relevance int
}

// MaxRelevance caps the relevance sum.
const MaxRelevance = 10

type weightedTerm struct {
	pattern *regexp.Regexp
	points  int
}

// Scorer holds the keyword sets. The zero value is not usable; use NewScorer.
type Scorer struct {
	bullish   []*regexp.Regexp
	bearish   []*regexp.Regexp
	relevance []weightedTerm
}

func words(ws ...string) *regexp.Regexp {
	quoted := make([]string, len(ws))
	for i, w := range ws {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

func NewScorer() *Scorer {
	return &Scorer{
		bullish: []*regexp.Regexp{
			words("rise", "rises", "rising", "rose"),
			words("rally", "rallies", "rallied", "rallying"),
			words("gain", "gains", "gained"),
			words("surge", "surges", "surged", "soar", "soars", "soared", "jump", "jumps", "jumped"),
			words("climb", "climbs", "climbed", "higher", "up"),
			words("record high", "all-time high", "bullish", "safe haven", "safe-haven"),
			words("rebound", "rebounds", "strong demand", "buying"),
		},
		bearish: []*regexp.Regexp{
			words("fall", "falls", "falling", "fell"),
			words("drop", "drops", "dropped", "slip", "slips", "slipped"),
			words("decline", "declines", "declined", "slide", "slides", "slid"),
			words("plunge", "plunges", "plunged", "tumble", "tumbles", "tumbled", "slump", "slumps"),
			words("lower", "down", "loss", "losses"),
			words("bearish", "sell-off", "selloff", "profit-taking", "weak demand"),
		},
		relevance: []weightedTerm{
			{words("gold", "xau", "xau/usd", "bullion"), 4},
			{words("precious metal", "precious metals", "comex", "spot price"), 2},
			{words("fed", "federal reserve", "interest rate", "interest rates", "rate cut", "rate cuts"), 2},
			{words("inflation", "cpi", "central bank", "central banks"), 2},
			{words("dollar", "usd", "treasury", "yields"), 1},
			{words("geopolitical", "war", "tariff", "tariffs"), 1},
			{words("market", "markets", "price", "prices", "ounce"), 1},
		},
	}
}

var defaultScorer = NewScorer()

// Score uses the built-in keyword sets.
func Score(text string) Result { return defaultScorer.Score(text) }

// Score counts bullish and bearish keyword occurrences (the larger count wins,
// a tie is neutral) and sums the points of every relevance term present.
func (s *Scorer) Score(text string) Result {
	bull := countAll(s.bullish, text)
	bear := countAll(s.bearish, text)

	sentiment := models.SentimentNeutral
	switch {
	case bull > bear:
		sentiment = models.SentimentBullish
	case bear > bull:
		sentiment = models.SentimentBearish
	}

	relevance := 0
	for _, term := range s.relevance {
		if term.pattern.MatchString(text) {
			relevance += term.points
		}
	}
	if relevance > MaxRelevance {
		relevance = MaxRelevance
	}
	return Result{Sentiment: sentiment, Relevance: relevance}
}

func countAll(patterns []*regexp.Regexp, text string) int {
	n := 0
	for _, p := range patterns {
		n += len(p.FindAllStringIndex(text, -1))
	}
	return n
}

// Apply scores each item from its headline, overwriting sentiment and
// relevance.
func Apply(items []models.NewsItem) []models.NewsItem {
	for i := range items {
		sc := Score(items[i].Headline)
		items[i].Sentiment = sc.Sentiment
		items[i].Relevance = sc.Relevance
	}
	return items
}

// Sort orders items by relevance, then most recent first. Items without a
// usable timestamp go after dated items of the same relevance.
func Sort(items []models.NewsItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Relevance != b.Relevance {
			return a.Relevance > b.Relevance
		}
		switch {
		case a.PublishedAt == nil && b.PublishedAt == nil:
			return false
		case a.PublishedAt == nil:
			return false
		case b.PublishedAt == nil:
			return true
		}
		return a.PublishedAt.After(*b.PublishedAt)
	})
}

var timeLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2006-01-02 15:04:05",
	"Jan 2, 2006",
	"2006-01-02",
}

// ParseTime parses the publication formats seen in feeds and pages. It
// returns nil when nothing matches.
func ParseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// SameHeadline reports whether two headlines describe the same story: equal
// after normalization, or sharing at least 80% of their tokens.
func SameHeadline(a, b string) bool {
	na, nb := normalize(a), normalize(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}
	return jaccard(strings.Fields(na), strings.Fields(nb)) >= 0.8
}

// Dedupe keeps the first of every group of near-equal headlines.
func Dedupe(items []models.NewsItem) []models.NewsItem {
	out := make([]models.NewsItem, 0, len(items))
	for _, it := range items {
		dup := false
		for _, kept := range out {
			if SameHeadline(it.Headline, kept.Headline) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, it)
		}
	}
	return out
}

func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func jaccard(a, b []string) float64 {
	set := make(map[string]int, len(a)+len(b))
	for _, t := range a {
		set[t] |= 1
	}
	for _, t := range b {
		set[t] |= 2
	}
	inter := 0
	for _, v := range set {
		if v == 3 {
			inter++
		}
	}
	if len(set) == 0 {
		return 0
	}
	return float64(inter) / float64(len(set))
}
