package dataflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/dyike/AurumGo/internal/extract"
	"github.com/dyike/AurumGo/internal/models"
	"github.com/dyike/AurumGo/internal/news"
	"github.com/dyike/AurumGo/internal/retry"
)

// DefaultGoldRules targets common quote page layouts, most specific first.
var DefaultGoldRules = extract.RuleSet{
	{Field: "price", Rules: []extract.Rule{
		{Selector: "[data-testid='bid-price']"},
		{Selector: "#sp-bid"},
		{Selector: ".price-bid"},
		{Selector: "[itemprop='price']", Attr: "content"},
		{Selector: ".quote-price"},
		{Selector: "meta[name='gold:price']", Attr: "content"},
	}},
	{Field: "change", Rules: []extract.Rule{
		{Selector: "[data-testid='change']"},
		{Selector: "#sp-chg-value"},
		{Selector: ".price-change"},
		{Selector: ".quote-change"},
	}},
	{Field: "change_pct", Rules: []extract.Rule{
		{Selector: "[data-testid='change-percent']"},
		{Selector: "#sp-chg-percent"},
		{Selector: ".price-change-percent"},
		{Selector: ".quote-change-pct"},
	}},
	{Field: "title", Rules: []extract.Rule{
		{Selector: "h1"},
		{Selector: "meta[property='og:title']", Attr: "content"},
		{Selector: "title"},
	}},
	{Field: "description", Rules: []extract.Rule{
		{Selector: "meta[name='description']", Attr: "content"},
		{Selector: "meta[property='og:description']", Attr: "content"},
		{Selector: ".article-summary"},
	}},
	{Field: "timestamp", Rules: []extract.Rule{
		{Selector: "time", Attr: "datetime"},
		{Selector: "[data-testid='timestamp']"},
		{Selector: ".timestamp"},
		{Selector: "time"},
	}},
}

const DefaultHeadlineSelector = "article, .news-item, .latest-news li"

// DefaultHeadlineRules are applied to each element matched by
// DefaultHeadlineSelector.
var DefaultHeadlineRules = extract.RuleSet{
	{Field: "headline", Rules: []extract.Rule{
		{Selector: "h3 a"}, {Selector: "h2 a"}, {Selector: "h3"}, {Selector: "h2"}, {Selector: "a"},
	}},
	{Field: "url", Rules: []extract.Rule{{Selector: "a", Attr: "href"}}},
	{Field: "source", Rules: []extract.Rule{{Selector: ".source"}, {Selector: ".byline"}}},
	{Field: "published", Rules: []extract.Rule{{Selector: "time", Attr: "datetime"}, {Selector: "time"}}},
}

var ErrNothingExtracted = errors.New("gold page: no price or headlines found")

type GoldPageScraper struct {
	page         Page
	caller       *retry.Caller
	url          string
	timeout      time.Duration
	rules        extract.RuleSet
	itemSelector string
	itemRules    extract.RuleSet
	maxHeadlines int
	log          zerolog.Logger
}

type GoldPageOption func(*GoldPageScraper)

// WithRules replaces the quote field rules, e.g. from a JSON file.
func WithRules(rules extract.RuleSet) GoldPageOption {
	return func(s *GoldPageScraper) {
		if len(rules) > 0 {
			s.rules = rules
		}
	}
}

func WithMaxHeadlines(n int) GoldPageOption {
	return func(s *GoldPageScraper) { s.maxHeadlines = n }
}

func WithPageLogger(l zerolog.Logger) GoldPageOption {
	return func(s *GoldPageScraper) { s.log = l.With().Str("component", "goldpage").Logger() }
}

func NewGoldPageScraper(page Page, caller *retry.Caller, url string, timeout time.Duration, opts ...GoldPageOption) *GoldPageScraper {
	s := &GoldPageScraper{
		page:         page,
		caller:       caller,
		url:          url,
		timeout:      timeout,
		rules:        DefaultGoldRules,
		itemSelector: DefaultHeadlineSelector,
		itemRules:    DefaultHeadlineRules,
		maxHeadlines: 10,
		log:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scrape loads the quote page and extracts the quote and headlines.
func (s *GoldPageScraper) Scrape(ctx context.Context) (*PageQuote, error) {
	doc, attempts, err := Navigate(ctx, s.caller, s.page, s.url, s.timeout)
	if err != nil {
		return nil, err
	}
	q := ParseGoldPage(doc, s.rules, s.itemSelector, s.itemRules, s.maxHeadlines)
	q.URL = s.url
	s.log.Debug().
		Int("attempts", attempts).
		Bool("price", q.Price != nil).
		Int("headlines", len(q.Headlines)).
		Msg("gold page scraped")

	if q.Price == nil && len(q.Headlines) == 0 {
		return nil, fmt.Errorf("%s: %w", s.url, ErrNothingExtracted)
	}
	return q, nil
}

// ParseGoldPage applies the rule sets to a loaded document. Missing fields
// stay nil or empty.
func ParseGoldPage(doc *goquery.Document, rules extract.RuleSet, itemSelector string, itemRules extract.RuleSet, maxHeadlines int) *PageQuote {
	fields := extract.Extract(doc, rules)
	q := &PageQuote{
		Title:       orEmpty(fields["title"]),
		Description: orEmpty(fields["description"]),
		Timestamp:   orEmpty(fields["timestamp"]),
		Headlines:   []models.NewsItem{},
	}
	q.Price = number(fields["price"])
	q.Change = number(fields["change"])
	q.ChangePct = number(fields["change_pct"])
	if q.Price != nil && *q.Price <= 0 {
		q.Price = nil
	}

	for _, item := range extract.ExtractItems(doc, itemSelector, itemRules, "headline") {
		ni := models.NewsItem{
			Headline:    item["headline"],
			Source:      orEmpty(item["source"]),
			URL:         orEmpty(item["url"]),
			PublishedAt: news.ParseTime(orEmpty(item["published"])),
		}
		if ni.Source == "" {
			ni.Source = "gold page"
		}
		q.Headlines = append(q.Headlines, ni)
	}
	q.Headlines = news.Dedupe(news.Apply(q.Headlines))
	news.Sort(q.Headlines)
	if maxHeadlines > 0 && len(q.Headlines) > maxHeadlines {
		q.Headlines = q.Headlines[:maxHeadlines]
	}
	return q
}

func number(text string) *float64 {
	v, ok := extract.ParseNumber(text)
	if !ok {
		return nil
	}
	return &v
}

func orEmpty(v string) string {
	if v == extract.NotAvailable {
		return ""
	}
	return v
}
