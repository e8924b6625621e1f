package dataflows

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/dyike/AurumGo/internal/extract"
	"github.com/dyike/AurumGo/internal/models"
	"github.com/dyike/AurumGo/internal/news"
	"github.com/dyike/AurumGo/internal/retry"
)

const DefaultNewsRSSBase = "https://news.google.com/rss"

type RSS struct {
	XMLName xml.Name `xml:"rss"`
	Channel Channel  `xml:"channel"`
}

type Channel struct {
	Title string `xml:"title"`
	Items []Item `xml:"item"`
}

type Item struct {
	Title       string    `xml:"title"`
	Link        string    `xml:"link"`
	Description string    `xml:"description"`
	PubDate     string    `xml:"pubDate"`
	Source      RSSSource `xml:"source"`
	GUID        string    `xml:"guid"`
}

type RSSSource struct {
	URL  string `xml:"url,attr"`
	Text string `xml:",chardata"`
}

type NewsParams struct {
	Query      string `json:"query"`
	Language   string `json:"language"`
	Country    string `json:"country"`
	MaxResults int    `json:"max_results"`
}

// StatusError is a non-2xx response from a data source.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string   { return fmt.Sprintf("GET %s: status %d", e.URL, e.Status) }
func (e *StatusError) StatusCode() int { return e.Status }

// GoogleNewsClient searches the Google News RSS feed.
type GoogleNewsClient struct {
	client  *resty.Client
	cache   *CacheManager
	caller  *retry.Caller
	baseURL string
	log     zerolog.Logger
}

func NewGoogleNewsClient(userAgent string, cache *CacheManager, caller *retry.Caller, log zerolog.Logger) *GoogleNewsClient {
	client := resty.New()
	client.SetTimeout(30 * time.Second)
	if userAgent != "" {
		client.SetHeader("User-Agent", userAgent)
	}
	return &GoogleNewsClient{
		client:  client,
		cache:   cache,
		caller:  caller,
		baseURL: DefaultNewsRSSBase,
		log:     log.With().Str("component", "google_news").Logger(),
	}
}

// SetBaseURL points the client at another feed host.
func (g *GoogleNewsClient) SetBaseURL(base string) { g.baseURL = strings.TrimRight(base, "/") }

// Search returns scored, de-duplicated items ordered by relevance then
// recency.
func (g *GoogleNewsClient) Search(ctx context.Context, params NewsParams) ([]models.NewsItem, error) {
	items, hit, err := Cached(g.cache, "google_news_rss", "search", params, func() ([]models.NewsItem, error) {
		return g.fetch(ctx, params)
	})
	if err != nil {
		return nil, err
	}
	g.log.Debug().Str("query", params.Query).Bool("cache_hit", hit).Int("items", len(items)).Msg("news search")
	return items, nil
}

func (g *GoogleNewsClient) fetch(ctx context.Context, params NewsParams) ([]models.NewsItem, error) {
	rssURL := g.BuildURL(params)
	res, err := retry.Do(ctx, g.caller, "google_news", func(ctx context.Context) ([]byte, error) {
		resp, err := g.client.R().SetContext(ctx).Get(rssURL)
		if err != nil {
			return nil, fmt.Errorf("fetch rss feed: %w", err)
		}
		if resp.IsError() {
			return nil, &StatusError{URL: rssURL, Status: resp.StatusCode()}
		}
		return resp.Body(), nil
	})
	if err != nil {
		return nil, err
	}

	var rss RSS
	if err := xml.Unmarshal(res.Value, &rss); err != nil {
		return nil, fmt.Errorf("parse rss xml: %w", err)
	}

	items := make([]models.NewsItem, 0, len(rss.Channel.Items))
	for _, it := range rss.Channel.Items {
		if ni, ok := convertRSSItem(it); ok {
			items = append(items, ni)
		}
	}
	items = news.Dedupe(news.Apply(items))
	news.Sort(items)
	if params.MaxResults > 0 && len(items) > params.MaxResults {
		items = items[:params.MaxResults]
	}
	return items, nil
}

func (g *GoogleNewsClient) BuildURL(params NewsParams) string {
	v := url.Values{}
	v.Set("q", params.Query)
	if params.Language != "" {
		v.Set("hl", params.Language)
	}
	if params.Country != "" {
		v.Set("gl", params.Country)
		lang := strings.Split(params.Language, "-")[0]
		if lang == "" {
			lang = "en"
		}
		v.Set("ceid", fmt.Sprintf("%s:%s", params.Country, lang))
	}
	return g.baseURL + "/search?" + v.Encode()
}

// Google News titles end with " - Publisher".
var publisherSuffix = regexp.MustCompile(`\s+-\s+[^-]+$`)

func convertRSSItem(it Item) (models.NewsItem, bool) {
	source := strings.TrimSpace(it.Source.Text)
	if source == "" && it.Source.URL != "" {
		if u, err := url.Parse(it.Source.URL); err == nil {
			source = u.Host
		}
	}

	title := strings.TrimSpace(it.Title)
	if source != "" {
		title = strings.TrimSpace(strings.TrimSuffix(title, " - "+source))
	} else if m := publisherSuffix.FindString(title); m != "" {
		source = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(m), "-"))
		title = strings.TrimSpace(strings.TrimSuffix(title, m))
	}
	title = extract.Clean(cleanHTML(title))
	if title == "" || extract.IsNavigationText(title) {
		return models.NewsItem{}, false
	}

	return models.NewsItem{
		Headline:    title,
		Source:      source,
		URL:         it.Link,
		PublishedAt: news.ParseTime(it.PubDate),
	}, true
}

// cleanHTML returns the text content of an HTML fragment.
func cleanHTML(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return fragment
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	return strings.TrimSpace(doc.Text())
}

// FormatHeadlines renders items as prompt context lines.
func FormatHeadlines(items []models.NewsItem) string {
	var b strings.Builder
	for _, it := range items {
		fmt.Fprintf(&b, "- %s", it.Headline)
		if it.Source != "" {
			fmt.Fprintf(&b, " (%s", it.Source)
			if it.PublishedAt != nil {
				fmt.Fprintf(&b, ", %s", it.PublishedAt.Format("2006-01-02 15:04"))
			}
			b.WriteString(")")
		}
		fmt.Fprintf(&b, " [%s, relevance %d]\n", it.Sentiment, it.Relevance)
	}
	return b.String()
}
