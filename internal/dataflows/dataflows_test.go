package dataflows

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/AurumGo/internal/extract"
	"github.com/dyike/AurumGo/internal/models"
	"github.com/dyike/AurumGo/internal/retry"
)

func fastCaller(attempts int) *retry.Caller {
	p := retry.DefaultPolicy()
	p.MaxAttempts = attempts
	return retry.New(p, retry.WithSleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() }))
}

const goldHTML = `<html><head>
<title>Gold Price Today | Live Spot Gold</title>
<meta name="description" content="Live gold spot price, charts and news.">
</head><body>
<h1>Live Gold Price</h1>
<div id="sp-bid">3,280.45</div>
<div id="sp-chg-value">-13.20</div>
<div id="sp-chg-percent">-0.40%</div>
<time datetime="2025-06-02T14:30:00Z">Jun 2, 2025</time>
<div class="latest-news"><ul>
  <li><a href="/n/1">Gold slips as dollar firms ahead of Fed</a><time datetime="2025-06-02T13:00:00Z"></time></li>
  <li><a href="/n/2">Gold slips as dollar firms ahead of Fed</a></li>
  <li><a href="/n/3">Central banks keep buying gold bullion</a><time datetime="2025-06-02T12:00:00Z"></time></li>
  <li><a href="/subscribe">Subscribe to our newsletter</a></li>
</ul></div>
</body></html>`

func TestCacheManagerRoundTripAndExpiry(t *testing.T) {
	dir := t.TempDir()
	cm := NewCacheManager(dir, time.Minute, true)

	calls := 0
	fetch := func() ([]string, error) {
		calls++
		return []string{"a", "b"}, nil
	}
	v, hit, err := Cached(cm, "src", "m", "key", fetch)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []string{"a", "b"}, v)

	v, hit, err = Cached(cm, "src", "m", "key", fetch)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, calls)

	cm.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	var out []string
	assert.False(t, cm.Get("src", "m", "key", &out))
}

func TestCacheManagerDisabled(t *testing.T) {
	cm := NewCacheManager(t.TempDir(), time.Minute, false)
	require.NoError(t, cm.Set("s", "m", 1, "v"))
	var out string
	assert.False(t, cm.Get("s", "m", 1, &out))

	_, _, err := Cached(cm, "s", "m", 1, func() (string, error) { return "", errors.New("boom") })
	assert.Error(t, err)
}

func TestHTTPPageRetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, goldHTML)
	}))
	defer srv.Close()

	doc, attempts, err := Navigate(context.Background(), fastCaller(3), NewHTTPPage("test-agent"), srv.URL, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, "Live Gold Price", doc.Find("h1").Text())
}

func TestHTTPPageClientErrorNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	page := NewHTTPPage("")
	_, attempts, err := Navigate(context.Background(), fastCaller(3), page, srv.URL, time.Second)
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))

	var navErr *NavigationError
	require.ErrorAs(t, err, &navErr)
	assert.Equal(t, http.StatusForbidden, navErr.Status)
}

func TestHTTPPageSharedAcrossRuns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/denied/") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		fmt.Fprintf(w, "<html><body><h1>%s</h1></body></html>", strings.TrimPrefix(r.URL.Path, "/quote/"))
	}))
	defer srv.Close()

	page := NewHTTPPage("")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 1 {
				_, attempts, err := Navigate(context.Background(), fastCaller(3), page, fmt.Sprintf("%s/denied/%d", srv.URL, i), time.Second)
				var navErr *NavigationError
				if assert.ErrorAs(t, err, &navErr) {
					assert.Equal(t, http.StatusForbidden, navErr.Status)
				}
				assert.Equal(t, 1, attempts)
				return
			}
			doc, _, err := Navigate(context.Background(), fastCaller(3), page, fmt.Sprintf("%s/quote/%d", srv.URL, i), time.Second)
			if assert.NoError(t, err) {
				assert.Equal(t, fmt.Sprint(i), doc.Find("h1").Text())
			}
		}(i)
	}
	// the stateful Page methods stay safe alongside Fetch
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if page.Goto(context.Background(), fmt.Sprintf("%s/quote/g%d", srv.URL, i), time.Second) {
				assert.Contains(t, page.Content(), "<h1>g")
			}
			_ = page.Err()
		}(i)
	}
	wg.Wait()
}

type stubPage struct {
	ok      []bool
	html    string
	visited int
}

func (p *stubPage) Goto(ctx context.Context, url string, timeout time.Duration) bool {
	ok := p.ok[p.visited]
	p.visited++
	return ok
}

func (p *stubPage) Content() string { return p.html }

func TestGoldPageScrape(t *testing.T) {
	page := &stubPage{ok: []bool{false, true}, html: goldHTML}
	s := NewGoldPageScraper(page, fastCaller(3), "https://example.test/gold", time.Second)

	q, err := s.Scrape(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, page.visited)
	require.NotNil(t, q.Price)
	assert.Equal(t, 3280.45, *q.Price)
	assert.Equal(t, -13.20, *q.Change)
	assert.Equal(t, -0.40, *q.ChangePct)
	assert.Equal(t, "Live Gold Price", q.Title)
	assert.Equal(t, "Live gold spot price, charts and news.", q.Description)
	assert.Equal(t, "2025-06-02T14:30:00Z", q.Timestamp)

	require.Len(t, q.Headlines, 2)
	for _, h := range q.Headlines {
		assert.NotEmpty(t, h.Sentiment)
		assert.LessOrEqual(t, h.Relevance, 10)
	}
	assert.Equal(t, "/n/1", q.Headlines[0].URL)
}

func TestGoldPageMissingFields(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<html><body><p>maintenance</p></body></html>`))
	require.NoError(t, err)

	q := ParseGoldPage(doc, DefaultGoldRules, DefaultHeadlineSelector, DefaultHeadlineRules, 5)
	assert.Nil(t, q.Price)
	assert.Nil(t, q.ChangePct)
	assert.Empty(t, q.Title)
	assert.Empty(t, q.Headlines)

	page := &stubPage{ok: []bool{true}, html: `<html><body><p>maintenance</p></body></html>`}
	_, err = NewGoldPageScraper(page, fastCaller(1), "u", time.Second).Scrape(context.Background())
	assert.ErrorIs(t, err, ErrNothingExtracted)
}

func TestGoldPageCustomRules(t *testing.T) {
	page := &stubPage{ok: []bool{true}, html: `<html><body><span class="px">$3,301.10</span></body></html>`}
	rules := extract.RuleSet{{Field: "price", Rules: []extract.Rule{{Selector: ".px"}}}}
	q, err := NewGoldPageScraper(page, fastCaller(1), "u", time.Second, WithRules(rules)).Scrape(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3301.10, *q.Price)
}

const rssFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>gold price - Google News</title>
<item>
  <title>Gold hits record high as Fed signals rate cuts - Reuters</title>
  <link>https://news.example/1</link>
  <pubDate>Mon, 02 Jun 2025 10:00:00 GMT</pubDate>
  <source url="https://www.reuters.com">Reuters</source>
</item>
<item>
  <title>Gold hits record high as Fed signals rate cuts - Yahoo Finance</title>
  <link>https://news.example/2</link>
  <pubDate>Mon, 02 Jun 2025 11:00:00 GMT</pubDate>
  <source url="https://finance.yahoo.com">Yahoo Finance</source>
</item>
<item>
  <title>Stocks drift lower - MarketWatch</title>
  <link>https://news.example/3</link>
  <pubDate>Mon, 02 Jun 2025 12:00:00 GMT</pubDate>
  <source url="https://www.marketwatch.com">MarketWatch</source>
</item>
</channel></rss>`

func TestGoogleNewsSearch(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "gold price", r.URL.Query().Get("q"))
		assert.Equal(t, "US:en", r.URL.Query().Get("ceid"))
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, rssFeed)
	}))
	defer srv.Close()

	cache := NewCacheManager(t.TempDir(), time.Hour, true)
	g := NewGoogleNewsClient("ua", cache, fastCaller(2), zerolog.Nop())
	g.SetBaseURL(srv.URL)

	params := NewsParams{Query: "gold price", Language: "en-US", Country: "US", MaxResults: 10}
	items, err := g.Search(context.Background(), params)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "Gold hits record high as Fed signals rate cuts", items[0].Headline)
	assert.Equal(t, "Reuters", items[0].Source)
	assert.Equal(t, models.SentimentBullish, items[0].Sentiment)
	assert.Greater(t, items[0].Relevance, items[1].Relevance)
	assert.Equal(t, "MarketWatch", items[1].Source)

	_, err = g.Search(context.Background(), params)
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestGoogleNewsRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g := NewGoogleNewsClient("", nil, fastCaller(2), zerolog.Nop())
	g.SetBaseURL(srv.URL)
	_, err := g.Search(context.Background(), NewsParams{Query: "gold"})

	var rerr *retry.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, retry.ClassRateLimited, rerr.Class)
	assert.Equal(t, 2, rerr.Attempts)
}

func TestFormatHeadlines(t *testing.T) {
	ts := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	out := FormatHeadlines([]models.NewsItem{{Headline: "Gold rises", Source: "Reuters", PublishedAt: &ts, Sentiment: "bullish", Relevance: 4}})
	assert.Equal(t, "- Gold rises (Reuters, 2025-06-02 10:00) [bullish, relevance 4]\n", out)
}

func TestLongportRequiresCredentials(t *testing.T) {
	_, err := NewLongportClient(LongportConfig{AppKey: "k"}, nil)
	assert.ErrorIs(t, err, ErrLongportNotConfigured)
}
