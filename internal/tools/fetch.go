package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/chromedp/chromedp"
	"github.com/go-shiori/go-readability"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researchd/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/retrieval"
)

const userAgent = "researchd/1.0 (+https://github.com/Kocoro-lab/Shannon)"

// PageFetcher retrieves the readable content of a page.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (retrieval.Document, error)
}

// WebFetch is the web_fetch tool.
type WebFetch struct {
	fetcher PageFetcher
}

// NewWebFetch wraps a fetcher as a tool.
func NewWebFetch(f PageFetcher) *WebFetch { return &WebFetch{fetcher: f} }

func (w *WebFetch) Name() string { return NameWebFetch }

// Run expects arg url.
func (w *WebFetch) Run(ctx context.Context, args map[string]any) (Result, error) {
	u := strings.TrimSpace(argString(args, "url"))
	if u == "" {
		return Result{}, fmt.Errorf("%w: url is required", ErrInvalidArgs)
	}
	doc, err := w.fetcher.Fetch(ctx, u)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Output:  doc,
		Preview: fmt.Sprintf("%s (%d chars)", doc.Title, utf8.RuneCountInString(doc.Content)),
	}, nil
}

// FetchFunc adapts the tool executor to the extraction stage.
func FetchFunc(exec func(ctx context.Context, call Call) (Result, error), clientID string) retrieval.FetchFunc {
	return func(ctx context.Context, u string) (retrieval.Document, error) {
		res, err := exec(ctx, Call{Name: NameWebFetch, ClientID: clientID, Args: map[string]any{"url": u}})
		if err != nil {
			return retrieval.Document{}, err
		}
		doc, ok := res.Output.(retrieval.Document)
		if !ok {
			return retrieval.Document{}, &ToolError{Tool: NameWebFetch, Err: fmt.Errorf("unexpected output %T", res.Output)}
		}
		return doc, nil
	}
}

// HTTPFetcher downloads a page and extracts the article with readability.
type HTTPFetcher struct {
	http     *circuitbreaker.HTTPWrapper
	maxChars int
}

// NewHTTPFetcher creates a fetcher; maxChars <= 0 keeps the whole text.
func NewHTTPFetcher(hw *circuitbreaker.HTTPWrapper, maxChars int) *HTTPFetcher {
	return &HTTPFetcher{http: hw, maxChars: maxChars}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (retrieval.Document, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return retrieval.Document{}, fmt.Errorf("%w: invalid url %q", ErrInvalidArgs, rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return retrieval.Document{}, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.http.Do(req)
	if err != nil {
		return retrieval.Document{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return retrieval.Document{}, fmt.Errorf("fetch %s: status %d", u.Redacted(), resp.StatusCode)
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, 5<<20), u)
	if err != nil {
		return retrieval.Document{}, fmt.Errorf("extract %s: %w", u.Redacted(), err)
	}
	return toDocument(rawURL, article, f.maxChars), nil
}

// ChromeFetcher renders pages in headless Chrome before extraction, for
// script-heavy sites.
type ChromeFetcher struct {
	Timeout  time.Duration
	MaxChars int
}

func (f ChromeFetcher) Fetch(ctx context.Context, rawURL string) (retrieval.Document, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return retrieval.Document{}, fmt.Errorf("%w: invalid url %q", ErrInvalidArgs, rawURL)
	}
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	html, err := renderHTML(ctx, u.String())
	if err != nil {
		return retrieval.Document{}, fmt.Errorf("render %s: %w", u.Redacted(), err)
	}
	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return retrieval.Document{}, fmt.Errorf("extract %s: %w", u.Redacted(), err)
	}
	return toDocument(rawURL, article, f.MaxChars), nil
}

func renderHTML(ctx context.Context, u string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(userAgent),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(u),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}

func toDocument(rawURL string, article readability.Article, maxChars int) retrieval.Document {
	text := strings.TrimSpace(article.TextContent)
	if maxChars > 0 && utf8.RuneCountInString(text) > maxChars {
		text = string([]rune(text)[:maxChars])
	}
	return retrieval.Document{
		URL:         rawURL,
		Title:       strings.TrimSpace(article.Title),
		Content:     text,
		PublishDate: article.PublishedTime,
	}
}

// NewPageFetcher builds the configured fetcher.
func NewPageFetcher(cfg FetchConfig, sim *Simulated, breaker circuitbreaker.Settings, logger *zap.Logger) (PageFetcher, error) {
	switch cfg.Provider {
	case ProviderSimulated, "":
		return sim, nil
	case ProviderHTTP:
		hw := circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: cfg.Timeout}, "fetch-http", "fetch", breaker, logger)
		return NewHTTPFetcher(hw, cfg.MaxChars), nil
	case ProviderChromedp:
		return ChromeFetcher{Timeout: cfg.Timeout, MaxChars: cfg.MaxChars}, nil
	default:
		return nil, fmt.Errorf("unknown fetch provider %q", cfg.Provider)
	}
}
