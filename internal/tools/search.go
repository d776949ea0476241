package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researchd/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/discovery"
)

// SearchRequest is one provider query.
type SearchRequest struct {
	Query        string
	Limit        int
	TimeRange    string
	ContentTypes []string
}

// SearchProvider returns ranked web results for a query.
type SearchProvider interface {
	Search(ctx context.Context, req SearchRequest) ([]discovery.Result, error)
}

// WebSearch is the web_search tool.
type WebSearch struct {
	provider SearchProvider
}

// NewWebSearch wraps a provider as a tool.
func NewWebSearch(p SearchProvider) *WebSearch { return &WebSearch{provider: p} }

func (w *WebSearch) Name() string { return NameWebSearch }

// Run expects args query, limit, time_range and content_types.
func (w *WebSearch) Run(ctx context.Context, args map[string]any) (Result, error) {
	q := strings.TrimSpace(argString(args, "query"))
	if q == "" {
		return Result{}, fmt.Errorf("%w: query is required", ErrInvalidArgs)
	}
	results, err := w.provider.Search(ctx, SearchRequest{
		Query:        q,
		Limit:        argInt(args, "limit", 8),
		TimeRange:    argString(args, "time_range"),
		ContentTypes: argStrings(args, "content_types"),
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Output: results, Preview: fmt.Sprintf("%d results for %q", len(results), q)}, nil
}

// SearchFunc adapts the tool executor to the discovery stage.
func SearchFunc(exec func(ctx context.Context, call Call) (Result, error), clientID string) discovery.SearchFunc {
	return func(ctx context.Context, q discovery.Query, s discovery.Strategy, limit int) ([]discovery.Result, error) {
		res, err := exec(ctx, Call{
			Name:     NameWebSearch,
			ClientID: clientID,
			Args: map[string]any{
				"query":         q.Text,
				"kind":          string(q.Kind),
				"limit":         limit,
				"time_range":    s.TimeRange,
				"content_types": s.ContentTypes,
			},
		})
		if err != nil {
			return nil, err
		}
		results, ok := res.Output.([]discovery.Result)
		if !ok {
			return nil, &ToolError{Tool: NameWebSearch, Err: fmt.Errorf("unexpected output %T", res.Output)}
		}
		return results, nil
	}
}

// Brave queries the Brave Search API.
type Brave struct {
	APIKey   string
	Endpoint string
	http     *circuitbreaker.HTTPWrapper
}

// NewBrave creates a Brave provider. An empty endpoint uses the public API.
func NewBrave(apiKey, endpoint string, hw *circuitbreaker.HTTPWrapper) *Brave {
	if endpoint == "" {
		endpoint = "https://api.search.brave.com/res/v1/web/search"
	}
	return &Brave{APIKey: apiKey, Endpoint: endpoint, http: hw}
}

func (b *Brave) Search(ctx context.Context, req SearchRequest) ([]discovery.Result, error) {
	u, err := url.Parse(b.Endpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("q", req.Query)
	q.Set("count", fmt.Sprintf("%d", req.Limit))
	if req.TimeRange == "recent" {
		q.Set("freshness", "pm")
	}
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Subscription-Token", b.APIKey)

	var body struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
				Age         string `json:"age"`
				Profile     struct {
					Name string `json:"name"`
				} `json:"profile"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := doJSON(b.http, httpReq, &body); err != nil {
		return nil, fmt.Errorf("brave: %w", err)
	}

	out := make([]discovery.Result, 0, len(body.Web.Results))
	for _, r := range body.Web.Results {
		out = append(out, discovery.Result{
			Title:       r.Title,
			URL:         r.URL,
			Snippet:     r.Description,
			Source:      r.Profile.Name,
			ContentType: "web",
		})
	}
	return out, nil
}

// Serper queries the Serper Google search API.
type Serper struct {
	APIKey   string
	Endpoint string
	http     *circuitbreaker.HTTPWrapper
}

// NewSerper creates a Serper provider. An empty endpoint uses the public API.
func NewSerper(apiKey, endpoint string, hw *circuitbreaker.HTTPWrapper) *Serper {
	if endpoint == "" {
		endpoint = "https://google.serper.dev/search"
	}
	return &Serper{APIKey: apiKey, Endpoint: endpoint, http: hw}
}

func (s *Serper) Search(ctx context.Context, req SearchRequest) ([]discovery.Result, error) {
	payload := map[string]any{"q": req.Query, "num": req.Limit}
	if req.TimeRange == "recent" {
		payload["tbs"] = "qdr:m"
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-KEY", s.APIKey)

	var body struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
			Date    string `json:"date"`
		} `json:"organic"`
	}
	if err := doJSON(s.http, httpReq, &body); err != nil {
		return nil, fmt.Errorf("serper: %w", err)
	}

	out := make([]discovery.Result, 0, len(body.Organic))
	for _, r := range body.Organic {
		out = append(out, discovery.Result{
			Title:       r.Title,
			URL:         r.Link,
			Snippet:     r.Snippet,
			ContentType: "web",
		})
	}
	return out, nil
}

// doJSON executes req and decodes a 2xx JSON body into v.
func doJSON(hw *circuitbreaker.HTTPWrapper, req *http.Request, v any) error {
	resp, err := hw.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// NewSearchProvider builds the configured provider.
func NewSearchProvider(cfg SearchConfig, sim *Simulated, breaker circuitbreaker.Settings, logger *zap.Logger) (SearchProvider, error) {
	switch cfg.Provider {
	case ProviderSimulated, "":
		return sim, nil
	case ProviderBrave:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("brave search requires an api key")
		}
		hw := circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: cfg.Timeout}, "search-brave", "search", breaker, logger)
		return NewBrave(cfg.APIKey, cfg.Endpoint, hw), nil
	case ProviderSerper:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("serper search requires an api key")
		}
		hw := circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: cfg.Timeout}, "search-serper", "search", breaker, logger)
		return NewSerper(cfg.APIKey, cfg.Endpoint, hw), nil
	default:
		return nil, fmt.Errorf("unknown search provider %q", cfg.Provider)
	}
}
