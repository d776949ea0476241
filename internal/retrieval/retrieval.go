// Package retrieval fetches discovered pages, categorizes them, extracts typed
// entities into records and assembles a knowledge graph.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Kocoro-lab/Shannon/go/researchd/internal/discovery"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/rules"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/scoring"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/task"
)

// Config holds extraction tuning.
type Config struct {
	MinContentLength int     `mapstructure:"min_content_length"`
	MinConfidence    float64 `mapstructure:"min_confidence"`
	Concurrency      int     `mapstructure:"concurrency"`
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{MinContentLength: 200, MinConfidence: 0.6, Concurrency: 3}
}

// Document is fetched page content.
type Document struct {
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	PublishDate *time.Time `json:"publish_date,omitempty"`
}

// FetchFunc retrieves one page.
type FetchFunc func(ctx context.Context, url string) (Document, error)

// Source identifies where a record came from.
type Source struct {
	URL            string     `json:"url"`
	Title          string     `json:"title"`
	PublishDate    *time.Time `json:"publish_date,omitempty"`
	RelevanceScore float64    `json:"relevance_score"`
}

// Record is the structured extraction for one (document, category) pair.
type Record struct {
	ID         string         `json:"id"`
	Category   string         `json:"category"`
	Source     Source         `json:"source"`
	Entities   rules.Entities `json:"entities"`
	Confidence float64        `json:"confidence"`
	Topic      string         `json:"topic"`
}

// Request is the input to one extraction run.
type Request struct {
	Results    []discovery.Result
	Categories []string
	Topic      string
	SubTopics  []string
}

// CategorySummary reports the mean confidence of a category across documents.
type CategorySummary struct {
	Category       string  `json:"category"`
	MeanConfidence float64 `json:"mean_confidence"`
	Documents      int     `json:"documents"`
	Kept           bool    `json:"kept"`
}

// FetchFailure records a page that could not be retrieved.
type FetchFailure struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Output is the stage result.
type Output struct {
	Records    []Record          `json:"records"`
	Graph      *KnowledgeGraph   `json:"graph"`
	Categories []CategorySummary `json:"categories"`
	Documents  int               `json:"documents"`
	Failures   []FetchFailure    `json:"failures,omitempty"`
	Dropped    map[string]int    `json:"dropped,omitempty"`
}

// Stage runs extraction.
type Stage struct {
	cfg         Config
	fetch       FetchFunc
	categorizer rules.Categorizer
	extractor   rules.Extractor
	logger      *zap.Logger
}

// NewStage builds an extraction stage.
func NewStage(cfg Config, fetch FetchFunc, categorizer rules.Categorizer, extractor rules.Extractor, logger *zap.Logger) *Stage {
	def := DefaultConfig()
	if cfg.MinContentLength <= 0 {
		cfg.MinContentLength = def.MinContentLength
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	return &Stage{cfg: cfg, fetch: fetch, categorizer: categorizer, extractor: extractor, logger: logger}
}

type fetched struct {
	result discovery.Result
	doc    Document
	cats   []rules.CategoryScore
}

// Run executes the stage. Failed and short fetches are dropped; only cancellation
// aborts the run.
func (s *Stage) Run(ctx context.Context, req Request) (*Output, error) {
	start := time.Now()
	defer func() { metrics.StageDuration.WithLabelValues("extraction").Observe(time.Since(start).Seconds()) }()

	out := &Output{Dropped: make(map[string]int)}
	docs, failures, err := s.fetchAll(ctx, req.Results, out.Dropped)
	if err != nil {
		return nil, err
	}
	out.Failures = failures
	out.Documents = len(docs)

	for i := range docs {
		if err := ctx.Err(); err != nil {
			return nil, context.Cause(ctx)
		}
		docs[i].cats = s.categorizer.Categorize(rules.Document{Title: docs[i].doc.Title, Content: docs[i].doc.Content})
	}

	out.Categories = s.summarize(docs, req.Categories)
	kept := make(map[string]bool)
	for _, c := range out.Categories {
		if c.Kept {
			kept[c.Category] = true
		}
	}

	var records []Record
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return nil, context.Cause(ctx)
		}
		var ents rules.Entities
		extracted := false
		for _, c := range d.cats {
			if !kept[c.Category] {
				continue
			}
			if !extracted {
				ents = s.extractor.Extract(d.doc.Title + "\n" + d.doc.Content)
				extracted = true
			}
			rec, reason := s.buildRecord(d, c.Category, ents, req.Topic)
			if reason != "" {
				out.Dropped[reason]++
				metrics.ExtractionDocumentsDropped.WithLabelValues(reason).Inc()
				continue
			}
			records = append(records, rec)
		}
	}

	before := len(records)
	records = Deduplicate(records)
	if n := before - len(records); n > 0 {
		out.Dropped["duplicate"] += n
	}
	records, invalid := validate(records)
	if invalid > 0 {
		out.Dropped["invalid"] += invalid
	}
	for _, r := range records {
		metrics.ExtractionRecords.WithLabelValues(r.Category).Inc()
	}

	out.Records = records
	out.Graph = BuildGraph(req.Topic, records)

	s.logger.Info("Extraction finished",
		zap.Int("results", len(req.Results)),
		zap.Int("documents", out.Documents),
		zap.Int("records", len(records)),
		zap.Int("fetch_failures", len(failures)))
	return out, nil
}

func (s *Stage) fetchAll(ctx context.Context, results []discovery.Result, dropped map[string]int) ([]fetched, []FetchFailure, error) {
	slots := make([]*fetched, len(results))
	var (
		mu       sync.Mutex
		failures []FetchFailure
	)
	drop := func(reason string) {
		metrics.ExtractionDocumentsDropped.WithLabelValues(reason).Inc()
		mu.Lock()
		dropped[reason]++
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, r := range results {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			doc, err := s.fetch(gctx, r.URL)
			if err != nil {
				if cause := task.CancelCause(gctx, err); cause != nil {
					return cause
				}
				drop("fetch_failed")
				mu.Lock()
				failures = append(failures, FetchFailure{URL: r.URL, Error: err.Error()})
				mu.Unlock()
				return nil
			}
			if utf8.RuneCountInString(strings.TrimSpace(doc.Content)) < s.cfg.MinContentLength {
				drop("short_content")
				return nil
			}
			if doc.URL == "" {
				doc.URL = r.URL
			}
			if doc.Title == "" {
				doc.Title = r.Title
			}
			if doc.PublishDate == nil {
				doc.PublishDate = r.PublishDate
			}
			slots[i] = &fetched{result: r, doc: doc}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, nil, context.Cause(ctx)
		}
		return nil, nil, err
	}
	if ctx.Err() != nil {
		return nil, nil, context.Cause(ctx)
	}

	var docs []fetched
	for _, f := range slots {
		if f != nil {
			docs = append(docs, *f)
		}
	}
	sort.SliceStable(failures, func(i, j int) bool { return failures[i].URL < failures[j].URL })
	return docs, failures, nil
}

// summarize averages each category's confidence over the documents it matched and
// marks the ones that pass the threshold and were requested.
func (s *Stage) summarize(docs []fetched, requested []string) []CategorySummary {
	want := make(map[string]bool, len(requested))
	for _, c := range requested {
		want[strings.ToLower(c)] = true
	}
	confs := make(map[string][]float64)
	var order []string
	for _, d := range docs {
		for _, c := range d.cats {
			if _, ok := confs[c.Category]; !ok {
				order = append(order, c.Category)
			}
			confs[c.Category] = append(confs[c.Category], c.Confidence)
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return categoryRank(order[i]) < categoryRank(order[j]) })

	out := make([]CategorySummary, 0, len(order))
	for _, name := range order {
		mean := scoring.Mean(confs[name])
		out = append(out, CategorySummary{
			Category:       name,
			MeanConfidence: mean,
			Documents:      len(confs[name]),
			Kept:           mean >= s.cfg.MinConfidence && (len(want) == 0 || want[name]),
		})
	}
	return out
}

func categoryRank(name string) int {
	for i, c := range rules.AllCategories {
		if c == name {
			return i
		}
	}
	return len(rules.AllCategories)
}

// recordID is stable for a (url, category) pair so repeated extraction of the
// same page yields the same identity.
func recordID(url, category string) string {
	key := url
	if norm, err := scoring.NormalizeURL(url); err == nil && norm != "" {
		key = norm
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key+"#"+category)).String()
}

func (s *Stage) buildRecord(d fetched, category string, ents rules.Entities, topic string) (Record, string) {
	if ents.Len() == 0 {
		return Record{}, "no_entities"
	}
	var confs []float64
	for _, e := range ents.All() {
		confs = append(confs, e.Confidence)
	}
	conf := scoring.Mean(confs)
	if conf < s.cfg.MinConfidence {
		return Record{}, "low_confidence"
	}
	return Record{
		ID:       recordID(d.doc.URL, category),
		Category: category,
		Source: Source{
			URL:            d.doc.URL,
			Title:          d.doc.Title,
			PublishDate:    d.doc.PublishDate,
			RelevanceScore: d.result.Scores.Relevance,
		},
		Entities:   ents,
		Confidence: conf,
		Topic:      topic,
	}, ""
}

// Deduplicate keeps one record per (normalized url, category), preferring the
// higher confidence and otherwise the first seen.
func Deduplicate(records []Record) []Record {
	index := make(map[string]int)
	var out []Record
	for _, r := range records {
		key := recordID(r.Source.URL, r.Category)
		if i, ok := index[key]; ok {
			if r.Confidence > out[i].Confidence {
				out[i] = r
			}
			continue
		}
		index[key] = len(out)
		out = append(out, r)
	}
	return out
}

// ErrInvalidRecord marks a record missing a required field.
var ErrInvalidRecord = errors.New("invalid record")

// Validate checks the fields every record must carry.
func (r Record) Validate() error {
	switch {
	case r.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidRecord)
	case r.Category == "":
		return fmt.Errorf("%w: missing category", ErrInvalidRecord)
	case r.Source.URL == "":
		return fmt.Errorf("%w: missing source url", ErrInvalidRecord)
	case r.Entities.Len() == 0:
		return fmt.Errorf("%w: no entities", ErrInvalidRecord)
	case r.Confidence < 0 || r.Confidence > 1:
		return fmt.Errorf("%w: confidence %.2f out of range", ErrInvalidRecord, r.Confidence)
	}
	return nil
}

func validate(records []Record) ([]Record, int) {
	out := records[:0]
	invalid := 0
	for _, r := range records {
		if r.Validate() != nil {
			invalid++
			continue
		}
		out = append(out, r)
	}
	return out, invalid
}
