package tools

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/Kocoro-lab/Shannon/go/researchd/internal/discovery"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/retrieval"
)

// ErrPageNotFound is returned by the simulated fetcher for unknown URLs.
var ErrPageNotFound = errors.New("page not found")

type simSource struct {
	domain      string
	name        string
	contentType string
}

var simSources = []simSource{
	{"reuters.com", "Reuters", "news"},
	{"nature.com", "Nature", "academic"},
	{"statista.com", "Statista", "reports"},
	{"caixin.com", "Caixin", "news"},
	{"mckinsey.com", "McKinsey", "reports"},
	{"stats.gov.cn", "National Bureau of Statistics", "web"},
	{"ieee.org", "IEEE", "academic"},
	{"zhihu.com", "Zhihu", "web"},
}

// Angles rotate across results so each page leans toward different categories.
var simAnglesEN = []string{
	"market size and growth outlook",
	"competitive landscape and leading players",
	"technology and patent trends",
	"policy and regulatory environment",
	"consumer survey and social impact",
	"financial performance and investment",
}

var simAnglesZH = []string{
	"市场规模与增长前景",
	"竞争格局与龙头企业",
	"技术路线与专利趋势",
	"政策与监管环境",
	"消费者调查与社会影响",
	"财务表现与投资动态",
}

var simParagraphsEN = []string{
	"The {topic} market reached a size of $120 billion in 2024, with sales growth of 32.5% and rising consumer demand across the industry.",
	"Competition is intensifying: BYD Group and Tesla Inc remain the leaders, and compared with rivals the top three hold a combined 58% market share.",
	"Battery technology for {topic} keeps improving; patent filings grew 41% and R&D spending exceeded $12 billion, with cell energy density reaching 300 Wh/kg in March 2025.",
	"On the policy side, government subsidy programs are being phased out while new regulation tightens compliance requirements for manufacturers.",
	"A consumer survey found that 64% of respondents would consider {topic} products within two years, and public sentiment has turned positive.",
	"Financial results were strong: combined revenue of the leading companies rose to $85 billion in 2024, profit margins reached 6.8% and investment funding stayed active.",
}

var simParagraphsZH = []string{
	"{topic}市场规模在2024年达到1.2万亿元，销量同比增长32.5%，市场份额持续提升，行业需求保持旺盛。",
	"行业竞争格局加速分化，比亚迪集团与特斯拉公司相比保持领先，龙头企业合计市场份额达到58%。",
	"{topic}相关电池技术专利数量快速增长，研发投入超过400亿元，2025年3月发布的新一代电池能量密度提升至300Wh/kg。",
	"政策层面，政府补贴逐步退坡，监管部门发布新的行业规定，企业合规要求持续提高。",
	"消费者调查显示，超过64%的受访用户愿意在未来两年内选择{topic}产品，公众舆论整体积极。",
	"财务方面，主要企业2024年营收合计达到8500亿元，利润率为6.8%，融资与投资活动保持活跃。",
}

// Simulated is a deterministic search and fetch provider for offline runs and
// tests. Pages returned by Search can then be fetched by URL.
type Simulated struct {
	now   func() time.Time
	mu    sync.RWMutex
	pages map[string]retrieval.Document
}

// NewSimulated creates an empty simulated corpus. A nil clock uses time.Now.
func NewSimulated(now func() time.Time) *Simulated {
	if now == nil {
		now = time.Now
	}
	return &Simulated{now: now, pages: make(map[string]retrieval.Document)}
}

// Search implements SearchProvider.
func (s *Simulated) Search(ctx context.Context, req SearchRequest) ([]discovery.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 || limit > len(simSources) {
		limit = len(simSources)
	}

	han := containsHan(req.Query)
	angles, paragraphs := simAnglesEN, simParagraphsEN
	if han {
		angles, paragraphs = simAnglesZH, simParagraphsZH
	}
	sum := sha1.Sum([]byte(req.Query))
	slug := hex.EncodeToString(sum[:4])
	now := s.now()

	out := make([]discovery.Result, 0, limit)
	for i := 0; i < limit; i++ {
		src := simSources[i]
		angle := angles[i%len(angles)]
		published := now.Add(-time.Duration(i*3) * 24 * time.Hour)

		sep := ": "
		if han {
			sep = "："
		}
		title := req.Query + sep + angle
		u := fmt.Sprintf("https://www.%s/research/%s-%d", src.domain, slug, i)

		s.mu.Lock()
		s.pages[u] = retrieval.Document{
			URL:         u,
			Title:       title,
			Content:     simArticle(req.Query, paragraphs, i, han),
			PublishDate: &published,
		}
		s.mu.Unlock()

		out = append(out, discovery.Result{
			Title:       title,
			URL:         u,
			Snippet:     fmt.Sprintf("%s %s (%s)", req.Query, angle, src.name),
			Source:      src.name,
			PublishDate: &published,
			ContentType: src.contentType,
		})
	}
	return out, nil
}

// Fetch implements PageFetcher.
func (s *Simulated) Fetch(ctx context.Context, u string) (retrieval.Document, error) {
	if err := ctx.Err(); err != nil {
		return retrieval.Document{}, err
	}
	s.mu.RLock()
	doc, ok := s.pages[u]
	s.mu.RUnlock()
	if !ok {
		return retrieval.Document{}, fmt.Errorf("%w: %s", ErrPageNotFound, u)
	}
	return doc, nil
}

// simArticle joins five of the six paragraphs, starting at the result's angle.
func simArticle(query string, paragraphs []string, offset int, han bool) string {
	parts := make([]string, 0, len(paragraphs)-1)
	for j := 0; j < len(paragraphs)-1; j++ {
		p := paragraphs[(offset+j)%len(paragraphs)]
		parts = append(parts, strings.ReplaceAll(p, "{topic}", query))
	}
	if han {
		return strings.Join(parts, "")
	}
	return strings.Join(parts, " ")
}

func containsHan(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}
