package agent

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const plannerPrompt = "You are a research planner. Outline the searches, sources and report sections " +
	"needed to answer the request. Be brief."

const responderPrompt = "You are a research analyst. Rewrite the draft report into a clear answer for the " +
	"user. Keep every figure and source from the draft; do not invent data."

// leadVerbs are request prefixes that are not part of the research topic.
var leadVerbs = []string{
	"请帮我分析一下", "请帮我分析", "请分析", "帮我分析", "分析一下", "分析",
	"请研究", "研究一下", "研究", "调研一下", "调研", "了解一下",
	"please analyze", "please research", "analyze", "analyse", "research",
	"investigate", "tell me about", "look into",
}

// ExtractTopic strips a leading instruction verb and trailing punctuation from a
// request so the remainder can seed search queries.
func ExtractTopic(message string) string {
	topic := strings.TrimSpace(message)
	lower := strings.ToLower(topic)
	for _, v := range leadVerbs {
		if !strings.HasPrefix(lower, v) {
			continue
		}
		rest := topic[len(v):]
		// "researcher" is not "research" + "er".
		if r, _ := utf8.DecodeRuneInString(rest); r < utf8.RuneSelf && unicode.IsLetter(r) {
			continue
		}
		topic = strings.TrimSpace(rest)
		break
	}
	topic = strings.TrimRightFunc(topic, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
	topic = strings.TrimLeftFunc(topic, func(r rune) bool {
		return r == ':' || r == '：' || unicode.IsSpace(r)
	})
	if topic == "" {
		return strings.TrimSpace(message)
	}
	return topic
}

// runOptions are the per-run inputs after request context overrides.
type runOptions struct {
	topic      string
	seeds      []string
	scope      string
	timeRange  string
	dataTypes  []string
	categories []string
}

// resolveOptions applies request context keys (topic, queries, scope,
// time_range, data_types, categories) over the configured defaults.
func resolveOptions(s Settings, message string, rc map[string]any) runOptions {
	o := runOptions{
		topic:      ExtractTopic(message),
		scope:      s.Scope,
		timeRange:  s.TimeRange,
		dataTypes:  s.DataTypes,
		categories: s.Categories,
	}
	if v := contextString(rc, "topic"); v != "" {
		o.topic = v
	}
	if v := contextString(rc, "scope"); v != "" {
		o.scope = v
	}
	if v := contextString(rc, "time_range"); v != "" {
		o.timeRange = v
	}
	if v := contextStrings(rc, "data_types"); len(v) > 0 {
		o.dataTypes = v
	}
	if v := contextStrings(rc, "categories"); len(v) > 0 {
		o.categories = v
	}
	o.seeds = contextStrings(rc, "queries")
	if len(o.seeds) == 0 {
		o.seeds = []string{o.topic}
	}
	return o
}

func contextString(rc map[string]any, key string) string {
	if s, ok := rc[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func contextStrings(rc map[string]any, key string) []string {
	switch v := rc[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case string:
		if strings.TrimSpace(v) != "" {
			return []string{strings.TrimSpace(v)}
		}
	}
	return nil
}

// planText is the offline plan shown as thinking output.
func planText(o runOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research plan for %s\n", o.topic)
	fmt.Fprintf(&b, "1. Search %s (scope %s, time range %s)\n", strings.Join(o.seeds, "; "), o.scope, o.timeRange)
	b.WriteString("2. Fetch the highest ranked sources and extract figures, dates and companies\n")
	b.WriteString("3. Group findings by category and assess confidence\n")
	b.WriteString("4. Synthesize a structured report")
	return b.String()
}
