// Package stream classifies the text stream produced by the generation
// provider into progress, result and failure signals. The provider
// answers with free-form prose, so classification works over the
// accumulated text with a fixed precedence: failure > result URL >
// progress > fallback error collection.
package stream

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

type EventKind int

const (
	// KindProgress reports a new progress value in [0,100].
	KindProgress EventKind = iota + 1
	// KindResult reports the generated image URL. Emitted at most once.
	KindResult
	// KindFailure reports the provider's explicit failure marker. After
	// it is emitted the parser ignores all further input.
	KindFailure
)

// Event is one classified signal extracted from a fed chunk.
type Event struct {
	Kind     EventKind
	Progress int
	URL      string
	Reason   string
}

type OutcomeKind int

const (
	// OutcomeResult means a result URL was found and no failure marker
	// appeared anywhere in the stream.
	OutcomeResult OutcomeKind = iota + 1
	// OutcomeFailure means the failure marker matched, or the stream
	// ended with neither a result URL nor a failure marker.
	OutcomeFailure
)

// Outcome is the parser's verdict once the stream has ended.
type Outcome struct {
	Kind   OutcomeKind
	URL    string
	Reason string
}

var (
	progressPercentPattern = regexp.MustCompile(`进度：\s*(\d{1,3}(?:\.\d+)?)\s*%`)
	downloadURLPattern     = regexp.MustCompile(`(?:点击)?下载\s*(https?://\S+)`)
	markdownImagePattern   = regexp.MustCompile(`!\[[^\]]*\]\((https?://[^)\s]+)\)`)
	failurePattern         = regexp.MustCompile(`(?m)>\s*生成失败\s*❌\s*(?:\n?>\s*失败原因：\s*(.*))?`)
	jsonBlockPattern       = regexp.MustCompile("(?s)```json\n.*?\n```")
)

var (
	progressKeywords   = []string{"进度", "🏃‍"}
	generatingKeywords = []string{"生成中", "⚡", "绘制中"}
	queuedKeywords     = []string{"排队中", "🕐", "队列中"}
	completionKeywords = []string{"生成完成", "✅", "绘制成功"}
	errorKeywords      = []string{"错误", "异常", "failed", "error", "unable", "cannot", "失败"}
)

// Coarse progress values for qualitative markers. Only applied when
// they exceed the last reported value, so a late "排队中" can never
// walk progress backwards.
const (
	progressQueued     = 10
	progressGenerating = 50
)

const (
	// Fragments at least this long are assumed to be prose rather than
	// an error line and are not collected.
	maxFragmentRunes = 150

	genericAmbiguousMessage = "处理完成，但结果不明确（未找到URL，无特定错误）。"
)

// Parser accumulates provider text deltas and emits classified events.
// Not safe for concurrent use; each generation pipeline owns one.
type Parser struct {
	buf           strings.Builder
	lastProgress  int
	failed        bool
	failureReason string
	urlFound      bool
	resultURL     string
	fragments     []string
	fragmentSeen  map[string]struct{}
}

// NewParser returns a parser whose progress floor is initialProgress;
// progress events are only emitted for strictly greater values.
func NewParser(initialProgress int) *Parser {
	if initialProgress < 0 {
		initialProgress = 0
	}
	return &Parser{
		lastProgress: initialProgress,
		fragmentSeen: make(map[string]struct{}),
	}
}

// Feed appends one text delta and returns the signals it produced, in
// precedence order. After a failure signal Feed returns nil for all
// further input.
func (p *Parser) Feed(delta string) []Event {
	if p.failed || delta == "" {
		return nil
	}

	p.buf.WriteString(delta)
	full := p.buf.String()

	if m := failurePattern.FindStringSubmatch(full); m != nil {
		reason := strings.TrimSpace(m[1])
		msg := "生成失败 ❌"
		if reason != "" {
			msg += " 原因：" + reason
		}
		p.failed = true
		p.failureReason = msg
		return []Event{{Kind: KindFailure, Reason: msg}}
	}

	var events []Event

	// Fenced JSON blocks are structured payloads, not status prose;
	// keep them out of keyword and percentage scanning.
	scannable := jsonBlockPattern.ReplaceAllString(full, "")

	if progress, ok := p.extractProgress(scannable); ok {
		p.lastProgress = progress
		events = append(events, Event{Kind: KindProgress, Progress: progress})
	}

	if !p.urlFound {
		if url := findResultURL(full); url != "" {
			p.urlFound = true
			p.resultURL = url
			if p.lastProgress < 100 {
				p.lastProgress = 100
				events = append(events, Event{Kind: KindProgress, Progress: 100})
			}
			events = append(events, Event{Kind: KindResult, URL: url})
		}
	}

	if !p.urlFound {
		p.collectFragment(delta)
	}

	return events
}

// Finish returns the terminal verdict. Failure latches over a result
// URL regardless of which appeared first in the stream.
func (p *Parser) Finish() Outcome {
	if p.failed {
		return Outcome{Kind: OutcomeFailure, Reason: p.failureReason}
	}
	if p.urlFound {
		return Outcome{Kind: OutcomeResult, URL: p.resultURL}
	}
	if len(p.fragments) > 0 {
		return Outcome{
			Kind:   OutcomeFailure,
			Reason: "检测到潜在问题: " + strings.Join(p.fragments, "; "),
		}
	}
	return Outcome{Kind: OutcomeFailure, Reason: genericAmbiguousMessage}
}

// Progress returns the highest progress value reported so far.
func (p *Parser) Progress() int {
	return p.lastProgress
}

// extractProgress derives the next progress value from the accumulated
// scannable text. Percentages win over qualitative markers; the latest
// percentage in the text is authoritative. A completion marker forces
// 100 even without a percentage.
func (p *Parser) extractProgress(scannable string) (int, bool) {
	candidate := -1

	if containsAny(scannable, progressKeywords) {
		matches := progressPercentPattern.FindAllStringSubmatch(scannable, -1)
		if len(matches) > 0 {
			if v, err := strconv.ParseFloat(matches[len(matches)-1][1], 64); err == nil {
				candidate = int(v)
				if candidate > 100 {
					candidate = 100
				}
			}
		}
	}

	if containsAny(scannable, completionKeywords) {
		candidate = 100
	}

	if candidate < 0 {
		switch {
		case containsAny(scannable, generatingKeywords):
			candidate = progressGenerating
		case containsAny(scannable, queuedKeywords):
			candidate = progressQueued
		}
	}

	if candidate > p.lastProgress {
		return candidate, true
	}
	return 0, false
}

// findResultURL returns the earliest result link in the text, matching
// either a "下载 <url>" phrase or markdown image syntax.
func findResultURL(full string) string {
	type match struct {
		start int
		url   string
	}
	var best *match

	if loc := downloadURLPattern.FindStringSubmatchIndex(full); loc != nil {
		url := strings.TrimRight(full[loc[2]:loc[3]], ".,;:)]}>\"'")
		best = &match{start: loc[0], url: url}
	}
	if loc := markdownImagePattern.FindStringSubmatchIndex(full); loc != nil {
		if best == nil || loc[0] < best.start {
			best = &match{start: loc[0], url: full[loc[2]:loc[3]]}
		}
	}

	if best == nil {
		return ""
	}
	return best.url
}

// collectFragment keeps short error-looking text deltas as candidates
// for a best-effort failure message. Markup, JSON fragments and long
// prose are excluded to avoid false positives.
func (p *Parser) collectFragment(delta string) {
	c := strings.TrimSpace(delta)
	if c == "" || utf8.RuneCountInString(c) >= maxFragmentRunes {
		return
	}
	if strings.HasPrefix(c, "{") || strings.HasPrefix(c, `"`) ||
		strings.HasSuffix(c, "}") || strings.HasSuffix(c, `"`) ||
		strings.Contains(c, "```") {
		return
	}
	for _, prefix := range []string{">", "✅", "![", "[", "🏃‍", "🕐", "⚡"} {
		if strings.HasPrefix(c, prefix) {
			return
		}
	}
	if !containsAny(strings.ToLower(c), errorKeywords) {
		return
	}
	if _, dup := p.fragmentSeen[c]; dup {
		return
	}
	p.fragmentSeen[c] = struct{}{}
	p.fragments = append(p.fragments, c)
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
