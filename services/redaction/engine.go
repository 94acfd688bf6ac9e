// Package redaction scrubs credentials from tool output before it leaves the
// pipeline.
package redaction

import (
	"regexp"
	"sort"
	"strings"
)

// Finding locates one redacted value. Offset is the byte position in the text
// as it stood when the matcher ran.
type Finding struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
}

// Matcher is one credential shape. When Group is set only the first capture
// group that took part in the match is replaced, otherwise the whole match is.
type Matcher struct {
	Name    string
	Pattern *regexp.Regexp
	Group   bool
}

// Placeholder returns the text that replaces a value found by the named matcher.
func Placeholder(name string) string {
	return "[REDACTED:" + name + "]"
}

// Values never start with '[' so a placeholder is not matched twice.
var defaultMatchers = []Matcher{
	// cloud access keys
	{Name: "aws_access_key", Pattern: regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`)},
	{Name: "aws_secret_key", Pattern: regexp.MustCompile(`(?i)aws_secret_access_key["']?\s*[:=]\s*["']?([A-Za-z0-9/+=]{40})`), Group: true},
	{Name: "gcp_api_key", Pattern: regexp.MustCompile(`\bAIza[0-9A-Za-z_\-]{35}\b`)},

	// VCS tokens
	{Name: "github_token", Pattern: regexp.MustCompile(`\b(?:ghp|gho|ghu|ghs|ghr)_[A-Za-z0-9]{36,}\b`)},
	{Name: "github_pat", Pattern: regexp.MustCompile(`\bgithub_pat_[A-Za-z0-9_]{22,}\b`)},
	{Name: "gitlab_token", Pattern: regexp.MustCompile(`\bglpat-[A-Za-z0-9_\-]{20,}\b`)},

	// bearer tokens
	{Name: "bearer_token", Pattern: regexp.MustCompile(`(?i)\bbearer\s+([A-Za-z0-9_\-.~+/]{20,}=*)`), Group: true},
	{Name: "jwt", Pattern: regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]+\.eyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+`)},

	// key=value secrets
	// A quoted value of any shape, or a bare value that ends the token. Bare
	// values stop at '.' and '(' so member access and calls stay intact.
	{Name: "generic_secret", Pattern: regexp.MustCompile(`(?i)(?:api[_-]?key|secret[_-]?key|client[_-]?secret|access[_-]?token|auth[_-]?token|password|passwd|pwd|secret|token)["']?\s*[:=]\s*(?:["']([^\s"'\[][^\s"']{7,})["']|([^\s"'\[;,().][^\s"',;().]{7,})(?:[\s;,'"]|$))`), Group: true},

	// PEM blocks
	{Name: "private_key", Pattern: regexp.MustCompile(`-----BEGIN (?:[A-Z]+ )*PRIVATE KEY-----[\s\S]*?-----END (?:[A-Z]+ )*PRIVATE KEY-----`)},

	// connection strings with credentials
	// The password runs to the last '@' before the host, so raw '@' in it is covered.
	{Name: "connection_string", Pattern: regexp.MustCompile(`(?i)\b(?:postgres(?:ql)?|mysql|mariadb|mongodb(?:\+srv)?|rediss?|amqps?)://[^\s:/@'"]*:([^\s'"\[][^\s'"]*)@[^\s@/'"]+`), Group: true},

	// provider API keys
	{Name: "anthropic_key", Pattern: regexp.MustCompile(`\bsk-ant-[A-Za-z0-9_\-]{20,}`)},
	{Name: "openai_key", Pattern: regexp.MustCompile(`\bsk-(?:proj-)?[A-Za-z0-9_\-]{20,}`)},
	{Name: "stripe_key", Pattern: regexp.MustCompile(`\b(?:sk|rk)_(?:live|test)_[0-9A-Za-z]{24,}\b`)},
	{Name: "slack_token", Pattern: regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9\-]{10,}\b`)},

	// env file assignments
	{Name: "env_secret", Pattern: regexp.MustCompile(`(?m)^\s*(?:export\s+)?[A-Za-z0-9_]*(?:SECRET|TOKEN|PASSWORD|PASSWD|API_KEY|PRIVATE_KEY|ACCESS_KEY|CREDENTIALS?)[A-Za-z0-9_]*\s*=\s*["']?([^\s"'\[#][^\s"'#]*)`), Group: true},
}

// DefaultMatchers returns a copy of the built-in matcher list in evaluation order.
func DefaultMatchers() []Matcher {
	return append([]Matcher(nil), defaultMatchers...)
}

// Engine applies matchers in order over progressively redacted text. It holds
// no mutable state and is safe for concurrent use.
type Engine struct {
	matchers []Matcher
}

// NewEngine uses matchers, or DefaultMatchers when none are given.
func NewEngine(matchers ...Matcher) *Engine {
	if len(matchers) == 0 {
		matchers = DefaultMatchers()
	}
	return &Engine{matchers: matchers}
}

// Scan returns text with every match replaced by its placeholder, and one
// finding per replacement.
func (e *Engine) Scan(text string) (string, []Finding) {
	var findings []Finding
	for _, m := range e.matchers {
		text, findings = apply(m, text, findings)
	}
	return text, findings
}

func apply(m Matcher, text string, findings []Finding) (string, []Finding) {
	matches := m.Pattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text, findings
	}

	placeholder := Placeholder(m.Name)
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, loc := range matches {
		start, end := loc[0], loc[1]
		if m.Group {
			g := firstGroup(loc)
			if g < 0 {
				continue
			}
			start, end = loc[g], loc[g+1]
		}
		b.WriteString(text[last:start])
		b.WriteString(placeholder)
		last = end
		findings = append(findings, Finding{Type: m.Name, Offset: start})
	}
	b.WriteString(text[last:])
	return b.String(), findings
}

// firstGroup returns the index in loc of the first participating capture
// group, or -1.
func firstGroup(loc []int) int {
	for i := 2; i+1 < len(loc); i += 2 {
		if loc[i] >= 0 {
			return i
		}
	}
	return -1
}

// DistinctTypes returns the sorted set of finding types.
func DistinctTypes(findings []Finding) []string {
	seen := make(map[string]struct{}, len(findings))
	types := make([]string, 0, len(findings))
	for _, f := range findings {
		if _, ok := seen[f.Type]; ok {
			continue
		}
		seen[f.Type] = struct{}{}
		types = append(types, f.Type)
	}
	sort.Strings(types)
	return types
}
