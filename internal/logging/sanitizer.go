package logging

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

const redactedMark = "[REDACTED]"

// minSecretLen keeps short env values like "1" or "true" from shredding logs.
const minSecretLen = 6

// Judge commands usually call hosted model APIs, so provider keys are the
// likeliest thing to leak through their stderr.
var providerKeyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9-]{40,}`),
	regexp.MustCompile(`sk-(?:proj-)?[A-Za-z0-9_-]{20,}`),
	regexp.MustCompile(`AIza[a-zA-Z0-9_-]{35}`),
	regexp.MustCompile(`hf_[A-Za-z0-9]{30,}`),
	regexp.MustCompile(`gsk_[A-Za-z0-9]{40,}`),
	regexp.MustCompile(`r8_[A-Za-z0-9]{30,}`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`),
	regexp.MustCompile(`(?i)(?:api[_-]?key|secret|token)["'\s:=]+[a-zA-Z0-9_-]{20,}`),
	regexp.MustCompile(`(?i)password["'\s:=]+[^\s"']{8,}`),
}

// Sanitizer redacts credentials from log records and judge stderr excerpts.
// Besides the provider key shapes it knows, it redacts literal secret values
// registered with AddSecret, such as the env entries of judge commands.
// Safe for concurrent use.
type Sanitizer struct {
	mu       sync.RWMutex
	patterns []*regexp.Regexp
	secrets  *strings.Replacer
	values   []string
}

// NewSanitizer returns a sanitizer with the provider key patterns.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{patterns: append([]*regexp.Regexp(nil), providerKeyPatterns...)}
}

// Sanitize returns input with every secret replaced by [REDACTED].
func (s *Sanitizer) Sanitize(input string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := input
	if s.secrets != nil {
		out = s.secrets.Replace(out)
	}
	for _, re := range s.patterns {
		out = re.ReplaceAllString(out, redactedMark)
	}
	return out
}

// AddPattern registers an extra regular expression to redact.
func (s *Sanitizer) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.patterns = append(s.patterns, re)
	s.mu.Unlock()
	return nil
}

// AddSecret registers literal values to redact. Values shorter than six
// bytes are ignored.
func (s *Sanitizer) AddSecret(values ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range values {
		if len(v) >= minSecretLen {
			s.values = append(s.values, v)
		}
	}
	if len(s.values) == 0 {
		return
	}
	// longest first so a secret containing another is redacted whole
	sort.Slice(s.values, func(i, j int) bool { return len(s.values[i]) > len(s.values[j]) })
	pairs := make([]string, 0, 2*len(s.values))
	for _, v := range s.values {
		pairs = append(pairs, v, redactedMark)
	}
	s.secrets = strings.NewReplacer(pairs...)
}
