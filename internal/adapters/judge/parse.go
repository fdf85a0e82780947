package judge

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/core"
)

var fencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n(.*?)```")

// verdict mirrors core.JudgeResponse with a pointer score so a missing
// score can be told apart from zero.
type verdict struct {
	Score      *float64           `yaml:"score"`
	Confidence *float64           `yaml:"confidence"`
	Reasoning  string             `yaml:"reasoning"`
	Aspects    map[string]float64 `yaml:"aspects"`
	Comment    string             `yaml:"comment"`
}

// ParseResponse extracts a verdict from command output. It accepts a bare
// YAML or JSON document, a fenced code block, or a JSON object embedded in
// surrounding prose. A missing confidence defaults to 1.
func ParseResponse(output string) (core.JudgeResponse, error) {
	output = strings.TrimSpace(output)
	if output == "" {
		return core.JudgeResponse{}, core.ErrProtocol(core.CodeMalformedPayload, "empty judge output")
	}

	var candidates []string
	for _, m := range fencePattern.FindAllStringSubmatch(output, -1) {
		candidates = append(candidates, m[1])
	}
	candidates = append(candidates, output)
	if obj := ExtractJSON(output); obj != "" {
		candidates = append(candidates, obj)
	}

	var lastErr error
	for _, c := range candidates {
		resp, err := decodeVerdict(c)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	return core.JudgeResponse{}, core.ErrProtocol(core.CodeMalformedPayload, lastErr.Error())
}

func decodeVerdict(doc string) (core.JudgeResponse, error) {
	var v verdict
	if err := yaml.Unmarshal([]byte(doc), &v); err != nil {
		return core.JudgeResponse{}, fmt.Errorf("decoding verdict: %w", err)
	}
	if v.Score == nil {
		return core.JudgeResponse{}, fmt.Errorf("verdict has no score")
	}
	resp := core.JudgeResponse{
		Score:      *v.Score,
		Confidence: 1,
		Reasoning:  strings.TrimSpace(v.Reasoning),
		Aspects:    v.Aspects,
		Comment:    strings.TrimSpace(v.Comment),
	}
	if v.Confidence != nil {
		resp.Confidence = *v.Confidence
	}
	if math.IsNaN(resp.Score) {
		return core.JudgeResponse{}, fmt.Errorf("score is not a number")
	}
	return resp, nil
}

// ExtractJSON returns the first balanced JSON object in output, or "".
func ExtractJSON(output string) string {
	start := strings.Index(output, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(output); i++ {
		c := output[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return output[start : i+1]
			}
		}
	}
	return ""
}
