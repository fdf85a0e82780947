package judge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/core"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name       string
		output     string
		wantScore  float64
		wantConf   float64
		wantReason string
	}{
		{
			name:       "plain yaml",
			output:     "score: 7.5\nconfidence: 0.9\nreasoning: clear and correct\n",
			wantScore:  7.5,
			wantConf:   0.9,
			wantReason: "clear and correct",
		},
		{
			name:       "json",
			output:     `{"score": 6, "confidence": 0.5, "reasoning": "ok"}`,
			wantScore:  6,
			wantConf:   0.5,
			wantReason: "ok",
		},
		{
			name:       "fenced block",
			output:     "Here is my verdict.\n```yaml\nscore: 4\nconfidence: 0.7\nreasoning: too short\n```\nThanks.",
			wantScore:  4,
			wantConf:   0.7,
			wantReason: "too short",
		},
		{
			name:       "json inside prose",
			output:     "After review:\n\nmy answer is {\"score\": 8, \"reasoning\": \"uses {braces} fine\"} as requested.\nDone, see above.",
			wantScore:  8,
			wantConf:   1,
			wantReason: "uses {braces} fine",
		},
		{
			name:      "missing confidence defaults to one",
			output:    "score: 3",
			wantScore: 3,
			wantConf:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := ParseResponse(tt.output)
			require.NoError(t, err)
			assert.Equal(t, tt.wantScore, resp.Score)
			assert.Equal(t, tt.wantConf, resp.Confidence)
			assert.Equal(t, tt.wantReason, resp.Reasoning)
		})
	}
}

func TestParseResponse_AspectsAndComment(t *testing.T) {
	resp, err := ParseResponse("score: 6\naspects:\n  clarity: 7\n  accuracy: 5\ncomment: I agree with b\n")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"clarity": 7, "accuracy": 5}, resp.Aspects)
	assert.Equal(t, "I agree with b", resp.Comment)
}

func TestParseResponse_Rejects(t *testing.T) {
	for name, output := range map[string]string{
		"empty":      "   ",
		"no score":   "reasoning: forgot the number",
		"prose only": "I would rather not say.",
		"bad score":  "score: high",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseResponse(output)
			require.Error(t, err)
			assert.Equal(t, core.CodeMalformedPayload, core.GetCode(err))
		})
	}
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a": {"b": "}"}}`, ExtractJSON(`noise {"a": {"b": "}"}} trailing`))
	assert.Equal(t, "", ExtractJSON("no object here"))
	assert.Equal(t, "", ExtractJSON(`{"unterminated": 1`))
}
