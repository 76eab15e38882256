package classifier

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/guardline-ai/guardline-core/internal/analysis"
	"github.com/guardline-ai/guardline-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestClassifier(backend Backend) *Classifier {
	return NewWithBackend(config.ClassifierConfig{MaxTokens: 256}, backend, newLogger())
}

func TestClassifyValidResponse(t *testing.T) {
	mock := NewMockBackend()
	mock.SetResponse(`{
		"riskLevel": "high",
		"riskScore": 82,
		"indicators": [
			{"id": "otp_request", "detected": true, "confidence": 0.92, "evidence": "share your otp"},
			{"id": "urgency", "detected": true, "confidence": 0.8}
		],
		"guidance": ["Hang up immediately.", "Never share an OTP."]
	}`, nil)

	res, err := newTestClassifier(mock).Classify(context.Background(), "share your otp now", "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.RiskLevel != analysis.RiskHigh || res.RiskScore != 82 {
		t.Fatalf("expected high/82, got %s/%d", res.RiskLevel, res.RiskScore)
	}
	if len(res.Indicators) != 7 {
		t.Fatalf("expected 7 indicators after backfill, got %d", len(res.Indicators))
	}
	var otp analysis.Indicator
	for _, ind := range res.Indicators {
		if ind.ID == analysis.IndOTPRequest {
			otp = ind
		}
	}
	if !otp.Detected || otp.Evidence != "share your otp" {
		t.Fatalf("otp indicator not preserved: %+v", otp)
	}
}

func TestClassifyCodeFencedResponse(t *testing.T) {
	mock := NewMockBackend()
	mock.SetResponse("```json\n"+`{"riskLevel":"medium","riskScore":30,"indicators":[],"guidance":["Be careful."]}`+"\n```", nil)

	res, err := newTestClassifier(mock).Classify(context.Background(), "some call text", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.RiskLevel != analysis.RiskMedium || res.RiskScore != 30 {
		t.Fatalf("expected medium/30, got %s/%d", res.RiskLevel, res.RiskScore)
	}
}

func TestClassifyGarbageYieldsNeutralDefault(t *testing.T) {
	cases := []string{
		"I'm sorry, I can't help with that.",
		`{"riskLevel":"extreme","riskScore":10,"indicators":[],"guidance":[]}`,
		`{"riskLevel":"high","riskScore":"eighty","indicators":[]}`,
		"```\ntotal nonsense\n```",
		"",
	}
	for _, content := range cases {
		mock := NewMockBackend()
		mock.SetResponse(content, nil)
		res, err := newTestClassifier(mock).Classify(context.Background(), "hello there", "en")
		if err != nil {
			t.Fatalf("content %q: unexpected error: %v", content, err)
		}
		if res.RiskLevel != analysis.RiskMedium || res.RiskScore != 50 {
			t.Fatalf("content %q: expected neutral medium/50, got %s/%d", content, res.RiskLevel, res.RiskScore)
		}
		if len(res.Indicators) != 7 {
			t.Fatalf("content %q: expected 7 indicators, got %d", content, len(res.Indicators))
		}
		if len(res.Guidance) == 0 {
			t.Fatalf("content %q: neutral default lost its guidance", content)
		}
	}
}

func TestClassifySurfacesBackendErrors(t *testing.T) {
	mock := NewMockBackend()
	mock.SetResponse("", ErrRateLimited)

	_, err := newTestClassifier(mock).Classify(context.Background(), "hello", "en")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestClassifyHighFloorApplied(t *testing.T) {
	mock := NewMockBackend()
	mock.SetResponse(`{"riskLevel":"high","riskScore":55,"indicators":[],"guidance":["Hang up."]}`, nil)

	res, err := newTestClassifier(mock).Classify(context.Background(), "text", "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.RiskScore != analysis.HighScoreFloor {
		t.Fatalf("expected floored score %d, got %d", analysis.HighScoreFloor, res.RiskScore)
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{`{"a":1}`, `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}
	for _, c := range cases {
		if got := stripCodeFence(c.in); got != c.want {
			t.Fatalf("stripCodeFence(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestParseClassificationRoundsFractionalScore(t *testing.T) {
	res, ok := parseClassification(`{"riskLevel":"medium","riskScore":32.6,"indicators":[],"guidance":["x"]}`)
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	if res.RiskScore != 33 {
		t.Fatalf("expected rounded score 33, got %d", res.RiskScore)
	}
}
