package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/guardline-ai/guardline-core/internal/analysis"
	"github.com/guardline-ai/guardline-core/internal/config"
)

// Typed failure kinds surfaced to callers. A malformed completion is not one
// of them: it is recovered locally to the neutral default and never escapes
// this package as an error.
var (
	ErrRateLimited   = errors.New("classifier: rate limited")
	ErrQuotaExceeded = errors.New("classifier: quota exceeded")
	ErrUnavailable   = errors.New("classifier: upstream unavailable")
)

// Request is the completion request handed to a backend.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Backend produces one completion for a request. Implementations map their
// transport failures onto the package's typed errors.
type Backend interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Classifier scores call transcripts with a language model and enforces the
// result contract on whatever the model returns.
type Classifier struct {
	cfg     config.ClassifierConfig
	backend Backend
	logger  *slog.Logger
}

// New builds a Classifier with the backend selected by cfg.Mode.
func New(cfg config.ClassifierConfig, logger *slog.Logger) (*Classifier, error) {
	var backend Backend
	var err error
	switch cfg.Mode {
	case "openai":
		backend = newOpenAIBackend(cfg)
	case "ollama":
		backend = newOllamaBackend(cfg)
	case "exec":
		backend, err = newExecBackend(cfg.Command)
		if err != nil {
			return nil, err
		}
	case "mock", "":
		backend = NewMockBackend()
	default:
		return nil, fmt.Errorf("unknown classifier mode %q", cfg.Mode)
	}
	return NewWithBackend(cfg, backend, logger), nil
}

// NewWithBackend builds a Classifier around an explicit backend. Used by
// tests and by callers that construct their own transport.
func NewWithBackend(cfg config.ClassifierConfig, backend Backend, logger *slog.Logger) *Classifier {
	return &Classifier{
		cfg:     cfg,
		backend: backend,
		logger:  logger.With(slog.String("component", "classifier")),
	}
}

const systemPrompt = `You are a voice scam detection system analyzing live phone call transcripts.

Score the transcript for scam likelihood and report these seven indicator categories:
- impersonation: caller pretends to be a bank, company, or service provider
- urgency: pressure to act immediately, threats of blocking or suspension
- emotional: fear, secrecy, or family-emergency manipulation
- authority: claims of police, courts, tax or government authority
- otp_request: any request for an OTP, verification code, PIN, or card details
- money_request: any request to transfer money, buy gift cards, or pay fees
- voice_pattern: speech characteristics typical of scripted scam callers

Always treat these as high risk regardless of context: requests to share an OTP or
verification code, threats of immediate arrest, and demands for gift card payments.

Risk bands: riskScore 50-100 means riskLevel "high", 25-49 "medium", 0-24 "low".

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "riskLevel": "low|medium|high",
  "riskScore": <0-100>,
  "indicators": [
    {"id": "<indicator id>", "detected": <bool>, "confidence": <0.0-1.0>, "evidence": "<quote or empty>"}
  ],
  "guidance": ["<short advice for the call recipient>"]
}`

// Classify scores a transcript. Transport failures are returned as one of the
// typed errors; an unparseable or invalid completion yields the neutral
// default result and a nil error.
func (c *Classifier) Classify(ctx context.Context, transcript, language string) (analysis.Result, error) {
	prompt := fmt.Sprintf("Transcript:\n%s", transcript)
	if language != "" {
		prompt += fmt.Sprintf("\n\nWrite the guidance strings in language code %q.", language)
	}

	content, err := c.backend.Complete(ctx, Request{
		System:      systemPrompt,
		Prompt:      prompt,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return analysis.Result{}, err
	}

	result, ok := parseClassification(content)
	if !ok {
		c.logger.Warn("unparseable classifier response, using neutral default",
			slog.Int("content_length", len(content)))
		return analysis.NeutralDefault(), nil
	}
	return result, nil
}

// wireResult is the JSON shape the model is asked to produce. The score is
// decoded as a float so fractional model output is rounded instead of
// rejected; non-numeric scores still fail decoding.
type wireResult struct {
	RiskLevel  string   `json:"riskLevel"`
	RiskScore  float64  `json:"riskScore"`
	Indicators []struct {
		ID         string  `json:"id"`
		Detected   bool    `json:"detected"`
		Confidence float64 `json:"confidence"`
		Evidence   string  `json:"evidence"`
	} `json:"indicators"`
	Guidance []string `json:"guidance"`
}

// parseClassification is the two-stage parse: strip an optional markdown code
// fence, JSON-decode, then validate against the result model. Any failure at
// either stage reports ok=false; it never panics or returns an error.
func parseClassification(content string) (analysis.Result, bool) {
	cleaned := stripCodeFence(content)

	var w wireResult
	if err := json.Unmarshal([]byte(cleaned), &w); err != nil {
		return analysis.Result{}, false
	}

	switch analysis.RiskLevel(w.RiskLevel) {
	case analysis.RiskLow, analysis.RiskMedium, analysis.RiskHigh:
	default:
		return analysis.Result{}, false
	}
	if math.IsNaN(w.RiskScore) || math.IsInf(w.RiskScore, 0) {
		return analysis.Result{}, false
	}

	indicators := make([]analysis.Indicator, 0, len(w.Indicators))
	for _, ind := range w.Indicators {
		indicators = append(indicators, analysis.Indicator{
			ID:         analysis.IndicatorID(ind.ID),
			Type:       analysis.IndicatorID(ind.ID),
			Detected:   ind.Detected,
			Confidence: ind.Confidence,
			Evidence:   ind.Evidence,
		})
	}

	return analysis.Normalize(analysis.Result{
		RiskLevel:  analysis.RiskLevel(w.RiskLevel),
		RiskScore:  int(math.Round(w.RiskScore)),
		Indicators: indicators,
		Guidance:   w.Guidance,
	}), true
}

// stripCodeFence removes an optional markdown code fence (```json ... ```)
// that some models wrap around JSON output. Content without a fence is
// returned trimmed and otherwise untouched.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
