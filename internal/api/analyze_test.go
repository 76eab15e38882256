package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/guardline-ai/guardline-core/internal/analysis"
	"github.com/guardline-ai/guardline-core/internal/classifier"
	"github.com/guardline-ai/guardline-core/internal/config"
	"github.com/guardline-ai/guardline-core/internal/guidance"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testGuidance(t *testing.T) *guidance.Provider {
	t.Helper()
	provider, err := guidance.Load(config.GuidanceConfig{DefaultLanguage: "en"})
	if err != nil {
		t.Fatalf("load guidance: %v", err)
	}
	return provider
}

func newTestServer(t *testing.T, clf *classifier.Classifier) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	NewHandler(clf, testGuidance(t), "en", testLogger()).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func postAnalyze(t *testing.T, srv *httptest.Server, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/analyze", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post analyze: %v", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, payload
}

func TestAnalyzeRejectsEmptyTranscript(t *testing.T) {
	srv := newTestServer(t, nil)
	for _, body := range []string{`{}`, `{"transcript":""}`, `{"transcript":"   "}`, `not json`} {
		resp, payload := postAnalyze(t, srv, body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, resp.StatusCode)
		}
		var errResp errorResponse
		if err := json.Unmarshal(payload, &errResp); err != nil {
			t.Fatalf("body %q: decode error response: %v", body, err)
		}
		if errResp.Error != "No transcript provided" {
			t.Fatalf("body %q: unexpected message %q", body, errResp.Error)
		}
	}
}

func TestAnalyzeRuleOnlyBenign(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, payload := postAnalyze(t, srv, `{"transcript":"Hi, how are you doing today?"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, payload)
	}
	var result analysis.Result
	if err := json.Unmarshal(payload, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.RiskLevel != analysis.RiskLow || result.RiskScore != 0 {
		t.Fatalf("expected low/0, got %s/%d", result.RiskLevel, result.RiskScore)
	}
	if len(result.Indicators) != len(analysis.CanonicalIndicators) {
		t.Fatalf("expected %d indicators, got %d", len(analysis.CanonicalIndicators), len(result.Indicators))
	}
	for _, ind := range result.Indicators {
		if ind.Detected {
			t.Fatalf("indicator %s unexpectedly detected", ind.ID)
		}
	}
	if len(result.Guidance) == 0 {
		t.Fatal("expected guidance strings")
	}
}

func TestAnalyzeRuleOnlyScam(t *testing.T) {
	srv := newTestServer(t, nil)
	_, payload := postAnalyze(t, srv,
		`{"transcript":"I am calling from your bank. Share your OTP immediately or your account will be blocked."}`)
	var result analysis.Result
	if err := json.Unmarshal(payload, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.RiskLevel != analysis.RiskHigh {
		t.Fatalf("expected high risk, got %s", result.RiskLevel)
	}
	if result.RiskScore < analysis.HighScoreFloor {
		t.Fatalf("expected score >= %d, got %d", analysis.HighScoreFloor, result.RiskScore)
	}
}

func TestAnalyzeGarbageClassifierOutputStillSucceeds(t *testing.T) {
	backend := classifier.NewMockBackend()
	backend.SetResponse("I cannot comply with that request.", nil)
	clf := classifier.NewWithBackend(config.Default().Classifier, backend, testLogger())
	srv := newTestServer(t, clf)

	resp, payload := postAnalyze(t, srv, `{"transcript":"Hello, is this the front desk speaking?"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, payload)
	}
	var result analysis.Result
	if err := json.Unmarshal(payload, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.RiskLevel != analysis.RiskMedium || result.RiskScore != 50 {
		t.Fatalf("expected neutral medium/50, got %s/%d", result.RiskLevel, result.RiskScore)
	}
	if len(result.Guidance) == 0 {
		t.Fatal("expected non-empty guidance on neutral default")
	}
}

func TestAnalyzeSurfacesRateLimitAndQuota(t *testing.T) {
	cases := []struct {
		err    error
		status int
		msg    string
	}{
		{classifier.ErrRateLimited, http.StatusTooManyRequests, "Rate limit exceeded. Please try again in a moment."},
		{classifier.ErrQuotaExceeded, http.StatusPaymentRequired, "Usage limit reached. Please check your account."},
	}
	for _, tc := range cases {
		backend := classifier.NewMockBackend()
		backend.SetResponse("", tc.err)
		clf := classifier.NewWithBackend(config.Default().Classifier, backend, testLogger())
		srv := newTestServer(t, clf)

		resp, payload := postAnalyze(t, srv, `{"transcript":"Hello, can you hear me alright?"}`)
		if resp.StatusCode != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, resp.StatusCode)
		}
		var errResp errorResponse
		if err := json.Unmarshal(payload, &errResp); err != nil {
			t.Fatalf("%v: decode error response: %v", tc.err, err)
		}
		if errResp.Error != tc.msg {
			t.Fatalf("%v: unexpected message %q", tc.err, errResp.Error)
		}
	}
}

func TestAnalyzeUnavailableFallsBackToRules(t *testing.T) {
	backend := classifier.NewMockBackend()
	backend.SetResponse("", classifier.ErrUnavailable)
	clf := classifier.NewWithBackend(config.Default().Classifier, backend, testLogger())
	srv := newTestServer(t, clf)

	resp, payload := postAnalyze(t, srv,
		`{"transcript":"I am calling from your bank. Share your OTP immediately."}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected rule fallback 200, got %d: %s", resp.StatusCode, payload)
	}
	var result analysis.Result
	if err := json.Unmarshal(payload, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.RiskLevel != analysis.RiskHigh {
		t.Fatalf("expected rule engine high risk, got %s", result.RiskLevel)
	}
}

func TestAnalyzeCORSPreflight(t *testing.T) {
	srv := newTestServer(t, nil)
	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/analyze", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("unexpected allow-origin %q", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Methods"); got == "" {
		t.Fatal("missing allow-methods header")
	}
}

func TestAnalyzeMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, err := http.Get(srv.URL + "/analyze")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}
