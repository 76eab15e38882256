package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/guardline-ai/guardline-core/internal/analysis"
	"github.com/guardline-ai/guardline-core/internal/classifier"
	"github.com/guardline-ai/guardline-core/internal/config"
)

type fakeClassifier struct {
	mu        sync.Mutex
	calls     int
	block     chan struct{}
	ignoreCtx bool
	err       error
	result    analysis.Result
	resultFn  func(transcript string) analysis.Result
}

func (f *fakeClassifier) Classify(ctx context.Context, transcript, language string) (analysis.Result, error) {
	f.mu.Lock()
	f.calls++
	block, err, result := f.block, f.err, f.result
	if f.resultFn != nil {
		result = f.resultFn(transcript)
	}
	ignoreCtx := f.ignoreCtx
	f.mu.Unlock()
	if block != nil {
		if ignoreCtx {
			<-block
		} else {
			select {
			case <-block:
			case <-ctx.Done():
				return analysis.Result{}, ctx.Err()
			}
		}
	}
	if err != nil {
		return analysis.Result{}, err
	}
	return result, nil
}

func (f *fakeClassifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testAnalysisConfig() config.AnalysisConfig {
	return config.AnalysisConfig{
		MinTranscriptChars: 15,
		FastPathChars:      10,
		WarmupDelayMS:      60000,
		IntervalMS:         60000,
		DebounceMS:         30,
		DispatchTimeoutMS:  2000,
	}
}

func newTestSession(t *testing.T, cfg config.AnalysisConfig, clf Classifier, published chan analysis.Result) *Session {
	t.Helper()
	sess := NewSession(context.Background(), "sess-test", "en", cfg, SessionDeps{
		Classifier: clf,
		Publish: func(_ string, _ uint64, result analysis.Result) {
			published <- result
		},
	})
	t.Cleanup(func() { sess.Shutdown() })
	return sess
}

func waitPublish(t *testing.T, published chan analysis.Result, timeout time.Duration) analysis.Result {
	t.Helper()
	select {
	case result := <-published:
		return result
	case <-time.After(timeout):
		t.Fatalf("no result published within %v", timeout)
		return analysis.Result{}
	}
}

func assertNoPublish(t *testing.T, published chan analysis.Result, window time.Duration) {
	t.Helper()
	select {
	case result := <-published:
		t.Fatalf("unexpected publish: %+v", result)
	case <-time.After(window):
	}
}

func TestSessionBelowMinimumDoesNotDispatch(t *testing.T) {
	published := make(chan analysis.Result, 8)
	sess := newTestSession(t, testAnalysisConfig(), nil, published)
	sess.Start("")

	// 14 characters: past the fast-path threshold, below the minimum.
	sess.Append("too short yet.")
	assertNoPublish(t, published, 200*time.Millisecond)

	// Growing past the minimum makes the next debounce trigger dispatch.
	sess.Append("ok")
	result := waitPublish(t, published, time.Second)
	if result.RiskLevel != analysis.RiskLow {
		t.Fatalf("expected low risk for benign text, got %s", result.RiskLevel)
	}
}

func TestSessionSingleFlightDropsTriggersWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	clf := &fakeClassifier{
		block:  release,
		result: analysis.Result{RiskLevel: analysis.RiskMedium, RiskScore: 40},
	}
	published := make(chan analysis.Result, 8)
	sess := newTestSession(t, testAnalysisConfig(), clf, published)
	sess.Start("")

	sess.Append("they asked for my verification code")
	deadline := time.Now().Add(time.Second)
	for clf.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first dispatch never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// These debounce triggers land while the classifier call is in flight
	// and must be dropped, not queued.
	sess.Append("please read it out")
	sess.Append("right now")
	time.Sleep(150 * time.Millisecond)

	close(release)
	result := waitPublish(t, published, time.Second)
	if result.RiskScore != 40 {
		t.Fatalf("expected the in-flight result, got score %d", result.RiskScore)
	}
	assertNoPublish(t, published, 200*time.Millisecond)
	if got := clf.callCount(); got != 1 {
		t.Fatalf("expected exactly one classifier call, got %d", got)
	}
}

func TestSessionDebounceCollapsesBursts(t *testing.T) {
	cfg := testAnalysisConfig()
	cfg.DebounceMS = 60
	published := make(chan analysis.Result, 8)
	sess := newTestSession(t, cfg, nil, published)
	sess.Start("")

	sess.Append("hello there,")
	time.Sleep(10 * time.Millisecond)
	sess.Append("how are you")
	time.Sleep(10 * time.Millisecond)
	sess.Append("doing today")

	waitPublish(t, published, time.Second)
	assertNoPublish(t, published, 250*time.Millisecond)
}

func TestSessionClassifierFailureFallsBackToRules(t *testing.T) {
	clf := &fakeClassifier{err: classifier.ErrUnavailable}
	published := make(chan analysis.Result, 8)
	sess := newTestSession(t, testAnalysisConfig(), clf, published)
	sess.Start("")

	sess.Append("I am calling from your bank, share the OTP immediately")
	result := waitPublish(t, published, time.Second)
	if result.RiskLevel != analysis.RiskHigh {
		t.Fatalf("expected rule fallback to flag high risk, got %s", result.RiskLevel)
	}
	if result.RiskScore < analysis.HighScoreFloor {
		t.Fatalf("expected floored high score, got %d", result.RiskScore)
	}
}

func TestSessionStopRunsFinalPass(t *testing.T) {
	cfg := testAnalysisConfig()
	cfg.DebounceMS = 60000 // no automatic trigger fires during the test
	published := make(chan analysis.Result, 8)
	sess := newTestSession(t, cfg, nil, published)
	sess.Start("")

	sess.Append("I am calling from your bank, share the OTP immediately")
	summary := sess.Stop()

	if summary.Result.RiskLevel != analysis.RiskHigh {
		t.Fatalf("expected final pass to run on stop, got %s", summary.Result.RiskLevel)
	}
	if len(summary.Detected) == 0 {
		t.Fatal("expected detected indicators in the summary")
	}
	if summary.Duration <= 0 {
		t.Fatalf("expected positive duration, got %v", summary.Duration)
	}
	waitPublish(t, published, time.Second)

	if got := sess.Snapshot(); got != "" {
		t.Fatalf("expected transcript cleared after stop, got %q", got)
	}
}

func TestSessionStopBelowMinimumSkipsFinalPass(t *testing.T) {
	cfg := testAnalysisConfig()
	cfg.DebounceMS = 60000
	published := make(chan analysis.Result, 8)
	sess := newTestSession(t, cfg, nil, published)
	sess.Start("")

	sess.Append("hi")
	summary := sess.Stop()
	if summary.Result.RiskLevel != analysis.RiskLow || summary.Result.RiskScore != 0 {
		t.Fatalf("expected baseline result, got %s/%d", summary.Result.RiskLevel, summary.Result.RiskScore)
	}
	assertNoPublish(t, published, 150*time.Millisecond)
}

func TestSessionStopWaitsForInFlightThenRunsFinalPass(t *testing.T) {
	release := make(chan struct{})
	clf := &fakeClassifier{
		block: release,
		resultFn: func(transcript string) analysis.Result {
			// Score by length so each pass is distinguishable by its snapshot.
			return analysis.Result{RiskLevel: analysis.RiskMedium, RiskScore: len(transcript)}
		},
	}
	published := make(chan analysis.Result, 8)
	sess := newTestSession(t, testAnalysisConfig(), clf, published)
	sess.Start("")

	sess.Append("they asked for my verification code")
	deadline := time.Now().Add(time.Second)
	for clf.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("dispatch never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Grows the transcript while the first dispatch is out; the pass that
	// covers it must be the final one that stop runs.
	sess.Append("please stay on the line")
	full := sess.Snapshot()

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()
	summary := sess.Stop()

	if got := clf.callCount(); got != 2 {
		t.Fatalf("expected the in-flight pass plus one final pass, got %d calls", got)
	}
	if summary.Result.RiskScore != len(full) {
		t.Fatalf("expected summary from the full transcript (score %d), got %d", len(full), summary.Result.RiskScore)
	}
	first := waitPublish(t, published, time.Second)
	if first.RiskScore == len(full) {
		t.Fatalf("expected the in-flight result first, got score %d", first.RiskScore)
	}
	final := waitPublish(t, published, time.Second)
	if final.RiskScore != len(full) {
		t.Fatalf("expected final publish over the full transcript, got score %d", final.RiskScore)
	}
}

func TestSessionLateResultDiscardedAfterStop(t *testing.T) {
	release := make(chan struct{})
	clf := &fakeClassifier{
		block:     release,
		ignoreCtx: true, // a stuck backend that outlasts the stop wait
		result:    analysis.Result{RiskLevel: analysis.RiskHigh, RiskScore: 90},
	}
	cfg := testAnalysisConfig()
	cfg.DispatchTimeoutMS = 100
	published := make(chan analysis.Result, 8)
	sess := newTestSession(t, cfg, clf, published)
	sess.Start("")

	sess.Append("they asked for my verification code")
	deadline := time.Now().Add(time.Second)
	for clf.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("dispatch never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	summary := sess.Stop()
	close(release)
	time.Sleep(100 * time.Millisecond)

	if summary.Result.RiskScore == 90 {
		t.Fatal("late classifier result leaked into the summary")
	}
	assertNoPublish(t, published, 150*time.Millisecond)
	if got := sess.Current().RiskScore; got == 90 {
		t.Fatalf("late result applied after stop: score %d", got)
	}
}
