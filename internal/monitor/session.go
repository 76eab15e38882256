package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/guardline-ai/guardline-core/internal/analysis"
	"github.com/guardline-ai/guardline-core/internal/config"
)

// Classifier is the AI scoring dependency. It may be nil on a session, in
// which case every pass uses the rule engine only.
type Classifier interface {
	Classify(ctx context.Context, transcript, language string) (analysis.Result, error)
}

// GuidanceFunc resolves localized guidance for a risk level.
type GuidanceFunc func(level analysis.RiskLevel, lang string) []string

// PublishFunc receives every newly applied result for a session.
type PublishFunc func(sessionID string, epoch uint64, result analysis.Result)

type sessionState int

const (
	stateIdle sessionState = iota
	stateMonitoring
	stateStopping
)

// Summary is returned by Stop and feeds the history sink.
type Summary struct {
	SessionID  string
	Result     analysis.Result
	Detected   []analysis.IndicatorID
	Duration   time.Duration
	FinishedAt time.Time
}

// Session monitors one call. It owns the transcript snapshot, the trigger
// timers, and the current result, and guarantees at most one analysis
// dispatch is in flight at any time. Triggers arriving while a dispatch is
// running are dropped, not queued, so a slow classifier call can never
// overwrite a newer result out of order.
//
// All exported methods are safe for concurrent use.
type Session struct {
	id     string
	lang   string
	cfg    config.AnalysisConfig
	clf    Classifier
	guide  GuidanceFunc
	pub    PublishFunc
	logger *slog.Logger
	meters *Metrics

	mu           sync.Mutex
	state        sessionState
	epoch        uint64
	transcript   string
	lastAnalyzed int
	inFlight     bool
	flight       chan struct{} // closed when the current dispatch finishes
	current      analysis.Result
	startedAt    time.Time

	warmup   *time.Timer
	debounce *time.Timer
	ticker   *time.Ticker
	stopCh   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SessionDeps carries the collaborators a session needs.
type SessionDeps struct {
	Classifier Classifier
	Guidance   GuidanceFunc
	Publish    PublishFunc
	Logger     *slog.Logger
	Metrics    *Metrics
}

// NewSession builds an idle session. Call Start to begin monitoring.
func NewSession(parent context.Context, id, lang string, cfg config.AnalysisConfig, deps SessionDeps) *Session {
	ctx, cancel := context.WithCancel(parent)
	guide := deps.Guidance
	if guide == nil {
		guide = func(analysis.RiskLevel, string) []string { return nil }
	}
	pub := deps.Publish
	if pub == nil {
		pub = func(string, uint64, analysis.Result) {}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:     id,
		lang:   lang,
		cfg:    cfg,
		clf:    deps.Classifier,
		guide:  guide,
		pub:    pub,
		logger: logger.With(slog.String("component", "monitor-session"), slog.String("session_id", id)),
		meters: deps.Metrics,
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Start transitions the session to monitoring, seeds the baseline result,
// and arms the warm-up and recurring trigger timers. Starting an already
// monitoring session is a no-op.
func (s *Session) Start(initial string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateIdle {
		return
	}
	s.state = stateMonitoring
	s.epoch++
	s.transcript = initial
	s.lastAnalyzed = 0
	s.inFlight = false
	s.flight = nil
	s.startedAt = time.Now()
	s.current = analysis.Baseline(s.guide(analysis.RiskLow, s.lang))
	s.stopCh = make(chan struct{})

	s.warmup = time.AfterFunc(s.warmupDelay(), s.triggerCheck)
	s.ticker = time.NewTicker(s.interval())
	ticker, stopCh := s.ticker, s.stopCh
	go func() {
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				s.triggerCheck()
			}
		}
	}()

	if s.meters != nil {
		s.meters.sessionStarted(s.ctx)
	}
	s.logger.Info("monitoring started")
}

// Append adds capture text to the transcript. Appends that push the
// transcript past the fast-path threshold arm the debounce timer; a burst of
// appends inside the debounce window collapses to a single trigger because
// each new append resets the timer.
func (s *Session) Append(text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	if s.state != stateMonitoring {
		s.mu.Unlock()
		return
	}
	if s.transcript != "" {
		s.transcript += " "
	}
	s.transcript += text

	if len(s.transcript) >= s.cfg.FastPathChars {
		if s.debounce == nil {
			s.debounce = time.AfterFunc(s.debounceWindow(), s.triggerCheck)
		} else {
			s.debounce.Reset(s.debounceWindow())
		}
	}
	s.mu.Unlock()
}

// Current returns the latest published result.
func (s *Session) Current() analysis.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Snapshot returns a copy of the transcript as of now.
func (s *Session) Snapshot() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript
}

// Stop cancels all timers, runs one final pass over the full transcript when
// it meets the minimum-length condition, clears the transcript, and returns
// the session summary. A dispatch still in flight is given a bounded window
// to finish so the final pass can run after it; a dispatch that outlasts the
// window is not aborted, but its eventual result is discarded because the
// epoch has moved on.
func (s *Session) Stop() Summary {
	s.mu.Lock()
	if s.state != stateMonitoring {
		current := s.current
		s.mu.Unlock()
		return Summary{SessionID: s.id, Result: current, FinishedAt: time.Now()}
	}
	s.state = stateStopping

	if s.warmup != nil {
		s.warmup.Stop()
	}
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)

	flight := s.flight
	inFlight := s.inFlight
	s.mu.Unlock()

	if inFlight && flight != nil {
		select {
		case <-flight:
		case <-time.After(s.dispatchTimeout()):
		}
	}

	s.mu.Lock()
	text := s.transcript
	epoch := s.epoch
	runFinal := !s.inFlight && len(text) >= s.cfg.MinTranscriptChars
	if runFinal {
		s.inFlight = true
	} else {
		// Still in flight after the bounded wait, or too short for a final
		// pass; move the epoch so a straggler result is dropped instead of
		// landing in the summary.
		s.epoch++
	}
	s.mu.Unlock()

	if runFinal {
		s.dispatch(text, epoch)
	}

	s.mu.Lock()
	summary := Summary{
		SessionID:  s.id,
		Result:     s.current,
		Detected:   detectedIDs(s.current),
		Duration:   time.Since(s.startedAt),
		FinishedAt: time.Now(),
	}
	s.transcript = ""
	s.lastAnalyzed = 0
	s.inFlight = false
	s.flight = nil
	s.state = stateIdle
	s.epoch++ // late results from this session are now stale
	s.mu.Unlock()

	if s.meters != nil {
		s.meters.sessionStopped(s.ctx)
	}
	s.logger.Info("monitoring stopped",
		slog.String("risk_level", string(summary.Result.RiskLevel)),
		slog.Int("risk_score", summary.Result.RiskScore))
	return summary
}

// Shutdown stops the session and waits for any in-flight dispatch to exit.
func (s *Session) Shutdown() Summary {
	summary := s.Stop()
	s.cancel()
	s.wg.Wait()
	return summary
}

// triggerCheck dispatches an analysis pass when the transcript meets the
// minimum length and has grown since the last dispatch. It is a no-op while
// another dispatch is in flight: triggers are dropped, not queued.
func (s *Session) triggerCheck() {
	s.mu.Lock()
	if s.state != stateMonitoring || s.inFlight {
		s.mu.Unlock()
		return
	}
	text := s.transcript
	if len(text) < s.cfg.MinTranscriptChars || len(text) <= s.lastAnalyzed {
		s.mu.Unlock()
		return
	}
	s.inFlight = true
	s.flight = make(chan struct{})
	flight := s.flight
	epoch := s.epoch
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(flight)
		s.dispatch(text, epoch)
	}()
}

// dispatch analyzes exactly the snapshot it was given; appends arriving
// during a classifier call cannot change its input. The caller must have set
// the in-flight flag. Classifier failures fall back to the rule result so a
// pass always produces something publishable.
func (s *Session) dispatch(text string, epoch uint64) {
	start := time.Now()
	path := "rule"

	result := analysis.RuleResult(text, func(level analysis.RiskLevel) []string {
		return s.guide(level, s.lang)
	})

	if s.clf != nil {
		ctx, cancelDispatch := context.WithTimeout(s.ctx, s.dispatchTimeout())
		aiResult, err := s.clf.Classify(ctx, text, s.lang)
		cancelDispatch()
		if err != nil {
			s.logger.Warn("classifier pass failed, falling back to rule result",
				slog.String("error", err.Error()))
			if s.meters != nil {
				s.meters.fallback(s.ctx)
			}
		} else {
			result = aiResult
			path = "ai"
		}
	}

	s.mu.Lock()
	if s.epoch != epoch {
		// Session stopped or restarted while we were out; drop the result
		// and leave the new epoch's bookkeeping alone.
		s.mu.Unlock()
		return
	}
	s.current = result
	s.lastAnalyzed = len(text)
	s.inFlight = false
	s.mu.Unlock()

	if s.meters != nil {
		s.meters.dispatch(s.ctx, path, time.Since(start))
	}
	s.pub(s.id, epoch, result)
}

func (s *Session) warmupDelay() time.Duration {
	return time.Duration(s.cfg.WarmupDelayMS) * time.Millisecond
}

func (s *Session) interval() time.Duration {
	return time.Duration(s.cfg.IntervalMS) * time.Millisecond
}

func (s *Session) debounceWindow() time.Duration {
	return time.Duration(s.cfg.DebounceMS) * time.Millisecond
}

func (s *Session) dispatchTimeout() time.Duration {
	return time.Duration(s.cfg.DispatchTimeoutMS) * time.Millisecond
}

func detectedIDs(res analysis.Result) []analysis.IndicatorID {
	var ids []analysis.IndicatorID
	for _, ind := range res.Indicators {
		if ind.Detected {
			ids = append(ids, ind.ID)
		}
	}
	return ids
}
