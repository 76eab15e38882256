package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/guardline-ai/guardline-core/internal/analysis"
	"github.com/guardline-ai/guardline-core/internal/bus"
	"github.com/guardline-ai/guardline-core/internal/capture"
	"github.com/guardline-ai/guardline-core/internal/config"
	"github.com/guardline-ai/guardline-core/internal/guidance"
	"github.com/guardline-ai/guardline-core/internal/history"
	"github.com/guardline-ai/guardline-core/internal/protocol"
)

// Service owns one session per live call. It consumes call events from a
// capture source, publishes risk updates on the bus, and records a summary
// in the history store when a call ends.
type Service struct {
	cfg      config.AnalysisConfig
	lang     string
	source   capture.Source
	bus      *bus.Client
	clf      Classifier
	guide    *guidance.Provider
	store    *history.Store
	logger   *slog.Logger
	meters   *Metrics
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	sessions map[string]*Session
	started  bool
}

// ServiceDeps carries the collaborators the monitor service wires into each
// session. Bus and Store may be nil; Classifier may be nil to run rule-only.
type ServiceDeps struct {
	Source     capture.Source
	Bus        *bus.Client
	Classifier Classifier
	Guidance   *guidance.Provider
	Store      *history.Store
	Metrics    *Metrics
}

func NewService(parent context.Context, cfg config.AnalysisConfig, defaultLang string, deps ServiceDeps, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	source := deps.Source
	if source == nil {
		source = capture.NoopSource{}
	}
	return &Service{
		cfg:      cfg,
		lang:     defaultLang,
		source:   source,
		bus:      deps.Bus,
		clf:      deps.Classifier,
		guide:    deps.Guidance,
		store:    deps.Store,
		logger:   logger.With(slog.String("component", "monitor")),
		meters:   deps.Metrics,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
}

// Start begins consuming call events. Without a supported capture source the
// service stays idle and one-shot analysis remains the only entry point.
func (s *Service) Start() error {
	if !s.source.Supported() {
		s.logger.Info("capture source unavailable, live monitoring disabled")
		return nil
	}
	err := s.source.Start(s.ctx, capture.Events{
		OnSessionStart: s.handleSessionStart,
		OnSessionEnd:   s.handleSessionEnd,
		OnSegment:      s.handleSegment,
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

// Close stops capture and finalizes every live session, recording each one.
func (s *Service) Close() {
	s.source.Stop()
	s.mu.Lock()
	live := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		live = append(live, sess)
	}
	s.sessions = make(map[string]*Session)
	s.started = false
	s.mu.Unlock()

	for _, sess := range live {
		s.record(sess.Shutdown())
	}
	s.cancel()
}

func (s *Service) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.source.Supported() || s.started
}

// ActiveSessions reports the number of calls currently monitored.
func (s *Service) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Service) handleSessionStart(start protocol.SessionStart) {
	id := start.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	lang := start.Language
	if lang == "" {
		lang = s.lang
	}
	sess := s.session(id, lang)
	sess.Start("")
}

func (s *Service) handleSegment(segment protocol.TranscriptSegment) {
	if segment.SessionID == "" {
		return
	}
	s.mu.Lock()
	sess, ok := s.sessions[segment.SessionID]
	s.mu.Unlock()
	if !ok {
		// Segment for an unannounced call: start monitoring anyway so a
		// missed session-start event does not blind us.
		sess = s.session(segment.SessionID, s.lang)
		sess.Start("")
	}
	sess.Append(segment.Text)
}

func (s *Service) handleSessionEnd(end protocol.SessionEnd) {
	s.mu.Lock()
	sess, ok := s.sessions[end.SessionID]
	delete(s.sessions, end.SessionID)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.record(sess.Shutdown())
}

// session returns the tracked session for id, creating it if needed.
func (s *Service) session(id, lang string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess
	}
	sess := NewSession(s.ctx, id, lang, s.cfg, SessionDeps{
		Classifier: s.clf,
		Guidance:   s.guidanceFunc(),
		Publish:    s.publish,
		Logger:     s.logger,
		Metrics:    s.meters,
	})
	s.sessions[id] = sess
	return sess
}

func (s *Service) guidanceFunc() GuidanceFunc {
	if s.guide == nil {
		return nil
	}
	return s.guide.For
}

func (s *Service) publish(sessionID string, epoch uint64, result analysis.Result) {
	if s.bus == nil || !s.bus.Healthy() {
		return
	}
	update := protocol.RiskUpdate{SessionID: sessionID, Epoch: epoch, Result: result}
	payload, err := json.Marshal(update)
	if err != nil {
		s.logger.Warn("failed to encode risk update", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectRiskUpdated, payload); err != nil {
		s.logger.Warn("failed to publish risk update",
			slog.String("session_id", sessionID), slog.String("error", err.Error()))
	}
}

func (s *Service) record(summary Summary) {
	if s.store == nil {
		return
	}
	rec := history.CallRecord{
		SessionID:  summary.SessionID,
		RiskLevel:  summary.Result.RiskLevel,
		RiskScore:  summary.Result.RiskScore,
		Indicators: summary.Detected,
		Duration:   summary.Duration,
	}
	if err := s.store.Append(s.ctx, rec); err != nil {
		s.logger.Warn("failed to record call summary",
			slog.String("session_id", summary.SessionID), slog.String("error", err.Error()))
	}
}
