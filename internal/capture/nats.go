package capture

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/guardline-ai/guardline-core/internal/bus"
	"github.com/guardline-ai/guardline-core/internal/protocol"
)

// NATSSource delivers call events published on the message bus.
type NATSSource struct {
	bus    *bus.Client
	logger *slog.Logger
	subs   []*nats.Subscription
}

func NewNATSSource(busClient *bus.Client, logger *slog.Logger) *NATSSource {
	return &NATSSource{
		bus:    busClient,
		logger: logger.With(slog.String("component", "capture")),
	}
}

func (s *NATSSource) Supported() bool {
	return s.bus != nil && s.bus.Healthy()
}

func (s *NATSSource) Start(ctx context.Context, ev Events) error {
	subjects := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{protocol.SubjectSessionStart, func(msg *nats.Msg) {
			var start protocol.SessionStart
			if err := json.Unmarshal(msg.Data, &start); err != nil {
				s.logger.Warn("failed to decode session start", slog.String("error", err.Error()))
				return
			}
			if ev.OnSessionStart != nil {
				ev.OnSessionStart(start)
			}
		}},
		{protocol.SubjectSessionEnd, func(msg *nats.Msg) {
			var end protocol.SessionEnd
			if err := json.Unmarshal(msg.Data, &end); err != nil {
				s.logger.Warn("failed to decode session end", slog.String("error", err.Error()))
				return
			}
			if ev.OnSessionEnd != nil {
				ev.OnSessionEnd(end)
			}
		}},
		{protocol.SubjectTranscriptPartial, func(msg *nats.Msg) {
			s.handleSegment(msg, ev)
		}},
		{protocol.SubjectTranscriptFinal, func(msg *nats.Msg) {
			s.handleSegment(msg, ev)
		}},
	}

	for _, sub := range subjects {
		ns, err := s.bus.Conn().Subscribe(sub.subject, sub.handler)
		if err != nil {
			s.Stop()
			return err
		}
		s.subs = append(s.subs, ns)
	}
	return nil
}

func (s *NATSSource) Stop() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

func (s *NATSSource) handleSegment(msg *nats.Msg, ev Events) {
	var segment protocol.TranscriptSegment
	if err := json.Unmarshal(msg.Data, &segment); err != nil {
		s.logger.Warn("failed to decode transcript segment", slog.String("error", err.Error()))
		return
	}
	if segment.Text == "" {
		return
	}
	if ev.OnSegment != nil {
		ev.OnSegment(segment)
	}
}
