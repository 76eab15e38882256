// Package capture feeds live call events into the monitor. A Source is a
// pluggable capability: deployments without a transcript feed run the noop
// source and serve one-shot analysis only.
package capture

import (
	"context"

	"github.com/guardline-ai/guardline-core/internal/protocol"
)

// Events receives decoded call traffic. Nil callbacks are skipped.
type Events struct {
	OnSessionStart func(protocol.SessionStart)
	OnSessionEnd   func(protocol.SessionEnd)
	OnSegment      func(protocol.TranscriptSegment)
}

// Source is a live transcript feed.
type Source interface {
	// Supported reports whether this source can deliver events in the
	// current deployment.
	Supported() bool
	// Start begins delivering events until Stop is called or ctx ends.
	Start(ctx context.Context, ev Events) error
	Stop()
}

// NoopSource is the null source for deployments without live capture.
type NoopSource struct{}

func (NoopSource) Supported() bool { return false }

func (NoopSource) Start(context.Context, Events) error { return nil }

func (NoopSource) Stop() {}
