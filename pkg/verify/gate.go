// Package verify decides whether a mutating tool call had its intended
// visible effect. Verification is advisory: its own failures never block the
// agent.
package verify

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/visor-agent/visor/pkg/agent"
)

// ActionKind classifies a mutating action for expectation templating.
type ActionKind string

const (
	ActionClick  ActionKind = "click"
	ActionType   ActionKind = "type"
	ActionScroll ActionKind = "scroll"
	ActionHotkey ActionKind = "hotkey"
	ActionLaunch ActionKind = "launch"
	ActionMenu   ActionKind = "menu"
	ActionDialog ActionKind = "dialog"
	ActionDrag   ActionKind = "drag"
)

// Capture is post-action evidence from the external capture capability.
type Capture struct {
	Image     []byte
	MediaType string
	Changed   bool
}

// Capturer grabs evidence of the surface after an action.
type Capturer interface {
	CaptureAfterAction(ctx context.Context, hint string) (*Capture, error)
}

// Judge asks a fast judgment model to read the evidence. The response is
// free-form text; the gate parses it leniently.
type Judge interface {
	Judge(ctx context.Context, image []byte, mediaType, prompt string) (string, error)
}

// Action describes one completed call to be verified. Ephemeral; never
// persisted.
type Action struct {
	Kind    ActionKind
	Tool    string
	Args    agent.Value
	Summary string
}

// Result is the gate's judgment of one action.
type Result struct {
	Success     bool    `json:"success"`
	Confidence  float64 `json:"confidence"`
	Observation string  `json:"observation,omitempty"`
	Suggestion  string  `json:"suggestion,omitempty"`
}

// Options configures the gate.
type Options struct {
	Enabled    bool
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultOptions returns the gate defaults.
func DefaultOptions() Options {
	return Options{
		Enabled:    true,
		MaxRetries: 2,
		RetryDelay: 500 * time.Millisecond,
	}
}

// Gate composes capture and judgment into a retry recommendation.
type Gate struct {
	capturer Capturer
	judge    Judge
	opts     Options
	logger   zerolog.Logger
}

// NewGate builds a gate. A nil capturer disables verification entirely.
func NewGate(capturer Capturer, judge Judge, opts Options, logger zerolog.Logger) *Gate {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}
	return &Gate{
		capturer: capturer,
		judge:    judge,
		opts:     opts,
		logger:   logger,
	}
}

// Required reports whether a completed call needs verification. Read-only
// tools are always exempt; everything else follows configuration.
func (g *Gate) Required(readOnly bool) bool {
	if g == nil || g.capturer == nil {
		return false
	}
	if readOnly {
		return false
	}
	return g.opts.Enabled
}

// MaxRetries returns the configured retry bound.
func (g *Gate) MaxRetries() int { return g.opts.MaxRetries }

// RetryDelay returns the fixed delay between retry attempts.
func (g *Gate) RetryDelay() time.Duration { return g.opts.RetryDelay }

// Verify captures post-action evidence and judges it. It never returns an
// error: infrastructure failures degrade to an optimistic default so
// verification can never block the agent.
func (g *Gate) Verify(ctx context.Context, action Action) Result {
	logger := g.logger.With().Str("tool", action.Tool).Str("kind", string(action.Kind)).Logger()

	cap, err := g.capturer.CaptureAfterAction(ctx, action.Summary)
	if err != nil {
		logger.Warn().Err(err).Msg("Capture failed")
		return Result{
			Success:     false,
			Confidence:  0.3,
			Observation: "could not capture post-action evidence",
		}
	}

	// No image or no detected change: fail cheaply without burning a
	// judgment-model call.
	if cap == nil || len(cap.Image) == 0 || !cap.Changed {
		logger.Debug().Msg("No visible change detected, skipping judgment")
		return Result{
			Success:     false,
			Confidence:  0.3,
			Observation: "no visible change detected after action",
		}
	}

	prompt := expectationPrompt(action)
	raw, err := g.judge.Judge(ctx, cap.Image, cap.MediaType, prompt)
	if err != nil {
		logger.Warn().Err(err).Msg("Judgment call failed, assuming success")
		return Result{
			Success:     true,
			Confidence:  0.5,
			Observation: "judgment unavailable",
		}
	}

	return parseJudgment(raw, logger)
}

// ShouldRetry recommends re-attempting the call only on a confident failure.
func (g *Gate) ShouldRetry(r Result) bool {
	return !r.Success && r.Confidence > 0.6
}

// parseJudgment decodes the constrained judge response. On parse failure it
// defaults to optimistic success tempered by a keyword reading of the raw
// text.
func parseJudgment(raw string, logger zerolog.Logger) Result {
	trimmed := strings.TrimSpace(raw)

	// Models often wrap JSON in fences or prose; find the first object.
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		var parsed Result
		if err := json.Unmarshal([]byte(trimmed[start:end+1]), &parsed); err == nil {
			if parsed.Confidence < 0 {
				parsed.Confidence = 0
			}
			if parsed.Confidence > 1 {
				parsed.Confidence = 1
			}
			return parsed
		}
	}

	logger.Debug().Str("raw", trimmed).Msg("Unparseable judgment, using keyword fallback")

	result := Result{Success: true, Confidence: 0.5, Observation: trimmed}
	lower := strings.ToLower(trimmed)
	for _, keyword := range []string{"fail", "error", "did not", "didn't", "no change", "not visible", "nothing happened"} {
		if strings.Contains(lower, keyword) {
			result.Success = false
			break
		}
	}
	return result
}
