package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/medtriage/internal/knowledge"
)

const tracerName = "github.com/linnemanlabs/medtriage/internal/triage"

// ErrPipelineFault wraps any unexpected failure inside Analyze.
var ErrPipelineFault = errors.New("triage pipeline fault")

// OutcomeKind classifies the result of one pipeline run.
type OutcomeKind string

const (
	OutcomeEmergency OutcomeKind = "emergency"
	OutcomeMatch     OutcomeKind = "match"
	OutcomeClarify   OutcomeKind = "clarify"
	OutcomeError     OutcomeKind = "error"
)

// Source tells which check classified an emergency.
type Source string

const (
	// SourceTrigger is an emergency phrase found in the raw text.
	SourceTrigger Source = "trigger"
	// SourceKnowledge is a matched entry flagged as an emergency.
	SourceKnowledge Source = "knowledge"
)

// Outcome is the result of Engine.Analyze.
type Outcome struct {
	Kind      OutcomeKind
	Advisory  Advisory
	Entry     *knowledge.Entry
	Emergency EmergencyResult
	Source    Source
	Score     int
	Duration  time.Duration
	Err       error
}

// AnalyzeEvent is passed to EngineHooks.OnAnalyze after every pipeline run.
type AnalyzeEvent struct {
	Kind     OutcomeKind
	Source   Source
	Level    EmergencyLevel
	EntryKey string
	Score    int
	Duration float64
}

// EngineHooks are optional callbacks for instrumentation.
type EngineHooks struct {
	OnAnalyze func(e *AnalyzeEvent)
}

// Engine runs the scan, match and compose pipeline against a knowledge base.
// It holds no per-session state and is safe for concurrent use.
type Engine struct {
	kb      *knowledge.Base
	logger  log.Logger
	hooks   EngineHooks
	compose func(*knowledge.Entry) (Advisory, error)
}

// NewEngine creates an engine over kb.
func NewEngine(kb *knowledge.Base, logger log.Logger, hooks EngineHooks) *Engine {
	if kb == nil {
		panic(xerrors.New("knowledge base is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Engine{
		kb:      kb,
		logger:  logger,
		hooks:   hooks,
		compose: Compose,
	}
}

// Knowledge returns the knowledge base the engine classifies against.
func (e *Engine) Knowledge() *knowledge.Base {
	return e.kb
}

// Analyze classifies text. Trigger phrases in the raw text take precedence;
// otherwise the best matching entry is composed, escalating when the entry
// is itself flagged as an emergency. Analyze never panics: faults are
// returned as an OutcomeError carrying the fixed error advisory.
func (e *Engine) Analyze(ctx context.Context, text string) (out Outcome) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "triage.Analyze", trace.WithAttributes(
		attribute.Int("triage.input_length", len(text)),
	))

	defer func() {
		out.Duration = time.Since(start)
		e.finish(ctx, span, len(text), &out)
	}()
	defer func() {
		if r := recover(); r != nil {
			out = faultOutcome(fmt.Errorf("%w: panic: %v", ErrPipelineFault, r))
		}
	}()

	if er := Scan(text, e.kb.Triggers); er.IsEmergency {
		return Outcome{
			Kind:      OutcomeEmergency,
			Advisory:  EscalationAdvisory(er),
			Emergency: er,
			Source:    SourceTrigger,
		}
	}

	entry, score := match(strings.ToLower(text), e.kb.Entries)

	adv, err := e.compose(entry)
	if err != nil {
		return faultOutcome(fmt.Errorf("%w: %w", ErrPipelineFault, err))
	}

	switch {
	case entry == nil:
		return Outcome{Kind: OutcomeClarify, Advisory: adv}
	case entry.IsEmergency:
		return Outcome{
			Kind:     OutcomeEmergency,
			Advisory: adv,
			Entry:    entry,
			Emergency: EmergencyResult{
				IsEmergency: true,
				Level:       entryLevel(entry),
				Reason:      entry.Key,
			},
			Source: SourceKnowledge,
			Score:  score,
		}
	default:
		return Outcome{Kind: OutcomeMatch, Advisory: adv, Entry: entry, Score: score}
	}
}

func (e *Engine) finish(ctx context.Context, span trace.Span, inputLen int, out *Outcome) {
	defer span.End()

	var entryKey string
	if out.Entry != nil {
		entryKey = out.Entry.Key
	}

	span.SetAttributes(
		attribute.String("triage.outcome", string(out.Kind)),
		attribute.String("triage.entry", entryKey),
		attribute.String("triage.source", string(out.Source)),
		attribute.String("triage.level", string(out.Emergency.Level)),
		attribute.Int("triage.score", out.Score),
	)

	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Err.Error())
		e.logger.Error(ctx, out.Err, "analysis failed",
			"input_length", inputLen,
			"duration", out.Duration.Seconds(),
		)
	} else {
		e.logger.Info(ctx, "analysis complete",
			"outcome", out.Kind,
			"entry", entryKey,
			"source", out.Source,
			"level", out.Emergency.Level,
			"score", out.Score,
			"input_length", inputLen,
			"duration", out.Duration.Seconds(),
		)
	}

	if e.hooks.OnAnalyze != nil {
		e.hooks.OnAnalyze(&AnalyzeEvent{
			Kind:     out.Kind,
			Source:   out.Source,
			Level:    out.Emergency.Level,
			EntryKey: entryKey,
			Score:    out.Score,
			Duration: out.Duration.Seconds(),
		})
	}
}

func faultOutcome(err error) Outcome {
	return Outcome{
		Kind:     OutcomeError,
		Advisory: Advisory{Text: ErrorText},
		Err:      err,
	}
}

// entryLevel maps a flagged entry onto the trigger tiers.
func entryLevel(e *knowledge.Entry) EmergencyLevel {
	if e.UrgencyLevel >= knowledge.MaxUrgency {
		return LevelCritical
	}
	return LevelHigh
}
