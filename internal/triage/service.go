package triage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
)

// errStale marks a pipeline result that no longer applies to its session.
var errStale = errors.New("stale analysis result")

// SubmitResult is the outcome of submitting text to a session.
type SubmitResult struct {
	SessionID  string
	Generation uint64
	Skipped    bool
	Reason     string
}

// Escalation is emitted to the Notifier whenever a session is classified as
// an emergency.
type Escalation struct {
	ID        string
	SessionID string
	Source    Source
	Level     EmergencyLevel
	Reason    string
	EntryKey  string
	Urgency   int
	Advisory  string
	At        time.Time
}

// Notifier delivers emergency escalations to clinicians.
type Notifier interface {
	Send(ctx context.Context, e *Escalation) error
}

// Service is the business boundary for triage sessions: it owns session
// lifecycle, the single in-flight guard, async dispatch and notification.
type Service struct {
	store    Store
	engine   *Engine
	logger   log.Logger
	metrics  *Metrics
	notifier Notifier
	delay    time.Duration

	locks *keyedMutex
	wg    sync.WaitGroup
	now   func() time.Time

	mu      sync.Mutex
	running map[string]uint64 // session ID -> generation being analyzed
}

// NewService creates a new triage service. delay is the artificial think
// time before each pipeline run. metrics and notifier may be nil.
func NewService(store Store, engine *Engine, logger log.Logger, metrics *Metrics, notifier Notifier, delay time.Duration) *Service {
	if store == nil {
		panic(xerrors.New("triage store is required"))
	}
	if engine == nil {
		panic(xerrors.New("triage engine is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:    store,
		engine:   engine,
		logger:   logger,
		metrics:  metrics,
		notifier: notifier,
		delay:    delay,
		locks:    newKeyedMutex(),
		now:      time.Now,
		running:  make(map[string]uint64),
	}
}

// Create starts a new session holding only the greeting.
func (s *Service) Create(ctx context.Context) (*Session, error) {
	sess := NewSession(uuid.NewString(), s.now())
	if err := s.store.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("put session: %w", err)
	}
	s.metrics.sessionCreated()
	s.logger.Info(ctx, "session created", "session_id", sess.ID)
	return sess, nil
}

// Get returns a snapshot of a session.
func (s *Service) Get(ctx context.Context, id string) (*Session, bool, error) {
	return s.store.Get(ctx, id)
}

// Delete tears a session down. An analysis still in flight for it is
// discarded when it resolves.
func (s *Service) Delete(ctx context.Context, id string) error {
	unlock := s.locks.lock(id)
	defer unlock()

	ok, err := s.store.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if !ok {
		return ErrSessionNotFound
	}
	s.logger.Info(ctx, "session deleted", "session_id", id)
	return nil
}

// Submit appends text as a user message and dispatches the pipeline.
// Blank text returns ErrInputEmpty. While an analysis is in flight the
// submission is skipped and the transcript is left unchanged.
func (s *Service) Submit(ctx context.Context, id, text string) (*SubmitResult, error) {
	return s.begin(ctx, id, func(*Session) (string, error) {
		return text, nil
	})
}

// SelectFollowUp submits the text of a pending follow-up question exactly as
// if the user had typed it.
func (s *Service) SelectFollowUp(ctx context.Context, id, questionID string) (*SubmitResult, error) {
	return s.begin(ctx, id, func(sess *Session) (string, error) {
		q, err := sess.FollowUp(questionID)
		if err != nil {
			return "", err
		}
		return q.Text, nil
	})
}

// begin admits the text chosen by input and dispatches the pipeline. The
// analysis is registered as running before the session lock is released.
func (s *Service) begin(ctx context.Context, id string, input func(*Session) (string, error)) (*SubmitResult, error) {
	var (
		gen  uint64
		text string
	)

	unlock := s.locks.lock(id)
	err := s.recoverOrphan(ctx, id)
	if err == nil {
		_, err = s.modify(ctx, id, func(sess *Session) error {
			t, err := input(sess)
			if err != nil {
				return err
			}
			text = t
			gen, err = sess.Begin(text, s.now())
			return err
		})
	}
	if err == nil {
		s.track(id, gen)
	}
	unlock()

	return s.admitted(ctx, id, gen, text, err)
}

// Reset clears a session back to the greeting. It is always permitted.
func (s *Service) Reset(ctx context.Context, id string) (*Session, error) {
	sess, err := s.update(ctx, id, func(sess *Session) error {
		sess.Reset(s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.reset()
	s.logger.Info(ctx, "session reset", "session_id", id, "generation", sess.Generation)
	return sess, nil
}

// Templates returns the quick-template phrases of the knowledge base.
func (s *Service) Templates() []string {
	return s.engine.Knowledge().Templates()
}

// Drain waits for in-flight analyses to resolve or ctx to end.
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) admitted(ctx context.Context, id string, gen uint64, text string, err error) (*SubmitResult, error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrAnalysisInFlight):
		s.metrics.submit("in_flight")
		return &SubmitResult{SessionID: id, Skipped: true, Reason: "analysis in flight"}, nil
	case errors.Is(err, ErrInputEmpty):
		s.metrics.submit("empty")
		return nil, err
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrUnknownFollowUp):
		s.metrics.submit("rejected")
		return nil, err
	default:
		s.metrics.submit("error")
		return nil, err
	}

	s.metrics.submit("accepted")
	s.logger.Info(ctx, "submission accepted", "session_id", id, "generation", gen, "input_length", len(text))

	s.wg.Add(1)
	s.metrics.inFlight(1)
	// pass only the ID so the goroutine never shares the caller's session
	go s.runAnalysis(context.WithoutCancel(ctx), id, gen, text)

	return &SubmitResult{SessionID: id, Generation: gen}, nil
}

func (s *Service) runAnalysis(ctx context.Context, id string, gen uint64, text string) {
	defer s.wg.Done()
	defer s.metrics.inFlight(-1)
	defer s.untrack(id, gen)

	L := s.logger.With("session_id", id, "generation", gen)

	if s.delay > 0 {
		t := time.NewTimer(s.delay)
		<-t.C
	}

	out := s.engine.Analyze(ctx, text)

	resolve := func(sess *Session) error {
		if !sess.Resolve(gen, out, s.now()) {
			return errStale
		}
		return nil
	}

	_, err := s.update(ctx, id, resolve)
	if err != nil && !isStale(err) {
		L.Warn(ctx, "retrying analysis result persist", "outcome", out.Kind, "error", err)
		_, err = s.update(ctx, id, resolve)
	}
	switch {
	case err == nil:
	case isStale(err):
		s.metrics.stale()
		L.Info(ctx, "discarding stale analysis result", "outcome", out.Kind, "reason", err)
		return
	default:
		L.Error(ctx, err, "failed to persist analysis result", "outcome", out.Kind)
		s.abandon(ctx, L, id, gen)
		return
	}

	if out.Kind == OutcomeEmergency {
		s.escalate(ctx, L, id, &out)
	}
}

// abandon resolves generation gen as a fault so the session does not stay
// in flight. If this fails too, the next submission recovers the session.
func (s *Service) abandon(ctx context.Context, L log.Logger, id string, gen uint64) {
	_, err := s.update(ctx, id, func(sess *Session) error {
		if sess.Generation != gen || !sess.Abandon(s.now()) {
			return errStale
		}
		return nil
	})
	switch {
	case err == nil:
		L.Warn(ctx, "analysis abandoned")
	case isStale(err):
	default:
		L.Error(ctx, err, "failed to abandon analysis")
	}
}

// recoverOrphan fails an analysis the session records as in flight but that
// no goroutine of this process is running, e.g. after a failed persist or a
// restart. Must be called under the session lock.
func (s *Service) recoverOrphan(ctx context.Context, id string) error {
	sess, err := s.modify(ctx, id, func(sess *Session) error {
		if !sess.AwaitingAnalysis || s.isRunning(id, sess.Generation) || !sess.Abandon(s.now()) {
			return errStale
		}
		return nil
	})
	switch {
	case err == nil:
		s.logger.Warn(ctx, "recovered orphaned analysis", "session_id", id, "generation", sess.Generation)
		return nil
	case errors.Is(err, errStale):
		return nil
	default:
		return err
	}
}

func (s *Service) track(id string, gen uint64) {
	s.mu.Lock()
	s.running[id] = gen
	s.mu.Unlock()
}

func (s *Service) untrack(id string, gen uint64) {
	s.mu.Lock()
	if g, ok := s.running[id]; ok && g == gen {
		delete(s.running, id)
	}
	s.mu.Unlock()
}

func (s *Service) isRunning(id string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.running[id]
	return ok && g == gen
}

func isStale(err error) bool {
	return errors.Is(err, errStale) || errors.Is(err, ErrSessionNotFound)
}

func (s *Service) escalate(ctx context.Context, L log.Logger, id string, out *Outcome) {
	esc := &Escalation{
		ID:        ulid.Make().String(),
		SessionID: id,
		Source:    out.Source,
		Level:     out.Emergency.Level,
		Reason:    out.Emergency.Reason,
		Urgency:   out.Advisory.Urgency,
		Advisory:  out.Advisory.Text,
		At:        s.now(),
	}
	if out.Entry != nil {
		esc.EntryKey = out.Entry.Key
	}

	L.Warn(ctx, "emergency classified",
		"escalation_id", esc.ID,
		"source", esc.Source,
		"level", esc.Level,
		"reason", esc.Reason,
	)

	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, esc); err != nil {
		s.metrics.notifyFailed()
		L.Error(ctx, err, "failed to send escalation", "escalation_id", esc.ID)
	}
}

// update runs fn on a fresh copy of the session under its lock and persists
// the result when fn succeeds.
func (s *Service) update(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	unlock := s.locks.lock(id)
	defer unlock()
	return s.modify(ctx, id, fn)
}

// modify is update for callers already holding the session lock.
func (s *Service) modify(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	sess, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if !ok {
		return nil, ErrSessionNotFound
	}
	if err := fn(sess); err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("put session: %w", err)
	}
	return sess, nil
}
