// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/medtriage/internal/knowledge"
	"github.com/linnemanlabs/medtriage/internal/postgres"
	"github.com/linnemanlabs/medtriage/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/medtriage/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists triage sessions in PostgreSQL. Matched entries are stored
// by key and resolved against kb on read; keys no longer present in kb
// read back as nil.
type Store struct {
	pool *pgxpool.Pool
	kb   *knowledge.Base
}

// New applies the schema on pool and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool, kb *knowledge.Base) (*Store, error) {
	if pool == nil {
		panic(xerrors.New("pgstore: pool is required"))
	}
	if kb == nil {
		panic(xerrors.New("pgstore: knowledge base is required"))
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool, kb: kb}, nil
}

// Get retrieves a session and its transcript by ID.
func (s *Store) Get(ctx context.Context, id string) (*triage.Session, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT", id)
	defer span.End()

	sess, err := s.scanSession(s.pool.QueryRow(ctx,
		`SELECT id, state, awaiting_analysis, pending_follow_ups, last_entry_key,
		        generation, next_message_id, created_at, updated_at
		 FROM triage_sessions WHERE id = $1`, id))
	if err != nil {
		return nil, false, fail(span, err)
	}
	if sess == nil {
		return nil, false, nil
	}

	if err := s.loadMessages(ctx, sess); err != nil {
		return nil, false, fail(span, err)
	}
	return sess, true, nil
}

// Put upserts the session row and brings its messages in line with the
// transcript. Messages are append-only, so existing rows are kept and rows
// below the first live message ID (cleared by a reset) are removed.
func (s *Store) Put(ctx context.Context, sess *triage.Session) error {
	ctx, span := startSpan(ctx, "pgstore.Put", "UPSERT", sess.ID)
	defer span.End()

	pending, err := json.Marshal(sess.PendingFollowUps)
	if err != nil {
		return fail(span, fmt.Errorf("marshal pending follow-ups: %w", err))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	_, err = tx.Exec(ctx,
		`INSERT INTO triage_sessions (
			id, state, awaiting_analysis, pending_follow_ups, last_entry_key,
			generation, next_message_id, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			state              = EXCLUDED.state,
			awaiting_analysis  = EXCLUDED.awaiting_analysis,
			pending_follow_ups = EXCLUDED.pending_follow_ups,
			last_entry_key     = EXCLUDED.last_entry_key,
			generation         = EXCLUDED.generation,
			next_message_id    = EXCLUDED.next_message_id,
			updated_at         = EXCLUDED.updated_at`,
		sess.ID, string(sess.State), sess.AwaitingAnalysis, pending, entryKey(sess.LastMatchedEntry),
		int64(sess.Generation), sess.NextMessageID, sess.CreatedAt, sess.UpdatedAt, //nolint:gosec // generation never exceeds int64
	)
	if err != nil {
		return fail(span, fmt.Errorf("upsert session: %w", err))
	}

	if err := s.syncMessages(ctx, tx, sess); err != nil {
		return fail(span, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Delete removes a session and, by cascade, its messages.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Delete", "DELETE", id)
	defer span.End()

	tag, err := s.pool.Exec(ctx, `DELETE FROM triage_sessions WHERE id = $1`, id)
	if err != nil {
		return false, fail(span, fmt.Errorf("delete session: %w", err))
	}
	return tag.RowsAffected() > 0, nil
}

// RecoverInFlight resolves every session still recorded as analyzing with
// the pipeline error reply. Analyses run in process memory, so after a
// restart none of them can finish. It must run before the service accepts
// traffic and assumes a single server per database.
func (s *Store) RecoverInFlight(ctx context.Context, now time.Time) (int, error) {
	ctx, span := tracer.Start(ctx, "pgstore.RecoverInFlight", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT id FROM triage_sessions WHERE awaiting_analysis`)
	if err != nil {
		return 0, fail(span, fmt.Errorf("query in-flight sessions: %w", err))
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return 0, fail(span, fmt.Errorf("collect in-flight sessions: %w", err))
	}

	recovered := 0
	for _, id := range ids {
		sess, ok, err := s.Get(ctx, id)
		if err != nil {
			return recovered, fail(span, err)
		}
		if !ok || !sess.Abandon(now) {
			continue
		}
		if err := s.Put(ctx, sess); err != nil {
			return recovered, fail(span, err)
		}
		recovered++
	}
	span.SetAttributes(attribute.Int("triage.recovered", recovered))
	return recovered, nil
}

func (s *Store) syncMessages(ctx context.Context, tx pgx.Tx, sess *triage.Session) error {
	firstID := sess.NextMessageID
	if len(sess.Messages) > 0 {
		firstID = sess.Messages[0].ID
	}

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM session_messages WHERE session_id = $1 AND id < $2`, sess.ID, firstID)
	for i := range sess.Messages {
		m := &sess.Messages[i]
		batch.Queue(
			`INSERT INTO session_messages (
				session_id, id, sender, text, created_at, is_emergency, is_error,
				emergency_level, urgency, entry_key
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (session_id, id) DO NOTHING`,
			sess.ID, m.ID, string(m.Sender), m.Text, m.Timestamp, m.IsEmergency, m.IsError,
			string(m.EmergencyLevel), m.Urgency, entryKey(m.Analysis),
		)
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("sync messages (statement %d): %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("sync messages: %w", err)
	}
	return nil
}

func (s *Store) loadMessages(ctx context.Context, sess *triage.Session) error {
	rows, err := s.pool.Query(ctx,
		`SELECT id, sender, text, created_at, is_emergency, is_error, emergency_level, urgency, entry_key
		 FROM session_messages WHERE session_id = $1 ORDER BY id`, sess.ID)
	if err != nil {
		return fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m      triage.Message
			sender string
			level  string
			key    *string
		)
		if err := rows.Scan(&m.ID, &sender, &m.Text, &m.Timestamp, &m.IsEmergency, &m.IsError, &level, &m.Urgency, &key); err != nil {
			return fmt.Errorf("scan message: %w", err)
		}
		m.Sender = triage.Sender(sender)
		m.EmergencyLevel = triage.EmergencyLevel(level)
		m.Analysis = s.lookup(key)
		sess.Messages = append(sess.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate messages: %w", err)
	}
	return nil
}

// scanSession scans a session row without messages. Returns (nil, nil) when
// no row is found.
func (s *Store) scanSession(row pgx.Row) (*triage.Session, error) {
	var (
		sess       triage.Session
		state      string
		pending    []byte
		lastKey    *string
		generation int64
	)
	err := row.Scan(&sess.ID, &state, &sess.AwaitingAnalysis, &pending, &lastKey,
		&generation, &sess.NextMessageID, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	sess.State = triage.State(state)
	sess.Generation = uint64(generation) //nolint:gosec // stored from a uint64
	sess.LastMatchedEntry = s.lookup(lastKey)
	if err := json.Unmarshal(pending, &sess.PendingFollowUps); err != nil {
		return nil, fmt.Errorf("unmarshal pending follow-ups: %w", err)
	}
	if sess.PendingFollowUps == nil {
		sess.PendingFollowUps = []knowledge.FollowUpQuestion{}
	}
	return &sess, nil
}

func (s *Store) lookup(key *string) *knowledge.Entry {
	if key == nil {
		return nil
	}
	e, ok := s.kb.Lookup(*key)
	if !ok {
		return nil
	}
	return e
}

func entryKey(e *knowledge.Entry) *string {
	if e == nil {
		return nil
	}
	return &e.Key
}

func startSpan(ctx context.Context, name, op, sessionID string) (context.Context, trace.Span) {
	ctx = postgres.WithSessionID(ctx, sessionID)
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
		attribute.String("triage.session_id", sessionID),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
