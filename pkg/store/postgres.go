package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/lectern-ai/lectern/pkg/errorsx"
	"github.com/lectern-ai/lectern/pkg/session"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Postgres persists sessions and exchanges in PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the database and applies pending migrations.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if err := migrate(dsn); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonStoreWrite)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonStoreRead)
	}
	return &Postgres{pool: pool}, nil
}

func migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

func (p *Postgres) CreateSession(ctx context.Context, s session.Session) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO sessions (id, subject_id, current_sequence, position_seconds, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		s.ID, s.SubjectID, s.CurrentSequence, s.PositionSeconds, s.Status.String(), s.CreatedAt, s.UpdatedAt)
	return errorsx.Wrap(err, errorsx.ReasonStoreWrite)
}

func (p *Postgres) GetSession(ctx context.Context, id string) (session.Session, error) {
	var s session.Session
	var status string
	err := p.pool.QueryRow(ctx, `
		SELECT id, subject_id, current_sequence, position_seconds, status, created_at, updated_at
		FROM sessions WHERE id = $1`, id).
		Scan(&s.ID, &s.SubjectID, &s.CurrentSequence, &s.PositionSeconds, &status, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return session.Session{}, session.ErrNotFound
	}
	if err != nil {
		return session.Session{}, errorsx.Wrap(err, errorsx.ReasonStoreRead)
	}
	s.Status = parseStatus(status)
	return s, nil
}

func (p *Postgres) UpdateSession(ctx context.Context, s session.Session) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE sessions
		SET current_sequence = $2, position_seconds = $3, status = $4, updated_at = $5
		WHERE id = $1`,
		s.ID, s.CurrentSequence, s.PositionSeconds, s.Status.String(), time.Now().UTC())
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonStoreWrite)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (p *Postgres) AppendExchange(ctx context.Context, ex session.Exchange) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO exchanges (id, session_id, sequence, question, ack, detail, audio_refs, complete, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		ex.ID, ex.SessionID, ex.Sequence, ex.Question, ex.Ack, ex.Detail, ex.AudioRefs, ex.Complete, ex.CreatedAt)
	return errorsx.Wrap(err, errorsx.ReasonStoreWrite)
}

func (p *Postgres) UpdateExchange(ctx context.Context, ex session.Exchange) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE exchanges
		SET ack = $2, detail = $3, audio_refs = $4, complete = $5
		WHERE id = $1`,
		ex.ID, ex.Ack, ex.Detail, ex.AudioRefs, ex.Complete)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonStoreWrite)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (p *Postgres) ListExchanges(ctx context.Context, sessionID string) ([]session.Exchange, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, session_id, sequence, question, ack, detail, audio_refs, complete, created_at
		FROM exchanges WHERE session_id = $1 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonStoreRead)
	}
	defer rows.Close()
	var out []session.Exchange
	for rows.Next() {
		var ex session.Exchange
		if err := rows.Scan(&ex.ID, &ex.SessionID, &ex.Sequence, &ex.Question, &ex.Ack, &ex.Detail, &ex.AudioRefs, &ex.Complete, &ex.CreatedAt); err != nil {
			return nil, errorsx.Wrap(err, errorsx.ReasonStoreRead)
		}
		out = append(out, ex)
	}
	return out, errorsx.Wrap(rows.Err(), errorsx.ReasonStoreRead)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func parseStatus(v string) session.Status {
	switch v {
	case "playing":
		return session.StatusPlaying
	case "paused":
		return session.StatusPaused
	case "qa_active":
		return session.StatusQAActive
	case "completed":
		return session.StatusCompleted
	default:
		return session.StatusPlaying
	}
}
