package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"LectureNotes/internal/domain"
	"LectureNotes/internal/ports"
)

var jobColumns = []string{
	"job_id", "mode", "state", "progress", "message", "result",
	"error_code", "error_message", "chunks", "failed_chunks", "slides_covered",
	"created_at", "updated_at",
}

// Postgres persists job records into a Postgres table.
type Postgres struct {
	pool *pgxpool.Pool
	// table is the quoted identifier shared by schema and queries.
	table string
	psql  sq.StatementBuilderType
	now   func() time.Time
}

var _ ports.JobRegistry = (*Postgres)(nil)

// NewPostgres wires a pgx pool.
func NewPostgres(pool *pgxpool.Pool, table string) *Postgres {
	return &Postgres{
		pool:  pool,
		table: pgx.Identifier{table}.Sanitize(),
		psql:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		now:   time.Now,
	}
}

// OpenPostgres connects to dsn and ensures the jobs table exists.
func OpenPostgres(ctx context.Context, dsn, table string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	r := NewPostgres(pool, table)
	if err := r.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

// EnsureSchema creates the jobs table when missing.
func (r *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaSQL(r.table)); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (r *Postgres) Close() {
	r.pool.Close()
}

func (r *Postgres) Create(ctx context.Context, job domain.Job) error {
	query, args, err := r.insertQuery(job)
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.Errorf(domain.CodeInvalidInput, "job %s already exists", job.ID)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *Postgres) Update(ctx context.Context, id string, update domain.JobUpdate) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query, args, err := r.selectQuery(id, true)
	if err != nil {
		return fmt.Errorf("build select: %w", err)
	}
	job, err := scanJob(tx.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound(id)
		}
		return fmt.Errorf("load job: %w", err)
	}

	if err := job.Apply(update, r.now()); err != nil {
		return err
	}

	query, args, err = r.updateQuery(job)
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit job update: %w", err)
	}
	return nil
}

func (r *Postgres) Get(ctx context.Context, id string) (domain.Job, error) {
	query, args, err := r.selectQuery(id, false)
	if err != nil {
		return domain.Job{}, fmt.Errorf("build select: %w", err)
	}

	job, err := scanJob(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Job{}, notFound(id)
		}
		return domain.Job{}, fmt.Errorf("load job: %w", err)
	}
	return job, nil
}

func (r *Postgres) insertQuery(job domain.Job) (string, []any, error) {
	values, err := jobValues(job)
	if err != nil {
		return "", nil, err
	}
	return r.psql.Insert(r.table).Columns(jobColumns...).Values(values...).ToSql()
}

func (r *Postgres) selectQuery(id string, forUpdate bool) (string, []any, error) {
	b := r.psql.Select(jobColumns...).From(r.table).Where(sq.Eq{"job_id": id})
	if forUpdate {
		b = b.Suffix("FOR UPDATE")
	}
	return b.ToSql()
}

func (r *Postgres) updateQuery(job domain.Job) (string, []any, error) {
	values, err := jobValues(job)
	if err != nil {
		return "", nil, err
	}

	b := r.psql.Update(r.table)
	for i, col := range jobColumns {
		if col == "job_id" || col == "created_at" {
			continue
		}
		b = b.Set(col, values[i])
	}
	return b.Where(sq.Eq{"job_id": job.ID}).ToSql()
}

func jobValues(job domain.Job) ([]any, error) {
	var result []byte
	if job.Result != nil {
		raw, err := json.Marshal(job.Result)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
		result = raw
	}

	var code, message *string
	if job.Error != nil {
		c := string(job.Error.Code)
		code, message = &c, &job.Error.Message
	}

	return []any{
		job.ID, string(job.Mode), string(job.State), job.Progress, job.Message, result,
		code, message, job.Chunks, job.FailedChunks, job.SlidesCovered,
		job.CreatedAt, job.UpdatedAt,
	}, nil
}

func scanJob(row pgx.Row) (domain.Job, error) {
	var (
		job           domain.Job
		mode, state   string
		result        []byte
		code, message *string
	)
	err := row.Scan(
		&job.ID, &mode, &state, &job.Progress, &job.Message, &result,
		&code, &message, &job.Chunks, &job.FailedChunks, &job.SlidesCovered,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return domain.Job{}, err
	}

	job.Mode = domain.Mode(mode)
	job.State = domain.JobState(state)
	if len(result) > 0 {
		if err := json.Unmarshal(result, &job.Result); err != nil {
			return domain.Job{}, fmt.Errorf("decode result: %w", err)
		}
	}
	if code != nil {
		job.Error = &domain.JobError{Code: domain.Code(*code)}
		if message != nil {
			job.Error.Message = *message
		}
	}
	return job, nil
}

func schemaSQL(ident string) string {
	return `CREATE TABLE IF NOT EXISTS ` + ident + ` (
	job_id         TEXT PRIMARY KEY,
	mode           TEXT NOT NULL,
	state          TEXT NOT NULL,
	progress       INTEGER NOT NULL DEFAULT 0,
	message        TEXT NOT NULL DEFAULT '',
	result         JSONB,
	error_code     TEXT,
	error_message  TEXT,
	chunks         INTEGER NOT NULL DEFAULT 0,
	failed_chunks  INTEGER NOT NULL DEFAULT 0,
	slides_covered INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
)`
}
