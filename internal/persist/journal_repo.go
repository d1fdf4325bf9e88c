package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LoadRecord is one container load.
type LoadRecord struct {
	ContainerID uuid.UUID
	Name        string
	Additive    bool
	Enabled     bool
	Programs    int
	At          time.Time
}

// UnloadRecord closes the open load row of a container.
type UnloadRecord struct {
	ContainerID uuid.UUID
	At          time.Time
}

// FailureRecord is one isolated program failure.
type FailureRecord struct {
	ContainerID uuid.UUID
	Entity      uint64
	Seq         uint64
	Program     string
	Digest      string
	Kind        string
	Callback    string
	Error       string
	At          time.Time
}

// Journal is the write side the persist phase flushes into.
type Journal interface {
	Write(ctx context.Context, loads []LoadRecord, unloads []UnloadRecord, failures []FailureRecord) error
}

type JournalRepo struct {
	db *DB
}

func NewJournalRepo(db *DB) *JournalRepo {
	return &JournalRepo{db: db}
}

const (
	insertLoadSQL = `INSERT INTO container_loads (container_id, name, additive, enabled, programs, loaded_at)
	 VALUES ($1, $2, $3, $4, $5, $6)`
	closeLoadSQL = `UPDATE container_loads SET unloaded_at = $2
	 WHERE container_id = $1 AND unloaded_at IS NULL`
	insertFailureSQL = `INSERT INTO program_failures (container_id, entity, seq, program, digest, kind, callback, error, failed_at)
	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
)

// Write stores one frame's records in a single transaction, loads before
// unloads so a container loaded and unloaded in the same frame is closed.
func (r *JournalRepo) Write(ctx context.Context, loads []LoadRecord, unloads []UnloadRecord, failures []FailureRecord) error {
	batch := buildJournalBatch(loads, unloads, failures)
	if batch.Len() == 0 {
		return nil
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("journal begin: %w", err)
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("journal statement %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("journal batch: %w", err)
	}
	return tx.Commit(ctx)
}

func buildJournalBatch(loads []LoadRecord, unloads []UnloadRecord, failures []FailureRecord) *pgx.Batch {
	b := &pgx.Batch{}
	for _, l := range loads {
		b.Queue(insertLoadSQL, l.ContainerID, l.Name, l.Additive, l.Enabled, l.Programs, l.At)
	}
	for _, u := range unloads {
		b.Queue(closeLoadSQL, u.ContainerID, u.At)
	}
	for _, f := range failures {
		b.Queue(insertFailureSQL,
			f.ContainerID, int64(f.Entity), int64(f.Seq), f.Program, f.Digest, f.Kind, f.Callback, f.Error, f.At,
		)
	}
	return b
}

// RecentFailures returns the newest failures of a program, newest first.
func (r *JournalRepo) RecentFailures(ctx context.Context, program string, limit int) ([]FailureRecord, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT container_id, entity, seq, program, digest, kind, callback, error, failed_at
		 FROM program_failures WHERE program = $1 ORDER BY failed_at DESC, id DESC LIMIT $2`,
		program, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	var out []FailureRecord
	for rows.Next() {
		var f FailureRecord
		var entity, seq int64
		if err := rows.Scan(&f.ContainerID, &entity, &seq, &f.Program, &f.Digest, &f.Kind, &f.Callback, &f.Error, &f.At); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		f.Entity, f.Seq = uint64(entity), uint64(seq)
		out = append(out, f)
	}
	return out, rows.Err()
}
