package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oshokin/door-monitor/internal/domain/workflow"
	"github.com/oshokin/door-monitor/internal/repository/database"
)

// SQLStore persists instances in the instances and history tables.
type SQLStore struct {
	db *database.DB
}

// NewSQLStore creates a store over an opened database.
func NewSQLStore(db *database.DB) *SQLStore {
	return &SQLStore{db: db}
}

// CreateInstance inserts a new instance.
func (s *SQLStore) CreateInstance(ctx context.Context, instance *workflow.Instance) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO instances (id, name, input, output, status, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`),
		instance.ID,
		instance.Name,
		string(instance.Input),
		string(instance.Output),
		string(instance.Status),
		instance.Error,
		instance.CreatedAt.UnixNano(),
		instance.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("create instance %s: %w", instance.ID, err)
	}

	return nil
}

// GetInstance returns one instance including its history length.
func (s *SQLStore) GetInstance(ctx context.Context, id string) (*workflow.Instance, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT i.id, i.name, i.input, i.output, i.status, i.error, i.created_at, i.updated_at,
		       (SELECT COUNT(*) FROM history h WHERE h.instance_id = i.id)
		FROM instances i
		WHERE i.id = ?
	`), id)

	instance, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("get instance %s: %w", id, err)
	}

	return instance, nil
}

// ListInstances returns instances with the given status, oldest first.
func (s *SQLStore) ListInstances(ctx context.Context, status workflow.Status) ([]*workflow.Instance, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT i.id, i.name, i.input, i.output, i.status, i.error, i.created_at, i.updated_at,
		       (SELECT COUNT(*) FROM history h WHERE h.instance_id = i.id)
		FROM instances i
		WHERE i.status = ?
		ORDER BY i.created_at ASC, i.id ASC
	`), string(status))
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var result []*workflow.Instance

	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}

		result = append(result, instance)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}

	return result, nil
}

// Finish moves a Running instance to a terminal status.
func (s *SQLStore) Finish(
	ctx context.Context,
	id string,
	status workflow.Status,
	output []byte,
	reason string,
) (bool, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE instances
		SET status = ?, output = ?, error = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`),
		string(status),
		string(output),
		reason,
		time.Now().UnixNano(),
		id,
		string(workflow.StatusRunning),
	)
	if err != nil {
		return false, fmt.Errorf("finish instance %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("finish instance %s: rows affected: %w", id, err)
	}

	if affected > 0 {
		return true, nil
	}

	if _, err = s.GetInstance(ctx, id); err != nil {
		return false, err
	}

	return false, nil
}

// AppendStep records one step. Appending an existing seq is a no-op.
func (s *SQLStore) AppendStep(ctx context.Context, step *workflow.Step) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO history (instance_id, seq, kind, name, payload, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (instance_id, seq) DO NOTHING
	`),
		step.InstanceID,
		step.Seq,
		string(step.Kind),
		step.Name,
		string(step.Payload),
		step.Error,
		step.RecordedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("append step %d to %s: %w", step.Seq, step.InstanceID, err)
	}

	return nil
}

// LoadSteps returns the history ordered by seq.
func (s *SQLStore) LoadSteps(ctx context.Context, id string) ([]workflow.Step, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT instance_id, seq, kind, name, payload, error, recorded_at
		FROM history
		WHERE instance_id = ?
		ORDER BY seq ASC
	`), id)
	if err != nil {
		return nil, fmt.Errorf("load steps of %s: %w", id, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var steps []workflow.Step

	for rows.Next() {
		var (
			step       workflow.Step
			kind       string
			payload    string
			recordedAt int64
		)

		err = rows.Scan(&step.InstanceID, &step.Seq, &kind, &step.Name, &payload, &step.Error, &recordedAt)
		if err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}

		step.Kind = workflow.StepKind(kind)
		step.RecordedAt = time.Unix(0, recordedAt)

		if payload != "" {
			step.Payload = []byte(payload)
		}

		steps = append(steps, step)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("load steps of %s: %w", id, err)
	}

	return steps, nil
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanInstance reads one instance row.
func scanInstance(row scanner) (*workflow.Instance, error) {
	var (
		instance             workflow.Instance
		input, output        string
		status               string
		createdAt, updatedAt int64
	)

	err := row.Scan(
		&instance.ID,
		&instance.Name,
		&input,
		&output,
		&status,
		&instance.Error,
		&createdAt,
		&updatedAt,
		&instance.HistoryLength,
	)
	if err != nil {
		return nil, err
	}

	instance.Status = workflow.Status(status)
	instance.CreatedAt = time.Unix(0, createdAt)
	instance.UpdatedAt = time.Unix(0, updatedAt)

	if input != "" {
		instance.Input = []byte(input)
	}

	if output != "" {
		instance.Output = []byte(output)
	}

	return &instance, nil
}
