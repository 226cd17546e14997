package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore is a database-backed ExecutionStore.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

// NewPostgresStore opens a connection pool against the given DSN.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &PostgresStore{db: db, clock: time.Now}, nil
}

// NewPostgresStoreFromDB wraps an existing connection pool.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Migrate creates the store's tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS workflows (
			id         TEXT PRIMARY KEY,
			definition JSONB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS workflow_triggers (
			id          TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			trigger_type TEXT NOT NULL,
			definition  JSONB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS workflow_executions (
			id                     TEXT PRIMARY KEY,
			workflow_id            TEXT NOT NULL,
			trigger_id             TEXT,
			status                 TEXT NOT NULL,
			input_data             JSONB,
			variables              JSONB,
			output_data            JSONB,
			error_message          TEXT NOT NULL DEFAULT '',
			steps_completed        INT NOT NULL DEFAULT 0,
			steps_total            INT NOT NULL DEFAULT 0,
			started_at             TIMESTAMPTZ NOT NULL,
			completed_at           TIMESTAMPTZ,
			execution_time_seconds DOUBLE PRECISION NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS workflow_step_executions (
			seq                    BIGSERIAL,
			id                     TEXT PRIMARY KEY,
			execution_id           TEXT NOT NULL,
			step_id                TEXT NOT NULL,
			attempt_number         INT NOT NULL,
			status                 TEXT NOT NULL,
			input_data             JSONB,
			output_data            JSONB,
			error_message          TEXT NOT NULL DEFAULT '',
			started_at             TIMESTAMPTZ NOT NULL,
			completed_at           TIMESTAMPTZ,
			execution_time_seconds DOUBLE PRECISION NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_step_executions_execution
			ON workflow_step_executions (execution_id, seq);
	`)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// SaveWorkflow persists a workflow definition and its triggers.
func (s *PostgresStore) SaveWorkflow(ctx context.Context, workflow *Workflow) error {
	definition, err := json.Marshal(workflow.Options())
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, definition) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET definition = EXCLUDED.definition`,
		workflow.ID(), definition)
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}
	for _, trigger := range workflow.Triggers() {
		if err := s.upsertTrigger(ctx, trigger); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	var definition []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT definition FROM workflows WHERE id = $1`, id).Scan(&definition)
	if err == sql.ErrNoRows {
		return nil, NewValidationError(fmt.Sprintf("workflow %q not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	var opts Options
	if err := json.Unmarshal(definition, &opts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
	}
	return New(opts)
}

func (s *PostgresStore) upsertTrigger(ctx context.Context, trigger *WorkflowTrigger) error {
	definition, err := json.Marshal(trigger)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_triggers (id, workflow_id, trigger_type, definition)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET definition = EXCLUDED.definition`,
		trigger.ID, trigger.WorkflowID, string(trigger.Type), definition)
	if err != nil {
		return fmt.Errorf("failed to save trigger: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTrigger(ctx context.Context, id string) (*WorkflowTrigger, error) {
	var definition []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT definition FROM workflow_triggers WHERE id = $1`, id).Scan(&definition)
	if err == sql.ErrNoRows {
		return nil, NewValidationError(fmt.Sprintf("trigger %q not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load trigger: %w", err)
	}
	var trigger WorkflowTrigger
	if err := json.Unmarshal(definition, &trigger); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger: %w", err)
	}
	return &trigger, nil
}

func (s *PostgresStore) ListTriggers(ctx context.Context, triggerType TriggerType) ([]*WorkflowTrigger, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT definition FROM workflow_triggers WHERE trigger_type = $1`, string(triggerType))
	if err != nil {
		return nil, fmt.Errorf("failed to list triggers: %w", err)
	}
	defer rows.Close()

	var triggers []*WorkflowTrigger
	for rows.Next() {
		var definition []byte
		if err := rows.Scan(&definition); err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}
		var trigger WorkflowTrigger
		if err := json.Unmarshal(definition, &trigger); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger: %w", err)
		}
		triggers = append(triggers, &trigger)
	}
	return triggers, rows.Err()
}

func (s *PostgresStore) CreateTrigger(ctx context.Context, trigger *WorkflowTrigger) error {
	return s.upsertTrigger(ctx, trigger)
}

func (s *PostgresStore) UpdateTrigger(ctx context.Context, trigger *WorkflowTrigger) error {
	return s.upsertTrigger(ctx, trigger)
}

func (s *PostgresStore) DeleteTrigger(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM workflow_triggers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete trigger: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return NewValidationError(fmt.Sprintf("trigger %q not found", id))
	}
	return nil
}

func (s *PostgresStore) CreateExecution(ctx context.Context, execution *WorkflowExecution) error {
	inputData, variables, outputData, err := marshalExecutionMaps(execution)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_executions
			(id, workflow_id, trigger_id, status, input_data, variables, output_data,
			 error_message, steps_completed, steps_total, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		execution.ID, execution.WorkflowID, execution.TriggerID, string(execution.Status),
		inputData, variables, outputData, execution.ErrorMessage,
		execution.StepsCompleted, execution.StepsTotal, execution.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetExecution(ctx context.Context, id string) (*WorkflowExecution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, trigger_id, status, input_data, variables, output_data,
		       error_message, steps_completed, steps_total, started_at, completed_at,
		       execution_time_seconds
		FROM workflow_executions WHERE id = $1`, id)
	execution, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, NewValidationError(fmt.Sprintf("execution %q not found", id))
	}
	return execution, err
}

func (s *PostgresStore) UpdateExecutionStatus(ctx context.Context, id string, status ExecutionStatus, errorMessage string, outputData map[string]any) error {
	var outputJSON []byte
	if outputData != nil {
		var err error
		outputJSON, err = json.Marshal(outputData)
		if err != nil {
			return fmt.Errorf("failed to marshal output data: %w", err)
		}
	}

	// Terminal executions are never transitioned again.
	if status.IsTerminal() {
		now := s.clock()
		_, err := s.db.ExecContext(ctx, `
			UPDATE workflow_executions
			SET status = $2, error_message = $3,
			    output_data = COALESCE($4, output_data),
			    completed_at = $5,
			    execution_time_seconds = EXTRACT(EPOCH FROM ($5 - started_at))
			WHERE id = $1 AND status IN ('pending', 'running')`,
			id, string(status), errorMessage, outputJSON, now)
		if err != nil {
			return fmt.Errorf("failed to update execution status: %w", err)
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE workflow_executions
		SET status = $2, error_message = $3, output_data = COALESCE($4, output_data)
		WHERE id = $1 AND status IN ('pending', 'running')`,
		id, string(status), errorMessage, outputJSON)
	if err != nil {
		return fmt.Errorf("failed to update execution status: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateExecutionProgress(ctx context.Context, id string, stepsCompleted int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE workflow_executions
		SET steps_completed = LEAST($2, steps_total)
		WHERE id = $1`, id, stepsCompleted)
	if err != nil {
		return fmt.Errorf("failed to update execution progress: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetActiveExecutions(ctx context.Context) ([]*WorkflowExecution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, trigger_id, status, input_data, variables, output_data,
		       error_message, steps_completed, steps_total, started_at, completed_at,
		       execution_time_seconds
		FROM workflow_executions WHERE status IN ('pending', 'running')`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active executions: %w", err)
	}
	defer rows.Close()

	var executions []*WorkflowExecution
	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, execution)
	}
	return executions, rows.Err()
}

func (s *PostgresStore) CreateStepExecution(ctx context.Context, stepExecution *WorkflowStepExecution) error {
	inputData, err := marshalMap(stepExecution.InputData)
	if err != nil {
		return err
	}
	outputData, err := marshalMap(stepExecution.OutputData)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_step_executions
			(id, execution_id, step_id, attempt_number, status, input_data, output_data,
			 error_message, started_at, completed_at, execution_time_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		stepExecution.ID, stepExecution.ExecutionID, stepExecution.StepID,
		stepExecution.AttemptNumber, string(stepExecution.Status), inputData, outputData,
		stepExecution.ErrorMessage, stepExecution.StartedAt, stepExecution.CompletedAt,
		stepExecution.ExecutionTimeSeconds)
	if err != nil {
		return fmt.Errorf("failed to create step execution: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateStepExecution(ctx context.Context, stepExecution *WorkflowStepExecution) error {
	outputData, err := marshalMap(stepExecution.OutputData)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE workflow_step_executions
		SET status = $2, output_data = $3, error_message = $4,
		    completed_at = $5, execution_time_seconds = $6
		WHERE id = $1`,
		stepExecution.ID, string(stepExecution.Status), outputData,
		stepExecution.ErrorMessage, stepExecution.CompletedAt,
		stepExecution.ExecutionTimeSeconds)
	if err != nil {
		return fmt.Errorf("failed to update step execution: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return NewValidationError(fmt.Sprintf("step execution %q not found", stepExecution.ID))
	}
	return nil
}

func (s *PostgresStore) ListStepExecutions(ctx context.Context, executionID string) ([]*WorkflowStepExecution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, step_id, attempt_number, status, input_data, output_data,
		       error_message, started_at, completed_at, execution_time_seconds
		FROM workflow_step_executions WHERE execution_id = $1 ORDER BY seq`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list step executions: %w", err)
	}
	defer rows.Close()

	var records []*WorkflowStepExecution
	for rows.Next() {
		var record WorkflowStepExecution
		var status string
		var inputData, outputData []byte
		var completedAt sql.NullTime
		if err := rows.Scan(&record.ID, &record.ExecutionID, &record.StepID,
			&record.AttemptNumber, &status, &inputData, &outputData,
			&record.ErrorMessage, &record.StartedAt, &completedAt,
			&record.ExecutionTimeSeconds); err != nil {
			return nil, fmt.Errorf("failed to scan step execution: %w", err)
		}
		record.Status = ExecutionStatus(status)
		if completedAt.Valid {
			record.CompletedAt = &completedAt.Time
		}
		if err := unmarshalMap(inputData, &record.InputData); err != nil {
			return nil, err
		}
		if err := unmarshalMap(outputData, &record.OutputData); err != nil {
			return nil, err
		}
		records = append(records, &record)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*WorkflowExecution, error) {
	var execution WorkflowExecution
	var status string
	var triggerID sql.NullString
	var inputData, variables, outputData []byte
	var completedAt sql.NullTime
	err := row.Scan(&execution.ID, &execution.WorkflowID, &triggerID, &status,
		&inputData, &variables, &outputData, &execution.ErrorMessage,
		&execution.StepsCompleted, &execution.StepsTotal, &execution.StartedAt,
		&completedAt, &execution.ExecutionTimeSeconds)
	if err != nil {
		return nil, err
	}
	execution.Status = ExecutionStatus(status)
	execution.TriggerID = triggerID.String
	if completedAt.Valid {
		execution.CompletedAt = &completedAt.Time
	}
	if err := unmarshalMap(inputData, &execution.InputData); err != nil {
		return nil, err
	}
	if err := unmarshalMap(variables, &execution.Variables); err != nil {
		return nil, err
	}
	if err := unmarshalMap(outputData, &execution.OutputData); err != nil {
		return nil, err
	}
	return &execution, nil
}

func marshalExecutionMaps(execution *WorkflowExecution) (inputData, variables, outputData []byte, err error) {
	if inputData, err = marshalMap(execution.InputData); err != nil {
		return
	}
	if variables, err = marshalMap(execution.Variables); err != nil {
		return
	}
	outputData, err = marshalMap(execution.OutputData)
	return
}

func marshalMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal map: %w", err)
	}
	return data, nil
}

func unmarshalMap(data []byte, target *map[string]any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to unmarshal map: %w", err)
	}
	return nil
}

var _ ExecutionStore = (*PostgresStore)(nil)
