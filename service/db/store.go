package db

import (
	"context"
	_ "embed"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// Store provides database operations for the service.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema applies the schema. All statements are idempotent, so this is
// safe to run on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Operation represents one execution of a vault operation: who ran it,
// against which vault, and how it ended.
type Operation struct {
	ID            int64
	WalletAddress string
	VaultState    string
	Operation     string
	Status        string // running, success, error
	ErrorMessage  *string
	TotalSteps    int32
	StartedAt     time.Time
	CompletedAt   *time.Time
}

// OperationSignature is one confirmed step of an operation.
type OperationSignature struct {
	OperationID int64
	StepIndex   int32
	Label       string
	Signature   string
	ConfirmedAt time.Time
}

// CreateOperationParams contains the parameters for recording a new operation.
type CreateOperationParams struct {
	WalletAddress string
	VaultState    string
	Operation     string
	TotalSteps    int32
}

// ListOperationsByWalletParams contains pagination parameters.
type ListOperationsByWalletParams struct {
	WalletAddress string
	Limit         int32
	Offset        int32
}

// CreateOperation records the start of an operation in status "running".
func (s *Store) CreateOperation(ctx context.Context, params CreateOperationParams) (*Operation, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO operations (wallet_address, vault_state, operation, total_steps)
		VALUES ($1, $2, $3, $4)
		RETURNING id, wallet_address, vault_state, operation, status, error_message, total_steps, started_at, completed_at`,
		params.WalletAddress, params.VaultState, params.Operation, params.TotalSteps,
	)
	return scanOperation(row)
}

// CompleteOperation marks an operation finished. Status must be "success" or
// "error"; errorMessage is nil on success.
func (s *Store) CompleteOperation(ctx context.Context, id int64, status string, errorMessage *string) (*Operation, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE operations
		SET status = $2, error_message = $3, completed_at = now()
		WHERE id = $1
		RETURNING id, wallet_address, vault_state, operation, status, error_message, total_steps, started_at, completed_at`,
		id, status, errorMessage,
	)
	return scanOperation(row)
}

// AddOperationSignature records a confirmed step signature.
func (s *Store) AddOperationSignature(ctx context.Context, operationID int64, stepIndex int32, label, signature string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO operation_signatures (operation_id, step_index, label, signature)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (operation_id, step_index) DO UPDATE SET signature = EXCLUDED.signature`,
		operationID, stepIndex, label, signature,
	)
	return err
}

// GetOperation retrieves an operation by id.
func (s *Store) GetOperation(ctx context.Context, id int64) (*Operation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, wallet_address, vault_state, operation, status, error_message, total_steps, started_at, completed_at
		FROM operations
		WHERE id = $1`,
		id,
	)
	return scanOperation(row)
}

// ListOperationsByWallet retrieves a wallet's operations, most recent first.
func (s *Store) ListOperationsByWallet(ctx context.Context, params ListOperationsByWalletParams) ([]*Operation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, wallet_address, vault_state, operation, status, error_message, total_steps, started_at, completed_at
		FROM operations
		WHERE wallet_address = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3`,
		params.WalletAddress, params.Limit, params.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []*Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// CountOperationsByWallet counts a wallet's operations.
func (s *Store) CountOperationsByWallet(ctx context.Context, walletAddress string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM operations WHERE wallet_address = $1`,
		walletAddress,
	).Scan(&count)
	return count, err
}

// ListOperationSignatures retrieves the confirmed step signatures of an
// operation in step order.
func (s *Store) ListOperationSignatures(ctx context.Context, operationID int64) ([]*OperationSignature, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT operation_id, step_index, label, signature, confirmed_at
		FROM operation_signatures
		WHERE operation_id = $1
		ORDER BY step_index`,
		operationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sigs []*OperationSignature
	for rows.Next() {
		var sig OperationSignature
		if err := rows.Scan(&sig.OperationID, &sig.StepIndex, &sig.Label, &sig.Signature, &sig.ConfirmedAt); err != nil {
			return nil, err
		}
		sigs = append(sigs, &sig)
	}
	return sigs, rows.Err()
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (*Operation, error) {
	var op Operation
	err := row.Scan(
		&op.ID,
		&op.WalletAddress,
		&op.VaultState,
		&op.Operation,
		&op.Status,
		&op.ErrorMessage,
		&op.TotalSteps,
		&op.StartedAt,
		&op.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &op, nil
}
