package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"crunch-coordinator/internal/domain"
	"crunch-coordinator/internal/storage"
)

// InputStore implements storage.InputStore using PostgreSQL.
type InputStore struct {
	pool *Pool
}

// NewInputStore creates a new InputStore.
func NewInputStore(pool *Pool) *InputStore {
	return &InputStore{pool: pool}
}

// Compile-time interface check.
var _ storage.InputStore = (*InputStore)(nil)

// Insert adds a new input. Returns ErrDuplicateKey if the ID exists.
func (s *InputStore) Insert(ctx context.Context, in *domain.InputRecord) error {
	query := `
		INSERT INTO inputs (
			id, raw_data, actuals, scope, status, received_at, resolvable_at, meta
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	rawData, err := marshalJSONB(in.RawData)
	if err != nil {
		return err
	}
	actuals, err := marshalJSONB(in.Actuals)
	if err != nil {
		return err
	}
	scope, err := marshalJSONB(in.Scope)
	if err != nil {
		return err
	}
	meta, err := marshalJSONB(in.Meta)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, query,
		in.ID,
		rawData,
		actuals,
		scope,
		string(in.Status),
		in.ReceivedAt,
		in.ResolvableAt,
		meta,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert input: %w", err)
	}
	return nil
}

// GetByID retrieves an input by ID. Returns ErrNotFound if not exists.
func (s *InputStore) GetByID(ctx context.Context, id string) (*domain.InputRecord, error) {
	query := `
		SELECT id, raw_data, actuals, scope, status, received_at, resolvable_at, meta
		FROM inputs
		WHERE id = $1
	`

	row := s.pool.QueryRow(ctx, query, id)
	in, err := scanInput(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get input by id: %w", err)
	}
	return in, nil
}

// Resolve stores ground truth on an input and marks it RESOLVED.
func (s *InputStore) Resolve(ctx context.Context, id string, actuals map[string]any) error {
	query := `
		UPDATE inputs
		SET actuals = $2, status = $3
		WHERE id = $1
	`

	data, err := marshalJSONB(actuals)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, query, id, data, string(domain.InputResolved))
	if err != nil {
		return fmt.Errorf("resolve input: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListByStatus retrieves inputs in a status, ordered by received_at ASC.
func (s *InputStore) ListByStatus(ctx context.Context, status domain.InputStatus) ([]*domain.InputRecord, error) {
	query := `
		SELECT id, raw_data, actuals, scope, status, received_at, resolvable_at, meta
		FROM inputs
		WHERE status = $1
		ORDER BY received_at ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("list inputs by status: %w", err)
	}
	defer rows.Close()

	var result []*domain.InputRecord
	for rows.Next() {
		in, err := scanInput(rows)
		if err != nil {
			return nil, fmt.Errorf("scan input row: %w", err)
		}
		result = append(result, in)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate input rows: %w", err)
	}

	return result, nil
}

// scanInput scans a single row into an InputRecord.
func scanInput(row pgx.Row) (*domain.InputRecord, error) {
	var in domain.InputRecord
	var rawData, actuals, scope, meta []byte
	var statusStr string

	err := row.Scan(
		&in.ID,
		&rawData,
		&actuals,
		&scope,
		&statusStr,
		&in.ReceivedAt,
		&in.ResolvableAt,
		&meta,
	)
	if err != nil {
		return nil, err
	}

	in.Status = domain.InputStatus(statusStr)
	if err := unmarshalJSONB(rawData, &in.RawData); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(actuals, &in.Actuals); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(scope, &in.Scope); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(meta, &in.Meta); err != nil {
		return nil, err
	}
	return &in, nil
}
