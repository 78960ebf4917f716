package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/protoflow/internal/ir"
)

// Record is a stored key/value pair.
type Record struct {
	ID         string
	Collection string
	Key        ir.Value
	Data       ir.Value
}

// PutRecord inserts or replaces the record for (collection, key) and returns
// its content-addressed id.
func (s *Store) PutRecord(ctx context.Context, collection string, key, data ir.Value) (string, error) {
	id, err := ir.RecordID(collection, key)
	if err != nil {
		return "", fmt.Errorf("record id: %w", err)
	}
	keyJSON, err := ir.MarshalCanonical(key)
	if err != nil {
		return "", fmt.Errorf("marshal key: %w", err)
	}
	dataJSON, err := ir.MarshalCanonical(data)
	if err != nil {
		return "", fmt.Errorf("marshal data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (id, collection, key, data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data
	`, id, collection, string(keyJSON), string(dataJSON))
	if err != nil {
		return "", fmt.Errorf("upsert record %s: %w", id, err)
	}
	return id, nil
}

// GetRecord returns the data stored under (collection, key).
func (s *Store) GetRecord(ctx context.Context, collection string, key ir.Value) (ir.Value, bool, error) {
	id, err := ir.RecordID(collection, key)
	if err != nil {
		return nil, false, fmt.Errorf("record id: %w", err)
	}

	var data string
	err = s.db.QueryRowContext(ctx, `SELECT data FROM records WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query record %s: %w", id, err)
	}
	v, err := ir.UnmarshalValue([]byte(data))
	if err != nil {
		return nil, false, fmt.Errorf("decode record %s: %w", id, err)
	}
	return v, true, nil
}

// DeleteRecord removes the record under (collection, key) and reports whether
// one existed.
func (s *Store) DeleteRecord(ctx context.Context, collection string, key ir.Value) (bool, error) {
	id, err := ir.RecordID(collection, key)
	if err != nil {
		return false, fmt.Errorf("record id: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete record %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete record %s: %w", id, err)
	}
	return n > 0, nil
}

// ListRecords returns every record in a collection ordered by canonical key.
func (s *Store) ListRecords(ctx context.Context, collection string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, key, data
		FROM records
		WHERE collection = ?
		ORDER BY key ASC COLLATE BINARY, id ASC COLLATE BINARY
	`, collection)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r         Record
			key, data string
		)
		if err := rows.Scan(&r.ID, &key, &data); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Collection = collection
		if r.Key, err = ir.UnmarshalValue([]byte(key)); err != nil {
			return nil, fmt.Errorf("decode key %s: %w", r.ID, err)
		}
		if r.Data, err = ir.UnmarshalValue([]byte(data)); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", r.ID, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}
