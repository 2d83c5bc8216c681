package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/telemetrics/telemetrics/internal/model"
)

// UpsertDocument writes payload under key, replacing any previous payload
// for the same (year, grand_prix, session, data_type). Listeners on
// ChannelDocuments are notified after the write; a failed notification is
// logged only.
func (db *DB) UpsertDocument(ctx context.Context, key model.DocumentKey, payload []byte) error {
	if !json.Valid(payload) {
		return fmt.Errorf("storage: upsert %s: payload is not valid JSON", key.DataType)
	}

	err := WithRetry(ctx, writeRetries, writeBaseDelay, func() error {
		_, err := db.pool.Exec(ctx,
			`INSERT INTO telemetry_data (year, grand_prix, session, data_type, payload)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (year, grand_prix, session, data_type)
			 DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`,
			key.Year, key.GrandPrix, key.Session, string(key.DataType), payload,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: upsert %d %s %s %s: %w", key.Year, key.GrandPrix, key.Session, key.DataType, err)
	}

	note, _ := json.Marshal(key)
	if err := db.Notify(ctx, ChannelDocuments, string(note)); err != nil {
		db.logger.Warn("storage: document notification failed", "error", err)
	}
	return nil
}

// GetDocument returns one stored document or ErrNotFound.
func (db *DB) GetDocument(ctx context.Context, key model.DocumentKey) (model.StoredDocument, error) {
	var d model.StoredDocument
	err := db.pool.QueryRow(ctx,
		`SELECT year, grand_prix, session, data_type, payload, updated_at
		 FROM telemetry_data
		 WHERE year = $1 AND grand_prix = $2 AND session = $3 AND data_type = $4`,
		key.Year, key.GrandPrix, key.Session, string(key.DataType),
	).Scan(&d.Year, &d.GrandPrix, &d.Session, &d.DataType, &d.Payload, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.StoredDocument{}, ErrNotFound
		}
		return model.StoredDocument{}, fmt.Errorf("storage: get document: %w", err)
	}
	return d, nil
}

// QueryDocuments returns the documents matching f ordered by year, grand
// prix, session and data type.
func (db *DB) QueryDocuments(ctx context.Context, f model.DocumentFilter) ([]model.StoredDocument, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Year != 0 {
		add("year = $%d", f.Year)
	}
	if f.FromYear != 0 {
		add("year >= $%d", f.FromYear)
	}
	if f.ToYear != 0 {
		add("year <= $%d", f.ToYear)
	}
	if f.GrandPrix != "" {
		add("grand_prix = $%d", f.GrandPrix)
	}
	if f.Session != "" {
		add("session = $%d", f.Session)
	}
	if f.DataType != "" {
		add("data_type = $%d", string(f.DataType))
	}

	q := `SELECT year, grand_prix, session, data_type, payload, updated_at FROM telemetry_data`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY year, grand_prix, session, data_type"

	rows, err := db.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query documents: %w", err)
	}
	defer rows.Close()

	var docs []model.StoredDocument
	for rows.Next() {
		var d model.StoredDocument
		if err := rows.Scan(&d.Year, &d.GrandPrix, &d.Session, &d.DataType, &d.Payload, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
