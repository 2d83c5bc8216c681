// Package uploader writes populated session documents to the document store.
package uploader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/telemetrics/telemetrics/internal/model"
)

// Store persists one document under its composite key. *storage.DB
// implements it.
type Store interface {
	UpsertDocument(ctx context.Context, key model.DocumentKey, payload []byte) error
}

// Uploader upserts documents one data type at a time. A failed type does not
// stop the others.
type Uploader struct {
	store  Store
	logger *slog.Logger
}

// New returns an Uploader writing to store.
func New(store Store, logger *slog.Logger) *Uploader {
	return &Uploader{store: store, logger: logger}
}

// UploadSession upserts every populated document of id and reports success
// per data type. Empty documents are never sent and do not appear in the
// result.
func (u *Uploader) UploadSession(ctx context.Context, id model.SessionID, docs []model.Document) map[model.DataType]bool {
	results := make(map[model.DataType]bool, len(docs))
	for _, doc := range docs {
		if !doc.Populated() {
			continue
		}
		err := u.upload(ctx, id, doc)
		results[doc.Type] = err == nil
		if err != nil {
			u.logger.Error("upload failed",
				"year", id.Year, "grand_prix", id.GrandPrix, "session", string(id.Type),
				"data_type", string(doc.Type), "error", err)
			continue
		}
		u.logger.Debug("uploaded document",
			"year", id.Year, "grand_prix", id.GrandPrix, "session", string(id.Type),
			"data_type", string(doc.Type))
	}
	return results
}

func (u *Uploader) upload(ctx context.Context, id model.SessionID, doc model.Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("uploader: marshal %s: %w", doc.Type, err)
	}
	key := model.DocumentKey{
		Year:      id.Year,
		GrandPrix: id.GrandPrix,
		Session:   string(id.Type),
		DataType:  doc.Type,
	}
	if err := u.store.UpsertDocument(ctx, key, payload); err != nil {
		return fmt.Errorf("uploader: upsert %s: %w", doc.Type, err)
	}
	return nil
}
