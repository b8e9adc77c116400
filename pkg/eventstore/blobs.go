// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package eventstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
)

// Blob is a content-addressed side-table entry referenced by payloads.
type Blob struct {
	ID          string
	ContentType string
	Data        []byte
}

// StoreBlob writes content to the blob store and returns its id. Blobs
// are addressed by content hash, so storing the same bytes twice is
// idempotent.
func (s *Store) StoreBlob(ctx context.Context, data []byte, contentType string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	id, err := s.storeBlobTx(ctx, tx, data, contentType)
	if err != nil {
		return "", err
	}
	return id, tx.Commit()
}

// storeBlobTx inserts a blob inside an existing transaction.
func (s *Store) storeBlobTx(ctx context.Context, tx *sql.Tx, data []byte, contentType string) (string, error) {
	sum := sha256.Sum256(data)
	id := hex.EncodeToString(sum[:])

	_, err := tx.ExecContext(ctx, `
		INSERT INTO blobs (id, content_type, data, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		id, contentType, data, formatTime(now()))
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetBlob returns the blob, or nil if it does not exist.
func (s *Store) GetBlob(ctx context.Context, blobID string) (*Blob, error) {
	blob := &Blob{ID: blobID}
	err := s.db.QueryRowContext(ctx,
		`SELECT content_type, data FROM blobs WHERE id = ?`, blobID).
		Scan(&blob.ContentType, &blob.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return blob, nil
}
