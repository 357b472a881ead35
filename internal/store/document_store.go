package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/scrollpace/scrollpace/internal/models"
)

// FieldQuery selects documents whose top-level source field equals a
// value, via SQLite's json_extract. A zero FieldQuery matches every
// document in the index.
type FieldQuery struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// IsMatchAll reports whether the query matches every document.
func (q FieldQuery) IsMatchAll() bool {
	return q.Field == ""
}

// whereClause builds the WHERE fragment and arguments for an index +
// query combination.
func (q FieldQuery) whereClause(index string) (string, []interface{}) {
	if q.IsMatchAll() {
		return "index_name = ?", []interface{}{index}
	}
	return "index_name = ? AND json_extract(source, '$.' || ?) = ?",
		[]interface{}{index, q.Field, q.Value}
}

// CountDocuments returns how many documents in the index match the query.
func (s *Store) CountDocuments(index string, q FieldQuery) (int64, error) {
	where, args := q.whereClause(index)
	var count int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM documents WHERE "+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return count, nil
}

// ScrollDocuments reads the next batch of matching documents after the
// given cursor, ordered by id. Keyset pagination keeps each batch read
// cheap no matter how deep the scroll is.
func (s *Store) ScrollDocuments(index string, q FieldQuery, afterID int64, limit int) ([]*models.Document, error) {
	where, args := q.whereClause(index)
	query := "SELECT id, index_name, doc_id, source, version, updated_at FROM documents WHERE " +
		where + " AND id > ? ORDER BY id ASC LIMIT ?"
	args = append(args, afterID, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("scroll documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// GetDocument fetches one document by index and doc id.
func (s *Store) GetDocument(index, docID string) (*models.Document, error) {
	row := s.db.QueryRow(
		"SELECT id, index_name, doc_id, source, version, updated_at FROM documents WHERE index_name = ? AND doc_id = ?",
		index, docID)
	return scanDocument(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var doc models.Document
	var source string
	if err := row.Scan(&doc.ID, &doc.Index, &doc.DocID, &source, &doc.Version, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(source), &doc.Source); err != nil {
		return nil, fmt.Errorf("document %s/%s has invalid source: %w", doc.Index, doc.DocID, err)
	}
	return &doc, nil
}

// InsertDocument adds a new document with version 1. It fails if the
// (index, doc_id) pair already exists.
func (s *Store) InsertDocument(index, docID string, source map[string]interface{}) (int64, error) {
	data, err := json.Marshal(source)
	if err != nil {
		return 0, fmt.Errorf("marshal source: %w", err)
	}
	res, err := s.db.Exec(
		"INSERT INTO documents (index_name, doc_id, source, version, updated_at) VALUES (?, ?, ?, 1, ?)",
		index, docID, string(data), time.Now())
	if err != nil {
		return 0, fmt.Errorf("insert document: %w", err)
	}
	return res.LastInsertId()
}

// UpdateDocumentVersioned writes a new source for the document only if
// its version still matches what the caller read. It returns false when
// the version moved on, which is a version conflict and the caller's
// cue to count it and carry on.
func (s *Store) UpdateDocumentVersioned(id int64, source map[string]interface{}, expectedVersion int64) (bool, error) {
	data, err := json.Marshal(source)
	if err != nil {
		return false, fmt.Errorf("marshal source: %w", err)
	}
	res, err := s.db.Exec(
		"UPDATE documents SET source = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?",
		string(data), time.Now(), id, expectedVersion)
	if err != nil {
		return false, fmt.Errorf("update document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// DeleteDocumentVersioned deletes the document only if its version
// still matches. False means a version conflict, not an error.
func (s *Store) DeleteDocumentVersioned(id int64, expectedVersion int64) (bool, error) {
	res, err := s.db.Exec("DELETE FROM documents WHERE id = ? AND version = ?", id, expectedVersion)
	if err != nil {
		return false, fmt.Errorf("delete document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// CopyDocument writes a document's source into another index under the
// same doc id, creating it or overwriting an existing copy. It reports
// whether a new document was created.
func (s *Store) CopyDocument(destIndex, docID string, source map[string]interface{}) (created bool, err error) {
	data, err := json.Marshal(source)
	if err != nil {
		return false, fmt.Errorf("marshal source: %w", err)
	}
	now := time.Now()
	res, err := s.db.Exec(
		"UPDATE documents SET source = ?, version = version + 1, updated_at = ? WHERE index_name = ? AND doc_id = ?",
		string(data), now, destIndex, docID)
	if err != nil {
		return false, fmt.Errorf("copy document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 1 {
		return false, nil
	}
	_, err = s.db.Exec(
		"INSERT INTO documents (index_name, doc_id, source, version, updated_at) VALUES (?, ?, ?, 1, ?)",
		destIndex, docID, string(data), now)
	if err != nil {
		return false, fmt.Errorf("copy document: %w", err)
	}
	return true, nil
}

// BumpDocumentVersion increments a document's version without changing
// its source. Used by tests to provoke version conflicts.
func (s *Store) BumpDocumentVersion(id int64) error {
	_, err := s.db.Exec("UPDATE documents SET version = version + 1 WHERE id = ?", id)
	return err
}
