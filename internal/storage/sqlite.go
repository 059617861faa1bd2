package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/proshno/internal/models"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		position INTEGER PRIMARY KEY,
		id INTEGER NOT NULL UNIQUE,
		question_id INTEGER,
		question TEXT NOT NULL,
		source_question TEXT,
		options TEXT,
		answer TEXT,
		explanation TEXT,
		difficulty TEXT,
		metadata TEXT
	);

	CREATE TABLE IF NOT EXISTS manifest (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		model_id TEXT NOT NULL,
		dimensions INTEGER NOT NULL,
		doc_count INTEGER NOT NULL,
		fingerprint TEXT NOT NULL,
		include_explanation INTEGER NOT NULL,
		built_at INTEGER NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// SaveSnapshot replaces the stored documents and manifest.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, docs []*models.Document, m *Manifest) error {
	if m == nil {
		return fmt.Errorf("%w: nil manifest", models.ErrPersistence)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", models.ErrPersistence, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM manifest`); err != nil {
		return fmt.Errorf("%w: clear manifest: %v", models.ErrPersistence, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return fmt.Errorf("%w: clear documents: %v", models.ErrPersistence, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO documents (position, id, question_id, question, source_question, options, answer, explanation, difficulty, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: prepare: %v", models.ErrPersistence, err)
	}
	defer stmt.Close()

	for i, doc := range docs {
		optionsJSON, err := json.Marshal(doc.Options)
		if err != nil {
			return fmt.Errorf("failed to marshal options: %w", err)
		}
		metadataJSON, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		var questionID sql.NullInt64
		if doc.QuestionID != nil {
			questionID = sql.NullInt64{Int64: *doc.QuestionID, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, i, doc.ID, questionID, doc.Question, doc.SourceQuestion,
			string(optionsJSON), doc.Answer, doc.Explanation, doc.Difficulty, string(metadataJSON)); err != nil {
			return fmt.Errorf("%w: insert document %d: %v", models.ErrPersistence, doc.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO manifest (id, model_id, dimensions, doc_count, fingerprint, include_explanation, built_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?)`,
		m.ModelID, m.Dimensions, m.DocCount, m.Fingerprint, m.IncludeExplanation, m.BuiltAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("%w: insert manifest: %v", models.ErrPersistence, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", models.ErrPersistence, err)
	}
	return nil
}

// LoadManifest returns the stored manifest.
func (s *SQLiteStore) LoadManifest(ctx context.Context) (*Manifest, error) {
	var m Manifest
	var builtAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT model_id, dimensions, doc_count, fingerprint, include_explanation, built_at
		 FROM manifest WHERE id = 1`,
	).Scan(&m.ModelID, &m.Dimensions, &m.DocCount, &m.Fingerprint, &m.IncludeExplanation, &builtAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no index manifest", models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest: %v", models.ErrPersistence, err)
	}
	m.BuiltAt = time.Unix(0, builtAt).UTC()
	return &m, nil
}

// LoadDocuments returns every stored document ordered by corpus position.
func (s *SQLiteStore) LoadDocuments(ctx context.Context) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, question_id, question, source_question, options, answer, explanation, difficulty, metadata
		 FROM documents ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("%w: query documents: %v", models.ErrPersistence, err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		var (
			doc          models.Document
			questionID   sql.NullInt64
			optionsJSON  sql.NullString
			metadataJSON sql.NullString
		)
		if err := rows.Scan(&doc.ID, &questionID, &doc.Question, &doc.SourceQuestion, &optionsJSON,
			&doc.Answer, &doc.Explanation, &doc.Difficulty, &metadataJSON); err != nil {
			return nil, fmt.Errorf("%w: scan document: %v", models.ErrPersistence, err)
		}
		if questionID.Valid {
			qid := questionID.Int64
			doc.QuestionID = &qid
		}
		if optionsJSON.String != "" {
			if err := json.Unmarshal([]byte(optionsJSON.String), &doc.Options); err != nil {
				return nil, fmt.Errorf("%w: document %d options: %v", models.ErrPersistence, doc.ID, err)
			}
		}
		if metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &doc.Metadata); err != nil {
				return nil, fmt.Errorf("%w: document %d metadata: %v", models.ErrPersistence, doc.ID, err)
			}
		}
		docs = append(docs, &doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read documents: %v", models.ErrPersistence, err)
	}
	return docs, nil
}

// CountDocuments returns the number of stored documents.
func (s *SQLiteStore) CountDocuments(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
