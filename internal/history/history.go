// Package history persists finished dictation sessions in sqlite and
// owns the audio files the entries reference.
package history

import (
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	KindDictation = "dictation"
	KindDiary     = "diary"
)

var (
	ErrNotFound    = errors.New("history entry not found")
	ErrInvalidPath = errors.New("audio path outside the history audio directory")
)

// Entry is one persisted session. Entries are immutable after Add,
// except for deletion.
type Entry struct {
	ID              string    `json:"id"`
	Title           string    `json:"title,omitempty"`
	Text            string    `json:"text"`
	Kind            string    `json:"kind"`
	CreatedAt       time.Time `json:"createdAt"`
	DurationSeconds int       `json:"durationSeconds"`
	AudioFilePath   string    `json:"audioFilePath,omitempty"`
	LlmModel        string    `json:"llmModel,omitempty"`
	LlmVariantID    string    `json:"llmVariantId,omitempty"`
	AsrModel        string    `json:"asrModel,omitempty"`
	AsrVariantID    string    `json:"asrVariantId,omitempty"`
	TotalWords      int       `json:"totalWords"`
	TotalTokens     int       `json:"totalTokens"`
	LlmTotalTokens  int       `json:"llmTotalTokens,omitempty"`
	SourceApp       string    `json:"sourceApp,omitempty"`
	PolishStatus    string    `json:"llmPolishStatus"`
	PolishError     string    `json:"llmPolishError,omitempty"`
}

// Filter narrows List results. A zero Filter lists the 50 most recent
// entries of any kind.
type Filter struct {
	Kind   string `json:"kind,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// Stats aggregates across all entries.
type Stats struct {
	TotalEntries         int `json:"totalEntries"`
	TotalWords           int `json:"totalWords"`
	TotalDurationSeconds int `json:"totalDurationSeconds"`
	TotalSourceApps      int `json:"totalSourceApps"`
}

// RemovalInfo is what a deleted entry consumed, so the caller can
// revert usage counters.
type RemovalInfo struct {
	LlmVariantID    string
	LlmTotalTokens  int
	AsrVariantID    string
	DurationSeconds int
}

// Store is a sqlite-backed history collection.
type Store struct {
	db       *sql.DB
	audioDir string
}

func NewStore(dbPath, audioDir string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "history.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create history db directory: %w", err)
	}
	if audioDir != "" {
		if err := os.MkdirAll(audioDir, 0o755); err != nil {
			return nil, fmt.Errorf("create history audio directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, audioDir: audioDir}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS history_entries (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL,
			kind TEXT NOT NULL,
			created_at TEXT NOT NULL,
			duration_seconds INTEGER NOT NULL,
			audio_file_path TEXT NOT NULL DEFAULT '',
			llm_model TEXT NOT NULL DEFAULT '',
			llm_variant_id TEXT NOT NULL DEFAULT '',
			asr_model TEXT NOT NULL DEFAULT '',
			asr_variant_id TEXT NOT NULL DEFAULT '',
			total_words INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			llm_total_tokens INTEGER NOT NULL DEFAULT 0,
			source_app TEXT NOT NULL DEFAULT '',
			llm_polish_status TEXT NOT NULL DEFAULT 'skipped',
			llm_polish_error TEXT NOT NULL DEFAULT ''
		);
	`); err != nil {
		return fmt.Errorf("create history_entries table: %w", err)
	}

	if _, err := s.db.Exec(
		"CREATE INDEX IF NOT EXISTS idx_history_kind_created_at ON history_entries(kind, created_at DESC)",
	); err != nil {
		return fmt.Errorf("create history index: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Add inserts a finished session.
func (s *Store) Add(e Entry) error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("history entry id is required")
	}
	if e.Kind == "" {
		e.Kind = KindDictation
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.PolishStatus == "" {
		e.PolishStatus = "skipped"
	}

	_, err := s.db.Exec(`
		INSERT INTO history_entries(
			id, title, text, kind, created_at, duration_seconds, audio_file_path,
			llm_model, llm_variant_id, asr_model, asr_variant_id,
			total_words, total_tokens, llm_total_tokens, source_app,
			llm_polish_status, llm_polish_error
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Title, e.Text, e.Kind,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
		e.DurationSeconds, e.AudioFilePath,
		e.LlmModel, e.LlmVariantID, e.AsrModel, e.AsrVariantID,
		e.TotalWords, e.TotalTokens, e.LlmTotalTokens, e.SourceApp,
		e.PolishStatus, e.PolishError,
	)
	if err != nil {
		return fmt.Errorf("insert history entry %s: %w", e.ID, err)
	}
	return nil
}

const entryColumns = `id, title, text, kind, created_at, duration_seconds, audio_file_path,
	llm_model, llm_variant_id, asr_model, asr_variant_id,
	total_words, total_tokens, llm_total_tokens, source_app,
	llm_polish_status, llm_polish_error`

// List returns entries newest first. Limit defaults to 50 and is
// capped at 200.
func (s *Store) List(filter Filter) ([]Entry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	var rows *sql.Rows
	var err error
	if filter.Kind != "" {
		rows, err = s.db.Query(
			`SELECT `+entryColumns+` FROM history_entries WHERE kind = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
			filter.Kind, limit, offset,
		)
	} else {
		rows, err = s.db.Query(
			`SELECT `+entryColumns+` FROM history_entries ORDER BY created_at DESC LIMIT ? OFFSET ?`,
			limit, offset,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("query history entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return entries, nil
}

// Get returns one entry by id.
func (s *Store) Get(id string) (Entry, error) {
	row := s.db.QueryRow(`SELECT `+entryColumns+` FROM history_entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var e Entry
	var createdAt string
	if err := row.Scan(
		&e.ID, &e.Title, &e.Text, &e.Kind, &createdAt, &e.DurationSeconds, &e.AudioFilePath,
		&e.LlmModel, &e.LlmVariantID, &e.AsrModel, &e.AsrVariantID,
		&e.TotalWords, &e.TotalTokens, &e.LlmTotalTokens, &e.SourceApp,
		&e.PolishStatus, &e.PolishError,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scan history entry: %w", err)
	}
	parsed, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parse history entry %s created_at: %w", e.ID, err)
	}
	e.CreatedAt = parsed
	return e, nil
}

// Stats aggregates entry count, word count, audio duration and the
// number of distinct source apps.
func (s *Store) Stats() (Stats, error) {
	row := s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(total_words), 0),
		       COALESCE(SUM(duration_seconds), 0),
		       COUNT(DISTINCT NULLIF(source_app, ''))
		FROM history_entries`)

	var st Stats
	if err := row.Scan(&st.TotalEntries, &st.TotalWords, &st.TotalDurationSeconds, &st.TotalSourceApps); err != nil {
		return Stats{}, fmt.Errorf("query history stats: %w", err)
	}
	return st, nil
}

// Delete removes one entry and its audio file. The returned info lets
// the caller revert usage counters for the deleted entry.
func (s *Store) Delete(id string) (RemovalInfo, error) {
	e, err := s.Get(id)
	if err != nil {
		return RemovalInfo{}, err
	}

	if _, err := s.db.Exec(`DELETE FROM history_entries WHERE id = ?`, id); err != nil {
		return RemovalInfo{}, fmt.Errorf("delete history entry %s: %w", id, err)
	}
	s.removeAudioFile(e.AudioFilePath)

	return RemovalInfo{
		LlmVariantID:    e.LlmVariantID,
		LlmTotalTokens:  e.LlmTotalTokens,
		AsrVariantID:    e.AsrVariantID,
		DurationSeconds: e.DurationSeconds,
	}, nil
}

// Clear removes every entry and every referenced audio file.
func (s *Store) Clear() error {
	rows, err := s.db.Query(`SELECT audio_file_path FROM history_entries WHERE audio_file_path != ''`)
	if err != nil {
		return fmt.Errorf("query history audio paths: %w", err)
	}
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan audio path: %w", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("iterate audio paths: %w", err)
	}
	_ = rows.Close()

	if _, err := s.db.Exec(`DELETE FROM history_entries`); err != nil {
		return fmt.Errorf("clear history entries: %w", err)
	}
	for _, p := range paths {
		s.removeAudioFile(p)
	}
	return nil
}

func (s *Store) removeAudioFile(path string) {
	resolved, err := s.resolveAudioPath(path)
	if err != nil {
		return
	}
	_ = os.Remove(resolved)
}

// LoadAudio reads a stored audio file and returns it base64-encoded
// for playback. Paths must resolve inside the audio directory.
func (s *Store) LoadAudio(path string) (string, error) {
	resolved, err := s.resolveAudioPath(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("read history audio %s: %w", path, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// resolveAudioPath maps a stored audio path to an absolute path inside
// the audio directory. The recorder stores paths already joined onto
// the audio dir, so those are recognized and not joined twice; bare
// file names are joined.
func (s *Store) resolveAudioPath(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	root, err := filepath.Abs(filepath.Clean(s.audioDir))
	if err != nil {
		return "", fmt.Errorf("resolve audio directory: %w", err)
	}

	path := filepath.Clean(raw)
	if !filepath.IsAbs(path) {
		if rel, relErr := filepath.Rel(filepath.Clean(s.audioDir), path); relErr == nil &&
			rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			path = filepath.Join(root, rel)
		} else {
			path = filepath.Join(root, path)
		}
	}
	path = filepath.Clean(path)

	if !strings.HasPrefix(path, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, raw)
	}
	return path, nil
}
