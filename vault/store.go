package vault

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeLayout has fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var (
	ErrNotFound      = errors.New("vault entry not found")
	ErrEmptyContent  = errors.New("vault entry content is empty")
	ErrInvalidSource = errors.New("invalid vault entry source")
)

const schema = `
CREATE TABLE IF NOT EXISTS vault_entries (
	id           TEXT PRIMARY KEY,
	content      TEXT NOT NULL,
	tags         TEXT NOT NULL DEFAULT '[]',
	added_from   TEXT NOT NULL,
	lesson_id    TEXT NOT NULL DEFAULT '',
	date_created TEXT NOT NULL,
	is_favorite  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS transcriptions (
	id         TEXT PRIMARY KEY,
	client_id  TEXT NOT NULL,
	text       TEXT NOT NULL,
	lines      TEXT NOT NULL DEFAULT '[]',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transcriptions_client ON transcriptions(client_id, created_at);
`

// Store persists the Flow Vault and the transcription history in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open vault database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply vault schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// AddEntry stores a new entry and returns it with its ID and creation time.
func (s *Store) AddEntry(ctx context.Context, in NewEntry) (*Entry, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, ErrEmptyContent
	}

	source := in.AddedFrom
	if source == "" {
		source = SourceManual
	}
	if !source.Valid() {
		return nil, fmt.Errorf("%w %q", ErrInvalidSource, in.AddedFrom)
	}

	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}

	entry := &Entry{
		ID:          uuid.NewString(),
		Content:     content,
		Tags:        tags,
		AddedFrom:   source,
		LessonID:    in.LessonID,
		DateCreated: s.now().UTC(),
		IsFavorite:  in.IsFavorite,
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vault_entries (id, content, tags, added_from, lesson_id, date_created, is_favorite)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Content, string(tagsJSON), string(entry.AddedFrom), entry.LessonID,
		entry.DateCreated.Format(timeLayout), boolToInt(entry.IsFavorite))
	if err != nil {
		return nil, fmt.Errorf("failed to insert vault entry: %w", err)
	}

	return entry, nil
}

// Get returns one entry.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, content, tags, added_from, lesson_id, date_created, is_favorite
		 FROM vault_entries WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Delete removes an entry.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM vault_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete vault entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete vault entry: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ToggleFavorite flips the favorite flag and returns the updated entry.
func (s *Store) ToggleFavorite(ctx context.Context, id string) (*Entry, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE vault_entries SET is_favorite = 1 - is_favorite WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to toggle favorite: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to toggle favorite: %w", err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

// All returns every entry, newest first.
func (s *Store) All(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, tags, added_from, lesson_id, date_created, is_favorite
		 FROM vault_entries ORDER BY date_created DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query vault entries: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vault entries: %w", err)
	}
	return entries, nil
}

func (s *Store) Favorites(ctx context.Context) ([]Entry, error) {
	return s.filter(ctx, func(e Entry) bool { return e.IsFavorite })
}

// ByTag returns entries with a tag containing tag, ignoring case.
func (s *Store) ByTag(ctx context.Context, tag string) ([]Entry, error) {
	return s.filter(ctx, func(e Entry) bool { return e.HasTag(tag) })
}

func (s *Store) filter(ctx context.Context, keep func(Entry) bool) ([]Entry, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(all))
	for _, e := range all {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (*Entry, error) {
	var (
		entry    Entry
		tagsJSON string
		source   string
		created  string
		favorite int
	)
	if err := sc.Scan(&entry.ID, &entry.Content, &tagsJSON, &source, &entry.LessonID, &created, &favorite); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan vault entry: %w", err)
	}

	if err := json.Unmarshal([]byte(tagsJSON), &entry.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags for entry %s: %w", entry.ID, err)
	}
	t, err := time.Parse(timeLayout, created)
	if err != nil {
		return nil, fmt.Errorf("failed to parse date for entry %s: %w", entry.ID, err)
	}

	entry.AddedFrom = Source(source)
	entry.DateCreated = t
	entry.IsFavorite = favorite != 0
	return &entry, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
