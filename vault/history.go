package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Transcription is one transcribed freestyle kept in the history table.
type Transcription struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"clientId"`
	Text      string    `json:"text"`
	Lines     []string  `json:"lines"`
	CreatedAt time.Time `json:"createdAt"`
}

// RecordTranscription appends a transcription to the history.
func (s *Store) RecordTranscription(ctx context.Context, clientID, text string, lines []string) (*Transcription, error) {
	if lines == nil {
		lines = []string{}
	}
	linesJSON, err := json.Marshal(lines)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lines: %w", err)
	}

	tr := &Transcription{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		Text:      text,
		Lines:     lines,
		CreatedAt: s.now().UTC(),
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO transcriptions (id, client_id, text, lines, created_at) VALUES (?, ?, ?, ?, ?)`,
		tr.ID, tr.ClientID, tr.Text, string(linesJSON), tr.CreatedAt.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to insert transcription: %w", err)
	}
	return tr, nil
}

// Transcriptions returns a client's transcriptions created at or after since,
// oldest first.
func (s *Store) Transcriptions(ctx context.Context, clientID string, since time.Time) ([]Transcription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, client_id, text, lines, created_at FROM transcriptions
		 WHERE client_id = ? AND created_at >= ?
		 ORDER BY created_at ASC, rowid ASC`,
		clientID, since.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query transcriptions: %w", err)
	}
	defer rows.Close()

	out := make([]Transcription, 0)
	for rows.Next() {
		var (
			tr        Transcription
			linesJSON string
			created   string
		)
		if err := rows.Scan(&tr.ID, &tr.ClientID, &tr.Text, &linesJSON, &created); err != nil {
			return nil, fmt.Errorf("failed to scan transcription: %w", err)
		}
		if err := json.Unmarshal([]byte(linesJSON), &tr.Lines); err != nil {
			return nil, fmt.Errorf("failed to decode lines for transcription %s: %w", tr.ID, err)
		}
		if tr.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("failed to parse date for transcription %s: %w", tr.ID, err)
		}
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcriptions: %w", err)
	}
	return out, nil
}
