package drafts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"attachflow/internal/models"
)

// SQL keeps drafts in the attachment_drafts table created by storage.Migrate.
// The statements are portable between sqlite3 and mysql.
type SQL struct {
	db *sql.DB
}

func NewSQL(db *sql.DB) *SQL {
	return &SQL{db: db}
}

func (s *SQL) Load(ctx context.Context, sessionID string) (models.Draft, bool, error) {
	var (
		payload       string
		mediaAccepted bool
		updatedAt     time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, media_accepted, updated_at FROM attachment_drafts WHERE session_id = ?`,
		sessionID,
	).Scan(&payload, &mediaAccepted, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Draft{}, false, nil
	}
	if err != nil {
		return models.Draft{}, false, fmt.Errorf("load draft %s: %w", sessionID, err)
	}
	snap, err := decode(sessionID, []byte(payload))
	if err != nil {
		return models.Draft{}, false, err
	}
	d := snap.draft(sessionID)
	d.MediaAccepted = mediaAccepted
	d.UpdatedAt = updatedAt
	return d, true, nil
}

func (s *SQL) Save(ctx context.Context, d models.Draft) error {
	payload, err := encode(d)
	if err != nil {
		return err
	}
	updatedAt := d.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save draft %s: %w", d.SessionID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM attachment_drafts WHERE session_id = ?`, d.SessionID); err != nil {
		return fmt.Errorf("replace draft %s: %w", d.SessionID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO attachment_drafts (session_id, media_accepted, payload, updated_at) VALUES (?, ?, ?, ?)`,
		d.SessionID, d.MediaAccepted, string(payload), updatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("insert draft %s: %w", d.SessionID, err)
	}
	return tx.Commit()
}

func (s *SQL) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM attachment_drafts WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete draft %s: %w", sessionID, err)
	}
	return nil
}
