// Package store keeps the history of decoded barcodes in SQLite.
package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cjeanneret/scango/internal/logic/decode"
)

// Crops larger than this are downscaled before they are stored.
const (
	maxCropWidth  = 640
	maxCropHeight = 480
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: record not found")

// Store persists decoded matches.
type Store struct {
	db   *sql.DB
	path string
}

// Record is one stored match.
type Record struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id"`
	Text      string        `json:"text"`
	Format    string        `json:"format"`
	Points    []image.Point `json:"points,omitempty"`
	DecodedAt time.Time     `json:"decoded_at"`
	CreatedAt time.Time     `json:"created_at"`
	HasCrop   bool          `json:"has_crop"`
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// Open creates or opens the history database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("store: empty database path")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Add stores a match and its crop (which may be nil) and returns the new
// record ID.
func (s *Store) Add(ctx context.Context, sessionID string, m decode.Match, crop *image.Gray) (string, error) {
	ctx = ensureContext(ctx)
	if m.Text == "" {
		return "", errors.New("store: match has no text")
	}

	points, err := json.Marshal(m.Points)
	if err != nil {
		return "", fmt.Errorf("encode points: %w", err)
	}

	var (
		png    []byte
		width  int
		height int
	)
	if crop != nil && !crop.Bounds().Empty() {
		png, width, height, err = encodeCrop(crop)
		if err != nil {
			return "", err
		}
	}

	decodedAt := m.At
	if decodedAt.IsZero() {
		decodedAt = time.Now()
	}
	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	err = retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() {
			_ = tx.Rollback()
		}()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO matches (id, session_id, text, format, points, decoded_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, sessionID, m.Text, m.Format, string(points), decodedAt.UTC().Format(time.RFC3339Nano), now,
		); err != nil {
			return err
		}
		if png != nil {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO crops (match_id, width, height, png) VALUES (?, ?, ?, ?)`,
				id, width, height, png,
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return "", fmt.Errorf("insert match: %w", err)
	}
	return id, nil
}

func encodeCrop(crop *image.Gray) ([]byte, int, int, error) {
	var img image.Image = crop
	b := crop.Bounds()
	if b.Dx() > maxCropWidth || b.Dy() > maxCropHeight {
		img = imaging.Fit(crop, maxCropWidth, maxCropHeight, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, 0, 0, fmt.Errorf("encode crop: %w", err)
	}
	size := img.Bounds()
	return buf.Bytes(), size.Dx(), size.Dy(), nil
}

const recordColumns = `m.id, m.session_id, m.text, m.format, m.points, m.decoded_at, m.created_at, c.match_id IS NOT NULL`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		r         Record
		points    string
		decodedAt string
		createdAt string
	)
	if err := row.Scan(&r.ID, &r.SessionID, &r.Text, &r.Format, &points, &decodedAt, &createdAt, &r.HasCrop); err != nil {
		return nil, err
	}
	if points != "" {
		if err := json.Unmarshal([]byte(points), &r.Points); err != nil {
			return nil, fmt.Errorf("decode points: %w", err)
		}
	}
	r.DecodedAt = parseTime(decodedAt)
	r.CreatedAt = parseTime(createdAt)
	return &r, nil
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Get returns a single record.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM matches m LEFT JOIN crops c ON c.match_id = m.id WHERE m.id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get match: %w", err)
	}
	return r, nil
}

// List returns the most recent records first. A limit <= 0 returns all of
// them.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	return s.list(ctx, "", limit)
}

// ListSession returns the records of one session, most recent first.
func (s *Store) ListSession(ctx context.Context, sessionID string, limit int) ([]Record, error) {
	return s.list(ctx, sessionID, limit)
}

func (s *Store) list(ctx context.Context, sessionID string, limit int) ([]Record, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + recordColumns + ` FROM matches m LEFT JOIN crops c ON c.match_id = m.id`
	var args []any
	if sessionID != "" {
		query += ` WHERE m.session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY m.decoded_at DESC, m.created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matches: %w", err)
	}
	return out, nil
}

// Crop returns the PNG-encoded crop stored with a record.
func (s *Store) Crop(ctx context.Context, id string) ([]byte, error) {
	ctx = ensureContext(ctx)
	var png []byte
	err := s.db.QueryRowContext(ctx, `SELECT png FROM crops WHERE match_id = ?`, id).Scan(&png)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get crop: %w", err)
	}
	return png, nil
}

// Delete removes a record and its crop.
func (s *Store) Delete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)
	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, `DELETE FROM matches WHERE id = ?`, id)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("delete match: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ensureContext(ctx), `SELECT COUNT(1) FROM matches`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count matches: %w", err)
	}
	return n, nil
}
