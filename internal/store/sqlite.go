package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/onebox/internal/model"
)

// SQLiteStore implements the MessageStore interface using a local SQLite
// database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// FindByExternalID retrieves a single message by its external id.
func (s *SQLiteStore) FindByExternalID(
	ctx context.Context,
	externalID string,
) (*model.Message, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT * FROM messages WHERE external_id = ?", externalID,
	)
	return scanOneMessage(row, externalID)
}

// FindByID retrieves a single message by its internal id.
func (s *SQLiteStore) FindByID(
	ctx context.Context,
	id string,
) (*model.Message, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT * FROM messages WHERE id = ?", id,
	)
	return scanOneMessage(row, id)
}

// Create inserts a new message record. If the message has no internal ID,
// a new UUID is generated. The created/updated timestamps are set to now
// when unset.
func (s *SQLiteStore) Create(ctx context.Context, msg *model.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now

	toAddrs, err := json.Marshal(msg.To)
	if err != nil {
		return fmt.Errorf("marshaling recipients for %s: %w", msg.ExternalID, err)
	}
	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return fmt.Errorf("marshaling attachments for %s: %w", msg.ExternalID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (
			id, external_id, account, folder,
			from_addr, to_addrs, subject, body_text, body_html,
			received_at, category, is_read, is_flagged,
			attachments, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ExternalID, msg.Account, msg.Folder,
		msg.From, string(toAddrs), msg.Subject, msg.BodyText, msg.BodyHTML,
		msg.ReceivedAt.UTC(), string(msg.Category),
		boolToInt(msg.IsRead), boolToInt(msg.IsFlagged),
		string(attachments), msg.CreatedAt, msg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating message %s: %w", msg.ExternalID, err)
	}

	return nil
}

// Save updates an existing message record in place. The category column is
// guarded in SQL: writing an empty category keeps whatever is already
// stored, so no caller can downgrade a categorized record in a lost-update
// race. The single UPDATE statement is the per-record atomic write the
// pipeline relies on.
func (s *SQLiteStore) Save(ctx context.Context, msg *model.Message) error {
	msg.UpdatedAt = time.Now().UTC()

	toAddrs, err := json.Marshal(msg.To)
	if err != nil {
		return fmt.Errorf("marshaling recipients for %s: %w", msg.ExternalID, err)
	}
	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return fmt.Errorf("marshaling attachments for %s: %w", msg.ExternalID, err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET
			account = ?, folder = ?,
			from_addr = ?, to_addrs = ?, subject = ?,
			body_text = ?, body_html = ?, received_at = ?,
			category = CASE WHEN ? = '' THEN category ELSE ? END,
			attachments = ?, updated_at = ?
		WHERE id = ?`,
		msg.Account, msg.Folder,
		msg.From, string(toAddrs), msg.Subject,
		msg.BodyText, msg.BodyHTML, msg.ReceivedAt.UTC(),
		string(msg.Category), string(msg.Category),
		string(attachments), msg.UpdatedAt,
		msg.ID,
	)
	if err != nil {
		return fmt.Errorf("saving message %s: %w", msg.ExternalID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("saving message %s: %w", msg.ExternalID, err)
	}
	if rows == 0 {
		return fmt.Errorf("saving message %s: %w", msg.ExternalID, ErrNotFound)
	}

	return nil
}

// Find retrieves messages matching the provided filter, sorted by
// received_at descending.
func (s *SQLiteStore) Find(
	ctx context.Context,
	filter MessageFilter,
) ([]model.Message, error) {
	var conditions []string
	var args []interface{}

	if filter.Account != nil {
		conditions = append(conditions, "account = ?")
		args = append(args, *filter.Account)
	}
	if filter.Folder != nil {
		conditions = append(conditions, "folder = ?")
		args = append(args, *filter.Folder)
	}
	if filter.Category != nil {
		conditions = append(conditions, "category = ?")
		args = append(args, string(*filter.Category))
	} else if filter.Uncategorized {
		conditions = append(conditions, "category = ''")
	}
	if filter.Query != nil && *filter.Query != "" {
		conditions = append(conditions,
			"(LOWER(subject) LIKE ? OR LOWER(body_text) LIKE ? OR LOWER(from_addr) LIKE ?)")
		q := "%" + strings.ToLower(*filter.Query) + "%"
		args = append(args, q, q, q)
	}

	query := "SELECT * FROM messages"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY received_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// scanMessage scans a message row from a sqlx.Rows result set.
func scanMessage(rows *sqlx.Rows) (model.Message, error) {
	var (
		msg         model.Message
		category    string
		toAddrs     string
		attachments string
		isRead      int
		isFlagged   int
		receivedAt  time.Time
		createdAt   time.Time
		updatedAt   time.Time
	)

	err := rows.Scan(
		&msg.ID, &msg.ExternalID, &msg.Account, &msg.Folder,
		&msg.From, &toAddrs, &msg.Subject, &msg.BodyText, &msg.BodyHTML,
		&receivedAt, &category, &isRead, &isFlagged,
		&attachments, &createdAt, &updatedAt,
	)
	if err != nil {
		return model.Message{}, fmt.Errorf("scanning message row: %w", err)
	}

	return hydrateMessage(msg, category, toAddrs, attachments,
		isRead, isFlagged, receivedAt, createdAt, updatedAt)
}

// scanOneMessage scans a single message from a sqlx.Row, mapping
// sql.ErrNoRows to ErrNotFound.
func scanOneMessage(row *sqlx.Row, key string) (*model.Message, error) {
	var (
		msg         model.Message
		category    string
		toAddrs     string
		attachments string
		isRead      int
		isFlagged   int
		receivedAt  time.Time
		createdAt   time.Time
		updatedAt   time.Time
	)

	err := row.Scan(
		&msg.ID, &msg.ExternalID, &msg.Account, &msg.Folder,
		&msg.From, &toAddrs, &msg.Subject, &msg.BodyText, &msg.BodyHTML,
		&receivedAt, &category, &isRead, &isFlagged,
		&attachments, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message %s: %w", key, err)
	}

	hydrated, err := hydrateMessage(msg, category, toAddrs, attachments,
		isRead, isFlagged, receivedAt, createdAt, updatedAt)
	if err != nil {
		return nil, err
	}
	return &hydrated, nil
}

// hydrateMessage decodes the JSON columns and applies scanned scalars.
func hydrateMessage(
	msg model.Message,
	category, toAddrs, attachments string,
	isRead, isFlagged int,
	receivedAt, createdAt, updatedAt time.Time,
) (model.Message, error) {
	msg.Category = model.Category(category)
	msg.IsRead = isRead != 0
	msg.IsFlagged = isFlagged != 0
	msg.ReceivedAt = receivedAt
	msg.CreatedAt = createdAt
	msg.UpdatedAt = updatedAt

	if toAddrs != "" {
		if err := json.Unmarshal([]byte(toAddrs), &msg.To); err != nil {
			return model.Message{}, fmt.Errorf("unmarshaling recipients: %w", err)
		}
	}
	if attachments != "" {
		if err := json.Unmarshal([]byte(attachments), &msg.Attachments); err != nil {
			return model.Message{}, fmt.Errorf("unmarshaling attachments: %w", err)
		}
	}

	return msg, nil
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
