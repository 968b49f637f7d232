package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/chatrelay/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS identities (
	id                TEXT PRIMARY KEY,
	username          TEXT NOT NULL UNIQUE,
	display_name      TEXT NOT NULL DEFAULT '',
	avatar_uri        TEXT NOT NULL DEFAULT '',
	credential_digest BLOB,
	credential_salt   BLOB,
	created_at        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	sender_id  TEXT NOT NULL,
	text       TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY (sender_id) REFERENCES identities(id)
);

CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id, seq);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB

	// appendMu serializes Append so the clock and the row order agree.
	appendMu sync.Mutex
	clock    store.Clock
}

// New opens (or creates) the database at dbPath and applies the schema.
// Use ":memory:" for a throwaway database.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &SQLiteStore{db: db}

	var last sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(created_at) FROM messages`).Scan(&last); err != nil {
		db.Close()
		return nil, fmt.Errorf("read journal head: %w", err)
	}
	s.clock.Seed(last.Int64)

	return s, nil
}

// WithClock overrides the journal time source.
func (s *SQLiteStore) WithClock(now func() time.Time) *SQLiteStore {
	s.clock.Now = now
	return s
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== IdentityStore implementation ====

// CreateIdentity inserts a new identity.
func (s *SQLiteStore) CreateIdentity(ctx context.Context, identity *store.Identity) error {
	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO identities (id, username, display_name, avatar_uri, credential_digest, credential_salt, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		identity.ID,
		identity.Username,
		identity.DisplayName,
		identity.AvatarURI,
		identity.CredentialDigest,
		identity.CredentialSalt,
		identity.CreatedAt.UnixMilli(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return store.ErrConflict
		}
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

const identityColumns = `id, username, display_name, avatar_uri, credential_digest, credential_salt, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*store.Identity, error) {
	var (
		identity  store.Identity
		createdAt int64
	)
	err := row.Scan(
		&identity.ID,
		&identity.Username,
		&identity.DisplayName,
		&identity.AvatarURI,
		&identity.CredentialDigest,
		&identity.CredentialSalt,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}
	identity.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &identity, nil
}

// GetIdentity retrieves an identity by ID.
func (s *SQLiteStore) GetIdentity(ctx context.Context, id string) (*store.Identity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = ?`, id)
	identity, err := scanIdentity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query identity: %w", err)
	}
	return identity, nil
}

// GetIdentityByUsername retrieves an identity by login handle.
func (s *SQLiteStore) GetIdentityByUsername(ctx context.Context, username string) (*store.Identity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE username = ?`, username)
	identity, err := scanIdentity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query identity: %w", err)
	}
	return identity, nil
}

// ListIdentities returns identities ordered by creation.
func (s *SQLiteStore) ListIdentities(ctx context.Context) ([]*store.Identity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+identityColumns+` FROM identities ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	var identities []*store.Identity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		identities = append(identities, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return identities, nil
}

// SetCredentials replaces the stored digest and salt.
func (s *SQLiteStore) SetCredentials(ctx context.Context, id string, digest, salt []byte) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE identities SET credential_digest = ?, credential_salt = ? WHERE id = ?`,
		digest, salt, id,
	)
	if err != nil {
		return fmt.Errorf("update credentials: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ==== Journal implementation ====

// Append checks the sender and inserts the message in one transaction.
func (s *SQLiteStore) Append(ctx context.Context, senderID, text string) (store.Message, error) {
	if err := store.CheckText(text); err != nil {
		return store.Message{}, err
	}

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Message{}, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM identities WHERE id = ?`, senderID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Message{}, store.UnknownSender(senderID)
		}
		return store.Message{}, fmt.Errorf("check sender: %w", err)
	}

	msg := store.Message{
		ID:        uuid.NewString(),
		SenderID:  senderID,
		Text:      text,
		CreatedAt: s.clock.Next(),
	}
	result, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, sender_id, text, created_at) VALUES (?, ?, ?, ?)`,
		msg.ID, msg.SenderID, msg.Text, msg.CreatedAt,
	)
	if err != nil {
		return store.Message{}, fmt.Errorf("insert message: %w", err)
	}
	if msg.Seq, err = result.LastInsertId(); err != nil {
		return store.Message{}, fmt.Errorf("get last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return store.Message{}, fmt.Errorf("commit append: %w", err)
	}
	return msg, nil
}

// List returns messages ordered by sequence, optionally filtered by sender.
func (s *SQLiteStore) List(ctx context.Context, senderID string) ([]store.Message, error) {
	query := `SELECT seq, id, sender_id, text, created_at FROM messages`
	var args []any
	if senderID != "" {
		query += ` WHERE sender_id = ?`
		args = append(args, senderID)
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]store.Message, 0)
	for rows.Next() {
		var msg store.Message
		if err := rows.Scan(&msg.Seq, &msg.ID, &msg.SenderID, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}
