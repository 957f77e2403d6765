package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	// fixed width so stored UTC timestamps sort lexically
	timeFormat = "2006-01-02T15:04:05.000000000Z07:00"
	memoryPath = ":memory:"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, zero CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
// The database file is created with 0600 permissions and its parent directory with 0700.
// The special path ":memory:" opens a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := memoryPath + "?_pragma=foreign_keys(1)"

	if path != memoryPath {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}

		// Pre-create the file with restrictive permissions if it doesn't exist
		if _, err := os.Stat(path); os.IsNotExist(err) {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
			if err != nil {
				return nil, fmt.Errorf("creating database file: %w", err)
			}
			_ = f.Close()
		}

		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0) // an in-memory database lives only as long as its connection

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		slog.Info("applying migration", "version", i+1)
		if _, err := s.db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
			return fmt.Errorf("recording migration %d: %w", i+1, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Roles ---

func (s *SQLiteStore) GetRole(id int64) (*RoleRecord, error) {
	row := s.db.QueryRow("SELECT id, slug, name, description, permissions FROM roles WHERE id = ?", id)
	return scanRole(row)
}

func (s *SQLiteStore) GetRoleBySlug(slug string) (*RoleRecord, error) {
	row := s.db.QueryRow("SELECT id, slug, name, description, permissions FROM roles WHERE slug = ?", slug)
	return scanRole(row)
}

// --- Users ---

func (s *SQLiteStore) CreateUser(u *UserRecord) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	res, err := s.db.Exec(`INSERT INTO users (name, email, password_hash, role_id, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.Name, strings.ToLower(u.Email), u.PasswordHash, nullableID(u.RoleID), boolToInt(u.Active), formatTime(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading user id: %w", err)
	}
	u.ID = id
	u.Email = strings.ToLower(u.Email)
	return nil
}

const userColumns = "id, name, email, password_hash, COALESCE(role_id, 0), is_active, created_at"

func (s *SQLiteStore) GetUser(id int64) (*UserRecord, error) {
	row := s.db.QueryRow("SELECT "+userColumns+" FROM users WHERE id = ?", id)
	return scanUser(row)
}

func (s *SQLiteStore) GetUserByEmail(email string) (*UserRecord, error) {
	row := s.db.QueryRow("SELECT "+userColumns+" FROM users WHERE email = ?", strings.ToLower(email))
	return scanUser(row)
}

// FindUserByName returns the first user whose name contains fragment,
// case-insensitively. Used to resolve @mentions.
func (s *SQLiteStore) FindUserByName(fragment string) (*UserRecord, error) {
	row := s.db.QueryRow("SELECT "+userColumns+" FROM users WHERE name LIKE ? ESCAPE '\\' ORDER BY id LIMIT 1",
		"%"+escapeLike(fragment)+"%")
	return scanUser(row)
}

// RegisterUser inserts u with role firstRole when the users table is empty
// and role otherRole otherwise. The count and the insert share a transaction
// so concurrent sign-ups cannot both take firstRole. u.RoleID is set on return.
func (s *SQLiteStore) RegisterUser(u *UserRecord, firstRole, otherRole string) (*RoleRecord, error) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var n int
	if err := tx.QueryRow("SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return nil, fmt.Errorf("counting users: %w", err)
	}
	slug := otherRole
	if n == 0 {
		slug = firstRole
	}
	role, err := scanRole(tx.QueryRow("SELECT id, slug, name, description, permissions FROM roles WHERE slug = ?", slug))
	if err != nil {
		return nil, fmt.Errorf("loading role %q: %w", slug, err)
	}

	res, err := tx.Exec(`INSERT INTO users (name, email, password_hash, role_id, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.Name, strings.ToLower(u.Email), u.PasswordHash, role.ID, boolToInt(u.Active), formatTime(u.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("inserting user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading user id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing user: %w", err)
	}

	u.ID = id
	u.RoleID = role.ID
	u.Email = strings.ToLower(u.Email)
	return role, nil
}

func (s *SQLiteStore) CountUsers() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

// --- Notifications ---

func (s *SQLiteStore) CreateNotification(n *NotificationRecord) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	res, err := s.db.Exec(`INSERT INTO notifications (user_id, content, link, is_read, created_at) VALUES (?, ?, ?, ?, ?)`,
		n.UserID, n.Content, n.Link, boolToInt(n.Read), formatTime(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading notification id: %w", err)
	}
	n.ID = id
	return nil
}

func (s *SQLiteStore) ListUnreadNotifications(userID int64, limit int) ([]NotificationRecord, error) {
	query := "SELECT id, user_id, content, link, is_read, created_at FROM notifications WHERE user_id = ? AND is_read = 0 ORDER BY id DESC"
	args := []interface{}{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []NotificationRecord
	for rows.Next() {
		var n NotificationRecord
		var read int
		var createdAt string
		if err := rows.Scan(&n.ID, &n.UserID, &n.Content, &n.Link, &read, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		n.Read = read != 0
		n.CreatedAt = parseTime(createdAt)
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationRead marks a notification read if it belongs to userID.
func (s *SQLiteStore) MarkNotificationRead(id, userID int64) error {
	res, err := s.db.Exec("UPDATE notifications SET is_read = 1 WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("marking notification read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("marking notification read: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("notification %d: %w", id, ErrNotFound)
	}
	return nil
}

// --- Feed ---

func (s *SQLiteStore) CreateFeedItem(f *FeedItemRecord) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	if f.Visibility == "" {
		f.Visibility = VisibilityPublic
	}
	res, err := s.db.Exec(`INSERT INTO feed_items (user_id, content, icon, visibility, created_at) VALUES (?, ?, ?, ?, ?)`,
		f.UserID, f.Content, f.Icon, f.Visibility, formatTime(f.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting feed item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading feed item id: %w", err)
	}
	f.ID = id
	return nil
}

func (s *SQLiteStore) ListFeed(f FeedFilter) ([]FeedItemRecord, error) {
	query := `SELECT f.id, f.user_id, u.name, f.content, f.icon, f.visibility, f.created_at
		FROM feed_items f JOIN users u ON u.id = f.user_id WHERE 1=1`
	var args []interface{}

	if f.RestrictToVisible {
		query += " AND (f.visibility = ? OR f.user_id = ?)"
		args = append(args, VisibilityPublic, f.ViewerID)
	}
	if f.AuthorID > 0 {
		query += " AND f.user_id = ?"
		args = append(args, f.AuthorID)
	}
	if !f.Since.IsZero() {
		query += " AND f.created_at >= ?"
		args = append(args, formatTime(f.Since))
	}
	if !f.Until.IsZero() {
		query += " AND f.created_at <= ?"
		args = append(args, formatTime(f.Until))
	}

	query += " ORDER BY f.id DESC"

	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing feed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []FeedItemRecord
	for rows.Next() {
		var it FeedItemRecord
		var createdAt string
		if err := rows.Scan(&it.ID, &it.UserID, &it.UserName, &it.Content, &it.Icon, &it.Visibility, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning feed item: %w", err)
		}
		it.CreatedAt = parseTime(createdAt)
		items = append(items, it)
	}
	return items, rows.Err()
}

// --- Helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRole(row rowScanner) (*RoleRecord, error) {
	var r RoleRecord
	var perms string
	if err := row.Scan(&r.ID, &r.Slug, &r.Name, &r.Description, &perms); err != nil {
		return nil, wrapNotFound("role", err)
	}
	r.Permissions = map[string]bool{}
	if perms != "" {
		if err := json.Unmarshal([]byte(perms), &r.Permissions); err != nil {
			return nil, fmt.Errorf("decoding permissions of role %q: %w", r.Slug, err)
		}
	}
	return &r, nil
}

func scanUser(row rowScanner) (*UserRecord, error) {
	var u UserRecord
	var active int
	var createdAt string
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.RoleID, &active, &createdAt); err != nil {
		return nil, wrapNotFound("user", err)
	}
	u.Active = active != 0
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

func wrapNotFound(what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("scanning %s: %w", what, err)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeFormat, s)
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
