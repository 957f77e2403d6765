package store

// migrations are applied in order; the index+1 is the schema version.
var migrations = []string{
	`CREATE TABLE roles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		slug TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		permissions TEXT NOT NULL DEFAULT '{}'
	);
	CREATE TABLE users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role_id INTEGER REFERENCES roles(id),
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);`,

	`CREATE TABLE notifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		content TEXT NOT NULL,
		link TEXT NOT NULL DEFAULT '',
		is_read INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);
	CREATE INDEX idx_notifications_user_unread ON notifications(user_id, is_read);`,

	`CREATE TABLE feed_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		content TEXT NOT NULL,
		icon TEXT NOT NULL DEFAULT '',
		visibility TEXT NOT NULL DEFAULT 'public',
		created_at TEXT NOT NULL
	);
	CREATE INDEX idx_feed_items_created ON feed_items(created_at);`,

	`INSERT INTO roles (slug, name, description, permissions) VALUES
		('admin', 'Super Admin', 'Full access', '{"all":true,"customer_change_status":true,"customer_require_approval":false}'),
		('manager', 'Manager', 'Team management', '{"customer_change_status":true,"customer_require_approval":false,"notification_broadcast":true,"realtime_inspect":true}'),
		('sales', 'Sales', 'Sales representative', '{"customer_change_status":false,"customer_require_approval":true}');`,
}
