package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence interface for pulse.
// Defined at the consumer side per Go conventions.
type Store interface {
	// Roles
	GetRole(id int64) (*RoleRecord, error)
	GetRoleBySlug(slug string) (*RoleRecord, error)

	// Users
	CreateUser(u *UserRecord) error
	GetUser(id int64) (*UserRecord, error)
	GetUserByEmail(email string) (*UserRecord, error)
	FindUserByName(fragment string) (*UserRecord, error)
	CountUsers() (int, error)
	RegisterUser(u *UserRecord, firstRole, otherRole string) (*RoleRecord, error)

	// Notifications
	CreateNotification(n *NotificationRecord) error
	ListUnreadNotifications(userID int64, limit int) ([]NotificationRecord, error)
	MarkNotificationRead(id, userID int64) error

	// Feed
	CreateFeedItem(f *FeedItemRecord) error
	ListFeed(f FeedFilter) ([]FeedItemRecord, error)

	Close() error
}

// RoleRecord is a role with its permission flags.
type RoleRecord struct {
	ID          int64
	Slug        string
	Name        string
	Description string
	Permissions map[string]bool
}

// UserRecord is an ERP user account.
type UserRecord struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	RoleID       int64
	Active       bool
	CreatedAt    time.Time
}

// NotificationRecord is the durable copy of a notification pushed to a user.
type NotificationRecord struct {
	ID        int64
	UserID    int64
	Content   string
	Link      string
	Read      bool
	CreatedAt time.Time
}

// FeedItemRecord is an activity feed post.
type FeedItemRecord struct {
	ID         int64
	UserID     int64
	UserName   string // joined from users on read
	Content    string
	Icon       string
	Visibility string
	CreatedAt  time.Time
}

// Feed visibility values.
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// FeedFilter specifies criteria for listing feed items.
type FeedFilter struct {
	// ViewerID restricts results to public items plus the viewer's own when
	// RestrictToVisible is set.
	ViewerID          int64
	RestrictToVisible bool
	AuthorID          int64
	Since             time.Time
	Until             time.Time
	Limit             int
}
