package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/btouchard/pulse/internal/auth"
	"github.com/btouchard/pulse/internal/notify"
	"github.com/btouchard/pulse/internal/permission"
	"github.com/btouchard/pulse/internal/store"
)

const (
	feedLimit      = 50
	mentionPreview = 100
	postIcon       = "at-sign"
	// everyoneMention addresses the whole company rather than a user.
	everyoneMention = "todos"
)

var mentionRe = regexp.MustCompile(`@([\p{L}\p{N}_]+)`)

type feedPost struct {
	ID         int64     `json:"id"`
	Content    string    `json:"content"`
	Icon       string    `json:"icon"`
	CreatedAt  time.Time `json:"created_at"`
	UserName   string    `json:"user_name"`
	Visibility string    `json:"visibility"`
}

type feedUpdate struct {
	Type   string   `json:"type"`
	Action string   `json:"action"`
	Post   feedPost `json:"post"`
}

func toFeedPost(it store.FeedItemRecord) feedPost {
	return feedPost{
		ID:         it.ID,
		Content:    it.Content,
		Icon:       it.Icon,
		CreatedAt:  it.CreatedAt.UTC(),
		UserName:   it.UserName,
		Visibility: it.Visibility,
	}
}

// ListFeed returns the latest feed items visible to the caller.
// Sales users see public items and their own.
func (h *Handler) ListFeed(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	filter := store.FeedFilter{
		ViewerID:          id.UserID,
		RestrictToVisible: id.Role.Slug == permission.RoleSales,
		Limit:             feedLimit,
	}

	q := r.URL.Query()
	if v := q.Get("user_id"); v != "" {
		author, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "user_id must be an integer")
			return
		}
		filter.AuthorID = author
	}
	if v := q.Get("start_date"); v != "" {
		t, _, err := parseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "start_date: "+err.Error())
			return
		}
		filter.Since = t
	}
	if v := q.Get("end_date"); v != "" {
		t, dateOnly, err := parseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "end_date: "+err.Error())
			return
		}
		if dateOnly {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		filter.Until = t
	}

	items, err := h.store.ListFeed(filter)
	if err != nil {
		internalError(w, "listing feed", err)
		return
	}

	out := make([]feedPost, 0, len(items))
	for _, it := range items {
		out = append(out, toFeedPost(it))
	}
	writeJSON(w, http.StatusOK, out)
}

type createPostRequest struct {
	Content string `json:"content"`
}

// CreatePost publishes a feed post. Every mentioned user gets a notification,
// then every connected client gets a feed_update.
func (h *Handler) CreatePost(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	var req createPostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "content is required")
		return
	}

	item := &store.FeedItemRecord{
		UserID:     id.UserID,
		Content:    req.Content,
		Icon:       postIcon,
		Visibility: store.VisibilityPublic,
		CreatedAt:  h.now(),
	}
	if err := h.store.CreateFeedItem(item); err != nil {
		internalError(w, "creating feed item", err)
		return
	}
	item.UserName = id.Name

	h.notifyMentions(r, id, req.Content)

	post := toFeedPost(*item)
	h.notifier.Notify(r.Context(), notify.Event{
		Type:    notify.TypeFeedUpdate,
		Content: post.Content,
		Payload: feedUpdate{Type: notify.TypeFeedUpdate, Action: "new_post", Post: post},
	})

	writeJSON(w, http.StatusCreated, post)
}

func (h *Handler) notifyMentions(r *http.Request, author *auth.Identity, content string) {
	seen := make(map[int64]bool)
	for _, name := range mentions(content) {
		u, err := h.store.FindUserByName(name)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				slog.Warn("resolving mention", "mention", name, "error", err)
			}
			continue
		}
		if u.ID == author.UserID || seen[u.ID] {
			continue
		}
		seen[u.ID] = true

		h.notifier.Notify(r.Context(), notify.Event{
			Type:    notify.TypeNotification,
			UserID:  u.ID,
			Content: fmt.Sprintf("%s mentioned you in the feed: %s", author.Name, preview(content, mentionPreview)),
			Link:    "/",
		})
	}
}

// mentions returns the @names in content, without the everyone mention.
func mentions(content string) []string {
	var out []string
	for _, m := range mentionRe.FindAllStringSubmatch(content, -1) {
		if strings.EqualFold(m[1], everyoneMention) {
			continue
		}
		out = append(out, m[1])
	}
	return out
}

func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

// parseDate accepts RFC 3339 timestamps or plain YYYY-MM-DD dates.
func parseDate(s string) (t time.Time, dateOnly bool, err error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, false, nil
	}
	t, err = time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("expected YYYY-MM-DD or RFC 3339, got %q", s)
	}
	return t, true, nil
}
