package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btouchard/pulse/internal/auth"
	"github.com/btouchard/pulse/internal/config"
	"github.com/btouchard/pulse/internal/notify"
	"github.com/btouchard/pulse/internal/realtime"
	"github.com/btouchard/pulse/internal/store"
)

type recordingConn struct {
	id string

	mu     sync.Mutex
	frames []map[string]any
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Send(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	c.mu.Lock()
	c.frames = append(c.frames, m)
	c.mu.Unlock()
	return nil
}

func (c *recordingConn) Close(int, string) error { return nil }

func (c *recordingConn) Frames() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]any(nil), c.frames...)
}

type testServer struct {
	t        *testing.T
	store    *store.SQLiteStore
	issuer   *auth.TokenIssuer
	registry *realtime.Registry
	handler  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	issuer, err := auth.NewTokenIssuer([]byte("api-test-secret"), "HS256", time.Hour)
	require.NoError(t, err)

	reg := realtime.NewRegistry()
	hub := notify.NewHub(
		notify.NewStoreNotifier(s),
		notify.NewRealtimeNotifier(realtime.NewDispatcher(reg, nil)),
	)

	h := NewHandler(s, issuer, hub, reg)
	router := NewRouter(h, RouterOptions{
		Authenticator: auth.NewResolver(issuer, s),
		RateLimit:     config.RateLimitConfig{RequestsPerMinute: 6000, Burst: 1000, LoginPerMinute: 6000},
	})

	return &testServer{t: t, store: s, issuer: issuer, registry: reg, handler: router}
}

func (ts *testServer) addUser(name, email, roleSlug, password string) *store.UserRecord {
	ts.t.Helper()
	role, err := ts.store.GetRoleBySlug(roleSlug)
	require.NoError(ts.t, err)
	hash, err := auth.HashPassword(password)
	require.NoError(ts.t, err)
	u := &store.UserRecord{Name: name, Email: email, PasswordHash: hash, RoleID: role.ID, Active: true}
	require.NoError(ts.t, ts.store.CreateUser(u))
	return u
}

func (ts *testServer) token(u *store.UserRecord) string {
	ts.t.Helper()
	tok, _, err := ts.issuer.Issue(u.ID, u.Email, "")
	require.NoError(ts.t, err)
	return tok
}

func (ts *testServer) connect(u *store.UserRecord) *recordingConn {
	c := &recordingConn{id: u.Email}
	ts.registry.Register(c, u.ID)
	return c
}

func (ts *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func TestRegister_FirstUserIsAdmin(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/auth/register", "", map[string]string{
		"name": "Root", "email": "root@example.com", "password": "s3cret-pass",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "admin", decode[userResponse](t, rec).Role)

	rec = ts.do(http.MethodPost, "/auth/register", "", map[string]string{
		"name": "Ana", "email": "ana@example.com", "password": "s3cret-pass",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "sales", decode[userResponse](t, rec).Role)

	rec = ts.do(http.MethodPost, "/auth/register", "", map[string]string{
		"name": "Ana 2", "email": "ANA@example.com", "password": "s3cret-pass",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "email_taken", decode[errorBody](t, rec).Error)
}

func TestRegister_Validation(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	for _, body := range []map[string]string{
		{"name": "", "email": "a@example.com", "password": "long-enough"},
		{"name": "A", "email": "not-an-email", "password": "long-enough"},
		{"name": "A", "email": "a@example.com", "password": "short"},
	} {
		rec := ts.do(http.MethodPost, "/auth/register", "", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestLogin(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	ts.addUser("Maria", "maria@example.com", "manager", "correct-horse")

	t.Run("json", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/auth/login", "", credentials{Username: "maria@example.com", Password: "correct-horse"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decode[tokenResponse](t, rec)
		assert.Equal(t, "bearer", resp.TokenType)
		assert.Equal(t, "manager", resp.Role)
		assert.Equal(t, "Maria", resp.Name)

		claims, err := ts.issuer.Verify(resp.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "maria@example.com", claims.Subject)
		assert.Equal(t, "manager", claims.Role)
	})

	t.Run("form", func(t *testing.T) {
		form := url.Values{"username": {"maria@example.com"}, "password": {"correct-horse"}}
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("wrong password", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/auth/login", "", credentials{Username: "maria@example.com", Password: "nope"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown user", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/auth/login", "", credentials{Username: "ghost@example.com", Password: "x"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing fields", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/auth/login", "", credentials{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestLogin_InactiveUser(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	role, err := ts.store.GetRoleBySlug("sales")
	require.NoError(t, err)
	hash, err := auth.HashPassword("correct-horse")
	require.NoError(t, err)
	require.NoError(t, ts.store.CreateUser(&store.UserRecord{
		Name: "Old", Email: "old@example.com", PasswordHash: hash, RoleID: role.ID, Active: false,
	}))

	rec := ts.do(http.MethodPost, "/auth/login", "", credentials{Username: "old@example.com", Password: "correct-horse"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPI_RequiresBearer(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/feed", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(http.MethodGet, "/api/feed", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMe(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	u := ts.addUser("Ana", "ana@example.com", "sales", "pw-12345678")

	rec := ts.do(http.MethodGet, "/api/me", ts.token(u), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[userResponse](t, rec)
	assert.Equal(t, u.ID, me.ID)
	assert.Equal(t, "sales", me.Role)
}

func TestCreatePost_NotifiesMentionsAndBroadcasts(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	maria := ts.addUser("Maria", "maria@example.com", "sales", "pw-12345678")
	joao := ts.addUser("Joao Silva", "joao@example.com", "sales", "pw-12345678")
	bystander := ts.addUser("Carla", "carla@example.com", "manager", "pw-12345678")

	joaoConn := ts.connect(joao)
	bystanderConn := ts.connect(bystander)

	rec := ts.do(http.MethodPost, "/api/feed", ts.token(maria), createPostRequest{
		Content: "Deal closed with ACME, thanks @joao and @Joao! cc @maria @todos",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	post := decode[feedPost](t, rec)
	assert.Equal(t, "Maria", post.UserName)
	assert.Equal(t, store.VisibilityPublic, post.Visibility)
	assert.Equal(t, postIcon, post.Icon)

	// One durable notification for Joao, none for the author.
	rows, err := ts.store.ListUnreadNotifications(joao.ID, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, strings.HasPrefix(rows[0].Content, "Maria mentioned you in the feed: "))
	assert.Equal(t, "/", rows[0].Link)

	own, err := ts.store.ListUnreadNotifications(maria.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, own)

	// Joao: the notification, then the feed update.
	frames := joaoConn.Frames()
	require.Len(t, frames, 2)
	assert.Equal(t, "notification", frames[0]["type"])
	assert.Equal(t, rows[0].Content, frames[0]["content"])
	assert.EqualValues(t, rows[0].ID, frames[0]["id"])
	assert.Equal(t, "feed_update", frames[1]["type"])
	assert.Equal(t, "new_post", frames[1]["action"])

	// Everyone else connected only sees the feed update.
	frames = bystanderConn.Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, "feed_update", frames[0]["type"])
	postFrame, ok := frames[0]["post"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, post.ID, postFrame["id"])
	assert.Equal(t, "Maria", postFrame["user_name"])
}

func TestCreatePost_OfflineMentionIsStoredNotPushed(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	maria := ts.addUser("Maria", "maria@example.com", "sales", "pw-12345678")
	joao := ts.addUser("Joao", "joao@example.com", "sales", "pw-12345678")

	rec := ts.do(http.MethodPost, "/api/feed", ts.token(maria), createPostRequest{Content: "@joao call the client"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rows, err := ts.store.ListUnreadNotifications(joao.ID, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.False(t, ts.registry.IsOnline(joao.ID))
}

func TestCreatePost_RejectsEmptyContent(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	u := ts.addUser("Maria", "maria@example.com", "sales", "pw-12345678")

	rec := ts.do(http.MethodPost, "/api/feed", ts.token(u), createPostRequest{Content: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListFeed_SalesSeePublicAndOwn(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	sales := ts.addUser("Ana", "ana@example.com", "sales", "pw-12345678")
	other := ts.addUser("Bruno", "bruno@example.com", "sales", "pw-12345678")
	manager := ts.addUser("Maria", "maria@example.com", "manager", "pw-12345678")

	for _, it := range []*store.FeedItemRecord{
		{UserID: other.ID, Content: "public by bruno", Visibility: store.VisibilityPublic},
		{UserID: other.ID, Content: "private by bruno", Visibility: store.VisibilityPrivate},
		{UserID: sales.ID, Content: "private by ana", Visibility: store.VisibilityPrivate},
	} {
		require.NoError(t, ts.store.CreateFeedItem(it))
	}

	contents := func(tok string) []string {
		rec := ts.do(http.MethodGet, "/api/feed", tok, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var out []string
		for _, p := range decode[[]feedPost](t, rec) {
			out = append(out, p.Content)
		}
		return out
	}

	assert.Equal(t, []string{"private by ana", "public by bruno"}, contents(ts.token(sales)))
	assert.Equal(t, []string{"private by ana", "private by bruno", "public by bruno"}, contents(ts.token(manager)))
}

func TestListFeed_Filters(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	a := ts.addUser("Ana", "ana@example.com", "manager", "pw-12345678")
	b := ts.addUser("Bruno", "bruno@example.com", "sales", "pw-12345678")

	day := func(d int, h int) time.Time { return time.Date(2026, 3, d, h, 0, 0, 0, time.UTC) }
	for _, it := range []*store.FeedItemRecord{
		{UserID: a.ID, Content: "a-1", CreatedAt: day(1, 9)},
		{UserID: b.ID, Content: "b-2", CreatedAt: day(2, 23)},
		{UserID: a.ID, Content: "a-3", CreatedAt: day(3, 9)},
	} {
		require.NoError(t, ts.store.CreateFeedItem(it))
	}

	get := func(query string) []string {
		rec := ts.do(http.MethodGet, "/api/feed?"+query, ts.token(a), nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var out []string
		for _, p := range decode[[]feedPost](t, rec) {
			out = append(out, p.Content)
		}
		return out
	}

	assert.Equal(t, []string{"a-3", "a-1"}, get("user_id="+itoa(a.ID)))
	assert.Equal(t, []string{"b-2", "a-1"}, get("end_date=2026-03-02"), "date-only end_date includes the whole day")
	assert.Equal(t, []string{"a-3", "b-2"}, get("start_date=2026-03-02"))

	rec := ts.do(http.MethodGet, "/api/feed?start_date=yesterday", ts.token(a), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(http.MethodGet, "/api/feed?user_id=abc", ts.token(a), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotifications_ListAndMarkRead(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	ana := ts.addUser("Ana", "ana@example.com", "sales", "pw-12345678")
	bruno := ts.addUser("Bruno", "bruno@example.com", "sales", "pw-12345678")

	n1 := &store.NotificationRecord{UserID: ana.ID, Content: "first", Link: "/a"}
	n2 := &store.NotificationRecord{UserID: ana.ID, Content: "second"}
	require.NoError(t, ts.store.CreateNotification(n1))
	require.NoError(t, ts.store.CreateNotification(n2))

	rec := ts.do(http.MethodGet, "/api/notifications", ts.token(ana), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]notificationResponse](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].Content)

	// Someone else's notification looks missing.
	rec = ts.do(http.MethodPost, "/api/notifications/"+itoa(n1.ID)+"/read", ts.token(bruno), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodPost, "/api/notifications/"+itoa(n1.ID)+"/read", ts.token(ana), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = ts.do(http.MethodGet, "/api/notifications?limit=5", ts.token(ana), nil)
	list = decode[[]notificationResponse](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, n2.ID, list[0].ID)

	rec = ts.do(http.MethodPost, "/api/notifications/abc/read", ts.token(ana), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPushNotification(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	manager := ts.addUser("Maria", "maria@example.com", "manager", "pw-12345678")
	sales := ts.addUser("Ana", "ana@example.com", "sales", "pw-12345678")
	salesConn := ts.connect(sales)

	t.Run("sales lacks capability", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/api/notifications", ts.token(sales), pushRequest{Content: "hi"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("targeted", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/api/notifications", ts.token(manager), pushRequest{UserID: sales.ID, Content: "call me", Link: "/customers/4"})
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
		resp := decode[pushResponse](t, rec)
		assert.NotZero(t, resp.ID)
		assert.True(t, resp.Online)
		assert.False(t, resp.Broadcast)
	})

	t.Run("unknown user", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/api/notifications", ts.token(manager), pushRequest{UserID: 999, Content: "x"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("broadcast", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/api/notifications", ts.token(manager), pushRequest{Content: "system maintenance at 22h"})
		require.Equal(t, http.StatusAccepted, rec.Code)
		resp := decode[pushResponse](t, rec)
		assert.True(t, resp.Broadcast)
		assert.Zero(t, resp.ID, "broadcasts are not stored")
	})

	t.Run("empty content", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/api/notifications", ts.token(manager), pushRequest{UserID: sales.ID})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	frames := salesConn.Frames()
	require.Len(t, frames, 2)
	assert.Equal(t, "call me", frames[0]["content"])
	assert.Equal(t, "/customers/4", frames[0]["link"])
	assert.Equal(t, "system maintenance at 22h", frames[1]["content"])
}

func TestOnline(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	manager := ts.addUser("Maria", "maria@example.com", "manager", "pw-12345678")
	sales := ts.addUser("Ana", "ana@example.com", "sales", "pw-12345678")
	ts.connect(sales)
	ts.connect(sales)
	ts.connect(manager)

	rec := ts.do(http.MethodGet, "/api/realtime/online", ts.token(sales), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(http.MethodGet, "/api/realtime/online", ts.token(manager), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[onlineResponse](t, rec)
	assert.Equal(t, []int64{manager.ID, sales.ID}, resp.Users)
	assert.Equal(t, 2, resp.UserCount)
	assert.Equal(t, 3, resp.ConnectionCount)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestMentions(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"joao", "Léa_2"}, mentions("hey @joao and @Léa_2, see email@ and @todos"))
	assert.Empty(t, mentions("no mentions here"))
}

func TestPreview(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", preview("short", 10))
	assert.Equal(t, "açã...", preview("ação!!!", 3))
	assert.Equal(t, "ação...", preview("ação!!!", 4))
	assert.Equal(t, "ação", preview("ação", 4), "exactly n runes is not truncated")
}

func TestParseDate(t *testing.T) {
	t.Parallel()

	d, dateOnly, err := parseDate("2026-03-02")
	require.NoError(t, err)
	assert.True(t, dateOnly)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), d)

	_, dateOnly, err = parseDate("2026-03-02T10:00:00Z")
	require.NoError(t, err)
	assert.False(t, dateOnly)

	_, _, err = parseDate("03/02/2026")
	require.Error(t, err)
}

func TestNotFoundOr500(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	notFoundOr500(rec, "thing", store.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	notFoundOr500(rec, "thing", errors.New("disk full"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
