package resource

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"jsonapi-service/internal/audit"
	"jsonapi-service/internal/authz"
	"jsonapi-service/internal/pkg/crypt"
	"jsonapi-service/internal/pkg/session"
	"jsonapi-service/internal/pkg/token"
	"jsonapi-service/internal/policy"
	res "jsonapi-service/internal/resource"
	"jsonapi-service/internal/schema"
	"jsonapi-service/internal/service/auth"
	"jsonapi-service/internal/storage"
	"jsonapi-service/internal/storage/storagetest"
)

type fixture struct {
	engine   *gin.Engine
	handler  *Handler
	db       *storagetest.Adapter
	codec    *token.Codec
	sessions *session.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	desc, err := schema.Default()
	require.NoError(t, err)
	db := storagetest.New(desc)
	pol := policy.New(desc)
	codec := token.NewCodec("secret", 0)
	sessions := session.NewManager(codec, session.NewStore(db), session.NewCache(), nil, logger)
	authorizer := authz.New(pol, desc, sessions, db, logger)
	router := res.NewRouter(db, desc, logger)
	users := auth.NewAuthService(db, sessions, logger)
	cipher := crypt.New(nil, false, logger)
	auditLog := audit.NewLogger(nil, "audit:requests", logger)

	h := NewHandler(router, authorizer, sessions, users, cipher, auditLog, logger)
	engine := gin.New()
	engine.Any("/:model", h.Handle)
	engine.Any("/:model/:id", h.Handle)
	return &fixture{engine: engine, handler: h, db: db, codec: codec, sessions: sessions}
}

func (f *fixture) seed() {
	f.db.Seed("companies",
		storage.Row{"id": int64(1), "name": "acme"},
		storage.Row{"id": int64(2), "name": "globex"},
	)
	f.db.Seed("projects",
		storage.Row{"id": int64(9), "name": "site", "company": int64(1)},
		storage.Row{"id": int64(10), "name": "app", "company": int64(2)},
	)
	f.db.Seed("users",
		storage.Row{"id": int64(7), "name": "ann", "email": "ann@acme.test", "password": "hash", "active": true, "role": int64(5), "company": int64(1)},
		storage.Row{"id": int64(8), "name": "bob", "email": "bob@acme.test", "password": "hash", "active": true, "role": int64(5), "company": int64(2)},
	)
}

func (f *fixture) login(t *testing.T, claims *token.Claims) string {
	t.Helper()
	tok, err := f.sessions.IssueToken(context.Background(), claims)
	require.NoError(t, err)
	return tok
}

func (f *fixture) do(method, target, tok string, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if tok != "" {
		req.Header.Set("x-access-token", tok)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestOptionsPreflight(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodOptions, "/projects", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "Ok", decode(t, w)["result"])
}

func TestNullIDIsNotFound(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/projects/null", "", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestMissingTokenIsForbidden(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/projects", "", "")
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "missing token to validate", decode(t, w)["error"])
}

func TestGarbageTokenIsForbidden(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/projects", "not-a-token", "")
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestScopedCollectionRead(t *testing.T) {
	f := newFixture(t)
	f.seed()
	tok := f.login(t, &token.Claims{UserID: 7, Roles: []string{"developer"}, Companies: []int64{1}, Projects: []int64{9}})

	w := f.do(http.MethodGet, "/projects", tok, "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	docs := body["data"].([]any)
	require.Len(t, docs, 1)
	doc := docs[0].(map[string]any)
	require.Equal(t, float64(9), doc["id"])

	meta := body["meta"].(map[string]any)
	require.NotEmpty(t, meta["activationKey"])
	require.NotContains(t, meta, "token", "an unexpired session must not be refreshed")
	require.NotContains(t, body, "relogin")
}

func TestByIDOutsideScopeIsNotFound(t *testing.T) {
	f := newFixture(t)
	f.seed()
	tok := f.login(t, &token.Claims{UserID: 7, Roles: []string{"user"}})

	// The caller's own row works; anyone else's is invisible.
	w := f.do(http.MethodGet, "/users/7", tok, "")
	require.Equal(t, http.StatusOK, w.Code)
	doc := decode(t, w)["data"].(map[string]any)
	attrs := doc["attributes"].(map[string]any)
	require.Equal(t, "ann", attrs["name"])
	require.NotContains(t, attrs, "password")

	w = f.do(http.MethodGet, "/users/8", tok, "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestUnparsableBodyIsBadRequest(t *testing.T) {
	f := newFixture(t)
	f.seed()
	tok := f.login(t, &token.Claims{UserID: 7, Roles: []string{"admin"}})

	w := f.do(http.MethodPost, "/projects", tok, "{not json")
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, decode(t, w)["error"], "Error while parsing json")
}

func TestCreateThroughGateway(t *testing.T) {
	f := newFixture(t)
	f.seed()
	tok := f.login(t, &token.Claims{UserID: 7, Roles: []string{"admin"}})

	body := `{"data":{"type":"projects","attributes":{"name":"cli"},"relationships":{"company":{"data":{"type":"companies","id":1}}}}}`
	w := f.do(http.MethodPost, "/projects", tok, body)
	require.Equal(t, http.StatusOK, w.Code)

	doc := decode(t, w)["data"].(map[string]any)
	require.NotNil(t, doc["id"])
	require.Len(t, f.db.Rows("projects"), 3)
}

func TestExpiredRefreshDeadlineYieldsNewToken(t *testing.T) {
	f := newFixture(t)
	f.seed()
	tok := f.login(t, &token.Claims{UserID: 7, Roles: []string{"admin"}})

	later := time.Now().Add(11 * time.Minute)
	f.handler.WithClock(func() time.Time { return later })
	f.sessions.WithClock(func() time.Time { return later })

	w := f.do(http.MethodGet, "/projects", tok, "")
	require.Equal(t, http.StatusOK, w.Code)

	meta := decode(t, w)["meta"].(map[string]any)
	next, ok := meta["token"].(string)
	require.True(t, ok)
	require.NotEqual(t, tok, next)

	// The rotated token is immediately usable.
	w = f.do(http.MethodGet, "/projects", next, "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestSupersededTokenFlagsRelogin(t *testing.T) {
	f := newFixture(t)
	f.seed()
	old := f.login(t, &token.Claims{UserID: 7, Roles: []string{"admin"}})
	_ = f.login(t, &token.Claims{UserID: 7, Roles: []string{"admin"}})

	w := f.do(http.MethodGet, "/projects", old, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, decode(t, w)["relogin"])
}

func TestDeleteOutsideScopeIsForbidden(t *testing.T) {
	f := newFixture(t)
	f.seed()
	// The users model grants the user role delete, but only on rows the
	// scope can see.
	tok := f.login(t, &token.Claims{UserID: 7, Roles: []string{"user"}})

	w := f.do(http.MethodDelete, "/users/8", tok, "")
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "Insuficient Permissions", decode(t, w)["error"])
	require.Len(t, f.db.Rows("users"), 2)

	w = f.do(http.MethodDelete, "/users/7", tok, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, f.db.Rows("users"), 1)
}

func TestRejectedRequestIsAudited(t *testing.T) {
	f := newFixture(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	f.handler.audit = audit.NewLogger(rdb, "audit:requests", zap.NewNop())

	// Signed with the wrong secret: validation fails, yet the decoded
	// claims still attribute the audit entry.
	other := token.NewCodec("wrong-secret", 0)
	signed, _, err := other.Issue(&token.Claims{UserID: 7, Roles: []string{"developer"}}, 0)
	require.NoError(t, err)

	w := f.do(http.MethodGet, "/projects", signed, "")
	require.Equal(t, http.StatusForbidden, w.Code)

	entries, err := rdb.XRange(context.Background(), "audit:requests", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "projects", entries[0].Values["model"])
	require.Equal(t, "7", entries[0].Values["user"])
	require.Equal(t, "developer", entries[0].Values["role"])
	require.Equal(t, "403", entries[0].Values["status"])
}
