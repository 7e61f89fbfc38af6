// internal/handlers/resource/resource_handler.go
package resource

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"jsonapi-service/internal/audit"
	"jsonapi-service/internal/authz"
	"jsonapi-service/internal/pkg/crypt"
	xerrors "jsonapi-service/internal/pkg/errors"
	"jsonapi-service/internal/pkg/response"
	"jsonapi-service/internal/pkg/session"
	"jsonapi-service/internal/resource"
	authUsecase "jsonapi-service/internal/service/auth"
)

const tokenHeader = "x-access-token"

// Handler glues the pipeline together for every generic resource route:
// validate, adapt, route, then the response stages in fixed order (user
// token upkeep, password scrub, response filter, audit, session refresh,
// relogin flag, encryption).
type Handler struct {
	router   *resource.Router
	auth     *authz.Authorizer
	sessions *session.Manager
	users    *authUsecase.AuthService
	cipher   *crypt.Cipher
	audit    *audit.Logger
	logger   *zap.Logger

	// activationKey identifies this process instance; clients use it to
	// observe warm reuse across calls.
	activationKey string
	now           func() time.Time
}

func NewHandler(
	router *resource.Router,
	auth *authz.Authorizer,
	sessions *session.Manager,
	users *authUsecase.AuthService,
	cipher *crypt.Cipher,
	auditLog *audit.Logger,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		router:        router,
		auth:          auth,
		sessions:      sessions,
		users:         users,
		cipher:        cipher,
		audit:         auditLog,
		logger:        logger,
		activationKey: ulid.Make().String(),
		now:           time.Now,
	}
}

// WithClock overrides the time source. Tests only.
func (h *Handler) WithClock(now func() time.Time) *Handler {
	h.now = now
	return h
}

// Handle serves one generic resource request.
func (h *Handler) Handle(c *gin.Context) {
	if c.Request.Method == http.MethodOptions {
		response.JSON(c, http.StatusOK, gin.H{"result": "Ok"})
		return
	}

	model := c.Param("model")
	id := c.Param("id")
	if id == "null" {
		response.NotFound(c, "null is not a valid id")
		return
	}

	ctx := c.Request.Context()
	rawToken := c.GetHeader(tokenHeader)

	decision, err := h.auth.Validate(ctx, model, c.Request.Method, rawToken)
	if err != nil {
		h.recordAudit(c, decision, model, id, xerrors.From(err).Status)
		response.Error(c, err)
		return
	}

	req := &resource.Request{
		Table: model,
		ID:    id,
		Query: resource.NormalizeQuery(resource.QueryFromValues(c.Request.URL.Query())),
	}
	if err := h.readBody(c, decision, rawToken, req); err != nil {
		response.Error(c, err)
		return
	}

	if err := h.auth.AdaptRequest(ctx, decision, req); err != nil {
		response.Error(c, err)
		return
	}

	// Scoping may have injected an allowed-id list; a by-id request for an
	// id outside that list is simply not there. The surviving list is
	// dropped so the path id becomes the only id predicate.
	if id != "" {
		if allowed, ok := req.Query["id"].([]int64); ok {
			n, convErr := strconv.ParseInt(id, 10, 64)
			if convErr != nil || !containsInt(allowed, n) {
				response.NotFound(c, "Not Found")
				return
			}
			delete(req.Query, "id")
		}
	}

	payload, err := h.dispatch(c, req)
	status := http.StatusOK
	if err != nil {
		status = xerrors.From(err).Status
	}
	h.recordAudit(c, decision, model, id, status)
	if err != nil {
		response.Error(c, err)
		return
	}

	envelope := h.finishResponse(c, decision, model, rawToken, payload)
	h.respond(c, decision, rawToken, payload.Status, envelope)
}

func (h *Handler) dispatch(c *gin.Context, req *resource.Request) (*resource.Payload, error) {
	ctx := c.Request.Context()
	switch c.Request.Method {
	case http.MethodGet:
		return h.router.Get(ctx, req)
	case http.MethodPost:
		return h.router.Post(ctx, req)
	case http.MethodPatch:
		return h.router.Patch(ctx, req)
	case http.MethodDelete:
		return h.router.Delete(ctx, req)
	}
	return nil, xerrors.Forbidden()
}

// readBody decodes (and if needed decrypts) the request body for methods
// that carry one.
func (h *Handler) readBody(c *gin.Context, d *authz.Decision, rawToken string, req *resource.Request) error {
	if c.Request.Method != http.MethodPost && c.Request.Method != http.MethodPatch {
		return nil
	}
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return xerrors.Internal(err)
	}
	if len(raw) == 0 {
		return nil
	}
	if d.Authenticated {
		raw, err = h.cipher.DecryptBody(c.Request.Context(), rawToken, raw)
		if err != nil {
			return xerrors.New(http.StatusBadRequest, xerrors.ErrInvalidRequest, "undecryptable body")
		}
	}
	var env resource.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return xerrors.New(http.StatusBadRequest, xerrors.ErrInvalidRequest, "Error while parsing json: "+err.Error())
	}
	req.Body = &env
	return nil
}

// finishResponse runs the ordered post-route stages and assembles the
// response envelope.
func (h *Handler) finishResponse(c *gin.Context, d *authz.Decision, model, rawToken string, payload *resource.Payload) *resource.Envelope {
	ctx := c.Request.Context()

	if payload.Meta != nil {
		payload.Meta["activationKey"] = h.activationKey
	}

	// A patched user gets a fresh canonical token so the next request
	// cannot keep stale claims alive.
	if c.Request.Method == http.MethodPatch && model == "users" && payload.Data != nil && payload.Data.One != nil {
		if err := h.users.ReissueForDocument(ctx, payload.Data.One); err != nil {
			h.logger.Warn("token reissue after user patch failed", zap.Error(err))
		}
	}

	scrubPasswords(payload)

	claims := d.Claims()
	if claims != nil && h.auth.NeedsResponseFilter(d.Role()) {
		h.auth.FilterResponse(claims, payload)
	}

	envelope := &resource.Envelope{Data: payload.Data, Meta: payload.Meta}

	if claims != nil {
		nowMillis := h.now().UnixMilli()
		if claims.RefreshBy == 0 || claims.RefreshBy < nowMillis {
			creds, err := h.sessions.RefreshSession(ctx, rawToken, claims)
			if err != nil {
				h.logger.Warn("session refresh failed", zap.Int64("user", claims.UserID), zap.Error(err))
			} else {
				if envelope.Meta == nil {
					envelope.Meta = map[string]any{}
				}
				envelope.Meta["token"] = creds.Token
				if creds.Key != "" {
					envelope.Meta["key"] = creds.Key
				}
			}
		}
	}

	if d.NeedNewToken {
		envelope.Relogin = true
	}
	return envelope
}

// respond serializes, optionally encrypts, and writes the envelope.
func (h *Handler) respond(c *gin.Context, d *authz.Decision, rawToken string, status int, envelope *resource.Envelope) {
	if compress := c.GetHeader("x-compress-brotli"); compress != "" {
		c.Header("x-compress-brotli", "true")
		c.Header("Access-Control-Expose-Headers", "Content-Type, Content-Length, x-compress-brotli")
	}

	if !d.Authenticated || !h.cipher.Enabled() {
		response.JSON(c, status, envelope)
		return
	}

	raw, err := json.Marshal(envelope)
	if err != nil {
		response.Error(c, xerrors.Internal(err))
		return
	}
	sealed, err := h.cipher.EncryptBody(c.Request.Context(), rawToken, raw)
	if err != nil {
		response.Error(c, xerrors.Internal(err))
		return
	}
	response.Raw(c, status, "application/json", sealed)
}

func (h *Handler) recordAudit(c *gin.Context, d *authz.Decision, model, id string, status int) {
	ev := audit.Event{
		Method: c.Request.Method,
		Model:  model,
		ID:     id,
		Status: status,
		IP:     c.ClientIP(),
	}
	if claims := d.Claims(); claims != nil {
		ev.UserID = claims.UserID
		ev.Role = claims.Role()
	} else if tok := c.GetHeader(tokenHeader); tok != "" {
		// A rejected token may still decode; the claims attribute the
		// audit entry and nothing else.
		if peeked, err := h.sessions.Peek(tok); err == nil {
			ev.UserID = peeked.UserID
			ev.Role = peeked.Role()
		}
	}
	h.audit.Record(c.Request.Context(), ev)
}

// scrubPasswords drops the password attribute from every users document.
func scrubPasswords(payload *resource.Payload) {
	docs := payload.Data.Documents()
	if len(docs) == 0 || docs[0].Type != "users" {
		return
	}
	for _, doc := range docs {
		delete(doc.Attributes, "password")
	}
}

func containsInt(set []int64, v int64) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
