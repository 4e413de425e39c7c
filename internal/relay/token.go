package relay

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/crisjonblvx/stoop/internal/domain"
)

// tokenStore holds short-lived bearer tokens bound to an identity. Tokens
// stay valid for their TTL so a client can re-present one on reconnect.
type tokenStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	tokens map[string]tokenEntry
}

type tokenEntry struct {
	user    *domain.User
	expires time.Time
}

func newTokenStore(ttl time.Duration) *tokenStore {
	return &tokenStore{ttl: ttl, tokens: make(map[string]tokenEntry)}
}

func (s *tokenStore) issue(user *domain.User) string {
	token := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = tokenEntry{user: user, expires: time.Now().Add(s.ttl)}
	return token
}

func (s *tokenStore) lookup(token string) (*domain.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tokens[token]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expires) {
		delete(s.tokens, token)
		return nil, false
	}
	return e.user, true
}

type tokenRequest struct {
	Username string `json:"username"`
	Name     string `json:"name"`
}

type tokenResponse struct {
	Token     string        `json:"token"`
	UserID    domain.UserID `json:"user_id"`
	ExpiresIn int           `json:"expires_in"`
}

// handleToken mints an identity and a bearer token for it. This is the
// upstream credential endpoint the client consumes; the production backend
// owns the real one. A client holding a session cookie keeps its identity
// across reissues, so reconnecting does not spawn a second user.
func (r *Relay) handleToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad payload"})
		return
	}

	sess := sessions.Default(c)
	id, _ := sess.Get("user_id").(string)
	if id == "" {
		id = uuid.NewString()
	}

	user, err := domain.NewUser(domain.UserID(id), req.Username, req.Name)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess.Set("user_id", id)
	if err := sess.Save(); err != nil {
		log.Warn().Err(err).Str("module", "relay").Msg("session save")
	}

	token := r.tokens.issue(user)
	log.Info().Str("module", "relay").Str("user", string(user.ID)).
		Str("username", user.Username).Msg("token issued")

	c.JSON(http.StatusOK, tokenResponse{
		Token:     token,
		UserID:    user.ID,
		ExpiresIn: int(r.tokens.ttl.Seconds()),
	})
}
