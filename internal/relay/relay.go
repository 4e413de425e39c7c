package relay

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/crisjonblvx/stoop/internal/adapters/signal"
	"github.com/crisjonblvx/stoop/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Options tune the relay; zero values get sane dev defaults.
type Options struct {
	TokenTTL      time.Duration
	SignalLimit   int
	SignalWindow  time.Duration
	Secret        string
	ReleaseRouter bool
}

// Relay routes signaling between room members. Rooms exist implicitly:
// created on first join, deleted when the last member leaves.
type Relay struct {
	tokens  *tokenStore
	limiter *rateLimiter
	secret  []byte

	mu    sync.Mutex
	rooms map[domain.RoomID]*room
}

func New(opts Options) *Relay {
	if opts.TokenTTL == 0 {
		opts.TokenTTL = time.Hour
	}
	if opts.SignalLimit == 0 {
		opts.SignalLimit = 60
	}
	if opts.SignalWindow == 0 {
		opts.SignalWindow = 10 * time.Second
	}
	if opts.Secret == "" {
		opts.Secret = "stoop-dev-secret"
	}
	return &Relay{
		tokens:  newTokenStore(opts.TokenTTL),
		limiter: newRateLimiter(opts.SignalLimit, opts.SignalWindow),
		secret:  []byte(opts.Secret),
		rooms:   make(map[domain.RoomID]*room),
	}
}

// Router builds the HTTP surface: the token endpoint and the room-scoped
// signaling endpoint. The cookie session keeps one identity per client
// across token reissues.
func (r *Relay) Router(mode string) *gin.Engine {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	e := gin.New()
	if mode == "debug" {
		e.Use(gin.Logger())
	}
	e.Use(gin.Recovery())

	store := cookie.NewStore(r.secret)
	e.Use(sessions.Sessions("StoopSessions", store))

	e.POST("/token", r.handleToken)
	e.GET("/rooms/:room/signal", r.handleSignal)
	return e
}

func (r *Relay) getOrCreateRoom(id domain.RoomID) *room {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[id]; ok {
		return rm
	}
	rm := newRoom(id)
	r.rooms[id] = rm
	log.Info().Str("module", "relay").Str("room", string(id)).Msg("room created")
	return rm
}

func (r *Relay) dropRoomIfEmpty(rm *room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm.empty() {
		delete(r.rooms, rm.id)
		log.Info().Str("module", "relay").Str("room", string(rm.id)).Msg("room destroyed")
	}
}

// handleSignal upgrades the connection and runs the member's read loop
// until it drops.
func (r *Relay) handleSignal(c *gin.Context) {
	user, ok := r.tokens.lookup(c.Query("token"))
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	roomID := domain.RoomID(c.Param("room"))

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("ws upgrade")
		return
	}

	conn := newMemberConn(ws)
	go conn.writePump()

	rm := r.getOrCreateRoom(roomID)

	// Insertion and the roster view are one atomic step: of two simultaneous
	// joiners, whoever inserts second sees the other in prior, so either the
	// replay or the join broadcast covers every pair.
	me := &member{user: user, conn: conn}
	prior := rm.add(me)

	// the newcomer learns the existing roster as individual join events, so
	// clients need exactly one code path for membership
	for _, m := range prior {
		r.sendJSON(conn, joinedEnvelope(m.user))
	}
	joinedData := mustMarshal(joinedEnvelope(user))
	for _, m := range prior {
		if err := m.conn.TrySend(joinedData); err != nil {
			log.Warn().Err(err).Str("module", "relay").
				Str("user", string(m.user.ID)).Msg("join broadcast drop")
		}
	}

	log.Info().Str("module", "relay").Str("room", string(roomID)).
		Str("user", string(user.ID)).Msg("member connected")

	r.readLoop(rm, me)

	// teardown: read loop ended, the member is gone
	rm.remove(user.ID)
	r.limiter.forget(user.ID)
	conn.Close()
	rm.broadcast(user.ID, mustMarshal(&signal.Envelope{
		Type:   signal.MsgUserLeft,
		UserID: user.ID,
	}))
	r.dropRoomIfEmpty(rm)
	log.Info().Str("module", "relay").Str("room", string(roomID)).
		Str("user", string(user.ID)).Msg("member disconnected")
}

func (r *Relay) readLoop(rm *room, me *member) {
	for {
		_, data, err := me.conn.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "relay").
					Str("user", string(me.user.ID)).Msg("read error")
			}
			return
		}
		if !r.limiter.allow(me.user.ID) {
			log.Warn().Str("module", "relay").Str("user", string(me.user.ID)).Msg("rate limited, frame dropped")
			continue
		}
		r.route(rm, me, data)
	}
}

// route stamps the sender identity and forwards one frame. The stamp is
// what lets receivers discard their own broadcast echoes.
func (r *Relay) route(rm *room, me *member, data []byte) {
	var env signal.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "relay").Str("user", string(me.user.ID)).Msg("bad frame")
		return
	}
	env.UserID = me.user.ID

	out, err := json.Marshal(&env)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("frame marshal")
		return
	}

	switch env.Type {
	case signal.MsgWebRTCSignal:
		rm.sendTo(env.TargetUserID, out)
	case signal.MsgMicStatus:
		rm.broadcast(me.user.ID, out)
	default:
		log.Warn().Str("module", "relay").Str("type", string(env.Type)).
			Str("user", string(me.user.ID)).Msg("unroutable frame")
	}
}

func (r *Relay) sendJSON(conn *memberConn, env *signal.Envelope) {
	if err := conn.TrySend(mustMarshal(env)); err != nil {
		log.Warn().Err(err).Str("module", "relay").Msg("send drop")
	}
}

func joinedEnvelope(u *domain.User) *signal.Envelope {
	return &signal.Envelope{
		Type:     signal.MsgUserJoined,
		UserID:   u.ID,
		Username: u.Username,
		Name:     u.Name,
	}
}

func mustMarshal(env *signal.Envelope) []byte {
	data, err := json.Marshal(env)
	if err != nil {
		// envelopes are plain structs; this cannot fail at runtime
		panic(err)
	}
	return data
}
