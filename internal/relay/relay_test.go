package relay_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crisjonblvx/stoop/internal/adapters/signal"
	"github.com/crisjonblvx/stoop/internal/domain"
	"github.com/crisjonblvx/stoop/internal/relay"
)

func startRelay(t *testing.T, opts relay.Options) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(relay.New(opts).Router("release"))
	t.Cleanup(srv.Close)
	return srv
}

func getToken(t *testing.T, srv *httptest.Server, username, name string) (string, domain.UserID) {
	t.Helper()
	return getTokenWith(t, http.DefaultClient, srv, username, name)
}

func getTokenWith(t *testing.T, client *http.Client, srv *httptest.Server, username, name string) (string, domain.UserID) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "name": name})
	resp, err := client.Post(srv.URL+"/token", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("token request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("token endpoint returned %s", resp.Status)
	}
	var out struct {
		Token  string        `json:"token"`
		UserID domain.UserID `json:"user_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("token decode: %v", err)
	}
	return out.Token, out.UserID
}

func dialRoom(t *testing.T, srv *httptest.Server, room, token string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/rooms/" + room + "/signal?token=" + token
	ws, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("room dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readEnv(t *testing.T, ws *websocket.Conn) *signal.Envelope {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env signal.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return &env
}

func expectSilence(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, data, err := ws.ReadMessage(); err == nil {
		t.Fatalf("unexpected frame: %s", data)
	}
}

func sendEnv(t *testing.T, ws *websocket.Conn, env *signal.Envelope) {
	t.Helper()
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestTokenEndpoint(t *testing.T) {
	srv := startRelay(t, relay.Options{})

	token, userID := getToken(t, srv, "alice", "Alice")
	if token == "" || userID == "" {
		t.Fatalf("empty credentials: token=%q user=%q", token, userID)
	}

	resp, err := http.Post(srv.URL+"/token", "application/json",
		strings.NewReader(`{"username":"","name":"Nobody"}`))
	if err != nil {
		t.Fatalf("token request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank username accepted: %s", resp.Status)
	}
}

func TestSessionKeepsIdentityAcrossTokens(t *testing.T) {
	srv := startRelay(t, relay.Options{})

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("jar: %v", err)
	}
	client := &http.Client{Jar: jar}

	// same session cookie, reissued token: the identity is stable, so a
	// reconnecting client does not show up as a second user
	tok1, id1 := getTokenWith(t, client, srv, "alice", "Alice")
	tok2, id2 := getTokenWith(t, client, srv, "alice", "Alice")
	if id1 != id2 {
		t.Fatalf("identity changed across reissue: %q then %q", id1, id2)
	}
	if tok1 == tok2 {
		t.Fatal("token not rotated on reissue")
	}

	// a client without the cookie is someone else
	_, id3 := getToken(t, srv, "alice", "Alice")
	if id3 == id1 {
		t.Fatal("cookieless client got an existing identity")
	}
}

func TestConcurrentJoinsConvergeRosters(t *testing.T) {
	srv := startRelay(t, relay.Options{})

	const n = 5
	tokens := make([]string, n)
	ids := make([]domain.UserID, n)
	for i := range tokens {
		tokens[i], ids[i] = getToken(t, srv, fmt.Sprintf("user%d", i), "")
	}

	// every client joins at once; each must still learn of every other,
	// whether via roster replay or the join broadcast
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/rooms/porch/signal?token=" + tokens[i]
			ws, _, err := websocket.DefaultDialer.Dial(u, nil)
			if err != nil {
				errs <- fmt.Errorf("client %d dial: %w", i, err)
				return
			}
			defer ws.Close()

			seen := map[domain.UserID]bool{}
			ws.SetReadDeadline(time.Now().Add(3 * time.Second))
			for len(seen) < n-1 {
				_, data, err := ws.ReadMessage()
				if err != nil {
					errs <- fmt.Errorf("client %d saw %d of %d joins: %w", i, len(seen), n-1, err)
					return
				}
				var env signal.Envelope
				if err := json.Unmarshal(data, &env); err != nil {
					errs <- fmt.Errorf("client %d decode: %w", i, err)
					return
				}
				if env.Type == signal.MsgUserJoined && env.UserID != ids[i] {
					seen[env.UserID] = true
				}
			}
			errs <- nil
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatal(err)
		}
	}
}

func TestInvalidTokenRejected(t *testing.T) {
	srv := startRelay(t, relay.Options{})

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/rooms/porch/signal?token=bogus"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatal("bogus token accepted")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestRoomSignaling(t *testing.T) {
	srv := startRelay(t, relay.Options{})

	tokenA, idA := getToken(t, srv, "alice", "Alice")
	tokenB, idB := getToken(t, srv, "bob", "Bob")

	wsA := dialRoom(t, srv, "porch", tokenA)
	wsB := dialRoom(t, srv, "porch", tokenB)

	// the newcomer learns the roster as join events; the incumbent learns of
	// the newcomer the same way
	env := readEnv(t, wsB)
	if env.Type != signal.MsgUserJoined || env.UserID != idA || env.Username != "alice" {
		t.Fatalf("roster replay to newcomer = %+v", env)
	}
	env = readEnv(t, wsA)
	if env.Type != signal.MsgUserJoined || env.UserID != idB {
		t.Fatalf("join broadcast to incumbent = %+v", env)
	}

	// point-to-point: only the target receives, with the sender stamped
	sendEnv(t, wsB, &signal.Envelope{
		Type:         signal.MsgWebRTCSignal,
		TargetUserID: idA,
		SignalType:   signal.SignalOffer,
		SignalData:   json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
	})
	env = readEnv(t, wsA)
	if env.Type != signal.MsgWebRTCSignal || env.SignalType != signal.SignalOffer {
		t.Fatalf("forwarded signal = %+v", env)
	}
	if env.UserID != idB {
		t.Fatalf("sender stamp = %q, want %q", env.UserID, idB)
	}
	expectSilence(t, wsB)

	// broadcast: everyone but the sender
	muted := false
	sendEnv(t, wsA, &signal.Envelope{Type: signal.MsgMicStatus, IsMuted: &muted})
	env = readEnv(t, wsB)
	if env.Type != signal.MsgMicStatus || env.UserID != idA || env.Muted() {
		t.Fatalf("mic broadcast = %+v", env)
	}
	expectSilence(t, wsA)

	// departure fans out to the survivors
	wsB.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
	wsB.Close()
	env = readEnv(t, wsA)
	if env.Type != signal.MsgUserLeft || env.UserID != idB {
		t.Fatalf("leave broadcast = %+v", env)
	}
}

func TestSenderStampOverridesSpoof(t *testing.T) {
	srv := startRelay(t, relay.Options{})

	tokenA, idA := getToken(t, srv, "alice", "Alice")
	tokenB, _ := getToken(t, srv, "bob", "Bob")

	wsA := dialRoom(t, srv, "porch", tokenA)
	wsB := dialRoom(t, srv, "porch", tokenB)
	readEnv(t, wsB) // roster replay: alice
	readEnv(t, wsA) // join broadcast: bob

	// a client claiming someone else's identity gets re-stamped
	muted := true
	sendEnv(t, wsA, &signal.Envelope{Type: signal.MsgMicStatus, UserID: "forged", IsMuted: &muted})
	env := readEnv(t, wsB)
	if env.UserID != idA {
		t.Fatalf("spoofed sender survived: %+v", env)
	}
}

func TestUnroutableFrameDropped(t *testing.T) {
	srv := startRelay(t, relay.Options{})

	tokenA, idA := getToken(t, srv, "alice", "Alice")
	tokenB, _ := getToken(t, srv, "bob", "Bob")

	wsA := dialRoom(t, srv, "porch", tokenA)
	wsB := dialRoom(t, srv, "porch", tokenB)
	readEnv(t, wsB)
	readEnv(t, wsA)

	if err := wsA.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat","text":"hi"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	// the relay drops it and keeps routing what follows
	muted := false
	sendEnv(t, wsA, &signal.Envelope{Type: signal.MsgMicStatus, IsMuted: &muted})
	env := readEnv(t, wsB)
	if env.Type != signal.MsgMicStatus || env.UserID != idA {
		t.Fatalf("frame after junk = %+v", env)
	}
}

func TestSignalRateLimit(t *testing.T) {
	srv := startRelay(t, relay.Options{SignalLimit: 2, SignalWindow: time.Hour})

	tokenA, _ := getToken(t, srv, "alice", "Alice")
	tokenB, _ := getToken(t, srv, "bob", "Bob")

	wsA := dialRoom(t, srv, "porch", tokenA)
	wsB := dialRoom(t, srv, "porch", tokenB)
	readEnv(t, wsB)
	readEnv(t, wsA)

	muted := false
	for i := 0; i < 3; i++ {
		sendEnv(t, wsB, &signal.Envelope{Type: signal.MsgMicStatus, IsMuted: &muted})
	}

	for i := 0; i < 2; i++ {
		if env := readEnv(t, wsA); env.Type != signal.MsgMicStatus {
			t.Fatalf("frame %d = %+v", i, env)
		}
	}
	// the third frame blew the budget and was dropped
	expectSilence(t, wsA)
}

func TestRoomsAreIsolated(t *testing.T) {
	srv := startRelay(t, relay.Options{})

	tokenA, _ := getToken(t, srv, "alice", "Alice")
	tokenB, _ := getToken(t, srv, "bob", "Bob")

	wsA := dialRoom(t, srv, "porch", tokenA)
	dialRoom(t, srv, "stoop", tokenB)

	// joining a different room produces no events next door
	expectSilence(t, wsA)
}
