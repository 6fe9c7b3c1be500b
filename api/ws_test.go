package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	queueline "github.com/pyama86/queueline/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopRepository struct{}

func (nopRepository) SaveQueue(ctx context.Context, entrants []queueline.Entrant) error {
	return nil
}

func (nopRepository) LoadQueue(ctx context.Context) ([]queueline.Entrant, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *queueline.Queueline) {
	t.Helper()
	config := &queueline.Config{
		AdminPassword:    "test-secret",
		MaxQueueSize:     100,
		MaxWaitSec:       7200,
		SaveIntervalSec:  60,
		SweepIntervalSec: 900,
	}
	store := queueline.NewQueueStore(config.MaxQueueSize)
	service := queueline.NewQueueline(config, store, nopRepository{})

	e := echo.New()
	WebSocketEndpoints(e, service, NewHub(), config)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv, service
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func expectMessage(t *testing.T, conn *websocket.Conn, wantType string) map[string]interface{} {
	t.Helper()
	msg := readMessage(t, conn)
	require.Equal(t, wantType, msg["type"], "unexpected message: %v", msg)
	return msg
}

func send(t *testing.T, conn *websocket.Conn, v map[string]interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func queueNames(t *testing.T, msg map[string]interface{}) []string {
	t.Helper()
	raw, ok := msg["queue"].([]interface{})
	require.True(t, ok, "message has no queue field: %v", msg)
	names := []string{}
	for _, e := range raw {
		entrant := e.(map[string]interface{})
		names = append(names, entrant["name"].(string))
	}
	return names
}

func authAsAdmin(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	send(t, conn, map[string]interface{}{"type": "adminAuth", "password": "test-secret"})
	expectMessage(t, conn, "adminAuthSuccess")
}

func TestWebSocket_initialQueueUpdate(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)

	msg := expectMessage(t, conn, "queueUpdate")
	assert.Empty(t, queueNames(t, msg))
}

func TestWebSocket_joinBroadcastsToAllSessions(t *testing.T) {
	srv, _ := newTestServer(t)
	conn1 := dial(t, srv)
	conn2 := dial(t, srv)
	expectMessage(t, conn1, "queueUpdate")
	expectMessage(t, conn2, "queueUpdate")

	send(t, conn1, map[string]interface{}{"type": "join", "name": "Alice"})

	success := expectMessage(t, conn1, "joinSuccess")
	person := success["person"].(map[string]interface{})
	assert.Equal(t, "Alice", person["name"])
	assert.NotEmpty(t, person["id"])

	assert.Equal(t, []string{"Alice"}, queueNames(t, expectMessage(t, conn1, "queueUpdate")))
	assert.Equal(t, []string{"Alice"}, queueNames(t, expectMessage(t, conn2, "queueUpdate")))
}

func TestWebSocket_joinValidation(t *testing.T) {
	srv, service := newTestServer(t)
	conn := dial(t, srv)
	expectMessage(t, conn, "queueUpdate")

	send(t, conn, map[string]interface{}{"type": "join", "name": "Alice"})
	expectMessage(t, conn, "joinSuccess")
	expectMessage(t, conn, "queueUpdate")

	// 大文字小文字だけ違う名前は重複扱い
	send(t, conn, map[string]interface{}{"type": "join", "name": "ALICE"})
	msg := expectMessage(t, conn, "error")
	assert.Equal(t, "you are already in the queue", msg["message"])

	send(t, conn, map[string]interface{}{"type": "join", "name": "   "})
	msg = expectMessage(t, conn, "error")
	assert.Equal(t, "please enter your name", msg["message"])

	assert.Equal(t, 1, service.Len())
}

func TestWebSocket_leave(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)
	expectMessage(t, conn, "queueUpdate")

	send(t, conn, map[string]interface{}{"type": "join", "name": "Alice"})
	success := expectMessage(t, conn, "joinSuccess")
	expectMessage(t, conn, "queueUpdate")
	id := success["person"].(map[string]interface{})["id"].(string)

	send(t, conn, map[string]interface{}{"type": "leave", "id": id})
	assert.Empty(t, queueNames(t, expectMessage(t, conn, "queueUpdate")))
}

func TestWebSocket_getQueue(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)
	expectMessage(t, conn, "queueUpdate")

	send(t, conn, map[string]interface{}{"type": "getQueue"})
	assert.Empty(t, queueNames(t, expectMessage(t, conn, "queueUpdate")))
}

func TestWebSocket_adminAuth(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)
	expectMessage(t, conn, "queueUpdate")

	send(t, conn, map[string]interface{}{"type": "adminAuth", "password": "nope"})
	msg := expectMessage(t, conn, "error")
	assert.Equal(t, "wrong admin password", msg["message"])

	send(t, conn, map[string]interface{}{"type": "adminAuth", "password": "test-secret"})
	expectMessage(t, conn, "adminAuthSuccess")
}

func TestWebSocket_adminAuthThrottle(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)
	expectMessage(t, conn, "queueUpdate")

	for i := 0; i < 5; i++ {
		send(t, conn, map[string]interface{}{"type": "adminAuth", "password": "nope"})
		msg := expectMessage(t, conn, "error")
		assert.Equal(t, "wrong admin password", msg["message"])
	}

	// 失敗上限を超えたら正しいパスワードでも受け付けない
	send(t, conn, map[string]interface{}{"type": "adminAuth", "password": "test-secret"})
	msg := expectMessage(t, conn, "error")
	assert.Equal(t, "too many failed attempts, try again later", msg["message"])
}

func TestWebSocket_adminCommandsRequireAuth(t *testing.T) {
	srv, service := newTestServer(t)
	conn := dial(t, srv)
	expectMessage(t, conn, "queueUpdate")

	send(t, conn, map[string]interface{}{"type": "join", "name": "Alice"})
	success := expectMessage(t, conn, "joinSuccess")
	expectMessage(t, conn, "queueUpdate")
	id := success["person"].(map[string]interface{})["id"].(string)

	// ペイロードのadminフラグは信用されない
	send(t, conn, map[string]interface{}{"type": "removeUser", "userId": id, "admin": true})
	send(t, conn, map[string]interface{}{"type": "clearQueue", "admin": true})
	send(t, conn, map[string]interface{}{"type": "forceSave", "admin": true})
	send(t, conn, map[string]interface{}{"type": "moveUser", "userId": id, "direction": "up", "admin": true})

	// 全て黙って破棄され、接続と行列はそのまま
	send(t, conn, map[string]interface{}{"type": "getQueue"})
	assert.Equal(t, []string{"Alice"}, queueNames(t, expectMessage(t, conn, "queueUpdate")))
	assert.Equal(t, 1, service.Len())
}

func TestWebSocket_removeUser(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)
	expectMessage(t, conn, "queueUpdate")

	send(t, conn, map[string]interface{}{"type": "join", "name": "Alice"})
	success := expectMessage(t, conn, "joinSuccess")
	expectMessage(t, conn, "queueUpdate")
	id := success["person"].(map[string]interface{})["id"].(string)

	authAsAdmin(t, conn)

	send(t, conn, map[string]interface{}{"type": "removeUser", "userId": id})
	msg := expectMessage(t, conn, "userRemoveConfirmed")
	assert.Equal(t, id, msg["userId"])
	assert.Equal(t, float64(0), msg["queueLength"])
	assert.Empty(t, queueNames(t, expectMessage(t, conn, "queueUpdate")))
}

func TestWebSocket_forceSave(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)
	expectMessage(t, conn, "queueUpdate")

	send(t, conn, map[string]interface{}{"type": "join", "name": "Alice"})
	expectMessage(t, conn, "joinSuccess")
	expectMessage(t, conn, "queueUpdate")

	authAsAdmin(t, conn)

	send(t, conn, map[string]interface{}{"type": "forceSave"})
	msg := expectMessage(t, conn, "saveSuccess")
	assert.Equal(t, float64(1), msg["queueLength"])
	assert.NotEmpty(t, msg["timestamp"])
}

func TestWebSocket_unknownAndMalformedMessagesAreDropped(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)
	expectMessage(t, conn, "queueUpdate")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{this is not json")))
	send(t, conn, map[string]interface{}{"type": "teleport"})

	// 接続は生きたまま
	send(t, conn, map[string]interface{}{"type": "getQueue"})
	expectMessage(t, conn, "queueUpdate")
}

func TestWebSocket_endToEndScenario(t *testing.T) {
	srv, service := newTestServer(t)
	alice := dial(t, srv)
	bob := dial(t, srv)
	expectMessage(t, alice, "queueUpdate")
	expectMessage(t, bob, "queueUpdate")

	send(t, alice, map[string]interface{}{"type": "join", "name": "Alice"})
	expectMessage(t, alice, "joinSuccess")
	assert.Equal(t, []string{"Alice"}, queueNames(t, expectMessage(t, alice, "queueUpdate")))
	assert.Equal(t, []string{"Alice"}, queueNames(t, expectMessage(t, bob, "queueUpdate")))

	send(t, bob, map[string]interface{}{"type": "join", "name": "Bob"})
	success := expectMessage(t, bob, "joinSuccess")
	bobID := success["person"].(map[string]interface{})["id"].(string)
	assert.Equal(t, []string{"Alice", "Bob"}, queueNames(t, expectMessage(t, alice, "queueUpdate")))
	assert.Equal(t, []string{"Alice", "Bob"}, queueNames(t, expectMessage(t, bob, "queueUpdate")))

	send(t, alice, map[string]interface{}{"type": "join", "name": "alice"})
	msg := expectMessage(t, alice, "error")
	assert.Equal(t, "you are already in the queue", msg["message"])

	authAsAdmin(t, alice)

	send(t, alice, map[string]interface{}{"type": "moveUser", "userId": bobID, "direction": "up"})
	assert.Equal(t, []string{"Bob", "Alice"}, queueNames(t, expectMessage(t, alice, "queueUpdate")))
	assert.Equal(t, []string{"Bob", "Alice"}, queueNames(t, expectMessage(t, bob, "queueUpdate")))

	send(t, alice, map[string]interface{}{"type": "clearQueue"})
	cleared := expectMessage(t, alice, "queueCleared")
	assert.Contains(t, cleared["message"], "2 entrants removed")
	assert.Empty(t, queueNames(t, expectMessage(t, alice, "queueUpdate")))
	assert.Empty(t, queueNames(t, expectMessage(t, bob, "queueUpdate")))
	assert.Equal(t, 0, service.Len())
}
