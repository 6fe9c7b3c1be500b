package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jellydator/ttlcache/v3"
	"github.com/labstack/echo/v4"
	queueline "github.com/pyama86/queueline/domain"
	"github.com/pyama86/queueline/monitoring"
)

const (
	messageTypeJoin             = "join"
	messageTypeGetQueue         = "getQueue"
	messageTypeLeave            = "leave"
	messageTypeAdminAuth        = "adminAuth"
	messageTypeRemoveUser       = "removeUser"
	messageTypeMoveUser         = "moveUser"
	messageTypeForceSave        = "forceSave"
	messageTypeClearQueue       = "clearQueue"
	messageTypeError            = "error"
	messageTypeQueueUpdate      = "queueUpdate"
	messageTypeJoinSuccess      = "joinSuccess"
	messageTypeAdminAuthSuccess = "adminAuthSuccess"
	messageTypeRemoveConfirmed  = "userRemoveConfirmed"
	messageTypeSaveSuccess      = "saveSuccess"
	messageTypeQueueCleared     = "queueCleared"
)

const maxAuthFailures = 5
const authFailureWindow = 10 * time.Minute

// Message is the inbound envelope, discriminated on Type. Fields of other
// variants stay at their zero value. The Admin field exists because older
// clients still send it, the server never trusts it.
type Message struct {
	Type      string `json:"type"`
	Name      string `json:"name,omitempty"`
	ID        string `json:"id,omitempty"`
	UserID    string `json:"userId,omitempty"`
	Password  string `json:"password,omitempty"`
	Direction string `json:"direction,omitempty"`
	Admin     bool   `json:"admin,omitempty"`
}

type queueUpdateMessage struct {
	Type  string              `json:"type"`
	Queue []queueline.Entrant `json:"queue"`
}

// NewQueueUpdateMessage builds the full-queue fan-out payload. Exported so
// the background sweep can broadcast through the hub as well.
func NewQueueUpdateMessage(queue []queueline.Entrant) interface{} {
	return queueUpdateMessage{Type: messageTypeQueueUpdate, Queue: queue}
}

type joinSuccessMessage struct {
	Type   string            `json:"type"`
	Person queueline.Entrant `json:"person"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type adminAuthSuccessMessage struct {
	Type string `json:"type"`
}

type userRemoveConfirmedMessage struct {
	Type        string `json:"type"`
	UserID      string `json:"userId"`
	QueueLength int    `json:"queueLength"`
}

type saveSuccessMessage struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	Timestamp   string `json:"timestamp"`
	QueueLength int    `json:"queueLength"`
}

type queueClearedMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type wsHandler struct {
	config       *queueline.Config
	service      *queueline.Queueline
	hub          *Hub
	upgrader     websocket.Upgrader
	authFailures *ttlcache.Cache[string, int]
}

// WebSocketEndpoints registers the single WebSocket endpoint.
func WebSocketEndpoints(e *echo.Echo, service *queueline.Queueline, hub *Hub, config *queueline.Config) {
	authFailures := ttlcache.New[string, int](
		ttlcache.WithTTL[string, int](authFailureWindow),
		ttlcache.WithDisableTouchOnHit[string, int](),
	)
	go authFailures.Start()

	h := &wsHandler{
		config:  config,
		service: service,
		hub:     hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		authFailures: authFailures,
	}
	e.GET("/ws", h.serve)
}

func (h *wsHandler) serve(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return newError(http.StatusBadRequest, err, "websocket upgrade failed")
	}

	sess := NewSession(conn)
	h.hub.Register(sess)
	slog.Info("client connected", slog.String("remote", sess.remoteAddr))

	defer func() {
		h.hub.Unregister(sess)
		conn.Close()
		slog.Info("client disconnected", slog.String("remote", sess.remoteAddr))
	}()

	// 接続直後に現在の行列を送る
	h.send(sess, NewQueueUpdateMessage(h.service.Snapshot()))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		h.handleMessage(c.Request().Context(), sess, data)
	}
}

// handleMessage dispatches one inbound message. Malformed payloads and
// unknown types are logged and dropped without closing the connection.
func (h *wsHandler) handleMessage(ctx context.Context, sess *Session, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		monitoring.ObserveMessage("malformed", "dropped")
		slog.Warn("dropping malformed message",
			slog.String("remote", sess.remoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	switch msg.Type {
	case messageTypeJoin:
		h.handleJoin(ctx, sess, &msg)
	case messageTypeGetQueue:
		monitoring.ObserveMessage(msg.Type, "ok")
		h.send(sess, NewQueueUpdateMessage(h.service.Snapshot()))
	case messageTypeLeave:
		h.handleLeave(ctx, sess, &msg)
	case messageTypeAdminAuth:
		h.handleAdminAuth(sess, &msg)
	case messageTypeRemoveUser:
		h.handleRemoveUser(ctx, sess, &msg)
	case messageTypeMoveUser:
		h.handleMoveUser(ctx, sess, &msg)
	case messageTypeForceSave:
		h.handleForceSave(ctx, sess, &msg)
	case messageTypeClearQueue:
		h.handleClearQueue(ctx, sess, &msg)
	default:
		monitoring.ObserveMessage("unknown", "dropped")
		slog.Warn("dropping message with unknown type",
			slog.String("remote", sess.remoteAddr),
			slog.String("type", msg.Type),
		)
	}
}

func (h *wsHandler) handleJoin(ctx context.Context, sess *Session, msg *Message) {
	entrant, err := h.service.Join(ctx, msg.Name)
	if err != nil {
		monitoring.ObserveMessage(msg.Type, "rejected")
		h.send(sess, errorMessage{Type: messageTypeError, Message: err.Error()})
		return
	}

	monitoring.ObserveMessage(msg.Type, "ok")
	h.send(sess, joinSuccessMessage{Type: messageTypeJoinSuccess, Person: entrant})
	h.broadcastQueue()
}

func (h *wsHandler) handleLeave(ctx context.Context, sess *Session, msg *Message) {
	if msg.ID == "" {
		monitoring.ObserveMessage(msg.Type, "dropped")
		return
	}
	monitoring.ObserveMessage(msg.Type, "ok")
	if h.service.Leave(ctx, msg.ID) {
		h.broadcastQueue()
	}
}

func (h *wsHandler) handleAdminAuth(sess *Session, msg *Message) {
	if item := h.authFailures.Get(sess.remoteAddr); item != nil && item.Value() >= maxAuthFailures {
		monitoring.ObserveMessage(msg.Type, "throttled")
		h.send(sess, errorMessage{Type: messageTypeError, Message: "too many failed attempts, try again later"})
		return
	}

	if subtle.ConstantTimeCompare([]byte(msg.Password), []byte(h.config.AdminPassword)) == 1 {
		monitoring.ObserveMessage(msg.Type, "ok")
		sess.admin = true
		h.send(sess, adminAuthSuccessMessage{Type: messageTypeAdminAuthSuccess})
		return
	}

	failures := 0
	if item := h.authFailures.Get(sess.remoteAddr); item != nil {
		failures = item.Value()
	}
	h.authFailures.Set(sess.remoteAddr, failures+1, ttlcache.DefaultTTL)

	monitoring.ObserveMessage(msg.Type, "rejected")
	h.send(sess, errorMessage{Type: messageTypeError, Message: "wrong admin password"})
}

func (h *wsHandler) handleRemoveUser(ctx context.Context, sess *Session, msg *Message) {
	if !h.authorized(sess, msg) {
		return
	}
	if msg.UserID == "" {
		monitoring.ObserveMessage(msg.Type, "dropped")
		return
	}

	monitoring.ObserveMessage(msg.Type, "ok")
	h.service.Remove(ctx, msg.UserID)
	h.send(sess, userRemoveConfirmedMessage{
		Type:        messageTypeRemoveConfirmed,
		UserID:      msg.UserID,
		QueueLength: h.service.Len(),
	})
	h.broadcastQueue()
}

func (h *wsHandler) handleMoveUser(ctx context.Context, sess *Session, msg *Message) {
	if !h.authorized(sess, msg) {
		return
	}

	if h.service.Move(ctx, msg.UserID, queueline.Direction(msg.Direction)) {
		monitoring.ObserveMessage(msg.Type, "ok")
		h.broadcastQueue()
		return
	}
	monitoring.ObserveMessage(msg.Type, "dropped")
}

func (h *wsHandler) handleForceSave(ctx context.Context, sess *Session, msg *Message) {
	if !h.authorized(sess, msg) {
		return
	}

	n, err := h.service.Save(ctx)
	if err != nil {
		monitoring.ObserveMessage(msg.Type, "failed")
		h.send(sess, errorMessage{Type: messageTypeError, Message: "failed to save the queue, please retry"})
		return
	}

	monitoring.ObserveMessage(msg.Type, "ok")
	h.send(sess, saveSuccessMessage{
		Type:        messageTypeSaveSuccess,
		Message:     "queue snapshot saved",
		Timestamp:   time.Now().Format(time.RFC3339),
		QueueLength: n,
	})
}

func (h *wsHandler) handleClearQueue(ctx context.Context, sess *Session, msg *Message) {
	if !h.authorized(sess, msg) {
		return
	}

	n, err := h.service.Clear(ctx)
	if err != nil {
		monitoring.ObserveMessage(msg.Type, "failed")
		h.send(sess, errorMessage{Type: messageTypeError, Message: "failed to clear the queue, please retry"})
		return
	}

	monitoring.ObserveMessage(msg.Type, "ok")
	h.send(sess, queueClearedMessage{
		Type:      messageTypeQueueCleared,
		Message:   fmt.Sprintf("queue cleared (%d entrants removed)", n),
		Timestamp: time.Now().Format(time.RFC3339),
	})
	h.broadcastQueue()
}

// authorized gates admin commands on the connection-scoped flag. The Admin
// field in the payload is deliberately ignored.
func (h *wsHandler) authorized(sess *Session, msg *Message) bool {
	if sess.admin {
		return true
	}
	monitoring.ObserveMessage(msg.Type, "unauthorized")
	slog.Warn("dropping admin command from unauthenticated connection",
		slog.String("remote", sess.remoteAddr),
		slog.String("type", msg.Type),
	)
	return false
}

func (h *wsHandler) broadcastQueue() {
	snapshot := h.service.Snapshot()
	monitoring.SetQueueLength(len(snapshot))
	h.hub.Broadcast(NewQueueUpdateMessage(snapshot))
}

func (h *wsHandler) send(sess *Session, v interface{}) {
	if err := sess.Send(v); err != nil {
		slog.Warn("failed to send message",
			slog.String("remote", sess.remoteAddr),
			slog.String("error", err.Error()),
		)
	}
}
