package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	appconfig "github.com/saker-ai/chatkit-server/internal/config"
	"github.com/saker-ai/chatkit-server/internal/channel"
	"github.com/saker-ai/chatkit-server/internal/frame"
	"github.com/saker-ai/chatkit-server/internal/protocol"
	"github.com/saker-ai/chatkit-server/internal/recorder"
	"github.com/saker-ai/chatkit-server/internal/render"
	"github.com/saker-ai/chatkit-server/internal/roster"
	"github.com/saker-ai/chatkit-server/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	readLimitBytes      = 1 << 20
	writeTimeout        = 10 * time.Second
)

// Handler serves chat WebSocket sessions and fans messages out to the
// clients watching each channel.
type Handler struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader
	config   appconfig.Config
	store    *store.Store
	renderer *render.Renderer
	users    *roster.Roster
	channels *channel.Manager
	sessions map[string]*session
	mu       sync.Mutex
}

type session struct {
	conn      *websocket.Conn
	sendMu    sync.Mutex
	logger    *zap.Logger
	handler   *Handler
	clientUID string
	userID    string
	recorder  *recorder.Session

	mu        sync.Mutex
	view      render.View
	audioRate int
}

// NewHandler creates a Handler.
func NewHandler(logger *zap.Logger, cfg appconfig.Config, st *store.Store, renderer *render.Renderer, users *roster.Roster) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		logger:   logger,
		config:   cfg,
		store:    st,
		renderer: renderer,
		users:    users,
		channels: channel.NewManager(),
		sessions: make(map[string]*session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Handle upgrades /ws?channel=<id>&user=<id> and runs the session until
// the client disconnects.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	channelID := strings.TrimSpace(query.Get("channel"))
	userID := strings.TrimSpace(query.Get("user"))
	if !store.ValidName(channelID) || !store.ValidName(userID) {
		http.Error(w, "channel and user query parameters are required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(readLimitBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := &session{
		conn:      conn,
		logger:    h.logger,
		handler:   h,
		clientUID: fmt.Sprintf("%d", time.Now().UnixNano()),
		userID:    userID,
		recorder:  recorder.NewSession(h.config.Recorder, h.logger.Named("recorder")),
		audioRate: h.config.Recorder.SampleRate,
		view: render.View{
			TranslateTo: query.Get("lang"),
			ChromeLike:  render.IsChromeLike(r.UserAgent()),
			BarCount:    h.config.Render.DefaultBarCount,
		},
	}
	defer sess.recorder.Close()

	sess.logger.Info("ws session opened",
		zap.String("session_id", sess.clientUID),
		zap.String("user", userID),
		zap.String("channel", channelID),
		zap.Bool("chrome_like", sess.view.ChromeLike),
	)

	h.registerSession(sess)
	h.joinChannel(sess, channelID)

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			sess.logger.Debug("ws connection closed", zap.Error(err))
			break
		}
		if kind == websocket.BinaryMessage {
			sess.handleBinary(ctx, data)
			continue
		}
		var msg protocol.ClientCommand
		if err := json.Unmarshal(data, &msg); err != nil {
			sess.sendError("invalid json")
			continue
		}
		if msg.Type != protocol.CmdHeartbeat && msg.Type != protocol.CmdRecordingAudio {
			sess.logger.Debug("ws incoming message",
				zap.String("session_id", sess.clientUID),
				zap.String("type", msg.Type),
			)
		}
		sess.dispatchIncoming(ctx, msg)
	}

	sess.logger.Info("ws session closed", zap.String("session_id", sess.clientUID))
	h.unregisterSession(sess.clientUID)
}

// handleBinary routes a framed recorder payload. Audio frames after the
// one that finished the recording are dropped.
func (s *session) handleBinary(ctx context.Context, data []byte) {
	frames, err := frame.Split(data)
	if err != nil {
		s.sendError(err.Error())
		return
	}
	finished := false
	for _, f := range frames {
		switch f.Kind {
		case frame.KindPCM:
			if !finished {
				finished = s.writeAudio(ctx, func() error {
					return s.recorder.WritePCM16(f.Payload, s.currentAudioRate())
				})
			}
		case frame.KindOpus:
			if !finished {
				finished = s.writeAudio(ctx, func() error {
					return s.recorder.WriteOpus(f.Payload)
				})
			}
		case frame.KindCommand:
			var msg protocol.ClientCommand
			if err := json.Unmarshal(f.Payload, &msg); err != nil {
				s.sendError("invalid json")
				continue
			}
			s.dispatchIncoming(ctx, msg)
		}
	}
}

func (s *session) currentView() render.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

func (s *session) currentAudioRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioRate
}

func (s *session) channel() string {
	return s.handler.channels.ChannelOf(s.clientUID)
}

func (s *session) sendJSON(payload any) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(payload); err != nil {
		s.logger.Debug("ws send failed", zap.Error(err))
	}
}

func (s *session) sendError(message string) {
	s.sendJSON(protocol.ErrorEvent(message))
}

func (s *session) sendRecordingState() {
	s.sendJSON(protocol.Event{
		Type:      protocol.EventRecordingState,
		State:     string(s.recorder.State()),
		ElapsedMs: s.recorder.Elapsed().Milliseconds(),
	})
}

func (h *Handler) registerSession(sess *session) {
	h.mu.Lock()
	h.sessions[sess.clientUID] = sess
	h.mu.Unlock()
	h.channels.RegisterClient(sess.clientUID, sess.userID)
}

func (h *Handler) unregisterSession(clientUID string) {
	channelID := h.channels.ChannelOf(clientUID)
	h.mu.Lock()
	delete(h.sessions, clientUID)
	h.mu.Unlock()
	h.channels.RemoveClient(clientUID)
	if channelID != "" {
		h.broadcastPresence(channelID)
	}
}

func (h *Handler) session(clientUID string) *session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[clientUID]
}

// joinChannel moves sess to channelID, sends its history and updates
// presence in both channels.
func (h *Handler) joinChannel(sess *session, channelID string) {
	previous := h.channels.Join(sess.clientUID, channelID)
	if previous != "" {
		h.broadcastPresence(previous)
	}
	sess.sendHistory(channelID, defaultHistoryLimit)
	h.broadcastPresence(channelID)
}

func (h *Handler) broadcastPresence(channelID string) {
	event := protocol.Event{
		Type:    protocol.EventPresence,
		Channel: channelID,
		Users:   h.channels.Users(channelID),
	}
	for _, id := range h.channels.Members(channelID) {
		if sess := h.session(id); sess != nil {
			sess.sendJSON(event)
		}
	}
}

// Publish sends a new message to every client watching its channel,
// rendered once per distinct view.
func (h *Handler) Publish(msg store.Message) {
	rendered := make(map[render.View]*render.Rendered)
	for _, id := range h.channels.Members(msg.Channel) {
		sess := h.session(id)
		if sess == nil {
			continue
		}
		view := sess.currentView()
		out, ok := rendered[view]
		if !ok {
			r := h.renderer.Render(msg, view)
			out = &r
			rendered[view] = out
		}
		sess.sendJSON(protocol.Event{Type: protocol.EventMessageNew, Channel: msg.Channel, Message: out})
	}
}

// PublishDeleted notifies watchers that a message was removed.
func (h *Handler) PublishDeleted(channelID string, messageID string) {
	event := protocol.Event{Type: protocol.EventMessageDeleted, Channel: channelID, MessageID: messageID}
	for _, id := range h.channels.Members(channelID) {
		if sess := h.session(id); sess != nil {
			sess.sendJSON(event)
		}
	}
}

// Watchers returns the user ids currently connected to channelID.
func (h *Handler) Watchers(channelID string) []string {
	return h.channels.Users(channelID)
}

// Close disconnects every session.
func (h *Handler) Close() {
	h.mu.Lock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, sess := range h.sessions {
		sessions = append(sessions, sess)
	}
	h.mu.Unlock()
	for _, sess := range sessions {
		sess.sendMu.Lock()
		_ = sess.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		sess.sendMu.Unlock()
		_ = sess.conn.Close()
	}
}
