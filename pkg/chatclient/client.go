package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/saker-ai/chatkit-server/internal/frame"
	"github.com/saker-ai/chatkit-server/internal/protocol"
	"github.com/saker-ai/chatkit-server/internal/render"
	"github.com/saker-ai/chatkit-server/pkg/audio"
)

var errNotReady = errors.New("chat connection not ready")

// Callbacks receive server events. Any of them may be nil. They run on the
// read goroutine and must not block.
type Callbacks struct {
	OnHistory        func(channel string, messages []render.Rendered)
	OnMessage        func(message render.Rendered)
	OnMessageDeleted func(channel string, messageID string)
	OnPresence       func(channel string, users []string)
	OnRecordingState func(state string, elapsedMs int64)
	OnServerError    func(message string)
	OnConnected      func()
	OnDisconnected   func(err error)
	OnError          func(err error)
}

// Client is a reconnecting chat connection for a single user.
type Client struct {
	cfg       Config
	logger    *zap.Logger
	callbacks Callbacks

	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
	ready   bool
	channel string

	encoder *audio.OpusEncoder
	writeMu sync.Mutex
}

// NewClient builds a client. Call Connect to start it.
func NewClient(cfg Config, callbacks Callbacks, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Client{
		cfg:       cfg,
		logger:    logger,
		callbacks: callbacks,
		channel:   cfg.Channel,
	}
}

// Connect dials in the background and keeps reconnecting until ctx ends or
// Close is called.
func (c *Client) Connect(ctx context.Context) {
	go c.run(ctx)
}

// Close drops the connection and stops reconnecting.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	enc := c.encoder
	c.encoder = nil
	c.mu.Unlock()
	if enc != nil {
		enc.Release()
	}
}

// Channel is the channel the client currently watches.
func (c *Client) Channel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

// Send writes a raw command.
func (c *Client) Send(ctx context.Context, cmd protocol.ClientCommand) error {
	if err := c.waitReady(ctx); err != nil {
		return err
	}
	return c.sendJSON(ctx, cmd)
}

// SendMessage posts text to the current channel.
func (c *Client) SendMessage(ctx context.Context, text string, mentionedUsers ...string) error {
	return c.Send(ctx, protocol.ClientCommand{
		Type:           protocol.CmdSendMessage,
		Text:           text,
		MentionedUsers: mentionedUsers,
	})
}

// FetchMessages asks for the newest limit messages of the current channel.
func (c *Client) FetchMessages(ctx context.Context, limit int) error {
	return c.Send(ctx, protocol.ClientCommand{Type: protocol.CmdFetchMessages, Limit: limit})
}

// DeleteMessage removes one of the user's own messages.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	return c.Send(ctx, protocol.ClientCommand{Type: protocol.CmdDeleteMessage, MessageID: messageID})
}

// JoinChannel switches channels. Reconnects rejoin the last channel.
func (c *Client) JoinChannel(ctx context.Context, channel string) error {
	c.mu.Lock()
	previous := c.channel
	c.channel = channel
	c.mu.Unlock()
	if err := c.Send(ctx, protocol.ClientCommand{Type: protocol.CmdJoinChannel, Channel: channel}); err != nil {
		c.mu.Lock()
		c.channel = previous
		c.mu.Unlock()
		return err
	}
	return nil
}

// SetView changes how the server renders messages for this client.
func (c *Client) SetView(ctx context.Context, view render.View) error {
	return c.Send(ctx, protocol.ClientCommand{Type: protocol.CmdSetView, View: &view})
}

// StartRecording opens a voice recording fed at sampleRate. Zero uses the
// server default.
func (c *Client) StartRecording(ctx context.Context, sampleRate int) error {
	return c.Send(ctx, protocol.ClientCommand{Type: protocol.CmdRecordingStart, AudioRate: sampleRate})
}

// PauseRecording executes the pauseRecording method.
func (c *Client) PauseRecording(ctx context.Context) error {
	return c.Send(ctx, protocol.ClientCommand{Type: protocol.CmdRecordingPause})
}

// ResumeRecording executes the resumeRecording method.
func (c *Client) ResumeRecording(ctx context.Context) error {
	return c.Send(ctx, protocol.ClientCommand{Type: protocol.CmdRecordingResume})
}

// StopRecording finishes the recording and posts it with an optional caption.
func (c *Client) StopRecording(ctx context.Context, caption string) error {
	return c.Send(ctx, protocol.ClientCommand{Type: protocol.CmdRecordingStop, Text: caption})
}

// CancelRecording discards the recording.
func (c *Client) CancelRecording(ctx context.Context) error {
	return c.Send(ctx, protocol.ClientCommand{Type: protocol.CmdRecordingCancel})
}

// SendPCM streams little-endian PCM16 samples, split across as many frames
// as the payload limit needs.
func (c *Client) SendPCM(ctx context.Context, pcm []int16) error {
	data := audio.AppendInt16Bytes(nil, pcm)
	const chunk = frame.MaxPayload &^ 1
	for len(data) > 0 {
		n := min(len(data), chunk)
		if err := c.sendFrame(ctx, frame.KindPCM, data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// SendOpus streams one Opus packet.
func (c *Client) SendOpus(ctx context.Context, packet []byte) error {
	return c.sendFrame(ctx, frame.KindOpus, packet)
}

// SendPCMAsOpus encodes pcm at the configured rate and streams the packets.
// A trailing partial frame is zero padded.
func (c *Client) SendPCMAsOpus(ctx context.Context, pcm []int16) error {
	enc, err := c.ensureEncoder()
	if err != nil {
		return err
	}
	size := enc.FrameSize()
	for start := 0; start < len(pcm); start += size {
		end := min(start+size, len(pcm))
		packet, err := enc.Encode(pcm[start:end])
		if err != nil {
			return err
		}
		if len(packet) == 0 {
			continue
		}
		if err := c.SendOpus(ctx, packet); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) ensureEncoder() (*audio.OpusEncoder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.encoder != nil {
		return c.encoder, nil
	}
	enc, err := audio.AcquireOpusEncoder(c.cfg.SampleRate, 1, c.cfg.FrameDurationMs, audio.OpusOptions{})
	if err != nil {
		return nil, err
	}
	c.encoder = enc
	return enc, nil
}

func (c *Client) sendFrame(ctx context.Context, kind frame.Kind, payload []byte) error {
	if err := c.waitReady(ctx); err != nil {
		return err
	}
	data, err := frame.Pack(kind, payload)
	if err != nil {
		return err
	}
	conn := c.currentConn()
	if conn == nil {
		return errNotReady
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *Client) sendJSON(ctx context.Context, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	conn := c.currentConn()
	if conn == nil {
		return errNotReady
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(payload)
}

func (c *Client) currentConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// waitReady blocks until the server has sent the first history page of the
// joined channel.
func (c *Client) waitReady(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timer := time.NewTimer(5 * time.Second)
	defer timer.Stop()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		c.mu.Lock()
		closed := c.closed
		ready := c.conn != nil && c.ready
		c.mu.Unlock()

		if closed {
			return errors.New("client closed")
		}
		if ready {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return errNotReady
		case <-ticker.C:
		}
	}
}

func (c *Client) run(ctx context.Context) {
	delay := time.Second
	for {
		if ctx.Err() != nil || c.isClosed() {
			return
		}
		if err := c.connectOnce(ctx); err != nil {
			c.reportError(err)
			c.logger.Warn("chat connect failed", zap.Error(err))
			if !sleepCtx(ctx, delay) {
				return
			}
			delay = nextBackoff(delay)
			continue
		}
		c.logger.Info("chat connected",
			zap.String("user", c.cfg.UserID),
			zap.String("channel", c.Channel()),
		)
		delay = time.Second
		err := c.readLoop()
		if c.isClosed() {
			return
		}
		if c.callbacks.OnDisconnected != nil {
			c.callbacks.OnDisconnected(err)
		}
		c.reportError(err)
		c.logger.Warn("chat connection lost", zap.Error(err))
		if !sleepCtx(ctx, delay) {
			return
		}
		delay = nextBackoff(delay)
	}
}

func (c *Client) connectOnce(ctx context.Context) error {
	target, err := c.endpoint()
	if err != nil {
		return err
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, target, c.cfg.Header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = conn.Close()
		return errors.New("client closed")
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.ready = false
	return nil
}

func (c *Client) endpoint() (string, error) {
	if c.cfg.BaseURL == "" {
		return "", errors.New("chat base url is empty")
	}
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("user", c.cfg.UserID)
	q.Set("channel", c.Channel())
	if c.cfg.Lang != "" {
		q.Set("lang", c.cfg.Lang)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) readLoop() error {
	conn := c.currentConn()
	if conn == nil {
		return errNotReady
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				_ = c.conn.Close()
				c.conn = nil
				c.ready = false
			}
			c.mu.Unlock()
			return err
		}

		switch msgType {
		case websocket.TextMessage:
			c.handleEvent(data)
		case websocket.BinaryMessage:
			frames, err := frame.Split(data)
			if err != nil {
				c.reportError(err)
				continue
			}
			for _, f := range frames {
				if f.Kind == frame.KindCommand {
					c.handleEvent(f.Payload)
				}
			}
		}
	}
}

func (c *Client) handleEvent(data []byte) {
	var ev protocol.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		c.reportError(err)
		return
	}

	switch ev.Type {
	case protocol.EventMessages:
		if c.callbacks.OnHistory != nil {
			c.callbacks.OnHistory(ev.Channel, ev.Messages)
		}
		if c.markReady() && c.callbacks.OnConnected != nil {
			c.callbacks.OnConnected()
		}
	case protocol.EventMessageNew:
		if ev.Message != nil && c.callbacks.OnMessage != nil {
			c.callbacks.OnMessage(*ev.Message)
		}
	case protocol.EventMessageDeleted:
		if c.callbacks.OnMessageDeleted != nil {
			c.callbacks.OnMessageDeleted(ev.Channel, ev.MessageID)
		}
	case protocol.EventPresence:
		if c.callbacks.OnPresence != nil {
			c.callbacks.OnPresence(ev.Channel, ev.Users)
		}
	case protocol.EventRecordingState:
		if c.callbacks.OnRecordingState != nil {
			c.callbacks.OnRecordingState(ev.State, ev.ElapsedMs)
		}
	case protocol.EventError:
		c.logger.Debug("chat server error", zap.String("error", ev.Error))
		if c.callbacks.OnServerError != nil {
			c.callbacks.OnServerError(ev.Error)
		}
	}
}

func (c *Client) markReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready {
		return false
	}
	c.ready = true
	return true
}

func (c *Client) reportError(err error) {
	if err != nil && c.callbacks.OnError != nil {
		c.callbacks.OnError(err)
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	return closed
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextBackoff(delay time.Duration) time.Duration {
	if delay >= 30*time.Second {
		return 30 * time.Second
	}
	return delay * 2
}
