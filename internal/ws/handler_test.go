package ws

import (
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/saker-ai/chatkit-server/internal/config"
	"github.com/saker-ai/chatkit-server/internal/frame"
	"github.com/saker-ai/chatkit-server/internal/protocol"
	"github.com/saker-ai/chatkit-server/internal/render"
	"github.com/saker-ai/chatkit-server/internal/roster"
	"github.com/saker-ai/chatkit-server/internal/store"
	"github.com/saker-ai/chatkit-server/pkg/audio"
)

func newTestServer(t *testing.T) (*httptest.Server, *Handler) {
	t.Helper()
	return newTestServerWith(t, nil)
}

func newTestServerWith(t *testing.T, tune func(*appconfig.Config)) (*httptest.Server, *Handler) {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	users := roster.New([]roster.User{{ID: "jack", Name: "Jack"}, {ID: "ann", Name: "Ann"}})
	cfg := appconfig.Config{
		Render: appconfig.RenderConfig{DefaultBarCount: 8},
		Recorder: appconfig.RecorderConfig{
			SampleRate:        16000,
			Channels:          1,
			FrameDurationMs:   20,
			AmplitudeWindowMs: 20,
			AmplitudeCount:    16,
			MaxDurationSec:    10,
		},
	}
	if tune != nil {
		tune(&cfg)
	}
	renderer := render.New(render.Options{DefaultBarCount: 8}, users)
	h := NewHandler(nil, cfg, st, renderer, users)
	srv := httptest.NewServer(http.HandlerFunc(h.Handle))
	t.Cleanup(srv.Close)
	return srv, h
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readEvent returns the next event of type want, skipping others.
func readEvent(t *testing.T, conn *websocket.Conn, want string) protocol.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var ev protocol.Event
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Type == want {
			return ev
		}
	}
}

func TestHandleRejectsMissingParams(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/ws?channel=general")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSendMessageBroadcastsToWatchers(t *testing.T) {
	srv, h := newTestServer(t)
	jack := dial(t, srv, "channel=general&user=jack")
	history := readEvent(t, jack, protocol.EventMessages)
	assert.Equal(t, "general", history.Channel)
	assert.Empty(t, history.Messages)

	ann := dial(t, srv, "channel=general&user=ann")
	readEvent(t, ann, protocol.EventMessages)
	presence := readEvent(t, jack, protocol.EventPresence)
	for len(presence.Users) < 2 {
		presence = readEvent(t, jack, protocol.EventPresence)
	}
	assert.Equal(t, []string{"ann", "jack"}, presence.Users)
	assert.Equal(t, []string{"ann", "jack"}, h.Watchers("general"))

	require.NoError(t, ann.WriteJSON(protocol.ClientCommand{
		Type:           protocol.CmdSendMessage,
		Text:           "Hello @Jack",
		MentionedUsers: []string{"jack"},
	}))

	for _, conn := range []*websocket.Conn{jack, ann} {
		ev := readEvent(t, conn, protocol.EventMessageNew)
		require.NotNil(t, ev.Message)
		assert.Equal(t, "Ann", ev.Message.Author.Name)
		require.Len(t, ev.Message.Parts, 2)
		assert.Equal(t, "@Jack", ev.Message.Parts[1].Content)
	}
}

func TestDeleteMessageOnlyByAuthor(t *testing.T) {
	srv, _ := newTestServer(t)
	jack := dial(t, srv, "channel=general&user=jack")
	readEvent(t, jack, protocol.EventMessages)
	ann := dial(t, srv, "channel=general&user=ann")
	readEvent(t, ann, protocol.EventMessages)

	require.NoError(t, jack.WriteJSON(protocol.ClientCommand{Type: protocol.CmdSendMessage, Text: "mine"}))
	msg := readEvent(t, ann, protocol.EventMessageNew).Message
	require.NotNil(t, msg)

	require.NoError(t, ann.WriteJSON(protocol.ClientCommand{Type: protocol.CmdDeleteMessage, MessageID: msg.ID}))
	errEvent := readEvent(t, ann, protocol.EventError)
	assert.Contains(t, errEvent.Error, "author")

	require.NoError(t, jack.WriteJSON(protocol.ClientCommand{Type: protocol.CmdDeleteMessage, MessageID: msg.ID}))
	deleted := readEvent(t, ann, protocol.EventMessageDeleted)
	assert.Equal(t, msg.ID, deleted.MessageID)
}

func TestSetViewRerendersHistory(t *testing.T) {
	srv, _ := newTestServer(t)
	jack := dial(t, srv, "channel=general&user=jack")
	readEvent(t, jack, protocol.EventMessages)

	require.NoError(t, jack.WriteJSON(protocol.ClientCommand{Type: protocol.CmdSendMessage, Text: "bonjour", Translations: map[string]string{"en": "hello"}}))
	readEvent(t, jack, protocol.EventMessageNew)

	require.NoError(t, jack.WriteJSON(protocol.ClientCommand{Type: protocol.CmdSetView, View: &render.View{TranslateTo: "en"}}))
	history := readEvent(t, jack, protocol.EventMessages)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "hello", history.Messages[0].PlainText)
}

func TestRecordingPostsVoiceMessage(t *testing.T) {
	srv, _ := newTestServer(t)
	jack := dial(t, srv, "channel=general&user=jack")
	readEvent(t, jack, protocol.EventMessages)

	require.NoError(t, jack.WriteJSON(protocol.ClientCommand{Type: protocol.CmdRecordingStart}))
	assert.Equal(t, "recording", readEvent(t, jack, protocol.EventRecordingState).State)

	samples := make([]float64, 16000/5)
	for i := range samples {
		samples[i] = 0.5 * math.Sin(2*math.Pi*440*float64(i)/16000)
	}
	require.NoError(t, jack.WriteJSON(protocol.ClientCommand{Type: protocol.CmdRecordingAudio, Audio: samples[:1600]}))

	pcm := audio.Int16ToBytesInto(nil, audio.Float64ToInt16Into(nil, samples[1600:]))
	packed, err := frame.Pack(frame.KindPCM, pcm)
	require.NoError(t, err)
	require.NoError(t, jack.WriteMessage(websocket.BinaryMessage, packed))

	require.NoError(t, jack.WriteJSON(protocol.ClientCommand{Type: protocol.CmdRecordingStop}))
	assert.Equal(t, "stopped", readEvent(t, jack, protocol.EventRecordingState).State)

	ev := readEvent(t, jack, protocol.EventMessageNew)
	require.NotNil(t, ev.Message)
	require.Len(t, ev.Message.Attachments, 1)
	att := ev.Message.Attachments[0]
	assert.Equal(t, store.AttachmentVoiceRecording, att.Type)
	assert.Equal(t, int64(200), att.DurationMs)
	assert.Len(t, att.Waveform, 8)
	assert.True(t, strings.HasPrefix(att.AssetPath, "/api/v1/recordings/"))
}

func TestMaxDurationDropsRestOfBinaryMessage(t *testing.T) {
	srv, _ := newTestServerWith(t, func(cfg *appconfig.Config) {
		cfg.Recorder.MaxDurationSec = 1
	})
	jack := dial(t, srv, "channel=general&user=jack")
	readEvent(t, jack, protocol.EventMessages)

	require.NoError(t, jack.WriteJSON(protocol.ClientCommand{Type: protocol.CmdRecordingStart}))
	assert.Equal(t, "recording", readEvent(t, jack, protocol.EventRecordingState).State)

	// Three 600 ms frames in one message; the second one hits the limit.
	chunk := make([]int16, 9600)
	for i := range chunk {
		chunk[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	var data []byte
	for i := 0; i < 3; i++ {
		packed, err := frame.Pack(frame.KindPCM, audio.Int16ToBytesInto(nil, chunk))
		require.NoError(t, err)
		data = append(data, packed...)
	}
	require.NoError(t, jack.WriteMessage(websocket.BinaryMessage, data))

	assert.Equal(t, "stopped", readEvent(t, jack, protocol.EventRecordingState).State)
	ev := readEvent(t, jack, protocol.EventMessageNew)
	require.NotNil(t, ev.Message)
	require.Len(t, ev.Message.Attachments, 1)
	assert.Equal(t, int64(1000), ev.Message.Attachments[0].DurationMs)

	// The next error must be the one for this command, not a leftover
	// complaint about the dropped frame.
	require.NoError(t, jack.WriteJSON(protocol.ClientCommand{Type: "after-limit"}))
	assert.Contains(t, readEvent(t, jack, protocol.EventError).Error, "after-limit")
}

func TestUnknownCommandReportsError(t *testing.T) {
	srv, _ := newTestServer(t)
	jack := dial(t, srv, "channel=general&user=jack")
	require.NoError(t, jack.WriteJSON(protocol.ClientCommand{Type: "dance"}))
	assert.Contains(t, readEvent(t, jack, protocol.EventError).Error, "dance")
}
