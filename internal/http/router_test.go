package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/saker-ai/chatkit-server/internal/config"
	"github.com/saker-ai/chatkit-server/internal/frame"
	"github.com/saker-ai/chatkit-server/internal/render"
	"github.com/saker-ai/chatkit-server/internal/roster"
	"github.com/saker-ai/chatkit-server/internal/store"
	"github.com/saker-ai/chatkit-server/internal/ws"
	"github.com/saker-ai/chatkit-server/pkg/audio"
	"github.com/saker-ai/chatkit-server/pkg/messagetext"
)

type testEnv struct {
	router *gin.Engine
	store  *store.Store
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	users := roster.New([]roster.User{{ID: "jack", Name: "Jack"}})
	cfg := appconfig.Config{
		Render: appconfig.RenderConfig{DefaultBarCount: 4},
		Recorder: appconfig.RecorderConfig{
			SampleRate:        16000,
			Channels:          1,
			FrameDurationMs:   20,
			AmplitudeWindowMs: 10,
			AmplitudeCount:    5,
		},
	}
	renderer := render.New(render.Options{DefaultBarCount: 4}, users)
	svc := Services{
		WS:       ws.NewHandler(nil, cfg, st, renderer, users),
		Store:    st,
		Renderer: renderer,
		Users:    users,
	}
	return testEnv{router: NewRouter(cfg, svc, nil), store: st}
}

func (e testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestTokenizeEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/tokenize", map[string]any{
		"text":            "Hello @Jack",
		"mentioned_users": []map[string]string{{"id": "jack"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var got messagetext.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Parts, 2)
	assert.Equal(t, "Hello ", got.Parts[0].Content)
	assert.Equal(t, messagetext.KindMention, got.Parts[1].Kind)
	assert.Equal(t, "Jack", got.Parts[1].User.Name)

	rec = env.do(t, http.MethodPost, "/api/v1/tokenize", map[string]any{"text": "plain words"})
	assert.JSONEq(t, `{"plain_text":"plain words"}`, rec.Body.String())
}

func TestResampleEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/waveform/resample", map[string]any{
		"samples":      []float64{1, 2},
		"target_count": 5,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"samples":[1,1,1,2,2]}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/v1/waveform/resample", map[string]any{"samples": []float64{1}, "target_count": -1})
	assert.JSONEq(t, `{"samples":[]}`, rec.Body.String())
}

func TestPCMWaveformEndpoint(t *testing.T) {
	env := newTestEnv(t)
	samples := make([]int16, 1600)
	for i := 800; i < len(samples); i++ {
		samples[i] = 16000
	}
	rec := env.do(t, http.MethodPost, "/api/v1/waveform/pcm?count=10", audio.Int16ToBytesInto(nil, samples))
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Waveform   []float64 `json:"waveform"`
		DurationMs int64     `json:"duration_ms"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(100), got.DurationMs)
	require.Len(t, got.Waveform, 10)
	assert.Equal(t, 0.0, got.Waveform[0])
	assert.Equal(t, 1.0, got.Waveform[9])
}

func TestMessagesLifecycle(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/channels/general/messages", map[string]any{
		"user": "jack",
		"text": "visit example.com",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created render.Rendered
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Len(t, created.Parts, 1)
	assert.Contains(t, created.Parts[0].Content, `href="https://example.com"`)

	rec = env.do(t, http.MethodGet, "/api/v1/channels/general/messages?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Messages []render.Rendered `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Messages, 1)
	assert.Equal(t, created.ID, list.Messages[0].ID)

	rec = env.do(t, http.MethodDelete, "/api/v1/channels/general/messages/"+created.ID+"?user=jack", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodDelete, "/api/v1/channels/general/messages/"+created.ID+"?user=jack", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteMessageRequiresAuthor(t *testing.T) {
	env := newTestEnv(t)
	msg, err := env.store.Append(store.Message{Channel: "general", User: "jack", Text: "mine"})
	require.NoError(t, err)
	path := "/api/v1/channels/general/messages/" + msg.ID

	rec := env.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, path+"?user=ann", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	_, err = env.store.Get("general", msg.ID)
	require.NoError(t, err)

	rec = env.do(t, http.MethodDelete, path+"?user=jack", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestPostMessageValidation(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/channels/general/messages", map[string]any{"text": "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/v1/channels/general/messages", map[string]any{"user": "jack"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRecording(t *testing.T) {
	env := newTestEnv(t)
	enc, err := audio.AcquireOpusEncoder(16000, 1, 20, audio.OpusOptions{})
	require.NoError(t, err)
	defer enc.Release()
	packet, err := enc.Encode(make([]int16, enc.FrameSize()))
	require.NoError(t, err)
	id, err := env.store.SaveRecording([][]byte{packet, packet})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/v1/recordings/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-Opus-Packets"))
	frames, err := frame.Split(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Len(t, frames, 2)

	rec = env.do(t, http.MethodGet, "/api/v1/recordings/"+id+"?format=pcm", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2*320*2, rec.Body.Len())

	rec = env.do(t, http.MethodGet, "/api/v1/recordings/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
