package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appconfig "github.com/saker-ai/chatkit-server/internal/config"
	"github.com/saker-ai/chatkit-server/internal/frame"
	"github.com/saker-ai/chatkit-server/internal/render"
	"github.com/saker-ai/chatkit-server/internal/store"
	"github.com/saker-ai/chatkit-server/pkg/audio"
	"github.com/saker-ai/chatkit-server/pkg/messagetext"
	"github.com/saker-ai/chatkit-server/pkg/waveform"
)

const maxPCMBodyBytes = 32 << 20

type api struct {
	cfg    appconfig.Config
	svc    Services
	logger *zap.Logger
}

type tokenizeRequest struct {
	Text           string                `json:"text"`
	Translations   map[string]string     `json:"translations"`
	MentionedUsers []messagetext.UserRef `json:"mentioned_users"`
	render.View
}

func (a *api) tokenize(c *gin.Context) {
	var req tokenizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for i, ref := range req.MentionedUsers {
		if ref.Name == "" {
			req.MentionedUsers[i].Name = a.svc.Users.Lookup(ref.ID).Name
		}
	}
	result := a.svc.Renderer.Tokenize(messagetext.Message{
		Text:           req.Text,
		Translations:   req.Translations,
		MentionedUsers: req.MentionedUsers,
	}, req.View)
	c.JSON(http.StatusOK, result)
}

type resampleRequest struct {
	Samples     []float64 `json:"samples"`
	TargetCount int       `json:"target_count"`
}

func (a *api) resampleWaveform(c *gin.Context) {
	var req resampleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"samples": waveform.Resample(req.Samples, req.TargetCount)})
}

// pcmWaveform derives bar amplitudes from a raw little-endian PCM16 body.
func (a *api) pcmWaveform(c *gin.Context) {
	rec := a.cfg.Recorder
	sampleRate := queryInt(c, "sample_rate", rec.SampleRate)
	channels := queryInt(c, "channels", rec.Channels)
	windowMs := queryInt(c, "window_ms", rec.AmplitudeWindowMs)
	count := queryInt(c, "count", rec.AmplitudeCount)
	if sampleRate <= 0 || channels <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sample_rate and channels must be positive"})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxPCMBodyBytes)
	pcm, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	}
	frames := len(pcm) / 2 / channels
	c.JSON(http.StatusOK, gin.H{
		"waveform":    waveform.Resample(waveform.FromPCM16(pcm, sampleRate, channels, windowMs), count),
		"duration_ms": int64(frames) * 1000 / int64(sampleRate),
	})
}

func (a *api) listUsers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": a.svc.Users.Users()})
}

func (a *api) listChannels(c *gin.Context) {
	channels, err := a.svc.Store.Channels()
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": channels})
}

func (a *api) listMessages(c *gin.Context) {
	channel := c.Param("channel")
	messages, err := a.svc.Store.List(channel, queryInt(c, "limit", 50))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"channel":  channel,
		"messages": a.svc.Renderer.RenderAll(messages, a.viewFrom(c)),
		"watchers": a.svc.WS.Watchers(channel),
	})
}

type postMessageRequest struct {
	User           string            `json:"user"`
	Text           string            `json:"text"`
	HTML           string            `json:"html"`
	Translations   map[string]string `json:"translations"`
	MentionedUsers []string          `json:"mentioned_users"`
}

func (a *api) postMessage(c *gin.Context) {
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !store.ValidName(req.User) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user is required"})
		return
	}
	msg, err := a.svc.Store.Append(store.Message{
		Channel:        c.Param("channel"),
		User:           req.User,
		Text:           req.Text,
		HTML:           req.HTML,
		Translations:   req.Translations,
		MentionedUsers: req.MentionedUsers,
	})
	if err != nil {
		a.fail(c, err)
		return
	}
	a.svc.WS.Publish(msg)
	c.JSON(http.StatusCreated, a.svc.Renderer.Render(msg, a.viewFrom(c)))
}

// deleteMessage removes a message on behalf of its author, named by the
// user query parameter.
func (a *api) deleteMessage(c *gin.Context) {
	channel, id := c.Param("channel"), c.Param("id")
	user := c.Query("user")
	if !store.ValidName(user) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user is required"})
		return
	}
	existing, err := a.svc.Store.Get(channel, id)
	if err != nil {
		a.fail(c, err)
		return
	}
	if existing.User != user {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the author can delete a message"})
		return
	}
	if _, err := a.svc.Store.Delete(channel, id); err != nil {
		a.fail(c, err)
		return
	}
	a.svc.WS.PublishDeleted(channel, id)
	c.Status(http.StatusNoContent)
}

// getRecording serves a stored voice message as Opus frames, or decoded
// to raw PCM16 with ?format=pcm.
func (a *api) getRecording(c *gin.Context) {
	packets, err := a.svc.Store.OpenRecording(c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}

	if c.Query("format") != "pcm" {
		var body []byte
		for _, packet := range packets {
			f, err := frame.Pack(frame.KindOpus, packet)
			if err != nil {
				a.fail(c, err)
				return
			}
			body = append(body, f...)
		}
		c.Header("X-Opus-Packets", strconv.Itoa(len(packets)))
		c.Data(http.StatusOK, "application/octet-stream", body)
		return
	}

	rec := a.cfg.Recorder
	dec, err := audio.NewOpusDecoder(rec.SampleRate, rec.Channels)
	if err != nil {
		a.fail(c, err)
		return
	}
	var pcm []byte
	for _, packet := range packets {
		samples, err := dec.Decode(packet)
		if err != nil {
			a.fail(c, err)
			return
		}
		pcm = audio.AppendInt16Bytes(pcm, samples)
	}
	contentType := "audio/L16; rate=" + strconv.Itoa(rec.SampleRate) + "; channels=" + strconv.Itoa(rec.Channels)
	c.Data(http.StatusOK, contentType, pcm)
}

func (a *api) viewFrom(c *gin.Context) render.View {
	view := render.View{
		TranslateTo: c.Query("lang"),
		ChromeLike:  render.IsChromeLike(c.Request.UserAgent()),
		BarCount:    queryInt(c, "bars", a.cfg.Render.DefaultBarCount),
	}
	if raw, ok := c.GetQuery("chrome"); ok {
		view.ChromeLike, _ = strconv.ParseBool(raw)
	}
	return view
}

func (a *api) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrInvalidName), errors.Is(err, store.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		if a.logger != nil {
			a.logger.Warn("api request failed", zap.String("path", c.FullPath()), zap.Error(err))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw, ok := c.GetQuery(key)
	if !ok {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
