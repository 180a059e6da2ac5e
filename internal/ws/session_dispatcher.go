package ws

import (
	"context"
	"encoding/base64"
	"errors"

	"go.uber.org/zap"

	"github.com/saker-ai/chatkit-server/internal/protocol"
	"github.com/saker-ai/chatkit-server/internal/recorder"
	"github.com/saker-ai/chatkit-server/internal/recorder/fsm"
	"github.com/saker-ai/chatkit-server/internal/store"
)

type incomingHandler func(context.Context, protocol.ClientCommand)

func (s *session) dispatchIncoming(ctx context.Context, msg protocol.ClientCommand) {
	handlers := map[string]incomingHandler{
		protocol.CmdSendMessage:     s.onSendMessage,
		protocol.CmdFetchMessages:   s.onFetchMessages,
		protocol.CmdDeleteMessage:   s.onDeleteMessage,
		protocol.CmdJoinChannel:     s.onJoinChannel,
		protocol.CmdSetView:         s.onSetView,
		protocol.CmdRecordingStart:  s.onRecordingStart,
		protocol.CmdRecordingPause:  s.onRecordingPause,
		protocol.CmdRecordingResume: s.onRecordingResume,
		protocol.CmdRecordingStop:   s.onRecordingStop,
		protocol.CmdRecordingCancel: s.onRecordingCancel,
		protocol.CmdRecordingAudio:  s.onRecordingAudio,
		protocol.CmdHeartbeat:       s.onNoop,
	}

	if handler, ok := handlers[msg.Type]; ok {
		handler(ctx, msg)
		return
	}
	s.logger.Debug("ws unknown message type",
		zap.String("session_id", s.clientUID),
		zap.String("type", msg.Type),
	)
	s.sendError("unknown message type: " + msg.Type)
}

func (s *session) onSendMessage(_ context.Context, msg protocol.ClientCommand) {
	stored, err := s.handler.store.Append(store.Message{
		Channel:        s.channel(),
		User:           s.userID,
		Text:           msg.Text,
		HTML:           msg.HTML,
		Translations:   msg.Translations,
		MentionedUsers: msg.MentionedUsers,
	})
	if err != nil {
		s.sendError(err.Error())
		return
	}
	s.handler.Publish(stored)
}

func (s *session) onFetchMessages(_ context.Context, msg protocol.ClientCommand) {
	s.sendHistory(s.channel(), msg.Limit)
}

func (s *session) sendHistory(channelID string, limit int) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	messages, err := s.handler.store.List(channelID, limit)
	if err != nil {
		s.sendError(err.Error())
		return
	}
	s.sendJSON(protocol.Event{
		Type:     protocol.EventMessages,
		Channel:  channelID,
		Messages: s.handler.renderer.RenderAll(messages, s.currentView()),
	})
}

func (s *session) onDeleteMessage(_ context.Context, msg protocol.ClientCommand) {
	channelID := s.channel()
	existing, err := s.handler.store.Get(channelID, msg.MessageID)
	if err != nil {
		s.sendError(err.Error())
		return
	}
	if existing.User != s.userID {
		s.sendError("only the author can delete a message")
		return
	}
	if _, err := s.handler.store.Delete(channelID, msg.MessageID); err != nil {
		s.sendError(err.Error())
		return
	}
	s.handler.PublishDeleted(channelID, msg.MessageID)
}

func (s *session) onJoinChannel(_ context.Context, msg protocol.ClientCommand) {
	if !store.ValidName(msg.Channel) {
		s.sendError("invalid channel")
		return
	}
	if s.recorder.State() != fsm.StateIdle {
		s.recorder.Cancel()
		s.sendRecordingState()
	}
	s.handler.joinChannel(s, msg.Channel)
}

func (s *session) onSetView(_ context.Context, msg protocol.ClientCommand) {
	if msg.View == nil {
		return
	}
	view := *msg.View
	if view.BarCount <= 0 {
		view.BarCount = s.handler.config.Render.DefaultBarCount
	}
	s.mu.Lock()
	s.view = view
	s.mu.Unlock()
	s.sendHistory(s.channel(), defaultHistoryLimit)
}

func (s *session) onRecordingStart(_ context.Context, msg protocol.ClientCommand) {
	rate := msg.AudioRate
	if rate <= 0 {
		rate = s.handler.config.Recorder.SampleRate
	}
	s.mu.Lock()
	s.audioRate = rate
	s.mu.Unlock()
	s.recorderCall(s.recorder.Start)
}

func (s *session) onRecordingPause(_ context.Context, _ protocol.ClientCommand) {
	s.recorderCall(s.recorder.Pause)
}

func (s *session) onRecordingResume(_ context.Context, _ protocol.ClientCommand) {
	s.recorderCall(s.recorder.Resume)
}

func (s *session) onRecordingCancel(_ context.Context, _ protocol.ClientCommand) {
	s.recorder.Cancel()
	s.sendRecordingState()
}

func (s *session) onRecordingStop(ctx context.Context, msg protocol.ClientCommand) {
	s.finishRecording(ctx, msg.Text)
}

func (s *session) onRecordingAudio(ctx context.Context, msg protocol.ClientCommand) {
	rate := msg.AudioRate
	if rate <= 0 {
		rate = s.currentAudioRate()
	}
	if msg.AudioPCM != "" {
		pcm, err := base64.StdEncoding.DecodeString(msg.AudioPCM)
		if err != nil {
			s.sendError("invalid audio_pcm")
			return
		}
		s.writeAudio(ctx, func() error { return s.recorder.WritePCM16(pcm, rate) })
		return
	}
	s.writeAudio(ctx, func() error { return s.recorder.WriteFloat(msg.Audio, rate) })
}

func (s *session) onNoop(_ context.Context, _ protocol.ClientCommand) {}

func (s *session) recorderCall(fn func() error) {
	if err := fn(); err != nil {
		s.sendError(err.Error())
		return
	}
	s.sendRecordingState()
}

// writeAudio feeds the recorder and finishes the recording once the
// duration limit is reached. It reports whether the recording finished.
func (s *session) writeAudio(ctx context.Context, write func() error) bool {
	err := write()
	switch {
	case err == nil:
	case errors.Is(err, recorder.ErrMaxDuration):
		s.finishRecording(ctx, "")
		return true
	default:
		s.sendError(err.Error())
	}
	return false
}

// finishRecording stores the recording and posts it as a voice message.
func (s *session) finishRecording(_ context.Context, text string) {
	rec, err := s.recorder.Stop()
	if err != nil {
		s.sendError(err.Error())
		s.sendRecordingState()
		return
	}
	s.sendRecordingState()

	id, err := s.handler.store.SaveRecording(rec.Packets)
	if err != nil {
		s.logger.Warn("save recording failed", zap.Error(err))
		s.sendError("failed to save recording")
		return
	}
	stored, err := s.handler.store.Append(store.Message{
		Channel: s.channel(),
		User:    s.userID,
		Text:    text,
		Attachments: []store.Attachment{{
			Type:       store.AttachmentVoiceRecording,
			AssetPath:  store.RecordingAssetPath(id),
			DurationMs: rec.DurationMs,
			Waveform:   rec.Waveform,
		}},
	})
	if err != nil {
		s.sendError(err.Error())
		return
	}
	s.logger.Info("voice message recorded",
		zap.String("session_id", s.clientUID),
		zap.String("message_id", stored.ID),
		zap.Int64("duration_ms", rec.DurationMs),
	)
	s.handler.Publish(stored)
}
