// Package store persists chat messages as one JSON file per channel and
// voice recordings as framed Opus files.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/saker-ai/chatkit-server/internal/frame"
)

// AttachmentVoiceRecording marks an attachment holding a voice message.
const AttachmentVoiceRecording = "voiceRecording"

const recordingExt = ".opusf"

var (
	// ErrNotFound is returned for unknown messages or recordings.
	ErrNotFound = errors.New("not found")
	// ErrInvalidName is returned for channel or id values that are not safe
	// file names.
	ErrInvalidName = errors.New("invalid name")
	// ErrEmptyMessage is returned by Append for messages without content.
	ErrEmptyMessage = errors.New("message has no content")
)

// Attachment is a file attached to a message.
type Attachment struct {
	Type       string    `json:"type"`
	AssetPath  string    `json:"asset_path"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	Waveform   []float64 `json:"waveform,omitempty"`
}

// Message is a stored chat message. MentionedUsers holds user ids in the
// order the mentions appear in Text.
type Message struct {
	ID             string            `json:"id"`
	Channel        string            `json:"channel"`
	User           string            `json:"user"`
	Text           string            `json:"text,omitempty"`
	HTML           string            `json:"html,omitempty"`
	Translations   map[string]string `json:"translations,omitempty"`
	MentionedUsers []string          `json:"mentioned_users,omitempty"`
	Attachments    []Attachment      `json:"attachments,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// ChannelInfo summarizes a channel for listings.
type ChannelInfo struct {
	Channel       string  `json:"channel"`
	MessageCount  int     `json:"message_count"`
	LatestMessage Message `json:"latest_message"`
}

var safeNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-\.]+$`)

// ValidName reports whether name can be used as a channel or id.
func ValidName(name string) bool {
	return safeNamePattern.MatchString(name) && name != "." && name != ".."
}

// Store is a file-backed message store. It is safe for concurrent use
// within one process.
type Store struct {
	mu      sync.Mutex
	baseDir string
	now     func() time.Time
}

// New creates a store rooted at baseDir.
func New(baseDir string) (*Store, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, errors.New("store base dir is empty")
	}
	for _, dir := range []string{"channels", "recordings"} {
		if err := os.MkdirAll(filepath.Join(baseDir, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	return &Store{baseDir: baseDir, now: time.Now}, nil
}

// Append stores msg, assigning an id and creation time when missing.
func (s *Store) Append(msg Message) (Message, error) {
	if !ValidName(msg.Channel) {
		return Message{}, fmt.Errorf("channel %q: %w", msg.Channel, ErrInvalidName)
	}
	if strings.TrimSpace(msg.Text) == "" && msg.HTML == "" && len(msg.Attachments) == 0 {
		return Message{}, ErrEmptyMessage
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	} else if !ValidName(msg.ID) {
		return Message{}, fmt.Errorf("message id %q: %w", msg.ID, ErrInvalidName)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	messages, err := s.readChannel(msg.Channel)
	if err != nil {
		return Message{}, err
	}
	messages = append(messages, msg)
	if err := s.writeChannel(msg.Channel, messages); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// List returns the newest limit messages of channel, oldest first. A limit
// of zero or less returns every message. Unknown channels are empty.
func (s *Store) List(channel string, limit int) ([]Message, error) {
	if !ValidName(channel) {
		return nil, fmt.Errorf("channel %q: %w", channel, ErrInvalidName)
	}
	s.mu.Lock()
	messages, err := s.readChannel(channel)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}

// Get returns one message.
func (s *Store) Get(channel string, id string) (Message, error) {
	if !ValidName(channel) || !ValidName(id) {
		return Message{}, ErrInvalidName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	messages, err := s.readChannel(channel)
	if err != nil {
		return Message{}, err
	}
	for _, msg := range messages {
		if msg.ID == id {
			return msg, nil
		}
	}
	return Message{}, ErrNotFound
}

// Delete removes a message and the recordings it references.
func (s *Store) Delete(channel string, id string) (Message, error) {
	if !ValidName(channel) || !ValidName(id) {
		return Message{}, ErrInvalidName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	messages, err := s.readChannel(channel)
	if err != nil {
		return Message{}, err
	}
	for i, msg := range messages {
		if msg.ID != id {
			continue
		}
		messages = append(messages[:i], messages[i+1:]...)
		if err := s.writeChannel(channel, messages); err != nil {
			return Message{}, err
		}
		for _, att := range msg.Attachments {
			if att.Type != AttachmentVoiceRecording {
				continue
			}
			if recID := RecordingID(att.AssetPath); recID != "" {
				_ = os.Remove(s.recordingPath(recID))
			}
		}
		return msg, nil
	}
	return Message{}, ErrNotFound
}

// Channels lists channels with at least one message, most recently active
// first.
func (s *Store) Channels() ([]ChannelInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(filepath.Join(s.baseDir, "channels"))
	if err != nil {
		return nil, fmt.Errorf("read channels: %w", err)
	}
	list := []ChannelInfo{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		channel := strings.TrimSuffix(entry.Name(), ".json")
		messages, err := s.readChannel(channel)
		if err != nil || len(messages) == 0 {
			continue
		}
		latest := messages[0]
		for _, msg := range messages[1:] {
			if msg.CreatedAt.After(latest.CreatedAt) {
				latest = msg
			}
		}
		list = append(list, ChannelInfo{
			Channel:       channel,
			MessageCount:  len(messages),
			LatestMessage: latest,
		})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].LatestMessage.CreatedAt.After(list[j].LatestMessage.CreatedAt)
	})
	return list, nil
}

// SaveRecording writes Opus packets as a framed file and returns its id.
func (s *Store) SaveRecording(packets [][]byte) (string, error) {
	var buf []byte
	for _, packet := range packets {
		f, err := frame.Pack(frame.KindOpus, packet)
		if err != nil {
			return "", fmt.Errorf("pack recording: %w", err)
		}
		buf = append(buf, f...)
	}
	id := uuid.NewString()
	if err := writeFileAtomic(s.recordingPath(id), buf); err != nil {
		return "", err
	}
	return id, nil
}

// OpenRecording reads back the packets of a saved recording.
func (s *Store) OpenRecording(id string) ([][]byte, error) {
	if !ValidName(id) {
		return nil, ErrInvalidName
	}
	data, err := os.ReadFile(s.recordingPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	frames, err := frame.Split(data)
	if err != nil {
		return nil, fmt.Errorf("recording %s: %w", id, err)
	}
	packets := make([][]byte, 0, len(frames))
	for _, f := range frames {
		if f.Kind == frame.KindOpus {
			packets = append(packets, f.Payload)
		}
	}
	return packets, nil
}

// RecordingAssetPath is the URL path clients fetch a recording from.
func RecordingAssetPath(id string) string {
	return "/api/v1/recordings/" + id
}

// RecordingID extracts the id from a RecordingAssetPath value.
func RecordingID(assetPath string) string {
	id, ok := strings.CutPrefix(assetPath, "/api/v1/recordings/")
	if !ok || !ValidName(id) {
		return ""
	}
	return id
}

func (s *Store) channelPath(channel string) string {
	return filepath.Join(s.baseDir, "channels", channel+".json")
}

func (s *Store) recordingPath(id string) string {
	return filepath.Join(s.baseDir, "recordings", id+recordingExt)
}

func (s *Store) readChannel(channel string) ([]Message, error) {
	data, err := os.ReadFile(s.channelPath(channel))
	if errors.Is(err, os.ErrNotExist) {
		return []Message{}, nil
	}
	if err != nil {
		return nil, err
	}
	var messages []Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("decode channel %s: %w", channel, err)
	}
	return messages, nil
}

func (s *Store) writeChannel(channel string, messages []Message) error {
	data, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.channelPath(channel), data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
