package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	base := time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	return s
}

func TestAppendAssignsIDAndTime(t *testing.T) {
	s := newTestStore(t)
	msg, err := s.Append(Message{Channel: "general", User: "jack", Text: "hi"})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.CreatedAt.IsZero())

	got, err := s.Get("general", msg.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.Text, got.Text)
	assert.True(t, msg.CreatedAt.Equal(got.CreatedAt))
}

func TestAppendRejectsInvalidInput(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Append(Message{Channel: "../etc", Text: "x"})
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = s.Append(Message{Channel: "..", Text: "x"})
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = s.Append(Message{Channel: "general", Text: "   "})
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestListLimitKeepsNewest(t *testing.T) {
	s := newTestStore(t)
	for _, text := range []string{"one", "two", "three"} {
		_, err := s.Append(Message{Channel: "general", Text: text})
		require.NoError(t, err)
	}

	all, err := s.List("general", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "one", all[0].Text)

	last, err := s.List("general", 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "two", last[0].Text)
	assert.Equal(t, "three", last[1].Text)

	empty, err := s.List("nobody-here", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDeleteRemovesRecording(t *testing.T) {
	s := newTestStore(t)
	id, err := s.SaveRecording([][]byte{{1, 2, 3}})
	require.NoError(t, err)

	msg, err := s.Append(Message{Channel: "general", Attachments: []Attachment{{
		Type:       AttachmentVoiceRecording,
		AssetPath:  RecordingAssetPath(id),
		DurationMs: 20,
	}}})
	require.NoError(t, err)

	deleted, err := s.Delete("general", msg.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, deleted.ID)

	_, err = s.Get("general", msg.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.OpenRecording(id)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Delete("general", msg.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordingRoundTrip(t *testing.T) {
	s := newTestStore(t)
	packets := [][]byte{{0xF8, 0xFF, 0xFE}, {0x01}, {}}
	id, err := s.SaveRecording(packets)
	require.NoError(t, err)

	got, err := s.OpenRecording(id)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, packets[0], got[0])
	assert.Equal(t, packets[1], got[1])
	assert.Empty(t, got[2])

	_, err = os.Stat(filepath.Join(s.baseDir, "recordings", id+".opusf"))
	assert.NoError(t, err)
}

func TestChannelsOrderedByActivity(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Append(Message{Channel: "old", Text: "a"})
	require.NoError(t, err)
	_, err = s.Append(Message{Channel: "new", Text: "b"})
	require.NoError(t, err)
	_, err = s.Append(Message{Channel: "new", Text: "c"})
	require.NoError(t, err)

	list, err := s.Channels()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].Channel)
	assert.Equal(t, 2, list[0].MessageCount)
	assert.Equal(t, "c", list[0].LatestMessage.Text)
}

func TestRecordingID(t *testing.T) {
	assert.Equal(t, "abc", RecordingID(RecordingAssetPath("abc")))
	assert.Empty(t, RecordingID("/other/abc"))
	assert.Empty(t, RecordingID("/api/v1/recordings/../x"))
}
