package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoinAndMembers(t *testing.T) {
	m := NewManager()
	m.RegisterClient("c1", "jack")
	m.RegisterClient("c2", "ann")
	m.RegisterClient("c3", "jack")

	assert.Empty(t, m.Join("c1", "general"))
	m.Join("c2", "general")
	m.Join("c3", "general")

	assert.Equal(t, []string{"c1", "c2", "c3"}, m.Members("general"))
	assert.Equal(t, []string{"ann", "jack"}, m.Users("general"))
	assert.Equal(t, "general", m.ChannelOf("c2"))
}

func TestJoinSwitchesChannel(t *testing.T) {
	m := NewManager()
	m.RegisterClient("c1", "jack")
	m.Join("c1", "general")

	assert.Equal(t, "general", m.Join("c1", "random"))
	assert.Nil(t, m.Members("general"))
	assert.Equal(t, []string{"c1"}, m.Members("random"))
	assert.Equal(t, []string{"random"}, m.Channels())

	assert.Empty(t, m.Join("c1", "random"))
}

func TestRemoveClient(t *testing.T) {
	m := NewManager()
	m.RegisterClient("c1", "jack")
	m.RegisterClient("c2", "ann")
	m.Join("c1", "general")
	m.Join("c2", "general")

	assert.Equal(t, []string{"c2"}, m.RemoveClient("c1"))
	assert.Empty(t, m.ChannelOf("c1"))
	assert.Nil(t, m.RemoveClient("c2"))
	assert.Empty(t, m.Channels())
	assert.Nil(t, m.RemoveClient("unknown"))
}
