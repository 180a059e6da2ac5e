package roster

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/saker-ai/chatkit-server/pkg/messagetext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const usersYAML = `users:
  - id: jack
    name: Jack
    image: https://cdn.example.com/jack.png
  - id: u42
  - name: nobody
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.yaml")
	require.NoError(t, os.WriteFile(path, []byte(usersYAML), 0o644))

	r, err := Load(path)
	require.NoError(t, err)

	users := r.Users()
	require.Len(t, users, 2)
	assert.Equal(t, "jack", users[0].ID)
	assert.Equal(t, "https://cdn.example.com/jack.png", users[0].Image)
	assert.Equal(t, "u42", users[1].DisplayName())
}

func TestLoadMissingFile(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Empty(t, r.Users())
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.yaml")
	require.NoError(t, os.WriteFile(path, []byte("users: [::"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	r := New([]User{{ID: "jack", Name: "Jack"}})
	got := r.Resolve([]string{"ghost", "jack"})
	assert.Equal(t, []messagetext.UserRef{{ID: "ghost"}, {ID: "jack", Name: "Jack"}}, got)
	assert.Nil(t, r.Resolve(nil))
}

func TestPut(t *testing.T) {
	r := New(nil)
	r.Put(User{ID: "ann", Name: "Ann"})
	r.Put(User{Name: "ignored"})
	u, ok := r.Get("ann")
	require.True(t, ok)
	assert.Equal(t, "Ann", u.Name)
	assert.Len(t, r.Users(), 1)
}
