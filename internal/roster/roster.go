// Package roster loads the known chat users from users.yaml.
package roster

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/saker-ai/chatkit-server/pkg/messagetext"
	"gopkg.in/yaml.v3"
)

// User is a known chat participant.
type User struct {
	ID    string `yaml:"id" json:"id"`
	Name  string `yaml:"name" json:"name,omitempty"`
	Image string `yaml:"image" json:"image,omitempty"`
}

// DisplayName is the name, or the id when the user has none.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}

type rosterFile struct {
	Users []User `yaml:"users"`
}

// Roster is a concurrency-safe user directory.
type Roster struct {
	mu    sync.RWMutex
	users map[string]User
}

// New builds a roster from users. Entries without an id are ignored and
// later duplicates win.
func New(users []User) *Roster {
	r := &Roster{users: make(map[string]User, len(users))}
	for _, u := range users {
		if u.ID == "" {
			continue
		}
		r.users[u.ID] = u
	}
	return r
}

// Load reads a roster file. A missing file yields an empty roster.
func Load(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	var file rosterFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode roster %s: %w", path, err)
	}
	return New(file.Users), nil
}

// Get looks up a user by id.
func (r *Roster) Get(id string) (User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	return u, ok
}

// Lookup returns the known user or a bare user carrying only the id.
func (r *Roster) Lookup(id string) User {
	if u, ok := r.Get(id); ok {
		return u
	}
	return User{ID: id}
}

// Put adds or replaces a user.
func (r *Roster) Put(u User) {
	if u.ID == "" {
		return
	}
	r.mu.Lock()
	r.users[u.ID] = u
	r.mu.Unlock()
}

// Users returns every user sorted by id.
func (r *Roster) Users() []User {
	r.mu.RLock()
	out := make([]User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Resolve maps mentioned user ids to tokenizer references, keeping order.
// Unknown ids pass through without a name.
func (r *Roster) Resolve(ids []string) []messagetext.UserRef {
	if len(ids) == 0 {
		return nil
	}
	refs := make([]messagetext.UserRef, 0, len(ids))
	for _, id := range ids {
		u := r.Lookup(id)
		refs = append(refs, messagetext.UserRef{ID: u.ID, Name: u.Name})
	}
	return refs
}
