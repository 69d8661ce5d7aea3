package userstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return New(filepath.Join(dir, "USERS"))
}

func TestAddThenLogin(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Add("alice", "hunter2"))
	pass := "hunter2"
	assert.True(t, s.Login("alice", &pass))
}

func TestLoginWrongPassword(t *testing.T) {
	s := newTestStore(t)
	s.Add("alice", "hunter2")
	wrong := "nope"
	assert.False(t, s.Login("alice", &wrong))
}

func TestLoginExistenceCheck(t *testing.T) {
	s := newTestStore(t)
	assert.False(t, s.Login("alice", nil))
	s.Add("alice", "hunter2")
	assert.True(t, s.Login("alice", nil))
}

func TestLoginMissingFile(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.False(t, s.Login("alice", nil))
}

func TestLoginLastMatchWins(t *testing.T) {
	s := newTestStore(t)
	s.Add("alice", "old")
	s.Add("alice", "new")
	old := "old"
	assert.False(t, s.Login("alice", &old))
	newer := "new"
	assert.True(t, s.Login("alice", &newer))
}

func TestValidUsername(t *testing.T) {
	tests := []struct {
		user string
		ok   bool
	}{
		{"abc", false}, // too short
		{"abcd", true},
		{"a_b.c9", true},
		{"has space", false},
		{"way-too-long-username-here", false},
	}
	for _, tt := range tests {
		ok, _ := ValidUsername(tt.user, 4, 16)
		assert.Equal(t, tt.ok, ok, "ValidUsername(%q)", tt.user)
	}
}
