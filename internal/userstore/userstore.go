// Package userstore implements the append-only credential file backing
// register/submit authentication.
//
// Grounded on original_source/serv.c's users_login / users_add.
package userstore

import (
	"bufio"
	"fmt"
	"os"
)

// Store is a file-backed user credential table. It holds no in-memory
// cache: every Login re-scans the file, matching the original's
// last-match-wins semantics (a user appended twice keeps the final
// password).
type Store struct {
	path string
}

// New returns a Store backed by the credential file at path.
func New(path string) *Store {
	return &Store{path: path}
}

// Login reports whether user exists and, if pass is non-nil, that pass
// matches the stored password. A nil pass checks only for existence
// (used by register to reject duplicate usernames).
func (s *Store) Login(user string, pass *string) bool {
	f, err := os.Open(s.path)
	if err != nil {
		return false
	}
	defer f.Close()

	logged := false
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var u, p string
		n, _ := fmt.Sscanf(sc.Text(), "%s %s", &u, &p)
		if n != 2 {
			continue
		}
		if u == user {
			logged = pass == nil || *pass == p
		}
	}
	return logged
}

// Add appends a new user/password record. Callers must check Login(user,
// nil) first; Add does not itself guard against duplicates.
func (s *Store) Add(user, pass string) error {
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%s %s\n", user, pass)
	return err
}

// ValidUsername reports whether user satisfies the length and character
// constraints on registration (spec.md §4.4): 4-16 chars, [a-zA-Z0-9_.].
func ValidUsername(user string, minLen, maxLen int) (bool, string) {
	if len(user) < minLen {
		return false, "username is too short!"
	}
	if len(user) > maxLen {
		return false, "username too long!"
	}
	for i := 0; i < len(user); i++ {
		r := user[i]
		if !(r >= 'a' && r <= 'z') && !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') && r != '_' && r != '.' {
			return false, "username can contain only [a-zA-Z0-9_.]!"
		}
	}
	return true, ""
}
