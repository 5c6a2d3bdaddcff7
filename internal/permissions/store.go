package permissions

import (
	"fmt"
	"sort"
	"sync"

	"lux/internal/jsonstore"
	"lux/internal/logging"
)

// Store persists granted permissions per function in a JSON document.
type Store struct {
	path   string
	mu     sync.Mutex
	grants map[string][]string
}

// NewStore loads path, creating an empty document when it does not exist.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path, grants: make(map[string][]string)}
	found, err := jsonstore.Read(path, &s.grants)
	if err != nil {
		return nil, err
	}
	if s.grants == nil {
		s.grants = make(map[string][]string)
	}
	if !found {
		if err := jsonstore.Write(path, s.grants); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Grant replaces the grants of name. Unknown permission names are rejected.
func (s *Store) Grant(name string, perms []string) error {
	var invalid []string
	for _, p := range perms {
		if _, ok := Lookup(p); !ok {
			invalid = append(invalid, p)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid permissions: %v", invalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.grants[name] = normalize(perms)
	logging.Permissions("granted %v to %s", s.grants[name], name)
	return s.saveLocked()
}

// Check reports whether the grants of name cover required.
func (s *Store) Check(name string, required []string) bool {
	if len(required) == 0 {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	granted, ok := s.grants[name]
	if !ok {
		return false
	}
	have := make(map[string]bool, len(granted))
	for _, p := range granted {
		have[p] = true
	}
	for _, p := range required {
		if !have[p] {
			return false
		}
	}
	return true
}

// Revoke removes perms from name; with no perms every grant is removed.
func (s *Store) Revoke(name string, perms ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	granted, ok := s.grants[name]
	if !ok {
		return nil
	}
	if len(perms) == 0 {
		delete(s.grants, name)
	} else {
		drop := make(map[string]bool, len(perms))
		for _, p := range perms {
			drop[p] = true
		}
		kept := granted[:0:0]
		for _, p := range granted {
			if !drop[p] {
				kept = append(kept, p)
			}
		}
		s.grants[name] = kept
	}
	logging.Permissions("revoked %v from %s", perms, name)
	return s.saveLocked()
}

// Granted returns the catalog entries granted to name.
func (s *Store) Granted(name string) []Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return inCatalogOrder(s.grants[name])
}

func (s *Store) saveLocked() error {
	return jsonstore.Write(s.path, s.grants)
}

func normalize(perms []string) []string {
	seen := make(map[string]bool, len(perms))
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
