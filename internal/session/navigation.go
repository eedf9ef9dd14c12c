package session

import (
	"strings"

	"github.com/tonimelisma/gdrive-go/internal/gdrive"
)

// Crumb is one level of the navigation stack.
type Crumb struct {
	ID   string
	Name string
}

var rootCrumb = Crumb{ID: gdrive.RootID, Name: "My Drive"}

// Current returns the folder at the top of the navigation stack.
func (s *Session) Current() Crumb {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.nav[len(s.nav)-1]
}

// Descend pushes a folder onto the navigation stack. The caller checks that
// the item is a folder.
func (s *Session) Descend(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nav = append(s.nav, Crumb{ID: id, Name: name})
}

// Back pops one level and returns the new current folder. At the root it
// does nothing.
func (s *Session) Back() Crumb {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.nav) > 1 {
		s.nav = s.nav[:len(s.nav)-1]
	}

	return s.nav[len(s.nav)-1]
}

// GoRoot resets navigation to the root folder.
func (s *Session) GoRoot() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nav = []Crumb{rootCrumb}
}

// Path renders the navigation stack as a slash-separated path.
func (s *Session) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.nav)-1)
	for _, c := range s.nav[1:] {
		names = append(names, c.Name)
	}

	return "/" + strings.Join(names, "/")
}
