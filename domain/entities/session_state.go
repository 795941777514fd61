package entities

import "sort"

// Cookie carries every attribute needed to replay an authenticated request
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"http_only"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"same_site,omitempty"`
}

// SessionState - persisted cookies keyed by domain, then by cookie name
type SessionState struct {
	ID      string                       `json:"id"`
	Cookies map[string]map[string]Cookie `json:"cookies"`
}

// NewSessionState groups a flat cookie list by domain. Later duplicates win.
func NewSessionState(id string, cookies []Cookie) *SessionState {
	s := &SessionState{ID: id, Cookies: make(map[string]map[string]Cookie)}
	for _, c := range cookies {
		s.Put(c)
	}
	return s
}

// Put stores a cookie under its domain
func (s *SessionState) Put(c Cookie) {
	if s.Cookies == nil {
		s.Cookies = make(map[string]map[string]Cookie)
	}
	byName, ok := s.Cookies[c.Domain]
	if !ok {
		byName = make(map[string]Cookie)
		s.Cookies[c.Domain] = byName
	}
	byName[c.Name] = c
}

// Len returns the total number of cookies across domains
func (s *SessionState) Len() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, byName := range s.Cookies {
		n += len(byName)
	}
	return n
}

// List flattens the state in a stable domain/name order
func (s *SessionState) List() []Cookie {
	if s == nil {
		return nil
	}
	out := make([]Cookie, 0, s.Len())
	for _, byName := range s.Cookies {
		for _, c := range byName {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Domain != out[j].Domain {
			return out[i].Domain < out[j].Domain
		}
		return out[i].Name < out[j].Name
	})
	return out
}
