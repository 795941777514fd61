package interfaces

import "shop_automation/domain/entities"

// SessionStore persists authentication state between runs
type SessionStore interface {
	// Save writes the state under state.ID
	Save(state *entities.SessionState) error

	// Load returns the state saved under id. A missing or unreadable state reports false.
	Load(id string) (*entities.SessionState, bool)
}
