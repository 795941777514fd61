package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"shop_automation/domain/entities"
	"shop_automation/domain/interfaces"

	"github.com/sirupsen/logrus"
)

var (
	unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
	hashSuffix  = regexp.MustCompile(`-[0-9a-f]{12}$`)
)

type sessionFile struct {
	ID      string            `json:"id"`
	SavedAt time.Time         `json:"saved_at"`
	Cookies []entities.Cookie `json:"cookies"`
}

type fileSessionStore struct {
	dir    string
	logger *logrus.Logger
	now    func() time.Time
}

// DefaultSessionDir - returns ~/.shop_automation/sessions
func DefaultSessionDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = os.TempDir()
	}
	return filepath.Join(homeDir, ".shop_automation", "sessions")
}

// NewFileSessionStore - creates session storage that keeps one JSON file per session id
func NewFileSessionStore(dir string, logger *logrus.Logger) interfaces.SessionStore {
	if dir == "" {
		dir = DefaultSessionDir()
	}
	return &fileSessionStore{dir: dir, logger: logger, now: time.Now}
}

// path maps id to a file name. Ids that are already safe are used as is; any other id keeps
// a readable sanitized name plus a digest of the raw id so distinct ids never share a file.
func (s *fileSessionStore) path(id string) string {
	name := strings.TrimLeft(unsafeChars.ReplaceAllString(id, "_"), ".")
	if name == "" {
		name = "default"
	}
	if name != id || hashSuffix.MatchString(name) {
		sum := sha256.Sum256([]byte(id))
		name += "-" + hex.EncodeToString(sum[:6])
	}
	return filepath.Join(s.dir, name+".json")
}

// Save - writes the state to a temporary file and renames it into place
func (s *fileSessionStore) Save(state *entities.SessionState) error {
	if state == nil {
		return errors.New("nil session state")
	}
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := json.MarshalIndent(sessionFile{
		ID:      state.ID,
		SavedAt: s.now().UTC(),
		Cookies: state.List(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session state: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create session file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path(state.ID)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to store session file: %w", err)
	}

	s.logger.WithFields(logrus.Fields{"session_id": state.ID, "cookies": state.Len()}).Debug("session state saved")
	return nil
}

// Load - reads the state saved under id. Unreadable files are logged and reported as absent.
func (s *fileSessionStore) Load(id string) (*entities.SessionState, bool) {
	path := s.path(id)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.WithError(err).WithField("path", path).Warn("failed to read session state")
		}
		return nil, false
	}

	var file sessionFile
	if err := json.Unmarshal(data, &file); err != nil {
		s.logger.WithError(err).WithField("path", path).Warn("ignoring corrupt session state")
		return nil, false
	}
	return entities.NewSessionState(id, file.Cookies), true
}
