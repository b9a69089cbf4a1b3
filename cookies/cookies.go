package cookies

import (
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mjytdlp/mjytdlp/utils"
)

const (
	DefaultFileName = "cookies.txt"
	NamedDir        = "cookies"

	// MaxFileSize bounds uploads; cookie jars are small text files.
	MaxFileSize = 4 << 20
)

var (
	ErrCookiesNotFound = errors.New("cookies file not found")
	ErrInvalidName     = errors.New("invalid cookies profile name")
	ErrEmptyFile       = errors.New("cookies file is empty")
	ErrFileTooLarge    = errors.New("cookies file is too large")
)

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

type Status struct {
	Name    string     `json:"name,omitempty"`
	Path    string     `json:"path"`
	Exists  bool       `json:"exists"`
	Size    int64      `json:"size,omitempty"`
	ModTime *time.Time `json:"mtime,omitempty"`
}

// Store manages Netscape cookie files under the data directory: one default
// jar and any number of named profiles.
type Store struct {
	dataDir string
}

func NewStore(dataDir string) *Store {
	return &Store{dataDir: dataDir}
}

func (s *Store) DefaultPath() string {
	return filepath.Join(s.dataDir, DefaultFileName)
}

// NamedPath maps a profile name onto its file. Everything but letters,
// digits, '_' and '-' is stripped; an empty result means no profile.
func (s *Store) NamedPath(name string) string {
	safe := strings.TrimSpace(unsafeName.ReplaceAllString(name, ""))
	if safe == "" {
		return ""
	}
	return filepath.Join(s.dataDir, NamedDir, safe+".txt")
}

// Resolve picks the cookie file for an extraction: an explicit path wins,
// then an existing named profile, then an existing default jar. An empty
// result means no cookies.
func (s *Store) Resolve(explicitPath, name string) string {
	if p := strings.TrimSpace(explicitPath); p != "" {
		return p
	}
	if name = strings.TrimSpace(name); name != "" {
		if p := s.NamedPath(name); p != "" && isFile(p) {
			return p
		}
	}
	if p := s.DefaultPath(); isFile(p) {
		return p
	}
	return ""
}

func (s *Store) pathFor(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return s.DefaultPath(), nil
	}
	p := s.NamedPath(name)
	if p == "" {
		return "", ErrInvalidName
	}
	return p, nil
}

func (s *Store) Status(name string) (*Status, error) {
	p, err := s.pathFor(name)
	if err != nil {
		return nil, err
	}
	status := &Status{Name: strings.TrimSpace(name), Path: p}
	info, err := os.Stat(p)
	if err == nil && info.Mode().IsRegular() {
		mtime := info.ModTime()
		status.Exists = true
		status.Size = info.Size()
		status.ModTime = &mtime
	}
	return status, nil
}

// Write replaces the default jar (empty name) or a named profile.
func (s *Store) Write(name string, r io.Reader) (*Status, error) {
	p, err := s.pathFor(name)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read cookies upload")
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if len(data) > MaxFileSize {
		return nil, ErrFileTooLarge
	}

	if err := utils.WriteFileAtomic(p, data, 0o600); err != nil {
		return nil, errors.Wrap(err, "failed to store cookies")
	}
	log.WithField("name", name).Info("Cookies file updated")
	return s.Status(name)
}

func (s *Store) Delete(name string) error {
	p, err := s.pathFor(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return ErrCookiesNotFound
		}
		return errors.Wrap(err, "failed to delete cookies")
	}
	log.WithField("name", name).Info("Cookies file deleted")
	return nil
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
