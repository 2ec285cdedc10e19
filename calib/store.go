package calib

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/athompson36/ambi-glass-sub000/ambisonic"
	"github.com/athompson36/ambi-glass-sub000/audioerr"
)

// Store persists calibration profiles.
type Store interface {
	Save(p Profile) error
	List() ([]Profile, error)
	// Latest returns the most recent profile for the device configuration
	// and false when none exists.
	Latest(deviceID string, sampleRate, bufferFrames int) (Profile, bool, error)
	LatestAny() (Profile, bool, error)
}

const (
	interfaceFile = "InterfaceProfiles.json"
	micFile       = "MicProfiles.json"
)

// FileStore keeps profiles as JSON arrays inside one directory. A missing
// list reads as empty; a list that cannot be read or parsed is an error and
// is never overwritten.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore returns a store rooted at dir. The directory is created on
// the first save.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir returns the store directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) Save(p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.loadProfiles()
	if err != nil {
		return err
	}
	list = append(list, p)
	return s.write(interfaceFile, list)
}

func (s *FileStore) List() ([]Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadProfiles()
}

func (s *FileStore) Latest(deviceID string, sampleRate, bufferFrames int) (Profile, bool, error) {
	list, err := s.List()
	if err != nil {
		return Profile{}, false, err
	}
	var matches []Profile
	for _, p := range list {
		if p.Matches(deviceID, sampleRate, bufferFrames) {
			matches = append(matches, p)
		}
	}
	p, ok := newest(matches)
	return p, ok, nil
}

func (s *FileStore) LatestAny() (Profile, bool, error) {
	list, err := s.List()
	if err != nil {
		return Profile{}, false, err
	}
	p, ok := newest(list)
	return p, ok, nil
}

// SaveMicProfile stores p, replacing any profile with the same name.
func (s *FileStore) SaveMicProfile(p ambisonic.MicProfile) error {
	if p.Name == "" {
		return fmt.Errorf("%w: mic profile needs a name", audioerr.ErrInvalidConfig)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.loadMics()
	if err != nil {
		return err
	}
	kept := list[:0]
	for _, m := range list {
		if m.Name != p.Name {
			kept = append(kept, m)
		}
	}
	kept = append(kept, p)
	return s.write(micFile, kept)
}

// MicProfiles returns the stored mic profiles in save order.
func (s *FileStore) MicProfiles() ([]ambisonic.MicProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadMics()
}

func (s *FileStore) loadProfiles() ([]Profile, error) {
	var list []Profile
	if err := s.read(interfaceFile, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (s *FileStore) loadMics() ([]ambisonic.MicProfile, error) {
	var list []ambisonic.MicProfile
	if err := s.read(micFile, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// read leaves v untouched when the list does not exist yet.
func (s *FileStore) read(name string, v any) error {
	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return audioerr.IO("read "+path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", audioerr.ErrFormatUnsupported, path, err)
	}
	return nil
}

func (s *FileStore) write(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return audioerr.IO("create "+s.dir, err)
	}
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return audioerr.IO("write "+tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return audioerr.IO("rename "+tmp, errors.Join(err, os.Remove(tmp)))
	}
	return nil
}

func newest(list []Profile) (Profile, bool) {
	if len(list) == 0 {
		return Profile{}, false
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list[0], true
}
