// Package storage remembers where discovered objects published their
// descriptions so later runs can build them without another search.
package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// DefaultTTL bounds how long a remembered location is trusted. Devices
// usually advertise a max-age of half an hour; a day covers DHCP leases.
const DefaultTTL = 24 * time.Hour

// maxFileSize guards against reading a corrupted or foreign file.
const maxFileSize = 1 << 20

type Location struct {
	USN      string    `json:"usn"`
	Location string    `json:"location"`
	Type     string    `json:"type,omitempty"`
	Name     string    `json:"name,omitempty"`
	SeenAt   time.Time `json:"seenAt"`
}

type file struct {
	UpdatedAt time.Time           `json:"updatedAt"`
	Locations map[string]Location `json:"locations"`
}

// Store is a JSON file of locations keyed by USN. It is not safe for use by
// several processes writing at once; the last writer wins.
type Store struct {
	path string
	ttl  time.Duration
	now  func() time.Time
}

func New(path string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{path: path, ttl: ttl, now: time.Now}
}

// DefaultPath honours UPNPCTL_CACHE_DIR, falling back to the user cache dir.
func DefaultPath() (string, error) {
	if override := os.Getenv("UPNPCTL_CACHE_DIR"); override != "" {
		return filepath.Join(override, "locations.json"), nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "upnpctl", "locations.json"), nil
}

func (s *Store) Path() string { return s.path }

// Lookup returns the remembered location for usn if it has not expired.
func (s *Store) Lookup(usn string) (Location, bool) {
	f, err := s.read()
	if err != nil {
		return Location{}, false
	}
	loc, ok := f.Locations[usn]
	if !ok || s.expired(loc) {
		return Location{}, false
	}
	return loc, true
}

// List returns the unexpired locations ordered by USN.
func (s *Store) List() ([]Location, error) {
	f, err := s.read()
	if err != nil {
		return nil, err
	}
	out := make([]Location, 0, len(f.Locations))
	for _, loc := range f.Locations {
		if !s.expired(loc) {
			out = append(out, loc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].USN < out[j].USN })
	return out, nil
}

// Remember merges locs into the file, stamping entries without a SeenAt and
// dropping expired ones.
func (s *Store) Remember(locs ...Location) error {
	if len(locs) == 0 {
		return nil
	}
	f, err := s.read()
	if err != nil {
		return err
	}
	now := s.now()
	for _, loc := range locs {
		if loc.USN == "" || loc.Location == "" {
			return errors.New("storage: location needs a USN and a URL")
		}
		if loc.SeenAt.IsZero() {
			loc.SeenAt = now
		}
		f.Locations[loc.USN] = loc
	}
	for usn, loc := range f.Locations {
		if s.expired(loc) {
			delete(f.Locations, usn)
		}
	}
	f.UpdatedAt = now
	return s.write(f)
}

// Forget removes usn; forgetting an unknown USN is not an error.
func (s *Store) Forget(usn string) error {
	f, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := f.Locations[usn]; !ok {
		return nil
	}
	delete(f.Locations, usn)
	f.UpdatedAt = s.now()
	return s.write(f)
}

func (s *Store) expired(loc Location) bool {
	return s.now().Sub(loc.SeenAt) > s.ttl
}

// read treats a missing or unreadable file as empty; only I/O errors other
// than not-exist are reported.
func (s *Store) read() (file, error) {
	empty := file{Locations: map[string]Location{}}
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return empty, nil
	}
	if err != nil {
		return empty, err
	}
	if len(raw) > maxFileSize {
		return empty, nil
	}
	var f file
	if err := json.Unmarshal(raw, &f); err != nil || f.Locations == nil {
		return empty, nil
	}
	return f, nil
}

func (s *Store) write(f file) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "locations-*.json")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer func() { _ = os.Remove(name) }()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(name, s.path)
}
