package geocache

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/madscience/crmkit/internal/geo"
)

var fileHeader = []string{"address", "lat", "lon"}

// FileStore keeps the cache in memory and persists it as an
// "address,lat,lon" CSV file. Empty coordinate cells record failures.
type FileStore struct {
	path string

	mu      sync.Mutex
	entries map[string]Entry
	order   []string
	dirty   bool
}

// OpenFile loads path when it exists; a missing file yields an empty store.
func OpenFile(path string) (*FileStore, error) {
	s := &FileStore{path: path, entries: make(map[string]Entry)}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open geocode cache: %w", err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read geocode cache %s: %w", path, err)
	}

	cols := map[string]int{}
	if len(records) > 0 {
		for i, h := range records[0] {
			cols[strings.ToLower(strings.TrimSpace(h))] = i
		}
	}
	ai, ok := cols["address"]
	if !ok {
		if len(records) == 0 {
			return s, nil
		}
		return nil, fmt.Errorf("geocode cache %s: missing address column", path)
	}

	for _, rec := range records[1:] {
		addr := cell(rec, ai)
		if addr == "" {
			continue
		}
		e := Entry{Address: addr}
		if p, ok := geo.ParsePoint(cellAt(rec, cols, "lat"), cellAt(rec, cols, "lon")); ok {
			e = Hit(addr, p)
		}
		s.set(e)
	}
	s.dirty = false
	return s, nil
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

// Len returns the number of cached addresses.
func (s *FileStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Get implements Store.
func (s *FileStore) Get(_ context.Context, addr string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[addr]
	return e, ok, nil
}

// Put implements Store.
func (s *FileStore) Put(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(e)
	return nil
}

func (s *FileStore) set(e Entry) {
	if _, ok := s.entries[e.Address]; !ok {
		s.order = append(s.order, e.Address)
	}
	s.entries[e.Address] = e
	s.dirty = true
}

// Entries returns a snapshot in insertion order.
func (s *FileStore) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.order))
	for _, a := range s.order {
		out = append(out, s.entries[a])
	}
	return out
}

// Flush writes the cache to disk through a temp file and rename. An empty or
// unchanged cache leaves the file untouched.
func (s *FileStore) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) == 0 || !s.dirty {
		return nil
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".geocode-cache-*.csv")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	_ = w.Write(fileHeader)
	for _, a := range s.order {
		e := s.entries[a]
		lat, lon := "", ""
		if e.Found() {
			lat = strconv.FormatFloat(*e.Lat, 'f', -1, 64)
			lon = strconv.FormatFloat(*e.Lon, 'f', -1, 64)
		}
		_ = w.Write([]string{a, lat, lon})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("write geocode cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close geocode cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace geocode cache: %w", err)
	}
	s.dirty = false
	return nil
}

func cell(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func cellAt(rec []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok {
		return ""
	}
	return cell(rec, i)
}
