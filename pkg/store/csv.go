package store

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/menta2k/wallcrop/internal/utils"
	"github.com/menta2k/wallcrop/pkg/geometry"
)

// Store keeps one Record per wallpaper filename
type Store interface {
	Get(filename string) (Record, bool)
	Put(rec Record)
	Delete(filename string)
	Filenames() []string
	Save() error
}

// fixed leading columns of the CSV file
var baseHeader = []string{"filename", "width", "height", "faces"}

// CSVStore keeps records in memory and persists them to a CSV file with one
// row per wallpaper and one column per resolution name.
type CSVStore struct {
	path string

	mu      sync.RWMutex
	records map[string]Record
}

// NewCSVStore returns an empty store that saves to path
func NewCSVStore(path string) *CSVStore {
	return &CSVStore{path: path, records: map[string]Record{}}
}

// OpenCSVStore loads the CSV file at path. A missing file yields an empty store.
func OpenCSVStore(path string) (*CSVStore, error) {
	s := NewCSVStore(path)

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if err := s.read(f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Path returns the CSV file location
func (s *CSVStore) Path() string { return s.path }

func (s *CSVStore) read(r io.Reader) error {
	rd := csv.NewReader(r)
	rd.FieldsPerRecord = -1

	header, err := rd.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) < len(baseHeader) {
		return fmt.Errorf("invalid header %v", header)
	}
	for i, name := range baseHeader {
		if header[i] != name {
			return fmt.Errorf("invalid header column %d: %q, expected %q", i+1, header[i], name)
		}
	}
	resNames := header[len(baseHeader):]

	for {
		row, err := rd.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read row: %w", err)
		}

		rec, err := parseRow(row, resNames)
		if err != nil {
			line, _ := rd.FieldPos(0)
			return fmt.Errorf("line %d: %w", line, err)
		}
		s.records[rec.Filename] = rec
	}
}

func parseRow(row, resNames []string) (Record, error) {
	if len(row) < len(baseHeader) {
		return Record{}, fmt.Errorf("expected at least %d columns, got %d", len(baseHeader), len(row))
	}

	width, err := strconv.Atoi(row[1])
	if err != nil {
		return Record{}, fmt.Errorf("invalid width %q", row[1])
	}
	height, err := strconv.Atoi(row[2])
	if err != nil {
		return Record{}, fmt.Errorf("invalid height %q", row[2])
	}
	faces, err := decodeFaces(row[3])
	if err != nil {
		return Record{}, err
	}

	rec := Record{
		Filename:   row[0],
		Width:      width,
		Height:     height,
		Faces:      faces,
		Geometries: make(map[string]geometry.Geometry, len(resNames)),
	}

	for i, cell := range row[len(baseHeader):] {
		if cell == "" || i >= len(resNames) {
			continue
		}
		g, err := geometry.ParseGeometry(cell)
		if err != nil {
			return Record{}, fmt.Errorf("%s: %w", resNames[i], err)
		}
		rec.Geometries[resNames[i]] = g
	}

	if _, err := rec.Cropper(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// faces are stored as [[xmin,xmax,ymin,ymax],...]
func encodeFaces(faces []geometry.Face) (string, error) {
	boxes := make([][4]int, len(faces))
	for i, f := range faces {
		boxes[i] = [4]int{f.XMin, f.XMax, f.YMin, f.YMax}
	}
	data, err := json.Marshal(boxes)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeFaces(s string) ([]geometry.Face, error) {
	if s == "" {
		return []geometry.Face{}, nil
	}
	var boxes [][4]int
	if err := json.Unmarshal([]byte(s), &boxes); err != nil {
		return nil, fmt.Errorf("%w: faces %q", geometry.ErrInvalidFace, s)
	}
	faces := make([]geometry.Face, len(boxes))
	for i, b := range boxes {
		faces[i] = geometry.Face{XMin: b[0], XMax: b[1], YMin: b[2], YMax: b[3]}
	}
	return faces, nil
}

// Get returns a copy of the record for filename
func (s *CSVStore) Get(filename string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[filename]
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

// Put inserts or replaces a record
func (s *CSVStore) Put(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Filename] = rec.Clone()
}

// Delete removes a record
func (s *CSVStore) Delete(filename string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, filename)
}

// Len returns the number of records
func (s *CSVStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Filenames returns all record keys in natural order
func (s *CSVStore) Filenames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filenames()
}

func (s *CSVStore) filenames() []string {
	names := make([]string, 0, len(s.records))
	for name := range s.records {
		names = append(names, name)
	}
	utils.SortNatural(names)
	return names
}

// Prune removes records whose file no longer exists and returns how many were dropped
func (s *CSVStore) Prune(exists func(filename string) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := 0
	for name := range s.records {
		if !exists(name) {
			delete(s.records, name)
			dropped++
		}
	}
	return dropped
}

// Save writes all records to the CSV file. The file is replaced atomically.
func (s *CSVStore) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir := filepath.Dir(s.path)
	if err := utils.EnsureDir(dir); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".wallcrop-*.csv")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := s.write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}

func (s *CSVStore) write(w io.Writer) error {
	resNames := s.resolutionNames()

	wr := csv.NewWriter(w)
	if err := wr.Write(append(append([]string{}, baseHeader...), resNames...)); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, name := range s.filenames() {
		rec := s.records[name]
		faces, err := encodeFaces(rec.Faces)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}

		row := []string{rec.Filename, strconv.Itoa(rec.Width), strconv.Itoa(rec.Height), faces}
		for _, res := range resNames {
			cell := ""
			if g, ok := rec.Geometries[res]; ok {
				cell = g.String()
			}
			row = append(row, cell)
		}

		if err := wr.Write(row); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}

	wr.Flush()
	return wr.Error()
}

// resolutionNames returns every resolution name used by any record, sorted
func (s *CSVStore) resolutionNames() []string {
	seen := map[string]bool{}
	for _, rec := range s.records {
		for name := range rec.Geometries {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
