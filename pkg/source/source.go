package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/courier/pkg/events"
	"github.com/cuemby/courier/pkg/types"
)

// Source is a desired-state change feed of address spaces
type Source interface {
	events.Feed[*types.AddressSpace]
}

// ParseSpace decodes and validates one address space declaration
func ParseSpace(data []byte) (*types.AddressSpace, error) {
	var space types.AddressSpace
	if err := yaml.Unmarshal(data, &space); err != nil {
		return nil, fmt.Errorf("failed to parse address space: %w", err)
	}
	if err := space.Validate(); err != nil {
		return nil, err
	}
	return &space, nil
}

// LoadSpace reads one declaration file
func LoadSpace(path string) (*types.AddressSpace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	space, err := ParseSpace(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return space, nil
}

// SpaceFile is the file a space is written to inside a watched directory
func SpaceFile(dir, name string) string {
	return filepath.Join(dir, name+".yaml")
}

// WriteSpace writes a declaration into dir. The file is written under a
// temporary name and renamed, so watchers never see a partial file.
func WriteSpace(dir string, space *types.AddressSpace) (string, error) {
	if err := space.Validate(); err != nil {
		return "", err
	}
	data, err := yaml.Marshal(space)
	if err != nil {
		return "", fmt.Errorf("failed to encode address space: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(dir, "."+space.Name+"-*.tmp")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	path := SpaceFile(dir, space.Name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	return path, nil
}

// isYAMLFile checks if a file path is a YAML file
func isYAMLFile(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// StaticSource is an in-memory Source. Set and Remove publish deltas;
// Resync publishes a full listing.
type StaticSource struct {
	*events.Broker[*types.AddressSpace]

	mu      sync.Mutex
	spaces  map[string]*types.AddressSpace
	listErr error
}

// NewStaticSource creates a started StaticSource holding spaces
func NewStaticSource(spaces ...*types.AddressSpace) *StaticSource {
	s := &StaticSource{
		Broker: events.NewBroker[*types.AddressSpace](0),
		spaces: make(map[string]*types.AddressSpace),
	}
	for _, sp := range spaces {
		s.spaces[sp.Name] = sp.Clone()
	}
	s.Start()
	return s
}

// Set adds or replaces a space
func (s *StaticSource) Set(space *types.AddressSpace) {
	s.mu.Lock()
	_, exists := s.spaces[space.Name]
	s.spaces[space.Name] = space.Clone()
	s.mu.Unlock()

	typ := events.EventAdded
	if exists {
		typ = events.EventModified
	}
	s.Publish(events.Delta(typ, space.Clone()))
}

// Remove deletes a space
func (s *StaticSource) Remove(name string) {
	s.mu.Lock()
	space, ok := s.spaces[name]
	delete(s.spaces, name)
	s.mu.Unlock()

	if ok {
		s.Publish(events.Delta(events.EventDeleted, space))
	}
}

// SetQuiet changes the desired state without publishing a delta. The
// change only becomes visible through a listing.
func (s *StaticSource) SetQuiet(spaces ...*types.AddressSpace) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spaces = make(map[string]*types.AddressSpace, len(spaces))
	for _, sp := range spaces {
		s.spaces[sp.Name] = sp.Clone()
	}
}

// FailLists makes List return err until called again with nil
func (s *StaticSource) FailLists(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr = err
}

// Resync publishes the current state as a listing
func (s *StaticSource) Resync() {
	items, _ := s.List(context.Background())
	s.Publish(events.Listing(items))
}

// List returns every space ordered by name
func (s *StaticSource) List(ctx context.Context) ([]*types.AddressSpace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	items := make([]*types.AddressSpace, 0, len(s.spaces))
	for _, sp := range s.spaces {
		items = append(items, sp.Clone())
	}
	sortSpaces(items)
	return items, nil
}

func sortSpaces(items []*types.AddressSpace) {
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
}
