package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/cuemby/courier/pkg/events"
	"github.com/cuemby/courier/pkg/log"
	"github.com/cuemby/courier/pkg/types"
)

// Config holds configuration for a FilesystemSource
type Config struct {
	// Dir holds one address space declaration per YAML file
	Dir string
	// ResyncInterval is how often a full listing is published
	ResyncInterval time.Duration
	// Debounce is how long to wait for further changes to a file
	Debounce time.Duration
}

// FilesystemSource is a Source backed by a directory of YAML files.
//
// Changes are detected with fsnotify and debounced per file. When a file's
// timer fires the file is read again, so the delta always reflects the
// file's latest content rather than the sequence of operations.
type FilesystemSource struct {
	*events.Broker[*types.AddressSpace]

	mu  sync.Mutex
	cfg Config

	// known maps a file path to the space it last declared
	known map[string]*types.AddressSpace

	// pending tracks debounce timers per file path
	pending map[string]*time.Timer

	watcher *fsnotify.Watcher
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	logger zerolog.Logger
}

// NewFilesystemSource creates a new filesystem source
func NewFilesystemSource(cfg Config) *FilesystemSource {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	if cfg.ResyncInterval <= 0 {
		cfg.ResyncInterval = 30 * time.Second
	}

	s := &FilesystemSource{
		Broker:  events.NewBroker[*types.AddressSpace](0),
		cfg:     cfg,
		known:   make(map[string]*types.AddressSpace),
		pending: make(map[string]*time.Timer),
		stopCh:  make(chan struct{}),
		logger:  log.WithComponent("source").With().Str("dir", cfg.Dir).Logger(),
	}
	s.Broker.Start()
	return s
}

// List reads every declaration in the directory. Files that fail to parse
// are logged and skipped. When two files declare the same space the first
// in lexical order wins.
func (s *FilesystemSource) List(ctx context.Context) ([]*types.AddressSpace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	byPath, err := s.scan()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.known = byPath
	s.mu.Unlock()

	return spacesOf(byPath), nil
}

func (s *FilesystemSource) scan() (map[string]*types.AddressSpace, error) {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]*types.AddressSpace{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", s.cfg.Dir, err)
	}

	byPath := make(map[string]*types.AddressSpace)
	seen := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || !isYAMLFile(e.Name()) {
			continue
		}
		path := filepath.Join(s.cfg.Dir, e.Name())
		space, err := LoadSpace(path)
		if err != nil {
			s.logger.Warn().Err(err).Str("file", path).Msg("Skipping invalid declaration")
			continue
		}
		if other, dup := seen[space.Name]; dup {
			s.logger.Warn().Str("file", path).Str("first", other).Str("space", space.Name).Msg("Skipping duplicate declaration")
			continue
		}
		seen[space.Name] = path
		byPath[path] = space
	}
	return byPath, nil
}

func spacesOf(byPath map[string]*types.AddressSpace) []*types.AddressSpace {
	items := make([]*types.AddressSpace, 0, len(byPath))
	for _, sp := range byPath {
		items = append(items, sp.Clone())
	}
	sortSpaces(items)
	return items
}

// Start begins watching the directory. It returns once the watch is set
// up; the source runs until ctx is done or Stop is called.
func (s *FilesystemSource) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}

	if err := os.MkdirAll(s.cfg.Dir, 0755); err != nil {
		s.mu.Unlock()
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if err := watcher.Add(s.cfg.Dir); err != nil {
		watcher.Close()
		s.mu.Unlock()
		return err
	}

	s.watcher = watcher
	s.running = true
	s.mu.Unlock()

	// Seed known files so the first deltas are classified correctly.
	if _, err := s.List(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Initial listing failed")
	}

	s.wg.Add(2)
	go s.processEvents(ctx)
	go s.resyncLoop(ctx)

	s.logger.Info().Msg("Started watching for address space changes")
	return nil
}

func (s *FilesystemSource) processEvents(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			s.cleanupPending()
			return

		case <-s.stopCh:
			s.cleanupPending()
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !isYAMLFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			s.debounce(event.Name)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error().Err(err).Msg("Filesystem watcher error")
		}
	}
}

func (s *FilesystemSource) resyncLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.ResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			items, err := s.List(ctx)
			if err != nil {
				s.logger.Warn().Err(err).Msg("Resync listing failed")
				continue
			}
			s.Publish(events.Listing(items))
		}
	}
}

// debounce restarts the timer for path
func (s *FilesystemSource) debounce(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.pending[path]; ok {
		t.Stop()
	}
	s.pending[path] = time.AfterFunc(s.cfg.Debounce, func() {
		s.mu.Lock()
		delete(s.pending, path)
		s.mu.Unlock()
		s.refresh(path)
	})
}

// refresh compares a file's current content with what it last declared
// and publishes the difference
func (s *FilesystemSource) refresh(path string) {
	space, err := LoadSpace(path)
	missing := errors.Is(err, os.ErrNotExist)
	if err != nil && !missing {
		s.logger.Warn().Err(err).Str("file", path).Msg("Skipping invalid declaration")
		return
	}

	s.mu.Lock()
	prev := s.known[path]
	if missing {
		delete(s.known, path)
	} else {
		s.known[path] = space
	}
	s.mu.Unlock()

	switch {
	case missing && prev != nil:
		s.Publish(events.Delta(events.EventDeleted, prev.Clone()))
	case missing:
	case prev == nil:
		s.Publish(events.Delta(events.EventAdded, space.Clone()))
	default:
		if prev.Name != space.Name {
			// The file now declares a different space.
			s.Publish(events.Delta(events.EventDeleted, prev.Clone()))
			s.Publish(events.Delta(events.EventAdded, space.Clone()))
			return
		}
		s.Publish(events.Delta(events.EventModified, space.Clone()))
	}
}

func (s *FilesystemSource) cleanupPending() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.pending {
		t.Stop()
	}
	s.pending = make(map[string]*time.Timer)
}

// Stop stops watching and closes every subscription
func (s *FilesystemSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.Broker.Stop()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()

	var err error
	if s.watcher != nil {
		err = s.watcher.Close()
	}
	s.Broker.Stop()

	s.logger.Info().Msg("Stopped watching for address space changes")
	return err
}
