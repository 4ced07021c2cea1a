package filetier

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Dir keeps many profiles' records in one directory behind a single fsnotify
// watcher. Tiers opened through it dispatch change notices by file name
// instead of each holding a watcher of their own.
type Dir struct {
	path    string
	options []Option

	lock      sync.Mutex
	watcher   *fsnotify.Watcher
	listeners map[string]map[int]func()
	nextID    int
}

// NewDir creates the directory if missing. Call Close to release the watcher.
func NewDir(path string, options ...Option) (*Dir, error) {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("[filetier NewDir] create directory: %w", err)
	}
	return &Dir{
		path:      path,
		options:   options,
		listeners: make(map[string]map[int]func()),
	}, nil
}

// Tier opens the record stored as <name>.json
func (d *Dir) Tier(name string) (*Tier, error) {
	if name == "" || name != filepath.Base(name) {
		return nil, fmt.Errorf("[filetier Dir.Tier] invalid record name %q", name)
	}
	t, err := New(filepath.Join(d.path, name+".json"), d.options...)
	if err != nil {
		return nil, err
	}
	t.dir = d
	return t, nil
}

// Watching is the number of records with at least one listener
func (d *Dir) Watching() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return len(d.listeners)
}

func (d *Dir) Close() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.watcher == nil {
		return nil
	}
	err := d.watcher.Close()
	d.watcher = nil
	return err
}

// subscribe registers notify for file until ctx is done, starting the shared watcher on first use
func (d *Dir) subscribe(ctx context.Context, file string, notify func()) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.watcher == nil {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("[filetier Dir.subscribe] create watcher: %w", err)
		}
		if err := watcher.Add(d.path); err != nil {
			watcher.Close()
			return fmt.Errorf("[filetier Dir.subscribe] watch %s: %w", d.path, err)
		}
		d.watcher = watcher
		go d.run(watcher)
	}

	id := d.nextID
	d.nextID++
	if d.listeners[file] == nil {
		d.listeners[file] = make(map[int]func())
	}
	d.listeners[file][id] = notify

	context.AfterFunc(ctx, func() {
		d.lock.Lock()
		defer d.lock.Unlock()
		delete(d.listeners[file], id)
		if len(d.listeners[file]) == 0 {
			delete(d.listeners, file)
		}
	})
	return nil
}

func (d *Dir) run(watcher *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !isRecordChange(event) {
				continue
			}
			for _, notify := range d.listenersFor(filepath.Base(event.Name)) {
				notify()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Str("dir", d.path).Msg("filetier: watch error")
		}
	}
}

func (d *Dir) listenersFor(file string) []func() {
	d.lock.Lock()
	defer d.lock.Unlock()
	out := make([]func(), 0, len(d.listeners[file]))
	for _, fn := range d.listeners[file] {
		out = append(out, fn)
	}
	return out
}

func isRecordChange(event fsnotify.Event) bool {
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}
