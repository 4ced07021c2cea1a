// Package filetier is the durable session tier: the whole record is one JSON
// file, replaced atomically on every write and optionally sealed with
// NaCl secretbox.
package filetier

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

var _ sessions.Tier = (*Tier)(nil)

type Tier struct {
	path string
	key  *[32]byte
	dir  *Dir // shared watcher when opened through a Dir
	lock sync.Mutex
}

// Option configures a file tier
type Option func(*Tier)

// WithKey seals the file with secretbox under key
func WithKey(key *[32]byte) Option {
	return func(t *Tier) {
		t.key = key
	}
}

// ParseKey decodes a 64 character hex string into a secretbox key
func ParseKey(hexKey string) (*[32]byte, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("[filetier ParseKey] decode: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("[filetier ParseKey] key must be 32 bytes, got %d", len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

// New creates a durable tier persisted at path. The parent directory is created if missing.
func New(path string, options ...Option) (*Tier, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("[filetier New] create directory: %w", err)
	}
	t := &Tier{path: path}
	for _, opt := range options {
		opt(t)
	}
	return t, nil
}

func (t *Tier) Name() sessions.TierName {
	return sessions.DurableTier
}

// Path returns the backing file
func (t *Tier) Path() string {
	return t.path
}

func (t *Tier) Read(_ context.Context) (map[string]string, error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	data, err := os.ReadFile(t.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("[filetier Read] %w", err)
	}

	if t.key != nil {
		if data, err = t.open(data); err != nil {
			return nil, err
		}
	}

	values := map[string]string{}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("[filetier Read] decode: %w", err)
	}
	return values, nil
}

// Write replaces the file through a rename so readers never see a partial record
func (t *Tier) Write(_ context.Context, values map[string]string) error {
	record := make(map[string]string, len(values))
	for _, k := range sessions.Keys {
		if v, ok := values[k]; ok && v != "" {
			record[k] = v
		}
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("[filetier Write] encode: %w", err)
	}
	if t.key != nil {
		if data, err = t.seal(data); err != nil {
			return err
		}
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(t.path), "."+filepath.Base(t.path)+".*")
	if err != nil {
		return fmt.Errorf("[filetier Write] create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("[filetier Write] write temp: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("[filetier Write] chmod temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("[filetier Write] close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), t.path); err != nil {
		return fmt.Errorf("[filetier Write] rename: %w", err)
	}
	return nil
}

// Clear removes the file in one unlink
func (t *Tier) Clear(_ context.Context) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if err := os.Remove(t.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("[filetier Clear] %w", err)
	}
	return nil
}

// Watch watches the parent directory, since every write replaces the file's inode
func (t *Tier) Watch(ctx context.Context, notify func()) error {
	if t.dir != nil {
		return t.dir.subscribe(ctx, filepath.Base(t.path), notify)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("[filetier Watch] create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(t.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("[filetier Watch] watch %s: %w", filepath.Dir(t.path), err)
	}

	name := filepath.Base(t.path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != name {
					continue
				}
				if isRecordChange(event) {
					notify()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Str("path", t.path).Msg("filetier: watch error")
			}
		}
	}()
	return nil
}

func (t *Tier) seal(plain []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("[filetier seal] nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, t.key), nil
}

func (t *Tier) open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("[filetier open] sealed record too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, t.key)
	if !ok {
		return nil, fmt.Errorf("[filetier open] record does not authenticate under the configured key")
	}
	return plain, nil
}
