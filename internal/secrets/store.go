// Package secrets provides an encrypted at-rest key/value store with a TTL
// cache and rotation support. Values are encrypted with AES-256-CBC under a
// key derived from a passphrase, one JSON record per secret, owner-only
// permissions on both files and the containing directory.
package secrets

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ayefimenko/sharklearning-sub002/internal/observability"
)

// Sentinel errors returned by the store.
var (
	// ErrSecretNotFound is returned by Rotate when the key has no record.
	// Get reports absence as a boolean instead.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrDecryptionFailure indicates a corrupted record or mismatched key
	// material. It is never silently ignored.
	ErrDecryptionFailure = errors.New("decryption failure")

	// ErrInvalidKey is returned for empty keys or keys that would escape
	// the store directory.
	ErrInvalidKey = errors.New("invalid secret key")
)

const recordExt = ".json"

// Metadata travels encrypted alongside every secret value.
type Metadata struct {
	CreatedAt        time.Time     `json:"createdAt"`
	TTL              time.Duration `json:"ttl"`
	RotationRequired bool          `json:"rotationRequired"`
	LastRotatedAt    time.Time     `json:"lastRotatedAt,omitempty"`
	Version          int           `json:"version"`
}

// payload is the plaintext serialized before encryption.
type payload struct {
	Value    string   `json:"value"`
	Metadata Metadata `json:"metadata"`
}

// record is the on-disk shape of a persisted secret.
type record struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	Algorithm  string `json:"algorithm"`
}

// Config contains secrets store configuration.
type Config struct {
	// Dir is the directory holding encrypted records. Created with
	// owner-only permissions if missing.
	Dir string

	// Passphrase is the key-derivation input. Required.
	Passphrase string

	// CacheTTL bounds how long values without their own TTL stay cached.
	// Default is 5m.
	CacheTTL time.Duration

	// CacheMaxSize bounds the cache entry count. Default is 1000.
	CacheMaxSize int

	// SweepInterval is how often expired cache entries are evicted.
	// Default is 1m.
	SweepInterval time.Duration

	// BackupRetention is the TTL applied to rotation backups. Default is 24h.
	BackupRetention time.Duration

	// Watch enables invalidating cache entries when record files change
	// on disk.
	Watch bool

	// Clock is the time source, defaulting to time.Now.
	Clock func() time.Time
}

// Validate normalizes missing values to defaults.
func (c *Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("secrets dir is required")
	}
	if c.Passphrase == "" {
		return fmt.Errorf("secrets passphrase is required")
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.CacheMaxSize <= 0 {
		c.CacheMaxSize = 1000
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.BackupRetention <= 0 {
		c.BackupRetention = 24 * time.Hour
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return nil
}

// StoreOption configures a single Store call.
type StoreOption func(*Metadata)

// WithTTL sets the stored value's time-to-live. Zero means no expiry.
func WithTTL(ttl time.Duration) StoreOption {
	return func(m *Metadata) {
		m.TTL = ttl
	}
}

// WithRotationRequired flags the secret as due for rotation.
func WithRotationRequired() StoreOption {
	return func(m *Metadata) {
		m.RotationRequired = true
	}
}

// GetOption configures a single Get call.
type GetOption func(*getOptions)

type getOptions struct {
	ignoreExpiry bool
}

// IgnoreExpiry makes Get return a value even past its TTL.
func IgnoreExpiry() GetOption {
	return func(o *getOptions) {
		o.ignoreExpiry = true
	}
}

// Store is an encrypted secrets store. Construct one at startup and share
// it; Start launches the cache sweeper and Close releases resources.
type Store struct {
	config *Config
	key    []byte
	cache  *valueCache
	logger observability.Logger

	fileMu sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
	started  bool
	startMu  sync.Mutex
}

// New creates a store rooted at config.Dir, deriving the encryption key
// from the passphrase and a persisted per-store salt.
func New(config *Config, logger observability.Logger) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("secrets config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	if err := os.MkdirAll(config.Dir, secretDirPerm); err != nil {
		return nil, fmt.Errorf("failed to create secrets dir: %w", err)
	}

	key, err := deriveKey(config.Dir, config.Passphrase)
	if err != nil {
		return nil, err
	}

	s := &Store{
		config: config,
		key:    key,
		cache:  newValueCache(config.CacheMaxSize, config.Clock, logger),
		logger: logger,
		stopCh: make(chan struct{}),
	}

	logger.Info("secrets store initialized",
		observability.String("dir", config.Dir),
		observability.Duration("cache_ttl", config.CacheTTL),
	)
	return s, nil
}

// Start launches the periodic cache sweep and, when configured, the file
// watcher. Calling Start twice is a no-op.
func (s *Store) Start(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.started {
		return nil
	}
	s.started = true

	go s.sweepLoop(ctx)

	if s.config.Watch {
		if err := s.watch(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close stops background work. Safe to call multiple times.
func (s *Store) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	return nil
}

func (s *Store) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.cache.sweep()
		}
	}
}

// Store encrypts and persists value under key and populates the cache.
func (s *Store) Store(ctx context.Context, key, value string, opts ...StoreOption) error {
	start := time.Now()

	if err := validateKey(key); err != nil {
		RecordOperation("store", time.Since(start), err)
		return err
	}

	meta := Metadata{
		CreatedAt: s.config.Clock(),
		Version:   1,
	}
	for _, opt := range opts {
		opt(&meta)
	}

	if err := s.write(key, value, meta); err != nil {
		RecordOperation("store", time.Since(start), err)
		return err
	}

	s.cache.set(key, value, s.cacheExpiry(meta))
	RecordOperation("store", time.Since(start), nil)

	s.logger.Debug("stored secret",
		observability.String("key", key),
		observability.Duration("ttl", meta.TTL),
	)
	return nil
}

// Get returns the value for key. Absence, including TTL expiry, is
// reported as found == false, not as an error. Decryption problems are
// errors.
func (s *Store) Get(ctx context.Context, key string, opts ...GetOption) (value string, found bool, err error) {
	start := time.Now()

	if err := validateKey(key); err != nil {
		RecordOperation("get", time.Since(start), err)
		return "", false, err
	}

	var options getOptions
	for _, opt := range opts {
		opt(&options)
	}

	if !options.ignoreExpiry {
		if cached, ok := s.cache.get(key); ok {
			RecordOperation("get", time.Since(start), nil)
			return cached, true, nil
		}
	}

	p, exists, err := s.read(key)
	if err != nil {
		RecordOperation("get", time.Since(start), err)
		return "", false, err
	}
	if !exists {
		RecordOperation("get", time.Since(start), nil)
		return "", false, nil
	}

	if s.expired(p.Metadata) && !options.ignoreExpiry {
		s.logger.Debug("secret expired",
			observability.String("key", key),
			observability.Time("created_at", p.Metadata.CreatedAt),
		)
		RecordOperation("get", time.Since(start), nil)
		return "", false, nil
	}

	s.cache.set(key, p.Value, s.cacheExpiry(p.Metadata))
	RecordOperation("get", time.Since(start), nil)
	return p.Value, true, nil
}

// Rotate replaces the value under key, keeping the previous value under a
// timestamped backup key with bounded retention. Fails with
// ErrSecretNotFound when no record exists.
func (s *Store) Rotate(ctx context.Context, key, newValue string) error {
	start := time.Now()

	if err := validateKey(key); err != nil {
		RecordOperation("rotate", time.Since(start), err)
		return err
	}

	current, exists, err := s.read(key)
	if err != nil {
		RecordOperation("rotate", time.Since(start), err)
		return err
	}
	if !exists {
		err := fmt.Errorf("%w: %s", ErrSecretNotFound, key)
		RecordOperation("rotate", time.Since(start), err)
		return err
	}

	now := s.config.Clock()

	backupKey := fmt.Sprintf("%s.backup.%d", key, now.UnixNano())
	backupMeta := current.Metadata
	backupMeta.CreatedAt = now
	backupMeta.TTL = s.config.BackupRetention
	if err := s.write(backupKey, current.Value, backupMeta); err != nil {
		RecordOperation("rotate", time.Since(start), err)
		return fmt.Errorf("failed to write rotation backup: %w", err)
	}

	meta := Metadata{
		CreatedAt:     now,
		TTL:           current.Metadata.TTL,
		LastRotatedAt: now,
		Version:       current.Metadata.Version + 1,
	}
	if err := s.write(key, newValue, meta); err != nil {
		RecordOperation("rotate", time.Since(start), err)
		return err
	}

	s.cache.set(key, newValue, s.cacheExpiry(meta))
	RecordRotation()
	RecordOperation("rotate", time.Since(start), nil)

	s.logger.Info("rotated secret",
		observability.String("key", key),
		observability.Int("version", meta.Version),
		observability.String("backup_key", backupKey),
	)
	return nil
}

// Delete removes the record and cache entry for key. Deleting an absent
// key is a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	start := time.Now()

	if err := validateKey(key); err != nil {
		RecordOperation("delete", time.Since(start), err)
		return err
	}

	s.fileMu.Lock()
	err := os.Remove(s.recordPath(key))
	s.fileMu.Unlock()

	if err != nil && !os.IsNotExist(err) {
		RecordOperation("delete", time.Since(start), err)
		return fmt.Errorf("failed to delete secret: %w", err)
	}

	s.cache.remove(key)
	RecordOperation("delete", time.Since(start), nil)

	s.logger.Debug("deleted secret",
		observability.String("key", key),
	)
	return nil
}

// Keys lists the keys of all persisted secrets, backups included.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.config.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list secrets: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, recordExt) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, recordExt))
	}
	return keys, nil
}

// CacheSize returns the number of cached values.
func (s *Store) CacheSize() int {
	return s.cache.size()
}

func (s *Store) recordPath(key string) string {
	return filepath.Join(s.config.Dir, key+recordExt)
}

// write encrypts and persists one record.
func (s *Store) write(key, value string, meta Metadata) error {
	plaintext, err := json.Marshal(payload{Value: value, Metadata: meta})
	if err != nil {
		return fmt.Errorf("failed to serialize secret payload: %w", err)
	}

	ciphertext, iv, err := encrypt(s.key, plaintext)
	if err != nil {
		return err
	}

	data, err := json.Marshal(record{
		Ciphertext: hex.EncodeToString(ciphertext),
		IV:         hex.EncodeToString(iv),
		Algorithm:  Algorithm,
	})
	if err != nil {
		return fmt.Errorf("failed to serialize secret record: %w", err)
	}

	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	if err := os.WriteFile(s.recordPath(key), data, secretFilePerm); err != nil {
		return fmt.Errorf("failed to persist secret: %w", err)
	}
	return nil
}

// read loads and decrypts one record. Absence is not an error.
func (s *Store) read(key string) (*payload, bool, error) {
	s.fileMu.Lock()
	data, err := os.ReadFile(s.recordPath(key))
	s.fileMu.Unlock()

	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read secret: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("%w: malformed record for %s", ErrDecryptionFailure, key)
	}

	ciphertext, err := hex.DecodeString(rec.Ciphertext)
	if err != nil {
		return nil, false, fmt.Errorf("%w: malformed ciphertext for %s", ErrDecryptionFailure, key)
	}
	iv, err := hex.DecodeString(rec.IV)
	if err != nil {
		return nil, false, fmt.Errorf("%w: malformed iv for %s", ErrDecryptionFailure, key)
	}

	plaintext, err := decrypt(s.key, ciphertext, iv)
	if err != nil {
		return nil, false, err
	}

	var p payload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return nil, false, fmt.Errorf("%w: malformed payload for %s", ErrDecryptionFailure, key)
	}
	return &p, true, nil
}

// expired reports whether the record's own TTL window has elapsed.
func (s *Store) expired(meta Metadata) bool {
	if meta.TTL <= 0 {
		return false
	}
	return s.config.Clock().After(meta.CreatedAt.Add(meta.TTL))
}

// cacheExpiry derives the cache entry expiry from record metadata: the
// record's own expiry when it has a TTL, the cache default otherwise.
func (s *Store) cacheExpiry(meta Metadata) time.Time {
	if meta.TTL > 0 {
		return meta.CreatedAt.Add(meta.TTL)
	}
	return s.config.Clock().Add(s.config.CacheTTL)
}

func validateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}
	return nil
}
