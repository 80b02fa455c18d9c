package checkpoint

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/oklog/ulid/v2"

	"github.com/hupe1980/lexstore/blobstore"
	"github.com/hupe1980/lexstore/internal/hash"
	"github.com/hupe1980/lexstore/internal/resource"
)

// FormatVersion is the manifest version written by Save.
const FormatVersion = 1

const (
	currentName = "CURRENT"
	dataSuffix  = ".bin"
	metaSuffix  = ".json"
)

var (
	// ErrNotFound is returned by Latest when no checkpoint exists.
	ErrNotFound = errors.New("checkpoint: not found")

	// ErrCorrupt is returned when a checkpoint fails verification.
	ErrCorrupt = errors.New("checkpoint: corrupt")
)

// Manifest describes one checkpoint.
type Manifest struct {
	Version   int       `json:"version"`
	ID        string    `json:"id"`
	LSN       uint64    `json:"lsn"`
	CreatedAt time.Time `json:"created_at"`
	// Size and CRC32C cover the stored (compressed) blob.
	Size   int64  `json:"size"`
	CRC32C uint32 `json:"crc32c"`
	// RawSize is the uncompressed size.
	RawSize int64 `json:"raw_size"`
}

type options struct {
	prefix   string
	logger   *slog.Logger
	now      func() time.Time
	resource *resource.Controller
	level    zstd.EncoderLevel
}

// Option configures a Store.
type Option func(*options)

// WithPrefix sets the blob name prefix. Default "ckpt/".
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock sets the clock used for ids and timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRateLimit limits upload throughput to bytesPerSec. Zero disables the
// limit.
func WithRateLimit(bytesPerSec int64) Option {
	return func(o *options) {
		if bytesPerSec > 0 {
			o.resource = resource.NewController(resource.Config{IOLimitBytesPerSec: bytesPerSec})
		} else {
			o.resource = nil
		}
	}
}

// WithCompressionLevel sets the zstd encoder level.
func WithCompressionLevel(level zstd.EncoderLevel) Option {
	return func(o *options) { o.level = level }
}

// Store saves and loads checkpoints.
type Store struct {
	blobs blobstore.BlobStore
	opts  options

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// New returns a checkpoint store on top of blobs.
func New(blobs blobstore.BlobStore, optFns ...Option) *Store {
	o := options{
		prefix: "ckpt/",
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
		level:  zstd.SpeedDefault,
	}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.resource == nil {
		o.resource = resource.NewController(resource.Config{})
	}

	return &Store{
		blobs:   blobs,
		opts:    o,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

func (s *Store) newID(now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(now), s.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (s *Store) name(id, suffix string) string {
	return s.opts.prefix + id + suffix
}

// Save writes the data produced by src as a checkpoint at lsn and makes it
// the latest one. Concurrent saves are serialized.
func (s *Store) Save(ctx context.Context, lsn uint64, src io.WriterTo) (*Manifest, error) {
	rc := s.opts.resource
	if err := rc.AcquireBackground(ctx); err != nil {
		return nil, err
	}
	defer rc.ReleaseBackground()

	start := s.opts.now()
	id, err := s.newID(start)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: new id: %w", err)
	}

	blob, err := s.blobs.Create(ctx, s.name(id, dataSuffix))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: create blob: %w", err)
	}

	cw := &checksumWriter{w: rc.Writer(ctx, blob), crc: hash.NewCRC32C()}
	rawSize, err := s.compress(src, cw)
	if err != nil {
		_ = blob.Abort()
		return nil, fmt.Errorf("checkpoint: write data: %w", err)
	}
	if err := blob.Close(); err != nil {
		return nil, fmt.Errorf("checkpoint: close blob: %w", err)
	}

	m := &Manifest{
		Version:   FormatVersion,
		ID:        id,
		LSN:       lsn,
		CreatedAt: start.UTC(),
		Size:      cw.n,
		CRC32C:    cw.crc.Sum32(),
		RawSize:   rawSize,
	}
	meta, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := s.blobs.Put(ctx, s.name(id, metaSuffix), meta); err != nil {
		return nil, fmt.Errorf("checkpoint: write manifest: %w", err)
	}
	if err := s.blobs.Put(ctx, s.opts.prefix+currentName, []byte(id)); err != nil {
		return nil, fmt.Errorf("checkpoint: write %s: %w", currentName, err)
	}

	s.opts.logger.Info("checkpoint saved",
		"id", id,
		"lsn", lsn,
		"size", m.Size,
		"raw_size", rawSize,
		"elapsed", s.opts.now().Sub(start))
	return m, nil
}

func (s *Store) compress(src io.WriterTo, dst io.Writer) (int64, error) {
	enc, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(s.opts.level))
	if err != nil {
		return 0, err
	}
	n, err := src.WriteTo(enc)
	if err != nil {
		_ = enc.Close()
		return n, err
	}
	return n, enc.Close()
}

// Latest returns the manifest of the latest checkpoint and a reader over
// its decompressed data. The blob is verified against the manifest before
// Latest returns. The caller must close the reader.
func (s *Store) Latest(ctx context.Context) (*Manifest, io.ReadCloser, error) {
	current, err := blobstore.ReadAll(ctx, s.blobs, s.opts.prefix+currentName)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("checkpoint: read %s: %w", currentName, err)
	}
	return s.Open(ctx, strings.TrimSpace(string(current)))
}

// Open returns the checkpoint with the given id, verified.
func (s *Store) Open(ctx context.Context, id string) (*Manifest, io.ReadCloser, error) {
	m, err := s.manifest(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	data, err := blobstore.ReadAll(ctx, s.blobs, s.name(id, dataSuffix))
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: data of %s missing", ErrCorrupt, id)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("checkpoint: read data: %w", err)
	}
	if int64(len(data)) != m.Size {
		return nil, nil, fmt.Errorf("%w: %s has %d bytes, manifest says %d", ErrCorrupt, id, len(data), m.Size)
	}
	if sum := hash.CRC32C(data); sum != m.CRC32C {
		return nil, nil, fmt.Errorf("%w: %s checksum %08x, manifest says %08x", ErrCorrupt, id, sum, m.CRC32C)
	}

	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return m, dec.IOReadCloser(), nil
}

func (s *Store) manifest(ctx context.Context, id string) (*Manifest, error) {
	if _, err := ulid.ParseStrict(id); err != nil {
		return nil, fmt.Errorf("%w: invalid id %q", ErrCorrupt, id)
	}

	raw, err := blobstore.ReadAll(ctx, s.blobs, s.name(id, metaSuffix))
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: manifest of %s missing", ErrCorrupt, id)
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest of %s: %v", ErrCorrupt, id, err)
	}
	if m.Version != FormatVersion {
		return nil, fmt.Errorf("%w: manifest version %d", ErrCorrupt, m.Version)
	}
	if m.ID != id {
		return nil, fmt.Errorf("%w: manifest id %q does not match %q", ErrCorrupt, m.ID, id)
	}
	return &m, nil
}

// List returns the manifests of all complete checkpoints, oldest first.
func (s *Store) List(ctx context.Context) ([]*Manifest, error) {
	ids, _, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*Manifest, 0, len(ids))
	for _, id := range ids {
		m, err := s.manifest(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// scan returns the ids with a manifest and the ids that only have data,
// both sorted oldest first.
func (s *Store) scan(ctx context.Context) (complete, orphans []string, err error) {
	names, err := s.blobs.List(ctx, s.opts.prefix)
	if err != nil {
		return nil, nil, fmt.Errorf("checkpoint: list: %w", err)
	}

	data := make(map[string]bool)
	meta := make(map[string]bool)
	for _, name := range names {
		base := strings.TrimPrefix(name, s.opts.prefix)
		switch {
		case strings.HasSuffix(base, dataSuffix):
			data[strings.TrimSuffix(base, dataSuffix)] = true
		case strings.HasSuffix(base, metaSuffix):
			meta[strings.TrimSuffix(base, metaSuffix)] = true
		}
	}

	for id := range meta {
		complete = append(complete, id)
	}
	for id := range data {
		if !meta[id] {
			orphans = append(orphans, id)
		}
	}
	// ULIDs sort by creation time.
	slices.Sort(complete)
	slices.Sort(orphans)
	return complete, orphans, nil
}

// Prune keeps the newest keep checkpoints (at least one) and deletes the
// rest, together with data blobs older than the latest checkpoint that
// never got a manifest. It returns the number of deleted checkpoints.
func (s *Store) Prune(ctx context.Context, keep int) (int, error) {
	keep = max(keep, 1)

	rc := s.opts.resource
	if err := rc.AcquireBackground(ctx); err != nil {
		return 0, err
	}
	defer rc.ReleaseBackground()

	complete, orphans, err := s.scan(ctx)
	if err != nil {
		return 0, err
	}
	if len(complete) == 0 {
		return 0, nil
	}

	current, err := blobstore.ReadAll(ctx, s.blobs, s.opts.prefix+currentName)
	if err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		return 0, fmt.Errorf("checkpoint: read %s: %w", currentName, err)
	}
	currentID := strings.TrimSpace(string(current))

	deleted := 0
	if len(complete) > keep {
		for _, id := range complete[:len(complete)-keep] {
			if id == currentID {
				continue
			}
			// Manifest first, so a partial delete leaves an orphan rather
			// than a manifest without data.
			if err := s.blobs.Delete(ctx, s.name(id, metaSuffix)); err != nil {
				return deleted, fmt.Errorf("checkpoint: delete %s: %w", id, err)
			}
			if err := s.blobs.Delete(ctx, s.name(id, dataSuffix)); err != nil {
				return deleted, fmt.Errorf("checkpoint: delete %s: %w", id, err)
			}
			deleted++
		}
	}

	newest := complete[len(complete)-1]
	for _, id := range orphans {
		if id >= newest {
			continue // possibly a save in progress
		}
		if err := s.blobs.Delete(ctx, s.name(id, dataSuffix)); err != nil {
			return deleted, fmt.Errorf("checkpoint: delete orphan %s: %w", id, err)
		}
	}

	if deleted > 0 {
		s.opts.logger.Info("checkpoints pruned", "deleted", deleted, "kept", len(complete)-deleted)
	}
	return deleted, nil
}

type checksumWriter struct {
	w   io.Writer
	crc interface {
		io.Writer
		Sum32() uint32
	}
	n int64
}

func (c *checksumWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	_, _ = c.crc.Write(p[:n])
	return n, err
}
