// Package objstore implements the content-addressed blob store: every blob
// is identified by the SHA-256 hash of its raw bytes and kept at most once
// on disk regardless of how many versions reference it.
package objstore

import (
	"bytes"
	"compress/zlib"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Algorithm identifies the one-byte compression header prefixed to every
// object file on disk. The hash recorded for a blob is always computed over
// the uncompressed bytes, never the on-disk representation.
type Algorithm byte

const (
	// AlgoRaw stores the payload uncompressed.
	AlgoRaw Algorithm = 0x00
	// AlgoZlib compresses the payload with compress/zlib.
	AlgoZlib Algorithm = 0x01
	// AlgoLZMA is a reserved header value. No Go lzma writer exists in the
	// wired dependency set, so Put never emits it; Get recognizes the byte
	// so a foreign object is rejected clearly instead of misread.
	AlgoLZMA Algorithm = 0x02
	// AlgoBZ2 is reserved for the same reason as AlgoLZMA.
	AlgoBZ2 Algorithm = 0x03
)

// ErrNotFound is returned by Get and delete-adjacent lookups when no object
// exists for the given hash.
var ErrNotFound = errors.New("objstore: object not found")

// ErrCorrupt is returned when a stored object's computed hash does not match
// its filename — the on-disk bytes disagree with their claimed identity.
var ErrCorrupt = errors.New("objstore: hash mismatch, object is corrupt")

// ErrUnsupportedAlgorithm is returned by Get when an object's compression
// header names an algorithm this build cannot decode.
var ErrUnsupportedAlgorithm = errors.New("objstore: unsupported compression algorithm")

// Hash is a 64-character hex-lowercase SHA-256 digest.
type Hash string

// HashBytes returns the Hash of content.
func HashBytes(content []byte) Hash {
	sum := sha256.Sum256(content)
	return Hash(hex.EncodeToString(sum[:]))
}

// Store is a thread-safe, crash-safe content-addressed blob store rooted at
// a directory (typically "<repo>/.chronolog/objects"). Writers are
// idempotent: Put never rewrites an object that already exists.
type Store struct {
	root string
	algo Algorithm // compression algorithm used for new writes
	log  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithAlgorithm selects the compression algorithm used for new writes.
// Only AlgoRaw and AlgoZlib are accepted; any other value panics, since this
// is a programmer error (configuration, not input) caught at construction.
func WithAlgorithm(a Algorithm) Option {
	return func(s *Store) {
		if a != AlgoRaw && a != AlgoZlib {
			panic(fmt.Sprintf("objstore: unsupported write algorithm %d", a))
		}
		s.algo = a
	}
}

// WithLogger attaches a logger. Defaults to slog.Default() when omitted.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// Open prepares a Store rooted at root, creating the directory layout
// (root, root/tmp) if absent, and sweeping any leftover ".tmp" files from a
// prior crash mid-write.
func Open(root string, opts ...Option) (*Store, error) {
	s := &Store{root: root, algo: AlgoZlib, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}

	if err := os.MkdirAll(filepath.Join(root, "tmp"), 0o755); err != nil {
		return nil, fmt.Errorf("objstore: creating object directory: %w", err)
	}

	if err := s.sweepTemp(); err != nil {
		return nil, fmt.Errorf("objstore: sweeping temp files: %w", err)
	}

	return s, nil
}

func (s *Store) pathFor(h Hash) string {
	hs := string(h)
	return filepath.Join(s.root, hs[:2], hs[2:])
}

// Has reports whether an object with the given hash exists on disk.
func (s *Store) Has(h Hash) bool {
	_, err := os.Stat(s.pathFor(h))
	return err == nil
}

// Put stores content and returns its hash. Put is idempotent: if an object
// with the computed hash already exists, no bytes are written. Writes are
// crash-safe — content is compressed to a temp file inside root/tmp, then
// atomically renamed onto the final fan-out path.
func (s *Store) Put(content []byte) (Hash, error) {
	h := HashBytes(content)
	if s.Has(h) {
		return h, nil
	}

	dir := filepath.Join(s.root, string(h)[:2])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("objstore: creating fan-out directory: %w", err)
	}

	tmpPath, err := s.writeTemp(content)
	if err != nil {
		return "", err
	}

	finalPath := s.pathFor(h)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("objstore: renaming object into place: %w", err)
	}

	return h, nil
}

// writeTemp compresses content per the store's configured algorithm and
// writes it to a fresh file under root/tmp, returning its path.
func (s *Store) writeTemp(content []byte) (string, error) {
	name, err := randomTempName()
	if err != nil {
		return "", err
	}
	tmpPath := filepath.Join(s.root, "tmp", name+".tmp")

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644) //nolint:gosec // G304: path constructed from store root + random name
	if err != nil {
		return "", fmt.Errorf("objstore: creating temp file: %w", err)
	}
	defer f.Close() //nolint:errcheck // best-effort close after explicit Sync/Write errors are already handled

	if _, err := f.Write([]byte{byte(s.algo)}); err != nil {
		return "", fmt.Errorf("objstore: writing header: %w", err)
	}

	switch s.algo {
	case AlgoRaw:
		if _, err := f.Write(content); err != nil {
			return "", fmt.Errorf("objstore: writing raw payload: %w", err)
		}
	case AlgoZlib:
		zw := zlib.NewWriter(f)
		if _, err := zw.Write(content); err != nil {
			return "", fmt.Errorf("objstore: compressing payload: %w", err)
		}
		if err := zw.Close(); err != nil {
			return "", fmt.Errorf("objstore: finalizing compressed payload: %w", err)
		}
	default:
		return "", fmt.Errorf("objstore: %w: %d", ErrUnsupportedAlgorithm, s.algo)
	}

	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("objstore: syncing temp file: %w", err)
	}

	return tmpPath, nil
}

// Get reads and decompresses the object with the given hash, verifying that
// the recomputed hash matches the requested one. A mismatch indicates the
// object on disk is corrupt and is reported as ErrCorrupt rather than
// silently returning wrong bytes.
func (s *Store) Get(h Hash) ([]byte, error) {
	path := s.pathFor(h)
	raw, err := os.ReadFile(path) //nolint:gosec // G304: path derived from store root + validated hash
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, h)
		}
		return nil, fmt.Errorf("objstore: reading object %s: %w", h, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("objstore: %w: %s: empty object file", ErrCorrupt, h)
	}

	algo := Algorithm(raw[0])
	body := raw[1:]

	var content []byte
	switch algo {
	case AlgoRaw:
		content = body
	case AlgoZlib:
		zr, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("objstore: %w: %s: %v", ErrCorrupt, h, err)
		}
		defer zr.Close() //nolint:errcheck // read-only decompression stream
		content, err = io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("objstore: %w: %s: %v", ErrCorrupt, h, err)
		}
	default:
		return nil, fmt.Errorf("objstore: %s: %w: %d", h, ErrUnsupportedAlgorithm, algo)
	}

	if got := HashBytes(content); got != h {
		return nil, fmt.Errorf("objstore: %w: %s", ErrCorrupt, h)
	}

	return content, nil
}

// Delete removes the object with the given hash. Callers must have already
// proven no live Version references it; the object store itself never calls
// Delete during ingest.
func (s *Store) Delete(h Hash) error {
	if err := os.Remove(s.pathFor(h)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("objstore: deleting object %s: %w", h, err)
	}
	return nil
}

// sweepTemp removes every file left in root/tmp, such as a ".tmp" file from
// a crash mid-write. It does not check stored objects against their hashes;
// Quarantine does that.
func (s *Store) sweepTemp() error {
	tmpDir := filepath.Join(s.root, "tmp")
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(tmpDir, e.Name())
		if err := os.Remove(path); err != nil {
			s.log.Warn("failed to sweep temp object", "path", path, "err", err)
		}
	}
	return nil
}

// Quarantine walks every fan-out directory and moves any object whose
// content hash doesn't match its path to "<root>/quarantine/<name>". It is
// intended to run once at startup, after sweepTemp, and is idempotent.
func (s *Store) Quarantine() (int, error) {
	quarantineDir := filepath.Join(s.root, "quarantine")
	moved := 0

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, err
	}
	for _, fanout := range entries {
		if !fanout.IsDir() || len(fanout.Name()) != 2 || fanout.Name() == "tmp" || fanout.Name() == "quarantine" {
			continue
		}
		fanoutDir := filepath.Join(s.root, fanout.Name())
		objs, err := os.ReadDir(fanoutDir)
		if err != nil {
			return moved, err
		}
		for _, obj := range objs {
			if obj.IsDir() {
				continue
			}
			h := Hash(fanout.Name() + obj.Name())
			if _, err := s.Get(h); err != nil && errors.Is(err, ErrCorrupt) {
				if err := os.MkdirAll(quarantineDir, 0o755); err != nil {
					return moved, err
				}
				src := filepath.Join(fanoutDir, obj.Name())
				dst := filepath.Join(quarantineDir, string(h))
				if err := os.Rename(src, dst); err != nil {
					return moved, fmt.Errorf("objstore: quarantining %s: %w", h, err)
				}
				moved++
			}
		}
	}
	return moved, nil
}

// All lists every object hash present in the store, for callers (GC) that
// need to compare stored blobs against live version references.
func (s *Store) All() ([]Hash, error) {
	var out []Hash
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	for _, fanout := range entries {
		if !fanout.IsDir() || len(fanout.Name()) != 2 || fanout.Name() == "tmp" || fanout.Name() == "quarantine" {
			continue
		}
		fanoutDir := filepath.Join(s.root, fanout.Name())
		objs, err := os.ReadDir(fanoutDir)
		if err != nil {
			return nil, err
		}
		for _, obj := range objs {
			if obj.IsDir() {
				continue
			}
			out = append(out, Hash(fanout.Name()+obj.Name()))
		}
	}
	return out, nil
}

func randomTempName() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("objstore: generating temp name: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
