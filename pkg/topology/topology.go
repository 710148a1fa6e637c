package topology

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/qsched/pkg/qerr"
)

var bucketBlobs = []byte("topology_blobs")

// Blob is one hostname's topology record as published by the external
// topology reader this package's Reader interface wraps: an opaque digest
// (the hash the upstream discovery service signs) and the rank that
// digest resolves to in the current cluster layout.
type Blob struct {
	Hostname string `json:"hostname"`
	Digest   string `json:"digest"`
	Rank     int    `json:"rank"`
}

// Reader fetches topology blobs from one backend. Startup tries each
// configured Reader in order and uses the first that succeeds; it never
// combines results from more than one.
type Reader interface {
	// Name identifies the backend for logging (e.g. "rdl-resource", "hwloc").
	Name() string
	Read() ([]Blob, error)
}

// Load tries each reader in order, returning the first successful result.
// It blocks, and must only be called at startup, before the reactor runs.
func Load(readers []Reader) ([]Blob, string, error) {
	var errs []error
	for _, r := range readers {
		blobs, err := r.Read()
		if err == nil {
			return blobs, r.Name(), nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", r.Name(), err))
	}
	return nil, "", qerr.Wrap(qerr.IOFailure, "no topology reader succeeded", joinErrs(errs))
}

func joinErrs(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	msg := errs[0].Error()
	for _, e := range errs[1:] {
		msg += "; " + e.Error()
	}
	return fmt.Errorf("%s", msg)
}

// StaticReader serves a fixed blob set, used for the rdl-resource backend
// (blobs parsed out of the resource-definition document) and by tests.
type StaticReader struct {
	name  string
	blobs []Blob
	err   error
}

// NewStaticReader constructs a StaticReader named name. If err is
// non-nil the reader always fails with it, letting tests and wiring code
// exercise the try-next-backend path.
func NewStaticReader(name string, blobs []Blob, err error) *StaticReader {
	return &StaticReader{name: name, blobs: blobs, err: err}
}

func (r *StaticReader) Name() string { return r.name }

func (r *StaticReader) Read() ([]Blob, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.blobs, nil
}

// CacheReader adapts a Cache into a Reader so a previously stored blob
// set can serve as a fallback backend when the primary readers fail.
type CacheReader struct {
	cache *Cache
}

// NewCacheReader wraps cache as a Reader named "cache".
func NewCacheReader(cache *Cache) *CacheReader {
	return &CacheReader{cache: cache}
}

func (r *CacheReader) Name() string { return "cache" }

func (r *CacheReader) Read() ([]Blob, error) {
	blobs, err := r.cache.Load()
	if err != nil {
		return nil, err
	}
	if len(blobs) == 0 {
		return nil, qerr.New(qerr.NotFound, "topology cache is empty")
	}
	return blobs, nil
}

// Cache persists topology blobs in an embedded bbolt database, keyed by
// hostname, so the lookup table can be rebuilt without a fresh blocking
// read on restart.
type Cache struct {
	db *bolt.DB
}

// OpenCache opens (creating if absent) the bbolt-backed blob cache under
// dataDir.
func OpenCache(dataDir string) (*Cache, error) {
	dbPath := filepath.Join(dataDir, "topology.db")
	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, qerr.Wrap(qerr.IOFailure, "failed to open topology cache", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketBlobs)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, qerr.Wrap(qerr.IOFailure, "failed to initialize topology cache", err)
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Store persists blobs, replacing whatever was previously cached.
func (c *Cache) Store(blobs []Blob) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketBlobs); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		b, err := tx.CreateBucket(bucketBlobs)
		if err != nil {
			return err
		}
		for _, blob := range blobs {
			data, err := json.Marshal(blob)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(blob.Hostname), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load retrieves every cached blob.
func (c *Cache) Load() ([]Blob, error) {
	var out []Blob
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlobs)
		return b.ForEach(func(_, v []byte) error {
			var blob Blob
			if err := json.Unmarshal(v, &blob); err != nil {
				return err
			}
			out = append(out, blob)
			return nil
		})
	})
	if err != nil {
		return nil, qerr.Wrap(qerr.IOFailure, "failed to load topology cache", err)
	}
	return out, nil
}

// LookupTable resolves {hostname, digest} leaves to cluster ranks. In
// normal mode a leaf must match both hostname and digest; in simulator
// mode the lookup is by digest alone.
type LookupTable struct {
	simMode  bool
	byBoth   map[string]int // hostname + "\x00" + digest -> rank
	byDigest map[string]int
}

// BuildLookupTable indexes blobs for resolution. simMode selects
// digest-only lookups.
func BuildLookupTable(blobs []Blob, simMode bool) *LookupTable {
	t := &LookupTable{
		simMode:  simMode,
		byBoth:   make(map[string]int, len(blobs)),
		byDigest: make(map[string]int, len(blobs)),
	}
	for _, b := range blobs {
		t.byBoth[b.Hostname+"\x00"+b.Digest] = b.Rank
		t.byDigest[b.Digest] = b.Rank
	}
	return t
}

// Resolve returns the cluster rank for a {hostname, digest} pair. A
// failed resolution aborts the caller's allocation.
func (t *LookupTable) Resolve(hostname, digest string) (int, error) {
	if t.simMode {
		rank, ok := t.byDigest[digest]
		if !ok {
			return 0, qerr.New(qerr.NotFound, fmt.Sprintf("no rank for digest %q", digest))
		}
		return rank, nil
	}
	rank, ok := t.byBoth[hostname+"\x00"+digest]
	if !ok {
		return 0, qerr.New(qerr.NotFound, fmt.Sprintf("no rank for host %q digest %q", hostname, digest))
	}
	return rank, nil
}
