package model

import (
	"cmp"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tphakala/pitchnet-go/internal/errors"
	"github.com/tphakala/pitchnet-go/internal/logger"
)

// DefaultDiscoveryTTL is how long a directory listing is reused.
const DefaultDiscoveryTTL = 30 * time.Second

// Catalog discovers model artifacts in directories and caches the listing.
type Catalog struct {
	cache *cache.Cache
}

// NewCatalog returns a catalog whose listings expire after ttl. Expired
// entries are replaced on access; there is no background janitor.
func NewCatalog(ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = DefaultDiscoveryTTL
	}
	return &Catalog{cache: cache.New(ttl, 0)}
}

// Invalidate drops the cached listing for dir.
func (c *Catalog) Invalidate(dir string) {
	c.cache.Delete(filepath.Clean(dir))
}

// Discover lists model files in dir that have a registered backend.
func (c *Catalog) Discover(dir string) ([]Metadata, error) {
	key := filepath.Clean(dir)
	if cached, ok := c.cache.Get(key); ok {
		if list, ok := cached.([]Metadata); ok {
			return slices.Clone(list), nil
		}
	}

	list, err := scanDir(dir)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, list)
	return slices.Clone(list), nil
}

func scanDir(dir string) ([]Metadata, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.New(err).
			Component("model").
			Category(errors.CategoryFileIO).
			Context("operation", "discover_models").
			Build()
	}

	log := GetLogger()
	var found []Metadata
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if _, ok := lookupBackend(path); !ok {
			continue
		}
		meta, err := ParseMetadata(path)
		if err != nil {
			log.Debug("skipping model file", logger.String("file", entry.Name()), logger.Error(err))
			continue
		}
		found = append(found, meta)
	}

	slices.SortFunc(found, compareCandidates)
	return found, nil
}

func compareCandidates(a, b Metadata) int {
	return cmp.Or(
		cmp.Compare(a.ChunkSize, b.ChunkSize),
		cmp.Compare(a.Path, b.Path),
	)
}

// SelectBest picks the model to use for a stream at sampleRate.
//
// Candidates declaring a different sample rate are ignored; candidates with
// an unknown rate are only used when no exact-rate candidate qualifies. With
// chunkSize > 0 only an exact chunk size match is accepted. Otherwise the
// smallest chunk size >= DefaultChunkSize wins, falling back to the smallest
// available. Ties are broken by path.
func SelectBest(candidates []Metadata, sampleRate, chunkSize int) (Metadata, error) {
	var exact, unknown []Metadata
	for _, c := range candidates {
		switch c.SampleRate {
		case sampleRate:
			exact = append(exact, c)
		case 0:
			unknown = append(unknown, c)
		}
	}

	for _, pool := range [][]Metadata{exact, unknown} {
		if m, ok := pickChunk(pool, chunkSize); ok {
			return m, nil
		}
	}

	return Metadata{}, errors.New(ErrNoCandidate).
		Component("model").
		Category(errors.CategoryNotFound).
		Context("sample_rate", sampleRate).
		Context("chunk_size", chunkSize).
		Context("candidates", len(candidates)).
		Build()
}

func pickChunk(pool []Metadata, chunkSize int) (Metadata, bool) {
	if len(pool) == 0 {
		return Metadata{}, false
	}
	pool = slices.Clone(pool)
	slices.SortFunc(pool, compareCandidates)

	if chunkSize > 0 {
		i := slices.IndexFunc(pool, func(m Metadata) bool { return m.ChunkSize == chunkSize })
		if i < 0 {
			return Metadata{}, false
		}
		return pool[i], true
	}

	if i := slices.IndexFunc(pool, func(m Metadata) bool { return m.ChunkSize >= DefaultChunkSize }); i >= 0 {
		return pool[i], true
	}
	return pool[0], true
}
