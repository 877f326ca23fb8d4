package raffle

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"sync"
)

// CryptoEntropySource reads 32-bit values from the host CSPRNG
type CryptoEntropySource struct {
	reader io.Reader
}

// NewCryptoEntropySource creates an entropy source backed by crypto/rand
func NewCryptoEntropySource() *CryptoEntropySource {
	return &CryptoEntropySource{reader: rand.Reader}
}

// NewCryptoEntropySourceFromReader creates an entropy source over the given reader.
// The reader must itself be cryptographically secure.
func NewCryptoEntropySourceFromReader(reader io.Reader) *CryptoEntropySource {
	return &CryptoEntropySource{reader: reader}
}

// Uint32 returns one big-endian 32-bit value
func (s *CryptoEntropySource) Uint32() (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(s.reader, buf[:]); err != nil {
		return 0, ErrEntropySourceUnavailable.WithCause(err)
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// BufferedEntropySource amortizes reads from the underlying reader by
// fetching cacheSize values per refill
type BufferedEntropySource struct {
	reader     io.Reader
	cache      []byte
	cacheSize  int
	cacheIndex int
	cacheMtx   sync.Mutex
}

// NewBufferedEntropySource creates a buffered source over crypto/rand
//
// If no cache size is provided, the default cache size will be used.
// The cache size should be a positive integer.
func NewBufferedEntropySource(cacheSize ...int) *BufferedEntropySource {
	return NewBufferedEntropySourceFromReader(rand.Reader, cacheSize...)
}

// NewBufferedEntropySourceFromReader creates a buffered source over the given reader
func NewBufferedEntropySourceFromReader(reader io.Reader, cacheSize ...int) *BufferedEntropySource {
	size := DefaultEntropyCacheSize
	if len(cacheSize) > 0 && cacheSize[0] > 0 {
		size = cacheSize[0]
	}

	// The cache starts empty so construction never fails; the first Uint32 call refills it.
	return &BufferedEntropySource{
		reader:     reader,
		cache:      make([]byte, size*4),
		cacheSize:  size,
		cacheIndex: size,
	}
}

// refill reloads the whole cache. On failure the cache stays exhausted.
func (g *BufferedEntropySource) refill() error {
	if _, err := io.ReadFull(g.reader, g.cache); err != nil {
		g.cacheIndex = g.cacheSize
		return ErrEntropySourceUnavailable.WithCause(err)
	}
	g.cacheIndex = 0
	return nil
}

// Uint32 returns the next cached value, refilling when exhausted
func (g *BufferedEntropySource) Uint32() (uint32, error) {
	g.cacheMtx.Lock()
	defer g.cacheMtx.Unlock()

	if g.cacheIndex >= g.cacheSize {
		if err := g.refill(); err != nil {
			return 0, err
		}
	}

	offset := g.cacheIndex * 4
	g.cacheIndex++
	return binary.BigEndian.Uint32(g.cache[offset : offset+4]), nil
}

// NewEntropySourceFromConfig picks a buffered or direct crypto source.
// A cache size of zero selects the unbuffered source.
func NewEntropySourceFromConfig(config *DrawConfig) EntropySource {
	if config == nil || config.EntropyCacheSize <= 0 {
		return NewCryptoEntropySource()
	}
	return NewBufferedEntropySource(config.EntropyCacheSize)
}
