package raffle

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingReader counts Read calls on the wrapped reader
type countingReader struct {
	r     io.Reader
	reads int
}

func (c *countingReader) Read(p []byte) (int, error) {
	c.reads++
	return c.r.Read(p)
}

func TestCryptoEntropySource_Uint32(t *testing.T) {
	source := NewCryptoEntropySourceFromReader(bytes.NewReader([]byte{0x00, 0x00, 0x00, 0x01, 0xff, 0xff, 0xff, 0xff}))

	v, err := source.Uint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), v)

	v, err = source.Uint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xffffffff), v)

	_, err = source.Uint32()
	assert.ErrorIs(t, err, ErrEntropySourceUnavailable)
	assert.ErrorIs(t, err, io.EOF)
}

func TestCryptoEntropySource_ShortRead(t *testing.T) {
	source := NewCryptoEntropySourceFromReader(bytes.NewReader([]byte{0x01, 0x02}))
	_, err := source.Uint32()
	assert.ErrorIs(t, err, ErrEntropySourceUnavailable)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestCryptoEntropySource_Default(t *testing.T) {
	source := NewCryptoEntropySource()
	seen := make(map[uint32]struct{})
	for range 64 {
		v, err := source.Uint32()
		require.NoError(t, err)
		seen[v] = struct{}{}
	}
	assert.Greater(t, len(seen), 60)
}

func TestBufferedEntropySource_Refill(t *testing.T) {
	data := make([]byte, 16)
	for i := range data {
		data[i] = byte(i)
	}
	reader := &countingReader{r: bytes.NewReader(data)}
	source := NewBufferedEntropySourceFromReader(reader, 2)

	assert.Equal(t, 0, reader.reads, "construction must not read")

	v, err := source.Uint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x00010203), v)
	v, err = source.Uint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x04050607), v)
	assert.Equal(t, 1, reader.reads)

	v, err = source.Uint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x08090a0b), v)
	assert.Equal(t, 2, reader.reads)
}

func TestBufferedEntropySource_Failure(t *testing.T) {
	cause := errors.New("entropy pool closed")
	source := NewBufferedEntropySourceFromReader(iotest.ErrReader(cause), 4)

	for range 2 {
		_, err := source.Uint32()
		assert.ErrorIs(t, err, ErrEntropySourceUnavailable)
		assert.ErrorIs(t, err, cause)
	}
}

func TestBufferedEntropySource_DefaultSize(t *testing.T) {
	source := NewBufferedEntropySource()
	assert.Equal(t, DefaultEntropyCacheSize, source.cacheSize)

	source = NewBufferedEntropySource(-1)
	assert.Equal(t, DefaultEntropyCacheSize, source.cacheSize)
}

func TestBufferedEntropySource_Concurrent(t *testing.T) {
	source := NewBufferedEntropySource(8)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				_, err := source.Uint32()
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
}

func TestNewEntropySourceFromConfig(t *testing.T) {
	assert.IsType(t, &CryptoEntropySource{}, NewEntropySourceFromConfig(nil))
	assert.IsType(t, &CryptoEntropySource{}, NewEntropySourceFromConfig(&DrawConfig{EntropyCacheSize: 0}))
	assert.IsType(t, &BufferedEntropySource{}, NewEntropySourceFromConfig(&DrawConfig{EntropyCacheSize: 16}))
}
