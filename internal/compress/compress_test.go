package compress

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGZipRoundTrip(t *testing.T) {
	codec := NewGZip()
	payload := []byte(strings.Repeat(`{"term_frequencies":{"search":12}}`, 100))

	encoded, err := codec.Encode(payload)
	require.NoError(t, err)
	assert.Less(t, len(encoded), len(payload))

	decoded, err := codec.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestGZipDecodeGarbage(t *testing.T) {
	codec := NewGZip()

	_, err := codec.Decode([]byte("not gzip data"))
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	codec := NewNop()

	encoded, err := codec.Encode([]byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), encoded)

	decoded, err := codec.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), decoded)
}
