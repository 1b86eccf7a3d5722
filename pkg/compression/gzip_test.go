package compression

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressDecompress(t *testing.T) {
	payload := bytes.Repeat([]byte("<Invoice>peppol</Invoice>"), 200)

	compressed, err := Compress(payload)
	require.NoError(t, err)
	assert.True(t, IsGzip(compressed))
	assert.Less(t, len(compressed), len(payload))

	out, err := Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestDecompressInvalid(t *testing.T) {
	_, err := Decompress([]byte("<plain/>"))
	assert.Error(t, err)
	assert.False(t, IsGzip([]byte("<plain/>")))
	assert.False(t, IsGzip(nil))
}
