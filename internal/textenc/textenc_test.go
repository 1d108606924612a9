package textenc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUnknownEncoding(t *testing.T) {
	_, err := New("not-a-real-charset", "strict")
	require.Error(t, err)
}

func TestNewUnknownMode(t *testing.T) {
	_, err := New("utf-8", "explode")
	require.Error(t, err)
}

func TestEncodeNilCodecPassesThroughUTF8(t *testing.T) {
	var c *Codec
	out, err := c.Encode("héllo")
	require.NoError(t, err)
	assert.Equal(t, "héllo", string(out))
}

func TestEncodeUTF8Passthrough(t *testing.T) {
	c, err := New("utf-8", "strict")
	require.NoError(t, err)

	out, err := c.Encode("héllo, 世界")
	require.NoError(t, err)
	assert.Equal(t, "héllo, 世界", string(out))
}

func TestEncodeLatin1StrictRejectsCJK(t *testing.T) {
	c, err := New("iso-8859-1", "strict")
	require.NoError(t, err)

	_, err = c.Encode("caf世")
	assert.Error(t, err)
}

func TestEncodeLatin1ReplaceDoesNotError(t *testing.T) {
	c, err := New("iso-8859-1", "replace")
	require.NoError(t, err)

	_, err = c.Encode("caf世e")
	assert.NoError(t, err)
}

func TestEncodeLatin1IgnoreDropsUnsupported(t *testing.T) {
	c, err := New("iso-8859-1", "ignore")
	require.NoError(t, err)

	out, err := c.Encode("caf世e")
	require.NoError(t, err)
	assert.Equal(t, "cafe", string(out))
}

func TestEncodeLatin1RoundTrips(t *testing.T) {
	c, err := New("iso-8859-1", "strict")
	require.NoError(t, err)

	out, err := c.Encode("café")
	require.NoError(t, err)
	assert.Equal(t, []byte{'c', 'a', 'f', 0xe9}, out)
}
