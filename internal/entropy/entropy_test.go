package entropy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRead_Distinct(t *testing.T) {
	a, err := Read()
	require.NoError(t, err)
	b, err := Read()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSecret_CookieMask(t *testing.T) {
	s := Secret{0xffffffffffffffff, 7}
	assert.Equal(t, uint64(0x0000ffffffff0000), s.Cookie())
	assert.Equal(t, uint64(7), s.Skew())
	assert.Zero(t, Secret{}.Cookie())
}
