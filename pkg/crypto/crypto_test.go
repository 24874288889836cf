package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPasswordHash(t *testing.T) {
	assert := require.New(t)

	hash, err := HashPassword("s3cret")
	assert.NoError(err)
	assert.True(VerifyPassword("s3cret", hash))
	assert.False(VerifyPassword("wrong", hash))
}

func TestNonceAndSecret(t *testing.T) {
	assert := require.New(t)

	a, err := GenerateNonce(16)
	assert.NoError(err)
	b, err := GenerateNonce(16)
	assert.NoError(err)
	assert.Len(a, 32)
	assert.NotEqual(a, b)

	assert.Equal("{SHA}W6ph5Mm5Pz8GgiULbPgzG37mj9g=", SHA1Secret("password"))
}
