package adminkey

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	// Keep unit tests fast.
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	return cfg
}

func TestHashAndVerify(t *testing.T) {
	cfg := testConfig()
	key := strings.Repeat("a1", 16)

	h, err := cfg.Hash(key)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(h, "$argon2id$v=19$"))

	ok, err := cfg.Verify(h, key)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cfg.Verify(h, key+"x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHash_RejectsShortKey(t *testing.T) {
	_, err := testConfig().Hash("short")
	assert.ErrorIs(t, err, ErrKeyTooShort)
}

func TestVerify_InvalidHash(t *testing.T) {
	cfg := testConfig()
	for _, h := range []string{"", "not-a-hash", "$argon2id$v=18$m=1,t=1,p=1$AA$AA", "$bcrypt$v=19$m=1,t=1,p=1$AA$AA"} {
		ok, err := cfg.Verify(h, "whatever-key-that-is-long-enough")
		assert.False(t, ok)
		assert.ErrorIs(t, err, ErrInvalidHash, "hash %q", h)
	}
}

func TestVerify_RefusesExpensiveParams(t *testing.T) {
	strong := testConfig()
	strong.Params.Iterations = 5
	h, err := strong.Hash(strings.Repeat("z", 32))
	require.NoError(t, err)

	ok, err := testConfig().Verify(h, strings.Repeat("z", 32))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrInvalidHash)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("TEAMINVITE_ADMIN_KEY_MIN_LEN", "32")
	t.Setenv("TEAMINVITE_ARGON2_ITERATIONS", "2")
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.MinLength)
	assert.Equal(t, uint32(2), cfg.Params.Iterations)

	t.Setenv("TEAMINVITE_ARGON2_ITERATIONS", "0")
	_, err = FromEnv()
	assert.Error(t, err)
}
