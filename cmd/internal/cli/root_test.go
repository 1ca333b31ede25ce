package cli

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"teaminvite/cmd/security/adminkey"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "teaminvite dev (commit=none, built=unknown)\n", out)
}

func TestKeys_PrintsDecodableSecrets(t *testing.T) {
	out, err := run(t, "", "keys")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	for _, l := range lines {
		kv := strings.SplitN(strings.TrimPrefix(l, "export "), "=", 2)
		require.Len(t, kv, 2, l)
		raw, err := base64.StdEncoding.DecodeString(kv[1])
		require.NoError(t, err, l)
		assert.GreaterOrEqual(t, len(raw), 32)
	}
}

func TestHashAdmin_FromStdin(t *testing.T) {
	t.Setenv("TEAMINVITE_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("TEAMINVITE_ARGON2_ITERATIONS", "1")

	key := strings.Repeat("k", 32)
	out, err := run(t, key+"\n", "keys", "hash-admin")
	require.NoError(t, err)

	hash := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(out), "export TEAMINVITE_ADMIN_KEY_HASH='"), "'")
	cfg, err := adminkey.FromEnv()
	require.NoError(t, err)
	ok, err := cfg.Verify(hash, key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHashAdmin_ShortKeyRejected(t *testing.T) {
	_, err := run(t, "", "keys", "hash-admin", "--key", "short")
	assert.ErrorIs(t, err, adminkey.ErrKeyTooShort)
}

func TestMigratePrint_UsesDotEnvSchema(t *testing.T) {
	// Restore whatever the environment had once the test ends.
	t.Setenv("TEAMINVITE_DB_SCHEMA", "placeholder")
	require.NoError(t, os.Unsetenv("TEAMINVITE_DB_SCHEMA"))

	env := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(env, []byte("TEAMINVITE_DB_SCHEMA=custom_schema\n"), 0o600))

	out, err := run(t, "", "--env-file", env, "migrate", "--print")
	require.NoError(t, err)
	assert.Contains(t, out, `"custom_schema"`)
}

func TestMigrate_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("TEAMINVITE_DATABASE_URL", "")
	_, err := run(t, "", "migrate")
	assert.ErrorContains(t, err, "TEAMINVITE_DATABASE_URL")
}

func TestRecalc_RejectsNegativeCount(t *testing.T) {
	_, err := run(t, "", "team", "recalc", "t1", "--count", "-2")
	assert.ErrorContains(t, err, "--count")
}

func TestTeamList_InMemory(t *testing.T) {
	t.Setenv("TEAMINVITE_DATABASE_URL", "")
	out, err := run(t, "", "team", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "[]")
}
