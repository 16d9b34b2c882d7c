package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveSecret_EnvScheme(t *testing.T) {
	t.Setenv("KOMOREBI_TEST_SECRET", "s3cr3t")

	got, err := ResolveSecret("env://KOMOREBI_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", got)
}

func TestResolveSecret_EnvSchemeMissing(t *testing.T) {
	_, err := ResolveSecret("env://KOMOREBI_DOES_NOT_EXIST")
	require.ErrorIs(t, err, ErrSecretResolution)
}

func TestResolveSecret_KeyringSchemeMalformed(t *testing.T) {
	_, err := ResolveSecret("keyring://justservice")
	require.ErrorIs(t, err, ErrInvalidSecretURI)
}

func TestResolveSecret_UnknownSchemeRejected(t *testing.T) {
	_, err := ResolveSecret("vault://secret/github-token")
	require.ErrorIs(t, err, ErrInvalidSecretURI)
}

func TestResolveSecret_Literal(t *testing.T) {
	t.Setenv("KOMOREBI_TEST_VAR", "hello")

	got, err := ResolveSecret("prefix-${KOMOREBI_TEST_VAR}-suffix")
	require.NoError(t, err)
	assert.Equal(t, "prefix-hello-suffix", got)
}

func TestResolveEnv_PreservesPathOnMerge(t *testing.T) {
	t.Setenv("KOMOREBI_TEST_TOKEN", "tok123")

	resolved, err := ResolveEnv(map[string]string{"TOKEN": "env://KOMOREBI_TEST_TOKEN"})
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, "TOKEN=tok123", resolved[0])

	merged := MergeWithProcessEnv(resolved)
	found := false
	for _, kv := range merged {
		if kv == "TOKEN=tok123" {
			found = true
		}
	}
	assert.True(t, found)
	assert.Greater(t, len(merged), len(resolved))
}

func TestMCPServerRegistry_SkipsDisabled(t *testing.T) {
	file := MCPServersFile{
		Servers: []MCPServerConfig{
			{Name: "a", Command: "cmd-a"},
			{Name: "b", Command: "cmd-b", Disabled: true},
		},
	}
	reg := NewMCPServerRegistry(file)

	assert.True(t, reg.Has("a"))
	assert.False(t, reg.Has("b"))

	_, err := reg.Get("b")
	require.ErrorIs(t, err, ErrMCPServerNotFound)

	ids := reg.ServerIDs()
	assert.Equal(t, []string{"a"}, ids)
}
