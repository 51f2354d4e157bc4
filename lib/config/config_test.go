package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateThenLoad(t *testing.T) {
	root := t.TempDir()

	envPath, err := Generate(root, "flow.example.com", "Europe/Istanbul")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, DefaultEnvFile), envPath)

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, "flow.example.com", cfg.Domain)
	assert.Equal(t, "Europe/Istanbul", cfg.Timezone)
	assert.NotEmpty(t, cfg.EncryptionKey)
	assert.NotEmpty(t, cfg.DBPassword)
	assert.Equal(t, 50*datasize.GB, cfg.MaxBundleSize)
}

func TestGenerate_NeverRegeneratesKey(t *testing.T) {
	root := t.TempDir()

	_, err := Generate(root, "flow.example.com", "")
	require.NoError(t, err)
	key, err := EncryptionKeyOf(filepath.Join(root, DefaultEnvFile))
	require.NoError(t, err)

	_, err = Generate(root, "flow.example.com", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPrecondition)

	// The original key survives untouched.
	again, err := EncryptionKeyOf(filepath.Join(root, DefaultEnvFile))
	require.NoError(t, err)
	assert.Equal(t, key, again)
}

func TestLoad_MissingEnvFile(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPrecondition)
}

func TestLoad_MissingEncryptionKey(t *testing.T) {
	root := t.TempDir()
	env := "STACK_DOMAIN=flow.example.com\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, DefaultEnvFile), []byte(env), 0600))

	_, err := Load(root)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPrecondition)
}

func TestLoad_Overrides(t *testing.T) {
	root := t.TempDir()
	env := EncryptionKeyVar + `=abc
STACK_PROJECT_NAME=flow
STACK_APP_SERVICE=n8n
STACK_MAX_BUNDLE_SIZE=10GB
`
	require.NoError(t, os.WriteFile(filepath.Join(root, DefaultEnvFile), []byte(env), 0600))

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, "flow", cfg.ProjectName)
	assert.Equal(t, "n8n", cfg.AppService)
	assert.Equal(t, 10*datasize.GB, cfg.MaxBundleSize)
}

func TestLoad_BadBundleSize(t *testing.T) {
	root := t.TempDir()
	env := EncryptionKeyVar + "=abc\nSTACK_MAX_BUNDLE_SIZE=lots\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, DefaultEnvFile), []byte(env), 0600))

	_, err := Load(root)
	require.Error(t, err)
}

func TestRequireTools(t *testing.T) {
	require.NoError(t, RequireTools("sh"))

	err := RequireTools("sh", "definitely-not-installed-anywhere")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPrecondition)
	assert.Contains(t, err.Error(), "definitely-not-installed-anywhere")
}
