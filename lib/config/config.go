// Package config holds the deployment context: every path, credential and
// tool location a stackport operation needs, loaded explicitly from the
// deployment env file instead of being read from ambient process state at the
// point of use.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/c2h5oh/datasize"
	"github.com/joho/godotenv"
)

// ErrPrecondition is returned when a required tool or configuration file is
// absent. It is always detected before any mutating action.
var ErrPrecondition = errors.New("precondition failed")

const (
	// DefaultComposeFile is the compose definition file name relative to
	// the project root.
	DefaultComposeFile = "docker-compose.yml"

	// DefaultEnvFile is the deployment env file name relative to the
	// project root.
	DefaultEnvFile = ".env"

	// EncryptionKeyVar names the symmetric key the workflow server uses to
	// encrypt stored credentials. Its value must stay stable for the
	// lifetime of the deployed data: changing it renders previously stored
	// encrypted data unrecoverable.
	EncryptionKeyVar = "STACK_ENCRYPTION_KEY"
)

// Config is the deployment context passed into each component at
// construction.
type Config struct {
	ProjectName string
	ProjectRoot string
	ComposeFile string
	EnvFile     string
	DataDir     string

	Domain   string
	Timezone string

	DBUser     string
	DBPassword string
	DBName     string

	EncryptionKey string

	// AppService and DBService are the compose service names of the
	// workflow server and its database.
	AppService string
	DBService  string

	// ProxyDir and WorkspaceDir are optional configuration surfaces
	// included in the project package when present.
	ProxyDir     string
	WorkspaceDir string

	// MaxBundleSize bounds how much a single bundle or snapshot may
	// extract to, guarding against runaway or malicious archives.
	MaxBundleSize datasize.ByteSize

	DockerBin string
}

// Load reads the deployment env file under projectRoot and builds the
// deployment context. The env file and its encryption key are required: a
// deployment without a stable key would silently lose access to its stored
// credentials on the first restore.
func Load(projectRoot string) (*Config, error) {
	cfg := Defaults(projectRoot)

	env, err := godotenv.Read(cfg.EnvFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: env file %s not found", ErrPrecondition, cfg.EnvFile)
		}
		return nil, fmt.Errorf("read env file %s: %w", cfg.EnvFile, err)
	}

	cfg.Domain = get(env, "STACK_DOMAIN", "")
	cfg.Timezone = get(env, "STACK_TIMEZONE", "UTC")
	cfg.DBUser = get(env, "POSTGRES_USER", "stack")
	cfg.DBPassword = get(env, "POSTGRES_PASSWORD", "")
	cfg.DBName = get(env, "POSTGRES_DB", cfg.DBUser)
	cfg.EncryptionKey = get(env, EncryptionKeyVar, "")
	cfg.AppService = get(env, "STACK_APP_SERVICE", cfg.AppService)
	cfg.DBService = get(env, "STACK_DB_SERVICE", cfg.DBService)
	cfg.DockerBin = get(env, "STACK_DOCKER_BIN", cfg.DockerBin)

	if name := get(env, "STACK_PROJECT_NAME", ""); name != "" {
		cfg.ProjectName = name
	}
	if dir := get(env, "STACK_DATA_DIR", ""); dir != "" {
		cfg.DataDir = dir
	}

	if raw := get(env, "STACK_MAX_BUNDLE_SIZE", ""); raw != "" {
		size, err := datasize.ParseString(raw)
		if err != nil {
			return nil, fmt.Errorf("parse STACK_MAX_BUNDLE_SIZE %q: %w", raw, err)
		}
		cfg.MaxBundleSize = size
	}

	if cfg.EncryptionKey == "" {
		return nil, fmt.Errorf("%w: %s is not set in %s", ErrPrecondition, EncryptionKeyVar, cfg.EnvFile)
	}

	return cfg, nil
}

// Defaults returns a deployment context with every path derived from
// projectRoot and no credentials. Used by restore onto a fresh host, where
// the env file arrives inside the bundle being imported.
func Defaults(projectRoot string) *Config {
	return &Config{
		ProjectName:   filepath.Base(projectRoot),
		ProjectRoot:   projectRoot,
		ComposeFile:   filepath.Join(projectRoot, DefaultComposeFile),
		EnvFile:       filepath.Join(projectRoot, DefaultEnvFile),
		DataDir:       filepath.Join(projectRoot, ".stackport"),
		AppService:    "app",
		DBService:     "db",
		ProxyDir:      "proxy",
		WorkspaceDir:  "workspace",
		MaxBundleSize: 50 * datasize.GB,
		DockerBin:     "docker",
	}
}

// Generate writes a fresh env file for a new deployment, including a newly
// generated encryption key. It refuses to touch an existing env file: the key
// is generated exactly once per deployment and never again.
func Generate(projectRoot, domain, timezone string) (string, error) {
	envPath := filepath.Join(projectRoot, DefaultEnvFile)
	if _, err := os.Stat(envPath); err == nil {
		return "", fmt.Errorf("%w: env file %s already exists; refusing to regenerate the encryption key", ErrPrecondition, envPath)
	}

	key, err := randomHex(32)
	if err != nil {
		return "", fmt.Errorf("generate encryption key: %w", err)
	}
	password, err := randomHex(16)
	if err != nil {
		return "", fmt.Errorf("generate db password: %w", err)
	}

	if timezone == "" {
		timezone = "UTC"
	}

	env := map[string]string{
		"STACK_DOMAIN":      domain,
		"STACK_TIMEZONE":    timezone,
		"POSTGRES_USER":     "stack",
		"POSTGRES_PASSWORD": password,
		"POSTGRES_DB":       "stack",
		EncryptionKeyVar:    key,
	}
	if err := godotenv.Write(env, envPath); err != nil {
		return "", fmt.Errorf("write env file %s: %w", envPath, err)
	}

	return envPath, nil
}

// EncryptionKeyOf reads only the encryption key from an env file. Used by
// restore to check key stability before overwriting live configuration.
func EncryptionKeyOf(envFile string) (string, error) {
	env, err := godotenv.Read(envFile)
	if err != nil {
		return "", err
	}
	return env[EncryptionKeyVar], nil
}

// RequireTools verifies that every named binary is resolvable on PATH before
// any mutating action runs.
func RequireTools(names ...string) error {
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			return fmt.Errorf("%w: required tool %q not found on PATH", ErrPrecondition, name)
		}
	}
	return nil
}

func get(env map[string]string, key, defaultValue string) string {
	if value := env[key]; value != "" {
		return value
	}
	return defaultValue
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
