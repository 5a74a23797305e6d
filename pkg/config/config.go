// Package config loads pkgrep's layered configuration.
//
// Three layers feed the effective config, highest precedence first:
//
//  1. PKGREP_* environment variables
//  2. the project file <cwd>/pkgrep.toml
//  3. the global file <config dir>/pkgrep/config.toml
//
// The global file lives under the platform config directory (XDG config
// home on Linux). Files are TOML; missing files are not errors.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	pkgreperrors "github.com/thomasjiangcy/pkgrep/pkg/errors"
)

// Backend identifies where remote cache artifacts live.
type Backend string

const (
	BackendLocal     Backend = "local"
	BackendS3        Backend = "s3"
	BackendAzureBlob Backend = "azure_blob"
	BackendAgentFs   Backend = "agentfs"
)

// ParseBackend validates a backend string.
func ParseBackend(value string) (Backend, error) {
	switch value {
	case "local":
		return BackendLocal, nil
	case "s3":
		return BackendS3, nil
	case "azure_blob":
		return BackendAzureBlob, nil
	case "agentfs":
		return BackendAgentFs, nil
	default:
		return "", pkgreperrors.New(pkgreperrors.KindConfig,
			"invalid backend: %s (expected one of: local, s3, azure_blob, agentfs)", value)
	}
}

// IsRemote reports whether the backend supports the remote object cache.
func (b Backend) IsRemote() bool {
	return b == BackendS3 || b == BackendAzureBlob
}

func (b Backend) String() string {
	return string(b)
}

// AuthMode selects how object store requests authenticate.
type AuthMode string

const (
	AuthModeDirect AuthMode = "direct"
	AuthModeProxy  AuthMode = "proxy"
)

// ParseAuthMode validates an object store auth mode string.
func ParseAuthMode(value string) (AuthMode, error) {
	switch value {
	case "direct":
		return AuthModeDirect, nil
	case "proxy":
		return AuthModeProxy, nil
	default:
		return "", pkgreperrors.New(pkgreperrors.KindConfig,
			"invalid object store auth mode: %s (expected one of: direct, proxy)", value)
	}
}

// ObjectStoreConfig holds remote object store settings.
type ObjectStoreConfig struct {
	Bucket              string
	Prefix              string
	Endpoint            string
	AuthMode            AuthMode
	ProxyIdentityHeader string
}

// Config is the effective, validated configuration for one invocation.
type Config struct {
	Backend        Backend
	CacheDir       string
	WorkerPoolSize int
	ObjectStore    ObjectStoreConfig
}

// configKeys are the recognized settings; each is also bound to its
// PKGREP_* environment variable.
var configKeys = []string{
	"backend",
	"cache_dir",
	"worker_pool_size",
	"object_store.bucket",
	"object_store.prefix",
	"object_store.endpoint",
	"object_store.auth_mode",
	"object_store.proxy_identity_header",
}

// Load reads and merges configuration for a command running in cwd.
func Load(cwd string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	// Layer order matters: the global file is read first, the project file
	// merged over it, and env bindings take precedence over both (viper
	// resolves env before config values).
	readAny := false
	globalPath := GlobalConfigPath()
	if fileExists(globalPath) {
		v.SetConfigFile(globalPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, pkgreperrors.Wrap(pkgreperrors.KindConfig, err,
				"failed to parse config file %s", globalPath)
		}
		readAny = true
	}

	projectPath := filepath.Join(cwd, "pkgrep.toml")
	if fileExists(projectPath) {
		v.SetConfigFile(projectPath)
		var err error
		if readAny {
			err = v.MergeInConfig()
		} else {
			err = v.ReadInConfig()
		}
		if err != nil {
			return nil, pkgreperrors.Wrap(pkgreperrors.KindConfig, err,
				"failed to parse config file %s", projectPath)
		}
	}

	v.SetEnvPrefix("PKGREP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range configKeys {
		// BindEnv derives PKGREP_OBJECT_STORE_BUCKET and friends via the
		// replacer; AutomaticEnv alone does not cover nested keys.
		if err := v.BindEnv(key); err != nil {
			return nil, pkgreperrors.Wrap(pkgreperrors.KindConfig, err, "failed to bind env for %s", key)
		}
	}

	return buildConfig(v)
}

func buildConfig(v *viper.Viper) (*Config, error) {
	backendRaw := v.GetString("backend")
	if backendRaw == "" {
		backendRaw = "local"
	}
	backend, err := ParseBackend(backendRaw)
	if err != nil {
		return nil, err
	}

	cacheDir := v.GetString("cache_dir")
	if cacheDir == "" {
		cacheDir, err = defaultCacheDir()
		if err != nil {
			return nil, err
		}
	}

	workerPoolSize := v.GetInt("worker_pool_size")
	if !v.IsSet("worker_pool_size") || v.GetString("worker_pool_size") == "" {
		workerPoolSize = DefaultWorkerPoolSize()
	}
	if workerPoolSize < 1 {
		return nil, pkgreperrors.New(pkgreperrors.KindConfig,
			"invalid worker_pool_size: %d (must be >= 1)", workerPoolSize)
	}

	var authMode AuthMode
	if raw := v.GetString("object_store.auth_mode"); raw != "" {
		authMode, err = ParseAuthMode(raw)
		if err != nil {
			return nil, err
		}
	}

	return &Config{
		Backend:        backend,
		CacheDir:       cacheDir,
		WorkerPoolSize: workerPoolSize,
		ObjectStore: ObjectStoreConfig{
			Bucket:              v.GetString("object_store.bucket"),
			Prefix:              v.GetString("object_store.prefix"),
			Endpoint:            v.GetString("object_store.endpoint"),
			AuthMode:            authMode,
			ProxyIdentityHeader: v.GetString("object_store.proxy_identity_header"),
		},
	}, nil
}

// GlobalConfigPath returns the path of the global config file under the
// platform config directory.
func GlobalConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "pkgrep", "config.toml")
}

func defaultCacheDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", pkgreperrors.Wrap(pkgreperrors.KindConfig, err,
			"unable to derive a cache directory from the current environment")
	}
	return filepath.Join(home, ".pkgrep"), nil
}

// DefaultWorkerPoolSize clamps 2x available parallelism into [4, 16].
func DefaultWorkerPoolSize() int {
	base := runtime.NumCPU() * 2
	if base < 4 {
		return 4
	}
	if base > 16 {
		return 16
	}
	return base
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Describe renders the non-secret settings for debug logging.
func (c *Config) Describe() string {
	return fmt.Sprintf("backend=%s cache_dir=%s worker_pool_size=%d object_store.bucket=%s object_store.prefix=%s",
		c.Backend, c.CacheDir, c.WorkerPoolSize, orUnset(c.ObjectStore.Bucket), orUnset(c.ObjectStore.Prefix))
}

func orUnset(value string) string {
	if value == "" {
		return "<unset>"
	}
	return value
}
