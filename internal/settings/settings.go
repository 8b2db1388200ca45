// Package settings resolves keg's configuration from defaults, an optional
// config file, .env files and KEG_* environment variables, in increasing
// order of precedence.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every key to form its environment variable.
const EnvPrefix = "KEG"

// Keys understood in config files and as KEG_<KEY> variables.
const (
	KeyRoot     = "root"
	KeyTempDir  = "tmpdir"
	KeyTimeout  = "timeout"
	KeyCacheDir = "cache_dir"
	KeyTapsDir  = "taps_dir"
	KeyTapPath  = "tap_path"
	KeyRetries  = "retries"
	KeyJobs     = "jobs"
)

// Defaults that do not depend on the environment.
const (
	DefaultTimeout = 60 * time.Second
	DefaultRetries = 3
	DefaultJobs    = 4
)

// EnvFiles are loaded from the working directory when present. Variables
// already set in the environment are not overridden.
var EnvFiles = []string{".env", ".env.local"}

// Settings is the resolved configuration.
type Settings struct {
	Root     string
	TempDir  string
	Timeout  time.Duration
	CacheDir string
	TapsDir  string
	TapPath  []string // extra local tap directories
	Retries  int
	Jobs     int

	// ConfigFile is the config file that was read, if any.
	ConfigFile string
}

// Options controls where Load looks.
type Options struct {
	// ConfigFile is an explicit config file. When empty, config.yaml or
	// config.toml in the keg xdg config directory is used if it exists.
	ConfigFile string
	// EnvDir is searched for EnvFiles. Empty means the working directory.
	EnvDir string
}

// Load resolves the settings.
func Load(opts Options) (*Settings, error) {
	for _, name := range EnvFiles {
		path := filepath.Join(opts.EnvDir, name)
		if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	// Pick up XDG_* changes made by env files or tests.
	xdg.Reload()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", opts.ConfigFile, err)
		}
	} else {
		v.AddConfigPath(filepath.Join(xdg.ConfigHome, "keg"))
		v.SetConfigName("config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	timeout, err := parseDuration(v.Get(KeyTimeout))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KeyTimeout, err)
	}

	s := &Settings{
		Root:       v.GetString(KeyRoot),
		TempDir:    v.GetString(KeyTempDir),
		Timeout:    timeout,
		CacheDir:   v.GetString(KeyCacheDir),
		TapsDir:    v.GetString(KeyTapsDir),
		TapPath:    splitPath(v.Get(KeyTapPath)),
		Retries:    v.GetInt(KeyRetries),
		Jobs:       v.GetInt(KeyJobs),
		ConfigFile: v.ConfigFileUsed(),
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func setDefaults(v *viper.Viper) {
	root := filepath.Join(xdg.DataHome, "keg")
	v.SetDefault(KeyRoot, root)
	v.SetDefault(KeyTempDir, os.TempDir())
	v.SetDefault(KeyTimeout, DefaultTimeout)
	v.SetDefault(KeyCacheDir, filepath.Join(xdg.CacheHome, "keg"))
	v.SetDefault(KeyTapsDir, "")
	v.SetDefault(KeyTapPath, "")
	v.SetDefault(KeyRetries, DefaultRetries)
	v.SetDefault(KeyJobs, DefaultJobs)
}

// parseDuration accepts Go duration strings ("90s", "2m") and bare numbers,
// which are taken as seconds.
func parseDuration(raw any) (time.Duration, error) {
	switch val := raw.(type) {
	case time.Duration:
		return val, nil
	case int:
		return time.Duration(val) * time.Second, nil
	case int64:
		return time.Duration(val) * time.Second, nil
	case float64:
		return time.Duration(val * float64(time.Second)), nil
	case string:
		val = strings.TrimSpace(val)
		if secs, err := strconv.ParseFloat(val, 64); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
		return time.ParseDuration(val)
	default:
		return 0, fmt.Errorf("unsupported value %v", raw)
	}
}

// splitPath accepts a path-list string (from the environment) or a list
// (from a config file).
func splitPath(raw any) []string {
	var parts []string
	switch val := raw.(type) {
	case string:
		parts = filepath.SplitList(val)
	case []any:
		for _, p := range val {
			parts = append(parts, fmt.Sprint(p))
		}
	case []string:
		parts = val
	}
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks ranges and fills paths derived from Root.
func (s *Settings) Validate() error {
	if s.Root == "" {
		return fmt.Errorf("%s must not be empty", KeyRoot)
	}
	root, err := filepath.Abs(s.Root)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", KeyRoot, err)
	}
	s.Root = root
	if s.TapsDir == "" {
		s.TapsDir = filepath.Join(s.Root, "taps")
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("%s must be positive, got %s", KeyTimeout, s.Timeout)
	}
	if s.Retries < 0 {
		return fmt.Errorf("%s must not be negative, got %d", KeyRetries, s.Retries)
	}
	if s.Jobs < 1 {
		return fmt.Errorf("%s must be at least 1, got %d", KeyJobs, s.Jobs)
	}
	return nil
}

// Env returns the settings as KEY=value pairs named by their environment
// variables, in a stable order.
func (s *Settings) Env() [][2]string {
	return [][2]string{
		{envName(KeyRoot), s.Root},
		{envName(KeyTempDir), s.TempDir},
		{envName(KeyTimeout), s.Timeout.String()},
		{envName(KeyCacheDir), s.CacheDir},
		{envName(KeyTapsDir), s.TapsDir},
		{envName(KeyTapPath), strings.Join(s.TapPath, string(os.PathListSeparator))},
		{envName(KeyRetries), fmt.Sprint(s.Retries)},
		{envName(KeyJobs), fmt.Sprint(s.Jobs)},
	}
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(key)
}
