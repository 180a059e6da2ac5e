package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	appdefaults "github.com/saker-ai/chatkit-server/config"

	"github.com/saker-ai/chatkit-server/internal/logger"
	"github.com/saker-ai/chatkit-server/pkg/audio"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CHATKIT_DATA_DIR.
const EnvPrefix = "chatkit"

// SystemConfig holds the listener settings.
type SystemConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// RenderConfig controls message rendering.
type RenderConfig struct {
	EmojiClass      string `mapstructure:"emoji_class"`
	EmojiFixClass   string `mapstructure:"emoji_fix_class"`
	SanitizeHTML    bool   `mapstructure:"sanitize_html"`
	DefaultBarCount int    `mapstructure:"default_bar_count"`
	TimeZone        string `mapstructure:"time_zone"`
	DateLayout      string `mapstructure:"date_layout"`
}

// RecorderConfig controls voice recording.
type RecorderConfig struct {
	SampleRate        int               `mapstructure:"sample_rate"`
	Channels          int               `mapstructure:"channels"`
	FrameDurationMs   int               `mapstructure:"frame_duration_ms"`
	AmplitudeWindowMs int               `mapstructure:"amplitude_window_ms"`
	AmplitudeCount    int               `mapstructure:"amplitude_count"`
	MaxDurationSec    int               `mapstructure:"max_duration_sec"`
	Opus              audio.OpusOptions `mapstructure:"opus"`
}

// Config is the resolved server configuration.
type Config struct {
	RootDir      string         `mapstructure:"-"`
	HTTPAddr     string         `mapstructure:"http_addr"`
	DataDir      string         `mapstructure:"data_dir"`
	RosterPath   string         `mapstructure:"roster_path"`
	TLSCertPath  string         `mapstructure:"tls_cert_path"`
	TLSKeyPath   string         `mapstructure:"tls_key_path"`
	TLSRequired  bool           `mapstructure:"tls_required"`
	TLSDisable   bool           `mapstructure:"tls_disable"`
	SystemConfig SystemConfig   `mapstructure:"system_config"`
	Render       RenderConfig   `mapstructure:"render"`
	Recorder     RecorderConfig `mapstructure:"recorder"`
	Log          logger.Config  `mapstructure:"log"`
}

// Load reads conf.yaml from the discovered root dir over the embedded
// defaults. A missing conf.yaml is not an error.
func Load() (Config, error) {
	rootDir, err := resolveRootDir()
	if err != nil {
		return Config{}, err
	}

	v, err := newViper()
	if err != nil {
		return Config{}, err
	}
	v.SetConfigName("conf")
	v.AddConfigPath(rootDir)

	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read conf.yaml: %w", err)
		}
	}
	return finish(v, rootDir)
}

// LoadConfig reads configPath over the embedded defaults. An empty path
// behaves like Load.
func LoadConfig(configPath string) (Config, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		return Load()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, err
	}

	rootDir := rootDirFromEnv()
	if rootDir == "" {
		rootDir = filepath.Dir(absPath)
		if filepath.Base(rootDir) == "config" {
			rootDir = filepath.Dir(rootDir)
		}
	}

	v, err := newViper()
	if err != nil {
		return Config{}, err
	}
	v.SetConfigFile(absPath)
	if err := v.MergeInConfig(); err != nil {
		return Config{}, fmt.Errorf("read %s: %w", absPath, err)
	}
	return finish(v, rootDir)
}

func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if err := v.ReadConfig(bytes.NewReader(appdefaults.Default)); err != nil {
		return nil, fmt.Errorf("load embedded config: %w", err)
	}

	v.SetDefault("http_addr", "")
	v.SetDefault("data_dir", "data")
	v.SetDefault("roster_path", "users.yaml")
	v.SetDefault("tls_required", false)
	v.SetDefault("tls_disable", true)
	v.SetDefault("tls_cert_path", "")
	v.SetDefault("tls_key_path", "")
	v.SetDefault("render.default_bar_count", 40)
	v.SetDefault("recorder.sample_rate", 16000)
	v.SetDefault("recorder.channels", 1)
	v.SetDefault("recorder.frame_duration_ms", 20)
	v.SetDefault("recorder.amplitude_window_ms", 50)
	v.SetDefault("recorder.amplitude_count", 100)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.stdout", true)
	v.SetDefault("log.file.enabled", true)
	v.SetDefault("log.file.path", "./data/logs")
	v.SetDefault("log.file.name", "chatkit-server.log")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

func finish(v *viper.Viper, rootDir string) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.RootDir = rootDir
	deriveHTTPAddr(&cfg)
	derivePaths(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects recorder settings the audio pipeline cannot run with.
func (c Config) Validate() error {
	r := c.Recorder
	switch r.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return fmt.Errorf("recorder.sample_rate %d: opus supports 8000, 12000, 16000, 24000 or 48000", r.SampleRate)
	}
	if r.Channels != 1 && r.Channels != 2 {
		return fmt.Errorf("recorder.channels %d: want 1 or 2", r.Channels)
	}
	switch r.FrameDurationMs {
	case 10, 20, 40, 60:
	default:
		return fmt.Errorf("recorder.frame_duration_ms %d: want 10, 20, 40 or 60", r.FrameDurationMs)
	}
	if r.AmplitudeWindowMs <= 0 || r.AmplitudeCount <= 0 {
		return errors.New("recorder amplitude window and count must be positive")
	}
	if c.Render.DefaultBarCount <= 0 {
		return errors.New("render.default_bar_count must be positive")
	}
	return nil
}

func deriveHTTPAddr(cfg *Config) {
	if cfg.HTTPAddr != "" {
		return
	}
	host := cfg.SystemConfig.Host
	port := cfg.SystemConfig.Port
	if port == 0 {
		port = 8101
	}
	if host == "" {
		cfg.HTTPAddr = fmt.Sprintf(":%d", port)
		return
	}
	cfg.HTTPAddr = net.JoinHostPort(host, strconv.Itoa(port))
}

func rootDirFromEnv() string {
	return strings.TrimSpace(os.Getenv("CHATKIT_ROOT_DIR"))
}

func resolveRootDir() (string, error) {
	if root := rootDirFromEnv(); root != "" {
		return filepath.Abs(root)
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := wd
	for i := 0; i < 6; i++ {
		if fileExists(filepath.Join(dir, "conf.yaml")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return wd, nil
}

func derivePaths(cfg *Config) {
	cfg.DataDir = resolvePath(cfg.RootDir, cfg.DataDir, "data")
	cfg.RosterPath = resolvePath(cfg.RootDir, cfg.RosterPath, "users.yaml")
	cfg.TLSCertPath = resolvePath(cfg.RootDir, cfg.TLSCertPath, filepath.Join("certs", "server.crt"))
	cfg.TLSKeyPath = resolvePath(cfg.RootDir, cfg.TLSKeyPath, filepath.Join("certs", "server.key"))
	cfg.Log.File.Path = resolvePath(cfg.RootDir, cfg.Log.File.Path, filepath.Join("data", "logs"))
}

func resolvePath(rootDir string, configured string, fallback string) string {
	path := strings.TrimSpace(configured)
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(rootDir, path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
