package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/kbauer/git-zip/sync"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Configuration keys. All of them can be set in the config file or through
// GITZIP_<KEY> with dashes replaced by underscores.
const (
	keyConfig      = "config"
	keyDir         = "dir"
	keyFormat      = "format"
	keyMetadataDir = "metadata-dir"
	keyTempDir     = "temp-dir"
	keyGit         = "git"
	keyLogDir      = "log-dir"
	keyLogLevel    = "log-level"
	keyIdle        = "idle"
)

const (
	envPrefix      = "GITZIP"
	configFileName = ".gitzip"
)

// Settings is the resolved configuration of one invocation.
type Settings struct {
	Dir         string
	Format      sync.Format
	MetadataDir string
	TempDir     string
	Git         string
	LogDir      string
	LogLevel    slog.Level
	Idle        time.Duration
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault(keyFormat, string(sync.FormatTarGz))
	v.SetDefault(keyMetadataDir, sync.DefaultMetadataDirName)
	v.SetDefault(keyLogLevel, "warn")
	v.SetDefault(keyIdle, sync.DefaultIdle)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// addFlags registers the persistent flags shared by all subcommands.
func addFlags(f *pflag.FlagSet) {
	f.String(keyConfig, "", "config `file` (default: $HOME/.gitzip.yaml)")
	f.StringP(keyDir, "C", "", "start `directory` for locating the repository (default: current directory)")
	f.String(keyFormat, string(sync.FormatTarGz), "archive `format`, one of (tar.gz|zip)")
	f.String(keyMetadataDir, sync.DefaultMetadataDirName, "metadata directory `name`")
	f.String(keyTempDir, "", "`directory` for ephemeral copies (default: system temp dir)")
	f.String(keyGit, "", "git `executable` to wrap (default: first git on PATH that is not the wrapper)")
	f.String(keyLogDir, "", "write rotating log files to `directory`")
	f.String(keyLogLevel, "warn", "console log `level`, one of (debug|info|warn|error)")
}

// readConfig loads the config file named by --config, or $HOME/.gitzip.yaml
// when present. A missing default file is not an error.
func readConfig(v *viper.Viper) error {
	if file := v.GetString(keyConfig); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", file, err)
		}
		return nil
	}

	home, err := homedir.Dir()
	if err != nil {
		return nil // no home, no default config
	}
	v.AddConfigPath(home)
	v.SetConfigName(configFileName)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// loadSettings resolves and validates all keys.
func loadSettings(v *viper.Viper) (Settings, error) {
	format, err := sync.ParseFormat(v.GetString(keyFormat))
	if err != nil {
		return Settings{}, err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString(keyLogLevel))); err != nil {
		return Settings{}, fmt.Errorf("invalid log level %q: %w", v.GetString(keyLogLevel), err)
	}

	expand := func(key string) (string, error) {
		p, err := homedir.Expand(v.GetString(key))
		if err != nil {
			return "", fmt.Errorf("%s: %w", key, err)
		}
		return p, nil
	}

	s := Settings{
		Format:      format,
		MetadataDir: v.GetString(keyMetadataDir),
		LogLevel:    level,
		Idle:        v.GetDuration(keyIdle),
	}
	if s.Dir, err = expand(keyDir); err != nil {
		return Settings{}, err
	}
	if s.TempDir, err = expand(keyTempDir); err != nil {
		return Settings{}, err
	}
	if s.Git, err = expand(keyGit); err != nil {
		return Settings{}, err
	}
	if s.LogDir, err = expand(keyLogDir); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) logger(stdout, stderr io.Writer) *slog.Logger {
	return sync.NewLogger(sync.LogOptions{
		Dir:    s.LogDir,
		Level:  s.LogLevel,
		Stdout: stdout,
		Stderr: stderr,
	})
}

func (s Settings) syncConfig(logger *slog.Logger) sync.Config {
	return sync.Config{
		MetadataDirName: s.MetadataDir,
		Format:          s.Format,
		TempDir:         s.TempDir,
		Logger:          logger,
	}
}
