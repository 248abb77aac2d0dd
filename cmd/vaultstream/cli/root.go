// Package cli implements the vaultstream command-line interface.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/richoarbianto/vaultstream"
	"github.com/richoarbianto/vaultstream/container"
)

// Build information set via ldflags.
var version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "vaultstream",
	Short: "Store and stream files inside an encrypted container",
	Long: `Vaultstream keeps files inside a single encrypted container and serves
them back without ever writing decrypted bytes to disk. Large files are
imported chunk by chunk with resumable progress and read back through a
windowed decrypt-on-demand cache.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default $HOME/.vaultstream.yaml)")
	rootCmd.PersistentFlags().String("vault", "", "Vault directory (default $HOME/.vaultstream)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose debug logging")
	rootCmd.Version = version

	viper.BindPFlag("vault", rootCmd.PersistentFlags().Lookup("vault"))
	viper.SetEnvPrefix("VAULTSTREAM")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	cobra.OnInitialize(initConfig)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigName(".vaultstream")
			viper.SetConfigType("yaml")
		}
	}
	// A missing config file is fine; flags and env cover everything.
	viper.ReadInConfig()
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.WarnLevel)
	}
	return log
}

func vaultDir() (string, error) {
	if dir := viper.GetString("vault"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".vaultstream"), nil
}

func readPassword() ([]byte, error) {
	if pw := viper.GetString("password"); pw != "" {
		return []byte(pw), nil
	}
	fmt.Fprint(os.Stderr, "Vault password: ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	return pw, nil
}

// openStore opens the container at the configured vault directory.
func openStore(log *logrus.Logger) (*container.Store, error) {
	dir, err := vaultDir()
	if err != nil {
		return nil, err
	}
	password, err := readPassword()
	if err != nil {
		return nil, err
	}
	defer vaultstream.Wipe(password)

	fs, err := container.NewOSFS(filepath.Join(dir, "data"))
	if err != nil {
		return nil, fmt.Errorf("opening vault data dir: %w", err)
	}
	return container.Open(container.Options{
		FS:          fs,
		MetaDir:     filepath.Join(dir, "meta"),
		KeyProvider: container.NewPasswordKeyProvider(password, container.Argon2idParams{}),
		Logger:      log,
	})
}

// coreConfig maps the configured knobs onto the access-layer Config.
func coreConfig(log *logrus.Logger) vaultstream.Config {
	cfg := vaultstream.Config{Logger: log}
	cfg.PreloadThreshold = viper.GetInt64("preload-threshold")
	cfg.MaxFileSize = viper.GetInt64("max-file-size")
	cfg.CacheCapacity = viper.GetInt("cache-capacity")
	cfg.RecencyWindow = viper.GetDuration("recency-window")
	cfg.LookaheadBytes = viper.GetInt64("lookahead-bytes")
	cfg.LoadRetries = viper.GetInt("load-retries")
	cfg.LoadTimeout = viper.GetDuration("load-timeout")
	cfg.PreloadTimeout = viper.GetDuration("preload-timeout")
	return cfg
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}
