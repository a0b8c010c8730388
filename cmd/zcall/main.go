// Package main provides the zcall command-line tool.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Exit codes
const (
	ExitSuccess = 0
	ExitError   = 1
)

// Version information (set at build time)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitError
	}
	return ExitSuccess
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "zcall",
		Short: "Recall no-call genotypes from microarray intensities",
		Long: `zcall recalls ambiguous genotypes in Illumina intensity (.gtc) files using
per-variant thresholds derived from a cluster file (.egt), and writes PLINK
genotype matrices.`,
		Version:       fmt.Sprintf("%s (%s) built %s", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}
	cmd.SetVersionTemplate("zcall version {{.Version}}\n")

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug messages")
	viper.BindPFlag("verbose", cmd.PersistentFlags().Lookup("verbose"))

	cmd.AddCommand(newThresholdsCmd())
	cmd.AddCommand(newEvaluateCmd())
	cmd.AddCommand(newCallCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newViewCmd())
	cmd.AddCommand(newConfigCmd())
	return cmd
}

// initConfig reads ~/.zcall.yaml if present and ZCALL_* environment
// variables.
func initConfig() error {
	viper.SetDefault("workers", 0)
	viper.SetDefault("calibration.min_intensity", 0.2)
	viper.SetDefault("calibration.digits", -1)
	viper.SetDefault("call.mode", "nocalls")
	viper.SetDefault("call.layout", "snp-major")

	if home, err := os.UserHomeDir(); err == nil {
		cfgFile := filepath.Join(home, ".zcall.yaml")
		viper.SetConfigFile(cfgFile)
		if _, err := os.Stat(cfgFile); err == nil {
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("reading config: %w", err)
			}
		}
	}

	viper.SetEnvPrefix("ZCALL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	return nil
}

// bindFlags binds config keys to the flags of the running command. Keys
// shared between commands are bound when the command runs, so each binds
// its own flag.
func bindFlags(cmd *cobra.Command, keys map[string]string) error {
	for key, flag := range keys {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			return fmt.Errorf("bind %s: no flag --%s", key, flag)
		}
		if err := viper.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

// newLogger builds a console logger at info level, or debug with
// --verbose.
func newLogger() (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	if viper.GetBool("verbose") {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	cfg.DisableStacktrace = true
	cfg.DisableCaller = true
	return cfg.Build()
}
