package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/inodb/zcall/internal/genotype"
	"github.com/inodb/zcall/internal/plink"
)

// configKeys are the settings zcall reads from ~/.zcall.yaml.
var configKeys = []string{
	"calibration.digits",
	"calibration.min_intensity",
	"call.layout",
	"call.mode",
	"verbose",
	"workers",
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage zcall configuration",
		Long:  "Show, get, or set configuration values. Config is stored in ~/.zcall.yaml.",
		Example: `  zcall config                                  # show all config
  zcall config set calibration.min_intensity 0.25
  zcall config set call.layout individual-major
  zcall config get workers`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow()
		},
	}

	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigGetCmd())

	return cmd
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSet(args[0], args[1])
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigGet(args[0])
		},
	}
}

func runConfigShow() error {
	settings := make(map[string]any, len(configKeys))
	for _, k := range configKeys {
		settings[k] = viper.Get(k)
	}
	out, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	fmt.Print(string(out))
	return nil
}

// parseConfigValue checks value against the type of key.
func parseConfigValue(key, value string) (any, error) {
	switch key {
	case "verbose":
		switch value {
		case "true", "yes", "on":
			return true, nil
		case "false", "no", "off":
			return false, nil
		}
		return nil, fmt.Errorf("%s: want true or false, have %q", key, value)
	case "workers", "calibration.digits":
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("%s: want an integer, have %q", key, value)
		}
		return n, nil
	case "calibration.min_intensity":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: want a number, have %q", key, value)
		}
		return f, nil
	case "call.mode":
		if _, err := genotype.ParsePolicy(value); err != nil {
			return nil, err
		}
		return value, nil
	case "call.layout":
		if _, err := plink.ParseMode(value); err != nil {
			return nil, err
		}
		return value, nil
	}
	return nil, fmt.Errorf("unknown config key %q", key)
}

func runConfigSet(key, value string) error {
	v, err := parseConfigValue(key, value)
	if err != nil {
		return err
	}

	cfgFile := viper.ConfigFileUsed()
	if cfgFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("cannot determine home directory: %w", err)
		}
		cfgFile = filepath.Join(home, ".zcall.yaml")
	}

	if err := writeConfigKey(cfgFile, key, v); err != nil {
		return err
	}
	viper.Set(key, v)

	fmt.Printf("Set %s = %s in %s\n", key, value, cfgFile)
	return nil
}

// writeConfigKey sets one dotted key in the YAML file at path and leaves
// every other entry as it was.
func writeConfigKey(path, key string, value any) error {
	settings := make(map[string]any)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &settings); err != nil {
			return fmt.Errorf("parsing config %s: %w", path, err)
		}
		if settings == nil {
			settings = make(map[string]any)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("reading config: %w", err)
	}

	parts := strings.Split(key, ".")
	node := settings
	for _, p := range parts[:len(parts)-1] {
		child, ok := node[p].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[p] = child
		}
		node = child
	}
	node[parts[len(parts)-1]] = value

	out, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func runConfigGet(key string) error {
	if !slices.Contains(configKeys, key) {
		return fmt.Errorf("unknown config key %q", key)
	}
	fmt.Println(viper.Get(key))
	return nil
}
