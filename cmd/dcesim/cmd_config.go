package main

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/choice-lab/internal/config"
	"github.com/nvandessel/choice-lab/internal/store"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage dcesim configuration",
		Long: `View and modify dcesim configuration settings.

Configuration is stored in ~/.dcesim/config.yaml. DCESIM_* environment
variables override the file, e.g. DCESIM_SAMPLER_CHAINS=2.

Examples:
  dcesim config list                              # Show all settings
  dcesim config get sampler.chains                # Get a specific setting
  dcesim config set sampler.cmdstan_home ~/cmdstan
  dcesim config set simulation.noise alternative`,
	}

	cmd.AddCommand(
		newConfigListCmd(),
		newConfigGetCmd(),
		newConfigSetCmd(),
	)
	return cmd
}

func newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configuration settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if jsonOut {
				return writeJSON(cmd, cfg)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, "Configuration (~/.dcesim/config.yaml):")
			section := ""
			for _, key := range configKeys() {
				if s, _, _ := strings.Cut(key, "."); s != section {
					section = s
					fmt.Fprintf(w, "\n%s:\n", section)
				}
				value, _ := getConfigValue(cfg, key)
				fmt.Fprintf(w, "  %-28s %s\n", key+":", valueOrDefault(value, "(not set)"))
			}
			return nil
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			key := args[0]

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			value, found := getConfigValue(cfg, key)
			if !found {
				return fmt.Errorf("unknown configuration key: %s", key)
			}
			if jsonOut {
				return writeJSON(cmd, map[string]any{"key": key, "value": value})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", key, value)
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			key, value := args[0], args[1]

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := setConfigValue(cfg, key, value); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid value for %s: %w", key, err)
			}
			path, err := saveConfig(cfg)
			if err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			if jsonOut {
				return writeJSON(cmd, map[string]any{"status": "updated", "key": key, "value": value, "path": path})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
			return nil
		},
	}
}

// configKeys returns every settable dot-notation key in declaration order.
func configKeys() []string {
	var keys []string
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			name := yamlName(f)
			if name == "" {
				continue
			}
			if f.Type.Kind() == reflect.Struct && f.Type.PkgPath() != "time" {
				walk(f.Type, prefix+name+".")
				continue
			}
			keys = append(keys, prefix+name)
		}
	}
	walk(reflect.TypeOf(config.DcesimConfig{}), "")
	return keys
}

// configField resolves a dot-notation key to the addressable field it names.
func configField(cfg *config.DcesimConfig, key string) (reflect.Value, bool) {
	v := reflect.ValueOf(cfg).Elem()
	for _, part := range strings.Split(key, ".") {
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, false
		}
		found := false
		for i := 0; i < v.NumField(); i++ {
			if yamlName(v.Type().Field(i)) == part {
				v = v.Field(i)
				found = true
				break
			}
		}
		if !found {
			return reflect.Value{}, false
		}
	}
	if v.Kind() == reflect.Struct {
		return reflect.Value{}, false
	}
	return v, true
}

// getConfigValue retrieves a configuration value by dot-notation key,
// rendered as it would appear in the YAML file.
func getConfigValue(cfg *config.DcesimConfig, key string) (string, bool) {
	f, ok := configField(cfg, key)
	if !ok {
		return "", false
	}
	if f.IsZero() && f.Kind() == reflect.String {
		return "", true
	}
	out, err := yaml.Marshal(f.Interface())
	if err != nil {
		return fmt.Sprint(f.Interface()), true
	}
	return strings.TrimSpace(string(out)), true
}

// setConfigValue parses value as YAML into the field named by key, so
// durations like "30m" and integers are checked against the field type.
func setConfigValue(cfg *config.DcesimConfig, key, value string) error {
	f, ok := configField(cfg, key)
	if !ok {
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	ptr := reflect.New(f.Type())
	if f.Kind() == reflect.String {
		ptr.Elem().SetString(value)
	} else if err := yaml.Unmarshal([]byte(value), ptr.Interface()); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	f.Set(ptr.Elem())
	return nil
}

// saveConfig writes cfg to ~/.dcesim/config.yaml and returns the path.
func saveConfig(cfg *config.DcesimConfig) (string, error) {
	dir, err := store.GlobalPath()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshaling config: %w", err)
	}
	path := filepath.Join(dir, config.FileName)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", err
	}
	return path, nil
}

func yamlName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
	if name == "-" {
		return ""
	}
	return name
}

func valueOrDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
