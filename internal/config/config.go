package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Paths captures the config files used during LoadConfig.
type Paths struct {
	Default string
	Global  string
	Project string
}

var (
	currentConfig *viper.Viper
	currentPaths  Paths
)

// LoadConfig loads and merges configuration in priority order:
// default -> global -> project (highest).
func LoadConfig(projectDir string) (Paths, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("ONTOGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	applyBuiltinDefaults(v)

	paths := Paths{
		Default: defaultConfigPath(),
		Global:  globalConfigPath(),
		Project: projectConfigPath(projectDir),
	}

	for _, path := range []string{paths.Default, paths.Global, paths.Project} {
		if err := mergeLayer(v, path); err != nil {
			return paths, err
		}
	}

	currentConfig = v
	currentPaths = paths

	return paths, nil
}

// GetConfig returns a config value as a string. A non-empty legacy env var
// wins over files and ONTOGEN_* variables.
func GetConfig(key string) (string, bool) {
	if legacyKey, ok := legacyEnvOverrides()[key]; ok {
		if value := os.Getenv(legacyKey); value != "" {
			return value, true
		}
	}
	if key == "" || currentConfig == nil || !currentConfig.IsSet(key) {
		return "", false
	}
	return valueToString(currentConfig.Get(key)), true
}

// GetString returns a trimmed config value, or fallback when the key is unset
// or blank.
func GetString(key, fallback string) string {
	value, ok := GetConfig(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}

// GetList returns a list value. YAML sequences are taken entry by entry;
// plain strings (env vars, `config set`) are split on commas. Blank entries
// are dropped.
func GetList(key string) []string {
	if currentConfig != nil && currentConfig.IsSet(key) {
		switch typed := currentConfig.Get(key).(type) {
		case []string:
			return trimList(typed)
		case []interface{}:
			items := make([]string, 0, len(typed))
			for _, item := range typed {
				items = append(items, fmt.Sprint(item))
			}
			return trimList(items)
		}
	}

	value, ok := GetConfig(key)
	if !ok {
		return nil
	}
	return SplitList(value)
}

// SplitList splits a comma-separated list, trimming each entry.
func SplitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	return trimList(strings.Split(raw, ","))
}

func trimList(items []string) []string {
	result := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// CurrentPaths returns the config files resolved by the last LoadConfig.
func CurrentPaths() Paths {
	return currentPaths
}

// SetConfig writes key to the global config file and to the loaded config.
// Values for list keys are split on commas and stored as YAML sequences.
func SetConfig(key, value string) error {
	if key == "" {
		return errors.New("config key is required")
	}
	globalPath := globalConfigPath()
	if globalPath == "" {
		return errors.New("global config path is not available")
	}
	if err := os.MkdirAll(filepath.Dir(globalPath), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := mergeLayer(v, globalPath); err != nil {
		return err
	}

	var stored interface{} = value
	if listKeys[key] {
		stored = SplitList(value)
	}
	v.Set(key, stored)
	if err := v.WriteConfigAs(globalPath); err != nil {
		return fmt.Errorf("write global config: %w", err)
	}

	if currentConfig != nil {
		currentConfig.Set(key, stored)
	}
	return nil
}

// ConfigDir returns the per-user ontogen directory holding the global config,
// state and run logs.
func ConfigDir() string {
	return configDir()
}

// ListConfig returns a flattened view of the current configuration.
func ListConfig() (map[string]string, error) {
	if currentConfig == nil {
		return nil, errors.New("config not loaded")
	}

	settings := currentConfig.AllSettings()
	flattened := map[string]string{}
	flattenSettings("", settings, flattened)
	return flattened, nil
}

// defaultConfigPath finds the shipped default.yaml next to the binary or in
// the working directory. Built-in defaults cover its absence.
func defaultConfigPath() string {
	if path := os.Getenv("ONTOGEN_DEFAULT_CONFIG"); path != "" {
		return path
	}

	var dirs []string
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
	}
	for _, dir := range dirs {
		if candidate := filepath.Join(dir, "config", "default.yaml"); fileExists(candidate) {
			return candidate
		}
	}
	return ""
}

func globalConfigPath() string {
	if path := os.Getenv("ONTOGEN_GLOBAL_CONFIG"); path != "" {
		return path
	}
	if dir := configDir(); dir != "" {
		return filepath.Join(dir, "config.yaml")
	}
	return ""
}

// projectConfigPath returns .ontogen.yaml (or ONTOGEN_PROJECT_CONFIG_NAME)
// inside projectDir.
func projectConfigPath(projectDir string) string {
	if projectDir == "" {
		return ""
	}
	if info, err := os.Stat(projectDir); err != nil || !info.IsDir() {
		return ""
	}
	name := os.Getenv("ONTOGEN_PROJECT_CONFIG_NAME")
	if name == "" {
		name = ".ontogen.yaml"
	}
	return filepath.Join(projectDir, name)
}

func configDir() string {
	if path := os.Getenv("ONTOGEN_CONFIG_DIR"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "ontogen")
}

// mergeLayer merges one YAML file over v. Missing files are skipped.
func mergeLayer(v *viper.Viper, path string) error {
	if !fileExists(path) {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	return nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}

	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func legacyEnvOverrides() map[string]string {
	return map[string]string{
		"defaults.backend":    "ONTOGEN_BACKEND",
		"defaults.model":      "ONTOGEN_MODEL",
		"defaults.output_dir": "ONTOGEN_OUTPUT_DIR",
		"ollama.host":         "OLLAMA_HOST",
	}
}

func valueToString(value interface{}) string {
	switch typed := value.(type) {
	case []string:
		return strings.Join(typed, ", ")
	case []interface{}:
		parts := make([]string, 0, len(typed))
		for _, item := range typed {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(value)
	}
}

// flattenSettings turns viper's nested settings into dotted keys.
func flattenSettings(prefix string, value interface{}, out map[string]string) {
	nested, ok := value.(map[string]interface{})
	if !ok {
		if prefix != "" && value != nil {
			out[prefix] = valueToString(value)
		}
		return
	}
	for key, item := range nested {
		if prefix != "" {
			key = prefix + "." + key
		}
		flattenSettings(key, item, out)
	}
}
