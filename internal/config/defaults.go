package config

import "github.com/spf13/viper"

// Built-in values used when no default.yaml is found next to the binary.
const (
	DefaultBackend   = "ollama"
	DefaultModel     = "deepseek-r1:8b"
	DefaultOutputDir = "ontologies"
	DefaultLogLevel  = "info"
	DefaultRetain    = 7
)

// DefaultFields is the field list queried when nothing else is configured.
var DefaultFields = []string{"biology", "chemistry", "physics", "computer science"}

// listKeys hold YAML sequences rather than scalars.
var listKeys = map[string]bool{
	"defaults.fields": true,
}

func applyBuiltinDefaults(v *viper.Viper) {
	v.SetDefault("defaults.backend", DefaultBackend)
	v.SetDefault("defaults.model", DefaultModel)
	v.SetDefault("defaults.output_dir", DefaultOutputDir)
	v.SetDefault("defaults.fields", append([]string(nil), DefaultFields...))
	v.SetDefault("logging.level", DefaultLogLevel)
	v.SetDefault("logging.retain_days", DefaultRetain)
}
