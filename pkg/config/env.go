package config

import (
	"os"
	"regexp"
)

// envVarPattern matches ${VAR} or ${VAR:-default}
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnv replaces environment variable references in the input string
// with their values.
//
// Supported formats:
//   - ${VAR}          - Replaces with the value of VAR, or empty string if not set
//   - ${VAR:-default} - Replaces with the value of VAR, or "default" if VAR is not set or empty
func ExpandEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		hasDefault := len(parts) >= 4 && parts[2] != ""
		defaultValue := ""
		if hasDefault {
			defaultValue = parts[3]
		}

		value, exists := os.LookupEnv(varName)
		if exists && value != "" {
			return value
		}
		if hasDefault {
			return defaultValue
		}
		return ""
	})
}

// ExpandEnvBytes is a convenience wrapper around ExpandEnv for byte slices,
// used to process file contents before YAML/JSON unmarshaling.
func ExpandEnvBytes(input []byte) []byte {
	return []byte(ExpandEnv(string(input)))
}
