package config

import "strings"

// Parse reads JSONC configuration content over base and validates the result.
func Parse(content string, base Config) (Config, []Warning, error) {
	if strings.TrimSpace(content) == "" {
		return validated(base, nil)
	}
	return parseJSONC(content, base)
}
