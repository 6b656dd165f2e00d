package config

import "strings"

// Parse reads JSONC configuration content over base and validates the result.
// Empty content validates base unchanged.
func Parse(content string, base Config) (Config, []Warning, error) {
	cfg, warnings, err := decode(content, base)
	if err != nil {
		return Config{}, nil, err
	}

	validated, validatedWarnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return validated, append(warnings, validatedWarnings...), nil
}

func decode(content string, base Config) (Config, []Warning, error) {
	if strings.TrimSpace(content) == "" {
		return base, nil, nil
	}
	return parseJSONC(content, base)
}
