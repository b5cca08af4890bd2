package config

import (
	"fmt"
	"os"
	"strings"
)

// resolveSecret expands "env(VAR_NAME)" references to the variable's
// value; anything else is returned as-is.
func resolveSecret(ref string) (string, error) {
	if !strings.HasPrefix(ref, "env(") {
		return ref, nil
	}
	if !strings.HasSuffix(ref, ")") {
		return "", fmt.Errorf("unsupported secret reference format: %q (expected env(VAR_NAME))", ref)
	}

	varName := ref[4 : len(ref)-1]
	value, ok := os.LookupEnv(varName)
	if !ok {
		return "", fmt.Errorf("environment variable %q not set", varName)
	}
	return value, nil
}

// resolveSecrets expands every secret reference in the config.
func (c *Config) resolveSecrets() error {
	var err error
	if c.Server.APIKey, err = resolveSecret(c.Server.APIKey); err != nil {
		return fmt.Errorf("server.api_key: %w", err)
	}
	if c.Embedding.GenAIAPIKey, err = resolveSecret(c.Embedding.GenAIAPIKey); err != nil {
		return fmt.Errorf("embedding.genai_api_key: %w", err)
	}
	return nil
}
