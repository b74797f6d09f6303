package config

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

//go:embed schema.json
var embeddedSchema string

// VerifyAgainstEmbeddedSchema validates the config against the embedded JSON schema
func VerifyAgainstEmbeddedSchema(cfg *Config) error {
	// parse schema
	var schema struct {
		Ref  string `json:"$ref"`
		Defs map[string]struct {
			Properties map[string]any `json:"properties"`
		} `json:"$defs"`
	}
	if err := json.Unmarshal([]byte(embeddedSchema), &schema); err != nil {
		return fmt.Errorf("parse embedded schema: %w", err)
	}

	// convert config to JSON for validation
	configData, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	var configMap map[string]any
	if err := json.Unmarshal(configData, &configMap); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}

	// every top-level section must be known to the schema
	root, ok := schema.Defs["Config"]
	if !ok {
		return fmt.Errorf("schema has no Config definition")
	}
	for key := range configMap {
		if _, ok := root.Properties[key]; !ok {
			return fmt.Errorf("section %q is not in schema", key)
		}
	}

	// basic validation - check required fields match
	if err := validateRequiredFields(cfg); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// validateRequiredFields performs basic validation of required fields
func validateRequiredFields(cfg *Config) error {
	// check snapshot config
	if cfg.Snapshot.Path == "" {
		return fmt.Errorf("snapshot.path is required")
	}
	if cfg.Snapshot.S3.Bucket != "" && cfg.Snapshot.S3.Key == "" {
		return fmt.Errorf("snapshot.s3.key is required when bucket is set")
	}

	// check source config
	if cfg.Source.Type == SourceCSV && (len(cfg.Source.News) == 0 || len(cfg.Source.Users) == 0) {
		return fmt.Errorf("source.news and source.users are required for csv source")
	}

	// check embedding config if enabled
	if cfg.Embedding.Provider != "" {
		if cfg.Embedding.Timeout == 0 {
			return fmt.Errorf("embedding.timeout is required when provider is set")
		}
		if cfg.Embedding.CacheSize < 0 {
			return fmt.Errorf("embedding.cache_size must be non-negative")
		}
	}

	return nil
}

// GenerateSchema generates a JSON schema for the Config struct
func GenerateSchema() (*jsonschema.Schema, error) {
	return jsonschema.Reflect(&Config{}), nil
}
