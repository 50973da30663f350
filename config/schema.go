// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/soothill/plant-feed/pkg/util"
)

//go:embed schema.json
var schemaJSON []byte

var schemaLoader = gojsonschema.NewBytesLoader(schemaJSON)

// ValidateWithSchema validates a configuration file against the JSON schema.
// This catches unknown keys and type mistakes that Load would silently accept.
//
// Example usage:
//
//	if err := config.ValidateWithSchema("config.yaml"); err != nil {
//	    log.Fatal(err)
//	}
func ValidateWithSchema(configPath string) error {
	configData, err := util.ReadFileSafely(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	return validateDocument(configData)
}

func validateDocument(configData []byte) error {
	// YAML is a superset of JSON, so both formats parse here
	var configObj any
	if err := yaml.Unmarshal(configData, &configObj); err != nil {
		return fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if configObj == nil {
		configObj = map[string]any{}
	}

	configJSON, err := json.Marshal(configObj)
	if err != nil {
		return fmt.Errorf("failed to convert config to JSON: %w", err)
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(configJSON))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		return formatValidationErrors(result.Errors())
	}

	return nil
}

// formatValidationErrors formats JSON schema validation errors into a readable message
func formatValidationErrors(errors []gojsonschema.ResultError) error {
	if len(errors) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("configuration validation errors:\n")
	for i, err := range errors {
		fmt.Fprintf(&b, "  %d. %s: %s\n", i+1, err.Field(), err.Description())
	}

	return fmt.Errorf("%s", b.String())
}

// GetSchemaJSON returns the embedded JSON schema as a string.
func GetSchemaJSON() string {
	return string(schemaJSON)
}
