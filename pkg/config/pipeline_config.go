// Package config provides loading and validation of pipeline definition
// files.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/dmawi/gridci/pkg/models"
)

// pipelineSchema is the structural gate applied to the raw document before
// decoding. Field-level rules live on the models.
const pipelineSchema = `{
	"type": "object",
	"required": ["name", "on", "jobs"],
	"properties": {
		"id":   {"type": "string"},
		"name": {"type": "string", "minLength": 3},
		"on": {
			"type": "object",
			"properties": {
				"push":         {"type": "object"},
				"pull_request": {"type": "object"},
				"schedule":     {"type": "array"},
				"dispatch":     {"type": "object"}
			},
			"additionalProperties": false
		},
		"env": {"type": "object"},
		"jobs": {
			"type": "object",
			"minProperties": 1,
			"additionalProperties": {
				"type": "object",
				"required": ["runs-on", "steps"],
				"properties": {
					"runs-on":  {"type": "string"},
					"steps":    {"type": "array", "minItems": 1},
					"strategy": {"type": "object"},
					"env":      {"type": "object"},
					"timeout-minutes": {"type": "integer", "minimum": 1}
				}
			}
		}
	},
	"additionalProperties": false
}`

// LoadPipeline loads a pipeline definition from a YAML file.
func LoadPipeline(filepath string) (*models.Pipeline, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file %s: %w", filepath, err)
	}

	return ParsePipeline(data)
}

// ParsePipeline decodes and validates a pipeline definition document.
func ParsePipeline(data []byte) (*models.Pipeline, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML pipeline: %w", err)
	}

	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	var pipeline models.Pipeline
	if err := yaml.Unmarshal(data, &pipeline); err != nil {
		return nil, fmt.Errorf("failed to decode pipeline: %w", err)
	}

	applyDefaults(&pipeline)

	if err := ValidatePipeline(&pipeline); err != nil {
		return nil, err
	}

	return &pipeline, nil
}

// ValidatePipeline runs struct-tag validation plus the model-level rules.
func ValidatePipeline(pipeline *models.Pipeline) error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	if err := validate.Struct(pipeline); err != nil {
		return fmt.Errorf("pipeline validation failed: %w", err)
	}

	return pipeline.Validate()
}

func validateSchema(document any) error {
	schemaLoader := gojsonschema.NewStringLoader(pipelineSchema)
	dataLoader := gojsonschema.NewGoLoader(document)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("failed to validate pipeline document: %w", err)
	}

	if !result.Valid() {
		descriptions := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			descriptions = append(descriptions, desc.String())
		}

		return fmt.Errorf("invalid pipeline document: %s", strings.Join(descriptions, "; "))
	}

	return nil
}

// applyDefaults fills the fields a pipeline file may omit.
func applyDefaults(pipeline *models.Pipeline) {
	if pipeline.ID == "" {
		pipeline.ID = slugify(pipeline.Name)
	}
}

func slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.ReplaceAll(slug, " ", "-")

	return slug
}
