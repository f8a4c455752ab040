package sourcer

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var defaultSchema []byte

// ErrInvalidDocument is returned for documents that do not match the schema.
var ErrInvalidDocument = errors.New("invalid document")

// Parser defines the interface for parsing content into a document.
type Parser interface {
	Parse(url string, data []byte) (*Source, error)
}

// YAMLParser is an implementation of Parser that parses YAML content.
type YAMLParser struct {
	schemaLoader gojsonschema.JSONLoader
}

// NewYAMLParser creates a YAMLParser validating against the built-in schema.
func NewYAMLParser() *YAMLParser {
	return &YAMLParser{
		schemaLoader: gojsonschema.NewBytesLoader(defaultSchema),
	}
}

// NewYAMLParserFromFile creates a YAMLParser validating against the schema at schemaPath.
func NewYAMLParserFromFile(schemaPath string) (*YAMLParser, error) {
	schemaLoader := gojsonschema.NewReferenceLoader(fmt.Sprintf("file://%s", schemaPath))
	_, err := schemaLoader.LoadJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}

	return &YAMLParser{
		schemaLoader: schemaLoader,
	}, nil
}

// Parse parses a YAML byte slice and returns the document it holds.
func (p *YAMLParser) Parse(rawURL string, data []byte) (*Source, error) {
	// Convert YAML to JSON, as gojsonschema only works with JSON
	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to convert yaml to json: %w", err)
	}

	documentLoader := gojsonschema.NewBytesLoader(jsonData)

	result, err := gojsonschema.Validate(p.schemaLoader, documentLoader)
	if err != nil {
		return nil, fmt.Errorf("failed to validate document: %w", err)
	}

	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return nil, fmt.Errorf("%w: '%s': %s", ErrInvalidDocument, rawURL, strings.Join(problems, "; "))
	}

	var s Source
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}

	if err := fillCampaigns(rawURL, &s); err != nil {
		return nil, err
	}

	return &s, nil
}

// fillCampaigns names unnamed campaigns after the document they came from:
// onboarding.yaml -> onboarding, or onboarding-2 for the second one.
func fillCampaigns(rawURL string, s *Source) error {
	var base string
	for i := range s.Campaigns {
		if s.Campaigns[i].Name != "" {
			continue
		}
		if base == "" {
			u, err := url.Parse(rawURL)
			if err != nil {
				return fmt.Errorf("failed to parse url %s: %w", rawURL, err)
			}
			base = strings.ReplaceAll(
				strings.TrimSuffix(strings.TrimSuffix(path.Base(u.Path), ".yaml"), ".yml"),
				".", "-",
			)
		}
		s.Campaigns[i].Name = base
		if i > 0 {
			s.Campaigns[i].Name = fmt.Sprintf("%s-%d", base, i+1)
		}
	}
	return nil
}
