package openai

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"
)

// PromptConfig holds the advisory prompt and model parameters
type PromptConfig struct {
	Advisory struct {
		Temperature  float32 `yaml:"temperature"`
		MaxTokens    int     `yaml:"max_tokens"`
		System       string  `yaml:"system"`
		UserTemplate string  `yaml:"user_template"`
	} `yaml:"advisory"`
}

const defaultSystemPrompt = `You are a senior EU VAT compliance reviewer. You receive findings produced by a deterministic rule engine and rate how likely each one is to cause a real penalty. You never invent new findings and never drop one. Always respond with a single JSON object and nothing else.`

const defaultUserTemplate = `Review these {{.Count}} VAT compliance findings:

{{.ItemsJSON}}

Respond with ONLY a JSON object of this exact structure, one entry per finding, reusing each finding's index:
{
  "items": [
    {"index": number, "confidence_multiplier": number between 0.5 and 1.5, "insight": "one or two sentences"}
  ]
}

Use a multiplier above 1 when the finding is more urgent than its severity suggests and below 1 when it is likely benign.`

// DefaultPrompts returns the built-in advisory prompt
func DefaultPrompts() *PromptConfig {
	p := &PromptConfig{}
	p.Advisory.Temperature = 0.2
	p.Advisory.MaxTokens = 2048
	p.Advisory.System = defaultSystemPrompt
	p.Advisory.UserTemplate = defaultUserTemplate
	return p
}

// LoadPrompts loads prompt configuration from a YAML file. Missing keys keep
// their built-in values.
func LoadPrompts(promptsPath string) (*PromptConfig, error) {
	data, err := os.ReadFile(promptsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}

	prompts := DefaultPrompts()
	if err := yaml.Unmarshal(data, prompts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prompts: %w", err)
	}

	if _, err := template.New("prompt").Parse(prompts.Advisory.UserTemplate); err != nil {
		return nil, fmt.Errorf("invalid advisory user_template: %w", err)
	}

	return prompts, nil
}

// renderTemplate renders a template with provided data
func renderTemplate(templateStr string, data interface{}) (string, error) {
	tmpl, err := template.New("prompt").Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}
