package openai

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"
)

// PromptSpec is one prompt with its model parameters
type PromptSpec struct {
	Temperature  float32 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
	System       string  `yaml:"system"`
	UserTemplate string  `yaml:"user_template"`
}

// PromptConfig holds the prompts used by the category model
type PromptConfig struct {
	Categorize PromptSpec `yaml:"categorize"`
}

// DefaultPrompts is used when no prompts file is configured
func DefaultPrompts() *PromptConfig {
	return &PromptConfig{
		Categorize: PromptSpec{
			Temperature: 0,
			MaxTokens:   100,
			System: "You classify corporate expense claims. Answer with a JSON object " +
				`{"category": "<one of the allowed categories>", "confidence": <0..1>}.`,
			UserTemplate: "Allowed categories: {{join .Categories \", \"}}\n" +
				"Merchant: {{.Merchant}}\n" +
				"Description: {{.Description}}\n" +
				"Amount: ${{printf \"%.2f\" .Amount}}",
		},
	}
}

// LoadPrompts loads prompt configuration from a YAML file. Sections left
// empty in the file keep their defaults.
func LoadPrompts(promptsPath string) (*PromptConfig, error) {
	data, err := os.ReadFile(promptsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}

	prompts := DefaultPrompts()
	if err := yaml.Unmarshal(data, prompts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prompts: %w", err)
	}
	return prompts, nil
}

// renderTemplate renders a template with provided data
func renderTemplate(templateStr string, data interface{}) (string, error) {
	tmpl, err := template.New("prompt").Funcs(template.FuncMap{"join": joinStrings}).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

func joinStrings(items []string, sep string) string {
	var buf bytes.Buffer
	for i, item := range items {
		if i > 0 {
			buf.WriteString(sep)
		}
		buf.WriteString(item)
	}
	return buf.String()
}
