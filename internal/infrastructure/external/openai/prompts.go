package openai

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"
)

// PromptSection holds the model parameters and prompt text for one call
type PromptSection struct {
	Temperature  float32 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
	System       string  `yaml:"system"`
	UserTemplate string  `yaml:"user_template"`
}

// PromptConfig holds all prompts and model parameters used by the
// decision engine
type PromptConfig struct {
	IntentClassification PromptSection `yaml:"intent_classification"`
	Decision             PromptSection `yaml:"decision"`
}

// LoadPrompts loads prompt configuration from YAML file
func LoadPrompts(promptsPath string) (*PromptConfig, error) {
	data, err := os.ReadFile(promptsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}

	var prompts PromptConfig
	if err := yaml.Unmarshal(data, &prompts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prompts: %w", err)
	}

	return &prompts, nil
}

// DefaultPrompts returns the built-in prompt set used when no prompts
// file is configured
func DefaultPrompts() *PromptConfig {
	return &PromptConfig{
		IntentClassification: PromptSection{
			Temperature: 0.1,
			MaxTokens:   512,
			System:      "You are an intent classifier for an operations automation agent. Classify the business intent of inbound signals. Always respond with valid JSON.",
			UserTemplate: `Classify the intent of this inbound signal:

**Source:** {{.Source}}
**Type:** {{.Type}}
**Content:**
{{.Content}}

Respond with ONLY a valid JSON object (no markdown, no explanation):
{
  "intent": string,
  "confidence": number between 0.0 and 1.0,
  "reasoning": string
}`,
		},
		Decision: PromptSection{
			Temperature: 0.2,
			MaxTokens:   2048,
			System:      "You are an autonomous operations agent for a service business. Given an inbound signal and the organization's current state, decide which actions to take. Only propose actions from the permitted set. Always respond with valid JSON.",
			UserTemplate: `Decide what to do about this inbound signal.

**Signal:**
{{.InputJSON}}

**Organization State:**
{{.OrgJSON}}
{{if .HistoryJSON}}
**Recent History:**
{{.HistoryJSON}}
{{end}}
**Permitted Action Types:**
{{.ActionsList}}

Respond with ONLY a valid JSON object (no markdown, no explanation). The JSON must have this exact structure:
{
  "intent": string,
  "confidence": number between 0.0 and 1.0,
  "reasoning": string,
  "requires_approval": boolean,
  "actions": [
    {
      "type": string from the permitted set,
      "params": object,
      "priority": integer 1-5 where 5 is most urgent,
      "requires_confirmation": boolean
    }
  ]
}

Rules:
- Propose no actions (empty array) if nothing should be done.
- Set requires_approval true for anything destructive or customer-visible you are unsure about.
- Set confidence to reflect your certainty in the overall decision.`,
		},
	}
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
