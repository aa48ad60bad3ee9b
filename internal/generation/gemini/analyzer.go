package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cuongbtq/storybook-be/internal/book"
	"github.com/cuongbtq/storybook-be/internal/generation"
	"github.com/google/generative-ai-go/genai"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const analysisPrompt = `You are a technical image analyst preparing a character sheet for an illustrator.
Describe the child in the image as a JSON object with these string fields:
gender ("boy", "girl" or "child"), age_prompt, hair_prompt, eye_prompt, skin_tone,
ethnicity, clothing, distinctive_features (empty string if none) and consistency_string.
Identify the actual skin tone and ignore bright lighting.
consistency_string is a comma-separated summary that starts with ethnicity and skin tone,
then age, gender, hair and eyes.`

const traitsSchema = `{
	"type": "object",
	"required": ["gender", "hair_prompt", "eye_prompt", "skin_tone", "consistency_string"],
	"properties": {
		"gender": {"enum": ["boy", "girl", "child"]},
		"age_prompt": {"type": "string"},
		"hair_prompt": {"type": "string"},
		"eye_prompt": {"type": "string"},
		"skin_tone": {"type": "string"},
		"ethnicity": {"type": "string"},
		"clothing": {"type": "string"},
		"distinctive_features": {"type": "string"},
		"consistency_string": {"type": "string"}
	}
}`

type traitsValidator struct {
	schema *jsonschema.Schema
}

func newTraitsValidator() (*traitsValidator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("traits.json", strings.NewReader(traitsSchema)); err != nil {
		return nil, fmt.Errorf("failed to add traits schema: %w", err)
	}

	schema, err := compiler.Compile("traits.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile traits schema: %w", err)
	}

	return &traitsValidator{schema: schema}, nil
}

// parse validates raw model output and decodes it. Output that does not match
// the schema is permanent: the same prompt will not fix it.
func (v *traitsValidator) parse(raw string) (generation.Traits, error) {
	raw = stripFence(raw)

	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return generation.Traits{}, book.Permanent(fmt.Errorf("malformed traits json: %w", err))
	}
	if err := v.schema.Validate(doc); err != nil {
		return generation.Traits{}, book.Permanent(fmt.Errorf("traits do not match schema: %w", err))
	}

	var traits generation.Traits
	if err := json.NewDecoder(bytes.NewReader([]byte(raw))).Decode(&traits); err != nil {
		return generation.Traits{}, book.Permanent(fmt.Errorf("failed to decode traits: %w", err))
	}

	traits.ConsistencyDescription = strings.TrimSpace(traits.ConsistencyDescription)
	return traits, nil
}

// AnalyzeFeatures extracts the visual traits of a character image
func (c *Client) AnalyzeFeatures(ctx context.Context, character generation.Image) (generation.Traits, error) {
	if character.Empty() {
		return generation.Traits{}, book.Permanent(fmt.Errorf("character image is empty"))
	}

	resp, err := c.textModel.GenerateContent(ctx, blob(character), genai.Text(analysisPrompt))
	if err != nil {
		return generation.Traits{}, fmt.Errorf("failed to analyze features: %w", classify(err))
	}

	raw, err := firstText(resp)
	if err != nil {
		return generation.Traits{}, fmt.Errorf("failed to analyze features: %w", err)
	}

	return c.traits.parse(raw)
}

// stripFence removes a markdown code fence some models wrap JSON in.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
