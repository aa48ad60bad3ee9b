// Package generation declares the external collaborators the pipeline
// drives: character synthesis, feature analysis, story generation, scene
// rendering, mockup composition and document assembly.
package generation

import (
	"context"
	"strings"
)

// Image is an encoded image held in memory.
type Image struct {
	Data     []byte
	MIMEType string
}

// Empty reports whether the image carries no data.
func (i Image) Empty() bool {
	return len(i.Data) == 0
}

// Traits are the visual features extracted from a character image.
type Traits struct {
	Gender              string `json:"gender"`
	AgePrompt           string `json:"age_prompt"`
	HairPrompt          string `json:"hair_prompt"`
	EyePrompt           string `json:"eye_prompt"`
	SkinTone            string `json:"skin_tone"`
	Ethnicity           string `json:"ethnicity"`
	Clothing            string `json:"clothing"`
	DistinctiveFeatures string `json:"distinctive_features"`
	// ConsistencyDescription is injected into every scene prompt.
	ConsistencyDescription string `json:"consistency_string"`
}

// StoryRequest personalises a story.
type StoryRequest struct {
	ChildName              string
	Theme                  string
	AgeBand                string
	ConsistencyDescription string
}

// StoryScene is one generated scene, in order. Index 0 is the cover.
type StoryScene struct {
	Text           string
	ImageDirective string
}

// Story is the full narrative of a book.
type Story struct {
	Title  string
	Scenes []StoryScene
}

// SceneRequest asks for one scene render.
type SceneRequest struct {
	Character Image
	Directive string
	Style     string
	// Cover selects the variant that replaces the reference background.
	Cover bool
}

// ComposeRequest asks for a presentation-ready mockup of a render.
type ComposeRequest struct {
	Render   Image
	Template string
	Title    string
	PageText string
}

// DocumentPage is one page of the final document.
type DocumentPage struct {
	Number int
	Text   string
	Image  Image
}

// DocumentRequest asks for the final document.
type DocumentRequest struct {
	ChildName string
	Title     string
	Pages     []DocumentPage
}

// CharacterSynthesizer turns a photo into a stylised character image.
type CharacterSynthesizer interface {
	SynthesizeCharacter(ctx context.Context, photo Image, prompt string) (Image, error)
}

// FeatureAnalyzer extracts the traits of a character image.
type FeatureAnalyzer interface {
	AnalyzeFeatures(ctx context.Context, character Image) (Traits, error)
}

// StoryGenerator writes the ordered scenes for a theme.
type StoryGenerator interface {
	GenerateStory(ctx context.Context, req StoryRequest) (Story, error)
}

// SceneRenderer renders one scene around the character reference.
type SceneRenderer interface {
	RenderScene(ctx context.Context, req SceneRequest) (Image, error)
}

// Compositor builds a preview mockup. Callers treat any error as a soft
// failure and fall back to the raw render.
type Compositor interface {
	Compose(ctx context.Context, req ComposeRequest) (Image, error)
}

// DocumentAssembler lays out the final document.
type DocumentAssembler interface {
	Assemble(ctx context.Context, req DocumentRequest) ([]byte, error)
}

// CharacterPrompt is the synthesis prompt for a child photo in the given style.
func CharacterPrompt(style string) string {
	return SubjectPrompt(style, "child")
}

// SubjectPrompt is CharacterPrompt for a named subject such as "boy" or "girl".
func SubjectPrompt(style, subject string) string {
	return "Transform this " + subject + " into a " + StylePrompt(style) + " character. " +
		"Keep the exact same facial features, skin tone and ethnicity. " +
		"Big expressive eyes, soft cinematic lighting. " +
		"Full body front view, clean white background, professional character concept art."
}

// Subject maps the wizard's gender choice, in English or German, to the
// prompt's subject. Anything else is "child".
func Subject(gender string) string {
	switch strings.ToLower(strings.TrimSpace(gender)) {
	case "boy", "junge":
		return "boy"
	case "girl", "mädchen", "maedchen":
		return "girl"
	}
	return "child"
}

var stylePrompts = map[string]string{
	"pixar_3d":   "3D animated, Pixar and Disney style",
	"watercolor": "whimsical watercolor storybook",
	"pencil":     "hand-drawn colored pencil",
	"cartoon":    "colorful 2D cartoon with bold clean outlines",
	"storybook":  "classic fairytale storybook",
}

// StylePrompt describes an illustration style. Unknown styles fall back to pixar_3d.
func StylePrompt(style string) string {
	if p, ok := stylePrompts[style]; ok {
		return p
	}
	return stylePrompts["pixar_3d"]
}
