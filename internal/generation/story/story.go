// Package story writes personalised stories from the embedded theme
// templates. Every template has the same fixed number of scenes; scene 0 is
// the cover.
package story

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/cuongbtq/storybook-be/internal/book"
	"github.com/cuongbtq/storybook-be/internal/generation"
	"gopkg.in/yaml.v3"
)

//go:embed templates/*.yaml
var templatesFS embed.FS

// Template is a themed story with placeholders. Text may use {name};
// image directives may also use {character_desc} and {outfit}.
type Template struct {
	Theme   string          `yaml:"theme"`
	AgeBand string          `yaml:"age_band"`
	Title   string          `yaml:"title"`
	Outfit  string          `yaml:"outfit"`
	Scenes  []TemplateScene `yaml:"scenes"`
}

// TemplateScene is one scene of a template
type TemplateScene struct {
	Text  string `yaml:"text"`
	Image string `yaml:"image"`
}

// Generator implements generation.StoryGenerator from templates
type Generator struct {
	templates map[string]Template
}

var _ generation.StoryGenerator = (*Generator)(nil)

// NewGenerator loads the embedded templates and checks each has sceneCount scenes
func NewGenerator(sceneCount int) (*Generator, error) {
	return LoadGenerator(templatesFS, "templates", sceneCount)
}

// LoadGenerator loads every *.yaml template under dir
func LoadGenerator(fsys fs.FS, dir string, sceneCount int) (*Generator, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read templates: %w", err)
	}

	g := &Generator{templates: make(map[string]Template)}
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".yaml" {
			continue
		}

		data, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", entry.Name(), err)
		}

		var tpl Template
		if err := yaml.Unmarshal(data, &tpl); err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", entry.Name(), err)
		}

		if tpl.Theme == "" {
			return nil, fmt.Errorf("template %s: theme is required", entry.Name())
		}
		if len(tpl.Scenes) != sceneCount {
			return nil, fmt.Errorf("template %s: has %d scenes, want %d", entry.Name(), len(tpl.Scenes), sceneCount)
		}
		if _, dup := g.templates[tpl.Theme]; dup {
			return nil, fmt.Errorf("template %s: duplicate theme %q", entry.Name(), tpl.Theme)
		}

		g.templates[tpl.Theme] = tpl
	}

	if len(g.templates) == 0 {
		return nil, fmt.Errorf("no templates found in %s", dir)
	}

	return g, nil
}

// Themes lists the loaded theme ids
func (g *Generator) Themes() []string {
	themes := make([]string, 0, len(g.templates))
	for theme := range g.templates {
		themes = append(themes, theme)
	}
	return themes
}

// GenerateStory compiles the theme template for the child
func (g *Generator) GenerateStory(_ context.Context, req generation.StoryRequest) (generation.Story, error) {
	tpl, ok := g.templates[req.Theme]
	if !ok {
		return generation.Story{}, book.Permanent(fmt.Errorf("%w: %q", book.ErrUnknownTheme, req.Theme))
	}
	if req.AgeBand != "" && tpl.AgeBand != "" && req.AgeBand != tpl.AgeBand {
		return generation.Story{}, book.Permanent(fmt.Errorf("theme %q has no story for age band %q", req.Theme, req.AgeBand))
	}

	return Compile(tpl, req.ChildName, req.ConsistencyDescription), nil
}

// Compile substitutes the placeholders of tpl
func Compile(tpl Template, childName, characterDesc string) generation.Story {
	text := strings.NewReplacer("{name}", childName)
	image := strings.NewReplacer(
		"{name}", childName,
		"{character_desc}", characterDesc,
		"{outfit}", tpl.Outfit,
	)

	story := generation.Story{
		Title:  text.Replace(tpl.Title),
		Scenes: make([]generation.StoryScene, len(tpl.Scenes)),
	}
	for i, scene := range tpl.Scenes {
		story.Scenes[i] = generation.StoryScene{
			Text:           text.Replace(scene.Text),
			ImageDirective: image.Replace(scene.Image),
		}
	}

	return story
}
