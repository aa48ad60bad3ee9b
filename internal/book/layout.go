package book

import (
	"strings"
	"unicode"
)

// Pages lays out the compact book: scene i fills pages 2i+1 and 2i+2,
// both showing the scene image with half of the narration each.
func (s Scenes) Pages() Pages {
	pages := make(Pages, 0, len(s)*2)
	for i, scene := range s {
		first, second := SplitText(scene.Text)
		pages = append(pages,
			Page{PageNumber: 2*i + 1, Text: first, ImageURL: scene.ImageURL},
			Page{PageNumber: 2*i + 2, Text: second, ImageURL: scene.ImageURL},
		)
	}
	return pages
}

// SplitText splits narration at the sentence boundary closest to its middle.
// Text without an inner boundary stays whole on the first half.
func SplitText(text string) (string, string) {
	text = strings.TrimSpace(text)
	mid := len(text) / 2

	best := -1
	for i, r := range text {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		end := i + 1
		// Keep closing quotes with their sentence.
		for end < len(text) && (text[end] == '\'' || text[end] == '"') {
			end++
		}
		if end >= len(text) || !unicode.IsSpace(rune(text[end])) {
			continue
		}
		if best < 0 || abs(end-mid) < abs(best-mid) {
			best = end
		}
	}

	if best < 0 {
		return text, ""
	}
	return strings.TrimSpace(text[:best]), strings.TrimSpace(text[best:])
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
