package objectstore

import "fmt"

// CharacterKey is where a run's character portrait is stored, without extension.
func CharacterKey(bookID string, run int) string {
	return fmt.Sprintf("books/%s/run-%d/character", bookID, run)
}

// SceneKey is where a raw scene render is stored, without extension.
func SceneKey(bookID string, run, sceneID int) string {
	return fmt.Sprintf("books/%s/run-%d/scenes/%02d", bookID, run, sceneID)
}

// PreviewKey is where a composed preview mockup is stored, without extension.
func PreviewKey(bookID string, run, sceneID int) string {
	return fmt.Sprintf("books/%s/run-%d/previews/%02d", bookID, run, sceneID)
}

// DocumentKey is where the final PDF is stored.
func DocumentKey(bookID string, run int) string {
	return fmt.Sprintf("books/%s/run-%d/book.pdf", bookID, run)
}

// UploadKey is where a user upload is stored, without extension.
func UploadKey(id string) string {
	return "uploads/" + id
}

// WizardKey is where the character preview wizard keeps one of its images,
// without extension.
func WizardKey(previewID, name string) string {
	return fmt.Sprintf("previews/%s/%s", previewID, name)
}
