package service

import "github.com/cuongbtq/storybook-be/internal/book"

// Status is the polling view of a book. Artifacts appear only from the
// stage where they are final.
type Status struct {
	ID                string             `json:"id"`
	Stage             book.Stage         `json:"stage"`
	Progress          int                `json:"progress"`
	StatusMessage     string             `json:"status_message"`
	ErrorMessage      string             `json:"error_message,omitempty"`
	CharacterImageURL string             `json:"character_image_url,omitempty"`
	PreviewImages     book.StringList    `json:"preview_images,omitempty"`
	PreviewScenes     book.PreviewScenes `json:"preview_scenes,omitempty"`
	PDFURL            string             `json:"pdf_url,omitempty"`
}

// StatusOf builds the polling view of b
func StatusOf(b *book.Book) Status {
	st := Status{
		ID:            b.ID,
		Stage:         b.Stage,
		Progress:      b.Progress,
		StatusMessage: b.StatusMessage,
	}

	switch b.Stage {
	case book.StageFailed:
		st.ErrorMessage = b.ErrorMessage
	case book.StageCompleted:
		st.PDFURL = b.PDFURL
		fallthrough
	case book.StageReadyForPurchase, book.StageProcessingFullBook:
		st.PreviewImages = b.PreviewImages
		st.PreviewScenes = b.PreviewScenes
		fallthrough
	case book.StageWaitingForApproval, book.StageGeneratingPreview:
		st.CharacterImageURL = b.CharacterImageURL
	}

	return st
}
