package dto

import (
	"time"

	"github.com/cuongbtq/storybook-be/internal/book"
	"github.com/cuongbtq/storybook-be/internal/service"
)

type CreateBookRequest struct {
	UserID               string `json:"user_id" binding:"required"`
	ChildName            string `json:"child_name" binding:"required"`
	Theme                string `json:"theme" binding:"required"`
	Style                string `json:"style"`
	ChildPhotoURL        string `json:"child_photo_url" binding:"required,url"`
	ApprovedCharacterURL string `json:"approved_character_url" binding:"omitempty,url"`
}

type ListBooksRequest struct {
	UserID   string `form:"user_id" binding:"required"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListBooksResponse struct {
	Books      []BookDTO `json:"books"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

type StatusResponse struct {
	ID                string              `json:"id"`
	Stage             book.Stage          `json:"stage"`
	Progress          int                 `json:"progress"`
	StatusMessage     string              `json:"status_message"`
	ErrorMessage      string              `json:"error_message,omitempty"`
	CharacterImageURL string              `json:"character_image_url,omitempty"`
	PreviewImages     []string            `json:"preview_images,omitempty"`
	PreviewScenes     []book.PreviewScene `json:"preview_scenes,omitempty"`
	PDFURL            string              `json:"pdf_url,omitempty"`
}

type BookDTO struct {
	ID                     string              `json:"id"`
	UserID                 string              `json:"user_id"`
	Stage                  book.Stage          `json:"stage"`
	Progress               int                 `json:"progress"`
	StatusMessage          string              `json:"status_message"`
	ErrorMessage           string              `json:"error_message,omitempty"`
	ChildName              string              `json:"child_name"`
	Theme                  string              `json:"theme"`
	Style                  string              `json:"style"`
	CharacterImageURL      string              `json:"character_image_url,omitempty"`
	ConsistencyDescription string              `json:"consistency_description,omitempty"`
	StoryTitle             string              `json:"story_title,omitempty"`
	Scenes                 []book.Scene        `json:"scenes,omitempty"`
	PreviewImages          []string            `json:"preview_images,omitempty"`
	PreviewScenes          []book.PreviewScene `json:"preview_scenes,omitempty"`
	Pages                  []book.Page         `json:"pages,omitempty"`
	PDFURL                 string              `json:"pdf_url,omitempty"`
	CreatedAt              string              `json:"created_at"`
	UpdatedAt              string              `json:"updated_at"`
}

type DownloadResponse struct {
	DownloadURL string `json:"download_url"`
	Filename    string `json:"filename"`
}

func NewStatusResponse(st service.Status) StatusResponse {
	return StatusResponse{
		ID:                st.ID,
		Stage:             st.Stage,
		Progress:          st.Progress,
		StatusMessage:     st.StatusMessage,
		ErrorMessage:      st.ErrorMessage,
		CharacterImageURL: st.CharacterImageURL,
		PreviewImages:     st.PreviewImages,
		PreviewScenes:     st.PreviewScenes,
		PDFURL:            st.PDFURL,
	}
}

func NewBookDTO(b *book.Book) BookDTO {
	return BookDTO{
		ID:                     b.ID,
		UserID:                 b.UserID,
		Stage:                  b.Stage,
		Progress:               b.Progress,
		StatusMessage:          b.StatusMessage,
		ErrorMessage:           b.ErrorMessage,
		ChildName:              b.ChildName,
		Theme:                  b.Theme,
		Style:                  b.Style,
		CharacterImageURL:      b.CharacterImageURL,
		ConsistencyDescription: b.ConsistencyDescription,
		StoryTitle:             b.StoryTitle,
		Scenes:                 b.Scenes,
		PreviewImages:          b.PreviewImages,
		PreviewScenes:          b.PreviewScenes,
		Pages:                  b.Pages,
		PDFURL:                 b.PDFURL,
		CreatedAt:              b.CreatedAt.Format(time.RFC3339),
		UpdatedAt:              b.UpdatedAt.Format(time.RFC3339),
	}
}
