package dto

type UploadResponse struct {
	URL string `json:"url"`
}

type CharacterPreviewRequest struct {
	Name   string `form:"name" binding:"required"`
	Gender string `form:"gender"`
	Style  string `form:"style"`
}

type CharacterPreviewResponse struct {
	PreviewID            string `json:"preview_id"`
	OriginalURL          string `json:"original_url"`
	ApprovedCharacterURL string `json:"approved_character_url"`
}
