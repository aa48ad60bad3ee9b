package book

// Update is a partial write. Nil fields are left untouched by the store.
type Update struct {
	Progress      *int
	StatusMessage *string
	ErrorMessage  *string
	// BumpRun increments Run, used when a regeneration starts a new pipeline run.
	BumpRun bool

	CharacterImageURL      *string
	ConsistencyDescription *string
	StoryTitle             *string
	Scenes                 Scenes
	PreviewImages          StringList
	PreviewScenes          PreviewScenes
	Pages                  Pages
	PDFURL                 *string
}

// Status returns an Update that only touches the observability fields.
func Status(progress int, message string) Update {
	return Update{Progress: &progress, StatusMessage: &message}
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// Apply merges u into b field by field.
func (u Update) Apply(b *Book) {
	if u.Progress != nil {
		b.Progress = *u.Progress
	}
	if u.StatusMessage != nil {
		b.StatusMessage = *u.StatusMessage
	}
	if u.ErrorMessage != nil {
		b.ErrorMessage = *u.ErrorMessage
	}
	if u.BumpRun {
		b.Run++
	}
	if u.CharacterImageURL != nil {
		b.CharacterImageURL = *u.CharacterImageURL
	}
	if u.ConsistencyDescription != nil {
		b.ConsistencyDescription = *u.ConsistencyDescription
	}
	if u.StoryTitle != nil {
		b.StoryTitle = *u.StoryTitle
	}
	if u.Scenes != nil {
		b.Scenes = u.Scenes.Clone()
	}
	if u.PreviewImages != nil {
		b.PreviewImages = append(StringList(nil), u.PreviewImages...)
	}
	if u.PreviewScenes != nil {
		b.PreviewScenes = u.PreviewScenes.Clone()
	}
	if u.Pages != nil {
		b.Pages = append(Pages(nil), u.Pages...)
	}
	if u.PDFURL != nil {
		b.PDFURL = *u.PDFURL
	}
}
