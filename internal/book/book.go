package book

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Scene statuses shown to clients for preview scene summaries.
const (
	SceneLocked     = "locked"
	SceneGenerating = "generating"
	SceneUnlocked   = "unlocked"
)

// Inputs are set once at intake and never mutated.
type Inputs struct {
	ChildName            string `db:"child_name" json:"child_name"`
	Theme                string `db:"theme" json:"theme"`
	Style                string `db:"style" json:"style"`
	ChildPhotoURL        string `db:"child_photo_url" json:"child_photo_url"`
	ApprovedCharacterURL string `db:"approved_character_url" json:"approved_character_url,omitempty"`
}

// Artifacts are the durable outputs of the stages.
type Artifacts struct {
	CharacterImageURL      string        `db:"character_image_url" json:"character_image_url,omitempty"`
	ConsistencyDescription string        `db:"consistency_description" json:"consistency_description,omitempty"`
	StoryTitle             string        `db:"story_title" json:"story_title,omitempty"`
	Scenes                 Scenes        `db:"scenes" json:"scenes,omitempty"`
	PreviewImages          StringList    `db:"preview_images" json:"preview_images,omitempty"`
	PreviewScenes          PreviewScenes `db:"preview_scenes" json:"preview_scenes,omitempty"`
	Pages                  Pages         `db:"pages" json:"pages,omitempty"`
	PDFURL                 string        `db:"pdf_url" json:"pdf_url,omitempty"`
}

// Book is the unit of work for one illustrated book.
type Book struct {
	ID            string `db:"id" json:"id"`
	UserID        string `db:"user_id" json:"user_id"`
	Stage         Stage  `db:"stage" json:"stage"`
	Progress      int    `db:"progress" json:"progress"`
	StatusMessage string `db:"status_message" json:"status_message"`
	ErrorMessage  string `db:"error_message" json:"error_message,omitempty"`
	// Run counts regenerations. Queue messages from an older run are stale.
	Run int `db:"run" json:"run"`

	Inputs
	Artifacts

	HeartbeatAt *time.Time `db:"heartbeat_at" json:"-"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Scene is one story scene. SceneID 0 is the cover.
type Scene struct {
	SceneID        int    `json:"scene_id"`
	Text           string `json:"text"`
	ImageDirective string `json:"image_directive"`
	ImageURL       string `json:"image_url,omitempty"`
}

// PreviewScene summarises a scene for the client before purchase.
type PreviewScene struct {
	SceneID      int    `json:"scene_id"`
	Status       string `json:"status"`
	ImageURL     string `json:"image_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// Page is one page of the assembled document.
type Page struct {
	PageNumber int    `json:"page_number"`
	Text       string `json:"text"`
	ImageURL   string `json:"image_url"`
}

type (
	Scenes        []Scene
	PreviewScenes []PreviewScene
	Pages         []Page
	StringList    []string
)

// SceneByID returns a pointer into s for the given scene id.
func (s Scenes) SceneByID(id int) (*Scene, bool) {
	for i := range s {
		if s[i].SceneID == id {
			return &s[i], true
		}
	}
	return nil, false
}

// Clone returns a copy that can be mutated without touching s.
func (s Scenes) Clone() Scenes {
	if s == nil {
		return nil
	}
	out := make(Scenes, len(s))
	copy(out, s)
	return out
}

// Rendered reports whether every scene has an image.
func (s Scenes) Rendered() bool {
	if len(s) == 0 {
		return false
	}
	for _, sc := range s {
		if sc.ImageURL == "" {
			return false
		}
	}
	return true
}

func (p PreviewScenes) Clone() PreviewScenes {
	if p == nil {
		return nil
	}
	out := make(PreviewScenes, len(p))
	copy(out, p)
	return out
}

func (s Scenes) Value() (driver.Value, error)        { return marshalList(s) }
func (s *Scenes) Scan(src any) error                 { return unmarshalList(src, s) }
func (p PreviewScenes) Value() (driver.Value, error) { return marshalList(p) }
func (p *PreviewScenes) Scan(src any) error          { return unmarshalList(src, p) }
func (p Pages) Value() (driver.Value, error)         { return marshalList(p) }
func (p *Pages) Scan(src any) error                  { return unmarshalList(src, p) }
func (l StringList) Value() (driver.Value, error)    { return marshalList(l) }
func (l *StringList) Scan(src any) error             { return unmarshalList(src, l) }

// marshalList stores nil slices as an empty JSON array.
func marshalList[T any](v []T) (driver.Value, error) {
	if v == nil {
		return []byte("[]"), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal jsonb column: %w", err)
	}
	return b, nil
}

func unmarshalList(src any, dest any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported jsonb source type %T", src)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("failed to unmarshal jsonb column: %w", err)
	}
	return nil
}
