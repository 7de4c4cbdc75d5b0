package domain

import "time"

// Status is the lifecycle tag of a selection.
type Status string

const (
	// StatusPending marks a selection waiting for a remote bulk upload.
	StatusPending Status = "pending"
	// StatusUnsaved marks a selection not yet written by the local exporter.
	StatusUnsaved Status = "unsaved"
	// StatusSaved marks a selection already written to the local export folder.
	StatusSaved Status = "saved"
)

// Mode gates which pointer interactions are legal.
type Mode string

const (
	ModeDraw   Mode = "draw"
	ModeSelect Mode = "select"
	ModeDelete Mode = "delete"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeDraw, ModeSelect, ModeDelete:
		return Mode(s), true
	}
	return "", false
}

// ValidDifficulty reports whether d is one of easy, medium or hard.
func ValidDifficulty(d string) bool {
	switch d {
	case "easy", "medium", "hard":
		return true
	}
	return false
}

// Classification is the curricular metadata attached to a selection.
// Every field is optional until export.
type Classification struct {
	ClassID   string `json:"class_id,omitempty"`
	SubjectID string `json:"subject_id,omitempty"`
	ChapterID string `json:"chapter_id,omitempty"`
	ConceptID string `json:"concept_id,omitempty"`
	TopicID   string `json:"topic_id,omitempty"`

	ClassName   string `json:"class_name,omitempty"`
	SubjectName string `json:"subject_name,omitempty"`
	ChapterName string `json:"chapter_name,omitempty"`
	ConceptName string `json:"concept_name,omitempty"`
	TopicName   string `json:"topic_name,omitempty"`

	ImageType    string   `json:"image_type,omitempty"`
	QuestionType string   `json:"question_type,omitempty"`
	Difficulty   string   `json:"difficulty,omitempty"`
	Marks        *float64 `json:"marks,omitempty"`
	UsageTypes   []string `json:"usage_types,omitempty"`
	Priority     *int     `json:"priority,omitempty"`
	Source       string   `json:"source,omitempty"`
	Verified     bool     `json:"verified"`
	IsActive     bool     `json:"is_active"`
}

// WithDefaults fills the picker-backed fields (class, subject, chapter and image
// type, plus their names) from defaults wherever c leaves them empty.
func (c Classification) WithDefaults(defaults Classification) Classification {
	out := c.Clone()
	if out.ClassID == "" {
		out.ClassID, out.ClassName = defaults.ClassID, defaults.ClassName
	}
	if out.SubjectID == "" {
		out.SubjectID, out.SubjectName = defaults.SubjectID, defaults.SubjectName
	}
	if out.ChapterID == "" {
		out.ChapterID, out.ChapterName = defaults.ChapterID, defaults.ChapterName
	}
	if out.ImageType == "" {
		out.ImageType = defaults.ImageType
	}
	return out
}

// MissingRequired lists the export-required fields that are still empty.
func (c Classification) MissingRequired() []string {
	var missing []string
	if c.ClassID == "" {
		missing = append(missing, "class")
	}
	if c.SubjectID == "" {
		missing = append(missing, "subject")
	}
	if c.ChapterID == "" {
		missing = append(missing, "chapter")
	}
	if c.ImageType == "" {
		missing = append(missing, "image type")
	}
	return missing
}

// Clone returns a deep copy.
func (c Classification) Clone() Classification {
	out := c
	if c.Marks != nil {
		m := *c.Marks
		out.Marks = &m
	}
	if c.Priority != nil {
		p := *c.Priority
		out.Priority = &p
	}
	if c.UsageTypes != nil {
		out.UsageTypes = append([]string(nil), c.UsageTypes...)
	}
	return out
}

// Selection is a rectangle drawn over one page together with its metadata.
type Selection struct {
	ID     string `json:"id"`
	PageNo int    `json:"page_no"`

	RectScreen ScreenRect `json:"rect_screen"`
	RectPdf    DocRect    `json:"rect_pdf"`
	// CaptureScale is the viewport scale RectScreen was measured at.
	CaptureScale float64 `json:"capture_scale"`

	Status           Status         `json:"status"`
	Meta             Classification `json:"meta"`
	QuestionGroupKey string         `json:"question_group_key,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy so callers never share mutable state with the store.
func (s *Selection) Clone() *Selection {
	if s == nil {
		return nil
	}
	out := *s
	out.Meta = s.Meta.Clone()
	return &out
}

// ClassificationPatch carries optional metadata edits. Nil fields are left alone.
type ClassificationPatch struct {
	ClassID      *string   `json:"class_id,omitempty"`
	SubjectID    *string   `json:"subject_id,omitempty"`
	ChapterID    *string   `json:"chapter_id,omitempty"`
	ConceptID    *string   `json:"concept_id,omitempty"`
	TopicID      *string   `json:"topic_id,omitempty"`
	ClassName    *string   `json:"class_name,omitempty"`
	SubjectName  *string   `json:"subject_name,omitempty"`
	ChapterName  *string   `json:"chapter_name,omitempty"`
	ConceptName  *string   `json:"concept_name,omitempty"`
	TopicName    *string   `json:"topic_name,omitempty"`
	ImageType    *string   `json:"image_type,omitempty"`
	QuestionType *string   `json:"question_type,omitempty"`
	Difficulty   *string   `json:"difficulty,omitempty"`
	Marks        *float64  `json:"marks,omitempty"`
	UsageTypes   *[]string `json:"usage_types,omitempty"`
	Priority     *int      `json:"priority,omitempty"`
	Source       *string   `json:"source,omitempty"`
	Verified     *bool     `json:"verified,omitempty"`
	IsActive     *bool     `json:"is_active,omitempty"`
}

// Apply merges the patch into c.
func (p *ClassificationPatch) Apply(c *Classification) {
	if p == nil {
		return
	}
	setString := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	setString(&c.ClassID, p.ClassID)
	setString(&c.SubjectID, p.SubjectID)
	setString(&c.ChapterID, p.ChapterID)
	setString(&c.ConceptID, p.ConceptID)
	setString(&c.TopicID, p.TopicID)
	setString(&c.ClassName, p.ClassName)
	setString(&c.SubjectName, p.SubjectName)
	setString(&c.ChapterName, p.ChapterName)
	setString(&c.ConceptName, p.ConceptName)
	setString(&c.TopicName, p.TopicName)
	setString(&c.ImageType, p.ImageType)
	setString(&c.QuestionType, p.QuestionType)
	setString(&c.Difficulty, p.Difficulty)
	setString(&c.Source, p.Source)
	if p.Marks != nil {
		m := *p.Marks
		c.Marks = &m
	}
	if p.Priority != nil {
		v := *p.Priority
		c.Priority = &v
	}
	if p.UsageTypes != nil {
		c.UsageTypes = append([]string(nil), (*p.UsageTypes)...)
	}
	if p.Verified != nil {
		c.Verified = *p.Verified
	}
	if p.IsActive != nil {
		c.IsActive = *p.IsActive
	}
}

// SelectionPatch is a partial update of a stored selection.
type SelectionPatch struct {
	RectScreen       *ScreenRect          `json:"rect_screen,omitempty"`
	RectPdf          *DocRect             `json:"rect_pdf,omitempty"`
	CaptureScale     *float64             `json:"capture_scale,omitempty"`
	Status           *Status              `json:"status,omitempty"`
	Meta             *ClassificationPatch `json:"meta,omitempty"`
	QuestionGroupKey *string              `json:"question_group_key,omitempty"`
}

// Apply merges the patch into s. ID and PageNo never change.
func (p SelectionPatch) Apply(s *Selection) {
	if p.RectScreen != nil {
		s.RectScreen = *p.RectScreen
	}
	if p.RectPdf != nil {
		s.RectPdf = *p.RectPdf
	}
	if p.CaptureScale != nil {
		s.CaptureScale = *p.CaptureScale
	}
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.Meta != nil {
		p.Meta.Apply(&s.Meta)
	}
	if p.QuestionGroupKey != nil {
		s.QuestionGroupKey = *p.QuestionGroupKey
	}
}

// LabeledSelection pairs a selection with its display label.
type LabeledSelection struct {
	*Selection
	Label  string `json:"label"`
	Active bool   `json:"active"`
}
