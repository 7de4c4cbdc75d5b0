package domain

import "context"

// TaxonomyRef is a nested {id, name} reference returned by the catalog.
type TaxonomyRef struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// CroppedImage is a previously uploaded selection as stored by the catalog.
type CroppedImage struct {
	ID       ID     `json:"id"`
	Image    string `json:"image"`
	ImageURL string `json:"image_url,omitempty"`

	ImageType    ID            `json:"image_type"`
	ClassName    ID            `json:"class_name"`
	Subject      ID            `json:"subject"`
	Chapter      ID            `json:"chapter"`
	Concept      ID            `json:"concept"`
	Topic        ID            `json:"topic"`
	QuestionType ID            `json:"question_type"`
	Source       ID            `json:"source"`
	Difficulty   string        `json:"difficulty,omitempty"`
	Marks        *float64      `json:"marks,omitempty"`
	UsageTypes   []TaxonomyRef `json:"usage_types"`
	Priority     *int          `json:"priority,omitempty"`
	Verified     bool          `json:"verified"`
	IsActive     bool          `json:"is_active"`

	PageNo        int      `json:"page_no,omitempty"`
	RectPdf       *DocRect `json:"rect_pdf,omitempty"`
	QuestionGroup string   `json:"question_group,omitempty"`
}

// CroppedImageFilter holds list filters; empty strings mean "any".
type CroppedImageFilter struct {
	ImageType    string
	QuestionType string
	Difficulty   string
	Marks        string
	UsageTypes   []string
	Source       string
	IsActive     string
	Verified     string
	Priority     string
	ClassName    string
	Subject      string
	Chapter      string
	Concept      string
	Topic        string

	Page     int
	PageSize int
}

// CroppedImagePage is one page of list results.
type CroppedImagePage struct {
	Results  []*CroppedImage `json:"results"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	Count    int             `json:"count"`
}

// CroppedImagePatch edits a stored image. Required keys (image type, class,
// subject, chapter) are only sent when set; nullable keys are cleared by an
// empty string.
type CroppedImagePatch struct {
	ImageType *string `json:"image_type,omitempty"`
	ClassName *string `json:"class_name,omitempty"`
	Subject   *string `json:"subject,omitempty"`
	Chapter   *string `json:"chapter,omitempty"`

	Concept      *string `json:"concept,omitempty"`
	Topic        *string `json:"topic,omitempty"`
	QuestionType *string `json:"question_type,omitempty"`
	Source       *string `json:"source,omitempty"`

	Difficulty *string   `json:"difficulty,omitempty"`
	Marks      *float64  `json:"marks,omitempty"`
	Priority   *string   `json:"priority,omitempty"`
	UsageTypes *[]string `json:"usage_types,omitempty"`
	Verified   *bool     `json:"verified,omitempty"`
	IsActive   *bool     `json:"is_active,omitempty"`
}

// CroppedImageRepository manages stored cropped images.
type CroppedImageRepository interface {
	List(ctx context.Context, filter CroppedImageFilter) (*CroppedImagePage, error)
	Update(ctx context.Context, id string, patch CroppedImagePatch) (*CroppedImage, error)
	Delete(ctx context.Context, id string) error
}
