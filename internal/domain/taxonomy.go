package domain

import (
	"context"
	"strings"
)

// TaxonomyKind names one taxonomy list served by the catalog backend.
type TaxonomyKind string

const (
	KindClasses       TaxonomyKind = "classes"
	KindSubjects      TaxonomyKind = "subjects"
	KindChapters      TaxonomyKind = "chapters"
	KindConcepts      TaxonomyKind = "concepts"
	KindTopics        TaxonomyKind = "topics"
	KindImageTypes    TaxonomyKind = "image-types"
	KindQuestionTypes TaxonomyKind = "question-types"
	KindUsageTypes    TaxonomyKind = "usage-types"
	KindSources       TaxonomyKind = "sources"
)

// TaxonomyKinds lists every kind in load order.
var TaxonomyKinds = []TaxonomyKind{
	KindClasses, KindSubjects, KindChapters, KindConcepts, KindTopics,
	KindImageTypes, KindQuestionTypes, KindUsageTypes, KindSources,
}

// ParseTaxonomyKind validates a kind name.
func ParseTaxonomyKind(s string) (TaxonomyKind, bool) {
	for _, k := range TaxonomyKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// TempIDPrefix marks client-side ids of rows not yet created on the backend.
const TempIDPrefix = "tmp-"

// IsTempID reports whether id was minted by the client.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// TaxonomyItem is one row of a taxonomy list. Parent ids are opaque and never
// checked for referential integrity.
type TaxonomyItem struct {
	ID        ID     `json:"id"`
	Name      string `json:"name"`
	ClassID   ID     `json:"class_name_id,omitempty"`
	SubjectID ID     `json:"subject_id,omitempty"`
	ChapterID ID     `json:"chapter_id,omitempty"`
	ConceptID ID     `json:"concept_id,omitempty"`
}

// Taxonomy holds every list keyed by kind.
type Taxonomy map[TaxonomyKind][]TaxonomyItem

// ParentFilter narrows a list request by parent ids.
type ParentFilter struct {
	ClassID   string
	SubjectID string
	ChapterID string
	ConceptID string
}

// BulkChange is a batch of edits for one kind.
type BulkChange struct {
	Create []TaxonomyItem `json:"create"`
	Update []TaxonomyItem `json:"update"`
	Delete []string       `json:"delete"`
}

// Empty reports whether the change carries nothing.
func (c BulkChange) Empty() bool {
	return len(c.Create) == 0 && len(c.Update) == 0 && len(c.Delete) == 0
}

// BulkResult maps client ids of created rows to backend ids.
type BulkResult struct {
	CreatedIDs map[string]string `json:"created_ids"`
}

// TaxonomyRepository reads and writes taxonomy lists.
type TaxonomyRepository interface {
	List(ctx context.Context, kind TaxonomyKind, filter ParentFilter) ([]TaxonomyItem, error)
	SaveBulk(ctx context.Context, kind TaxonomyKind, change BulkChange) (*BulkResult, error)
}

// KeyValueStore is a small local cache of JSON values.
type KeyValueStore interface {
	Get(key string, v interface{}) (bool, error)
	Set(key string, v interface{}) error
	Delete(key string) error
}
