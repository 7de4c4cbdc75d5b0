package repository

import (
	"bytes"
	"fmt"
	"image/png"
	"strconv"
	"strings"

	"pdf-region-tagger/internal/domain"
	apperrors "pdf-region-tagger/pkg/errors"
)

// parentColumns maps a taxonomy kind's parent ids to the field names the
// catalog uses in bulk payloads.
func parentColumns(kind domain.TaxonomyKind, it domain.TaxonomyItem) map[string]interface{} {
	switch kind {
	case domain.KindChapters:
		return map[string]interface{}{"class_name": nullable(string(it.ClassID)), "subject": nullable(string(it.SubjectID))}
	case domain.KindConcepts:
		return map[string]interface{}{"chapter": nullable(string(it.ChapterID))}
	case domain.KindTopics:
		return map[string]interface{}{"concept": nullable(string(it.ConceptID))}
	}
	return map[string]interface{}{}
}

func bulkCreateRow(kind domain.TaxonomyKind, it domain.TaxonomyItem) map[string]interface{} {
	row := parentColumns(kind, it)
	row["name"] = it.Name
	if it.ID != "" {
		row["client_id"] = string(it.ID)
	}
	return row
}

func bulkUpdateRow(kind domain.TaxonomyKind, it domain.TaxonomyItem) map[string]interface{} {
	row := parentColumns(kind, it)
	row["id"] = string(it.ID)
	row["name"] = it.Name
	return row
}

// uploadItemFields is the catalog row for one extracted selection, without
// the image reference.
func uploadItemFields(item *domain.UploadItem) map[string]interface{} {
	m := item.Meta
	usage := m.UsageTypes
	if usage == nil {
		usage = []string{}
	}
	fields := map[string]interface{}{
		"image_type":     nullable(m.ImageType),
		"class_name":     nullable(m.ClassID),
		"subject":        nullable(m.SubjectID),
		"chapter":        nullable(m.ChapterID),
		"concept":        nullable(m.ConceptID),
		"topic":          nullable(m.TopicID),
		"question_type":  nullable(m.QuestionType),
		"source":         nullable(m.Source),
		"difficulty":     nullable(m.Difficulty),
		"usage_types":    usage,
		"verified":       m.Verified,
		"is_active":      m.IsActive,
		"page_no":        item.PageNo,
		"rect_pdf":       item.RectPdf,
		"question_group": nullable(item.QuestionGroupKey),
	}
	if m.Marks != nil {
		fields["marks"] = *m.Marks
	}
	if m.Priority != nil {
		fields["priority"] = *m.Priority
	}
	return fields
}

// patchFields turns a patch into the partial update body. Required keys are
// only sent when set; nullable keys are cleared by an empty string.
func patchFields(p domain.CroppedImagePatch) (map[string]interface{}, error) {
	fields := map[string]interface{}{}
	for name, v := range map[string]*string{
		"image_type": p.ImageType,
		"class_name": p.ClassName,
		"subject":    p.Subject,
		"chapter":    p.Chapter,
	} {
		if v != nil && *v != "" {
			fields[name] = *v
		}
	}
	for name, v := range map[string]*string{
		"concept":       p.Concept,
		"topic":         p.Topic,
		"question_type": p.QuestionType,
		"source":        p.Source,
	} {
		if v != nil {
			fields[name] = nullable(*v)
		}
	}
	if p.Difficulty != nil && *p.Difficulty != "" {
		fields["difficulty"] = *p.Difficulty
	}
	if p.Marks != nil {
		fields["marks"] = *p.Marks
	}
	if p.Priority != nil {
		if *p.Priority == "" {
			fields["priority"] = nil
		} else {
			n, err := strconv.Atoi(strings.TrimSpace(*p.Priority))
			if err != nil {
				return nil, apperrors.NewValidationError("priority must be a whole number", *p.Priority)
			}
			fields["priority"] = n
		}
	}
	if p.UsageTypes != nil {
		usage := *p.UsageTypes
		if usage == nil {
			usage = []string{}
		}
		fields["usage_types"] = usage
	}
	if p.Verified != nil {
		fields["verified"] = *p.Verified
	}
	if p.IsActive != nil {
		fields["is_active"] = *p.IsActive
	}
	return fields, nil
}

func encodePNG(item *domain.UploadItem) ([]byte, error) {
	if item.Image == nil {
		return nil, fmt.Errorf("selection %s has no image", item.SelectionID)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, item.Image); err != nil {
		return nil, fmt.Errorf("failed to encode selection %s: %w", item.SelectionID, err)
	}
	return buf.Bytes(), nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
