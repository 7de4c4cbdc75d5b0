package service

import (
	"strconv"

	"pdf-region-tagger/internal/domain"
)

// GroupKey returns the question group a selection belongs to: its explicit
// key, or its own id as a singleton group.
func GroupKey(sel *domain.Selection) string {
	if sel.QuestionGroupKey != "" {
		return sel.QuestionGroupKey
	}
	return sel.ID
}

// Labels derives display labels from store order. Groups are numbered from 1
// in order of first appearance; the first part of a group is labelled with
// the group number alone and later parts as "group.part" (2.2, 2.3, ...).
// With grouping disabled every selection is its own group.
//
// Labels are a view-time derivation: reordering the input renumbers them.
func Labels(selections []*domain.Selection, grouping bool) map[string]string {
	groupNo := make(map[string]int)
	nextPart := make(map[string]int)
	out := make(map[string]string, len(selections))

	for _, sel := range selections {
		key := sel.ID
		if grouping {
			key = GroupKey(sel)
		}
		if _, ok := groupNo[key]; !ok {
			groupNo[key] = len(groupNo) + 1
			nextPart[key] = 1
		}
		part := nextPart[key]
		nextPart[key] = part + 1

		label := strconv.Itoa(groupNo[key])
		if part > 1 {
			label += "." + strconv.Itoa(part)
		}
		out[sel.ID] = label
	}
	return out
}

// Label attaches labels and the active flag to a list of selections.
func Label(selections []*domain.Selection, activeID string, grouping bool) []domain.LabeledSelection {
	labels := Labels(selections, grouping)
	out := make([]domain.LabeledSelection, 0, len(selections))
	for _, sel := range selections {
		out = append(out, domain.LabeledSelection{
			Selection: sel,
			Label:     labels[sel.ID],
			Active:    sel.ID == activeID,
		})
	}
	return out
}
