package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"pdf-region-tagger/internal/domain"
	apperrors "pdf-region-tagger/pkg/errors"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Where a loaded taxonomy list came from.
const (
	SourceRemote   = "remote"
	SourceOverride = "override"
	SourceSnapshot = "snapshot"
)

// TaxonomyOptions are the picker lists after cascading on the current choice.
type TaxonomyOptions struct {
	Classes       []domain.TaxonomyItem `json:"classes"`
	Subjects      []domain.TaxonomyItem `json:"subjects"`
	Chapters      []domain.TaxonomyItem `json:"chapters"`
	Concepts      []domain.TaxonomyItem `json:"concepts"`
	Topics        []domain.TaxonomyItem `json:"topics"`
	ImageTypes    []domain.TaxonomyItem `json:"image_types"`
	QuestionTypes []domain.TaxonomyItem `json:"question_types"`
	UsageTypes    []domain.TaxonomyItem `json:"usage_types"`
	Sources       []domain.TaxonomyItem `json:"sources"`
}

// ConceptTreeResult reports a combined concept and topic save.
type ConceptTreeResult struct {
	CreatedConcepts map[string]string `json:"created_concepts"`
	CreatedTopics   map[string]string `json:"created_topics"`
	SkippedTopics   int               `json:"skipped_topics"`
}

// TaxonomyService serves the class/subject/chapter/concept/topic lists and
// their bulk edits. A locally stored override for a kind wins over the
// backend; every good backend read refreshes an offline snapshot.
type TaxonomyService struct {
	repo   domain.TaxonomyRepository
	cache  domain.KeyValueStore
	target domain.PersistenceTarget
	logger domain.Logger

	mu      sync.RWMutex
	data    domain.Taxonomy
	sources map[domain.TaxonomyKind]string
	loaded  bool
}

// NewTaxonomyService creates a service. cache may be nil.
func NewTaxonomyService(repo domain.TaxonomyRepository, cache domain.KeyValueStore, target domain.PersistenceTarget, logger domain.Logger) *TaxonomyService {
	return &TaxonomyService{
		repo:    repo,
		cache:   cache,
		target:  target,
		logger:  logger,
		data:    make(domain.Taxonomy),
		sources: make(map[domain.TaxonomyKind]string),
	}
}

func overrideKey(kind domain.TaxonomyKind) string { return "taxonomy.override." + string(kind) }
func snapshotKey(kind domain.TaxonomyKind) string { return "taxonomy.snapshot." + string(kind) }

// Load fetches every kind in parallel. Kinds that cannot be loaded from any
// source are left empty and the first such failure is returned.
func (s *TaxonomyService) Load(ctx context.Context) error {
	kinds := domain.TaxonomyKinds
	lists := make([][]domain.TaxonomyItem, len(kinds))
	sources := make([]string, len(kinds))

	var g errgroup.Group
	for i, kind := range kinds {
		i, kind := i, kind
		g.Go(func() error {
			items, source, err := s.loadKind(ctx, kind)
			lists[i], sources[i] = items, source
			return err
		})
	}
	err := g.Wait()

	s.mu.Lock()
	for i, kind := range kinds {
		if sources[i] == "" {
			continue
		}
		s.data[kind] = lists[i]
		s.sources[kind] = sources[i]
	}
	s.loaded = true
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("Taxonomy partially loaded", "error", err)
		return err
	}
	s.logger.Info("Taxonomy loaded", "kinds", len(kinds))
	return nil
}

func (s *TaxonomyService) loadKind(ctx context.Context, kind domain.TaxonomyKind) ([]domain.TaxonomyItem, string, error) {
	var override []domain.TaxonomyItem
	if s.readCache(overrideKey(kind), &override) {
		return override, SourceOverride, nil
	}

	items, err := s.repo.List(ctx, kind, domain.ParentFilter{})
	if err == nil {
		s.writeCache(snapshotKey(kind), items)
		return items, SourceRemote, nil
	}

	var snapshot []domain.TaxonomyItem
	if s.readCache(snapshotKey(kind), &snapshot) {
		s.logger.Warn("Using offline taxonomy snapshot", "kind", kind, "error", err)
		return snapshot, SourceSnapshot, nil
	}
	return nil, "", apperrors.NewNetworkError(fmt.Sprintf("failed to load %s", kind), err)
}

func (s *TaxonomyService) readCache(key string, v interface{}) bool {
	if s.cache == nil {
		return false
	}
	ok, err := s.cache.Get(key, v)
	if err != nil {
		s.logger.Warn("Failed to read local cache", "key", key, "error", err)
		return false
	}
	return ok
}

func (s *TaxonomyService) writeCache(key string, v interface{}) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(key, v); err != nil {
		s.logger.Warn("Failed to write local cache", "key", key, "error", err)
	}
}

func (s *TaxonomyService) ensureLoaded(ctx context.Context) {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if !loaded {
		_ = s.Load(ctx)
	}
}

// All returns every list and where each came from.
func (s *TaxonomyService) All(ctx context.Context) (domain.Taxonomy, map[domain.TaxonomyKind]string) {
	s.ensureLoaded(ctx)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(domain.Taxonomy, len(s.data))
	for kind, items := range s.data {
		out[kind] = append([]domain.TaxonomyItem(nil), items...)
	}
	sources := make(map[domain.TaxonomyKind]string, len(s.sources))
	for kind, src := range s.sources {
		sources[kind] = src
	}
	return out, sources
}

// List returns one kind narrowed by parent ids. Empty filter fields match all.
func (s *TaxonomyService) List(ctx context.Context, kind domain.TaxonomyKind, filter domain.ParentFilter) ([]domain.TaxonomyItem, error) {
	if _, ok := domain.ParseTaxonomyKind(string(kind)); !ok {
		return nil, domain.ErrUnknownKind
	}
	s.ensureLoaded(ctx)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterItems(s.data[kind], func(it domain.TaxonomyItem) bool {
		return matches(it.ClassID, filter.ClassID) &&
			matches(it.SubjectID, filter.SubjectID) &&
			matches(it.ChapterID, filter.ChapterID) &&
			matches(it.ConceptID, filter.ConceptID)
	}), nil
}

// Options cascades the picker lists on the current choice: chapters by class
// and subject; concepts by chapter, else class and subject; topics by
// concept, else chapter, else class and subject.
func (s *TaxonomyService) Options(ctx context.Context, sel domain.ParentFilter) TaxonomyOptions {
	s.ensureLoaded(ctx)
	s.mu.RLock()
	defer s.mu.RUnlock()

	byClassSubject := func(it domain.TaxonomyItem) bool {
		return matches(it.ClassID, sel.ClassID) && matches(it.SubjectID, sel.SubjectID)
	}
	return TaxonomyOptions{
		Classes:  copyItems(s.data[domain.KindClasses]),
		Subjects: copyItems(s.data[domain.KindSubjects]),
		Chapters: filterItems(s.data[domain.KindChapters], byClassSubject),
		Concepts: filterItems(s.data[domain.KindConcepts], func(it domain.TaxonomyItem) bool {
			if sel.ChapterID != "" {
				return string(it.ChapterID) == sel.ChapterID
			}
			return byClassSubject(it)
		}),
		Topics: filterItems(s.data[domain.KindTopics], func(it domain.TaxonomyItem) bool {
			switch {
			case sel.ConceptID != "":
				return string(it.ConceptID) == sel.ConceptID
			case sel.ChapterID != "":
				return string(it.ChapterID) == sel.ChapterID
			}
			return byClassSubject(it)
		}),
		ImageTypes:    copyItems(s.data[domain.KindImageTypes]),
		QuestionTypes: copyItems(s.data[domain.KindQuestionTypes]),
		UsageTypes:    copyItems(s.data[domain.KindUsageTypes]),
		Sources:       copyItems(s.data[domain.KindSources]),
	}
}

// SaveBulk applies creates, updates and deletes for one kind. Blank names
// are dropped and client-minted ids are never sent as updates or deletes.
// An empty batch makes no call.
func (s *TaxonomyService) SaveBulk(ctx context.Context, kind domain.TaxonomyKind, change domain.BulkChange) (*domain.BulkResult, error) {
	if _, ok := domain.ParseTaxonomyKind(string(kind)); !ok {
		return nil, domain.ErrUnknownKind
	}
	clean := sanitizeBulk(change)
	if clean.Empty() {
		return &domain.BulkResult{CreatedIDs: map[string]string{}}, nil
	}

	if s.target == domain.TargetLocal {
		return s.saveOverride(ctx, kind, clean)
	}

	res, err := s.repo.SaveBulk(ctx, kind, clean)
	if err != nil {
		return nil, err
	}
	if res.CreatedIDs == nil {
		res.CreatedIDs = map[string]string{}
	}
	s.logger.Info("Taxonomy saved", "kind", kind,
		"created", len(clean.Create), "updated", len(clean.Update), "deleted", len(clean.Delete))

	if err := s.reloadKind(ctx, kind); err != nil {
		s.logger.Warn("Failed to reload taxonomy after save", "kind", kind, "error", err)
	}
	return res, nil
}

// saveOverride applies the batch to the local override for kind.
func (s *TaxonomyService) saveOverride(ctx context.Context, kind domain.TaxonomyKind, change domain.BulkChange) (*domain.BulkResult, error) {
	s.ensureLoaded(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := make(map[string]bool, len(change.Delete))
	for _, id := range change.Delete {
		deleted[id] = true
	}
	updates := make(map[string]domain.TaxonomyItem, len(change.Update))
	for _, it := range change.Update {
		updates[string(it.ID)] = it
	}

	items := make([]domain.TaxonomyItem, 0, len(s.data[kind])+len(change.Create))
	for _, it := range s.data[kind] {
		if deleted[string(it.ID)] {
			continue
		}
		if up, ok := updates[string(it.ID)]; ok {
			it = up
		}
		items = append(items, it)
	}
	result := &domain.BulkResult{CreatedIDs: make(map[string]string, len(change.Create))}
	for _, it := range change.Create {
		clientID := string(it.ID)
		it.ID = domain.ID(uuid.New().String())
		if clientID != "" {
			result.CreatedIDs[clientID] = string(it.ID)
		}
		items = append(items, it)
	}

	if s.cache != nil {
		if err := s.cache.Set(overrideKey(kind), items); err != nil {
			return nil, apperrors.NewInternalError("failed to store taxonomy locally", err)
		}
	}
	s.data[kind] = items
	s.sources[kind] = SourceOverride
	return result, nil
}

func (s *TaxonomyService) reloadKind(ctx context.Context, kind domain.TaxonomyKind) error {
	items, err := s.repo.List(ctx, kind, domain.ParentFilter{})
	if err != nil {
		return apperrors.NewNetworkError(fmt.Sprintf("failed to load %s", kind), err)
	}
	s.writeCache(snapshotKey(kind), items)
	s.mu.Lock()
	s.data[kind] = items
	s.sources[kind] = SourceRemote
	s.mu.Unlock()
	return nil
}

// SaveConceptTree saves a chapter's concepts and then its topics. Topics
// that point at concepts created in the same save have their client ids
// resolved through the ids the backend returns; topics whose concept cannot
// be resolved are skipped and counted.
func (s *TaxonomyService) SaveConceptTree(ctx context.Context, chapterID string, concepts, topics domain.BulkChange) (*ConceptTreeResult, error) {
	result := &ConceptTreeResult{CreatedConcepts: map[string]string{}, CreatedTopics: map[string]string{}}

	for i := range concepts.Create {
		if concepts.Create[i].ChapterID == "" {
			concepts.Create[i].ChapterID = domain.ID(chapterID)
		}
	}
	concepts.Create = filterItems(concepts.Create, func(it domain.TaxonomyItem) bool { return it.ChapterID != "" })

	hasTempRefs := referencesTempConcept(topics.Create) || referencesTempConcept(topics.Update)

	if !concepts.Empty() || hasTempRefs {
		res, err := s.SaveBulk(ctx, domain.KindConcepts, concepts)
		if err != nil {
			return nil, err
		}
		result.CreatedConcepts = res.CreatedIDs
	}

	resolve := func(items []domain.TaxonomyItem) []domain.TaxonomyItem {
		out := make([]domain.TaxonomyItem, 0, len(items))
		for _, it := range items {
			if strings.TrimSpace(it.Name) == "" || it.ConceptID == "" {
				continue
			}
			if id := string(it.ConceptID); domain.IsTempID(id) {
				resolved, ok := result.CreatedConcepts[id]
				if !ok {
					result.SkippedTopics++
					continue
				}
				it.ConceptID = domain.ID(resolved)
			}
			if it.ChapterID == "" {
				it.ChapterID = domain.ID(chapterID)
			}
			out = append(out, it)
		}
		return out
	}
	topics.Create = resolve(topics.Create)
	topics.Update = resolve(topics.Update)

	res, err := s.SaveBulk(ctx, domain.KindTopics, topics)
	if err != nil {
		return result, apperrors.NewUploadError("concepts saved but topics failed", err)
	}
	result.CreatedTopics = res.CreatedIDs
	if result.SkippedTopics > 0 {
		s.logger.Warn("Topics skipped during save", "chapter_id", chapterID, "skipped", result.SkippedTopics)
	}
	return result, nil
}

// Reset drops the local override and snapshot for kind and reloads it from
// the backend.
func (s *TaxonomyService) Reset(ctx context.Context, kind domain.TaxonomyKind) error {
	if _, ok := domain.ParseTaxonomyKind(string(kind)); !ok {
		return domain.ErrUnknownKind
	}
	if s.cache != nil {
		if err := s.cache.Delete(overrideKey(kind)); err != nil {
			return apperrors.NewInternalError("failed to clear local override", err)
		}
		if err := s.cache.Delete(snapshotKey(kind)); err != nil {
			return apperrors.NewInternalError("failed to clear local snapshot", err)
		}
	}
	s.logger.Info("Taxonomy override reset", "kind", kind)
	return s.reloadKind(ctx, kind)
}

func sanitizeBulk(change domain.BulkChange) domain.BulkChange {
	var out domain.BulkChange
	for _, it := range change.Create {
		it.Name = strings.TrimSpace(it.Name)
		if it.Name != "" {
			out.Create = append(out.Create, it)
		}
	}
	for _, it := range change.Update {
		it.Name = strings.TrimSpace(it.Name)
		if it.Name != "" && it.ID != "" && !domain.IsTempID(string(it.ID)) {
			out.Update = append(out.Update, it)
		}
	}
	for _, id := range change.Delete {
		if id != "" && !domain.IsTempID(id) {
			out.Delete = append(out.Delete, id)
		}
	}
	return out
}

func referencesTempConcept(items []domain.TaxonomyItem) bool {
	for _, it := range items {
		if domain.IsTempID(string(it.ConceptID)) {
			return true
		}
	}
	return false
}

func matches(have domain.ID, want string) bool {
	return want == "" || string(have) == want
}

func filterItems(items []domain.TaxonomyItem, keep func(domain.TaxonomyItem) bool) []domain.TaxonomyItem {
	out := make([]domain.TaxonomyItem, 0, len(items))
	for _, it := range items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

func copyItems(items []domain.TaxonomyItem) []domain.TaxonomyItem {
	return append(make([]domain.TaxonomyItem, 0, len(items)), items...)
}
