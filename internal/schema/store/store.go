// Package store implements the in-memory projection of the internal
// topic: subjects, versions, compatibility levels, and deletion flags.
// One Store instance backs each worker's replica; only the coordinator's
// replica is mutated by direct writes, other replicas catch up via the
// Applier (see internal/schema/applier and internal/schema/replica).
package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nimbusdata/schema-registry/internal/regerr"
	"github.com/nimbusdata/schema-registry/internal/schema/formats"
	"github.com/nimbusdata/schema-registry/internal/schema/types"
)

type versionEntry struct {
	id         int
	schemaType types.SchemaType
	definition string
	deleted    bool
}

// Projection is the tentative result of projecting a (subject,
// definition, type) triple onto the Store: the ID and version it would
// be assigned, and whether that assignment requires a new write.
type Projection struct {
	ID       int
	Version  int
	Inserted bool
}

// SubjectSchema is the result of a subject/version lookup.
type SubjectSchema struct {
	ID         int
	Type       types.SchemaType
	Definition string
	Deleted    bool
}

// Store is the sharded in-memory projection of the internal topic. It is
// safe for concurrent use; callers outside the single-writer coordinator
// path only ever read from it.
type Store struct {
	mu sync.RWMutex

	versions map[string]map[int]*versionEntry

	definitionIndex map[string]int // fingerprint(type, definition) -> canonical schema ID
	nextSchemaID    int            // highest schema ID assigned so far

	globalCompat    types.CompatibilityLevel
	globalCompatSet bool // distinguishes "never written" from "written, value happens to equal defaultCompat"
	subjectCompat   map[string]types.CompatibilityLevel

	subjectDeleted          map[string]bool
	subjectDeletedAtVersion map[string]int

	versionMarkers       map[string]map[int][]types.SeqMarker
	subjectMarkers       map[string][]types.SeqMarker // delete_subject_key markers
	subjectConfigMarkers map[string][]types.SeqMarker // config_key{subject} markers

	defaultCompat types.CompatibilityLevel
	formats       formats.Registry
}

// New creates an empty Store. defaultCompat is returned by
// GetCompatibility when the global level has never been written.
func New(defaultCompat types.CompatibilityLevel) *Store {
	return &Store{
		versions:                make(map[string]map[int]*versionEntry),
		definitionIndex:         make(map[string]int),
		subjectCompat:           make(map[string]types.CompatibilityLevel),
		subjectDeleted:          make(map[string]bool),
		subjectDeletedAtVersion: make(map[string]int),
		versionMarkers:          make(map[string]map[int][]types.SeqMarker),
		subjectMarkers:          make(map[string][]types.SeqMarker),
		subjectConfigMarkers:    make(map[string][]types.SeqMarker),
		defaultCompat:           defaultCompat,
		formats:                 formats.New(),
	}
}

func fingerprint(schemaType types.SchemaType, definition string) string {
	return string(schemaType) + "\x00" + definition
}

// sortedVersionsLocked returns the subject's version numbers in ascending
// order. Caller must hold at least a read lock.
func (s *Store) sortedVersionsLocked(subject string) []int {
	entries := s.versions[subject]
	out := make([]int, 0, len(entries))
	for v := range entries {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// ProjectIDs computes the ID and version that registering (subject,
// definition, type) would receive, without mutating the Store. If the
// subject already has a version with this exact (definition, type) —
// deleted or not — that version is returned with Inserted=false: the
// second invocation of an identical triple is always a no-op (§8).
// Otherwise definition is checked against the subject's latest
// non-deleted version under its effective compatibility level; a
// violation is returned as ErrCompatibilityViolation and nothing is
// projected. Passing that check, a new version number and (possibly
// reused, cross-subject deduplicated) schema ID are projected, with
// Inserted=true.
func (s *Store) ProjectIDs(subject, definition string, schemaType types.SchemaType) (Projection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.sortedVersionsLocked(subject) {
		entry := s.versions[subject][v]
		if entry.schemaType == schemaType && entry.definition == definition {
			return Projection{ID: entry.id, Version: v, Inserted: false}, nil
		}
	}

	compatible, err := s.checkCompatibilityLocked(subject, definition, schemaType)
	if !compatible {
		// Format plugins report the reason a candidate is incompatible as
		// the error returned alongside compatible=false; fold it into the
		// violation instead of letting it pass through unwrapped, so
		// callers can always match on regerr.ErrCompatibilityViolation.
		if err != nil {
			return Projection{}, fmt.Errorf("%w: subject %q: %v", regerr.ErrCompatibilityViolation, subject, err)
		}
		return Projection{}, fmt.Errorf("%w: subject %q", regerr.ErrCompatibilityViolation, subject)
	}
	if err != nil {
		return Projection{}, err
	}

	newVersion := 1
	if vs := s.sortedVersionsLocked(subject); len(vs) > 0 {
		newVersion = vs[len(vs)-1] + 1
	}

	if id, ok := s.definitionIndex[fingerprint(schemaType, definition)]; ok {
		return Projection{ID: id, Version: newVersion, Inserted: true}, nil
	}

	return Projection{ID: s.nextSchemaID + 1, Version: newVersion, Inserted: true}, nil
}

// CheckCompatibility reports whether definition would be compatible with
// subject's latest non-deleted registered version, under the effective
// compatibility level for subject. It performs no mutation and is safe
// to call directly from the REST layer's dedicated compatibility-check
// endpoint as well as from ProjectIDs.
func (s *Store) CheckCompatibility(subject, definition string, schemaType types.SchemaType) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkCompatibilityLocked(subject, definition, schemaType)
}

// checkCompatibilityLocked implements CheckCompatibility; caller must
// hold at least a read lock. Schema definitions are an opaque payload to
// this core (§3): when either the candidate or the subject's latest
// definition fails to parse under schemaType's format, the check is
// skipped rather than treated as a violation.
func (s *Store) checkCompatibilityLocked(subject, definition string, schemaType types.SchemaType) (bool, error) {
	level := s.compatibilityLocked(subject)
	if level == types.None {
		return true, nil
	}
	format := s.formats.For(schemaType)
	if format == nil {
		return true, nil
	}

	var latest *versionEntry
	versions := s.sortedVersionsLocked(subject)
	for i := len(versions) - 1; i >= 0; i-- {
		if entry := s.versions[subject][versions[i]]; !entry.deleted {
			latest = entry
			break
		}
	}
	if latest == nil {
		return true, nil // new subject: nothing to conflict with
	}

	if format.Validate(latest.definition) != nil || format.Validate(definition) != nil {
		return true, nil
	}

	return format.CheckCompatibility(latest.definition, definition, level)
}

// RecordMarker records the sequence marker for any key observed in the
// log, regardless of kind, so permanent delete can later locate it.
func (s *Store) RecordMarker(subject string, marker types.SeqMarker) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch marker.KeyType {
	case types.KeySchema:
		if _, ok := s.versionMarkers[subject]; !ok {
			s.versionMarkers[subject] = make(map[int][]types.SeqMarker)
		}
		s.versionMarkers[subject][marker.Version] = append(s.versionMarkers[subject][marker.Version], marker)
	case types.KeyDeleteSubject:
		s.subjectMarkers[subject] = append(s.subjectMarkers[subject], marker)
	case types.KeyConfig:
		if subject != "" {
			s.subjectConfigMarkers[subject] = append(s.subjectConfigMarkers[subject], marker)
		}
	}
}

// UpsertSchemaVersion applies a non-tombstone schema_value: it creates or
// replaces the (subject, version) entry and keeps the global definition
// index and schema ID counter current.
func (s *Store) UpsertSchemaVersion(subject string, version, id int, schemaType types.SchemaType, definition string, deleted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.versions[subject]; !ok {
		s.versions[subject] = make(map[int]*versionEntry)
	}
	s.versions[subject][version] = &versionEntry{id: id, schemaType: schemaType, definition: definition, deleted: deleted}

	fp := fingerprint(schemaType, definition)
	if _, ok := s.definitionIndex[fp]; !ok {
		s.definitionIndex[fp] = id
	}
	if id > s.nextSchemaID {
		s.nextSchemaID = id
	}
}

// RemoveSchemaVersion applies a tombstone for a schema_key: the specific
// version is removed entirely.
func (s *Store) RemoveSchemaVersion(subject string, version int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entries, ok := s.versions[subject]; ok {
		delete(entries, version)
		if len(entries) == 0 {
			delete(s.versions, subject)
		}
	}
}

// SetCompatibility applies a non-tombstone config_value. An empty
// subject sets the global level.
func (s *Store) SetCompatibility(subject string, level types.CompatibilityLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if subject == "" {
		s.globalCompat = level
		s.globalCompatSet = true
		return
	}
	s.subjectCompat[subject] = level
}

// ClearCompatibility applies a tombstone for a config_key{subject},
// reverting that subject to the global compatibility level.
func (s *Store) ClearCompatibility(subject string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subjectCompat, subject)
}

// ClearGlobalCompatibility applies a tombstone for the global config
// key, reverting the global level to the Store's unconfigured default
// as if it had never been written.
func (s *Store) ClearGlobalCompatibility() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globalCompat = ""
	s.globalCompatSet = false
}

// SetSubjectDeleted applies a non-tombstone delete_subject_value,
// marking the subject as soft-deleted as of the given version.
func (s *Store) SetSubjectDeleted(subject string, version int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjectDeleted[subject] = true
	s.subjectDeletedAtVersion[subject] = version
}

// ClearSubjectDeleted applies a tombstone for a delete_subject_key.
func (s *Store) ClearSubjectDeleted(subject string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subjectDeleted, subject)
	delete(s.subjectDeletedAtVersion, subject)
}

// GetSubjectSchema returns the schema registered for (subject, version).
func (s *Store) GetSubjectSchema(subject string, version int, includeDeleted bool) (SubjectSchema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.subjectDeleted[subject] && !includeDeleted {
		return SubjectSchema{}, fmt.Errorf("subject %q: %w", subject, regerr.ErrNotFound)
	}

	entries, ok := s.versions[subject]
	if !ok {
		return SubjectSchema{}, fmt.Errorf("subject %q: %w", subject, regerr.ErrNotFound)
	}
	entry, ok := entries[version]
	if !ok {
		return SubjectSchema{}, fmt.Errorf("subject %q version %d: %w", subject, version, regerr.ErrNotFound)
	}
	if entry.deleted && !includeDeleted {
		return SubjectSchema{}, fmt.Errorf("subject %q version %d: %w", subject, version, regerr.ErrNotFound)
	}

	return SubjectSchema{ID: entry.id, Type: entry.schemaType, Definition: entry.definition, Deleted: entry.deleted}, nil
}

// GetVersions returns the sorted list of versions for a subject.
func (s *Store) GetVersions(subject string, includeDeleted bool) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.subjectDeleted[subject] && !includeDeleted {
		return nil, fmt.Errorf("subject %q: %w", subject, regerr.ErrNotFound)
	}

	entries, ok := s.versions[subject]
	if !ok || len(entries) == 0 {
		return nil, fmt.Errorf("subject %q: %w", subject, regerr.ErrNotFound)
	}

	out := make([]int, 0, len(entries))
	for v, entry := range entries {
		if entry.deleted && !includeDeleted {
			continue
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("subject %q: %w", subject, regerr.ErrNotFound)
	}
	sort.Ints(out)
	return out, nil
}

// IsSubjectDeleted reports whether the subject is currently soft-deleted.
func (s *Store) IsSubjectDeleted(subject string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subjectDeleted[subject]
}

// GetCompatibility returns the compatibility level for subject, falling
// back to the global level. An empty subject always returns the global
// level.
func (s *Store) GetCompatibility(subject string) types.CompatibilityLevel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.compatibilityLocked(subject)
}

// compatibilityLocked implements GetCompatibility; caller must hold at
// least a read lock. Exists so checkCompatibilityLocked can read the
// effective level without a recursive RLock call.
func (s *Store) compatibilityLocked(subject string) types.CompatibilityLevel {
	if subject != "" {
		if level, ok := s.subjectCompat[subject]; ok {
			return level
		}
	}
	if !s.globalCompatSet {
		return s.defaultCompat
	}
	return s.globalCompat
}

// CompatibilityIsSet reports whether subject (or the global level, if
// subject is empty) has ever been explicitly written, as distinct from
// GetCompatibility's read-path fallback to the configured default when
// nothing has been written yet. WriteConfig's no-op check needs this
// distinction: the very first write of the level that happens to equal
// defaultCompat must still produce a record.
func (s *Store) CompatibilityIsSet(subject string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if subject != "" {
		_, ok := s.subjectCompat[subject]
		return ok
	}
	return s.globalCompatSet
}

// GetSubjectWrittenAt returns every seq marker ever recorded against the
// subject: its schema-version writes, its delete_subject writes, and its
// per-subject config writes. Used by permanent delete to tombstone the
// whole subject.
func (s *Store) GetSubjectWrittenAt(subject string) ([]types.SeqMarker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.SeqMarker
	for _, markers := range s.versionMarkers[subject] {
		out = append(out, markers...)
	}
	out = append(out, s.subjectMarkers[subject]...)
	out = append(out, s.subjectConfigMarkers[subject]...)

	if len(out) == 0 {
		return nil, fmt.Errorf("subject %q: %w", subject, regerr.ErrNotFound)
	}
	return out, nil
}

// GetSubjectVersionWrittenAt returns every seq marker recorded for one
// (subject, version) pair.
func (s *Store) GetSubjectVersionWrittenAt(subject string, version int) ([]types.SeqMarker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markers := s.versionMarkers[subject][version]
	if len(markers) == 0 {
		return nil, fmt.Errorf("subject %q version %d: %w", subject, version, regerr.ErrNotFound)
	}
	out := make([]types.SeqMarker, len(markers))
	copy(out, markers)
	return out, nil
}

// LookupByID returns the schema definition and type registered under
// schema ID id, preferring a non-deleted entry over a soft-deleted one
// when both exist.
func (s *Store) LookupByID(id int) (SubjectSchema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var fallback *versionEntry
	for _, entries := range s.versions {
		for _, entry := range entries {
			if entry.id != id {
				continue
			}
			if !entry.deleted {
				return SubjectSchema{ID: entry.id, Type: entry.schemaType, Definition: entry.definition, Deleted: entry.deleted}, nil
			}
			fallback = entry
		}
	}
	if fallback != nil {
		return SubjectSchema{ID: fallback.id, Type: fallback.schemaType, Definition: fallback.definition, Deleted: fallback.deleted}, nil
	}
	return SubjectSchema{}, fmt.Errorf("schema id %d: %w", id, regerr.ErrNotFound)
}

// LookupRegistered returns the version already assigned to (subject,
// definition, type) without assigning a new one, for read-only
// "is this schema already registered" queries. It fails not_found if
// the triple has never been written.
func (s *Store) LookupRegistered(subject, definition string, schemaType types.SchemaType) (SubjectSchema, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.sortedVersionsLocked(subject) {
		entry := s.versions[subject][v]
		if entry.schemaType == schemaType && entry.definition == definition {
			return SubjectSchema{ID: entry.id, Type: entry.schemaType, Definition: entry.definition, Deleted: entry.deleted}, v, nil
		}
	}
	return SubjectSchema{}, 0, fmt.Errorf("subject %q: %w", subject, regerr.ErrNotFound)
}

// ListSubjects returns every subject with at least one visible version.
func (s *Store) ListSubjects(includeDeleted bool) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.versions))
	for subject, entries := range s.versions {
		if s.subjectDeleted[subject] && !includeDeleted {
			continue
		}
		if !includeDeleted {
			hasVisible := false
			for _, e := range entries {
				if !e.deleted {
					hasVisible = true
					break
				}
			}
			if !hasVisible {
				continue
			}
		} else if len(entries) == 0 {
			continue
		}
		out = append(out, subject)
	}
	sort.Strings(out)
	return out
}
