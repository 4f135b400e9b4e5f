package loreline

import (
	"sort"
	"sync"
	"time"
)

// EntityStore is the in-memory authoritative collection of projects and
// world elements. All mutations run on the single writer path and update
// the relationship index within the same step, so readers never observe
// an element change without its index counterpart. Reads return deep
// copies; callers cannot alias internal state.
type EntityStore struct {
	mu        sync.RWMutex
	projects  map[string]Project
	elements  map[string]WorldElement
	byProject map[string]map[string]struct{}
	index     *RelationshipIndex
	nowFn     func() time.Time
}

// NewEntityStore creates a store bound to the given relationship index.
func NewEntityStore(index *RelationshipIndex) *EntityStore {
	if index == nil {
		index = NewRelationshipIndex()
	}
	return &EntityStore{
		projects:  make(map[string]Project),
		elements:  make(map[string]WorldElement),
		byProject: make(map[string]map[string]struct{}),
		index:     index,
		nowFn:     func() time.Time { return time.Now().UTC() },
	}
}

// Index returns the relationship index the store maintains.
func (s *EntityStore) Index() *RelationshipIndex {
	return s.index
}

// CreateProject adds a new project.
func (s *EntityStore) CreateProject(name string) Project {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	p := Project{ID: newID(), Name: name, CreatedAt: now, UpdatedAt: now}
	s.projects[p.ID] = p
	s.byProject[p.ID] = make(map[string]struct{})
	return p
}

// RenameProject updates a project's name and bumps its UpdatedAt.
func (s *EntityStore) RenameProject(id, name string) (Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[id]
	if !ok {
		return Project{}, ErrUnknownProject
	}
	p.Name = name
	p.UpdatedAt = s.nowFn()
	s.projects[id] = p
	return p, nil
}

// GetProject returns a project by id.
func (s *EntityStore) GetProject(id string) (Project, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	return p, ok
}

// ListProjects returns all projects sorted by id.
func (s *EntityStore) ListProjects() []Project {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DeleteProject removes a project and cascades to its elements and their
// relationships, in both the store and the index. Returns the ids of the
// deleted elements.
func (s *EntityStore) DeleteProject(id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[id]; !ok {
		return nil, ErrUnknownProject
	}

	var deleted []string
	for elID := range s.byProject[id] {
		deleted = append(deleted, elID)
	}
	sort.Strings(deleted)
	for _, elID := range deleted {
		s.deleteElementLocked(elID)
	}

	delete(s.projects, id)
	delete(s.byProject, id)
	return deleted, nil
}

// CreateElement adds a world element to a project.
func (s *EntityStore) CreateElement(projectID string, category ElementCategory, name string) (WorldElement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[projectID]; !ok {
		return WorldElement{}, ErrUnknownProject
	}

	now := s.nowFn()
	el := WorldElement{
		ID:        newID(),
		ProjectID: projectID,
		Category:  category,
		Name:      name,
		Answers:   make(map[string]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.elements[el.ID] = el
	s.byProject[projectID][el.ID] = struct{}{}
	return el.Clone(), nil
}

// ElementUpdate describes a partial element update. Nil fields are left
// unchanged.
type ElementUpdate struct {
	Name     *string
	Category *ElementCategory
}

// UpdateElement applies a partial update and bumps UpdatedAt.
func (s *EntityStore) UpdateElement(id string, update ElementUpdate) (WorldElement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.elements[id]
	if !ok {
		return WorldElement{}, ErrUnknownElement
	}
	if update.Name != nil {
		el.Name = *update.Name
	}
	if update.Category != nil {
		el.Category = *update.Category
	}
	el.UpdatedAt = s.nowFn()
	s.elements[id] = el
	return el.Clone(), nil
}

// GetElement returns a deep copy of an element.
func (s *EntityStore) GetElement(id string) (WorldElement, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	el, ok := s.elements[id]
	if !ok {
		return WorldElement{}, false
	}
	return el.Clone(), true
}

// ListElements returns deep copies of a project's elements sorted by id.
func (s *EntityStore) ListElements(projectID string) []WorldElement {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]WorldElement, 0, len(s.byProject[projectID]))
	for elID := range s.byProject[projectID] {
		if el, ok := s.elements[elID]; ok {
			out = append(out, el.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Elements returns deep copies of every element across all projects,
// sorted by id. Used for index rebuilds and snapshot backups.
func (s *EntityStore) Elements() []WorldElement {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]WorldElement, 0, len(s.elements))
	for _, el := range s.elements {
		out = append(out, el.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DeleteElement removes an element and every relationship that references
// it from either side, even when the opposite endpoint belongs to a
// different project.
func (s *EntityStore) DeleteElement(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.elements[id]; !ok {
		return ErrUnknownElement
	}
	s.deleteElementLocked(id)
	return nil
}

func (s *EntityStore) deleteElementLocked(id string) {
	el, ok := s.elements[id]
	if !ok {
		return
	}

	// Relationships owned by other elements that point at the deleted
	// one must leave their owners' embedded lists too.
	incoming := s.index.GetElementRelationships(id).Incoming
	for _, r := range incoming {
		if owner, ok := s.elements[r.FromID]; ok && r.FromID != id {
			owner.Relationships = removeRelationshipByID(owner.Relationships, r.ID)
			owner.UpdatedAt = s.nowFn()
			s.elements[r.FromID] = owner
		}
	}

	s.index.RemoveElement(id)
	delete(s.byProject[el.ProjectID], id)
	delete(s.elements, id)
}

func removeRelationshipByID(rels []Relationship, id string) []Relationship {
	out := rels[:0]
	for _, r := range rels {
		if r.ID != id {
			out = append(out, r)
		}
	}
	return out
}

// AddRelationship creates a directed, typed edge between two elements.
// The edge is owned by the from element's embedded list and indexed under
// both endpoints. Cross-project relationships are permitted.
func (s *EntityStore) AddRelationship(fromID, toID string, relType RelationshipType) (Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !relType.Valid() {
		return Relationship{}, ErrInvalidRelType
	}
	if fromID == toID {
		return Relationship{}, ErrSelfRelation
	}
	from, ok := s.elements[fromID]
	if !ok {
		return Relationship{}, ErrUnknownElement
	}
	if _, ok := s.elements[toID]; !ok {
		return Relationship{}, ErrUnknownElement
	}

	r := Relationship{
		ID:        newID(),
		FromID:    fromID,
		ToID:      toID,
		Type:      relType,
		CreatedAt: s.nowFn(),
	}
	from.Relationships = append(from.Relationships, r)
	from.UpdatedAt = s.nowFn()
	s.elements[fromID] = from
	s.index.IndexRelationship(r)
	return r, nil
}

// RemoveRelationship deletes a relationship by id from its owner's
// embedded list and from the index.
func (s *EntityStore) RemoveRelationship(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rel, ok := s.index.GetRelationship(id)
	if !ok {
		return ErrUnknownRelation
	}
	owner, ok := s.elements[rel.FromID]
	if !ok {
		return ErrUnknownRelation
	}

	owner.Relationships = removeRelationshipByID(owner.Relationships, id)
	owner.UpdatedAt = s.nowFn()
	s.elements[owner.ID] = owner
	s.index.RemoveRelationship(id)
	return nil
}

// UpdateAnswer sets one entry in the element's answer set and bumps
// UpdatedAt. An empty answer removes the entry.
func (s *EntityStore) UpdateAnswer(elementID, question, answer string) (WorldElement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.elements[elementID]
	if !ok {
		return WorldElement{}, ErrUnknownElement
	}
	if el.Answers == nil {
		el.Answers = make(map[string]string)
	}
	if answer == "" {
		delete(el.Answers, question)
	} else {
		el.Answers[question] = answer
	}
	el.UpdatedAt = s.nowFn()
	s.elements[elementID] = el
	return el.Clone(), nil
}
