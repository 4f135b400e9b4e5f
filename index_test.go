package loreline

import (
	"fmt"
	"reflect"
	"testing"
)

func newTestStore(t *testing.T) *EntityStore {
	t.Helper()
	return NewEntityStore(NewRelationshipIndex())
}

func mustCreateElement(t *testing.T, s *EntityStore, projectID string, cat ElementCategory, name string) WorldElement {
	t.Helper()
	el, err := s.CreateElement(projectID, cat, name)
	if err != nil {
		t.Fatalf("CreateElement(%s): %v", name, err)
	}
	return el
}

func mustRelate(t *testing.T, s *EntityStore, from, to string, rt RelationshipType) Relationship {
	t.Helper()
	rel, err := s.AddRelationship(from, to, rt)
	if err != nil {
		t.Fatalf("AddRelationship(%s->%s): %v", from, to, err)
	}
	return rel
}

func TestIndexDirectRelationQueries(t *testing.T) {
	s := newTestStore(t)
	p := s.CreateProject("world")
	a := mustCreateElement(t, s, p.ID, CategoryCharacter, "A")
	b := mustCreateElement(t, s, p.ID, CategoryCharacter, "B")
	c := mustCreateElement(t, s, p.ID, CategoryLocation, "C")

	rel := mustRelate(t, s, a.ID, b.ID, RelAllyOf)
	idx := s.Index()

	if !idx.AreElementsRelated(a.ID, b.ID) {
		t.Error("expected A related to B")
	}
	if !idx.AreElementsRelated(b.ID, a.ID) {
		t.Error("direct relation must be symmetric")
	}
	if idx.AreElementsRelated(a.ID, c.ID) {
		t.Error("A and C must not be related")
	}

	got := idx.GetElementRelationships(b.ID)
	if len(got.Incoming) != 1 || got.Incoming[0].ID != rel.ID {
		t.Errorf("incoming for B = %+v, want [%s]", got.Incoming, rel.ID)
	}
	if len(got.Outgoing) != 0 {
		t.Errorf("outgoing for B = %+v, want empty", got.Outgoing)
	}

	related := idx.GetRelatedElementIDs(a.ID)
	if !reflect.DeepEqual(related, []string{b.ID}) {
		t.Errorf("related to A = %v, want [%s]", related, b.ID)
	}
}

func TestIndexPathFinding(t *testing.T) {
	s := newTestStore(t)
	p := s.CreateProject("world")
	a := mustCreateElement(t, s, p.ID, CategoryCharacter, "A")
	b := mustCreateElement(t, s, p.ID, CategoryCharacter, "B")
	c := mustCreateElement(t, s, p.ID, CategoryOrganization, "C")

	ab := mustRelate(t, s, a.ID, b.ID, RelAllyOf)
	bc := mustRelate(t, s, b.ID, c.ID, RelMemberOf)
	idx := s.Index()

	path := idx.GetRelationshipPath(a.ID, c.ID, 5)
	want := []string{ab.ID, bc.ID}
	if !reflect.DeepEqual(path, want) {
		t.Errorf("path A->C = %v, want %v", path, want)
	}

	if got := idx.GetRelationshipPath(a.ID, c.ID, 1); got != nil {
		t.Errorf("path with maxDepth=1 = %v, want nil", got)
	}
	if got := idx.GetRelationshipPath(a.ID, a.ID, 5); len(got) != 0 {
		t.Errorf("path to self = %v, want empty", got)
	}
}

func TestIndexPathTraversesIncomingEdges(t *testing.T) {
	s := newTestStore(t)
	p := s.CreateProject("world")
	a := mustCreateElement(t, s, p.ID, CategoryCharacter, "A")
	b := mustCreateElement(t, s, p.ID, CategoryCharacter, "B")

	// Edge points B->A but the path A->B must still be found: paths are
	// undirected because relatedness is.
	rel := mustRelate(t, s, b.ID, a.ID, RelParentOf)

	path := s.Index().GetRelationshipPath(a.ID, b.ID, 5)
	if !reflect.DeepEqual(path, []string{rel.ID}) {
		t.Errorf("path over reverse edge = %v, want [%s]", path, rel.ID)
	}
}

func TestIndexPathHandlesCycles(t *testing.T) {
	s := newTestStore(t)
	p := s.CreateProject("world")
	var ids []string
	for i := 0; i < 4; i++ {
		el := mustCreateElement(t, s, p.ID, CategoryCharacter, fmt.Sprintf("E%d", i))
		ids = append(ids, el.ID)
	}
	// Ring: 0-1-2-3-0.
	mustRelate(t, s, ids[0], ids[1], RelAllyOf)
	mustRelate(t, s, ids[1], ids[2], RelAllyOf)
	mustRelate(t, s, ids[2], ids[3], RelAllyOf)
	mustRelate(t, s, ids[3], ids[0], RelAllyOf)

	path := s.Index().GetRelationshipPath(ids[0], ids[2], 5)
	if len(path) != 2 {
		t.Errorf("shortest path around ring = %v, want 2 hops", path)
	}

	if got := s.Index().GetRelationshipPath(ids[0], "missing", 5); got != nil {
		t.Errorf("path to unknown element = %v, want nil", got)
	}
}

func TestIndexStats(t *testing.T) {
	s := newTestStore(t)
	idx := s.Index()

	stats := idx.Stats()
	if stats.TotalRelationships != 0 || stats.ElementsWithRelationships != 0 || stats.AvgRelationshipsPerElement != 0 {
		t.Errorf("empty index stats = %+v", stats)
	}

	p := s.CreateProject("world")
	a := mustCreateElement(t, s, p.ID, CategoryCharacter, "A")
	b := mustCreateElement(t, s, p.ID, CategoryCharacter, "B")
	mustRelate(t, s, a.ID, b.ID, RelFriendOf)

	stats = idx.Stats()
	if stats.TotalRelationships != 1 {
		t.Errorf("TotalRelationships = %d, want 1", stats.TotalRelationships)
	}
	if stats.ElementsWithRelationships != 2 {
		t.Errorf("ElementsWithRelationships = %d, want 2", stats.ElementsWithRelationships)
	}
	if stats.RelationshipTypes != 1 {
		t.Errorf("RelationshipTypes = %d, want 1", stats.RelationshipTypes)
	}
	if stats.AvgRelationshipsPerElement != 1 {
		t.Errorf("AvgRelationshipsPerElement = %v, want 1", stats.AvgRelationshipsPerElement)
	}
}

func TestIndexRebuildMatchesIncremental(t *testing.T) {
	s := newTestStore(t)
	p := s.CreateProject("world")
	a := mustCreateElement(t, s, p.ID, CategoryCharacter, "A")
	b := mustCreateElement(t, s, p.ID, CategoryCharacter, "B")
	c := mustCreateElement(t, s, p.ID, CategoryLocation, "C")
	d := mustCreateElement(t, s, p.ID, CategoryItem, "D")

	mustRelate(t, s, a.ID, b.ID, RelAllyOf)
	mustRelate(t, s, b.ID, c.ID, RelLocatedIn)
	rel := mustRelate(t, s, c.ID, d.ID, RelContains)
	if err := s.RemoveRelationship(rel.ID); err != nil {
		t.Fatalf("RemoveRelationship: %v", err)
	}
	mustRelate(t, s, a.ID, d.ID, RelOwnerOf)

	incremental := s.Index().snapshotContents()

	rebuilt := NewRelationshipIndex()
	rebuilt.Rebuild(s.Elements())
	fromScratch := rebuilt.snapshotContents()

	if !reflect.DeepEqual(incremental, fromScratch) {
		t.Errorf("incremental index %v != rebuilt index %v", incremental, fromScratch)
	}
	if s.Index().Stats() != rebuilt.Stats() {
		t.Errorf("stats diverge: %+v vs %+v", s.Index().Stats(), rebuilt.Stats())
	}
}

func TestIndexRemoveElementDetachesBothSides(t *testing.T) {
	s := newTestStore(t)
	p := s.CreateProject("world")
	a := mustCreateElement(t, s, p.ID, CategoryCharacter, "A")
	b := mustCreateElement(t, s, p.ID, CategoryCharacter, "B")
	c := mustCreateElement(t, s, p.ID, CategoryCharacter, "C")

	mustRelate(t, s, a.ID, b.ID, RelAllyOf)
	mustRelate(t, s, c.ID, b.ID, RelEnemyOf)

	if err := s.DeleteElement(b.ID); err != nil {
		t.Fatalf("DeleteElement: %v", err)
	}
	idx := s.Index()

	if idx.AreElementsRelated(a.ID, b.ID) || idx.AreElementsRelated(c.ID, b.ID) {
		t.Error("deleted element still related")
	}
	if got := idx.GetElementRelationships(a.ID).All; len(got) != 0 {
		t.Errorf("A still has relationships: %v", got)
	}
	// The incoming edge owned by C must be gone from C's embedded list too.
	cEl, _ := s.GetElement(c.ID)
	if len(cEl.Relationships) != 0 {
		t.Errorf("C still owns relationships: %v", cEl.Relationships)
	}
	if idx.Stats().TotalRelationships != 0 {
		t.Errorf("stats = %+v, want zero relationships", idx.Stats())
	}
}

func TestIndexGetRelationshipsByType(t *testing.T) {
	s := newTestStore(t)
	p := s.CreateProject("world")
	a := mustCreateElement(t, s, p.ID, CategoryCharacter, "A")
	b := mustCreateElement(t, s, p.ID, CategoryCharacter, "B")
	c := mustCreateElement(t, s, p.ID, CategoryCharacter, "C")

	mustRelate(t, s, a.ID, b.ID, RelAllyOf)
	mustRelate(t, s, b.ID, c.ID, RelAllyOf)
	mustRelate(t, s, a.ID, c.ID, RelEnemyOf)

	allies := s.Index().GetRelationshipsByType(RelAllyOf)
	if len(allies) != 2 {
		t.Errorf("allies = %v, want 2", allies)
	}
	if got := s.Index().GetRelationshipsByType(RelMarriedTo); len(got) != 0 {
		t.Errorf("married = %v, want none", got)
	}
}
