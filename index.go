package loreline

import (
	"sort"
	"sync"
)

// DefaultMaxPathDepth bounds BFS path searches. Worldbuilding graphs are
// sparse but can contain cycles, so every search is depth-limited.
const DefaultMaxPathDepth = 5

// RelationshipIndex is a derived adjacency structure over the entity
// store's relationships. It is a rebuildable cache, never a second source
// of truth: every lookup degrades to empty results for unknown ids, and
// Rebuild recomputes the exact state incremental maintenance produces.
type RelationshipIndex struct {
	mu            sync.RWMutex
	relationships map[string]Relationship
	outgoing      map[string]map[string]struct{} // elementID -> relationship ids
	incoming      map[string]map[string]struct{} // elementID -> relationship ids
	byType        map[RelationshipType]map[string]struct{}
	adjacency     map[string]int // normalized pair key -> direct edge count
}

// NewRelationshipIndex creates an empty index.
func NewRelationshipIndex() *RelationshipIndex {
	idx := &RelationshipIndex{}
	idx.resetLocked()
	return idx
}

func (idx *RelationshipIndex) resetLocked() {
	idx.relationships = make(map[string]Relationship)
	idx.outgoing = make(map[string]map[string]struct{})
	idx.incoming = make(map[string]map[string]struct{})
	idx.byType = make(map[RelationshipType]map[string]struct{})
	idx.adjacency = make(map[string]int)
}

func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "\x00" + b
}

// IndexRelationship adds or replaces a relationship in the index,
// updating both endpoint sets and the by-type secondary index.
func (idx *RelationshipIndex) IndexRelationship(r Relationship) {
	if r.ID == "" {
		return
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.indexLocked(r)
}

func (idx *RelationshipIndex) indexLocked(r Relationship) {
	if old, ok := idx.relationships[r.ID]; ok {
		idx.unindexLocked(old)
	}

	idx.relationships[r.ID] = r
	addToSet(idx.outgoing, r.FromID, r.ID)
	addToSet(idx.incoming, r.ToID, r.ID)
	if set, ok := idx.byType[r.Type]; ok {
		set[r.ID] = struct{}{}
	} else {
		idx.byType[r.Type] = map[string]struct{}{r.ID: {}}
	}
	idx.adjacency[pairKey(r.FromID, r.ToID)]++
}

// RemoveRelationship removes a relationship by id. Unknown ids are a
// no-op.
func (idx *RelationshipIndex) RemoveRelationship(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	r, ok := idx.relationships[id]
	if !ok {
		return
	}
	idx.unindexLocked(r)
	delete(idx.relationships, id)
}

func (idx *RelationshipIndex) unindexLocked(r Relationship) {
	removeFromSet(idx.outgoing, r.FromID, r.ID)
	removeFromSet(idx.incoming, r.ToID, r.ID)
	if set, ok := idx.byType[r.Type]; ok {
		delete(set, r.ID)
		if len(set) == 0 {
			delete(idx.byType, r.Type)
		}
	}
	key := pairKey(r.FromID, r.ToID)
	if idx.adjacency[key]--; idx.adjacency[key] <= 0 {
		delete(idx.adjacency, key)
	}
}

// RemoveElement removes an element's index entries on both sides along
// with every relationship that references it, regardless of which project
// owns the opposite endpoint.
func (idx *RelationshipIndex) RemoveElement(elementID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var stale []string
	for id := range idx.outgoing[elementID] {
		stale = append(stale, id)
	}
	for id := range idx.incoming[elementID] {
		stale = append(stale, id)
	}
	for _, id := range stale {
		if r, ok := idx.relationships[id]; ok {
			idx.unindexLocked(r)
			delete(idx.relationships, id)
		}
	}
	delete(idx.outgoing, elementID)
	delete(idx.incoming, elementID)
}

func addToSet(m map[string]map[string]struct{}, key, member string) {
	set, ok := m[key]
	if !ok {
		set = make(map[string]struct{})
		m[key] = set
	}
	set[member] = struct{}{}
}

func removeFromSet(m map[string]map[string]struct{}, key, member string) {
	if set, ok := m[key]; ok {
		delete(set, member)
		if len(set) == 0 {
			delete(m, key)
		}
	}
}

// GetRelationship returns an indexed relationship by id.
func (idx *RelationshipIndex) GetRelationship(id string) (Relationship, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	r, ok := idx.relationships[id]
	return r, ok
}

// ElementRelationships groups an element's edges by direction. All slices
// are sorted by relationship id for deterministic results.
type ElementRelationships struct {
	Outgoing []Relationship `json:"outgoing"`
	Incoming []Relationship `json:"incoming"`
	All      []Relationship `json:"all"`
}

// GetElementRelationships returns the element's outgoing, incoming, and
// combined relationship sets. Unknown ids yield empty sets rather than an
// error; the caller may be querying a freshly-deleted entity.
func (idx *RelationshipIndex) GetElementRelationships(elementID string) ElementRelationships {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := idx.collectLocked(idx.outgoing[elementID])
	in := idx.collectLocked(idx.incoming[elementID])

	all := make([]Relationship, 0, len(out)+len(in))
	all = append(all, out...)
	all = append(all, in...)
	sortRelationships(all)

	return ElementRelationships{Outgoing: out, Incoming: in, All: all}
}

func (idx *RelationshipIndex) collectLocked(ids map[string]struct{}) []Relationship {
	rels := make([]Relationship, 0, len(ids))
	for id := range ids {
		if r, ok := idx.relationships[id]; ok {
			rels = append(rels, r)
		}
	}
	sortRelationships(rels)
	return rels
}

func sortRelationships(rels []Relationship) {
	sort.Slice(rels, func(i, j int) bool { return rels[i].ID < rels[j].ID })
}

// GetRelatedElementIDs returns the deduplicated ids of every element
// directly related to elementID, in either direction, sorted.
func (idx *RelationshipIndex) GetRelatedElementIDs(elementID string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	seen := make(map[string]struct{})
	for id := range idx.outgoing[elementID] {
		if r, ok := idx.relationships[id]; ok {
			seen[r.ToID] = struct{}{}
		}
	}
	for id := range idx.incoming[elementID] {
		if r, ok := idx.relationships[id]; ok {
			seen[r.FromID] = struct{}{}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetRelationshipsByType returns all relationships of the given type,
// served from the secondary index without scanning, sorted by id.
func (idx *RelationshipIndex) GetRelationshipsByType(t RelationshipType) []Relationship {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.collectLocked(idx.byType[t])
}

// AreElementsRelated reports whether a direct relationship exists between
// the two elements in either direction. O(1) set membership, not a path
// search.
func (idx *RelationshipIndex) AreElementsRelated(a, b string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.adjacency[pairKey(a, b)] > 0
}

// GetRelationshipPath returns the shortest path (by hop count) between
// two elements as an ordered list of relationship ids, or nil if no path
// exists within maxDepth hops. Edges are walked in both directions. Ties
// on length break toward the lexicographically smaller relationship-id
// sequence. maxDepth <= 0 uses DefaultMaxPathDepth.
func (idx *RelationshipIndex) GetRelationshipPath(fromID, toID string, maxDepth int) []string {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxPathDepth
	}
	if fromID == toID {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	type node struct {
		id    string
		depth int
		path  []string
	}

	// Expanding neighbors in sorted relationship-id order and visiting
	// each element once keeps the first discovered path both shortest
	// and lexicographically minimal.
	visited := map[string]struct{}{fromID: {}}
	queue := []node{{id: fromID}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur.depth >= maxDepth {
			continue
		}

		for _, relID := range idx.sortedEdgesLocked(cur.id) {
			r, ok := idx.relationships[relID]
			if !ok {
				continue
			}
			next := r.ToID
			if next == cur.id {
				next = r.FromID
			}
			if _, ok := visited[next]; ok {
				continue
			}

			path := append(append([]string(nil), cur.path...), relID)
			if next == toID {
				return path
			}
			visited[next] = struct{}{}
			queue = append(queue, node{id: next, depth: cur.depth + 1, path: path})
		}
	}
	return nil
}

func (idx *RelationshipIndex) sortedEdgesLocked(elementID string) []string {
	ids := make([]string, 0, len(idx.outgoing[elementID])+len(idx.incoming[elementID]))
	for id := range idx.outgoing[elementID] {
		ids = append(ids, id)
	}
	for id := range idx.incoming[elementID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IndexStats summarizes the index contents.
type IndexStats struct {
	TotalRelationships         int     `json:"total_relationships"`
	ElementsWithRelationships  int     `json:"elements_with_relationships"`
	RelationshipTypes          int     `json:"relationship_types"`
	AvgRelationshipsPerElement float64 `json:"avg_relationships_per_element"`
}

// Stats returns aggregate counts over the indexed relationships.
func (idx *RelationshipIndex) Stats() IndexStats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	connected := make(map[string]struct{})
	for el, set := range idx.outgoing {
		if len(set) > 0 {
			connected[el] = struct{}{}
		}
	}
	for el, set := range idx.incoming {
		if len(set) > 0 {
			connected[el] = struct{}{}
		}
	}

	stats := IndexStats{
		TotalRelationships:        len(idx.relationships),
		ElementsWithRelationships: len(connected),
		RelationshipTypes:         len(idx.byType),
	}
	if len(connected) > 0 {
		total := 0
		for el := range connected {
			total += len(idx.outgoing[el]) + len(idx.incoming[el])
		}
		stats.AvgRelationshipsPerElement = float64(total) / float64(len(connected))
	}
	return stats
}

// Rebuild recomputes the index from scratch over the given elements'
// embedded relationship lists. The result is identical to applying the
// same mutations incrementally; callers use it for crash recovery or to
// self-heal a suspected-stale index.
func (idx *RelationshipIndex) Rebuild(elements []WorldElement) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.resetLocked()
	for _, el := range elements {
		for _, r := range el.Relationships {
			if r.ID == "" {
				continue
			}
			idx.indexLocked(r)
		}
	}
}

// snapshotContents returns a deterministic flat copy of every indexed
// relationship, used by equivalence checks.
func (idx *RelationshipIndex) snapshotContents() []Relationship {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	rels := make([]Relationship, 0, len(idx.relationships))
	for _, r := range idx.relationships {
		rels = append(rels, r)
	}
	sortRelationships(rels)
	return rels
}
