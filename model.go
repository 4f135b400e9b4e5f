package loreline

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

// Project is the top-level container for a user's worldbuilding workspace.
// A project owns its world elements; deleting a project cascades to its
// elements and their relationships.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ElementCategory classifies a world element.
type ElementCategory string

const (
	CategoryCharacter    ElementCategory = "character"
	CategoryLocation     ElementCategory = "location"
	CategoryOrganization ElementCategory = "organization"
	CategoryItem         ElementCategory = "item"
	CategoryEvent        ElementCategory = "event"
	CategoryCustom       ElementCategory = "custom"
)

// WorldElement is a user-authored entity (character, location, etc.)
// within a project. Answers is the element's mutable question/answer set.
// Relationships holds the element's outgoing edges; the incoming side is
// derived by the RelationshipIndex.
type WorldElement struct {
	ID            string            `json:"id"`
	ProjectID     string            `json:"project_id"`
	Category      ElementCategory   `json:"category"`
	Name          string            `json:"name"`
	Answers       map[string]string `json:"answers,omitempty"`
	Relationships []Relationship    `json:"relationships,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Clone returns a deep copy of the element.
func (e WorldElement) Clone() WorldElement {
	cp := e
	if e.Answers != nil {
		cp.Answers = make(map[string]string, len(e.Answers))
		for k, v := range e.Answers {
			cp.Answers[k] = v
		}
	}
	cp.Relationships = append([]Relationship(nil), e.Relationships...)
	return cp
}

// RelationshipType classifies a relationship edge. The set is closed:
// some types are logically bidirectional, others have a defined inverse.
type RelationshipType string

const (
	RelAllyOf    RelationshipType = "ally_of"
	RelEnemyOf   RelationshipType = "enemy_of"
	RelSiblingOf RelationshipType = "sibling_of"
	RelMarriedTo RelationshipType = "married_to"
	RelFriendOf  RelationshipType = "friend_of"
	RelParentOf  RelationshipType = "parent_of"
	RelChildOf   RelationshipType = "child_of"
	RelMentorOf  RelationshipType = "mentor_of"
	RelStudentOf RelationshipType = "student_of"
	RelMemberOf  RelationshipType = "member_of"
	RelHasMember RelationshipType = "has_member"
	RelLocatedIn RelationshipType = "located_in"
	RelContains  RelationshipType = "contains"
	RelOwnerOf   RelationshipType = "owner_of"
	RelOwnedBy   RelationshipType = "owned_by"
)

var relationshipInverses = map[RelationshipType]RelationshipType{
	RelAllyOf:    RelAllyOf,
	RelEnemyOf:   RelEnemyOf,
	RelSiblingOf: RelSiblingOf,
	RelMarriedTo: RelMarriedTo,
	RelFriendOf:  RelFriendOf,
	RelParentOf:  RelChildOf,
	RelChildOf:   RelParentOf,
	RelMentorOf:  RelStudentOf,
	RelStudentOf: RelMentorOf,
	RelMemberOf:  RelHasMember,
	RelHasMember: RelMemberOf,
	RelLocatedIn: RelContains,
	RelContains:  RelLocatedIn,
	RelOwnerOf:   RelOwnedBy,
	RelOwnedBy:   RelOwnerOf,
}

// Valid reports whether t is part of the closed type set.
func (t RelationshipType) Valid() bool {
	_, ok := relationshipInverses[t]
	return ok
}

// Inverse returns the logical inverse type. Bidirectional types are their
// own inverse.
func (t RelationshipType) Inverse() RelationshipType {
	if inv, ok := relationshipInverses[t]; ok {
		return inv
	}
	return t
}

// Bidirectional reports whether the type reads the same from both sides.
func (t RelationshipType) Bidirectional() bool {
	return relationshipInverses[t] == t
}

// Relationship is a directed, typed edge between two world elements. It is
// owned by the FromID element's embedded list; the index references it
// under both endpoints.
type Relationship struct {
	ID        string           `json:"id"`
	FromID    string           `json:"from_id"`
	ToID      string           `json:"to_id"`
	Type      RelationshipType `json:"type"`
	CreatedAt time.Time        `json:"created_at"`
}

// EntityKind identifies what a queued operation targets.
type EntityKind string

const (
	KindProject      EntityKind = "project"
	KindElement      EntityKind = "element"
	KindRelationship EntityKind = "relationship"
	KindAnswer       EntityKind = "answer"
)

// Verb is the mutation verb of a queued operation.
type Verb string

const (
	VerbCreate Verb = "create"
	VerbUpdate Verb = "update"
	VerbDelete Verb = "delete"
)

// Validation errors for the entity model.
var (
	ErrEmptyID         = errors.New("entity ID required")
	ErrUnknownProject  = errors.New("project not found")
	ErrUnknownElement  = errors.New("element not found")
	ErrUnknownRelation = errors.New("relationship not found")
	ErrInvalidRelType  = errors.New("relationship type not in the closed set")
	ErrSelfRelation    = errors.New("relationship endpoints must differ")
	ErrDuplicateID     = errors.New("entity ID already exists")
)

func newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}
