// Package domain holds the data model shared by every stage of the
// analysis pipeline: per-chapter extracted facts, the novel-wide world
// structure, the entity dictionary, and the in-memory parent vote tally
// consumed by the hierarchy consolidator.
package domain

// Ability is a gained power/skill/technique attributed to a character.
type Ability struct {
	Dimension   string `json:"dimension"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Character is one person mentioned in a chapter.
type Character struct {
	Name               string    `json:"name"`
	NewAliases         []string  `json:"new_aliases,omitempty"`
	Appearance         string    `json:"appearance,omitempty"`
	AbilitiesGained    []Ability `json:"abilities_gained,omitempty"`
	LocationsInChapter []string  `json:"locations_in_chapter,omitempty"`
}

// Relationship types are free text in the source (relation_type); the set
// below is only the action/importance enums that the spec constrains.
type Relationship struct {
	PersonA      string `json:"person_a"`
	PersonB      string `json:"person_b"`
	RelationType string `json:"relation_type"`
	Evidence     string `json:"evidence,omitempty"`
}

// Location is a place mentioned in a chapter, with an optional declared parent.
type Location struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Parent      string `json:"parent,omitempty"`
	Description string `json:"description,omitempty"`
}

// ItemEventAction is the closed action vocabulary for item_events.
type ItemEventAction string

const (
	ItemAppear  ItemEventAction = "出现"
	ItemObtain  ItemEventAction = "获得"
	ItemUse     ItemEventAction = "使用"
	ItemGift    ItemEventAction = "赠予"
	ItemConsume ItemEventAction = "消耗"
	ItemLose    ItemEventAction = "丢失"
	ItemDestroy ItemEventAction = "损毁"
)

// ValidItemActions is the closed set FactValidator normalizes against.
var ValidItemActions = map[ItemEventAction]bool{
	ItemAppear: true, ItemObtain: true, ItemUse: true, ItemGift: true,
	ItemConsume: true, ItemLose: true, ItemDestroy: true,
}

type ItemEvent struct {
	ItemName    string          `json:"item_name"`
	ItemType    string          `json:"item_type,omitempty"`
	Action      ItemEventAction `json:"action"`
	Actor       string          `json:"actor,omitempty"`
	Recipient   string          `json:"recipient,omitempty"`
	Description string          `json:"description,omitempty"`
}

// OrgEventAction is the closed action vocabulary for org_events.
type OrgEventAction string

const (
	OrgJoin     OrgEventAction = "加入"
	OrgLeave    OrgEventAction = "离开"
	OrgPromote  OrgEventAction = "晋升"
	OrgDie      OrgEventAction = "阵亡"
	OrgBetray   OrgEventAction = "叛出"
	OrgExpelled OrgEventAction = "逐出"
)

var ValidOrgActions = map[OrgEventAction]bool{
	OrgJoin: true, OrgLeave: true, OrgPromote: true,
	OrgDie: true, OrgBetray: true, OrgExpelled: true,
}

// OrgRelation records a declared relation between two organizations.
type OrgRelation struct {
	OtherOrg string `json:"other_org"`
	Type     string `json:"type"`
}

type OrgEvent struct {
	OrgName     string          `json:"org_name"`
	OrgType     string          `json:"org_type,omitempty"`
	Member      string          `json:"member,omitempty"`
	Role        string          `json:"role,omitempty"`
	Action      OrgEventAction  `json:"action"`
	OrgRelation *OrgRelation    `json:"org_relation,omitempty"`
}

// EventType is the closed set of narrative event categories.
type EventType string

const (
	EventCombat  EventType = "战斗"
	EventGrowth  EventType = "成长"
	EventSocial  EventType = "社交"
	EventTravel  EventType = "旅行"
	EventOther   EventType = "其他"
)

var ValidEventTypes = map[EventType]bool{
	EventCombat: true, EventGrowth: true, EventSocial: true, EventTravel: true, EventOther: true,
}

// EventImportance is the closed set of event significance levels.
type EventImportance string

const (
	ImportanceHigh   EventImportance = "high"
	ImportanceMedium EventImportance = "medium"
	ImportanceLow    EventImportance = "low"
)

var ValidImportance = map[EventImportance]bool{
	ImportanceHigh: true, ImportanceMedium: true, ImportanceLow: true,
}

type Event struct {
	Summary      string          `json:"summary"`
	Type         EventType       `json:"type"`
	Importance   EventImportance `json:"importance"`
	Participants []string        `json:"participants,omitempty"`
	Location     string          `json:"location,omitempty"`
}

type Concept struct {
	Name       string   `json:"name"`
	Category   string   `json:"category,omitempty"`
	Definition string   `json:"definition,omitempty"`
	Related    []string `json:"related,omitempty"`
}

type SpatialRelationship struct {
	Source       string  `json:"source"`
	Target       string  `json:"target"`
	RelationType string  `json:"relation_type"`
	Value        string  `json:"value,omitempty"`
	Confidence   float64 `json:"confidence,omitempty"`
}

type WorldDeclaration struct {
	DeclarationType   string  `json:"declaration_type"`
	Content           string  `json:"content"`
	NarrativeEvidence string  `json:"narrative_evidence,omitempty"`
	Confidence        float64 `json:"confidence,omitempty"`
}

// ChapterFact is the full extracted-knowledge object for a single chapter.
// It is persisted as an opaque JSON blob keyed by (novel_id, chapter_num).
type ChapterFact struct {
	NovelID               string                `json:"novel_id"`
	ChapterNum            int                   `json:"chapter_num"`
	Characters            []Character           `json:"characters,omitempty"`
	Relationships         []Relationship        `json:"relationships,omitempty"`
	Locations             []Location            `json:"locations,omitempty"`
	ItemEvents            []ItemEvent           `json:"item_events,omitempty"`
	OrgEvents             []OrgEvent            `json:"org_events,omitempty"`
	Events                []Event               `json:"events,omitempty"`
	NewConcepts           []Concept             `json:"new_concepts,omitempty"`
	SpatialRelationships  []SpatialRelationship `json:"spatial_relationships,omitempty"`
	WorldDeclarations     []WorldDeclaration    `json:"world_declarations,omitempty"`
	IsTruncated           bool                  `json:"is_truncated,omitempty"`
}

// MaxNameLength is the clamp applied to character/location/concept names.
const MaxNameLength = 20

// HallucinatedLocationSuffixes are suffixes that, appended to a known
// character name, indicate the extractor invented a private-residence
// location rather than observing a real one.
var HallucinatedLocationSuffixes = []string{"府邸", "住所", "居所", "家中", "宅邸", "房间"}
