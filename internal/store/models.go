package store

import "time"

// Workflow stage tags, in pipeline order. CurrentStep mirrors the highest
// completed step number and never moves backward.
const (
	StageCreated       = "created"
	StagePlanning      = "planning"
	StageWorldBuilding = "world-building"
	StageOutline       = "outline"
	StageDetailOutline = "detail-outline"
	StageWriting       = "writing"
	StageQualityCheck  = "quality-check"
	StageCompleted     = "completed"
)

var stageRank = map[string]int{
	StageCreated:       0,
	StagePlanning:      1,
	StageWorldBuilding: 2,
	StageOutline:       3,
	StageDetailOutline: 4,
	StageWriting:       5,
	StageQualityCheck:  6,
	StageCompleted:     7,
}

// StageRank returns the pipeline position of a stage tag, or -1 for an
// unknown tag.
func StageRank(stage string) int {
	if r, ok := stageRank[stage]; ok {
		return r
	}
	return -1
}

// Plot arc lifecycle states.
const (
	ArcPlanted    = "planted"
	ArcDeveloping = "developing"
	ArcResolved   = "resolved"
	ArcAbandoned  = "abandoned"
)

// Plot arc importance levels, ranked high > medium > low.
const (
	ImportanceHigh   = "high"
	ImportanceMedium = "medium"
	ImportanceLow    = "low"
)

// World item kinds.
const (
	WorldLocation     = "location"
	WorldOrganization = "organization"
	WorldItemKind     = "item"
	WorldRule         = "rule"
)

// Project is one novel. PlanningText, WorldBuildingRaw, and OutlineRaw hold
// the raw text of the early pipeline stages; SpoilerConfig holds author-only
// twists that are never rendered into prompts.
type Project struct {
	ID               int64
	Name             string
	Genre            string
	Tags             string // comma-separated plot tags
	Description      string
	PlanningText     string
	WorldBuildingRaw string
	OutlineRaw       string
	SpoilerConfig    string
	Stage            string
	CurrentStep      int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Volume groups consecutive chapters. VolumeConfig may be rendered into
// prompts, unlike the project spoiler config.
type Volume struct {
	ID           int64
	ProjectID    int64
	Ordinal      int
	Title        string
	Summary      string
	VolumeConfig string
	CreatedAt    time.Time
}

// Chapter is the unit of generation. DetailOutline being non-nil marks
// step 4 done; Content being non-empty marks step 5 done. Summary is the
// compression cache and is nil until built.
type Chapter struct {
	ID                 int64
	ProjectID          int64
	VolumeID           *int64
	Ordinal            int
	Title              string
	Outline            string
	DetailOutline      *string
	Content            string
	Summary            *string
	WordCount          int
	KeyEvents          string // JSON array
	CharactersInvolved string // JSON array
	QualityReport      string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Character carries both the stable sheet (archetype, traits, goals) and
// the volatile state (status, mood) that chapter generation updates.
// Keywords seed the lorebook scan; the character name always matches even
// when Keywords is empty.
type Character struct {
	ID            int64
	ProjectID     int64
	Name          string
	Archetype     string
	Description   string
	Traits        string // JSON object, trait name to 1..10 rating
	Goals         string
	Catchphrases  string
	Status        string
	Mood          string
	Relationships string // JSON object, name to relation
	Memories      string // JSON array of {text, importance}
	Keywords      string // JSON array
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// WorldItem is one setting entry: a location, organization, item, or rule.
type WorldItem struct {
	ID          int64
	ProjectID   int64
	Kind        string
	Name        string
	Description string
	Properties  string // JSON object
	Keywords    string // JSON array
	CreatedAt   time.Time
}

// PlotArc tracks one foreshadowing thread through its lifecycle. Embedding
// is a JSON float array filled lazily by the retriever; nil means not yet
// indexed.
type PlotArc struct {
	ID                int64
	ProjectID         int64
	Title             string
	Description       string
	Status            string
	Importance        string
	PlantedChapter    int
	ResolvedChapter   *int
	Keywords          string // JSON array
	RelatedCharacters string // JSON array of character names
	Notes             string
	Embedding         *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// StyleProfile is an analyzed writing style. At most one profile per
// project is active at a time.
type StyleProfile struct {
	ID           int64
	ProjectID    int64
	Name         string
	SourceSample string
	Features     string // JSON object
	StyleGuide   string
	IsActive     bool
	CreatedAt    time.Time
}
