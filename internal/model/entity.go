package model

import (
	"encoding/json"
	"time"
)

// EntityType identifies which catalog section an entity belongs to.
type EntityType string

const (
	EntityTypeRestaurant EntityType = "restaurant"
	EntityTypeHotel      EntityType = "hotel"
	EntityTypeMall       EntityType = "mall"
	EntityTypeAttraction EntityType = "attraction"
	EntityTypeSchool     EntityType = "school"
	EntityTypeFitness    EntityType = "fitness"
)

// AllEntityTypes lists every catalog section, in display order.
var AllEntityTypes = []EntityType{
	EntityTypeRestaurant,
	EntityTypeHotel,
	EntityTypeMall,
	EntityTypeAttraction,
	EntityTypeSchool,
	EntityTypeFitness,
}

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	for _, known := range AllEntityTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ExtractionStatus represents the overall state of an entity's extraction.
// It is always derived from Progress, never set independently.
type ExtractionStatus string

const (
	ExtractionPending    ExtractionStatus = "pending"
	ExtractionProcessing ExtractionStatus = "processing"
	ExtractionCompleted  ExtractionStatus = "completed"
	ExtractionFailed     ExtractionStatus = "failed"
)

// StepStatus represents the state of a single pipeline step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	// StepSkipped covers both missing-input skips and tolerable failures;
	// the Error field distinguishes the two.
	StepSkipped StepStatus = "skipped"
)

// StepState is one entry in an entity's extraction progress.
type StepState struct {
	Status      StepStatus `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Attempts    int        `json:"attempts,omitempty"`
	Error       string     `json:"error,omitempty"`
	Digest      string     `json:"digest,omitempty"`
}

// Progress maps step name to execution state. Steps appended to a pipeline
// after a record was written are simply absent and read back as pending.
type Progress map[string]StepState

// Get returns the state for a step, defaulting to pending for unknown steps.
func (p Progress) Get(step string) StepState {
	if p == nil {
		return StepState{Status: StepPending}
	}
	st, ok := p[step]
	if !ok {
		return StepState{Status: StepPending}
	}
	return st
}

// Clone returns a deep copy of the progress map.
func (p Progress) Clone() Progress {
	out := make(Progress, len(p))
	for name, st := range p {
		out[name] = st
	}
	return out
}

// Entity is one catalog item being enriched.
type Entity struct {
	ID      string     `json:"id"`
	Type    EntityType `json:"type"`
	PlaceID string     `json:"place_id,omitempty"`
	Name    string     `json:"name"`
	Slug    string     `json:"slug,omitempty"`

	Address   string  `json:"address,omitempty"`
	City      string  `json:"city,omitempty"`
	District  string  `json:"district,omitempty"`
	Phone     string  `json:"phone,omitempty"`
	Website   string  `json:"website,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`

	// Derived fields written by later pipeline steps.
	Description      string            `json:"description,omitempty"`
	SentimentSummary string            `json:"sentiment_summary,omitempty"`
	Images           []string          `json:"images,omitempty"`
	Socials          map[string]string `json:"socials,omitempty"`

	ProviderRating      float64 `json:"provider_rating,omitempty"`
	ProviderRatingCount int     `json:"provider_rating_count,omitempty"`
	Rating              float64 `json:"rating,omitempty"`

	// Raw provider payloads keyed by the step that produced them.
	Raw map[string]json.RawMessage `json:"raw,omitempty"`

	ExtractionStatus ExtractionStatus `json:"extraction_status"`
	Progress         Progress         `json:"extraction_progress"`

	// Published is flipped by a human reviewer outside the pipeline.
	Published bool `json:"published"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EntityPatch is the partial-entity update a step returns. Nil pointers
// leave the corresponding field untouched.
type EntityPatch struct {
	PlaceID  *string `json:"place_id,omitempty"`
	Name     *string `json:"name,omitempty"`
	Address  *string `json:"address,omitempty"`
	City     *string `json:"city,omitempty"`
	District *string `json:"district,omitempty"`
	Phone    *string `json:"phone,omitempty"`
	Website  *string `json:"website,omitempty"`

	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	Description      *string `json:"description,omitempty"`
	SentimentSummary *string `json:"sentiment_summary,omitempty"`

	ProviderRating      *float64 `json:"provider_rating,omitempty"`
	ProviderRatingCount *int     `json:"provider_rating_count,omitempty"`
	Rating              *float64 `json:"rating,omitempty"`

	Images  []string          `json:"images,omitempty"`
	Socials map[string]string `json:"socials,omitempty"`
}

// IsZero reports whether the patch carries no changes.
func (p EntityPatch) IsZero() bool {
	return p.PlaceID == nil && p.Name == nil && p.Address == nil && p.City == nil && p.District == nil &&
		p.Phone == nil && p.Website == nil && p.Latitude == nil && p.Longitude == nil &&
		p.Description == nil && p.SentimentSummary == nil && p.ProviderRating == nil &&
		p.ProviderRatingCount == nil && p.Rating == nil && len(p.Images) == 0 && len(p.Socials) == 0
}

// Apply merges the patch into the entity. Later steps win over earlier ones.
func (e *Entity) Apply(p EntityPatch) {
	if p.PlaceID != nil {
		e.PlaceID = *p.PlaceID
	}
	if p.Name != nil {
		e.Name = *p.Name
	}
	if p.Address != nil {
		e.Address = *p.Address
	}
	if p.City != nil {
		e.City = *p.City
	}
	if p.District != nil {
		e.District = *p.District
	}
	if p.Phone != nil {
		e.Phone = *p.Phone
	}
	if p.Website != nil {
		e.Website = *p.Website
	}
	if p.Latitude != nil {
		e.Latitude = *p.Latitude
	}
	if p.Longitude != nil {
		e.Longitude = *p.Longitude
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.SentimentSummary != nil {
		e.SentimentSummary = *p.SentimentSummary
	}
	if p.ProviderRating != nil {
		e.ProviderRating = *p.ProviderRating
	}
	if p.ProviderRatingCount != nil {
		e.ProviderRatingCount = *p.ProviderRatingCount
	}
	if p.Rating != nil {
		e.Rating = *p.Rating
	}
	if len(p.Images) > 0 {
		e.Images = p.Images
	}
	if len(p.Socials) > 0 {
		if e.Socials == nil {
			e.Socials = make(map[string]string, len(p.Socials))
		}
		for k, v := range p.Socials {
			e.Socials[k] = v
		}
	}
}

// SetRaw stores a provider payload under the producing step's name.
func (e *Entity) SetRaw(step string, payload json.RawMessage) {
	if len(payload) == 0 {
		return
	}
	if e.Raw == nil {
		e.Raw = make(map[string]json.RawMessage)
	}
	e.Raw[step] = payload
}

// Snapshot returns a copy of the entity safe to hand to a step adapter.
// Maps and slices are copied so adapters cannot mutate the original.
func (e *Entity) Snapshot() Entity {
	cp := *e
	cp.Progress = e.Progress.Clone()
	if e.Images != nil {
		cp.Images = append([]string(nil), e.Images...)
	}
	if e.Socials != nil {
		cp.Socials = make(map[string]string, len(e.Socials))
		for k, v := range e.Socials {
			cp.Socials[k] = v
		}
	}
	if e.Raw != nil {
		cp.Raw = make(map[string]json.RawMessage, len(e.Raw))
		for k, v := range e.Raw {
			cp.Raw[k] = v
		}
	}
	return cp
}
