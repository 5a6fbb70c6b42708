// Package model defines the data model shared by every component: nouns
// (entities), verbs (typed directed relationships), and the dynamic
// metadata value union attached to both (spec.md §3).
package model

import "time"

// NounType is the closed set of entity kinds a noun may carry, plus an
// "extension" escape hatch for user-defined types.
type NounType string

const (
	NounPerson       NounType = "Person"
	NounOrganization NounType = "Organization"
	NounPlace        NounType = "Place"
	NounEvent        NounType = "Event"
	NounDocument     NounType = "Document"
	NounConcept      NounType = "Concept"
	NounProduct      NounType = "Product"
	NounProject      NounType = "Project"
	NounTask         NounType = "Task"
	NounProcess      NounType = "Process"
	NounLanguage     NounType = "Language"
	NounMessage      NounType = "Message"
	NounThing        NounType = "Thing"
	// NounExtension tags a user-defined type; the concrete name lives in
	// Noun.TypeExtension.
	NounExtension NounType = "Extension"
)

// VerbType is the closed set of relationship kinds a verb may carry.
type VerbType string

const (
	VerbWorksWith  VerbType = "WorksWith"
	VerbCreates    VerbType = "Creates"
	VerbModifies   VerbType = "Modifies"
	VerbRelatedTo  VerbType = "RelatedTo"
	VerbDependsOn  VerbType = "DependsOn"
	VerbContains   VerbType = "Contains"
	VerbMemberOf   VerbType = "MemberOf"
	VerbReferences VerbType = "References"
	VerbWorksOn    VerbType = "WorksOn"
	VerbManages    VerbType = "Manages"
	VerbSponsors   VerbType = "Sponsors"
	VerbAttends    VerbType = "Attends"
)

// VectorDimensions is the hard dimensionality invariant of every noun
// vector (spec §3 Invariants #1).
const VectorDimensions = 384

// Metadata is the JSON-like value map attached to nouns and verbs. Values
// are `nil | bool | float64 | string | []any | map[string]any` — Go's
// native decode of arbitrary JSON, which already matches the union the
// spec describes.
type Metadata = map[string]any

// Noun is an entity: a typed node carrying an embedding and metadata.
type Noun struct {
	ID            string    `json:"id"`
	Type          NounType  `json:"type"`
	TypeExtension string    `json:"typeExtension,omitempty"`
	Vector        []float32 `json:"vector"`
	Metadata      Metadata  `json:"metadata,omitempty"`
	CreatedAt     int64     `json:"createdAt"`
	UpdatedAt     int64     `json:"updatedAt"`
	Service       string    `json:"service,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate store-owned state
// through a returned pointer.
func (n *Noun) Clone() *Noun {
	if n == nil {
		return nil
	}
	out := *n
	if n.Vector != nil {
		out.Vector = append([]float32(nil), n.Vector...)
	}
	out.Metadata = cloneMetadata(n.Metadata)
	return &out
}

// Verb is a typed directed relationship between two nouns.
type Verb struct {
	ID        string   `json:"id"`
	From      string   `json:"from"`
	To        string   `json:"to"`
	Type      VerbType `json:"type"`
	Weight    float64  `json:"weight"`
	Metadata  Metadata `json:"metadata,omitempty"`
	CreatedAt int64    `json:"createdAt"`
	UpdatedAt int64    `json:"updatedAt"`
}

func (v *Verb) Clone() *Verb {
	if v == nil {
		return nil
	}
	out := *v
	out.Metadata = cloneMetadata(v.Metadata)
	return &out
}

func cloneMetadata(m Metadata) Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMetadata(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// NowMillis returns the current time as milliseconds since epoch, the
// timestamp unit used throughout the core (spec §3).
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
