package entity

import "time"

// Column groups an attribute key can map onto.
const (
	GroupUnit       = "unit"
	GroupUnitAmount = "unit_amount"
	GroupUnitPrice  = "unit_price"
	GroupExtra      = "extra"
)

// Dictionary row sources.
const (
	SourceSeed          = "seed"
	SourceLLMDiscovered = "llm_discovered"
)

// AttributeDefinition is one row of the attribute dictionary.
type AttributeDefinition struct {
	Key           string    `json:"key"`
	ColumnGroup   *string   `json:"column_group,omitempty"`
	CanonicalName string    `json:"canonical_name"`
	Description   string    `json:"description"`
	Source        string    `json:"source"`
	CreatedAt     time.Time `json:"created_at"`
}

// Group returns the column group or "" when unset.
func (d AttributeDefinition) Group() string {
	if d.ColumnGroup == nil {
		return ""
	}
	return *d.ColumnGroup
}
