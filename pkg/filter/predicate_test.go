package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vexgraph/vexgraph/pkg/model"
)

func TestEqualsIsCaseInsensitiveForStrings(t *testing.T) {
	md := model.Metadata{"category": "Tech"}
	assert.True(t, Evaluate(Eq("category", "tech"), md))
}

func TestMissingFieldComparesAsNotEqual(t *testing.T) {
	md := model.Metadata{}
	assert.False(t, Evaluate(Eq("category", "tech"), md))
	assert.True(t, Evaluate(NotIn("category", []any{"tech"}), md))
}

func TestNestedFieldPathTraversal(t *testing.T) {
	md := model.Metadata{"address": map[string]any{"city": "Boston"}}
	assert.True(t, Evaluate(Eq("address.city", "boston"), md))
	assert.False(t, Evaluate(Eq("address.zip", "02134"), md))
}

func TestRangeOperators(t *testing.T) {
	md := model.Metadata{"price": 500.0}
	assert.True(t, Evaluate(Gt("price", 100.0), md))
	assert.True(t, Evaluate(Lte("price", 500.0), md))
	assert.False(t, Evaluate(Lt("price", 500.0), md))
}

func TestContainsOnArrayField(t *testing.T) {
	md := model.Metadata{"tags": []any{"urgent", "review"}}
	assert.True(t, Evaluate(Contains("tags", "urgent"), md))
	assert.False(t, Evaluate(Contains("tags", "archived"), md))
}

func TestRegexMatch(t *testing.T) {
	md := model.Metadata{"name": "project-alpha"}
	assert.True(t, Evaluate(Regex("name", "^project-"), md))
	assert.False(t, Evaluate(Regex("name", "^task-"), md))
}

func TestLogicalComposition(t *testing.T) {
	md := model.Metadata{"status": "active", "priority": 2.0}
	pred := Or(
		Eq("status", "archived"),
		And(Eq("status", "active"), In("priority", []any{1.0, 2.0})),
	)
	assert.True(t, Evaluate(pred, md))
	assert.True(t, Evaluate(Not(Eq("status", "archived")), md))
}

func TestInUnionMatchesAnyValue(t *testing.T) {
	md := model.Metadata{"status": "active"}
	assert.True(t, Evaluate(In("status", []any{"archived", "active"}), md))
	assert.False(t, Evaluate(In("status", []any{"archived", "deleted"}), md))
}
