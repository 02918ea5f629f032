package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGraphAffected(t *testing.T) {
	g := DefaultGraph()

	t.Run("title write hits description and slug", func(t *testing.T) {
		got := g.Affected(EntityPublication, "title")
		assert.ElementsMatch(t, []ComputedField{FieldDescription, FieldSlug}, got)
	})

	t.Run("recorded name write hits description and recorded names", func(t *testing.T) {
		got := g.Affected(EntityAssociation, "recorded_name")
		assert.ElementsMatch(t, []ComputedField{FieldDescription, FieldRecordedNames}, got)
	})

	t.Run("author surname only hits the canonical name cache", func(t *testing.T) {
		got := g.Affected(EntityAuthor, "surname")
		assert.Equal(t, []ComputedField{FieldAuthorNames}, got)
	})

	t.Run("unknown field hits nothing", func(t *testing.T) {
		assert.Empty(t, g.Affected(EntityPublication, "isbn"))
	})

	t.Run("wildcard covers every field of the entity in stable order", func(t *testing.T) {
		got := g.Affected(EntityAssociation, "*")
		assert.Equal(t, []ComputedField{FieldDescription, FieldAuthorNames, FieldRecordedNames}, got)

		// repeated lookups keep the order
		for i := 0; i < 10; i++ {
			assert.Equal(t, got, g.Affected(EntityAssociation, "*"))
		}
	})

	t.Run("language is no cache input", func(t *testing.T) {
		// Der Graph kennt nur Cache-Eingaben. Das Löschen einer
		// Pflicht-Referenz wie der Sprache darf deshalb nicht über Touch
		// laufen, sondern kaskadiert über einen vollen Recompute-Pass.
		assert.Empty(t, g.Affected(EntityLanguage, "*"))
	})

	t.Run("publication wildcard includes slug", func(t *testing.T) {
		got := g.Affected(EntityPublication, "*")
		assert.Equal(t, []ComputedField{FieldDescription, FieldSlug}, got)
	})
}

func TestGraphColumns(t *testing.T) {
	g := DefaultGraph()

	t.Run("slug alone only needs the title", func(t *testing.T) {
		got := g.Columns(EntityPublication, []ComputedField{FieldSlug})
		assert.Equal(t, []string{"title"}, got)
	})

	t.Run("description pulls its declared publication columns", func(t *testing.T) {
		got := g.Columns(EntityPublication, []ComputedField{FieldDescription})
		assert.ElementsMatch(t, []string{
			"title", "translated_title", "year", "character_id", "status_id", "source_name",
		}, got)
	})

	t.Run("columns deduplicate across fields", func(t *testing.T) {
		got := g.Columns(EntityPublication, []ComputedField{FieldDescription, FieldSlug})
		count := 0
		for _, c := range got {
			if c == "title" {
				count++
			}
		}
		assert.Equal(t, 1, count)
	})

	t.Run("foreign entity yields nothing", func(t *testing.T) {
		assert.Empty(t, g.Columns(EntityLanguage, []ComputedField{FieldSlug}))
	})
}

func TestGraphRegister(t *testing.T) {
	g := NewGraph()
	g.Register(FieldSlug, FieldRef{EntityPublication, "title"})
	g.Register(FieldSlug, FieldRef{EntityPublication, "year"})

	assert.Len(t, g.Deps(FieldSlug), 2)
	assert.Equal(t, []ComputedField{FieldSlug}, g.Affected(EntityPublication, "year"))

	// Deps returns a copy, mutating it must not corrupt the graph
	deps := g.Deps(FieldSlug)
	deps[0] = FieldRef{EntityAuthor, "surname"}
	assert.Empty(t, g.Affected(EntityAuthor, "surname"))
}
