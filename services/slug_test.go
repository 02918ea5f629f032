package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"bib-registry/models"
)

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Hello World":                 "hello-world",
		"  Spaces   everywhere  ":     "spaces-everywhere",
		"Analiza wpływu żelaza":       "analiza-wplywu-zelaza",
		"Straße über die Brücke":      "strasse-uber-die-brucke",
		"C++ & Go: a comparison!":     "c-go-a-comparison",
		"Ściśle tajne":                "scisle-tajne",
		"2024 Annual Report (draft)":  "2024-annual-report-draft",
		"":                            "",
		"---":                         "",
		"Émile's Résumé":              "emile-s-resume",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slugify(in), "input %q", in)
	}
}

func TestRecordSlug(t *testing.T) {
	ref := models.RecordRef{Kind: models.KindArticle, ID: 42}

	t.Run("appends kind and id", func(t *testing.T) {
		got := RecordSlug("Deep Learning", ref)
		assert.Equal(t, "deep-learning-article-42", got)
	})

	t.Run("empty title keeps the suffix", func(t *testing.T) {
		got := RecordSlug("", ref)
		assert.Equal(t, "article-42", got)
	})

	t.Run("long titles are truncated without a trailing dash", func(t *testing.T) {
		got := RecordSlug(strings.Repeat("word ", 40), ref)
		assert.LessOrEqual(t, len(got), slugMaxTitleLen+len("-article-42"))
		assert.False(t, strings.Contains(got, "--"))
		assert.True(t, strings.HasSuffix(got, "-article-42"))
	})

	t.Run("identical input yields identical slug", func(t *testing.T) {
		a := RecordSlug("Wpływ żelaza na środowisko", ref)
		b := RecordSlug("Wpływ żelaza na środowisko", ref)
		assert.Equal(t, a, b)
	})

	t.Run("same title different rows stay unique", func(t *testing.T) {
		other := models.RecordRef{Kind: models.KindBook, ID: 42}
		assert.NotEqual(t, RecordSlug("Same Title", ref), RecordSlug("Same Title", other))
	})
}
