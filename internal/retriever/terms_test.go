package retriever

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanQueryTerms(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{
			name:  "drops stopwords and short tokens",
			query: "¿Hay becas disponibles?",
			want:  []string{"becas", "disponibles"},
		},
		{
			name:  "keeps at most three terms",
			query: "carreras ingenieria informatica sistemas computacion",
			want:  []string{"carreras", "ingenieria", "informatica"},
		},
		{
			name:  "strips punctuation and lowercases",
			query: "BECAS!!! (2026)",
			want:  []string{"becas", "2026"},
		},
		{
			name:  "accented words survive",
			query: "inscripción",
			want:  []string{"inscripción"},
		},
		{
			name:  "all stopwords falls back to prefix",
			query: "que hay de la el",
			want:  []string{"que hay de la el"},
		},
		{
			name:  "fallback truncates at 20 runes",
			query: "el de la un que por con sin para mas cosas largas aqui",
			want:  nil, // has surviving tokens, see below
		},
		{
			name:  "too short for fallback",
			query: "¿y?",
			want:  nil,
		},
		{
			name:  "empty query",
			query: "",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.name == "fallback truncates at 20 runes" {
				// "cosas" and "largas" survive, so no fallback here; build a
				// dedicated stopword-only query instead.
				got := cleanQueryTerms("de la el un que por con sin")
				assert.Len(t, got, 1)
				assert.LessOrEqual(t, len([]rune(got[0])), 20)
				return
			}
			assert.Equal(t, tt.want, cleanQueryTerms(tt.query))
		})
	}
}

func TestBuildSearchQuery(t *testing.T) {
	sql, args := buildSearchQuery([]string{"becas", "carreras"}, 6)

	// 2 ILIKE + 2 similarity + 2 keyword params, plus order term and limit.
	assert.Len(t, args, 8)
	assert.Equal(t, "%becas%", args[0])
	assert.Equal(t, "%carreras%", args[1])
	assert.Equal(t, "becas", args[6]) // first term drives the ordering
	assert.Equal(t, 6, args[7])

	assert.Contains(t, sql, "content ILIKE $1")
	assert.Contains(t, sql, "similarity(content, $3::text) > 0.3")
	assert.Contains(t, sql, "$5 = ANY(keywords)")
	assert.Contains(t, sql, "GREATEST(similarity(content, $7::text), 0) DESC")
	assert.Contains(t, sql, "usage_count DESC")
	assert.Contains(t, sql, "LIMIT $8")
}
