package token

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "empty input",
			text: "",
			want: nil,
		},
		{
			name: "whitespace only",
			text: "   \n\t  ",
			want: []string{},
		},
		{
			name: "lowercases and stems",
			text: "Deployment Strategies",
			want: []string{"deploy", "strategi"},
		},
		{
			name: "drops stopwords",
			text: "the quick fox is in a box",
			want: []string{"quick", "fox", "box"},
		},
		{
			name: "splits on punctuation and digits survive",
			text: "PostgreSQL 15.3 with pgvector",
			want: []string{"postgresql", "15", "3", "pgvector"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.text)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTokenizePreservesHyphens(t *testing.T) {
	got := Tokenize("Kubernetes-based deployment!")

	assert.Len(t, got, 2)
	assert.True(t, strings.HasPrefix(got[0], "kubernetes-"))
}

func TestTokenizeDeterministic(t *testing.T) {
	text := "Hybrid search combines dense vectors with lexical scoring."

	first := Tokenize(text)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Tokenize(text))
	}
}

func TestStem(t *testing.T) {
	tests := []struct {
		word string
		want string
	}{
		{"searching", "search"},
		{"running", "run"},
		{"architectures", "architectur"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Stem(tt.word))
	}
}
