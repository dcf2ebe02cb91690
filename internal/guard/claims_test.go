package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractClaims_SplitsOnSentenceBoundaries(t *testing.T) {
	claims := ExtractClaims("The sky is blue. The grass is green. Water boils at 100C.")
	a := assert.New(t)
	a.Len(claims, 3)
	a.Equal("The sky is blue.", claims[0])
	a.Equal("Water boils at 100C.", claims[2])
}

func TestExtractClaims_StripsCitationDecorations(t *testing.T) {
	claims := ExtractClaims("The warranty is 24 months [1]. See details (source: policy.md).")
	for _, c := range claims {
		assert.NotContains(t, c, "[1]")
		assert.NotContains(t, c, "(source:")
	}
}

func TestExtractClaims_DropsExactLine(t *testing.T) {
	claims := ExtractClaims("The warranty is 24 months.\nExact: 24 months")
	for _, c := range claims {
		assert.NotContains(t, c, "Exact:")
	}
}

func TestExtractClaims_EmptyInputReturnsNil(t *testing.T) {
	assert.Nil(t, ExtractClaims("   "))
}
