package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0.0, ClampConfidence(-0.2))
	assert.Equal(t, 1.0, ClampConfidence(3))
	assert.Equal(t, 0.4, ClampConfidence(0.4))
	assert.Equal(t, 0.0, ClampConfidence(math.NaN()))
}

func TestNormalizedData_ValidateRejectsNonFinite(t *testing.T) {
	d := NewNormalizedData("coingecko", DataTypePrice, Asset{Symbol: "CELO"}, 0.61, math.NaN())
	assert.NoError(t, d.Validate())
	assert.Equal(t, 0.0, d.Confidence())

	d.Metadata[MetaConfidence] = math.NaN()
	assert.Error(t, d.Validate())

	d = NewNormalizedData("coingecko", DataTypePrice, Asset{Symbol: "CELO"}, math.Inf(1), 0.9)
	var nerr *NormalizationError
	assert.ErrorAs(t, d.Validate(), &nerr)
}
