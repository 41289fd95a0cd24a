package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string  `validate:"required"`
	Ratio float64 `validate:"gte=0,lte=1"`
}

func TestStructFlattensErrors(t *testing.T) {
	errs, err := Struct(sample{Ratio: 2})
	require.NoError(t, err)
	require.Len(t, errs, 2)
	assert.Equal(t, "sample.Name", errs[0].Field)
	assert.Equal(t, "required", errs[0].Rule)
	assert.Equal(t, "lte", errs[1].Rule)
	assert.Equal(t, "1", errs[1].Param)
	assert.Contains(t, Summary(errs), "sample.Ratio failed lte=1")
}

func TestStructValid(t *testing.T) {
	errs, err := Struct(sample{Name: "ok", Ratio: 0.5})
	assert.NoError(t, err)
	assert.Empty(t, errs)
}
