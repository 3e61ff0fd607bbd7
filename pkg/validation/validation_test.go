package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inner struct {
	Headline string `json:"headline" validate:"required"`
}

type sample struct {
	Name   string `json:"name" validate:"required,max=5"`
	Status string `json:"status" validate:"omitempty,oneof=ACTIVE PAUSED"`
	Copy   inner  `json:"ad_copy"`
	Hidden string `json:"-" validate:"omitempty"`
}

func TestStruct(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		err := Struct(sample{Name: "abc", Status: "PAUSED", Copy: inner{Headline: "h"}})
		assert.NoError(t, err)
	})

	t.Run("reports json field paths", func(t *testing.T) {
		err := Struct(sample{Name: "toolongname", Status: "RUNNING"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalid))

		var verr *Error
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "must be at most 5", verr.Fields["name"])
		assert.Equal(t, "must be one of: ACTIVE PAUSED", verr.Fields["status"])
		assert.Equal(t, "is required", verr.Fields["ad_copy.headline"])
		assert.Contains(t, err.Error(), "ad_copy.headline: is required")
	})

	t.Run("non struct", func(t *testing.T) {
		err := Struct(42)
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrInvalid))
	})
}

func TestField(t *testing.T) {
	err := Field("media_ids", "must not be empty")
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Equal(t, map[string]any{"media_ids": "must not be empty"}, err.Details())
}
