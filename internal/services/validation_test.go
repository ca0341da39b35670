package services

import (
	"errors"
	"strings"
	"testing"

	"task-master/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckFields_Reasons(t *testing.T) {
	tests := []struct {
		name   string
		fields taskFields
		field  string
		reason string
	}{
		{"missing title", taskFields{Description: "d", Priority: "low"}, "title", "is required"},
		{"long title", taskFields{Title: strings.Repeat("a", 61), Description: "d", Priority: "low"}, "title", "must be at most 60 characters"},
		{"missing description", taskFields{Title: "t", Priority: "low"}, "description", "is required"},
		{"long description", taskFields{Title: "t", Description: strings.Repeat("d", 1001), Priority: "low"}, "description", "must be at most 1000 characters"},
		{"bad priority", taskFields{Title: "t", Description: "d", Priority: "urgent"}, "priority", "must be one of low, medium, high"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkFields(tt.fields)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tt.field, verr.Field)
			assert.Equal(t, tt.reason, verr.Reason)
		})
	}
}

func TestCheckFields_LimitsMatchModel(t *testing.T) {
	fields := taskFields{
		Title:       strings.Repeat("é", models.TitleMaxLength),
		Description: strings.Repeat("ü", models.DescriptionMaxLength),
		Priority:    string(models.PriorityHigh),
	}
	assert.NoError(t, checkFields(fields))

	fields.Title += "é"
	assert.Error(t, checkFields(fields))
}

func TestTaskUpdate_ValidatesOnlyPresentFields(t *testing.T) {
	priority := " HIGH "
	changes, err := TaskUpdate{Priority: &priority}.validate()
	require.NoError(t, err)
	require.NotNil(t, changes.priority)
	assert.Equal(t, models.PriorityHigh, *changes.priority)
	assert.Nil(t, changes.title)

	blank := "  "
	_, err = TaskUpdate{Description: &blank}.validate()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "description", verr.Field)

	title := "  trimmed  "
	changes, err = TaskUpdate{Title: &title}.validate()
	require.NoError(t, err)
	assert.Equal(t, "trimmed", *changes.title)
}
