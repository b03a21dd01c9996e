package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultClassTable(t *testing.T) {
	table := DefaultClassTable()

	assert.Equal(t, ClassShoplifting, table.Label(1))
	assert.Equal(t, ClassNormal, table.Label(0))
	assert.Equal(t, ClassNormal, table.Label(7))
	assert.True(t, table.IsAlert(ClassShoplifting))
	assert.False(t, table.IsAlert(ClassNormal))
	assert.Equal(t, "THEFT", table.DisplayName(ClassShoplifting))
	assert.Equal(t, "NORMAL", table.DisplayName(ClassNormal))
	require.NoError(t, table.Validate())
}

func TestClassTableLookup(t *testing.T) {
	table := NewClassTable(map[int]string{0: "person", 1: "shoplifting", 2: "weapon"}, "other", []string{"weapon", "shoplifting"})

	assert.Equal(t, "weapon", table.Label(2))
	assert.Equal(t, "other", table.Label(9))
	assert.Equal(t, []string{"shoplifting", "weapon"}, table.AlertLabels())
	assert.Equal(t, "PERSON", table.DisplayName("person"))
	require.NoError(t, table.Validate())
}

func TestClassTableValidate(t *testing.T) {
	table := NewClassTable(map[int]string{1: "shoplifting"}, "normal", []string{"fire"})
	require.ErrorContains(t, table.Validate(), `alert label "fire"`)

	table = NewClassTable(map[int]string{1: ""}, "normal", nil)
	require.ErrorContains(t, table.Validate(), "empty label")

	table = NewClassTable(nil, "", nil)
	require.ErrorContains(t, table.Validate(), "default label")
}

func TestDetectionJSON(t *testing.T) {
	det := Detection{
		Timestamp:   time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC),
		FrameNumber: 42,
		Class:       ClassShoplifting,
		Confidence:  0.875,
		BBox:        BBox{10, 20, 110, 220},
	}

	data, err := json.Marshal(det)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"timestamp": "2025-03-01T12:30:00Z",
		"frame_number": 42,
		"class": "shoplifting",
		"confidence": 0.875,
		"bbox": [10, 20, 110, 220]
	}`, string(data))
}
