package utils

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testItem struct {
	Prompt string `json:"prompt" validate:"required"`
}

type testBatch struct {
	Items []testItem `json:"items" validate:"required,min=1,max=2,dive"`
	Mode  string     `json:"mode" validate:"omitempty,oneof=fast slow"`
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name       string
		in         testBatch
		wantFields map[string]string
	}{
		{"valid", testBatch{Items: []testItem{{Prompt: "p"}}}, nil},
		{"missing items", testBatch{}, map[string]string{"items": "items is required"}},
		{"too many", testBatch{Items: []testItem{{"a"}, {"b"}, {"c"}}}, map[string]string{"items": "items must have at most 2 items"}},
		{"nested field", testBatch{Items: []testItem{{"a"}, {""}}}, map[string]string{"items[1].prompt": "items[1].prompt is required"}},
		{"oneof", testBatch{Items: []testItem{{"a"}}, Mode: "warp"}, map[string]string{"mode": "mode must be one of: fast slow"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(tt.in)

			if tt.wantFields == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			assert.Equal(t, "Validation failed", err.Error())
			assert.Equal(t, tt.wantFields, GetValidationFields(err))
		})
	}
}

func TestGetValidationFields_OtherError(t *testing.T) {
	assert.Nil(t, GetValidationFields(errors.New("plain")))
	assert.False(t, IsValidationError(errors.New("plain")))
}

func TestQueryTime(t *testing.T) {
	q := url.Values{"start": {"2026-01-02T03:04:05Z"}, "bad": {"yesterday"}}

	got, err := QueryTime(q, "start")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))

	got, err = QueryTime(q, "end")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = QueryTime(q, "bad")
	assert.EqualError(t, err, "bad must be an RFC 3339 timestamp")
}

func TestQueryInt(t *testing.T) {
	q := url.Values{"limit": {"25"}, "neg": {"-1"}, "word": {"ten"}}

	n, err := QueryInt(q, "limit")
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	n, err = QueryInt(q, "missing")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = QueryInt(q, "neg")
	assert.Error(t, err)
	_, err = QueryInt(q, "word")
	assert.Error(t, err)
}
