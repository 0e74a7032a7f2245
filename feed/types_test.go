package feed_test

import (
	"scrollfeed/feed"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilterMode(t *testing.T) {
	tests := []struct {
		input    string
		expected feed.FilterMode
		label    string
	}{
		{input: "", expected: feed.FilterOverview, label: "Overview"},
		{input: "overview", expected: feed.FilterOverview, label: "Overview"},
		{input: "submitted", expected: feed.FilterPosts, label: "Posts"},
		{input: "Posts", expected: feed.FilterPosts, label: "Posts"},
		{input: "comments", expected: feed.FilterComments, label: "Comments"},
		{input: "COMMENTS", expected: feed.FilterComments, label: "Comments"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			mode, err := feed.ParseFilterMode(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, mode)
			assert.Equal(t, tt.label, mode.Label())
			assert.True(t, mode.Valid())
		})
	}
}

func TestParseFilterModeRejectsUnknown(t *testing.T) {
	_, err := feed.ParseFilterMode("stories")
	assert.Error(t, err)
	assert.False(t, feed.FilterMode("stories").Valid())
}

func TestFilterModesRoundTripThroughLabels(t *testing.T) {
	for _, mode := range feed.FilterModes {
		parsed, err := feed.ParseFilterMode(mode.Label())
		require.NoError(t, err)
		assert.Equal(t, mode, parsed)
	}
}
