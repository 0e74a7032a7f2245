package config_test

import (
	"os"
	"path/filepath"
	"scrollfeed/bluesky"
	"scrollfeed/config"
	"scrollfeed/feed"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scrollfeed.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigWithoutPathReturnsDefaults(t *testing.T) {
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
	assert.Equal(t, bluesky.DefaultAppViewHost, cfg.Bluesky.Host)
	assert.Equal(t, feed.FilterOverview, cfg.DefaultMode())
	assert.Equal(t, feed.SideConfig{RemoveTrackingParams: true}, cfg.DefaultSide())
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[bluesky]
page_size = 50
timeout = "3s"

[defaults]
filter = "Comments"
include_adult = true
remove_tracking = false

[tracking]
params = ["ref", "src"]

[languages]
detect = ["nb", "nn", "en"]
`)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, bluesky.DefaultAppViewHost, cfg.Bluesky.Host)
	assert.Equal(t, feed.FilterComments, cfg.DefaultMode())
	assert.Equal(t, feed.SideConfig{IncludeAdult: true}, cfg.DefaultSide())

	fetcher := cfg.FetcherConfig()
	assert.Equal(t, int64(50), fetcher.PageSize)
	assert.Equal(t, 3*time.Second, fetcher.Timeout)
	assert.Equal(t, uint64(3), fetcher.MaxRetries)
	assert.Equal(t, []string{"ref", "src"}, fetcher.TrackingParams)
	assert.Equal(t, []string{"nb", "nn", "en"}, fetcher.DetectLanguages)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "unknown filter", content: "[defaults]\nfilter = \"stories\"\n"},
		{name: "page size too large", content: "[bluesky]\npage_size = 500\n"},
		{name: "empty host", content: "[bluesky]\nhost = \"\"\n"},
		{name: "single detect language", content: "[languages]\ndetect = [\"nb\"]\n"},
		{name: "malformed", content: "[bluesky\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadConfig(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := config.LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
