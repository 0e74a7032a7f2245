package bluesky

import (
	"net/url"
	"strings"

	"github.com/samber/lo"
)

// Query parameters that only exist to track the click
var DefaultTrackingParams = []string{
	"fbclid",
	"gclid",
	"dclid",
	"gbraid",
	"wbraid",
	"msclkid",
	"yclid",
	"mc_cid",
	"mc_eid",
	"igshid",
	"_hsenc",
	"_hsmi",
	"ref_src",
	"si",
}

var trackingPrefixes = []string{"utm_"}

// TrackingStripper removes tracking parameters from link URLs
type TrackingStripper struct {
	params map[string]struct{}
}

func NewTrackingStripper(extra []string) *TrackingStripper {
	names := lo.Uniq(lo.Map(append(append([]string{}, DefaultTrackingParams...), extra...), func(p string, _ int) string {
		return strings.ToLower(strings.TrimSpace(p))
	}))

	params := make(map[string]struct{}, len(names))
	for _, name := range names {
		if name != "" {
			params[name] = struct{}{}
		}
	}
	return &TrackingStripper{params: params}
}

func (s *TrackingStripper) isTracking(name string) bool {
	name = strings.ToLower(name)
	if _, ok := s.params[name]; ok {
		return true
	}
	return lo.SomeBy(trackingPrefixes, func(prefix string) bool {
		return strings.HasPrefix(name, prefix)
	})
}

// Strip returns raw without tracking parameters. URLs that cannot be parsed
// or carry no tracking parameters are returned unchanged.
func (s *TrackingStripper) Strip(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}

	query := u.Query()
	removed := false
	for name := range query {
		if s.isTracking(name) {
			query.Del(name)
			removed = true
		}
	}
	if !removed {
		return raw
	}

	u.RawQuery = query.Encode()
	return u.String()
}
