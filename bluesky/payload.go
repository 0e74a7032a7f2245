package bluesky

import (
	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/samber/lo"
)

// Payload is the content carried by the feed items this package produces
type Payload struct {
	URI          string   `json:"uri"`
	CID          string   `json:"cid"`
	AuthorDID    string   `json:"author_did"`
	AuthorHandle string   `json:"author_handle"`
	AuthorName   string   `json:"author_name,omitempty"`
	Text         string   `json:"text"`
	CreatedAt    string   `json:"created_at"`
	IndexedAt    string   `json:"indexed_at"`
	ParentURI    string   `json:"parent_uri,omitempty"`
	RootURI      string   `json:"root_uri,omitempty"`
	Links        []string `json:"links,omitempty"`
	Languages    []string `json:"languages,omitempty"`
	Labels       []string `json:"labels,omitempty"`
	LikeCount    int64    `json:"like_count"`
	ReplyCount   int64    `json:"reply_count"`
	RepostCount  int64    `json:"repost_count"`
	RepostedBy   string   `json:"reposted_by,omitempty"`

	// DetectedLanguage is set when Languages was guessed from the text
	DetectedLanguage bool `json:"detected_language,omitempty"`
}

func newPayload(view *bsky.FeedDefs_PostView, record *bsky.FeedPost) *Payload {
	p := &Payload{
		URI:         view.Uri,
		CID:         view.Cid,
		Text:        record.Text,
		CreatedAt:   record.CreatedAt,
		IndexedAt:   view.IndexedAt,
		Languages:   record.Langs,
		LikeCount:   derefCount(view.LikeCount),
		ReplyCount:  derefCount(view.ReplyCount),
		RepostCount: derefCount(view.RepostCount),
	}

	if view.Author != nil {
		p.AuthorDID = view.Author.Did
		p.AuthorHandle = view.Author.Handle
		if view.Author.DisplayName != nil {
			p.AuthorName = *view.Author.DisplayName
		}
	}

	if record.Reply != nil {
		if record.Reply.Parent != nil {
			p.ParentURI = record.Reply.Parent.Uri
		}
		if record.Reply.Root != nil {
			p.RootURI = record.Reply.Root.Uri
		}
	}

	for _, label := range view.Labels {
		if label != nil {
			p.Labels = append(p.Labels, label.Val)
		}
	}

	p.Links = postLinks(view, record)
	return p
}

// postLinks collects link facets and the external embed, in that order
func postLinks(view *bsky.FeedDefs_PostView, record *bsky.FeedPost) []string {
	var links []string
	for _, facet := range record.Facets {
		if facet == nil {
			continue
		}
		for _, feature := range facet.Features {
			if feature != nil && feature.RichtextFacet_Link != nil {
				links = append(links, feature.RichtextFacet_Link.Uri)
			}
		}
	}

	if view.Embed != nil && view.Embed.EmbedExternal_View != nil && view.Embed.EmbedExternal_View.External != nil {
		links = append(links, view.Embed.EmbedExternal_View.External.Uri)
	}

	return lo.Uniq(links)
}

func derefCount(n *int64) int64 {
	if n == nil {
		return 0
	}
	return *n
}
