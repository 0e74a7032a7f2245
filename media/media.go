// Package media models the entries of a profile feed and their identities
package media

import "fmt"

// Variant tags the kind of a feed entry
type Variant int

const (
	VariantOther Variant = iota
	VariantPost
	VariantComment
)

func (v Variant) String() string {
	switch v {
	case VariantPost:
		return "post"
	case VariantComment:
		return "comment"
	default:
		return "other"
	}
}

// ParseVariant is the inverse of Variant.String
func ParseVariant(s string) (Variant, error) {
	switch s {
	case "post":
		return VariantPost, nil
	case "comment":
		return VariantComment, nil
	case "other":
		return VariantOther, nil
	}
	return VariantOther, fmt.Errorf("unknown variant %q", s)
}

// Item is a single feed entry. It is closed over Post, Comment and Other,
// which are always passed by value.
type Item interface {
	variant() Variant
}

// Post is an entry authored by the subject
type Post struct {
	ID      string
	Payload any
}

// Comment is a reply authored by the subject
type Comment struct {
	ID      string
	Payload any
}

// Other is any entry without a stable identity, e.g. a repost or a separator
type Other struct {
	Kind    string
	Payload any
}

func (Post) variant() Variant    { return VariantPost }
func (Comment) variant() Variant { return VariantComment }
func (Other) variant() Variant   { return VariantOther }

// Key is the variant-scoped identity of an item. Ids are only unique within
// a variant, so lookups and dedup go through Key.
type Key struct {
	Variant Variant
	ID      string
}

func (k Key) String() string {
	return k.Variant.String() + ":" + k.ID
}

// IdentityOf returns the id of a post or comment and "" for anything else
func IdentityOf(item Item) string {
	switch it := item.(type) {
	case Post:
		return it.ID
	case Comment:
		return it.ID
	case Other:
		return ""
	}
	return ""
}

// VariantOf classifies an item. A nil item is Other.
func VariantOf(item Item) Variant {
	if item == nil {
		return VariantOther
	}
	return item.variant()
}

func KeyOf(item Item) Key {
	return Key{Variant: VariantOf(item), ID: IdentityOf(item)}
}

// PayloadOf returns the collaborator-owned content carried by the item
func PayloadOf(item Item) any {
	switch it := item.(type) {
	case Post:
		return it.Payload
	case Comment:
		return it.Payload
	case Other:
		return it.Payload
	}
	return nil
}
