package models

import (
	"time"
)

// MaxQuoteDepth is the deepest quote nesting the client keeps. The remote
// never returns a quote inside a quote view.
const MaxQuoteDepth = 1

// Post represents a post as displayed in a feed or thread
type Post struct {
	Ref               ContentRef  `json:"ref"`
	Text              string      `json:"text"`
	AuthorHandle      string      `json:"author_handle"`
	AuthorDisplayName string      `json:"author_display_name"`
	AuthorAvatarURI   string      `json:"author_avatar_uri,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	LikeCount         int64       `json:"like_count"`
	RepostCount       int64       `json:"repost_count"`
	ReplyCount        int64       `json:"reply_count"`
	Images            []PostImage `json:"images,omitempty"`
	QuotedPost        *Post       `json:"quoted_post,omitempty"`
}

// PostImage is an image embedded in a post
type PostImage struct {
	ThumbnailURI string `json:"thumbnail_uri"`
	FullURI      string `json:"full_uri"`
	AltText      string `json:"alt_text,omitempty"`
}

// WithQuote returns a copy of p quoting q. Any quote carried by q is dropped
// so the result never nests deeper than MaxQuoteDepth.
func (p Post) WithQuote(q Post) Post {
	q.QuotedPost = nil
	p.QuotedPost = &q
	return p
}

// QuoteDepth returns the number of quote levels below p
func (p Post) QuoteDepth() int {
	depth := 0
	for q := p.QuotedPost; q != nil && depth <= MaxQuoteDepth; q = q.QuotedPost {
		depth++
	}
	return depth
}

// Thread is a post together with its direct and nested replies, flattened in
// display order
type Thread struct {
	Post    Post   `json:"post"`
	Replies []Post `json:"replies"`
}
