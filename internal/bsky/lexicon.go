package bsky

import (
	"encoding/json"
)

// Wire types for the subset of the app.bsky and com.atproto lexicons the
// client reads. Unknown fields are ignored.

const (
	typeImagesView          = "app.bsky.embed.images#view"
	typeRecordView          = "app.bsky.embed.record#view"
	typeRecordWithMediaView = "app.bsky.embed.recordWithMedia#view"
	typeViewRecord          = "app.bsky.embed.record#viewRecord"
	typeThreadViewPost      = "app.bsky.feed.defs#threadViewPost"
	typeFeedPost            = "app.bsky.feed.post"
)

type xrpcError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type createSessionRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type createSessionResponse struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	DID        string `json:"did"`
	Handle     string `json:"handle"`
}

type createRecordRequest struct {
	Repo       string     `json:"repo"`
	Collection string     `json:"collection"`
	Record     postRecord `json:"record"`
}

type createRecordResponse struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type postRecord struct {
	Type      string `json:"$type,omitempty"`
	Text      string `json:"text"`
	CreatedAt string `json:"createdAt"`
}

type profileViewBasic struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar"`
}

type profileView struct {
	profileViewBasic
	Description string `json:"description"`
}

type profileViewDetailed struct {
	profileView
	FollowersCount int64 `json:"followersCount"`
	FollowsCount   int64 `json:"followsCount"`
	PostsCount     int64 `json:"postsCount"`
}

type postView struct {
	URI         string           `json:"uri"`
	CID         string           `json:"cid"`
	Author      profileViewBasic `json:"author"`
	Record      json.RawMessage  `json:"record"`
	Embed       json.RawMessage  `json:"embed"`
	ReplyCount  int64            `json:"replyCount"`
	RepostCount int64            `json:"repostCount"`
	LikeCount   int64            `json:"likeCount"`
	IndexedAt   string           `json:"indexedAt"`
}

type feedViewPost struct {
	Post postView `json:"post"`
}

type feedResponse struct {
	Cursor string         `json:"cursor"`
	Feed   []feedViewPost `json:"feed"`
}

// typed reads only the $type discriminator of a union member
type typed struct {
	Type string `json:"$type"`
}

type imageView struct {
	Thumb    string `json:"thumb"`
	Fullsize string `json:"fullsize"`
	Alt      string `json:"alt"`
}

type imagesView struct {
	Images []imageView `json:"images"`
}

type recordView struct {
	Record json.RawMessage `json:"record"`
}

type recordWithMediaView struct {
	Record recordView      `json:"record"`
	Media  json.RawMessage `json:"media"`
}

// viewRecord is a quoted post. Its embeds are not followed past one level.
type viewRecord struct {
	URI         string            `json:"uri"`
	CID         string            `json:"cid"`
	Author      profileViewBasic  `json:"author"`
	Value       json.RawMessage   `json:"value"`
	Embeds      []json.RawMessage `json:"embeds"`
	ReplyCount  int64             `json:"replyCount"`
	RepostCount int64             `json:"repostCount"`
	LikeCount   int64             `json:"likeCount"`
	IndexedAt   string            `json:"indexedAt"`
}

type threadResponse struct {
	Thread json.RawMessage `json:"thread"`
}

type threadViewPost struct {
	Post    postView          `json:"post"`
	Replies []json.RawMessage `json:"replies"`
}

type likesResponse struct {
	URI    string `json:"uri"`
	Cursor string `json:"cursor"`
	Likes  []like `json:"likes"`
}

type like struct {
	CreatedAt string      `json:"createdAt"`
	Actor     profileView `json:"actor"`
}
