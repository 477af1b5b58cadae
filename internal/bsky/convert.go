package bsky

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/steemit/redsky/internal/models"
)

func convertFeed(method string, feed []feedViewPost) ([]models.Post, error) {
	posts := make([]models.Post, 0, len(feed))
	for _, item := range feed {
		post, err := convertPostView(method, item.Post)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, nil
}

func convertPostView(method string, pv postView) (models.Post, error) {
	var record postRecord
	if err := json.Unmarshal(pv.Record, &record); err != nil {
		return models.Post{}, &Error{Kind: KindProtocolShape, Op: method, Message: "post record " + pv.URI, Err: err}
	}

	post := models.Post{
		Ref:         models.ContentRef{URI: pv.URI, CID: pv.CID},
		Text:        record.Text,
		CreatedAt:   parseTime(record.CreatedAt, pv.IndexedAt),
		LikeCount:   pv.LikeCount,
		RepostCount: pv.RepostCount,
		ReplyCount:  pv.ReplyCount,
	}
	setAuthor(&post, pv.Author)

	if isEmpty(pv.Embed) {
		return post, nil
	}

	var embed typed
	if err := json.Unmarshal(pv.Embed, &embed); err != nil {
		return models.Post{}, &Error{Kind: KindProtocolShape, Op: method, Message: "embed of " + pv.URI, Err: err}
	}

	switch embed.Type {
	case typeImagesView:
		images, err := decodeImages(pv.Embed)
		if err != nil {
			return models.Post{}, &Error{Kind: KindProtocolShape, Op: method, Message: "images of " + pv.URI, Err: err}
		}
		post.Images = images
	case typeRecordView:
		var rv recordView
		if err := json.Unmarshal(pv.Embed, &rv); err != nil {
			return models.Post{}, &Error{Kind: KindProtocolShape, Op: method, Message: "quote of " + pv.URI, Err: err}
		}
		quote, ok, err := decodeQuote(method, rv.Record)
		if err != nil {
			return models.Post{}, err
		}
		if ok {
			post = post.WithQuote(quote)
		}
	case typeRecordWithMediaView:
		var rwm recordWithMediaView
		if err := json.Unmarshal(pv.Embed, &rwm); err != nil {
			return models.Post{}, &Error{Kind: KindProtocolShape, Op: method, Message: "quote of " + pv.URI, Err: err}
		}
		images, err := mediaImages(rwm.Media)
		if err != nil {
			return models.Post{}, &Error{Kind: KindProtocolShape, Op: method, Message: "media of " + pv.URI, Err: err}
		}
		post.Images = images
		quote, ok, err := decodeQuote(method, rwm.Record.Record)
		if err != nil {
			return models.Post{}, err
		}
		if ok {
			post = post.WithQuote(quote)
		}
	}
	// external links, videos and feed generator cards are not displayed

	return post, nil
}

// decodeQuote converts a quoted record. ok is false for quotes of deleted,
// blocked or non-post records.
func decodeQuote(method string, raw json.RawMessage) (models.Post, bool, error) {
	if isEmpty(raw) {
		return models.Post{}, false, nil
	}
	var t typed
	if err := json.Unmarshal(raw, &t); err != nil {
		return models.Post{}, false, &Error{Kind: KindProtocolShape, Op: method, Message: "quoted record", Err: err}
	}
	if t.Type != typeViewRecord {
		return models.Post{}, false, nil
	}

	var vr viewRecord
	if err := json.Unmarshal(raw, &vr); err != nil {
		return models.Post{}, false, &Error{Kind: KindProtocolShape, Op: method, Message: "quoted record", Err: err}
	}
	var record postRecord
	if err := json.Unmarshal(vr.Value, &record); err != nil {
		return models.Post{}, false, &Error{Kind: KindProtocolShape, Op: method, Message: "quoted record value " + vr.URI, Err: err}
	}
	if record.Type != "" && record.Type != typeFeedPost {
		return models.Post{}, false, nil
	}

	quote := models.Post{
		Ref:         models.ContentRef{URI: vr.URI, CID: vr.CID},
		Text:        record.Text,
		CreatedAt:   parseTime(record.CreatedAt, vr.IndexedAt),
		LikeCount:   vr.LikeCount,
		RepostCount: vr.RepostCount,
		ReplyCount:  vr.ReplyCount,
	}
	setAuthor(&quote, vr.Author)

	// Only the quote's images are kept; a quote inside a quote is dropped.
	for _, e := range vr.Embeds {
		images, err := mediaImages(e)
		if err != nil {
			return models.Post{}, false, &Error{Kind: KindProtocolShape, Op: method, Message: "quoted images " + vr.URI, Err: err}
		}
		quote.Images = append(quote.Images, images...)
	}
	return quote, true, nil
}

// mediaImages returns the images of an embed view that is either an images
// view or a record-with-media view; other embeds yield nothing
func mediaImages(raw json.RawMessage) ([]models.PostImage, error) {
	if isEmpty(raw) {
		return nil, nil
	}
	var t typed
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, err
	}
	switch t.Type {
	case typeImagesView:
		return decodeImages(raw)
	case typeRecordWithMediaView:
		var rwm recordWithMediaView
		if err := json.Unmarshal(raw, &rwm); err != nil {
			return nil, err
		}
		return mediaImages(rwm.Media)
	}
	return nil, nil
}

func decodeImages(raw json.RawMessage) ([]models.PostImage, error) {
	var iv imagesView
	if err := json.Unmarshal(raw, &iv); err != nil {
		return nil, err
	}
	images := make([]models.PostImage, 0, len(iv.Images))
	for _, img := range iv.Images {
		images = append(images, models.PostImage{
			ThumbnailURI: img.Thumb,
			FullURI:      img.Fullsize,
			AltText:      img.Alt,
		})
	}
	return images, nil
}

func convertThread(method string, raw json.RawMessage) (models.Thread, error) {
	var t typed
	if isEmpty(raw) {
		return models.Thread{}, &Error{Kind: KindProtocolShape, Op: method, Message: "response without thread"}
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		return models.Thread{}, &Error{Kind: KindProtocolShape, Op: method, Message: "thread", Err: err}
	}
	if t.Type != typeThreadViewPost {
		return models.Thread{}, &Error{Kind: KindNotFound, Op: method, Message: fmt.Sprintf("thread root is %s", t.Type)}
	}

	var root threadViewPost
	if err := json.Unmarshal(raw, &root); err != nil {
		return models.Thread{}, &Error{Kind: KindProtocolShape, Op: method, Message: "thread", Err: err}
	}
	post, err := convertPostView(method, root.Post)
	if err != nil {
		return models.Thread{}, err
	}

	replies := make([]models.Post, 0, len(root.Replies))
	replies, err = appendReplies(method, replies, root.Replies)
	if err != nil {
		return models.Thread{}, err
	}
	return models.Thread{Post: post, Replies: replies}, nil
}

// appendReplies walks the reply tree depth first. Not found and blocked
// replies are skipped together with their subtrees.
func appendReplies(method string, out []models.Post, replies []json.RawMessage) ([]models.Post, error) {
	for _, raw := range replies {
		var t typed
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, &Error{Kind: KindProtocolShape, Op: method, Message: "reply", Err: err}
		}
		if t.Type != typeThreadViewPost {
			continue
		}
		var node threadViewPost
		if err := json.Unmarshal(raw, &node); err != nil {
			return nil, &Error{Kind: KindProtocolShape, Op: method, Message: "reply", Err: err}
		}
		post, err := convertPostView(method, node.Post)
		if err != nil {
			return nil, err
		}
		out = append(out, post)
		if out, err = appendReplies(method, out, node.Replies); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func convertProfile(p profileView) models.UserProfile {
	return models.UserProfile{
		Handle:      p.Handle,
		DisplayName: displayName(p.profileViewBasic),
		Bio:         p.Description,
		AvatarURI:   p.Avatar,
	}
}

func convertProfileDetailed(p profileViewDetailed) models.UserProfile {
	profile := convertProfile(p.profileView)
	profile.FollowerCount = p.FollowersCount
	profile.FollowCount = p.FollowsCount
	profile.PostCount = p.PostsCount
	return profile
}

func setAuthor(post *models.Post, author profileViewBasic) {
	post.AuthorHandle = author.Handle
	post.AuthorDisplayName = displayName(author)
	post.AuthorAvatarURI = author.Avatar
}

func displayName(p profileViewBasic) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Handle
}

// parseTime parses the record's own timestamp, falling back to the index time
func parseTime(values ...string) time.Time {
	for _, v := range values {
		if v == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

func isEmpty(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
