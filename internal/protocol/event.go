package protocol

import (
	"github.com/steemit/redsky/internal/models"
)

// Event is a job outcome delivered from the actor to the UI. Every Command
// other than Close produces exactly one Event.
type Event interface {
	Kind() string
	isEvent()
}

// LoginSucceeded reports an authenticated session. Handle is the handle the
// server resolved; it may be empty.
type LoginSucceeded struct {
	Handle string
}

// PostSucceeded reports that a post was created
type PostSucceeded struct{}

// TimelineRefreshed carries a fresh page of the home timeline
type TimelineRefreshed struct {
	Posts []models.Post
}

// UserPostsLoaded carries the author feed requested for Handle
type UserPostsLoaded struct {
	Handle string
	Posts  []models.Post
}

// UserProfileLoaded carries the profile requested for Handle
type UserProfileLoaded struct {
	Handle  string
	Profile models.UserProfile
}

// PostThreadLoaded carries the thread requested for Ref
type PostThreadLoaded struct {
	Ref     models.ContentRef
	Post    models.Post
	Replies []models.Post
}

// PostLikersLoaded carries the accounts that liked Ref
type PostLikersLoaded struct {
	Ref    models.ContentRef
	Likers []models.UserProfile
}

// ImageLoaded carries the bytes fetched for URI
type ImageLoaded struct {
	URI   string
	Bytes []byte
}

// Error reports a failed job. Cause is the Command that failed.
type Error struct {
	Cause   Command
	Message string
}

func (LoginSucceeded) Kind() string    { return "login_succeeded" }
func (PostSucceeded) Kind() string     { return "post_succeeded" }
func (TimelineRefreshed) Kind() string { return "timeline_refreshed" }
func (UserPostsLoaded) Kind() string   { return "user_posts_loaded" }
func (UserProfileLoaded) Kind() string { return "user_profile_loaded" }
func (PostThreadLoaded) Kind() string  { return "post_thread_loaded" }
func (PostLikersLoaded) Kind() string  { return "post_likers_loaded" }
func (ImageLoaded) Kind() string       { return "image_loaded" }
func (Error) Kind() string             { return "error" }

func (LoginSucceeded) isEvent()    {}
func (PostSucceeded) isEvent()     {}
func (TimelineRefreshed) isEvent() {}
func (UserPostsLoaded) isEvent()   {}
func (UserProfileLoaded) isEvent() {}
func (PostThreadLoaded) isEvent()  {}
func (PostLikersLoaded) isEvent()  {}
func (ImageLoaded) isEvent()       {}
func (Error) isEvent()             {}

// Error implements the error interface so an Error event can be logged or
// returned as-is.
func (e Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return e.Cause.Kind() + ": " + e.Message
}
