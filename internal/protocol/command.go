// Package protocol defines the two closed message sets exchanged between the
// UI loop and the network actor: Commands flow from the UI to the actor and
// Events flow back. Both sets are sealed; only this package can add members.
package protocol

import (
	"github.com/steemit/redsky/internal/models"
)

// Command is a request from the UI to the actor
type Command interface {
	// Kind returns a stable snake_case name for logs and metrics
	Kind() string
	isCommand()
}

// Login authenticates the shared session
type Login struct {
	Login    string
	Password string
}

// Post publishes a new text post as the logged in user
type Post struct {
	Text string
}

// GetTimeline fetches the logged in user's home timeline
type GetTimeline struct{}

// GetUserPosts fetches the author feed of Handle
type GetUserPosts struct {
	Handle string
}

// GetUserProfile fetches the profile of Handle
type GetUserProfile struct {
	Handle string
}

// GetPostThread fetches a post and its replies
type GetPostThread struct {
	Ref models.ContentRef
}

// GetPostLikers fetches the accounts that liked a post
type GetPostLikers struct {
	Ref models.ContentRef
}

// LoadImage fetches the raw bytes behind an image URI
type LoadImage struct {
	URI string
}

// Close stops the actor's receive loop. It produces no Event.
type Close struct{}

func (Login) Kind() string          { return "login" }
func (Post) Kind() string           { return "post" }
func (GetTimeline) Kind() string    { return "get_timeline" }
func (GetUserPosts) Kind() string   { return "get_user_posts" }
func (GetUserProfile) Kind() string { return "get_user_profile" }
func (GetPostThread) Kind() string  { return "get_post_thread" }
func (GetPostLikers) Kind() string  { return "get_post_likers" }
func (LoadImage) Kind() string      { return "load_image" }
func (Close) Kind() string          { return "close" }

func (Login) isCommand()          {}
func (Post) isCommand()           {}
func (GetTimeline) isCommand()    {}
func (GetUserPosts) isCommand()   {}
func (GetUserProfile) isCommand() {}
func (GetPostThread) isCommand()  {}
func (GetPostLikers) isCommand()  {}
func (LoadImage) isCommand()      {}
func (Close) isCommand()          {}

// Key returns the cache key a Command fetches, or "" for commands that do
// not fill a keyed cache slot. It never exposes a password.
func Key(cmd Command) string {
	switch c := cmd.(type) {
	case GetUserPosts:
		return c.Handle
	case GetUserProfile:
		return c.Handle
	case GetPostThread:
		return c.Ref.String()
	case GetPostLikers:
		return c.Ref.String()
	case LoadImage:
		return c.URI
	case Login:
		return c.Login
	}
	return ""
}
