package app

import (
	"slices"
	"strings"
	"time"

	"github.com/steemit/redsky/internal/cache"
	"github.com/steemit/redsky/internal/models"
	"github.com/steemit/redsky/internal/protocol"
)

// Frame is the view model produced by one render. It holds copies and is
// safe to hand to another goroutine.
type Frame struct {
	View               View           `json:"view"`
	LoggedIn           bool           `json:"logged_in"`
	LoginName          string         `json:"login_name,omitempty"`
	LoginPending       bool           `json:"login_pending,omitempty"`
	PostsPending       int            `json:"posts_pending,omitempty"`
	TimelineRefreshing bool           `json:"timeline_refreshing,omitempty"`
	Timeline           []PostFrame    `json:"timeline,omitempty"`
	OwnPosts           *PostsFrame    `json:"own_posts,omitempty"`
	Profiles           []ProfileFrame `json:"profiles,omitempty"`
	Threads            []ThreadFrame  `json:"threads,omitempty"`
	Likers             []LikersFrame  `json:"likers,omitempty"`
	Images             []ImageSlot    `json:"images,omitempty"`
	Notices            []string       `json:"notices,omitempty"`
}

// Slot describes a cache entry as the user sees it
type Slot struct {
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

func slotOf[V any](e cache.Entry[V]) Slot {
	return Slot{State: e.State.String(), Error: e.Err}
}

// ImageSlot is one image in a frame. Bytes is the loaded size.
type ImageSlot struct {
	URI   string `json:"uri"`
	State string `json:"state"`
	Bytes int    `json:"bytes,omitempty"`
	Alt   string `json:"alt,omitempty"`
}

// PostFrame is a rendered post
type PostFrame struct {
	Ref        models.ContentRef `json:"ref"`
	Author     string            `json:"author"`
	Handle     string            `json:"handle"`
	Text       string            `json:"text"`
	CreatedAt  time.Time         `json:"created_at"`
	Likes      int64             `json:"likes"`
	Reposts    int64             `json:"reposts"`
	Replies    int64             `json:"replies"`
	Avatar     *ImageSlot        `json:"avatar,omitempty"`
	Images     []ImageSlot       `json:"images,omitempty"`
	FullImages []string          `json:"full_images,omitempty"`
	Quote      *PostFrame        `json:"quote,omitempty"`
}

// PostsFrame is a rendered post list cache entry
type PostsFrame struct {
	Slot
	Handle string      `json:"handle"`
	Posts  []PostFrame `json:"posts,omitempty"`
}

// ProfileFrame is an open profile view
type ProfileFrame struct {
	Slot
	Handle  string              `json:"handle"`
	Profile *models.UserProfile `json:"profile,omitempty"`
	Avatar  *ImageSlot          `json:"avatar,omitempty"`
	Posts   PostsFrame          `json:"posts"`
}

// ThreadFrame is an open thread view
type ThreadFrame struct {
	Slot
	Ref     models.ContentRef `json:"ref"`
	Post    *PostFrame        `json:"post,omitempty"`
	Replies []PostFrame       `json:"replies,omitempty"`
}

// LikersFrame is an open likers view
type LikersFrame struct {
	Slot
	Ref    models.ContentRef    `json:"ref"`
	Likers []models.UserProfile `json:"likers,omitempty"`
}

// Render builds the frame for the current state. Observing an Absent entry
// that the frame needs requests it: own posts on the own profile view, the
// user posts of open profiles, and the avatar and thumbnails of every post
// shown. The images it shows stay pinned until the next Render.
func (a *App) Render() Frame {
	a.store.Visible.Clear()

	f := Frame{
		View:               a.view,
		LoggedIn:           a.loggedIn,
		LoginName:          a.loginName,
		LoginPending:       a.loginPending,
		PostsPending:       a.postsPending,
		TimelineRefreshing: a.timelineInFlight > 0,
	}

	switch a.view {
	case OwnProfile:
		posts := a.renderUserPosts(a.loginName)
		f.OwnPosts = &posts
	case Timeline:
		f.Timeline = a.renderPosts(a.timeline)
	}

	handles := a.store.OpenProfiles.ToSlice()
	slices.Sort(handles)
	for _, handle := range handles {
		f.Profiles = append(f.Profiles, a.renderProfile(handle))
	}

	threads := sortedRefs(a.store.OpenThreads.ToSlice())
	for _, ref := range threads {
		f.Threads = append(f.Threads, a.renderThread(ref))
	}

	likers := sortedRefs(a.store.OpenLikers.ToSlice())
	for _, ref := range likers {
		_ = request(a, a.store.Likers, ref, protocol.GetPostLikers{Ref: ref})
		e := a.store.Likers.Observe(ref)
		f.Likers = append(f.Likers, LikersFrame{Slot: slotOf(e), Ref: ref, Likers: slices.Clone(e.Value)})
	}

	images := a.store.OpenImages.ToSlice()
	slices.Sort(images)
	for _, uri := range images {
		f.Images = append(f.Images, a.renderImage(uri, ""))
	}

	f.Notices = slices.Clone(a.notices)
	return f
}

func (a *App) renderUserPosts(handle string) PostsFrame {
	if handle == "" {
		return PostsFrame{Slot: Slot{State: cache.Absent.String()}}
	}
	_ = a.requestUserPosts(handle)
	e := a.store.UserPosts.Observe(handle)
	frame := PostsFrame{Slot: slotOf(e), Handle: handle}
	if e.State == cache.Loaded {
		frame.Posts = a.renderPosts(e.Value)
	}
	return frame
}

func (a *App) renderProfile(handle string) ProfileFrame {
	_ = request(a, a.store.Profiles, handle, protocol.GetUserProfile{Handle: handle})
	e := a.store.Profiles.Observe(handle)
	frame := ProfileFrame{Slot: slotOf(e), Handle: handle}
	if e.State == cache.Loaded {
		profile := e.Value
		frame.Profile = &profile
		if profile.AvatarURI != "" {
			avatar := a.renderImage(profile.AvatarURI, "")
			frame.Avatar = &avatar
		}
	}
	frame.Posts = a.renderUserPosts(handle)
	return frame
}

func (a *App) renderThread(ref models.ContentRef) ThreadFrame {
	_ = request(a, a.store.Threads, ref, protocol.GetPostThread{Ref: ref})
	e := a.store.Threads.Observe(ref)
	frame := ThreadFrame{Slot: slotOf(e), Ref: ref}
	if e.State == cache.Loaded {
		post := a.renderPost(e.Value.Post)
		frame.Post = &post
		frame.Replies = a.renderPosts(e.Value.Replies)
	}
	return frame
}

func (a *App) renderPosts(posts []models.Post) []PostFrame {
	if len(posts) == 0 {
		return nil
	}
	frames := make([]PostFrame, 0, len(posts))
	for _, p := range posts {
		frames = append(frames, a.renderPost(p))
	}
	return frames
}

// renderPost renders p and prefetches its avatar and thumbnails, and those
// of its quote
func (a *App) renderPost(p models.Post) PostFrame {
	frame := PostFrame{
		Ref:       p.Ref,
		Author:    p.AuthorDisplayName,
		Handle:    p.AuthorHandle,
		Text:      p.Text,
		CreatedAt: p.CreatedAt,
		Likes:     p.LikeCount,
		Reposts:   p.RepostCount,
		Replies:   p.ReplyCount,
	}
	if frame.Author == "" {
		frame.Author = p.AuthorHandle
	}
	if p.AuthorAvatarURI != "" {
		avatar := a.renderImage(p.AuthorAvatarURI, "")
		frame.Avatar = &avatar
	}
	for _, img := range p.Images {
		if img.ThumbnailURI == "" {
			continue
		}
		frame.Images = append(frame.Images, a.renderImage(img.ThumbnailURI, img.AltText))
		frame.FullImages = append(frame.FullImages, img.FullURI)
	}
	if p.QuotedPost != nil {
		// WithQuote guarantees the quote carries no quote of its own
		quote := a.renderPost(*p.QuotedPost)
		frame.Quote = &quote
	}
	return frame
}

func (a *App) renderImage(uri, alt string) ImageSlot {
	a.store.Visible.Add(uri)
	prefetch(a, a.store.Images, uri, protocol.LoadImage{URI: uri})
	e := a.store.Images.Observe(uri)
	return ImageSlot{URI: uri, State: e.State.String(), Bytes: len(e.Value), Alt: alt}
}

func sortedRefs(refs []models.ContentRef) []models.ContentRef {
	slices.SortFunc(refs, func(x, y models.ContentRef) int {
		return strings.Compare(x.String(), y.String())
	})
	return refs
}
