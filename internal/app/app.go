// Package app is the UI state machine. An App owns every UI-side cache and
// the top-level view state; it is driven by one goroutine that calls Tick
// once per frame and the interaction methods in between. None of its
// methods block: Commands are sent without waiting and at most one Event is
// drained per tick.
package app

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/steemit/redsky/internal/cache"
	"github.com/steemit/redsky/internal/models"
	"github.com/steemit/redsky/internal/protocol"
	"github.com/steemit/redsky/pkg/logging"
)

// maxNotices bounds the notice list shown to the user
const maxNotices = 8

var (
	// ErrCommandQueueFull is returned when a Command could not be queued
	// without blocking. The cache slot created for it is marked Failed.
	ErrCommandQueueFull = errors.New("command queue full")
	// ErrNotLoggedIn is returned by interactions that need a session
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrAlreadyLoggedIn is returned by SubmitLogin after a successful login
	ErrAlreadyLoggedIn = errors.New("already logged in")
	// ErrLoginInProgress is returned by SubmitLogin while a login is pending
	ErrLoginInProgress = errors.New("login in progress")
	// ErrEmptyInput is returned when a required text field is empty
	ErrEmptyInput = errors.New("empty input")
	// ErrInvalidView is returned for an unknown or unreachable view
	ErrInvalidView = errors.New("invalid view")
)

// App is the single owned UI state aggregate
type App struct {
	commands chan<- protocol.Command
	events   <-chan protocol.Event
	store    *cache.Store
	logger   *zap.Logger

	view             View
	loggedIn         bool
	loginName        string
	loginPending     bool
	postsPending     int
	timeline         []models.Post
	timelineInFlight int
	notices          []string

	// set when a post landed while the own posts fetch was in flight; that
	// response predates the post and is followed by a fresh fetch
	ownPostsStale bool
}

// New creates an App in the LoggedOut view
func New(commands chan<- protocol.Command, events <-chan protocol.Event, store *cache.Store) *App {
	return &App{
		commands: commands,
		events:   events,
		store:    store,
		logger:   logging.WithComponent("app"),
		view:     LoggedOut,
	}
}

// Tick drains at most one Event without blocking, applies it and renders
func (a *App) Tick() Frame {
	select {
	case ev := <-a.events:
		a.Apply(ev)
	default:
	}
	return a.Render()
}

// Backlog returns the number of Events waiting to be drained
func (a *App) Backlog() int {
	return len(a.events)
}

// Apply updates the state for one Event
func (a *App) Apply(ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.LoginSucceeded:
		a.loggedIn = true
		a.loginPending = false
		if e.Handle != "" {
			a.loginName = e.Handle
		}
		a.view = OwnProfile
		a.logger.Info("Logged in", zap.String("handle", a.loginName))
		a.requestUserPosts(a.loginName)
		a.refreshTimeline()

	case protocol.PostSucceeded:
		if a.postsPending > 0 {
			a.postsPending--
		}
		a.refreshTimeline()
		a.refreshOwnPosts()

	case protocol.TimelineRefreshed:
		a.timelineDone()
		a.timeline = e.Posts

	case protocol.UserPostsLoaded:
		a.store.UserPosts.Resolve(e.Handle, e.Posts)
		if e.Handle == a.loginName && a.ownPostsStale {
			a.ownPostsStale = false
			a.refreshOwnPosts()
		}

	case protocol.UserProfileLoaded:
		a.store.Profiles.Resolve(e.Handle, e.Profile)

	case protocol.PostThreadLoaded:
		a.store.Threads.Resolve(e.Ref, models.Thread{Post: e.Post, Replies: e.Replies})

	case protocol.PostLikersLoaded:
		a.store.Likers.Resolve(e.Ref, e.Likers)

	case protocol.ImageLoaded:
		if evicted := a.store.Images.Resolve(e.URI, e.Bytes); len(evicted) > 0 {
			a.logger.Debug("Evicted images", zap.Int("count", len(evicted)),
				zap.Int64("loaded_bytes", a.store.Images.LoadedBytes()))
		}

	case protocol.Error:
		a.applyError(e)
	}
}

// applyError records the failure and fails the slot the Command was filling.
// A slot that was released meanwhile stays Absent.
func (a *App) applyError(e protocol.Error) {
	a.notice(e.Error())
	a.logger.Warn("Command failed", zap.String("error", e.Error()))

	switch c := e.Cause.(type) {
	case protocol.Login:
		a.loginPending = false
	case protocol.Post:
		if a.postsPending > 0 {
			a.postsPending--
		}
	case protocol.GetTimeline:
		a.timelineDone()
	case protocol.GetUserPosts:
		a.store.UserPosts.Fail(c.Handle, e.Message)
		if c.Handle == a.loginName && a.ownPostsStale {
			a.ownPostsStale = false
			a.refreshOwnPosts()
		}
	case protocol.GetUserProfile:
		a.store.Profiles.Fail(c.Handle, e.Message)
	case protocol.GetPostThread:
		a.store.Threads.Fail(c.Ref, e.Message)
	case protocol.GetPostLikers:
		a.store.Likers.Fail(c.Ref, e.Message)
	case protocol.LoadImage:
		a.store.Images.Fail(c.URI, e.Message)
	}
}

// SubmitLogin sends the login form
func (a *App) SubmitLogin(login, password string) error {
	login = strings.TrimSpace(login)
	switch {
	case a.loggedIn:
		return ErrAlreadyLoggedIn
	case a.loginPending:
		return ErrLoginInProgress
	case login == "" || password == "":
		return fmt.Errorf("%w: login and password are required", ErrEmptyInput)
	}

	if err := a.send(protocol.Login{Login: login, Password: password}); err != nil {
		return err
	}
	a.loginName = login
	a.loginPending = true
	return nil
}

// SubmitPost publishes text as the logged in user
func (a *App) SubmitPost(text string) error {
	if !a.loggedIn {
		return ErrNotLoggedIn
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: post text is required", ErrEmptyInput)
	}
	if err := a.send(protocol.Post{Text: text}); err != nil {
		return err
	}
	a.postsPending++
	return nil
}

// SelectView switches between the own profile and the timeline. There is no
// way back to LoggedOut.
func (a *App) SelectView(v View) error {
	if !a.loggedIn {
		return ErrNotLoggedIn
	}
	if v != OwnProfile && v != Timeline {
		return fmt.Errorf("%w: %s", ErrInvalidView, v)
	}
	a.view = v
	return nil
}

// RefreshTimeline asks for a fresh page of the home timeline
func (a *App) RefreshTimeline() error {
	if !a.loggedIn {
		return ErrNotLoggedIn
	}
	return a.refreshTimeline()
}

// OpenProfile opens the profile view of handle and fetches the profile and
// the user's posts unless they are already cached or in flight
func (a *App) OpenProfile(handle string) error {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return fmt.Errorf("%w: handle is required", ErrEmptyInput)
	}
	a.store.OpenProfiles.Add(handle)
	err := request(a, a.store.Profiles, handle, protocol.GetUserProfile{Handle: handle})
	if postsErr := a.requestUserPosts(handle); err == nil {
		err = postsErr
	}
	return err
}

// CloseProfile closes the profile view of handle and releases its entries.
// The logged in user's own posts are kept for the own profile view.
func (a *App) CloseProfile(handle string) {
	a.store.OpenProfiles.Remove(handle)
	a.store.Profiles.Release(handle)
	if handle != a.loginName {
		a.store.UserPosts.Release(handle)
	}
}

// OpenThread opens the thread view of ref
func (a *App) OpenThread(ref models.ContentRef) error {
	if ref.IsZero() {
		return fmt.Errorf("%w: post uri is required", ErrEmptyInput)
	}
	a.store.OpenThreads.Add(ref)
	return request(a, a.store.Threads, ref, protocol.GetPostThread{Ref: ref})
}

// CloseThread closes the thread view of ref and releases its entry
func (a *App) CloseThread(ref models.ContentRef) {
	a.store.OpenThreads.Remove(ref)
	a.store.Threads.Release(ref)
}

// OpenLikers opens the likers view of ref
func (a *App) OpenLikers(ref models.ContentRef) error {
	if ref.IsZero() {
		return fmt.Errorf("%w: post uri is required", ErrEmptyInput)
	}
	a.store.OpenLikers.Add(ref)
	return request(a, a.store.Likers, ref, protocol.GetPostLikers{Ref: ref})
}

// CloseLikers closes the likers view of ref and releases its entry
func (a *App) CloseLikers(ref models.ContentRef) {
	a.store.OpenLikers.Remove(ref)
	a.store.Likers.Release(ref)
}

// OpenImage opens the full-size view of uri. The image stays pinned in the
// image cache until the view is closed.
func (a *App) OpenImage(uri string) error {
	if uri == "" {
		return fmt.Errorf("%w: image uri is required", ErrEmptyInput)
	}
	a.store.OpenImages.Add(uri)
	return request(a, a.store.Images, uri, protocol.LoadImage{URI: uri})
}

// CloseImage closes the full-size view of uri and releases its bytes
func (a *App) CloseImage(uri string) {
	a.store.OpenImages.Remove(uri)
	a.store.Images.Release(uri)
}

// View returns the current top-level view
func (a *App) View() View { return a.view }

// LoggedIn reports whether a login succeeded
func (a *App) LoggedIn() bool { return a.loggedIn }

// LoginName returns the handle of the session, or the name typed into the
// login form while the login is pending
func (a *App) LoginName() string { return a.loginName }

// Timeline returns the last fetched timeline page
func (a *App) Timeline() []models.Post { return a.timeline }

// Notices returns the most recent error messages, oldest first
func (a *App) Notices() []string { return a.notices }

// Store returns the cache store
func (a *App) Store() *cache.Store { return a.store }

func (a *App) requestUserPosts(handle string) error {
	if handle == "" {
		return nil
	}
	return request(a, a.store.UserPosts, handle, protocol.GetUserPosts{Handle: handle})
}

// refreshOwnPosts refetches the logged in user's posts. While a fetch is in
// flight it only marks the entry stale, so an older response cannot land
// after a newer one.
func (a *App) refreshOwnPosts() {
	if a.store.UserPosts.Observe(a.loginName).State == cache.Pending {
		a.ownPostsStale = true
		return
	}
	a.store.UserPosts.Release(a.loginName)
	_ = a.requestUserPosts(a.loginName)
}

func (a *App) refreshTimeline() error {
	if err := a.send(protocol.GetTimeline{}); err != nil {
		return err
	}
	a.timelineInFlight++
	return nil
}

func (a *App) timelineDone() {
	if a.timelineInFlight > 0 {
		a.timelineInFlight--
	}
}

// send queues cmd without blocking
func (a *App) send(cmd protocol.Command) error {
	select {
	case a.commands <- cmd:
		return nil
	default:
		err := fmt.Errorf("%w: %s dropped", ErrCommandQueueFull, cmd.Kind())
		a.logger.Error("Failed to queue command", zap.String("command", cmd.Kind()), zap.Error(err))
		a.notice(err.Error())
		return err
	}
}

func (a *App) notice(msg string) {
	a.notices = append(a.notices, msg)
	if n := len(a.notices); n > maxNotices {
		a.notices = append(a.notices[:0:0], a.notices[n-maxNotices:]...)
	}
}

// slot is the part of a cache table the fetch path needs
type slot[K comparable] interface {
	Request(k K) bool
	Fail(k K, msg string) bool
}

// request creates a Pending entry for k and sends cmd in the same call. It
// does nothing when k is already present. If cmd cannot be queued the entry
// is marked Failed so that it is not left Pending forever.
func request[K comparable](a *App, t slot[K], k K, cmd protocol.Command) error {
	if !t.Request(k) {
		return nil
	}
	if err := a.send(cmd); err != nil {
		t.Fail(k, err.Error())
		return err
	}
	return nil
}

// prefetchSlot is the part of a cache table the prefetch path needs
type prefetchSlot[K comparable] interface {
	Request(k K) bool
	Release(k K)
}

// prefetch is request for entries no view owns. When cmd cannot be queued the
// entry is released instead of failed, so the next render asks again.
func prefetch[K comparable](a *App, t prefetchSlot[K], k K, cmd protocol.Command) {
	if !t.Request(k) {
		return
	}
	select {
	case a.commands <- cmd:
	default:
		t.Release(k)
		a.logger.Debug("Command queue full, prefetch deferred", zap.String("command", cmd.Kind()))
	}
}
