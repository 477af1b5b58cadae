package app

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steemit/redsky/internal/cache"
	"github.com/steemit/redsky/internal/models"
	"github.com/steemit/redsky/internal/protocol"
)

type testApp struct {
	*App
	commands chan protocol.Command
	events   chan protocol.Event
}

func newTestApp(t *testing.T, queue int) *testApp {
	t.Helper()
	return newBudgetedTestApp(t, queue, 0)
}

func newBudgetedTestApp(t *testing.T, queue int, imageBudget int64) *testApp {
	t.Helper()
	commands := make(chan protocol.Command, queue)
	events := make(chan protocol.Event, 16)
	return &testApp{
		App:      New(commands, events, cache.NewStore(imageBudget)),
		commands: commands,
		events:   events,
	}
}

// sent drains the command queue
func (ta *testApp) sent() []protocol.Command {
	var out []protocol.Command
	for {
		select {
		case cmd := <-ta.commands:
			out = append(out, cmd)
		default:
			return out
		}
	}
}

// deliver queues ev and runs one tick
func (ta *testApp) deliver(ev protocol.Event) Frame {
	ta.events <- ev
	return ta.Tick()
}

func loggedInApp(t *testing.T) *testApp {
	t.Helper()
	ta := newTestApp(t, 64)
	require.NoError(t, ta.SubmitLogin("alice", "pw"))
	ta.deliver(protocol.LoginSucceeded{})
	ta.sent()
	return ta
}

var (
	refR   = models.ContentRef{URI: "at://alice/post/1", CID: "c1"}
	alices = []models.Post{{Ref: refR, Text: "mine", AuthorHandle: "alice"}}
)

func TestLoginThenTimeline(t *testing.T) {
	timeline := []models.Post{{Ref: models.ContentRef{URI: "at://bob/post/9", CID: "c9"}, Text: "hi", AuthorHandle: "bob"}}

	orders := map[string][]protocol.Event{
		"timeline first": {
			protocol.TimelineRefreshed{Posts: timeline},
			protocol.UserPostsLoaded{Handle: "alice", Posts: alices},
		},
		"user posts first": {
			protocol.UserPostsLoaded{Handle: "alice", Posts: alices},
			protocol.TimelineRefreshed{Posts: timeline},
		},
	}

	for name, events := range orders {
		t.Run(name, func(t *testing.T) {
			ta := newTestApp(t, 16)
			assert.Equal(t, LoggedOut, ta.View())

			require.NoError(t, ta.SubmitLogin("alice", "pw"))
			assert.Equal(t, []protocol.Command{protocol.Login{Login: "alice", Password: "pw"}}, ta.sent())

			frame := ta.deliver(protocol.LoginSucceeded{})
			assert.Equal(t, OwnProfile, frame.View)
			assert.True(t, frame.LoggedIn)
			assert.ElementsMatch(t, []protocol.Command{
				protocol.GetUserPosts{Handle: "alice"},
				protocol.GetTimeline{},
			}, ta.sent())
			assert.Equal(t, cache.Pending.String(), frame.OwnPosts.State)
			assert.True(t, frame.TimelineRefreshing)

			for _, ev := range events {
				ta.deliver(ev)
			}

			assert.Equal(t, timeline, ta.Timeline())
			entry := ta.Store().UserPosts.Observe("alice")
			assert.Equal(t, cache.Loaded, entry.State)
			assert.Equal(t, alices, entry.Value)
			assert.Empty(t, ta.sent(), "nothing is requested twice")

			frame = ta.Tick()
			assert.False(t, frame.TimelineRefreshing)
			require.NotNil(t, frame.OwnPosts)
			assert.Len(t, frame.OwnPosts.Posts, 1)
		})
	}
}

func TestLoginUsesServerHandle(t *testing.T) {
	ta := newTestApp(t, 16)
	require.NoError(t, ta.SubmitLogin("alice@example.com", "pw"))
	ta.sent()

	ta.deliver(protocol.LoginSucceeded{Handle: "alice.bsky.social"})
	assert.Equal(t, "alice.bsky.social", ta.LoginName())
	assert.Contains(t, ta.sent(), protocol.Command(protocol.GetUserPosts{Handle: "alice.bsky.social"}))
}

func TestFailedLoginStaysLoggedOut(t *testing.T) {
	ta := newTestApp(t, 16)
	require.NoError(t, ta.SubmitLogin("alice", "bad"))
	assert.ErrorIs(t, ta.SubmitLogin("alice", "bad"), ErrLoginInProgress)
	ta.sent()

	frame := ta.deliver(protocol.Error{Cause: protocol.Login{Login: "alice"}, Message: "auth: invalid password"})
	assert.Equal(t, LoggedOut, frame.View)
	assert.False(t, frame.LoggedIn)
	assert.False(t, frame.LoginPending)
	assert.Equal(t, []string{"login: auth: invalid password"}, frame.Notices)

	require.NoError(t, ta.SubmitLogin("alice", "pw"), "the form can be submitted again")
}

func TestInteractionValidation(t *testing.T) {
	ta := newTestApp(t, 16)

	assert.ErrorIs(t, ta.SubmitLogin("", "pw"), ErrEmptyInput)
	assert.ErrorIs(t, ta.SubmitPost("hi"), ErrNotLoggedIn)
	assert.ErrorIs(t, ta.SelectView(Timeline), ErrNotLoggedIn)
	assert.ErrorIs(t, ta.RefreshTimeline(), ErrNotLoggedIn)
	assert.ErrorIs(t, ta.OpenProfile(" "), ErrEmptyInput)
	assert.ErrorIs(t, ta.OpenThread(models.ContentRef{}), ErrEmptyInput)
	assert.ErrorIs(t, ta.OpenImage(""), ErrEmptyInput)
	assert.Empty(t, ta.sent())

	ta = loggedInApp(t)
	assert.ErrorIs(t, ta.SubmitLogin("alice", "pw"), ErrAlreadyLoggedIn)
	assert.ErrorIs(t, ta.SubmitPost("   "), ErrEmptyInput)
	assert.ErrorIs(t, ta.SelectView(LoggedOut), ErrInvalidView, "login is one-way")
}

func TestSelectViewIsPureToggle(t *testing.T) {
	ta := loggedInApp(t)
	ta.deliver(protocol.UserPostsLoaded{Handle: "alice", Posts: alices})

	require.NoError(t, ta.SelectView(Timeline))
	assert.Equal(t, Timeline, ta.Tick().View)
	require.NoError(t, ta.SelectView(OwnProfile))
	assert.Equal(t, OwnProfile, ta.Tick().View)
	assert.Empty(t, ta.sent())
}

func TestProfileOrdering(t *testing.T) {
	ta := loggedInApp(t)

	require.NoError(t, ta.OpenProfile("bob"))
	assert.ElementsMatch(t, []protocol.Command{
		protocol.GetUserProfile{Handle: "bob"},
		protocol.GetUserPosts{Handle: "bob"},
	}, ta.sent())

	// Until the event is drained the slot is Pending, never Absent.
	for i := 0; i < 3; i++ {
		assert.Equal(t, cache.Pending, ta.Store().Profiles.Observe("bob").State)
		ta.Tick()
	}
	assert.Empty(t, ta.sent())

	frame := ta.deliver(protocol.UserProfileLoaded{Handle: "bob", Profile: models.UserProfile{Handle: "bob", DisplayName: "Bob"}})
	assert.Equal(t, cache.Loaded, ta.Store().Profiles.Observe("bob").State)
	require.Len(t, frame.Profiles, 1)
	assert.Equal(t, "Bob", frame.Profiles[0].Profile.DisplayName)
	assert.Equal(t, cache.Pending.String(), frame.Profiles[0].Posts.State)
}

func TestViewCloseReleasesCache(t *testing.T) {
	ta := loggedInApp(t)

	require.NoError(t, ta.OpenThread(refR))
	assert.Equal(t, []protocol.Command{protocol.GetPostThread{Ref: refR}}, ta.sent())
	assert.Equal(t, cache.Pending, ta.Store().Threads.Observe(refR).State)

	frame := ta.deliver(protocol.PostThreadLoaded{Ref: refR, Post: alices[0]})
	assert.Equal(t, cache.Loaded, ta.Store().Threads.Observe(refR).State)
	require.Len(t, frame.Threads, 1)
	assert.Equal(t, "mine", frame.Threads[0].Post.Text)

	ta.CloseThread(refR)
	assert.Equal(t, cache.Absent, ta.Store().Threads.Observe(refR).State)
	assert.Empty(t, ta.Tick().Threads)

	require.NoError(t, ta.OpenThread(refR))
	assert.Equal(t, []protocol.Command{protocol.GetPostThread{Ref: refR}}, ta.sent())
}

func TestCloseProfileKeepsOwnPosts(t *testing.T) {
	ta := loggedInApp(t)
	ta.deliver(protocol.UserPostsLoaded{Handle: "alice", Posts: alices})

	require.NoError(t, ta.OpenProfile("alice"))
	ta.CloseProfile("alice")
	assert.Equal(t, cache.Absent, ta.Store().Profiles.Observe("alice").State)
	assert.Equal(t, cache.Loaded, ta.Store().UserPosts.Observe("alice").State)

	require.NoError(t, ta.OpenProfile("bob"))
	ta.deliver(protocol.UserPostsLoaded{Handle: "bob", Posts: nil})
	ta.CloseProfile("bob")
	assert.Equal(t, cache.Absent, ta.Store().UserPosts.Observe("bob").State)
}

func TestDedupAcrossRenders(t *testing.T) {
	ta := loggedInApp(t)
	require.NoError(t, ta.SelectView(Timeline))

	post := models.Post{
		Ref:             refR,
		AuthorHandle:    "bob",
		AuthorAvatarURI: "https://cdn/avatar/bob",
		Images: []models.PostImage{
			{ThumbnailURI: "https://cdn/thumb/1", FullURI: "https://cdn/full/1"},
		},
	}
	post = post.WithQuote(models.Post{
		AuthorHandle:    "bob",
		AuthorAvatarURI: "https://cdn/avatar/bob",
		Images:          []models.PostImage{{ThumbnailURI: "https://cdn/thumb/q"}},
	})

	ta.deliver(protocol.TimelineRefreshed{Posts: []models.Post{post, post}})
	for i := 0; i < 5; i++ {
		ta.Tick()
	}

	assert.ElementsMatch(t, []protocol.Command{
		protocol.LoadImage{URI: "https://cdn/avatar/bob"},
		protocol.LoadImage{URI: "https://cdn/thumb/1"},
		protocol.LoadImage{URI: "https://cdn/thumb/q"},
	}, ta.sent(), "every image is requested once")

	require.NoError(t, ta.OpenImage("https://cdn/thumb/1"))
	assert.Empty(t, ta.sent(), "opening an in-flight image does not refetch it")

	frame := ta.deliver(protocol.ImageLoaded{URI: "https://cdn/thumb/1", Bytes: []byte{1, 2, 3}})
	require.Len(t, frame.Timeline, 2)
	assert.Equal(t, ImageSlot{URI: "https://cdn/thumb/1", State: "loaded", Bytes: 3}, frame.Timeline[0].Images[0])
	assert.Equal(t, "pending", frame.Timeline[0].Avatar.State)
	require.NotNil(t, frame.Timeline[0].Quote)
	assert.Nil(t, frame.Timeline[0].Quote.Quote)
}

func TestFailedFetchBecomesFailedSlot(t *testing.T) {
	ta := loggedInApp(t)

	require.NoError(t, ta.OpenLikers(refR))
	ta.sent()

	frame := ta.deliver(protocol.Error{Cause: protocol.GetPostLikers{Ref: refR}, Message: "not_found"})
	entry := ta.Store().Likers.Observe(refR)
	assert.Equal(t, cache.Failed, entry.State)
	assert.Equal(t, "not_found", entry.Err)
	require.Len(t, frame.Likers, 1)
	assert.Equal(t, Slot{State: "failed", Error: "not_found"}, frame.Likers[0].Slot)

	ta.Tick()
	assert.Empty(t, ta.sent(), "a failed slot is not retried while open")

	ta.CloseLikers(refR)
	require.NoError(t, ta.OpenLikers(refR))
	assert.Equal(t, []protocol.Command{protocol.GetPostLikers{Ref: refR}}, ta.sent())
}

func TestLateEvents(t *testing.T) {
	t.Run("late success recreates the entry", func(t *testing.T) {
		ta := loggedInApp(t)
		require.NoError(t, ta.OpenImage("https://cdn/full/1"))
		ta.CloseImage("https://cdn/full/1")

		ta.deliver(protocol.ImageLoaded{URI: "https://cdn/full/1", Bytes: []byte{1}})
		assert.Equal(t, cache.Loaded, ta.Store().Images.Observe("https://cdn/full/1").State)
	})

	t.Run("late error is dropped", func(t *testing.T) {
		ta := loggedInApp(t)
		require.NoError(t, ta.OpenThread(refR))
		ta.CloseThread(refR)

		frame := ta.deliver(protocol.Error{Cause: protocol.GetPostThread{Ref: refR}, Message: "timeout"})
		assert.Equal(t, cache.Absent, ta.Store().Threads.Observe(refR).State)
		assert.Contains(t, frame.Notices, "get_post_thread: timeout")
	})
}

func TestCommandQueueFull(t *testing.T) {
	ta := newTestApp(t, 2)
	require.NoError(t, ta.SubmitLogin("alice", "pw"))
	require.NoError(t, ta.OpenThread(refR))

	// Nobody drained the queue.
	err := ta.OpenProfile("bob")
	require.ErrorIs(t, err, ErrCommandQueueFull)

	entry := ta.Store().Profiles.Observe("bob")
	assert.Equal(t, cache.Failed, entry.State)
	assert.Contains(t, entry.Err, "command queue full")
	assert.Equal(t, cache.Failed, ta.Store().UserPosts.Observe("bob").State)
	assert.NotEmpty(t, ta.Notices())

	// Closing and reopening retries once there is room.
	ta.sent()
	ta.CloseProfile("bob")
	require.NoError(t, ta.OpenProfile("bob"))
	assert.Equal(t, cache.Pending, ta.Store().Profiles.Observe("bob").State)
}

func TestPostSucceededRefreshes(t *testing.T) {
	ta := loggedInApp(t)
	ta.deliver(protocol.UserPostsLoaded{Handle: "alice", Posts: alices})

	require.NoError(t, ta.SubmitPost("hello"))
	assert.Equal(t, []protocol.Command{protocol.Post{Text: "hello"}}, ta.sent())
	assert.Equal(t, 1, ta.Render().PostsPending)

	frame := ta.deliver(protocol.PostSucceeded{})
	assert.Equal(t, 0, frame.PostsPending)
	assert.ElementsMatch(t, []protocol.Command{
		protocol.GetTimeline{},
		protocol.GetUserPosts{Handle: "alice"},
	}, ta.sent())
	assert.Equal(t, cache.Pending, ta.Store().UserPosts.Observe("alice").State)
}

func TestTickDrainsOneEvent(t *testing.T) {
	ta := loggedInApp(t)
	ta.events <- protocol.UserProfileLoaded{Handle: "x", Profile: models.UserProfile{Handle: "x"}}
	ta.events <- protocol.UserProfileLoaded{Handle: "y", Profile: models.UserProfile{Handle: "y"}}

	assert.Equal(t, 2, ta.Backlog())
	ta.Tick()
	assert.Equal(t, 1, ta.Backlog())
	assert.Equal(t, cache.Loaded, ta.Store().Profiles.Observe("x").State)
	assert.Equal(t, cache.Absent, ta.Store().Profiles.Observe("y").State)

	ta.Tick()
	ta.Tick()
	assert.Equal(t, 0, ta.Backlog())
	assert.Equal(t, cache.Loaded, ta.Store().Profiles.Observe("y").State)
}

func TestNoticesAreBounded(t *testing.T) {
	ta := loggedInApp(t)
	for i := 0; i < maxNotices+3; i++ {
		ta.Apply(protocol.Error{Cause: protocol.GetTimeline{}, Message: fmt.Sprintf("e%d", i)})
	}
	notices := ta.Notices()
	require.Len(t, notices, maxNotices)
	assert.Equal(t, "get_timeline: e3", notices[0])
	assert.Equal(t, fmt.Sprintf("get_timeline: e%d", maxNotices+2), notices[maxNotices-1])
}

func TestParseView(t *testing.T) {
	for _, v := range []View{LoggedOut, OwnProfile, Timeline} {
		parsed, err := ParseView(v.String())
		require.NoError(t, err)
		assert.Equal(t, v, parsed)
	}
	_, err := ParseView("settings")
	assert.ErrorIs(t, err, ErrInvalidView)
}

func TestVisibleImagesSurviveTheBudget(t *testing.T) {
	ta := newBudgetedTestApp(t, 64, 10)
	require.NoError(t, ta.SubmitLogin("alice", "pw"))
	ta.deliver(protocol.LoginSucceeded{})
	require.NoError(t, ta.SelectView(Timeline))
	ta.sent()

	post := models.Post{
		Ref:          refR,
		AuthorHandle: "bob",
		Images: []models.PostImage{
			{ThumbnailURI: "https://cdn/thumb/1"},
			{ThumbnailURI: "https://cdn/thumb/2"},
		},
	}
	ta.deliver(protocol.TimelineRefreshed{Posts: []models.Post{post}})

	// Answer every load with 8 bytes; both thumbnails together exceed the budget.
	loads := 0
	for i := 0; i < 20; i++ {
		for _, cmd := range ta.sent() {
			if load, ok := cmd.(protocol.LoadImage); ok {
				loads++
				ta.events <- protocol.ImageLoaded{URI: load.URI, Bytes: make([]byte, 8)}
			}
		}
		ta.Tick()
	}
	assert.Equal(t, 2, loads, "images on screen are fetched once")
	frame := ta.Render()
	require.Len(t, frame.Timeline, 1)
	for _, img := range frame.Timeline[0].Images {
		assert.Equal(t, "loaded", img.State, img.URI)
	}

	// Once off screen they are evictable again.
	ta.deliver(protocol.TimelineRefreshed{})
	require.NoError(t, ta.OpenImage("https://cdn/full/1"))
	ta.sent()
	ta.deliver(protocol.ImageLoaded{URI: "https://cdn/full/1", Bytes: make([]byte, 8)})
	assert.Equal(t, cache.Absent, ta.Store().Images.Observe("https://cdn/thumb/1").State)
	assert.Equal(t, cache.Absent, ta.Store().Images.Observe("https://cdn/thumb/2").State)
	assert.Equal(t, int64(8), ta.Store().Images.LoadedBytes())
}

func TestPrefetchRetriesAfterQueueFull(t *testing.T) {
	ta := newTestApp(t, 1)
	require.NoError(t, ta.SubmitLogin("alice", "pw"))
	ta.sent()
	ta.deliver(protocol.LoginSucceeded{})
	ta.sent()
	require.NoError(t, ta.SelectView(Timeline))
	notices := len(ta.Notices())

	post := models.Post{
		Ref:          refR,
		AuthorHandle: "bob",
		Images: []models.PostImage{
			{ThumbnailURI: "https://cdn/thumb/1"},
			{ThumbnailURI: "https://cdn/thumb/2"},
		},
	}
	ta.deliver(protocol.TimelineRefreshed{Posts: []models.Post{post}})

	assert.Equal(t, cache.Pending, ta.Store().Images.Observe("https://cdn/thumb/1").State)
	assert.Equal(t, cache.Absent, ta.Store().Images.Observe("https://cdn/thumb/2").State,
		"a thumbnail that did not fit in the queue is not failed")
	assert.Len(t, ta.Notices(), notices, "deferred prefetches add no notice")
	assert.Equal(t, []protocol.Command{protocol.LoadImage{URI: "https://cdn/thumb/1"}}, ta.sent())

	ta.Tick()
	assert.Equal(t, []protocol.Command{protocol.LoadImage{URI: "https://cdn/thumb/2"}}, ta.sent())
}

func TestPostDuringOwnPostsFetch(t *testing.T) {
	ta := loggedInApp(t)
	require.Equal(t, cache.Pending, ta.Store().UserPosts.Observe("alice").State)

	require.NoError(t, ta.SubmitPost("hello"))
	ta.sent()
	ta.deliver(protocol.PostSucceeded{})
	assert.Equal(t, []protocol.Command{protocol.GetTimeline{}}, ta.sent(),
		"no second fetch while the first is in flight")

	// The in-flight answer predates the post; a fresh fetch follows it.
	ta.deliver(protocol.UserPostsLoaded{Handle: "alice"})
	assert.Equal(t, []protocol.Command{protocol.GetUserPosts{Handle: "alice"}}, ta.sent())
	assert.Equal(t, cache.Pending, ta.Store().UserPosts.Observe("alice").State)

	ta.deliver(protocol.UserPostsLoaded{Handle: "alice", Posts: alices})
	assert.Empty(t, ta.sent())
	entry := ta.Store().UserPosts.Observe("alice")
	assert.Equal(t, cache.Loaded, entry.State)
	assert.Equal(t, alices, entry.Value)
}

func TestFailedStaleOwnPostsFetchRetries(t *testing.T) {
	ta := loggedInApp(t)

	require.NoError(t, ta.SubmitPost("hello"))
	ta.deliver(protocol.PostSucceeded{})
	ta.sent()

	ta.deliver(protocol.Error{Cause: protocol.GetUserPosts{Handle: "alice"}, Message: "timeout"})
	assert.Equal(t, []protocol.Command{protocol.GetUserPosts{Handle: "alice"}}, ta.sent())
	assert.Equal(t, cache.Pending, ta.Store().UserPosts.Observe("alice").State)
}
