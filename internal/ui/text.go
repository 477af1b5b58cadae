package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/steemit/redsky/internal/app"
)

// TextRenderer writes a plain-text summary of each frame to w, skipping
// frames whose summary did not change
type TextRenderer struct {
	mu   sync.Mutex
	w    io.Writer
	prev string
}

// NewTextRenderer creates a renderer writing to w
func NewTextRenderer(w io.Writer) *TextRenderer {
	return &TextRenderer{w: w}
}

// Render implements Renderer
func (r *TextRenderer) Render(f app.Frame) error {
	text := Summarize(f)

	r.mu.Lock()
	defer r.mu.Unlock()
	if text == r.prev {
		return nil
	}
	r.prev = text
	_, err := io.WriteString(r.w, text)
	return err
}

// Summarize renders a frame as text
func Summarize(f app.Frame) string {
	var b strings.Builder

	switch {
	case f.LoggedIn:
		fmt.Fprintf(&b, "== %s · @%s", f.View, f.LoginName)
	case f.LoginPending:
		fmt.Fprintf(&b, "== %s · logging in as %s", f.View, f.LoginName)
	default:
		fmt.Fprintf(&b, "== %s", f.View)
	}
	if f.TimelineRefreshing {
		b.WriteString(" · refreshing")
	}
	if f.PostsPending > 0 {
		fmt.Fprintf(&b, " · posting %d", f.PostsPending)
	}
	b.WriteString("\n")

	if f.OwnPosts != nil {
		writePosts(&b, "my posts", *f.OwnPosts)
	}
	for _, p := range f.Timeline {
		writePost(&b, "  ", p)
	}

	for _, p := range f.Profiles {
		fmt.Fprintf(&b, "-- profile @%s [%s]", p.Handle, stateText(p.Slot))
		if p.Profile != nil {
			fmt.Fprintf(&b, " %s · %d followers · %d following · %d posts",
				p.Profile.Name(), p.Profile.FollowerCount, p.Profile.FollowCount, p.Profile.PostCount)
		}
		b.WriteString("\n")
		writePosts(&b, "posts", p.Posts)
	}

	for _, t := range f.Threads {
		fmt.Fprintf(&b, "-- thread %s [%s]\n", t.Ref.URI, stateText(t.Slot))
		if t.Post != nil {
			writePost(&b, "  ", *t.Post)
		}
		for _, r := range t.Replies {
			writePost(&b, "    ", r)
		}
	}

	for _, l := range f.Likers {
		fmt.Fprintf(&b, "-- likers %s [%s]\n", l.Ref.URI, stateText(l.Slot))
		for _, u := range l.Likers {
			fmt.Fprintf(&b, "  %s (@%s)\n", u.Name(), u.Handle)
		}
	}

	for _, img := range f.Images {
		fmt.Fprintf(&b, "-- image %s [%s] %d bytes\n", img.URI, img.State, img.Bytes)
	}

	for _, n := range f.Notices {
		fmt.Fprintf(&b, "!! %s\n", n)
	}
	return b.String()
}

func writePosts(b *strings.Builder, title string, posts app.PostsFrame) {
	fmt.Fprintf(b, "-- %s [%s]\n", title, stateText(posts.Slot))
	for _, p := range posts.Posts {
		writePost(b, "  ", p)
	}
}

func writePost(b *strings.Builder, indent string, p app.PostFrame) {
	fmt.Fprintf(b, "%s%s (@%s) %s\n", indent, p.Author, p.Handle, p.CreatedAt.Format("2006-01-02 15:04"))
	for _, line := range strings.Split(p.Text, "\n") {
		fmt.Fprintf(b, "%s  %s\n", indent, line)
	}
	if len(p.Images) > 0 {
		loaded := 0
		for _, img := range p.Images {
			if img.State == "loaded" {
				loaded++
			}
		}
		fmt.Fprintf(b, "%s  [%d/%d images]\n", indent, loaded, len(p.Images))
	}
	if p.Quote != nil {
		writePost(b, indent+"  > ", *p.Quote)
	}
	fmt.Fprintf(b, "%s  ♥ %d  ⟲ %d  ↩ %d\n", indent, p.Likes, p.Reposts, p.Replies)
}

func stateText(s app.Slot) string {
	if s.Error != "" {
		return s.State + ": " + s.Error
	}
	return s.State
}
