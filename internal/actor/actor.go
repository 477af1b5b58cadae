// Package actor runs network jobs on behalf of the UI. Every Command read
// from the command queue becomes one goroutine calling the remote API, and
// every such job delivers exactly one Event. The UI never waits on a job.
package actor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/steemit/redsky/internal/models"
	"github.com/steemit/redsky/internal/protocol"
	"github.com/steemit/redsky/pkg/config"
	"github.com/steemit/redsky/pkg/logging"
	"github.com/steemit/redsky/pkg/telemetry"
)

// API is the remote capability surface jobs call. Implementations must be
// safe for concurrent use; *bsky.Client is the production one.
type API interface {
	Login(ctx context.Context, identifier, password string) (string, error)
	CreatePost(ctx context.Context, text string) error
	GetTimeline(ctx context.Context, limit int) ([]models.Post, error)
	GetAuthorFeed(ctx context.Context, handle string, limit int) ([]models.Post, error)
	GetProfile(ctx context.Context, handle string) (models.UserProfile, error)
	GetPostThread(ctx context.Context, ref models.ContentRef, depth int) (models.Thread, error)
	GetLikes(ctx context.Context, ref models.ContentRef) ([]models.UserProfile, error)
	FetchBytes(ctx context.Context, uri string) ([]byte, error)
}

// Waker asks the UI loop to run a frame soon. Wake is called from job
// goroutines and must not block.
type Waker interface {
	Wake()
}

// WakeFunc adapts a function to Waker
type WakeFunc func()

// Wake calls f
func (f WakeFunc) Wake() { f() }

// Options tunes the jobs
type Options struct {
	// JobTimeout bounds one job; zero means no deadline
	JobTimeout      time.Duration
	TimelineLimit   int
	AuthorFeedLimit int
	ThreadDepth     int
}

// OptionsFromConfig builds Options from the loaded configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		JobTimeout:      cfg.Actor.JobTimeout,
		TimelineLimit:   cfg.Bluesky.TimelineLimit,
		AuthorFeedLimit: cfg.Bluesky.AuthorFeedLimit,
		ThreadDepth:     cfg.Bluesky.ThreadDepth,
	}
}

// Dispatcher reads Commands and spawns one job per Command
type Dispatcher struct {
	api      API
	commands <-chan protocol.Command
	events   chan<- protocol.Event
	waker    Waker
	opts     Options
	logger   *zap.Logger
	metrics  *jobMetrics

	wg sync.WaitGroup
}

// New creates a dispatcher. waker may be nil.
func New(api API, commands <-chan protocol.Command, events chan<- protocol.Event, waker Waker, opts Options) *Dispatcher {
	if waker == nil {
		waker = WakeFunc(func() {})
	}
	logger := logging.WithComponent("actor")
	return &Dispatcher{
		api:      api,
		commands: commands,
		events:   events,
		waker:    waker,
		opts:     opts,
		logger:   logger,
		metrics:  newJobMetrics(logger),
	}
}

// Run is the receive loop. It returns nil on Close or when the command queue
// is closed, and ctx.Err() when ctx is cancelled. Jobs already spawned are
// not cancelled and keep running after Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("Actor started")

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Actor stopped", zap.Error(ctx.Err()))
			return ctx.Err()
		case cmd, ok := <-d.commands:
			if !ok {
				d.logger.Info("Command queue closed, actor stopped")
				return nil
			}
			if _, isClose := cmd.(protocol.Close); isClose {
				d.logger.Info("Close received, actor stopped")
				return nil
			}
			d.spawn(cmd)
		}
	}
}

// Wait blocks until every spawned job has delivered its Event
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) spawn(cmd protocol.Command) {
	id := uuid.NewString()
	d.wg.Add(1)
	d.metrics.jobStarted(context.Background(), cmd.Kind())

	go func() {
		defer d.wg.Done()
		d.runJob(id, cmd)
	}()
}

func (d *Dispatcher) runJob(id string, cmd protocol.Command) {
	logger := d.logger.With(zap.String("job_id", id), zap.String("command", cmd.Kind()))
	if key := protocol.Key(cmd); key != "" {
		logger = logger.With(zap.String("key", key))
	}
	logger.Debug("Job started")

	ctx, cancel := d.jobContext()
	defer cancel()

	ctx, span := telemetry.StartSpan(ctx, "actor."+cmd.Kind())
	span.SetAttributes(attribute.String("job.id", id))

	start := time.Now()
	ev := d.execute(ctx, cmd)
	elapsed := time.Since(start)

	outcome := outcomeOK
	if failed, ok := ev.(protocol.Error); ok {
		outcome = outcomeError
		span.SetStatus(codes.Error, failed.Message)
		logger.Warn("Job failed", zap.String("error", failed.Message), zap.Duration("elapsed", elapsed))
	} else {
		logger.Debug("Job finished", zap.String("event", ev.Kind()), zap.Duration("elapsed", elapsed))
	}
	span.End()

	// The event is delivered even when the job's own deadline has passed.
	d.events <- ev
	d.metrics.jobFinished(context.Background(), cmd.Kind(), outcome, time.Since(start))
	d.waker.Wake()
}

func (d *Dispatcher) jobContext() (context.Context, context.CancelFunc) {
	if d.opts.JobTimeout > 0 {
		return context.WithTimeout(context.Background(), d.opts.JobTimeout)
	}
	return context.WithCancel(context.Background())
}

// execute performs the remote call for cmd and maps its outcome to an Event.
// A panic inside the call becomes an Error event.
func (d *Dispatcher) execute(ctx context.Context, cmd protocol.Command) (ev protocol.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Job panicked", zap.String("command", cmd.Kind()), zap.Any("panic", r))
			ev = failure(cmd, fmt.Errorf("internal error: %v", r))
		}
	}()

	switch c := cmd.(type) {
	case protocol.Login:
		handle, err := d.api.Login(ctx, c.Login, c.Password)
		if err != nil {
			return failure(cmd, err)
		}
		return protocol.LoginSucceeded{Handle: handle}

	case protocol.Post:
		if err := d.api.CreatePost(ctx, c.Text); err != nil {
			return failure(cmd, err)
		}
		return protocol.PostSucceeded{}

	case protocol.GetTimeline:
		posts, err := d.api.GetTimeline(ctx, d.opts.TimelineLimit)
		if err != nil {
			return failure(cmd, err)
		}
		return protocol.TimelineRefreshed{Posts: posts}

	case protocol.GetUserPosts:
		posts, err := d.api.GetAuthorFeed(ctx, c.Handle, d.opts.AuthorFeedLimit)
		if err != nil {
			return failure(cmd, err)
		}
		return protocol.UserPostsLoaded{Handle: c.Handle, Posts: posts}

	case protocol.GetUserProfile:
		profile, err := d.api.GetProfile(ctx, c.Handle)
		if err != nil {
			return failure(cmd, err)
		}
		return protocol.UserProfileLoaded{Handle: c.Handle, Profile: profile}

	case protocol.GetPostThread:
		thread, err := d.api.GetPostThread(ctx, c.Ref, d.opts.ThreadDepth)
		if err != nil {
			return failure(cmd, err)
		}
		return protocol.PostThreadLoaded{Ref: c.Ref, Post: thread.Post, Replies: thread.Replies}

	case protocol.GetPostLikers:
		likers, err := d.api.GetLikes(ctx, c.Ref)
		if err != nil {
			return failure(cmd, err)
		}
		return protocol.PostLikersLoaded{Ref: c.Ref, Likers: likers}

	case protocol.LoadImage:
		data, err := d.api.FetchBytes(ctx, c.URI)
		if err != nil {
			return failure(cmd, err)
		}
		return protocol.ImageLoaded{URI: c.URI, Bytes: data}
	}

	return failure(cmd, fmt.Errorf("unsupported command %q", cmd.Kind()))
}

// failure builds the Error event for cmd. The password of a failed Login
// never leaves the job.
func failure(cmd protocol.Command, err error) protocol.Event {
	if login, ok := cmd.(protocol.Login); ok {
		login.Password = ""
		cmd = login
	}
	return protocol.Error{Cause: cmd, Message: err.Error()}
}
