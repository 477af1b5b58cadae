// Package bsky is the remote social-graph collaborator: a small XRPC client
// for a Bluesky PDS covering login, posting, feeds, profiles, threads, likes
// and plain blob downloads.
package bsky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/steemit/redsky/internal/blobcache"
	"github.com/steemit/redsky/internal/models"
	"github.com/steemit/redsky/pkg/config"
	"github.com/steemit/redsky/pkg/logging"
	"github.com/steemit/redsky/pkg/telemetry"
)

// ErrNotLoggedIn is wrapped by every authenticated call made before Login
var ErrNotLoggedIn = errors.New("not logged in")

// BlobStore caches downloaded blobs. *blobcache.Cache satisfies it, including
// a nil one.
type BlobStore interface {
	Get(ctx context.Context, uri string) (blobcache.Blob, error)
	Set(ctx context.Context, uri string, blob blobcache.Blob) error
}

type session struct {
	accessJwt  string
	refreshJwt string
	did        string
	handle     string
}

// Client is safe for concurrent use. The session is written only by Login;
// every other call reads it under the read lock.
type Client struct {
	host         string
	httpClient   *http.Client
	maxBlobBytes int64
	blobs        BlobStore
	logger       *zap.Logger

	mu      sync.RWMutex
	session *session
}

// New creates a new client for cfg.Host. blobs may be nil.
func New(cfg *config.BlueskyConfig, blobs BlobStore) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("bluesky_host is required")
	}
	if _, err := url.ParseRequestURI(cfg.Host); err != nil {
		return nil, fmt.Errorf("invalid bluesky_host: %w", err)
	}

	logger := logging.WithComponent("bsky-client")

	client := &Client{
		host: strings.TrimRight(cfg.Host, "/"),
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		maxBlobBytes: cfg.MaxBlobBytes,
		blobs:        blobs,
		logger:       logger,
	}

	logger.Info("Bluesky client initialized", zap.String("host", client.host))

	return client, nil
}

// Login creates a session and replaces the current one. It returns the
// handle the server resolved for identifier.
func (c *Client) Login(ctx context.Context, identifier, password string) (string, error) {
	const method = "com.atproto.server.createSession"
	ctx, span := c.startSpan(ctx, method)
	defer span.End()

	var resp createSessionResponse
	err := c.procedure(ctx, method, "", createSessionRequest{Identifier: identifier, Password: password}, &resp)
	if err != nil {
		return "", endSpan(span, fmt.Errorf("failed to login: %w", err))
	}
	if resp.AccessJwt == "" || resp.DID == "" {
		return "", endSpan(span, &Error{Kind: KindProtocolShape, Op: method, Message: "session without token or did"})
	}

	c.mu.Lock()
	c.session = &session{
		accessJwt:  resp.AccessJwt,
		refreshJwt: resp.RefreshJwt,
		did:        resp.DID,
		handle:     resp.Handle,
	}
	c.mu.Unlock()

	c.logger.Info("Session created", zap.String("handle", resp.Handle), zap.String("did", resp.DID))
	return resp.Handle, nil
}

// CreatePost publishes a text post in the session's repo
func (c *Client) CreatePost(ctx context.Context, text string) error {
	const method = "com.atproto.repo.createRecord"
	ctx, span := c.startSpan(ctx, method)
	defer span.End()

	s, err := c.current(method)
	if err != nil {
		return endSpan(span, err)
	}

	body := createRecordRequest{
		Repo:       s.did,
		Collection: typeFeedPost,
		Record: postRecord{
			Type:      typeFeedPost,
			Text:      text,
			CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		},
	}

	var resp createRecordResponse
	if err := c.procedure(ctx, method, s.accessJwt, body, &resp); err != nil {
		return endSpan(span, fmt.Errorf("failed to create post: %w", err))
	}

	c.logger.Debug("Post created", zap.String("uri", resp.URI))
	return nil
}

// GetTimeline fetches the first page of the home timeline
func (c *Client) GetTimeline(ctx context.Context, limit int) ([]models.Post, error) {
	const method = "app.bsky.feed.getTimeline"
	ctx, span := c.startSpan(ctx, method)
	defer span.End()

	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))

	var resp feedResponse
	if err := c.authQuery(ctx, method, params, &resp); err != nil {
		return nil, endSpan(span, fmt.Errorf("failed to get timeline: %w", err))
	}

	posts, err := convertFeed(method, resp.Feed)
	if err != nil {
		return nil, endSpan(span, err)
	}
	span.SetAttributes(attribute.Int("bsky.posts", len(posts)))
	return posts, nil
}

// GetAuthorFeed fetches the posts of handle, pinned post first
func (c *Client) GetAuthorFeed(ctx context.Context, handle string, limit int) ([]models.Post, error) {
	const method = "app.bsky.feed.getAuthorFeed"
	ctx, span := c.startSpan(ctx, method)
	defer span.End()
	span.SetAttributes(attribute.String("bsky.actor", handle))

	params := url.Values{}
	params.Set("actor", handle)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("includePins", "true")

	var resp feedResponse
	if err := c.authQuery(ctx, method, params, &resp); err != nil {
		return nil, endSpan(span, fmt.Errorf("failed to get author feed for %s: %w", handle, err))
	}

	posts, err := convertFeed(method, resp.Feed)
	if err != nil {
		return nil, endSpan(span, err)
	}
	span.SetAttributes(attribute.Int("bsky.posts", len(posts)))
	return posts, nil
}

// GetProfile fetches the profile of handle
func (c *Client) GetProfile(ctx context.Context, handle string) (models.UserProfile, error) {
	const method = "app.bsky.actor.getProfile"
	ctx, span := c.startSpan(ctx, method)
	defer span.End()
	span.SetAttributes(attribute.String("bsky.actor", handle))

	params := url.Values{}
	params.Set("actor", handle)

	var resp profileViewDetailed
	if err := c.authQuery(ctx, method, params, &resp); err != nil {
		return models.UserProfile{}, endSpan(span, fmt.Errorf("failed to get profile for %s: %w", handle, err))
	}
	if resp.Handle == "" {
		return models.UserProfile{}, endSpan(span, &Error{Kind: KindProtocolShape, Op: method, Message: "profile without handle"})
	}

	return convertProfileDetailed(resp), nil
}

// GetPostThread fetches ref and its replies up to depth levels, flattened in
// display order
func (c *Client) GetPostThread(ctx context.Context, ref models.ContentRef, depth int) (models.Thread, error) {
	const method = "app.bsky.feed.getPostThread"
	ctx, span := c.startSpan(ctx, method)
	defer span.End()
	span.SetAttributes(attribute.String("bsky.uri", ref.URI))

	params := url.Values{}
	params.Set("uri", ref.URI)
	params.Set("depth", strconv.Itoa(depth))

	var resp threadResponse
	if err := c.authQuery(ctx, method, params, &resp); err != nil {
		return models.Thread{}, endSpan(span, fmt.Errorf("failed to get thread %s: %w", ref.URI, err))
	}

	thread, err := convertThread(method, resp.Thread)
	if err != nil {
		return models.Thread{}, endSpan(span, err)
	}
	return thread, nil
}

// GetLikes fetches the accounts that liked ref
func (c *Client) GetLikes(ctx context.Context, ref models.ContentRef) ([]models.UserProfile, error) {
	const method = "app.bsky.feed.getLikes"
	ctx, span := c.startSpan(ctx, method)
	defer span.End()
	span.SetAttributes(attribute.String("bsky.uri", ref.URI))

	params := url.Values{}
	params.Set("uri", ref.URI)
	if ref.CID != "" {
		params.Set("cid", ref.CID)
	}

	var resp likesResponse
	if err := c.authQuery(ctx, method, params, &resp); err != nil {
		return nil, endSpan(span, fmt.Errorf("failed to get likes for %s: %w", ref.URI, err))
	}

	likers := make([]models.UserProfile, 0, len(resp.Likes))
	for _, l := range resp.Likes {
		likers = append(likers, convertProfile(l.Actor))
	}
	return likers, nil
}

// FetchBytes downloads the blob behind uri, consulting the blob cache first.
// Bodies larger than the configured maximum are rejected.
func (c *Client) FetchBytes(ctx context.Context, uri string) ([]byte, error) {
	const op = "fetch"
	ctx, span := c.startSpan(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.String("bsky.uri", uri))

	if c.blobs != nil {
		blob, err := c.blobs.Get(ctx, uri)
		switch {
		case err == nil:
			span.SetAttributes(attribute.Bool("bsky.blob_cache_hit", true))
			return blob.Data, nil
		case errors.Is(err, blobcache.ErrMiss), errors.Is(err, blobcache.ErrCacheDisabled):
		default:
			c.logger.Warn("Blob cache read failed", zap.String("uri", uri), zap.Error(err))
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, endSpan(span, &Error{Kind: KindNotFound, Op: op, Message: "invalid uri", Err: err})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, endSpan(span, newError(KindNetwork, op, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind := KindNetwork
		if resp.StatusCode == http.StatusNotFound {
			kind = KindNotFound
		}
		return nil, endSpan(span, &Error{Kind: kind, Op: op, Status: resp.StatusCode})
	}

	var body io.Reader = resp.Body
	if c.maxBlobBytes > 0 {
		body = io.LimitReader(resp.Body, c.maxBlobBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, endSpan(span, newError(KindNetwork, op, err))
	}
	if c.maxBlobBytes > 0 && int64(len(data)) > c.maxBlobBytes {
		return nil, endSpan(span, &Error{
			Kind:    KindProtocolShape,
			Op:      op,
			Message: fmt.Sprintf("blob exceeds %d bytes", c.maxBlobBytes),
		})
	}
	span.SetAttributes(attribute.Int("bsky.bytes", len(data)))

	if c.blobs != nil {
		blob := blobcache.Blob{
			ContentType: resp.Header.Get("Content-Type"),
			Data:        data,
			FetchedAt:   time.Now().Unix(),
		}
		if err := c.blobs.Set(ctx, uri, blob); err != nil && !errors.Is(err, blobcache.ErrCacheDisabled) {
			c.logger.Warn("Blob cache write failed", zap.String("uri", uri), zap.Error(err))
		}
	}

	return data, nil
}

func (c *Client) current(method string) (session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return session{}, newError(KindAuth, method, ErrNotLoggedIn)
	}
	return *c.session, nil
}

func (c *Client) authQuery(ctx context.Context, method string, params url.Values, out interface{}) error {
	s, err := c.current(method)
	if err != nil {
		return err
	}
	return c.query(ctx, method, s.accessJwt, params, out)
}

// query performs an XRPC GET
func (c *Client) query(ctx context.Context, method, token string, params url.Values, out interface{}) error {
	endpoint := c.host + "/xrpc/" + method
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return newError(KindNetwork, method, err)
	}
	return c.do(req, method, token, out)
}

// procedure performs an XRPC POST with a JSON body
func (c *Client) procedure(ctx context.Context, method, token string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/xrpc/"+method, bytes.NewReader(payload))
	if err != nil {
		return newError(KindNetwork, method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, method, token, out)
}

func (c *Client) do(req *http.Request, method, token string, out interface{}) error {
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return newError(KindNetwork, method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return newError(KindNetwork, method, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var xerr xrpcError
		_ = json.Unmarshal(raw, &xerr)
		msg := xerr.Message
		if xerr.Error != "" {
			msg = strings.TrimSpace(xerr.Error + " " + msg)
		}
		return &Error{
			Kind:    classify(resp.StatusCode, xerr.Error),
			Op:      method,
			Status:  resp.StatusCode,
			Message: msg,
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return newError(KindProtocolShape, method, err)
	}
	return nil
}

func (c *Client) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return telemetry.StartSpan(ctx, "bsky."+op)
}

// endSpan records err on span and returns it
func endSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
