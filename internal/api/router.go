package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/steemit/redsky/internal/app"
	"github.com/steemit/redsky/internal/blobcache"
	"github.com/steemit/redsky/internal/cache"
	"github.com/steemit/redsky/internal/models"
	"github.com/steemit/redsky/pkg/logging"
)

// Interactor runs interactions against the App owned by the UI loop
type Interactor interface {
	Do(ctx context.Context, fn func(*app.App) error) error
	LastFrame() app.Frame
	Frames() uint64
}

// HealthChecker reports the health of a backing service
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Router sets up the control API routes
type Router struct {
	handler *JSONRPCHandler
	loop    Interactor
	blobs   HealthChecker
	logger  *zap.Logger
}

// NewRouter creates a new API router. blobs may be nil.
func NewRouter(loop Interactor, blobs HealthChecker) *Router {
	handler := NewJSONRPCHandler()
	router := &Router{
		handler: handler,
		loop:    loop,
		blobs:   blobs,
		logger:  logging.WithComponent("api-router"),
	}

	router.registerMethods()

	return router
}

// SetupRoutes sets up all API routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	// Health check endpoints
	engine.GET("/health", r.healthHandler)
	engine.GET("/.well-known/healthcheck.json", r.healthHandler)

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// JSON-RPC endpoint
	engine.POST("/", r.handler.Handle)
}

// registerMethods registers all API methods
func (r *Router) registerMethods() {
	// Session
	r.handler.RegisterMethod("client.login", r.login)
	r.handler.RegisterMethod("client.post", r.post)
	r.handler.RegisterMethod("client.select_view", r.selectView)
	r.handler.RegisterMethod("client.refresh_timeline", r.refreshTimeline)

	// Detail views
	r.handler.RegisterMethod("client.open_profile", r.openProfile)
	r.handler.RegisterMethod("client.close_profile", r.closeProfile)
	r.handler.RegisterMethod("client.open_thread", r.openThread)
	r.handler.RegisterMethod("client.close_thread", r.closeThread)
	r.handler.RegisterMethod("client.open_likers", r.openLikers)
	r.handler.RegisterMethod("client.close_likers", r.closeLikers)
	r.handler.RegisterMethod("client.open_image", r.openImage)
	r.handler.RegisterMethod("client.close_image", r.closeImage)

	// Inspection
	r.handler.RegisterMethod("client.state", r.state)
	r.handler.RegisterMethod("client.cache_stats", r.cacheStats)
}

// healthHandler handles health check requests
func (r *Router) healthHandler(c *gin.Context) {
	blobs := "disabled"
	if r.blobs != nil {
		switch err := r.blobs.Health(c.Request.Context()); {
		case err == nil:
			blobs = "ok"
		case errors.Is(err, blobcache.ErrCacheDisabled):
		default:
			r.logger.Warn("Blob cache unhealthy", zap.Error(err))
			blobs = "unavailable"
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "OK",
		"service":    "redsky",
		"frames":     r.loop.Frames(),
		"blob_cache": blobs,
	})
}

type okResult struct {
	OK bool `json:"ok"`
}

// do runs fn on the UI loop and answers {"ok": true} on success
func (r *Router) do(c *gin.Context, fn func(*app.App) error) (interface{}, error) {
	if err := r.loop.Do(c.Request.Context(), fn); err != nil {
		return nil, err
	}
	return okResult{OK: true}, nil
}

type loginParams struct {
	Login    string `json:"login" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (r *Router) login(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p loginParams
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	return r.do(c, func(a *app.App) error {
		return a.SubmitLogin(p.Login, p.Password)
	})
}

type postParams struct {
	Text string `json:"text" binding:"required"`
}

func (r *Router) post(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p postParams
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	return r.do(c, func(a *app.App) error {
		return a.SubmitPost(p.Text)
	})
}

type viewParams struct {
	View string `json:"view" binding:"required"`
}

func (r *Router) selectView(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p viewParams
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	v, err := app.ParseView(p.View)
	if err != nil {
		return nil, err
	}
	return r.do(c, func(a *app.App) error {
		return a.SelectView(v)
	})
}

func (r *Router) refreshTimeline(c *gin.Context, _ json.RawMessage) (interface{}, error) {
	return r.do(c, func(a *app.App) error {
		return a.RefreshTimeline()
	})
}

type handleParams struct {
	Handle string `json:"handle" binding:"required"`
}

func (r *Router) openProfile(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p handleParams
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	return r.do(c, func(a *app.App) error {
		return a.OpenProfile(p.Handle)
	})
}

func (r *Router) closeProfile(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p handleParams
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	return r.do(c, func(a *app.App) error {
		a.CloseProfile(p.Handle)
		return nil
	})
}

type refParams struct {
	URI string `json:"uri" binding:"required"`
	CID string `json:"cid"`
}

func (p refParams) ref() models.ContentRef {
	return models.ContentRef{URI: p.URI, CID: p.CID}
}

// withRef binds a content ref and runs fn with it on the UI loop
func (r *Router) withRef(c *gin.Context, params json.RawMessage, fn func(*app.App, models.ContentRef) error) (interface{}, error) {
	var p refParams
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	ref := p.ref()
	return r.do(c, func(a *app.App) error {
		return fn(a, ref)
	})
}

func (r *Router) openThread(c *gin.Context, params json.RawMessage) (interface{}, error) {
	return r.withRef(c, params, (*app.App).OpenThread)
}

func (r *Router) closeThread(c *gin.Context, params json.RawMessage) (interface{}, error) {
	return r.withRef(c, params, func(a *app.App, ref models.ContentRef) error {
		a.CloseThread(ref)
		return nil
	})
}

func (r *Router) openLikers(c *gin.Context, params json.RawMessage) (interface{}, error) {
	return r.withRef(c, params, (*app.App).OpenLikers)
}

func (r *Router) closeLikers(c *gin.Context, params json.RawMessage) (interface{}, error) {
	return r.withRef(c, params, func(a *app.App, ref models.ContentRef) error {
		a.CloseLikers(ref)
		return nil
	})
}

type imageParams struct {
	URI string `json:"uri" binding:"required"`
}

func (r *Router) openImage(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p imageParams
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	return r.do(c, func(a *app.App) error {
		return a.OpenImage(p.URI)
	})
}

func (r *Router) closeImage(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p imageParams
	if err := bindParams(params, &p); err != nil {
		return nil, err
	}
	return r.do(c, func(a *app.App) error {
		a.CloseImage(p.URI)
		return nil
	})
}

// state returns the last rendered frame
func (r *Router) state(_ *gin.Context, _ json.RawMessage) (interface{}, error) {
	return r.loop.LastFrame(), nil
}

// cacheStats reads the store on the UI loop, since only the loop may touch it
func (r *Router) cacheStats(c *gin.Context, _ json.RawMessage) (interface{}, error) {
	var stats cache.Stats
	err := r.loop.Do(c.Request.Context(), func(a *app.App) error {
		stats = a.Store().Stats()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}
