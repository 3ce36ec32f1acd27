// Package api exposes the learn surface over HTTP: course metadata, the
// outline tree, SSE run streams, learner records and per-block actions.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/markdownflow/flowrun/pkg/config"
	"github.com/markdownflow/flowrun/pkg/database"
	"github.com/markdownflow/flowrun/pkg/models"
	"github.com/markdownflow/flowrun/pkg/outline"
	"github.com/markdownflow/flowrun/pkg/runner"
	"github.com/markdownflow/flowrun/pkg/services"
	"github.com/markdownflow/flowrun/pkg/tts"
)

// shifuStore loads course rows. *services.ShifuService satisfies it.
type shifuStore interface {
	GetShifu(ctx context.Context, shifuBID string, previewMode bool) (*models.Shifu, error)
}

// outlineStore loads structure snapshots and outline metadata.
// *services.OutlineService satisfies it.
type outlineStore interface {
	GetStructTree(ctx context.Context, shifuBID string, previewMode bool) (*outline.Node, error)
	OutlineMetas(ctx context.Context, shifuBID string, previewMode bool) (map[string]outline.Meta, error)
}

// progressStore reads and resets learner progress rows.
// *services.ProgressService satisfies it.
type progressStore interface {
	FindActiveProgress(ctx context.Context, userBID, outlineBID string) (*models.LearnProgressRecord, error)
	StatusByOutline(ctx context.Context, userBID, shifuBID string) (map[string]string, error)
	ResetActive(ctx context.Context, userBID string, outlineBIDs []string) (int64, error)
}

// blockStore reads and reacts to generated-block rows.
// *services.GeneratedService satisfies it.
type blockStore interface {
	Get(ctx context.Context, bid string) (*models.LearnGeneratedBlock, error)
	ListHistory(ctx context.Context, progressBID string) ([]*models.LearnGeneratedBlock, error)
	React(ctx context.Context, bid, action string) error
}

// audioStore reads finalised audio parts and persists on-demand synthesis.
// *services.AudioService satisfies it.
type audioStore interface {
	ListByBlock(ctx context.Context, generatedBlockBID string) ([]*models.LearnGeneratedAudio, error)
	tts.AudioStore
}

// runLocker serialises runs per learner and outline. *runner.Lock satisfies
// it.
type runLocker interface {
	Acquire(ctx context.Context, userBID, outlineBID string) (func(), error)
	Status(ctx context.Context, userBID, outlineBID string) (bool, int64, error)
}

// Stores bundles the service-layer surfaces the handlers read outside runs.
type Stores struct {
	Shifus   *services.ShifuService
	Outlines *services.OutlineService
	Progress *services.ProgressService
	Blocks   *services.GeneratedService
	Audio    *services.AudioService
}

// Server wires the HTTP surface to the stores and the run engine.
type Server struct {
	cfg *config.Config

	shifus   shifuStore
	outlines outlineStore
	progress progressStore
	blocks   blockStore
	audio    audioStore
	lock     runLocker

	// runDeps is handed to every runner built for a run request.
	runDeps runner.Deps

	db   *database.Client
	http *http.Server
}

// NewServer builds the gin engine and binds it to the configured port.
func NewServer(cfg *config.Config, db *database.Client, stores Stores, runDeps runner.Deps, lock *runner.Lock) *Server {
	s := &Server{
		cfg:      cfg,
		shifus:   stores.Shifus,
		outlines: stores.Outlines,
		progress: stores.Progress,
		blocks:   stores.Blocks,
		audio:    stores.Audio,
		lock:     lock,
		runDeps:  runDeps,
		db:       db,
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(), securityHeaders())
	s.RegisterRoutes(engine)

	s.http = &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: engine,
		// WriteTimeout stays zero: run responses are long-lived SSE streams.
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// RegisterRoutes mounts the learn surface under the configured path prefix.
func (s *Server) RegisterRoutes(engine *gin.Engine) {
	engine.GET("/health", s.healthHandler)

	learn := engine.Group(s.cfg.PathPrefix)
	learn.Use(requireUserBID())

	learn.GET("/shifu/:shifu_bid", s.getShifuHandler)
	learn.GET("/shifu/:shifu_bid/outline-item-tree", s.outlineTreeHandler)
	learn.PUT("/shifu/:shifu_bid/run/:outline_bid", s.runHandler)
	learn.GET("/shifu/:shifu_bid/run/:outline_bid", s.runStatusHandler)
	learn.GET("/shifu/:shifu_bid/records/:outline_bid", s.getRecordsHandler)
	learn.DELETE("/shifu/:shifu_bid/records/:outline_bid", s.resetRecordsHandler)
	learn.POST("/shifu/:shifu_bid/preview/:outline_bid", s.previewRunHandler)
	learn.GET("/shifu/:shifu_bid/generated-contents/:bid", s.getGeneratedBlockHandler)
	learn.POST("/shifu/:shifu_bid/generated-contents/:bid/:action", s.generatedActionHandler)
}

// Start serves requests until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
