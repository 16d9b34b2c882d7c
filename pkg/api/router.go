// Package api is the thin gin-gonic HTTP adapter: capture, chunk and
// project reads, bulk operations, MCP tool invocation, the SSE event feed,
// and a health endpoint. It holds no business logic of its own — every
// handler delegates to a pkg/capture, pkg/bulkops, pkg/mcp, or pkg/storage
// collaborator and translates its error taxonomy into HTTP status codes.
package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/earchibald/komorebi-sub001/pkg/bulkops"
	"github.com/earchibald/komorebi-sub001/pkg/capture"
	"github.com/earchibald/komorebi-sub001/pkg/events"
	"github.com/earchibald/komorebi-sub001/pkg/llmclient"
	"github.com/earchibald/komorebi-sub001/pkg/mcp"
	"github.com/earchibald/komorebi-sub001/pkg/queue"
	"github.com/earchibald/komorebi-sub001/pkg/similarity"
	"github.com/earchibald/komorebi-sub001/pkg/storage"
)

// healthCheckTimeout bounds how long /healthz waits on the DB ping.
const healthCheckTimeout = 5 * time.Second

// Deps bundles every collaborator the router's handlers call into.
type Deps struct {
	Repo      storage.Repository
	Capture   *capture.Service
	Bulk      *bulkops.Service
	MCP       *mcp.Service
	Health    *mcp.HealthMonitor
	LLM       *llmclient.Client
	Bus       *events.Bus
	QueuePool *queue.WorkerPool
	Finder    *similarity.Finder
}

// NewRouter builds the gin engine with every route mounted.
func NewRouter(deps Deps) *gin.Engine {
	r := gin.Default()
	h := &handlers{deps: deps, logger: slog.Default().With("component", "api")}

	r.GET("/healthz", h.healthz)

	r.POST("/chunks", h.captureChunk)
	r.GET("/chunks", h.listChunks)
	r.GET("/chunks/:id", h.getChunk)
	r.GET("/chunks/:id/related", h.relatedChunks)
	r.GET("/chunks/search", h.searchChunks)

	r.POST("/projects", h.createProject)
	r.GET("/projects", h.listProjects)
	r.GET("/projects/:id", h.getProject)

	r.POST("/bulk/tag", h.bulkTag)
	r.POST("/bulk/archive", h.bulkArchive)
	r.POST("/bulk/delete", h.bulkDelete)
	r.POST("/bulk/restore", h.bulkRestore)
	r.POST("/bulk/:action_id/undo", h.bulkUndo)

	r.GET("/mcp/tools", h.listTools)
	r.POST("/mcp/:server/tools/:tool", h.callTool)

	r.GET("/events", h.streamEvents)

	return r
}

type handlers struct {
	deps   Deps
	logger *slog.Logger
}

