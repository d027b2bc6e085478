// Package httpapi exposes the event log, uploads and the realtime channel
// over HTTP.
package httpapi

import (
	"net/http"
	"time"

	"chaos-organizer/internal/blob"
	"chaos-organizer/internal/ingest"
	"chaos-organizer/internal/models"
	"chaos-organizer/internal/query"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const (
	errInvalidRequest = "Invalid request data"
	errNoFile         = "No file uploaded"
	errFileNotFound   = "File not found"
	errFileTooLarge   = "File too large"
	errPersist        = "Failed to persist event"
)

// Banner is the body served at the root path.
const Banner = "Welcome to Chaos Organizer!"

// FileIndex resolves the file event behind a stored blob.
type FileIndex interface {
	FindFile(name string) (models.Event, bool)
}

// Options configures the router.
type Options struct {
	MaxUploadSize  int64
	AllowedOrigins []string
}

// Server holds the handlers of the HTTP surface.
type Server struct {
	ingest *ingest.Service
	query  *query.Service
	blobs  blob.Store
	files  FileIndex
	ws     http.Handler
	opts   Options
}

func NewServer(in *ingest.Service, q *query.Service, blobs blob.Store, files FileIndex, ws http.Handler, opts Options) *Server {
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = 50 << 20
	}
	return &Server{
		ingest: in,
		query:  q,
		blobs:  blobs,
		files:  files,
		ws:     ws,
		opts:   opts,
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOriginFunc:  allowOrigin(s.opts.AllowedOrigins),
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	r.MaxMultipartMemory = 8 << 20

	r.GET("/", s.handleBanner)
	r.GET("/status", s.handleStatus)
	r.POST("/messages", s.handleCreateMessage)
	r.GET("/messages", s.handleListMessages)
	r.POST("/upload", s.handleUpload)
	r.GET("/uploads/:filename", s.handleServeUpload)
	r.GET("/download/:filename", s.handleDownload)
	if s.ws != nil {
		r.GET("/ws", gin.WrapH(s.ws))
	}
	return r
}

func allowOrigin(allowed []string) func(string) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(string) bool { return true }
		}
		set[origin] = struct{}{}
	}
	return func(origin string) bool {
		_, ok := set[origin]
		return ok
	}
}
