package httpapi

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"chaos-organizer/internal/models"
	"chaos-organizer/internal/query"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
)

func (s *Server) handleBanner(c *gin.Context) {
	c.String(http.StatusOK, Banner)
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "Server is running!"})
}

func (s *Server) handleCreateMessage(c *gin.Context) {
	var sub models.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		slog.Debug("[HTTP] Rejected message body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidRequest})
		return
	}

	ev, err := s.ingest.SubmitMessage(c.Request.Context(), sub)
	if err != nil {
		s.writeError(c, err, errInvalidRequest)
		return
	}
	c.JSON(http.StatusCreated, ev)
}

func (s *Server) handleListMessages(c *gin.Context) {
	offset, limit := query.ParsePage(c.Query("offset"), c.Query("limit"))
	c.JSON(http.StatusOK, s.query.Page(offset, limit))
}

func (s *Server) handleUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUploadSize)

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": errFileTooLarge})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": errNoFile})
		return
	}

	f, err := header.Open()
	if err != nil {
		slog.Error("[HTTP] Failed to open upload", "file", header.Filename, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": errNoFile})
		return
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		slog.Error("[HTTP] Failed to read upload", "file", header.Filename, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": errNoFile})
		return
	}

	ev, err := s.ingest.SubmitUpload(c.Request.Context(), models.Upload{
		OriginalName: header.Filename,
		MimeType:     contentType(header.Header.Get("Content-Type"), data),
		Size:         header.Size,
		Data:         data,
	})
	if err != nil {
		s.writeError(c, err, errNoFile)
		return
	}
	c.JSON(http.StatusCreated, ev)
}

func (s *Server) handleServeUpload(c *gin.Context) {
	name := c.Param("filename")
	obj, err := s.blobs.Retrieve(c.Request.Context(), name)
	if err != nil {
		s.writeError(c, err, errFileNotFound)
		return
	}
	defer obj.Close()

	c.DataFromReader(http.StatusOK, obj.Size, "application/octet-stream", obj, nil)
}

func (s *Server) handleDownload(c *gin.Context) {
	name := c.Param("filename")
	obj, err := s.blobs.Retrieve(c.Request.Context(), name)
	if err != nil {
		s.writeError(c, err, errFileNotFound)
		return
	}
	defer obj.Close()

	downloadName, mimeType := name, "application/octet-stream"
	if ev, ok := s.files.FindFile(name); ok {
		if ev.OriginalName != "" {
			downloadName = ev.OriginalName
		}
		if ev.MimeType != "" {
			mimeType = ev.MimeType
		}
	}

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": downloadName})
	if disposition == "" {
		disposition = "attachment"
	}
	c.DataFromReader(http.StatusOK, obj.Size, mimeType, obj, map[string]string{
		"Content-Disposition": disposition,
	})
}

// writeError maps domain errors to a status code and JSON body. badRequest is
// the message used for validation failures on this route.
func (s *Server) writeError(c *gin.Context, err error, badRequest string) {
	var (
		invalid  *models.ValidationError
		notFound *models.NotFoundError
		persist  *models.PersistenceError
	)
	switch {
	case errors.As(err, &invalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": badRequest})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": errFileNotFound})
	case errors.As(err, &persist):
		c.JSON(http.StatusInternalServerError, gin.H{"error": errPersist})
	default:
		slog.Error("[HTTP] Request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// contentType prefers the client-declared type and sniffs the payload when
// none, or only the generic binary type, was sent.
func contentType(declared string, data []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return mimetype.Detect(data).String()
}
