package http

import (
	"errors"
	stdhttp "net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/quickchat/quickchat/internal/core"
	"github.com/quickchat/quickchat/internal/proto"
)

// APIHandlers provides the REST publish, history, and upload endpoints.
type APIHandlers struct {
	hub      *core.Hub
	uploader *Uploader
	log      *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(hub *core.Hub, uploader *Uploader, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{hub: hub, uploader: uploader, log: logger}
}

// PublishRequest is the JSON body for a REST publish.
type PublishRequest struct {
	Room       string            `json:"room"`
	Author     string            `json:"author"`
	Text       string            `json:"text"`
	Attachment *proto.Attachment `json:"attachment,omitempty"`
}

// PublishResponse wraps the authoritative message assigned by the broadcaster.
type PublishResponse struct {
	Message proto.Message `json:"message"`
}

// HistoryResponse is the room history REST payload.
type HistoryResponse struct {
	Room     string          `json:"room"`
	Messages []proto.Message `json:"messages"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// PublishMessage publishes a message into a room on behalf of an HTTP
// caller. Accepts JSON or multipart form data; a multipart request may carry
// an inline file which is stored first and attached as a reference.
// POST /api/messages
func (h *APIHandlers) PublishMessage(c *gin.Context) {
	var req PublishRequest

	contentType := c.ContentType()
	if strings.HasPrefix(contentType, "multipart/form-data") {
		req.Room = c.PostForm("room")
		req.Author = c.PostForm("author")
		req.Text = c.PostForm("text")

		if fh, err := c.FormFile("file"); err == nil {
			att, saveErr := h.uploader.Save(fh)
			if saveErr != nil {
				h.log.Warn().Err(saveErr).Str("filename", fh.Filename).Msg("failed to store inline upload")
				c.JSON(stdhttp.StatusBadRequest, ErrorResponse{Error: saveErr.Error()})
				return
			}
			req.Attachment = att
		}
	} else {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.log.Debug().Err(err).Msg("invalid publish request")
			c.JSON(stdhttp.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
			return
		}
	}

	msg, err := h.hub.Publish(c.Request.Context(), req.Room, req.Author, req.Text, req.Attachment.ToAttachment())
	if err != nil {
		var ce *core.CoreError
		if errors.As(err, &ce) {
			c.JSON(stdhttp.StatusBadRequest, ErrorResponse{Error: ce.Message})
			return
		}
		h.log.Error().Err(err).Str("room", req.Room).Msg("failed to publish message")
		c.JSON(stdhttp.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(stdhttp.StatusCreated, PublishResponse{Message: proto.FromMessage(msg, "")})
}

// RoomHistory returns the room's full ordered history. Unknown rooms yield
// an empty list, not an error.
// GET /api/rooms/:room/messages
func (h *APIHandlers) RoomHistory(c *gin.Context) {
	room := c.Param("room")

	history, err := h.hub.RoomHistory(c.Request.Context(), room)
	if err != nil {
		h.log.Error().Err(err).Str("room", room).Msg("failed to load history")
		c.JSON(stdhttp.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	messages := make([]proto.Message, 0, len(history))
	for _, msg := range history {
		messages = append(messages, proto.FromMessage(msg, ""))
	}
	c.JSON(stdhttp.StatusOK, HistoryResponse{Room: room, Messages: messages})
}

// Upload stores a raw file and returns its attachment reference.
// POST /api/upload
func (h *APIHandlers) Upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(stdhttp.StatusBadRequest, ErrorResponse{Error: "no file uploaded"})
		return
	}

	att, err := h.uploader.Save(fh)
	if err != nil {
		h.log.Warn().Err(err).Str("filename", fh.Filename).Msg("failed to store upload")
		c.JSON(stdhttp.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	h.log.Info().Str("filename", fh.Filename).Str("url", att.URL).Msg("file uploaded")
	c.JSON(stdhttp.StatusCreated, att)
}
