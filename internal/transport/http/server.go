package http

import (
	"fmt"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/quickchat/quickchat/internal/config"
	"github.com/quickchat/quickchat/internal/core"
)

// NewServer builds the HTTP server: websocket sync transport, REST publish
// and history endpoints, and the upload collaborator.
func NewServer(hub *core.Hub, cfg config.Config, logger *zerolog.Logger) (*stdhttp.Server, error) {
	uploader, err := NewUploader(cfg.UploadDir, cfg.MaxUploadBytes)
	if err != nil {
		return nil, fmt.Errorf("init uploader: %w", err)
	}

	api := NewAPIHandlers(hub, uploader, logger)
	ws := NewWSHandler(hub, cfg.MessageRateLimit, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(LoggerMiddleware(logger), gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})
	router.GET("/ws", gin.WrapH(ws))

	router.POST("/api/messages", api.PublishMessage)
	router.GET("/api/rooms/:room/messages", api.RoomHistory)
	router.POST("/api/upload", api.Upload)
	router.Static("/uploads", uploader.Dir())

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}, nil
}
