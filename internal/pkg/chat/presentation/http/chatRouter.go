package http

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	cacheport "github.com/LTPPPP/BrainStormEra-v2-sub002/internal/infrastructure/cache/port"
	"github.com/LTPPPP/BrainStormEra-v2-sub002/internal/infrastructure/realtime"
	"github.com/LTPPPP/BrainStormEra-v2-sub002/internal/pkg/chat/application/usecase"
	"github.com/LTPPPP/BrainStormEra-v2-sub002/internal/pkg/chat/presentation/controller"
)

// RegisterRoutes mounts the chat endpoints on the given group.
func RegisterRoutes(rg *gin.RouterGroup, hub *realtime.Hub, sendMessageUC *usecase.SendMessageUseCase, presence cacheport.Cache, logger *slog.Logger) {
	send := controller.NewSendMessageController(sendMessageUC)
	socket := controller.NewChatSocketController(hub, sendMessageUC, presence, logger)

	chatGroup := rg.Group("/chat")
	chatGroup.POST("/messages", send.Handle())
	chatGroup.GET("/ws", socket.Handle())
	chatGroup.GET("/users/:userID/presence", socket.Presence())
}
