package v1

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	cacheport "github.com/LTPPPP/BrainStormEra-v2-sub002/internal/infrastructure/cache/port"
	"github.com/LTPPPP/BrainStormEra-v2-sub002/internal/infrastructure/realtime"
	"github.com/LTPPPP/BrainStormEra-v2-sub002/internal/pkg/chat/application/usecase"
	httpHandler "github.com/LTPPPP/BrainStormEra-v2-sub002/internal/pkg/chat/presentation/http"
)

// RegisterRoutes mounts all version 1 API routes under /api/v1
func RegisterRoutes(r *gin.Engine, hub *realtime.Hub, sendMessageUC *usecase.SendMessageUseCase, presence cacheport.Cache, logger *slog.Logger) {
	v1 := r.Group("/api/v1")
	httpHandler.RegisterRoutes(v1, hub, sendMessageUC, presence, logger)
}
