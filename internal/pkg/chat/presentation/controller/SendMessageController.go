package controller

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LTPPPP/BrainStormEra-v2-sub002/internal/pkg/chat/application/usecase"
	chat "github.com/LTPPPP/BrainStormEra-v2-sub002/internal/pkg/chat/domain"
	"github.com/LTPPPP/BrainStormEra-v2-sub002/internal/reliability"
)

// SendMessageController exposes the HTTP producer endpoint. A 202 means the
// message was accepted into the queue, not that it is persisted; delivery
// outcome arrives over the websocket.
type SendMessageController struct {
	sendMessageUC *usecase.SendMessageUseCase
}

func NewSendMessageController(uc *usecase.SendMessageUseCase) *SendMessageController {
	return &SendMessageController{sendMessageUC: uc}
}

type sendMessageRequest struct {
	SenderID         string  `json:"senderId" binding:"required"`
	ReceiverID       string  `json:"receiverId" binding:"required"`
	Content          string  `json:"content" binding:"required"`
	ReplyToMessageID *string `json:"replyToMessageId"`
}

func (ctl *SendMessageController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sendMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		msg, err := ctl.sendMessageUC.Execute(c.Request.Context(), usecase.SendMessageInput{
			SenderID:         req.SenderID,
			ReceiverID:       req.ReceiverID,
			Content:          req.Content,
			ReplyToMessageID: req.ReplyToMessageID,
		})
		switch {
		case errors.Is(err, chat.ErrEmptyContent),
			errors.Is(err, chat.ErrSameParty),
			errors.Is(err, chat.ErrMissingParty):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, reliability.ErrCircuitOpen):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "message queue temporarily unavailable"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue message"})
		default:
			c.JSON(http.StatusAccepted, gin.H{
				"messageId": msg.ID,
				"status":    "pending",
				"createdAt": msg.CreatedAt,
			})
		}
	}
}
