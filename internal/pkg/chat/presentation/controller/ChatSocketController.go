package controller

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	cacheport "github.com/LTPPPP/BrainStormEra-v2-sub002/internal/infrastructure/cache/port"
	"github.com/LTPPPP/BrainStormEra-v2-sub002/internal/infrastructure/realtime"
	"github.com/LTPPPP/BrainStormEra-v2-sub002/internal/pkg/chat/application/usecase"
	chat "github.com/LTPPPP/BrainStormEra-v2-sub002/internal/pkg/chat/domain"
)

const (
	defaultReadTimeout = 60 * time.Second
	onlineKeyPrefix    = "chat:online:"

	// presenceTTL outlives one ping round-trip; the pong handler refreshes it,
	// so a crashed process leaves no user marked online past the TTL.
	presenceTTL = 90 * time.Second
)

// ChatSocketController handles the websocket endpoint. Inbound "message"
// frames are enqueued through the producer use case; everything the client
// receives back (pending, delivered, confirmed) arrives through the hub.
type ChatSocketController struct {
	hub           *realtime.Hub
	sendMessageUC *usecase.SendMessageUseCase
	presence      cacheport.Cache
	logger        *slog.Logger
}

func NewChatSocketController(hub *realtime.Hub, uc *usecase.SendMessageUseCase, presence cacheport.Cache, logger *slog.Logger) *ChatSocketController {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatSocketController{
		hub:           hub,
		sendMessageUC: uc,
		presence:      presence,
		logger:        logger,
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for now; plug a proper checker when auth is added.
		return true
	},
}

type inboundFrame struct {
	Type             string  `json:"type"`
	ReceiverID       string  `json:"receiverId,omitempty"`
	Content          string  `json:"content,omitempty"`
	ReplyToMessageID *string `json:"replyToMessageId,omitempty"`
}

type errorFrame struct {
	Event string `json:"event"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

// Handle upgrades the connection and pumps frames until the client leaves.
func (ctl *ChatSocketController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
			return
		}

		ws, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already wrote the response.
			return
		}

		conn := realtime.NewConnection(userID, ws)
		ctl.hub.Attach(conn)
		ctl.markOnline(c.Request.Context(), userID)
		defer func() {
			ctl.hub.Detach(conn)
			ctl.markOffline(userID)
			conn.Close(websocket.CloseNormalClosure, "session closed")
		}()

		ws.SetReadLimit(1 << 20) // 1MB payload cap
		_ = ws.SetReadDeadline(time.Now().Add(defaultReadTimeout))
		ws.SetPongHandler(func(string) error {
			ctl.markOnline(c.Request.Context(), userID)
			return ws.SetReadDeadline(time.Now().Add(defaultReadTimeout))
		})

		_ = ctl.hub.PushToUser(userID, "connected", gin.H{"sessionId": conn.ID})

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
					ctl.logger.Debug("websocket read ended", "userId", userID, "error", err)
				}
				return
			}
			_ = ws.SetReadDeadline(time.Now().Add(defaultReadTimeout))

			var frame inboundFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				ctl.replyError(conn, "bad_request", "invalid payload")
				continue
			}

			switch frame.Type {
			case "message":
				ctl.handleMessage(c.Request.Context(), conn, userID, frame)
			default:
				ctl.replyError(conn, "unsupported_type", "unknown frame type")
			}
		}
	}
}

// Presence reports whether a user is currently online. The shared presence
// keys let any instance answer for users attached elsewhere; without a cache
// only the local hub is consulted.
func (ctl *ChatSocketController) Presence() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userID")
		if ctl.presence == nil {
			c.JSON(http.StatusOK, gin.H{"userId": userID, "online": ctl.hub.Online(userID)})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		since, err := ctl.presence.Get(ctx, onlineKeyPrefix+userID)
		switch {
		case errors.Is(err, cacheport.ErrMiss):
			c.JSON(http.StatusOK, gin.H{"userId": userID, "online": false})
		case err != nil:
			ctl.logger.Warn("presence get failed", "userId", userID, "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence backend unavailable"})
		default:
			c.JSON(http.StatusOK, gin.H{"userId": userID, "online": true, "since": since})
		}
	}
}

func (ctl *ChatSocketController) handleMessage(ctx context.Context, conn *realtime.Connection, userID string, frame inboundFrame) {
	_, err := ctl.sendMessageUC.Execute(ctx, usecase.SendMessageInput{
		SenderID:         userID,
		ReceiverID:       frame.ReceiverID,
		Content:          frame.Content,
		ReplyToMessageID: frame.ReplyToMessageID,
	})
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyContent), errors.Is(err, chat.ErrSameParty), errors.Is(err, chat.ErrMissingParty):
			ctl.replyError(conn, "bad_request", err.Error())
		default:
			ctl.replyError(conn, "enqueue_failed", "message could not be queued")
		}
	}
	// Acknowledgment arrives via the producer's pending push.
}

func (ctl *ChatSocketController) replyError(conn *realtime.Connection, code, msg string) {
	payload, err := json.Marshal(errorFrame{Event: "error", Code: code, Error: msg})
	if err != nil {
		return
	}
	_ = conn.Send(payload)
}

func (ctl *ChatSocketController) markOnline(ctx context.Context, userID string) {
	if ctl.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := ctl.presence.Set(ctx, onlineKeyPrefix+userID, time.Now().UTC().Format(time.RFC3339), presenceTTL); err != nil {
		ctl.logger.Warn("presence set failed", "userId", userID, "error", err)
	}
}

func (ctl *ChatSocketController) markOffline(userID string) {
	if ctl.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := ctl.presence.Del(ctx, onlineKeyPrefix+userID); err != nil {
		ctl.logger.Warn("presence del failed", "userId", userID, "error", err)
	}
}
