package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/inkwellhq/inkwell-sync/internal/protocol"
	"github.com/inkwellhq/inkwell-sync/internal/rooms"
)

var syncUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Token auth happens in the middleware; browser origins vary by deployment.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleSyncSocket upgrades an authorized request to a websocket and binds
// the connection to its room. The socket speaks the binary frame protocol:
// tag 0 carries document sync payloads, tag 1 carries presence.
func (h *httpHandler) handleSyncSocket(c *gin.Context) {
	roomName := strings.TrimSpace(c.Query("room"))
	if roomName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_room"})
		return
	}
	userID := c.GetString(userIDContextKey)

	conn, err := syncUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("room", roomName),
			zap.Error(err))
		return
	}

	room, member, err := h.rooms.Connect(c.Request.Context(), roomName, userID)
	if err != nil {
		h.logger.Warn("room join failed",
			zap.String("room", roomName),
			zap.Error(err))
		_ = conn.Close()
		return
	}

	h.logger.Info("client connected",
		zap.String("room", roomName),
		zap.String("user_id", userID),
		zap.Int("connections", room.ConnectionCount()))

	go writeFrames(conn, member)
	h.readFrames(conn, room, member, roomName)
}

// writeFrames drains the member's outbound queue onto the socket. It exits
// when Leave closes the queue or when the peer stops accepting writes.
func writeFrames(conn *websocket.Conn, member *rooms.Member) {
	for frame := range member.Frames() {
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readFrames pumps inbound frames into the room until the transport fails.
// Malformed frames are logged and skipped so one bad client message cannot
// tear down the membership.
func (h *httpHandler) readFrames(conn *websocket.Conn, room *rooms.Room, member *rooms.Member, roomName string) {
	defer func() {
		room.Leave(member)
		_ = conn.Close()
		h.logger.Info("client disconnected",
			zap.String("room", roomName),
			zap.Int("connections", room.ConnectionCount()))
	}()

	for {
		kind, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.BinaryMessage {
			h.logger.Warn("dropping non-binary frame", zap.String("room", roomName))
			continue
		}

		tag, payload, err := protocol.DecodeFrame(frame)
		if err != nil {
			h.logger.Warn("dropping malformed frame",
				zap.String("room", roomName),
				zap.Error(err))
			continue
		}

		switch tag {
		case protocol.MessageSync:
			if err := room.HandleSync(member, payload); err != nil {
				h.logger.Warn("sync payload rejected",
					zap.String("room", roomName),
					zap.Error(err))
			}
		case protocol.MessageAwareness:
			if err := room.HandleAwareness(member, payload); err != nil {
				h.logger.Warn("awareness payload rejected",
					zap.String("room", roomName),
					zap.Error(err))
			}
		}
	}
}
