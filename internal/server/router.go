package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/inkwellhq/inkwell-sync/internal/notes"
	"github.com/inkwellhq/inkwell-sync/internal/rooms"
)

const (
	userIDContextKey = "inkwell_user_id"
	serviceName      = "inkwell-sync"
	serviceVersion   = "1.0.0"
)

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingNotesService  = errors.New("notes service dependency required")
	errMissingRoomRegistry  = errors.New("room registry dependency required")
	errInvalidAuthorization = errors.New("authorization credentials missing or invalid")
)

type TokenManager interface {
	ValidateToken(token string) (string, error)
}

type Dependencies struct {
	TokenManager TokenManager
	NotesService *notes.Service
	Rooms        *rooms.Registry
	Logger       *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.NotesService == nil {
		return nil, errMissingNotesService
	}
	if deps.Rooms == nil {
		return nil, errMissingRoomRegistry
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:       deps.TokenManager,
		notesService: deps.NotesService,
		rooms:        deps.Rooms,
		logger:       logger,
	}

	router.GET("/", handler.handleHealth)
	router.GET("/api/rooms", handler.handleListRooms)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/notes/sync", handler.handleNotesSync)
	protected.GET("/sync", handler.handleSyncSocket)

	return router, nil
}

type httpHandler struct {
	tokens       TokenManager
	notesService *notes.Service
	rooms        *rooms.Registry
	logger       *zap.Logger
}

type healthResponsePayload struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	ActiveRooms int    `json:"active_rooms"`
	Version     string `json:"version"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponsePayload{
		Status:      "ok",
		Service:     serviceName,
		ActiveRooms: h.rooms.Len(),
		Version:     serviceVersion,
	})
}

type roomInfoPayload struct {
	ID                 string `json:"id"`
	Connections        int    `json:"connections"`
	LastUpdatedSeconds int64  `json:"last_updated_s"`
}

func (h *httpHandler) handleListRooms(c *gin.Context) {
	infos := h.rooms.List()
	payload := make([]roomInfoPayload, 0, len(infos))
	for _, info := range infos {
		payload = append(payload, roomInfoPayload{
			ID:                 info.ID,
			Connections:        info.Connections,
			LastUpdatedSeconds: info.LastUpdated.Unix(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"rooms": payload})
}

type syncRequestPayload struct {
	Operations []syncOperationPayload `json:"operations"`
}

type syncOperationPayload struct {
	NoteID           string   `json:"note_id"`
	Operation        string   `json:"operation"`
	NoteType         string   `json:"note_type"`
	Content          string   `json:"content"`
	Tags             []string `json:"tags"`
	Category         string   `json:"category"`
	Archived         bool     `json:"archived"`
	CreatedAtSeconds int64    `json:"created_at_s"`
	UpdatedAtSeconds int64    `json:"updated_at_s"`
}

type syncResponsePayload struct {
	Results []syncResultPayload `json:"results"`
	Notes   []notePayload       `json:"notes"`
}

type syncResultPayload struct {
	NoteID   string `json:"note_id"`
	Accepted bool   `json:"accepted"`
	Version  int64  `json:"version"`
}

type notePayload struct {
	NoteID           string   `json:"note_id"`
	NoteType         string   `json:"note_type"`
	Content          string   `json:"content"`
	Tags             []string `json:"tags"`
	Category         string   `json:"category"`
	Archived         bool     `json:"archived"`
	IsDeleted        bool     `json:"is_deleted"`
	CreatedAtSeconds int64    `json:"created_at_s"`
	UpdatedAtSeconds int64    `json:"updated_at_s"`
	Version          int64    `json:"version"`
}

func encodeNotePayload(note notes.Note) notePayload {
	tags := note.Tags()
	if tags == nil {
		tags = []string{}
	}
	return notePayload{
		NoteID:           note.NoteID,
		NoteType:         note.NoteType,
		Content:          note.Content,
		Tags:             tags,
		Category:         note.Category,
		Archived:         note.Archived,
		IsDeleted:        note.IsDeleted,
		CreatedAtSeconds: note.CreatedAtSeconds,
		UpdatedAtSeconds: note.UpdatedAtSeconds,
		Version:          note.Version,
	}
}

// handleNotesSync applies a batch of queued client writes and replies with
// the full authoritative note list so the caller can reconcile in one round
// trip, stale submissions included.
func (h *httpHandler) handleNotesSync(c *gin.Context) {
	userIDValue := c.GetString(userIDContextKey)
	userID, err := notes.NewUserID(userIDValue)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request syncRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	changes := make([]notes.ChangeRequest, 0, len(request.Operations))
	for _, op := range request.Operations {
		opType, err := parseOperation(op.Operation)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_operation"})
			return
		}
		noteID, err := notes.NewNoteID(op.NoteID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_note_id"})
			return
		}
		changes = append(changes, notes.ChangeRequest{
			NoteID:           noteID,
			Operation:        opType,
			NoteType:         op.NoteType,
			Content:          op.Content,
			Tags:             op.Tags,
			Category:         op.Category,
			Archived:         op.Archived,
			CreatedAtSeconds: op.CreatedAtSeconds,
			UpdatedAtSeconds: op.UpdatedAtSeconds,
		})
	}

	result, err := h.notesService.ApplyChanges(c.Request.Context(), userID, changes)
	if err != nil {
		h.logger.Error("failed to apply note changes", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync_failed"})
		return
	}

	response := syncResponsePayload{
		Results: make([]syncResultPayload, 0, len(result.ChangeOutcomes)),
		Notes:   make([]notePayload, 0, len(result.Notes)),
	}
	for _, outcome := range result.ChangeOutcomes {
		response.Results = append(response.Results, syncResultPayload{
			NoteID:   outcome.Outcome.UpdatedNote.NoteID,
			Accepted: outcome.Outcome.Accepted,
			Version:  outcome.Outcome.UpdatedNote.Version,
		})
	}
	for _, note := range result.Notes {
		response.Notes = append(response.Notes, encodeNotePayload(note))
	}

	c.JSON(http.StatusOK, response)
}

// authorizeRequest accepts a Bearer header or, for websocket dials where
// browsers cannot set headers, an access_token query parameter.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := bearerToken(c.GetHeader("Authorization"))
	if token == "" {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

func bearerToken(header string) string {
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func parseOperation(value string) (notes.OperationType, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(notes.OperationTypeUpsert):
		return notes.OperationTypeUpsert, nil
	case string(notes.OperationTypeDelete):
		return notes.OperationTypeDelete, nil
	default:
		return "", errors.New("unknown operation")
	}
}
