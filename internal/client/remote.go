package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/inkwellhq/inkwell-sync/internal/notes"
)

const defaultRequestTimeout = 30 * time.Second

// HTTPRemote speaks the server's bulk sync endpoint over HTTP.
type HTTPRemote struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPRemote constructs a remote for the given server base URL and
// bearer token.
func NewHTTPRemote(baseURL, token string) *HTTPRemote {
	return &HTTPRemote{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}
}

type remoteOperationPayload struct {
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

type remoteSyncRequest struct {
	Operations []remoteOperationPayload `json:"operations"`
}

type remoteNotePayload struct {
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

type remoteSyncResponse struct {
	Notes []remoteNotePayload `json:"notes"`
}

// Sync pushes the batch and returns the server's full authoritative list.
func (r *HTTPRemote) Sync(ctx context.Context, operations []notes.ChangeRequest) ([]notes.Note, error) {
	payload := remoteSyncRequest{Operations: make([]remoteOperationPayload, 0, len(operations))}
	for _, op := range operations {
		payload.Operations = append(payload.Operations, remoteOperationPayload{
			NoteID:           op.NoteID.String(),
			Operation:        string(op.Operation),
			NoteType:         op.NoteType,
			Content:          op.Content,
			Tags:             op.Tags,
			Category:         op.Category,
			Archived:         op.Archived,
			CreatedAtSeconds: op.CreatedAtSeconds,
			UpdatedAtSeconds: op.UpdatedAtSeconds,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.baseURL+"/notes/sync", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+r.token)

	response, err := r.httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("client: sync returned status %d", response.StatusCode)
	}

	var decoded remoteSyncResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return nil, err
	}

	authoritative := make([]notes.Note, 0, len(decoded.Notes))
	for _, note := range decoded.Notes {
		authoritative = append(authoritative, notes.Note{
			NoteID:           note.NoteID,
			NoteType:         note.NoteType,
			Content:          note.Content,
			TagsJSON:         notes.EncodeTags(note.Tags),
			Category:         note.Category,
			Archived:         note.Archived,
			IsDeleted:        note.IsDeleted,
			CreatedAtSeconds: note.CreatedAtSeconds,
			UpdatedAtSeconds: note.UpdatedAtSeconds,
			Version:          note.Version,
		})
	}
	return authoritative, nil
}
