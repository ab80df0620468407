package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"gwi.com/chat-relay/internal/core"
	"gwi.com/chat-relay/internal/store"
)

type APIHandler struct {
	chatService *core.ChatService
	logger      *zap.Logger
}

func NewAPIHandler(cs *core.ChatService, logger *zap.Logger) *APIHandler {
	return &APIHandler{chatService: cs, logger: logger}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError maps relay errors to a status code. Anything unexpected is
// logged and answered with fallback.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error, fallback string) {
	var vErr *core.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, vErr.Error())
	case errors.Is(err, store.ErrThreadNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error(fallback, zap.Error(err))
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type CreateThreadRequest struct {
	OwnerID  string         `json:"ownerId,omitempty"`
	Title    string         `json:"title,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type ThreadResponse struct {
	Thread *store.Thread `json:"thread"`
}

type ThreadDetailsResponse struct {
	Thread   *store.Thread   `json:"thread"`
	Messages []store.Message `json:"messages"`
}

func (h *APIHandler) CreateThreadHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateThreadRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	thread, err := h.chatService.CreateThread(r.Context(), ownerFrom(r, req.OwnerID), req.Title, req.Metadata)
	if err != nil {
		h.writeServiceError(w, err, "Failed to create thread")
		return
	}
	writeJSON(w, http.StatusOK, ThreadResponse{Thread: thread})
}

type ListThreadsResponse struct {
	Threads []store.Thread `json:"threads"`
}

// GetThreadsHandler lists the owner's threads, or returns one thread with its
// messages when threadId is given.
func (h *APIHandler) GetThreadsHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	ownerID := ownerFrom(r, query.Get("ownerId"))

	if threadID := query.Get("threadId"); threadID != "" {
		thread, messages, err := h.chatService.GetThread(r.Context(), threadID, ownerID)
		if err != nil {
			h.writeServiceError(w, err, "Failed to get thread")
			return
		}
		if messages == nil {
			messages = []store.Message{}
		}
		writeJSON(w, http.StatusOK, ThreadDetailsResponse{Thread: thread, Messages: messages})
		return
	}

	threads, err := h.chatService.ListThreads(r.Context(), ownerID)
	if err != nil {
		h.writeServiceError(w, err, "Failed to list threads")
		return
	}
	if threads == nil {
		threads = []store.Thread{}
	}
	writeJSON(w, http.StatusOK, ListThreadsResponse{Threads: threads})
}

type successResponse struct {
	Success  bool   `json:"success"`
	ThreadID string `json:"threadId,omitempty"`
}

func (h *APIHandler) DeleteThreadHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	err := h.chatService.DeleteThread(r.Context(), query.Get("threadId"), ownerFrom(r, query.Get("ownerId")))
	if err != nil {
		h.writeServiceError(w, err, "Failed to delete thread")
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

type ChatRequest struct {
	NewConversation bool     `json:"newConversation,omitempty"`
	Message         string   `json:"message,omitempty"`
	ThreadID        string   `json:"threadId,omitempty"`
	OwnerID         string   `json:"ownerId,omitempty"`
	ModelID         string   `json:"modelId,omitempty"`
	SystemPrompt    string   `json:"systemPrompt,omitempty"`
	Temperature     *float32 `json:"temperature,omitempty"`
}

// ChatHandler either opens a new conversation or streams the reply to one
// message as newline-delimited JSON frames.
func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	ownerID := ownerFrom(r, req.OwnerID)

	if req.NewConversation {
		thread, err := h.chatService.StartThread(r.Context(), ownerID, req.ModelID)
		if err != nil {
			h.writeServiceError(w, err, "Failed to start conversation")
			return
		}
		writeJSON(w, http.StatusOK, successResponse{Success: true, ThreadID: thread.ID})
		return
	}

	stream, err := h.chatService.SubmitTurn(r.Context(), core.TurnRequest{
		ThreadID:     req.ThreadID,
		OwnerID:      ownerID,
		Message:      req.Message,
		ModelID:      req.ModelID,
		SystemPrompt: req.SystemPrompt,
		Temperature:  req.Temperature,
	})
	if err != nil {
		h.writeServiceError(w, err, "Failed to submit message")
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	enc := json.NewEncoder(w)
	for frame := range stream.Frames() {
		if err := enc.Encode(frame); err != nil {
			h.logger.Info("Client went away mid-stream", zap.String("thread_id", req.ThreadID), zap.Error(err))
			return
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			h.logger.Info("Flush failed", zap.String("thread_id", req.ThreadID), zap.Error(err))
			return
		}
	}
}
