package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"heartmend/internal/engine"
)

func registerChat(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-chat-session",
		Method:        http.MethodPost,
		Path:          "/chat/sessions",
		Summary:       "Create chat session",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ChatSessionResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.CreateChatSession(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ChatSessionResponse `json:"body"`
		}{Body: chatSessionResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-chat-sessions",
		Method:      http.MethodGet,
		Path:        "/chat/sessions",
		Summary:     "List chat sessions",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ChatSessionResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListChatSessions(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ChatSessionResponse `json:"body"`
		}{Body: mapChatSessions(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-chat-session",
		Method:      http.MethodGet,
		Path:        "/chat/sessions/{session_id}",
		Summary:     "Get chat session with messages",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
	}) (*struct {
		Body ChatSessionDetailResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		detail, err := e.GetChatSession(ctx, userID, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := ChatSessionDetailResponse{ChatSessionResponse: chatSessionResponse(detail.Session)}
		for _, m := range detail.Messages {
			resp.Messages = append(resp.Messages, chatMessageResponse(m))
		}
		return &struct {
			Body ChatSessionDetailResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rename-chat-session",
		Method:      http.MethodPatch,
		Path:        "/chat/sessions/{session_id}",
		Summary:     "Rename chat session",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string                   `path:"session_id"`
		Body      RenameChatSessionRequest `json:"body"`
	}) (*struct {
		Body ChatSessionResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.RenameChatSession(ctx, userID, input.SessionID, input.Body.Title)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ChatSessionResponse `json:"body"`
		}{Body: chatSessionResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-chat-session",
		Method:        http.MethodDelete,
		Path:          "/chat/sessions/{session_id}",
		Summary:       "Delete chat session",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
	}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteChatSession(ctx, userID, input.SessionID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

type streamChunk struct {
	Content string `json:"content"`
}

// registerChatStream wires the SSE endpoint directly on the router: huma's
// request/response model does not fit incremental writes. The auth
// middleware still covers it since the route lives under the base path.
func registerChatStream(r chi.Router, basePath string, e *engine.Engine) {
	route := path.Join(basePath, "chat/sessions/{session_id}/stream")
	r.Post(route, func(w http.ResponseWriter, req *http.Request) {
		userID, authErr := userIDFromContext(req.Context())
		if authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		sessionID := chi.URLParam(req, "session_id")
		var body CreateChatMessageRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "invalid json body", nil))
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", "streaming unsupported", nil))
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		streamErr := e.ChatStream(req.Context(), userID, sessionID, body.Content, func(chunk string) {
			data, err := json.Marshal(streamChunk{Content: chunk})
			if err != nil {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		})
		if streamErr != nil {
			// Headers may already be out; deliver the error as an event.
			apiErr := handleError(streamErr)
			data, _ := json.Marshal(apiErr)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
			return
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	})
}
