package chat

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/chat-gateway/internal/analysis/token"
	"github.com/zhouzirui/chat-gateway/internal/identity"
	"github.com/zhouzirui/chat-gateway/internal/limiter"
	chatmodel "github.com/zhouzirui/chat-gateway/internal/model/chat"
	"github.com/zhouzirui/chat-gateway/internal/store"
	"github.com/zhouzirui/chat-gateway/internal/validate"
	"github.com/zhouzirui/chat-gateway/pkg/utils"
)

// Generator produces a model reply for the prior turns plus a new user
// message. Implemented by the AI service; stubbed in tests.
type Generator interface {
	Generate(ctx context.Context, history []chatmodel.Turn, userMessage string) (string, error)
}

// Handler orchestrates a chat request: derive identity, rate-limit, validate,
// load history, invoke the generator, record both turns, respond.
type Handler struct {
	generator Generator
	limiter   *limiter.Limiter
	store     *store.Store
	validator *validate.Validator
	identity  *identity.Deriver
	timeout   time.Duration
}

// New 创建聊天处理器
func New(generator Generator, l *limiter.Limiter, s *store.Store, v *validate.Validator, d *identity.Deriver, timeout time.Duration) *Handler {
	return &Handler{
		generator: generator,
		limiter:   l,
		store:     s,
		validator: v,
		identity:  d,
		timeout:   timeout,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Reply    string       `json:"reply"`
	Metadata chatMetadata `json:"metadata"`
}

type chatMetadata struct {
	ConversationID  string         `json:"conversation_id"`
	ResponseTimeMS  int64          `json:"response_time_ms"`
	EstimatedTokens tokenEstimates `json:"estimated_tokens"`
}

type tokenEstimates struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// handleChat runs the request through the admission pipeline. Failures never
// leak internals: the client sees a status code and a generic error body.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	sessionID := h.identity.FromRequest(r)

	if !h.limiter.Allow(sessionID) {
		utils.RespondError(w, http.StatusTooManyRequests, "too many requests, please retry later")
		return
	}

	var payload chatRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result := h.validator.Check(payload.Message)
	if !result.Valid {
		utils.RespondError(w, http.StatusBadRequest, result.Err)
		return
	}
	if len(result.Flags) > 0 {
		// Diagnostic only; flagged messages are still served.
		log.Printf("[chat] suspicious phrases for session=%s: %s", sessionID, strings.Join(result.Flags, ", "))
	}

	// Record the user turn before invoking the model so a failed or aborted
	// generation still leaves the turn in history.
	history := h.store.History(sessionID)
	h.store.Append(sessionID, chatmodel.Message{
		Role:       chatmodel.RoleUser,
		Content:    payload.Message,
		TokenCount: result.EstimatedTokens,
	})

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	reply, err := h.generator.Generate(ctx, history, payload.Message)
	if err != nil {
		log.Printf("[chat] generation failed for session=%s: %v", sessionID, err)
		utils.RespondError(w, http.StatusInternalServerError, "service temporarily unavailable")
		return
	}

	outputTokens := token.Estimate(reply)
	h.store.Append(sessionID, chatmodel.Message{
		Role:       chatmodel.RoleAssistant,
		Content:    reply,
		TokenCount: outputTokens,
	})

	inputTokens := result.EstimatedTokens
	for _, turn := range history {
		inputTokens += token.Estimate(turn.Content)
	}

	utils.RespondJSON(w, http.StatusOK, chatResponse{
		Reply: reply,
		Metadata: chatMetadata{
			ConversationID: sessionID,
			ResponseTimeMS: time.Since(started).Milliseconds(),
			EstimatedTokens: tokenEstimates{
				Input:  inputTokens,
				Output: outputTokens,
			},
		},
	})
}
