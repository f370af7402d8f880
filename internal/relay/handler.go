package relay

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/wolfman30/chat-relay/internal/llm"
	"github.com/wolfman30/chat-relay/internal/provider"
	"github.com/wolfman30/chat-relay/pkg/logging"
)

const maxChatBodyBytes = 1 << 20

// ModelCatalog lists the models the relay can serve.
type ModelCatalog interface {
	DefaultModel() string
	Models() []provider.ModelInfo
}

// Handler exposes the relay over HTTP.
type Handler struct {
	service *Service
	catalog ModelCatalog
	logger  *logging.Logger
}

// NewHandler creates a relay handler.
func NewHandler(service *Service, catalog ModelCatalog, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		service: service,
		catalog: catalog,
		logger:  logger,
	}
}

// chatRequestBody keeps custom_prompt and history as pointers so an absent field can be
// told apart from an explicit "" or [].
type chatRequestBody struct {
	Message      string             `json:"message"`
	CustomPrompt *string            `json:"custom_prompt"`
	History      *[]llm.ChatMessage `json:"history"`
	AIName       string             `json:"aiName"`
	Index        *int               `json:"index,omitempty"`
	Model        *string            `json:"model,omitempty"`
}

func (b chatRequestBody) checkPresence() error {
	if b.CustomPrompt == nil {
		return invalidRequest("custom_prompt is required")
	}
	if b.History == nil {
		return invalidRequest("history is required")
	}
	return nil
}

func (b chatRequestBody) conversationRequest() ConversationRequest {
	req := ConversationRequest{
		Message:   b.Message,
		AgentName: b.AIName,
	}
	if b.CustomPrompt != nil {
		req.PersonaPrompt = *b.CustomPrompt
	}
	if b.History != nil {
		req.History = *b.History
	}
	if b.Index != nil {
		req.InsertionIndex = *b.Index
	}
	if b.Model != nil {
		req.ModelID = *b.Model
	}
	return req
}

type errorResponse struct {
	Error string `json:"error"`
}

// Chat handles POST /api/chat. Failures before the first fragment are answered with a
// JSON error; once the event stream has started a failure aborts the response.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.With("request_id", middleware.GetReqID(r.Context()))

	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	var body chatRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		logger.Warn("failed to decode chat request", "error", err)
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if err := body.checkPresence(); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	reply, err := h.service.Open(r.Context(), body.conversationRequest())
	if err != nil {
		h.writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
		return
	}

	events, err := newEventWriter(w)
	if err != nil {
		reply.Close()
		logger.Error("streaming unsupported", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming unsupported"})
		return
	}
	events.Start()

	if err := h.service.Stream(reply, events); err != nil {
		if r.Context().Err() != nil {
			return
		}
		// Truncate the chunked body so the client cannot mistake it for a clean end.
		panic(http.ErrAbortHandler)
	}
}

type modelsResponse struct {
	Default string               `json:"default"`
	Models  []provider.ModelInfo `json:"models"`
}

// Models handles GET /api/models.
func (h *Handler) Models(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, modelsResponse{
		Default: h.catalog.DefaultModel(),
		Models:  h.catalog.Models(),
	})
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statusFor(err error) int {
	var uerr *llm.UpstreamError
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, provider.ErrUnsupportedModel):
		return http.StatusBadRequest
	case errors.Is(err, provider.ErrMissingCredential):
		return http.StatusInternalServerError
	case errors.Is(err, ErrHandshakeTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &uerr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
