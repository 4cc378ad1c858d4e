package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/haasonsaas/mailops/internal/mail"
	"github.com/haasonsaas/mailops/internal/orchestrator"
	"github.com/haasonsaas/mailops/internal/tools"
)

var errUnauthorized = errors.New("unauthorized")

type inboundResponse struct {
	Status    string `json:"status"`
	ThreadKey string `json:"thread_key,omitempty"`
	Delivered bool   `json:"delivered,omitempty"`
}

// handleInbound runs one turn. Processing failures still answer 200: the
// webhook source would otherwise retry and replay a non-idempotent turn.
func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	var payload mail.InboundPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, maxInboundSize)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid inbound payload")
		return
	}
	msg := payload.Message()
	if msg.FromAddress == "" {
		writeError(w, http.StatusBadRequest, "inbound payload has no sender")
		return
	}

	result, err := s.config.Turns.Handle(r.Context(), msg)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "inbound processing failed",
			"message_id", msg.MessageID,
			"state", string(orchestrator.FailedState(err)),
			"error", err,
		)
		writeJSON(w, http.StatusOK, inboundResponse{Status: "failed"})
		return
	}
	writeJSON(w, http.StatusOK, inboundResponse{
		Status:    "processed",
		ThreadKey: result.ThreadKey,
		Delivered: result.Delivered,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type toolView struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	RequiresAuth bool            `json:"requires_auth"`
	Schema       json.RawMessage `json:"schema"`
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	defs, err := tools.Definitions()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]toolView, 0, len(defs))
	for _, def := range defs {
		views = append(views, toolView{
			Name:         def.Name,
			Description:  def.Description,
			RequiresAuth: def.RequiresAuth,
			Schema:       def.Schema,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleInvokeTool(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if strings.TrimSpace(string(body)) == "" {
		body = []byte("{}")
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "body must be JSON")
		return
	}
	caller := tools.CallerContext{OriginAddress: r.Header.Get("X-Origin-Address")}
	result := s.config.Tools.Invoke(r.Context(), caller, tools.Call{Name: r.PathValue("name"), Args: body})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, tools.Encode(result))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
