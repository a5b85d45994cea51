package webhooks

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/clinic-webhooks/internal/events"
	"github.com/wolfman30/clinic-webhooks/pkg/logging"
)

// AdminHandler exposes manual replay of failed events.
type AdminHandler struct {
	replayer *Replayer
	logger   *logging.Logger
}

func NewAdminHandler(replayer *Replayer, logger *logging.Logger) *AdminHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminHandler{replayer: replayer, logger: logger}
}

// Replay serves POST /admin/webhooks/{eventRef}/replay.
func (h *AdminHandler) Replay(w http.ResponseWriter, r *http.Request) {
	ref, err := uuid.Parse(chi.URLParam(r, "eventRef"))
	if err != nil {
		http.Error(w, "invalid event ref", http.StatusBadRequest)
		return
	}
	status, err := h.replayer.Replay(r.Context(), ref)
	switch {
	case errors.Is(err, events.ErrEventNotFound):
		http.Error(w, "event not found", http.StatusNotFound)
		return
	case errors.Is(err, ErrAlreadyProcessed):
		writeJSON(w, http.StatusConflict, map[string]string{"status": "already_processed"})
		return
	case errors.Is(err, ErrReplayInProgress):
		writeJSON(w, http.StatusConflict, map[string]string{"status": "replay_in_progress"})
		return
	case err != nil:
		h.logger.Error("manual webhook replay failed", "error", err, "event_ref", ref)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.logger.Info("manual webhook replay", "event_ref", ref, "status", status)
	writeJSON(w, http.StatusOK, map[string]string{"status": status, "ref": ref.String()})
}
