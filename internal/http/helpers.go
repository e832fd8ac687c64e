package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/ride-engine/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeEngineError maps the engine's error taxonomy onto HTTP. Conflict
// payloads always carry the authoritative status and current holder so the
// caller can resync; processor failures are surfaced verbatim with enough
// structure to decide on a retry.
func writeEngineError(w http.ResponseWriter, err error) {
	var (
		validation   *models.ValidationError
		notFound     *models.NotFoundError
		conflict     *models.ConflictError
		noCandidates *models.NoCandidatesError
		precondition *models.PaymentPreconditionError
		processor    *models.ProcessorError
	)
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "validation_error",
			"field":   validation.Field,
			"message": validation.Error(),
		})
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":   "not_found",
			"message": notFound.Error(),
		})
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     "conflict",
			"status":    conflict.Status,
			"driver_id": conflict.HolderID,
			"message":   conflict.Error(),
		})
	case errors.As(err, &noCandidates):
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":   "no_drivers_available",
			"message": noCandidates.Error(),
		})
	case errors.As(err, &precondition):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   "payment_precondition",
			"message": precondition.Error(),
		})
	case errors.As(err, &processor):
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":         "processor_error",
			"code":          processor.Code,
			"message":       processor.Message,
			"auth_required": processor.AuthRequired,
			"retryable":     processor.Retryable,
		})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "internal",
			"message": "internal error",
		})
	}
}
