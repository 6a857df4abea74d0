package dispatch

// Routes:
//
//	GET  /health                          → liveness
//	POST /jobs/{id}/candidates            → ranked eligible candidates
//	POST /jobs/{id}/decision              → assignment decision (auto-assign commits)
//	POST /offers                          → send an offer
//	POST /assignments/{id}/expire         → deliver the offer expiry signal
//	POST /assignments/{id}/accept         → accept an offer
//	POST /assignments/{id}/reject         → reject an offer
//	POST /availability                    → check a shift for free slots
//	POST /bookings                        → reserve a slot range
//	POST /bookings/{id}/confirm           → confirm a hold
//	POST /bookings/{id}/cancel            → cancel a booking
//
// The Idempotency-Key header, when present, overrides the body's key.

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"fieldops/dispatch-service/internal/model"
)

// IdempotencyHeader carries the caller's idempotency token.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes Service over HTTP/JSON.
type Handler struct {
	svc *Service
	log *slog.Logger
}

func NewHandler(svc *Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// RegisterRoutes mounts all dispatch-service routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/jobs/", h.handleJobAction)
	mux.HandleFunc("/offers", h.handleOffers)
	mux.HandleFunc("/assignments/", h.handleAssignmentAction)
	mux.HandleFunc("/availability", h.handleAvailability)
	mux.HandleFunc("/bookings", h.handleBookings)
	mux.HandleFunc("/bookings/", h.handleBookingAction)
}

// ─── Route dispatch ──────────────────────────────────────────────────────────

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", "", http.StatusMethodNotAllowed)
		return
	}
	jsonOK(w, map[string]string{"status": "ok"})
}

// handleJobAction handles POST /jobs/{id}/candidates|decision
func (h *Handler) handleJobAction(w http.ResponseWriter, r *http.Request) {
	id, action, ok := h.action(w, r, "jobs")
	if !ok {
		return
	}
	switch action {
	case "candidates":
		var in FindCandidatesInput
		if !h.decode(w, r, &in, &in.IdempotencyKey) {
			return
		}
		in.JobID = id
		out, err := h.svc.FindCandidates(r.Context(), in)
		h.respond(w, out, err)
	case "decision":
		var in DecideAssignmentInput
		if !h.decode(w, r, &in, &in.IdempotencyKey) {
			return
		}
		in.JobID = id
		out, err := h.svc.DecideAssignment(r.Context(), in)
		h.respond(w, out, err)
	default:
		jsonError(w, fmt.Sprintf("unknown action %q", action), "", http.StatusNotFound)
	}
}

// handleOffers handles POST /offers
func (h *Handler) handleOffers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", "", http.StatusMethodNotAllowed)
		return
	}
	var in SendOfferInput
	if !h.decode(w, r, &in, &in.IdempotencyKey) {
		return
	}
	out, err := h.svc.SendOffer(r.Context(), in)
	h.respond(w, out, err)
}

// handleAssignmentAction handles POST /assignments/{id}/expire|accept|reject
func (h *Handler) handleAssignmentAction(w http.ResponseWriter, r *http.Request) {
	id, action, ok := h.action(w, r, "assignments")
	if !ok {
		return
	}
	switch action {
	case "expire":
		var in ExpireOfferInput
		if !h.decode(w, r, &in, &in.IdempotencyKey) {
			return
		}
		in.AssignmentID = id
		out, err := h.svc.ExpireOffer(r.Context(), in)
		h.respond(w, out, err)
	case "accept":
		var in AcceptOfferInput
		if !h.decode(w, r, &in, &in.IdempotencyKey) {
			return
		}
		in.AssignmentID = id
		out, err := h.svc.AcceptOffer(r.Context(), in)
		h.respond(w, out, err)
	case "reject":
		var in RejectOfferInput
		if !h.decode(w, r, &in, &in.IdempotencyKey) {
			return
		}
		in.AssignmentID = id
		out, err := h.svc.RejectOffer(r.Context(), in)
		h.respond(w, out, err)
	default:
		jsonError(w, fmt.Sprintf("unknown action %q", action), "", http.StatusNotFound)
	}
}

// handleAvailability handles POST /availability
func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", "", http.StatusMethodNotAllowed)
		return
	}
	var in CheckAvailabilityInput
	if !h.decode(w, r, &in, &in.IdempotencyKey) {
		return
	}
	out, err := h.svc.CheckAvailability(r.Context(), in)
	h.respond(w, out, err)
}

// handleBookings handles POST /bookings
func (h *Handler) handleBookings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", "", http.StatusMethodNotAllowed)
		return
	}
	var in ReserveSlotInput
	if !h.decode(w, r, &in, &in.IdempotencyKey) {
		return
	}
	out, err := h.svc.ReserveSlot(r.Context(), in)
	h.respond(w, out, err)
}

// handleBookingAction handles POST /bookings/{id}/confirm|cancel
func (h *Handler) handleBookingAction(w http.ResponseWriter, r *http.Request) {
	id, action, ok := h.action(w, r, "bookings")
	if !ok {
		return
	}
	var in BookingInput
	if !h.decode(w, r, &in, &in.IdempotencyKey) {
		return
	}
	in.BookingID = id
	switch action {
	case "confirm":
		out, err := h.svc.ConfirmBooking(r.Context(), in)
		h.respond(w, out, err)
	case "cancel":
		out, err := h.svc.CancelBooking(r.Context(), in)
		h.respond(w, out, err)
	default:
		jsonError(w, fmt.Sprintf("unknown action %q", action), "", http.StatusNotFound)
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// action parses /{resource}/{id}/{action} for POST requests.
func (h *Handler) action(w http.ResponseWriter, r *http.Request, resource string) (string, string, bool) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", "", http.StatusMethodNotAllowed)
		return "", "", false
	}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != resource || parts[1] == "" {
		jsonError(w, "invalid path", "", http.StatusNotFound)
		return "", "", false
	}
	return parts[1], parts[2], true
}

// decode reads an optional JSON body into dst and applies the
// Idempotency-Key header to key.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any, key *string) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		jsonError(w, "invalid JSON body: "+err.Error(), model.CodeInvalidInput, http.StatusBadRequest)
		return false
	}
	if hk := r.Header.Get(IdempotencyHeader); hk != "" {
		*key = hk
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, v any, err error) {
	if err == nil {
		jsonOK(w, v)
		return
	}
	code := httpStatus(err)
	if code >= http.StatusInternalServerError {
		h.log.Error("dispatch request failed", "err", err)
	}
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "internal server error"
	}
	jsonError(w, msg, ErrorCode(err), code)
}

// httpStatus maps domain error kinds to HTTP status codes.
func httpStatus(err error) int {
	switch ErrorKind(err) {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindConflict:
		return http.StatusConflict
	case model.KindInvalidState:
		return http.StatusUnprocessableEntity
	case model.KindTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func jsonOK(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]string{"error": msg}
	if code != "" {
		body["code"] = code
	}
	json.NewEncoder(w).Encode(body)
}
