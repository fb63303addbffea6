package session

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/mindhaven/mindhaven-server/cmd/utils"
	"github.com/mindhaven/mindhaven-server/service/presence"
)

type Handler struct {
	coordinator *Coordinator
	store       AppointmentStore
	presence    presence.Store
}

func NewHandler(coordinator *Coordinator, store AppointmentStore, pres presence.Store) *Handler {
	return &Handler{
		coordinator: coordinator,
		store:       store,
		presence:    pres,
	}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/appointments/{id}/session/start", utils.AuthMiddleware(h.StartSession)).Methods("POST")
	router.HandleFunc("/appointments/{id}/session/join", utils.AuthMiddleware(h.JoinSession)).Methods("POST")
	router.HandleFunc("/appointments/{id}/session/end", utils.AuthMiddleware(h.EndSession)).Methods("POST")
	router.HandleFunc("/appointments/{id}/session/window", utils.AuthMiddleware(h.GetJoinWindow)).Methods("GET")
	router.HandleFunc("/presence/{userId}", utils.AuthMiddleware(h.GetPresence)).Methods("GET")
}

func appointmentIDFromPath(r *http.Request) (uint, error) {
	vars := mux.Vars(r)
	id, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}

// writeCoordinatorError maps the coordinator error taxonomy to HTTP codes.
func writeCoordinatorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrAlreadyActive):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrNotPermitted):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, ErrParticipantUnresolved):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, ErrSignaling):
		http.Error(w, "failed to start/join video session - please try again", http.StatusBadGateway)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	appointmentID, err := appointmentIDFromPath(r)
	if err != nil {
		http.Error(w, "Invalid appointment ID", http.StatusBadRequest)
		return
	}

	call, err := h.coordinator.StartCall(r.Context(), appointmentID, userID)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}

	online, _ := h.presence.IsOnline(r.Context(), call.CounterpartID)
	response := map[string]interface{}{
		"call":               call,
		"counterpart_online": online,
	}
	if !online {
		response["message"] = "the other participant is offline - they will be notified when they return"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (h *Handler) JoinSession(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	appointmentID, err := appointmentIDFromPath(r)
	if err != nil {
		http.Error(w, "Invalid appointment ID", http.StatusBadRequest)
		return
	}

	call, err := h.coordinator.JoinCall(r.Context(), appointmentID, userID)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"call": call})
}

func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	appointmentID, err := appointmentIDFromPath(r)
	if err != nil {
		http.Error(w, "Invalid appointment ID", http.StatusBadRequest)
		return
	}

	if err := h.coordinator.EndCall(r.Context(), appointmentID, userID); err != nil {
		writeCoordinatorError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "call ended"})
}

// GetJoinWindow lets the client check whether joining is currently possible,
// e.g. to enable or disable the join button.
func (h *Handler) GetJoinWindow(w http.ResponseWriter, r *http.Request) {
	appointmentID, err := appointmentIDFromPath(r)
	if err != nil {
		http.Error(w, "Invalid appointment ID", http.StatusBadRequest)
		return
	}

	appt, err := h.store.GetAppointment(r.Context(), appointmentID)
	if err != nil {
		http.Error(w, "Appointment not found", http.StatusNotFound)
		return
	}

	rejoin := r.URL.Query().Get("rejoin") == "true"
	result := EvaluateJoinWindow(appt.StartTime, appt.EndTime, appt.Status, rejoin, h.coordinator.now())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (h *Handler) GetPresence(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID, err := strconv.ParseUint(vars["userId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	online, err := h.presence.IsOnline(r.Context(), uint(userID))
	if err != nil {
		http.Error(w, "Error checking presence", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"user_id": userID,
		"online":  online,
	})
}
