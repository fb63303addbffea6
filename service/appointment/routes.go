package appointment

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/mindhaven/mindhaven-server/cmd/models"
	"github.com/mindhaven/mindhaven-server/cmd/utils"
	"github.com/mindhaven/mindhaven-server/service/notify"
	"gorm.io/gorm"
)

type AppointmentHandler struct {
    db     *gorm.DB
    fanout *notify.Fanout
}

func NewAppointmentHandler(db *gorm.DB, fanout *notify.Fanout) *AppointmentHandler {
    return &AppointmentHandler{db: db, fanout: fanout}
}


func (h *AppointmentHandler) RegisterRoutes(router *mux.Router) {
    router.HandleFunc("/appointments/book", utils.AuthMiddleware(h.BookAppointment)).Methods("POST")
    router.HandleFunc("/appointments", h.GetAllAppointments).Methods("GET")
    router.HandleFunc("/appointments/{id}", h.GetAppointment).Methods("GET")
    router.HandleFunc("/appointments/{id}/cancel", utils.AuthMiddleware(h.CancelAppointment)).Methods("PATCH")
    router.HandleFunc("/appointments/{id}/status", utils.AuthMiddleware(h.UpdateStatus)).Methods("PATCH")
    router.HandleFunc("/appointments/client/{clientId}", h.GetClientAppointments).Methods("GET")
    router.HandleFunc("/appointments/therapist/{therapistId}", h.GetTherapistAppointments).Methods("GET")
}




func (h *AppointmentHandler) BookAppointment(w http.ResponseWriter, r *http.Request) {
    clientID, err := utils.GetUserIDFromContext(r.Context())
    if err != nil {
        http.Error(w, "Unauthorized", http.StatusUnauthorized)
        return
    }

    var bookingRequest struct {
        AvailabilityID uint   `json:"availability_id"`
        Note           string `json:"note"`
    }

    if err := json.NewDecoder(r.Body).Decode(&bookingRequest); err != nil {
        http.Error(w, "Invalid request body", http.StatusBadRequest)
        return
    }

    tx := h.db.Begin()


    var availability models.Availability
    if err := tx.First(&availability, bookingRequest.AvailabilityID).Error; err != nil {
        tx.Rollback()
        http.Error(w, "Time slot not found", http.StatusNotFound)
        return
    }


    var existingAppointment models.Appointment
    if err := tx.Where("availability_id = ? AND status != ?",
        bookingRequest.AvailabilityID, models.StatusCancelled).
        First(&existingAppointment).Error; err == nil {
        tx.Rollback()
        http.Error(w, "Time slot already booked", http.StatusConflict)
        return
    }

    appointment := models.Appointment{
        ClientID:        clientID,
        TherapistID:     availability.TherapistID,
        AvailabilityID:  bookingRequest.AvailabilityID,
        AppointmentDate: availability.Date,
        StartTime:       availability.StartTime,
        EndTime:         availability.EndTime,
        DurationMinutes: int(availability.EndTime.Sub(availability.StartTime).Minutes()),
        SessionFormat:   availability.SessionFormat,
        Status:          models.StatusBooked,
        Note:            bookingRequest.Note,
    }

    if err := tx.Create(&appointment).Error; err != nil {
        tx.Rollback()
        http.Error(w, "Error creating appointment", http.StatusInternalServerError)
        return
    }

    if err := tx.Commit().Error; err != nil {
        http.Error(w, "Error completing booking", http.StatusInternalServerError)
        return
    }


    h.db.Preload("Client").Preload("Therapist").Preload("Therapist.User").First(&appointment, appointment.ID)

    if appointment.Therapist != nil && appointment.Therapist.UserID != 0 {
        if err := h.fanout.Notify(r.Context(), appointment.Therapist.UserID, models.NotificationNewBooking, map[string]interface{}{
            "appointment_id": appointment.ID,
            "start_time":     appointment.StartTime.Format(time.RFC3339),
        }); err != nil {
            log.Printf("appointment: notifying therapist of booking %d: %v", appointment.ID, err)
        }
    }

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(appointment)
}


func (h *AppointmentHandler) GetAllAppointments(w http.ResponseWriter, r *http.Request) {
    page, _ := strconv.Atoi(r.URL.Query().Get("page"))
    if page < 1 {
        page = 1
    }
    pageSize := 100

    query := h.db.Model(&models.Appointment{}).Preload("Client").Preload("Therapist")

    // Apply filters
    if status := r.URL.Query().Get("status"); status != "" {
        query = query.Where("status = ?", status)
    }
    if date := r.URL.Query().Get("date"); date != "" {
        query = query.Where("appointment_date = ?", date)
    }

    var total int64
    query.Count(&total)

    var appointments []models.Appointment
    if err := query.Offset((page - 1) * pageSize).Limit(pageSize).
        Order("appointment_date DESC, start_time DESC").Find(&appointments).Error; err != nil {
        http.Error(w, "Error retrieving appointments", http.StatusInternalServerError)
        return
    }

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(map[string]interface{}{
        "appointments": appointments,
        "total":       total,
        "page":        page,
        "page_size":   pageSize,
        "total_pages": (total + int64(pageSize) - 1) / int64(pageSize),
    })
}

// GetAppointment retrieves a specific appointment by ID
func (h *AppointmentHandler) GetAppointment(w http.ResponseWriter, r *http.Request) {
    vars := mux.Vars(r)
    appointmentID, err := strconv.ParseUint(vars["id"], 10, 64)
    if err != nil {
        http.Error(w, "Invalid appointment ID", http.StatusBadRequest)
        return
    }

    var appointment models.Appointment
    if err := h.db.Preload("Client").Preload("Therapist").First(&appointment, appointmentID).Error; err != nil {
        http.Error(w, "Appointment not found", http.StatusNotFound)
        return
    }

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(appointment)
}

// CancelAppointment handles appointment cancellation. Cancellation is
// terminal from any state except completed.
func (h *AppointmentHandler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
    userID, err := utils.GetUserIDFromContext(r.Context())
    if err != nil {
        http.Error(w, "Unauthorized", http.StatusUnauthorized)
        return
    }

    vars := mux.Vars(r)
    appointmentID, err := strconv.ParseUint(vars["id"], 10, 64)
    if err != nil {
        http.Error(w, "Invalid appointment ID", http.StatusBadRequest)
        return
    }

    var appointment models.Appointment
    if err := h.db.Preload("Therapist").First(&appointment, appointmentID).Error; err != nil {
        http.Error(w, "Appointment not found", http.StatusNotFound)
        return
    }

    if !appointment.Status.CanTransition(models.StatusCancelled) {
        http.Error(w, "Appointment can no longer be cancelled", http.StatusConflict)
        return
    }

    if err := h.db.Model(&appointment).Update("status", models.StatusCancelled).Error; err != nil {
        http.Error(w, "Error cancelling appointment", http.StatusInternalServerError)
        return
    }

    // tell the other party
    recipient := appointment.ClientID
    if userID == appointment.ClientID && appointment.Therapist != nil {
        recipient = appointment.Therapist.UserID
    }
    if recipient != 0 && recipient != userID {
        if err := h.fanout.Notify(r.Context(), recipient, models.NotificationBookingCancelled, map[string]interface{}{
            "appointment_id": appointment.ID,
        }); err != nil {
            log.Printf("appointment: notifying cancellation of %d: %v", appointment.ID, err)
        }
    }

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(map[string]string{
        "message": "Appointment cancelled successfully",
    })
}

// UpdateStatus moves the appointment lifecycle forward. Transitions only ever
// move forward; anything else is rejected.
func (h *AppointmentHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
    vars := mux.Vars(r)
    appointmentID, err := strconv.ParseUint(vars["id"], 10, 64)
    if err != nil {
        http.Error(w, "Invalid appointment ID", http.StatusBadRequest)
        return
    }

    var statusUpdate struct {
        Status models.AppointmentStatus `json:"status"`
    }
    if err := json.NewDecoder(r.Body).Decode(&statusUpdate); err != nil {
        http.Error(w, "Invalid request body", http.StatusBadRequest)
        return
    }

    var appointment models.Appointment
    if err := h.db.First(&appointment, appointmentID).Error; err != nil {
        if errors.Is(err, gorm.ErrRecordNotFound) {
            http.Error(w, "Appointment not found", http.StatusNotFound)
            return
        }
        http.Error(w, "Error retrieving appointment", http.StatusInternalServerError)
        return
    }

    if !appointment.Status.CanTransition(statusUpdate.Status) {
        http.Error(w, "Invalid status transition", http.StatusConflict)
        return
    }

    updates := map[string]interface{}{"status": statusUpdate.Status}
    if statusUpdate.Status == models.StatusCompleted {
        updates["completed_at"] = time.Now()
    }

    // guard on the current status so concurrent updates cannot skip a step
    result := h.db.Model(&models.Appointment{}).
        Where("id = ? AND status = ?", appointmentID, appointment.Status).
        Updates(updates)
    if result.Error != nil {
        http.Error(w, "Error updating status", http.StatusInternalServerError)
        return
    }
    if result.RowsAffected == 0 {
        http.Error(w, "Appointment status changed concurrently, retry", http.StatusConflict)
        return
    }

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(map[string]string{
        "message": "Status updated successfully",
    })
}

// GetClientAppointments retrieves all appointments for a specific client
func (h *AppointmentHandler) GetClientAppointments(w http.ResponseWriter, r *http.Request) {
    vars := mux.Vars(r)
    clientID, err := strconv.ParseUint(vars["clientId"], 10, 64)
    if err != nil {
        http.Error(w, "Invalid client ID", http.StatusBadRequest)
        return
    }

    page, _ := strconv.Atoi(r.URL.Query().Get("page"))
    if page < 1 {
        page = 1
    }
    pageSize := 100

    query := h.db.Model(&models.Appointment{}).Where("client_id = ?", clientID).
        Preload("Therapist").Preload("Availability")

    var total int64
    query.Count(&total)

    var appointments []models.Appointment
    if err := query.Offset((page - 1) * pageSize).Limit(pageSize).
        Order("appointment_date DESC, start_time DESC").Find(&appointments).Error; err != nil {
        http.Error(w, "Error retrieving appointments", http.StatusInternalServerError)
        return
    }

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(map[string]interface{}{
        "appointments": appointments,
        "total":       total,
        "page":        page,
        "page_size":   pageSize,
        "total_pages": (total + int64(pageSize) - 1) / int64(pageSize),
    })
}

// GetTherapistAppointments retrieves all appointments for a specific therapist
func (h *AppointmentHandler) GetTherapistAppointments(w http.ResponseWriter, r *http.Request) {
    vars := mux.Vars(r)
    therapistID, err := strconv.ParseUint(vars["therapistId"], 10, 64)
    if err != nil {
        http.Error(w, "Invalid therapist ID", http.StatusBadRequest)
        return
    }

    page, _ := strconv.Atoi(r.URL.Query().Get("page"))
    if page < 1 {
        page = 1
    }
    pageSize := 100

    query := h.db.Model(&models.Appointment{}).Where("therapist_id = ?", therapistID).
        Preload("Client").Preload("Availability")

    var total int64
    query.Count(&total)

    var appointments []models.Appointment
    if err := query.Offset((page - 1) * pageSize).Limit(pageSize).
        Order("appointment_date DESC, start_time DESC").Find(&appointments).Error; err != nil {
        http.Error(w, "Error retrieving appointments", http.StatusInternalServerError)
        return
    }

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(map[string]interface{}{
        "appointments": appointments,
        "total":       total,
        "page":        page,
        "page_size":   pageSize,
        "total_pages": (total + int64(pageSize) - 1) / int64(pageSize),
    })
}
