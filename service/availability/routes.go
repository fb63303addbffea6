package availability

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/mindhaven/mindhaven-server/cmd/models"
	"github.com/mindhaven/mindhaven-server/service/notify"
	"gorm.io/gorm"
)

type AvailabilityHandler struct {
    db     *gorm.DB
    fanout *notify.Fanout
}

func NewAvailabilityHandler(db *gorm.DB, fanout *notify.Fanout) *AvailabilityHandler {
    return &AvailabilityHandler{db: db, fanout: fanout}
}


func (h *AvailabilityHandler) RegisterRoutes(router *mux.Router) {
    router.HandleFunc("/therapists/{therapistId}/availability", h.CreateAvailability).Methods("POST")
    router.HandleFunc("/therapists/{therapistId}/availability", h.GetAvailabilities).Methods("GET")
    router.HandleFunc("/therapists/{therapistId}/availability/{id}", h.GetAvailability).Methods("GET")
    router.HandleFunc("/therapists/{therapistId}/availability/{id}", h.UpdateAvailability).Methods("PUT")
    router.HandleFunc("/therapists/{therapistId}/availability/{id}", h.DeleteAvailability).Methods("DELETE")
    router.HandleFunc("/therapists/{therapistId}/availability/date/{date}", h.GetAvailabilitiesByDate).Methods("GET")
}




func (h *AvailabilityHandler) CreateAvailability(w http.ResponseWriter, r *http.Request) {
    vars := mux.Vars(r)
    therapistID, err := strconv.Atoi(vars["therapistId"])
    if err != nil {
        http.Error(w, "Invalid therapist ID", http.StatusBadRequest)
        return
    }

    var availability models.Availability
    if err := json.NewDecoder(r.Body).Decode(&availability); err != nil {
        http.Error(w, "Invalid request body", http.StatusBadRequest)
        return
    }

    // Validate time slots
    if availability.EndTime.Before(availability.StartTime) {
        http.Error(w, "End time must be after start time", http.StatusBadRequest)
        return
    }

    // Check for overlapping slots
    var existingAvailability models.Availability
    overlap := h.db.Where("therapist_id = ? AND date = ? AND ((start_time < ? AND end_time > ?) OR (start_time < ? AND end_time > ?))",
        therapistID,
        availability.Date,
        availability.EndTime,
        availability.StartTime,
        availability.StartTime,
        availability.EndTime,
    ).First(&existingAvailability)

    if overlap.Error != nil && overlap.Error != gorm.ErrRecordNotFound {
        http.Error(w, "Database error", http.StatusInternalServerError)
        return
    }

    if overlap.Error == nil {
        http.Error(w, "Time slot overlaps with existing availability", http.StatusConflict)
        return
    }

    // Assign the therapist ID
    availability.TherapistID = uint(therapistID)

    // Create availability
    if err := h.db.Create(&availability).Error; err != nil {
        http.Error(w, "Error creating availability", http.StatusInternalServerError)
        return
    }

    h.notifyFollowers(r, availability.TherapistID)

    // Send success response
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(http.StatusCreated)
    json.NewEncoder(w).Encode(availability)
}

// notifyFollowers tells clients with an upcoming or past appointment with
// this therapist that new slots opened up.
func (h *AvailabilityHandler) notifyFollowers(r *http.Request, therapistID uint) {
    var clientIDs []uint
    if err := h.db.Model(&models.Appointment{}).
        Distinct("client_id").
        Where("therapist_id = ? AND status != ?", therapistID, models.StatusCancelled).
        Pluck("client_id", &clientIDs).Error; err != nil {
        log.Printf("availability: loading clients of therapist %d: %v", therapistID, err)
        return
    }

    for _, clientID := range clientIDs {
        if err := h.fanout.Notify(r.Context(), clientID, models.NotificationAvailabilityChange, map[string]interface{}{
            "therapist_id": therapistID,
        }); err != nil {
            log.Printf("availability: notifying client %d: %v", clientID, err)
        }
    }
}




func (h *AvailabilityHandler) GetAvailabilities(w http.ResponseWriter, r *http.Request) {
    vars := mux.Vars(r)
    therapistID, err := strconv.ParseUint(vars["therapistId"], 10, 64)
    if err != nil {
        http.Error(w, "Invalid therapist ID", http.StatusBadRequest)
        return
    }

    // Parse query parameters
    startDate := r.URL.Query().Get("start_date")
    endDate := r.URL.Query().Get("end_date")
    format := r.URL.Query().Get("format")
    page, _ := strconv.Atoi(r.URL.Query().Get("page"))
    if page < 1 {
        page = 1
    }
    pageSize := 10

    query := h.db.Model(&models.Availability{}).Where("therapist_id = ?", therapistID)

    // Apply filters
    if startDate != "" {
        query = query.Where("date >= ?", startDate)
    }
    if endDate != "" {
        query = query.Where("date <= ?", endDate)
    }
    if format != "" {
        query = query.Where("session_format = ?", format)
    }

    // Get total count
    var total int64
    query.Count(&total)

    // Get paginated results
    var availabilities []models.Availability
    result := query.Offset((page - 1) * pageSize).Limit(pageSize).Find(&availabilities)
    if result.Error != nil {
        http.Error(w, "Error retrieving availabilities", http.StatusInternalServerError)
        return
    }

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(map[string]interface{}{
        "availabilities": availabilities,
        "total":         total,
        "page":          page,
        "page_size":     pageSize,
        "total_pages":   (total + int64(pageSize) - 1) / int64(pageSize),
    })
}

func (h *AvailabilityHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
    vars := mux.Vars(r)
    therapistID, err := strconv.ParseUint(vars["therapistId"], 10, 64)
    if err != nil {
        http.Error(w, "Invalid therapist ID", http.StatusBadRequest)
        return
    }

    availabilityID, err := strconv.ParseUint(vars["id"], 10, 64)
    if err != nil {
        http.Error(w, "Invalid availability ID", http.StatusBadRequest)
        return
    }

    var availability models.Availability
    if err := h.db.Where("id = ? AND therapist_id = ?", availabilityID, therapistID).First(&availability).Error; err != nil {
        http.Error(w, "Availability not found", http.StatusNotFound)
        return
    }

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(availability)
}

func (h *AvailabilityHandler) UpdateAvailability(w http.ResponseWriter, r *http.Request) {
    vars := mux.Vars(r)
    therapistID, err := strconv.ParseUint(vars["therapistId"], 10, 64)
    if err != nil {
        http.Error(w, "Invalid therapist ID", http.StatusBadRequest)
        return
    }

    availabilityID, err := strconv.ParseUint(vars["id"], 10, 64)
    if err != nil {
        http.Error(w, "Invalid availability ID", http.StatusBadRequest)
        return
    }

    var updateData models.Availability
    if err := json.NewDecoder(r.Body).Decode(&updateData); err != nil {
        http.Error(w, "Invalid request body", http.StatusBadRequest)
        return
    }

    var availability models.Availability
    if err := h.db.Where("id = ? AND therapist_id = ?", availabilityID, therapistID).First(&availability).Error; err != nil {
        http.Error(w, "Availability not found", http.StatusNotFound)
        return
    }

    // Check for overlapping slots (excluding current slot)
    var existingAvailability models.Availability
    overlap := h.db.Where("id != ? AND therapist_id = ? AND date = ? AND ((start_time <= ? AND end_time >= ?) OR (start_time <= ? AND end_time >= ?))",
        availabilityID,
        therapistID,
        updateData.Date,
        updateData.EndTime,
        updateData.StartTime,
        updateData.EndTime,
        updateData.StartTime,
    ).First(&existingAvailability)

    if overlap.Error == nil {
        http.Error(w, "Time slot overlaps with existing availability", http.StatusConflict)
        return
    }

    // Update fields
    availability.Note = updateData.Note
    availability.Date = updateData.Date
    availability.StartTime = updateData.StartTime
    availability.EndTime = updateData.EndTime
    availability.Reminder = updateData.Reminder
    availability.SessionFormat = updateData.SessionFormat
    availability.Price = updateData.Price

    if err := h.db.Save(&availability).Error; err != nil {
        http.Error(w, "Error updating availability", http.StatusInternalServerError)
        return
    }

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(availability)
}

func (h *AvailabilityHandler) DeleteAvailability(w http.ResponseWriter, r *http.Request) {
    vars := mux.Vars(r)
    therapistID, err := strconv.ParseUint(vars["therapistId"], 10, 64)
    if err != nil {
        http.Error(w, "Invalid therapist ID", http.StatusBadRequest)
        return
    }

    availabilityID, err := strconv.ParseUint(vars["id"], 10, 64)
    if err != nil {
        http.Error(w, "Invalid availability ID", http.StatusBadRequest)
        return
    }

    result := h.db.Where("id = ? AND therapist_id = ?", availabilityID, therapistID).Delete(&models.Availability{})
    if result.Error != nil {
        http.Error(w, "Error deleting availability", http.StatusInternalServerError)
        return
    }

    if result.RowsAffected == 0 {
        http.Error(w, "Availability not found", http.StatusNotFound)
        return
    }

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(map[string]string{
        "message": "Availability deleted successfully",
    })
}

func (h *AvailabilityHandler) GetAvailabilitiesByDate(w http.ResponseWriter, r *http.Request) {
    vars := mux.Vars(r)
    therapistID, err := strconv.ParseUint(vars["therapistId"], 10, 64)
    if err != nil {
        http.Error(w, "Invalid therapist ID", http.StatusBadRequest)
        return
    }

    dateStr := vars["date"]
    date, err := time.Parse("2006-01-02", dateStr)
    if err != nil {
        http.Error(w, "Invalid date format. Use YYYY-MM-DD", http.StatusBadRequest)
        return
    }

    var availabilities []models.Availability
    if err := h.db.Where("therapist_id = ? AND date = ?", therapistID, date).Find(&availabilities).Error; err != nil {
        http.Error(w, "Error retrieving availabilities", http.StatusInternalServerError)
        return
    }

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(availabilities)
}
