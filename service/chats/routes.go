package chats

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/mindhaven/mindhaven-server/cmd/models"
	"github.com/mindhaven/mindhaven-server/cmd/utils"
	"gorm.io/gorm"
)

type Handler struct {
	db *gorm.DB
}

func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/chats", utils.AuthMiddleware(h.GetConversations)).Methods("GET")
	router.HandleFunc("/chats/{peerId}", utils.AuthMiddleware(h.GetMessages)).Methods("GET")
	router.HandleFunc("/chats/{peerId}/read", utils.AuthMiddleware(h.MarkRead)).Methods("POST")
	router.HandleFunc("/chats/unread/count", utils.AuthMiddleware(h.GetUnreadCount)).Methods("GET")
}

// GetConversations lists the peers the user has exchanged messages with,
// newest conversation first, with the unread count per peer.
func (h *Handler) GetConversations(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var peers []struct {
		PeerID   uint      `json:"peer_id"`
		LastSeen time.Time `json:"last_message_at"`
	}
	err = h.db.Raw(`
		SELECT peer_id, MAX(created_at) AS last_seen FROM (
			SELECT receiver_id AS peer_id, created_at FROM messages WHERE sender_id = ? AND deleted_at IS NULL
			UNION ALL
			SELECT sender_id AS peer_id, created_at FROM messages WHERE receiver_id = ? AND deleted_at IS NULL
		) m GROUP BY peer_id ORDER BY last_seen DESC`,
		userID, userID,
	).Scan(&peers).Error
	if err != nil {
		http.Error(w, "Error retrieving conversations", http.StatusInternalServerError)
		return
	}

	conversations := make([]map[string]interface{}, 0, len(peers))
	for _, peer := range peers {
		var unread int64
		h.db.Model(&models.Message{}).
			Where("sender_id = ? AND receiver_id = ? AND read_at IS NULL", peer.PeerID, userID).
			Count(&unread)

		var user models.User
		if err := h.db.Select("id", "full_name", "profile_picture_path").First(&user, peer.PeerID).Error; err != nil {
			continue
		}

		conversations = append(conversations, map[string]interface{}{
			"peer_id":         peer.PeerID,
			"peer_name":       user.FullName,
			"peer_picture":    user.ProfilePicturePath,
			"last_message_at": peer.LastSeen,
			"unread":          unread,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"conversations": conversations,
	})
}

// GetMessages returns the message history between the user and a peer,
// oldest first, paginated.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	peerID, err := strconv.ParseUint(vars["peerId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid peer ID", http.StatusBadRequest)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize := 50

	query := h.db.Model(&models.Message{}).Where(
		"(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
		userID, peerID, peerID, userID,
	)

	var total int64
	query.Count(&total)

	var messages []models.Message
	result := query.Order("created_at ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&messages)
	if result.Error != nil {
		http.Error(w, "Error retrieving messages", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"messages":    messages,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": (total + int64(pageSize) - 1) / int64(pageSize),
	})
}

// MarkRead stamps every unread message from the peer to the user.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	peerID, err := strconv.ParseUint(vars["peerId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid peer ID", http.StatusBadRequest)
		return
	}

	now := time.Now()
	result := h.db.Model(&models.Message{}).
		Where("sender_id = ? AND receiver_id = ? AND read_at IS NULL", peerID, userID).
		Update("read_at", now)
	if result.Error != nil {
		http.Error(w, "Error marking messages read", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Messages marked as read",
		"updated": result.RowsAffected,
	})
}

// GetUnreadCount returns the number of unread messages across all peers.
func (h *Handler) GetUnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var unread int64
	if err := h.db.Model(&models.Message{}).
		Where("receiver_id = ? AND read_at IS NULL", userID).
		Count(&unread).Error; err != nil {
		http.Error(w, "Error counting unread messages", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"unread": unread,
	})
}
