package user

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"gopkg.in/gomail.v2"

	"github.com/GetStream/stream-chat-go/v5"
	"github.com/gorilla/mux"
	"github.com/mindhaven/mindhaven-server/cmd/models"
	"github.com/mindhaven/mindhaven-server/cmd/utils"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type Handler struct {
	db *gorm.DB
}

func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}




// RegisterRoutes sets up all user-related routes
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/login", h.handleLogin).Methods("POST")
	router.HandleFunc("/register", h.HandleRegister).Methods("POST")
	router.HandleFunc("/users", h.GetUsers).Methods("GET")
	router.HandleFunc("/users/{id}", h.GetUser).Methods("GET")
	router.HandleFunc("/users/{id}", h.UpdateUser).Methods("PUT")
	router.HandleFunc("/users/{id}", h.DeleteUser).Methods("DELETE")
	router.HandleFunc("/user/verify", h.verifyUser).Methods("POST")
	router.HandleFunc("/refresh", h.handleRefreshToken).Methods("POST")
	router.HandleFunc("/reset-password", h.handlePasswordResetRequest).Methods("POST")
	router.HandleFunc("/reset-password/{userId}/confirm", h.handlePasswordReset).Methods("POST")
	router.HandleFunc("/verify-reset-token", h.handleVerifyResetToken).Methods("POST")
	router.HandleFunc("/therapists", h.GetTherapists).Methods("GET")
	router.HandleFunc("/therapists/search", h.SearchTherapists).Methods("GET")
	router.HandleFunc("/therapists/specialty/{specialty}", h.GetTherapistsBySpecialty).Methods("GET")
	router.HandleFunc("/therapists/{id}", h.GetTherapist).Methods("GET")
	router.HandleFunc("/therapists/{id}", h.UpdateTherapist).Methods("PUT")
	router.HandleFunc("/therapists/verify/{id}", h.VerifyTherapist).Methods("POST")
	router.HandleFunc("/therapists/{id}/ratings", utils.AuthMiddleware(h.RateTherapist)).Methods("POST")
	router.HandleFunc("/therapists/{id}/ratings", h.GetTherapistRatings).Methods("GET")
	router.HandleFunc("/images/{filename}", h.ServeImage).Methods("GET")
	router.HandleFunc("/licenses/{filename}", h.ServeLicense).Methods("GET")

	fileServer := http.FileServer(http.Dir("uploads/images"))
	router.PathPrefix("/images/").Handler(http.StripPrefix("/images/", fileServer))

}


func (h *Handler) ServeImage(w http.ResponseWriter, r *http.Request) {
    vars := mux.Vars(r)
    filename := vars["filename"]

    // Basic security check for directory traversal
    if containsDotDot(filename) {
        http.Error(w, "Invalid path", http.StatusBadRequest)
        return
    }

    imagePath := filepath.Join("uploads/images", filepath.Clean(filename))

    if _, err := os.Stat(imagePath); os.IsNotExist(err) {
        http.Error(w, "Image not found", http.StatusNotFound)
        return
    }

    w.Header().Set("Cache-Control", "public, max-age=3600")
    w.Header().Set("Content-Type", getContentType(imagePath))

    http.ServeFile(w, r, imagePath)
}

func containsDotDot(v string) bool {
    if !filepath.IsAbs(v) {
        v = filepath.Clean(filepath.Join("/", v))
    }
    return filepath.Clean(v) != v
}

func (h *Handler) ServeLicense(w http.ResponseWriter, r *http.Request) {
    vars := mux.Vars(r)
    filename := vars["filename"]

    if containsDotDot(filename) {
        http.Error(w, "Invalid path", http.StatusBadRequest)
        return
    }

    licensePath := filepath.Join("uploads/licenses", filepath.Clean(filename))
    serveFile(w, r, licensePath, false)
}


func serveFile(w http.ResponseWriter, r *http.Request, filepath string, isImage bool) {
    if _, err := os.Stat(filepath); os.IsNotExist(err) {
        http.Error(w, "File not found", http.StatusNotFound)
        return
    }

    if isImage {
        w.Header().Set("Cache-Control", "public, max-age=3600")
        w.Header().Set("Content-Type", getContentType(filepath))
    } else {
        // License documents are typically PDFs
        w.Header().Set("Content-Type", "application/pdf")
        w.Header().Set("Content-Disposition", "attachment")
    }

    http.ServeFile(w, r, filepath)
}




// Helper function to determine content type
func getContentType(filename string) string {
    ext := filepath.Ext(filename)
    switch ext {
    case ".jpg", ".jpeg":
        return "image/jpeg"
    case ".png":
        return "image/png"
    case ".gif":
        return "image/gif"
    case ".webp":
        return "image/webp"
    default:
        return "application/octet-stream"
    }
}


func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
    var loginRequest struct {
        Email    string `json:"email"`
        Password string `json:"password"`
    }

    if err := json.NewDecoder(r.Body).Decode(&loginRequest); err != nil {
        http.Error(w, "Invalid request body", http.StatusBadRequest)
        return
    }

    var user models.User
    result := h.db.Where("email = ?", loginRequest.Email).First(&user)
    if result.Error != nil {
        http.Error(w, "User not found", http.StatusUnauthorized)
        return
    }

    // Verify password
    if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(loginRequest.Password)); err != nil {
        http.Error(w, "Invalid credentials", http.StatusUnauthorized)
        return
    }

    accessToken, err := generateJWT(user.ID, 7500)
    if err != nil {
        http.Error(w, "Error generating access token", http.StatusInternalServerError)
        return
    }

    refreshToken, err := generateRefreshToken(user.ID)
    if err != nil {
        http.Error(w, "Error generating refresh token", http.StatusInternalServerError)
        return
    }

    // Save refresh token so it can be invalidated later
    err = saveRefreshToken(h.db, user.ID, refreshToken)
    if err != nil {
        http.Error(w, "Error saving refresh token", http.StatusInternalServerError)
        return
    }

    // Initialize Stream Chat client
    API_KEY := os.Getenv("STREAM_API_KEY")
    API_SECRET := os.Getenv("STREAM_API_SECRET")
    streamClient, err := stream_chat.NewClient(API_KEY, API_SECRET)
    if err != nil {
        http.Error(w, "Error initializing Stream client", http.StatusInternalServerError)
        return
    }

    userIDStr := fmt.Sprintf("%d", user.ID)

    streamToken, err := streamClient.CreateToken(userIDStr, time.Now().Add(time.Hour*24*365))
    if err != nil {
        http.Error(w, "Error generating Stream token", http.StatusInternalServerError)
        return
    }

    response := map[string]interface{}{
        "message":       "Login successful",
        "access_token":  accessToken,
        "refresh_token": refreshToken,
        "user_id":       user.ID,
        "role":          user.Role,
        "stream_token":  streamToken,
    }

    // If user is a therapist, fetch and include therapist_id
    if user.Role == models.RoleTherapist {
        var therapist models.Therapist
        result := h.db.Where("user_id = ?", user.ID).First(&therapist)
        if result.Error == nil {
            response["therapist_id"] = therapist.ID
        } else if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
            http.Error(w, "Error fetching therapist profile", http.StatusInternalServerError)
            return
        }
    }

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(response)
}




func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
    var registerRequest struct {
        FullName     string   `json:"full_name"`
        Email        string   `json:"email"`
        Password     string   `json:"password"`
        Phone        string   `json:"phone"`
        Role         string   `json:"role"`
        Specialties  []string `json:"specialties"`
        Bio          string   `json:"bio"`
        LicenseFiles []string `json:"license_files"`
    }
    if err := json.NewDecoder(r.Body).Decode(&registerRequest); err != nil {
        http.Error(w, "Invalid JSON input", http.StatusBadRequest)
        return
    }
    // Validate required fields
    if registerRequest.FullName == "" || registerRequest.Email == "" || registerRequest.Password == "" || registerRequest.Phone == "" || registerRequest.Role == "" {
        http.Error(w, "Missing required fields", http.StatusBadRequest)
        return
    }

    if registerRequest.Role != models.RoleClient && registerRequest.Role != models.RoleTherapist {
        http.Error(w, "Role must be client or therapist", http.StatusBadRequest)
        return
    }

    // Validate unique constraints
    var existingUser models.User
    if result := h.db.Where("email = ? OR phone = ?", registerRequest.Email, registerRequest.Phone).First(&existingUser); !errors.Is(result.Error, gorm.ErrRecordNotFound) {
        if result.Error != nil {
            http.Error(w, "Database error", http.StatusInternalServerError)
            return
        }

        var errorMessage string
        if existingUser.Email == registerRequest.Email && existingUser.Phone == registerRequest.Phone {
            errorMessage = "Email and phone number are already in use"
        } else if existingUser.Email == registerRequest.Email {
            errorMessage = "Email is already in use"
        } else {
            errorMessage = "Phone number is already in use"
        }
        log.Printf("Registration attempt with duplicate %s", errorMessage)
        http.Error(w, errorMessage, http.StatusConflict)
        return
    }

    // Hash password
    passwordHash, err := bcrypt.GenerateFromPassword([]byte(registerRequest.Password), bcrypt.DefaultCost)
    if err != nil {
        http.Error(w, "Error hashing password", http.StatusInternalServerError)
        return
    }

    // Generate verification code
    verificationCode := fmt.Sprintf("%06d", rand.Intn(1000000))
    verificationExpiry := time.Now().Add(15 * time.Minute)

    tx := h.db.Begin()

    user := models.User{
        FullName:              registerRequest.FullName,
        Email:                 registerRequest.Email,
        PasswordHash:          string(passwordHash),
        Phone:                 registerRequest.Phone,
        Role:                  registerRequest.Role,
        PhoneVerified:         false,
        EmailVerificationCode: verificationCode,
        VerificationExpiry:    verificationExpiry,
    }

    if err := tx.Create(&user).Error; err != nil {
        tx.Rollback()
        http.Error(w, "Error registering user", http.StatusInternalServerError)
        return
    }

    var therapistID uint
    if registerRequest.Role == models.RoleTherapist {
        // Create therapist profile
        therapist := models.Therapist{
            UserID:      user.ID,
            Specialties: registerRequest.Specialties,
            Bio:         registerRequest.Bio,
        }

        if err := tx.Create(&therapist).Error; err != nil {
            tx.Rollback()
            http.Error(w, "Error creating therapist profile", http.StatusInternalServerError)
            return
        }

        therapistID = therapist.ID

        // Handle license files
        for _, fileURL := range registerRequest.LicenseFiles {
            license := models.LicenseFile{
                TherapistID: therapistID,
                FilePath:    fileURL,
            }
            if err := tx.Create(&license).Error; err != nil {
                tx.Rollback()
                http.Error(w, "Error saving license URL", http.StatusInternalServerError)
                return
            }
        }
    }

    if err := tx.Commit().Error; err != nil {
        http.Error(w, "Error committing transaction", http.StatusInternalServerError)
        return
    }

    // Send verification email
    go func() {
        if err := sendVerificationEmail(user.Email, verificationCode); err != nil {
            log.Printf("Error sending verification email: %v", err)
        }
    }()

    w.Header().Set("Content-Type", "application/json")
    response := map[string]interface{}{
        "message": "User registered successfully. Please check your email for verification code.",
        "user_id": user.ID,
    }
    if therapistID != 0 {
        response["therapist_id"] = therapistID
    }
    json.NewEncoder(w).Encode(response)
}




// sendVerificationEmail sends a verification email with the 6-digit code
func sendVerificationEmail(email, code string) error {
	smtpHost := os.Getenv("SMTP_HOST")
	smtpPort := os.Getenv("SMTP_PORT")
	smtpUser := os.Getenv("SMTP_USER")
	smtpPass := os.Getenv("SMTP_PASS")

	m := gomail.NewMessage()
	m.SetHeader("From", smtpUser)
	m.SetHeader("To", email)
	m.SetHeader("Subject", "Email Verification Code")
	m.SetBody("text/plain", fmt.Sprintf("Your verification code is: %s. Ignore this email if you did not request a verification code.", code))

	port, err := strconv.Atoi(smtpPort)
	if err != nil {
		return fmt.Errorf("invalid SMTP port: %v", err)
	}
	d := gomail.NewDialer(smtpHost, port, smtpUser, smtpPass)

	return d.DialAndSend(m)
}




func (h *Handler) verifyUser(w http.ResponseWriter, r *http.Request) {
    var request struct {
        Email string `json:"email"`
        Code  string `json:"code"`
    }

    if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
        http.Error(w, "Invalid request body", http.StatusBadRequest)
        return
    }

    var user models.User
    if err := h.db.Where("email = ?", request.Email).First(&user).Error; err != nil {
        http.Error(w, "User not found", http.StatusNotFound)
        return
    }

    // Check if the code matches and is not expired
    if user.EmailVerificationCode != request.Code || time.Now().After(user.VerificationExpiry) {
        http.Error(w, "Invalid or expired verification code", http.StatusUnauthorized)
        return
    }


    user.EmailVerified = true
    user.EmailVerificationCode = ""
    user.VerificationExpiry = time.Time{}

    if err := h.db.Save(&user).Error; err != nil {
        http.Error(w, "Error updating user", http.StatusInternalServerError)
        return
    }

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(map[string]string{
        "message": "Email verified successfully",
    })
}






// GetUsers retrieves all users
func (h *Handler) GetUsers(w http.ResponseWriter, r *http.Request) {
	var users []models.User
	result := h.db.Find(&users)
	if result.Error != nil {
		http.Error(w, "Error retrieving users", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(users)
}

// GetUser retrieves a specific user by ID
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	var user models.User
	result := h.db.Preload("Therapist").First(&user, userID)
	if result.Error != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}


// UpdateUser updates user information
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	var updateData struct {
		FullName          string `json:"full_name"`
		Phone             string `json:"phone"`
		ProfilePictureURL string `json:"profile_picture_path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&updateData); err != nil {
		http.Error(w, "Invalid JSON input", http.StatusBadRequest)
		return
	}

	var user models.User
	if err := h.db.First(&user, userID).Error; err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	// Update fields
	if updateData.FullName != "" {
		user.FullName = updateData.FullName
	}
	if updateData.Phone != "" {
		user.Phone = updateData.Phone
	}
	if updateData.ProfilePictureURL != "" {
		user.ProfilePicturePath = updateData.ProfilePictureURL
	}

	if err := h.db.Save(&user).Error; err != nil {
		http.Error(w, "Error updating user", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}



// DeleteUser removes a user
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	result := h.db.Delete(&models.User{}, userID)
	if result.Error != nil {
		http.Error(w, "Error deleting user", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "User deleted successfully",
	})
}

func (h *Handler) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
    logger := log.New(os.Stdout, "RefreshToken: ", log.Ldate|log.Ltime|log.Lshortfile)

    var refreshRequest struct {
        RefreshToken string `json:"refresh_token"`
    }

    if err := json.NewDecoder(r.Body).Decode(&refreshRequest); err != nil {
        logger.Printf("Decoding error: %v", err)
        http.Error(w, "Invalid request", http.StatusBadRequest)
        return
    }

    tx := h.db.Begin()

    // Validate refresh token against stored token in database
    var user models.User
    if err := tx.Where("refresh_token = ?", refreshRequest.RefreshToken).First(&user).Error; err != nil {
        tx.Rollback()
        logger.Printf("Invalid refresh token for request: %v", refreshRequest.RefreshToken)
        http.Error(w, "Invalid refresh token", http.StatusUnauthorized)
        return
    }

    if user.RefreshTokenExpiredAt.Before(time.Now()) {
        tx.Rollback()
        logger.Printf("Expired refresh token for user ID: %d", user.ID)
        http.Error(w, "Refresh token expired", http.StatusUnauthorized)
        return
    }

    newAccessToken, err := generateJWT(user.ID, 15)
    if err != nil {
        tx.Rollback()
        logger.Printf("Failed to generate access token for user ID: %d, error: %v", user.ID, err)
        http.Error(w, "Error generating new token", http.StatusInternalServerError)
        return
    }

    // Rotate the refresh token
    newRefreshToken, err := generateRefreshToken(user.ID)
    if err != nil {
        tx.Rollback()
        logger.Printf("Failed to generate refresh token for user ID: %d, error: %v", user.ID, err)
        http.Error(w, "Error generating refresh token", http.StatusInternalServerError)
        return
    }

    updateResult := tx.Model(&user).Updates(models.User{
        Refresh:               newRefreshToken,
        RefreshTokenExpiredAt: time.Now().Add(30 * 24 * time.Hour),
    })

    if updateResult.Error != nil {
        tx.Rollback()
        logger.Printf("Failed to update refresh token for user ID: %d, error: %v", user.ID, updateResult.Error)
        http.Error(w, "Error updating refresh token", http.StatusInternalServerError)
        return
    }

    if err := tx.Commit().Error; err != nil {
        logger.Printf("Transaction commit error: %v", err)
        http.Error(w, "Internal server error", http.StatusInternalServerError)
        return
    }

    logger.Printf("Successful token refresh for user ID: %d", user.ID)

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(map[string]string{
        "access_token":  newAccessToken,
        "refresh_token": newRefreshToken,
    })
}



var jwtSecretKey = []byte(os.Getenv("SECRET_KEY"))

func generateJWT(userID uint, expirationMinutes int) (string, error) {
    claims := &jwt.RegisteredClaims{
        Subject:   fmt.Sprint(userID),
        ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour * time.Duration(expirationMinutes))),
    }
    token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
    return token.SignedString(jwtSecretKey)
}


func generateRefreshToken(userID uint) (string, error) {
    b := make([]byte, 32)
    _, err := rand.Read(b)
    if err != nil {
        return "", err
    }

    // Use HMAC to create a token that's tied to the user
    mac := hmac.New(sha256.New, []byte(os.Getenv("SECRET_KEY")))
    mac.Write([]byte(fmt.Sprintf("%d", userID)))
    mac.Write(b)

    signature := mac.Sum(nil)
    return fmt.Sprintf("%d_%x_%x", userID, b, signature), nil
}

func saveRefreshToken(db *gorm.DB, userID uint, refreshToken string) error {
    expirationTime := time.Now().Add(30 * 24 * time.Hour)
    return db.Model(&models.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
        "refresh_token":            refreshToken,
        "refresh_token_expired_at": expirationTime,
    }).Error
}


func (h *Handler) handlePasswordResetRequest(w http.ResponseWriter, r *http.Request) {
    var resetRequest struct {
        Email string `json:"email"`
    }

    if err := json.NewDecoder(r.Body).Decode(&resetRequest); err != nil {
        http.Error(w, "Invalid request body", http.StatusBadRequest)
        return
    }

    if resetRequest.Email == "" {
        http.Error(w, "Email is required", http.StatusBadRequest)
        return
    }

    var user models.User
    result := h.db.Where("email = ?", resetRequest.Email).First(&user)
    if result.Error != nil {
        // Keep response vague for security
        w.Header().Set("Content-Type", "application/json")
        json.NewEncoder(w).Encode(map[string]string{
            "message": "If an account exists, a reset code will be sent to your email",
        })
        return
    }

    // Generate a 6-digit reset token
    resetToken := fmt.Sprintf("%06d", rand.Intn(1000000))

    tx := h.db.Begin()

    // Delete any existing reset tokens for this user
    if err := tx.Where("user_id = ?", user.ID).Delete(&models.PasswordResetToken{}).Error; err != nil {
        tx.Rollback()
        http.Error(w, "Error processing reset request", http.StatusInternalServerError)
        return
    }

    passwordResetToken := models.PasswordResetToken{
        UserID:    user.ID,
        Token:     resetToken,
        ExpiresAt: time.Now().Add(5 * time.Minute),
    }

    if err := tx.Create(&passwordResetToken).Error; err != nil {
        tx.Rollback()
        http.Error(w, "Error creating reset token", http.StatusInternalServerError)
        return
    }

    if err := tx.Commit().Error; err != nil {
        http.Error(w, "Error processing reset request", http.StatusInternalServerError)
        return
    }

    if err := sendVerificationEmail(user.Email, resetToken); err != nil {
        http.Error(w, "Error sending email", http.StatusInternalServerError)
        return
    }

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(map[string]string{
        "message": "If an account exists, a reset code will be sent to your email",
    })
}


func (h *Handler) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
    vars := mux.Vars(r)
    userID, err := strconv.ParseUint(vars["userId"], 10, 32)
    if err != nil {
        http.Error(w, "Invalid user ID", http.StatusBadRequest)
        return
    }

    var resetRequest struct {
        Password string `json:"password"`
    }

    if err := json.NewDecoder(r.Body).Decode(&resetRequest); err != nil {
        http.Error(w, "Invalid request body", http.StatusBadRequest)
        return
    }

    if len(resetRequest.Password) < 6 {
        http.Error(w, "Password must be at least 6 characters long", http.StatusBadRequest)
        return
    }

    tx := h.db.Begin()

    var user models.User
    if err := tx.First(&user, userID).Error; err != nil {
        tx.Rollback()
        http.Error(w, "User not found", http.StatusNotFound)
        return
    }

    passwordHash, err := bcrypt.GenerateFromPassword([]byte(resetRequest.Password), bcrypt.DefaultCost)
    if err != nil {
        tx.Rollback()
        http.Error(w, "Error hashing password", http.StatusInternalServerError)
        return
    }

    user.PasswordHash = string(passwordHash)
    if err := tx.Save(&user).Error; err != nil {
        tx.Rollback()
        http.Error(w, "Error updating password", http.StatusInternalServerError)
        return
    }

    // Invalidate used reset tokens
    if err := tx.Where("user_id = ?", user.ID).Delete(&models.PasswordResetToken{}).Error; err != nil {
        tx.Rollback()
        http.Error(w, "Error processing password reset", http.StatusInternalServerError)
        return
    }

    if err := tx.Commit().Error; err != nil {
        http.Error(w, "Error processing password reset", http.StatusInternalServerError)
        return
    }

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(map[string]string{
        "message": "Password reset successful",
    })
}



type TokenVerificationRequest struct {
    Email string `json:"email"`
    Token string `json:"token"`
}

func (h *Handler) handleVerifyResetToken(w http.ResponseWriter, r *http.Request) {
    var req TokenVerificationRequest

    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        http.Error(w, "Invalid request body", http.StatusBadRequest)
        return
    }

    var user models.User
    if err := h.db.Where("email = ?", req.Email).First(&user).Error; err != nil {
        // Deliberately vague response to avoid revealing user existence
        http.Error(w, "Invalid email or token", http.StatusBadRequest)
        return
    }

    var resetToken models.PasswordResetToken
    if err := h.db.Where("user_id = ? AND token = ?", user.ID, req.Token).First(&resetToken).Error; err != nil {
        http.Error(w, "Invalid email or token", http.StatusBadRequest)
        return
    }

    if time.Now().After(resetToken.ExpiresAt) {
        http.Error(w, "Token expired", http.StatusBadRequest)
        return
    }

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(map[string]interface{}{
        "message": "Token is valid",
        "user_id": user.ID,
    })
}



func (h *Handler) GetTherapists(w http.ResponseWriter, r *http.Request) {
    if h.db == nil {
        http.Error(w, "Database connection not initialized", http.StatusInternalServerError)
        return
    }

    verified := r.URL.Query().Get("verified")
    page, err := strconv.Atoi(r.URL.Query().Get("page"))
    if err != nil || page < 1 {
        page = 1
    }
    pageSize := 20

    query := h.db.Model(&models.Therapist{}).
        Preload("User").
        Preload("LicenseFiles")

    // Filter by verification status if specified
    if verified != "" {
        isVerified, parseErr := strconv.ParseBool(verified)
        if parseErr != nil {
            http.Error(w, "Invalid value for 'verified'", http.StatusBadRequest)
            return
        }
        query = query.Where("verified = ?", isVerified)
    }

    var total int64
    if err := query.Count(&total).Error; err != nil {
        http.Error(w, "Error counting therapists", http.StatusInternalServerError)
        return
    }

    var therapists []models.Therapist
    result := query.Offset((page - 1) * pageSize).Limit(pageSize).Find(&therapists)
    if result.Error != nil {
        http.Error(w, "Error retrieving therapists", http.StatusInternalServerError)
        return
    }

    if len(therapists) == 0 {
        w.Header().Set("Content-Type", "application/json")
        json.NewEncoder(w).Encode(map[string]interface{}{
            "therapists":  []interface{}{},
            "total":       0,
            "page":        page,
            "page_size":   pageSize,
            "total_pages": 0,
        })
        return
    }

    response := make([]map[string]interface{}, 0, len(therapists))
    for _, therapist := range therapists {
        if therapist.User == nil {
            continue
        }

        therapistData := map[string]interface{}{
            "ID":            therapist.ID,
            "CreatedAt":     therapist.CreatedAt,
            "UpdatedAt":     therapist.UpdatedAt,
            "UserID":        therapist.UserID,
            "Specialties":   therapist.Specialties,
            "Bio":           therapist.Bio,
            "Verified":      therapist.Verified,
            "AverageRating": therapist.AverageRating,
            "TotalRatings":  therapist.TotalRatings,
            "LicenseFiles":  therapist.LicenseFiles,
            "User": map[string]interface{}{
                "FullName":           therapist.User.FullName,
                "Email":              therapist.User.Email,
                "Phone":              therapist.User.Phone,
                "Role":               therapist.User.Role,
                "PhoneVerified":      therapist.User.PhoneVerified,
                "EmailVerified":      therapist.User.EmailVerified,
                "Status":             therapist.User.Status,
                "ProfilePicturePath": therapist.User.ProfilePicturePath,
            },
        }
        response = append(response, therapistData)
    }

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(map[string]interface{}{
        "therapists":  response,
        "total":       total,
        "page":        page,
        "page_size":   pageSize,
        "total_pages": (total + int64(pageSize) - 1) / int64(pageSize),
    })
}

// GetTherapist retrieves a specific therapist by ID with full details
func (h *Handler) GetTherapist(w http.ResponseWriter, r *http.Request) {
    vars := mux.Vars(r)
    therapistID, err := strconv.ParseUint(vars["id"], 10, 64)
    if err != nil {
        http.Error(w, "Invalid therapist ID", http.StatusBadRequest)
        return
    }

    var therapist models.Therapist
    result := h.db.Preload("User").
        Preload("LicenseFiles").
        First(&therapist, therapistID)

    if result.Error != nil {
        if errors.Is(result.Error, gorm.ErrRecordNotFound) {
            http.Error(w, "Therapist not found", http.StatusNotFound)
        } else {
            http.Error(w, "Error retrieving therapist", http.StatusInternalServerError)
        }
        return
    }

    if therapist.User == nil {
        http.Error(w, "Therapist user data not found", http.StatusInternalServerError)
        return
    }

    therapistData := map[string]interface{}{
        "ID":            therapist.ID,
        "CreatedAt":     therapist.CreatedAt,
        "UpdatedAt":     therapist.UpdatedAt,
        "UserID":        therapist.UserID,
        "Specialties":   therapist.Specialties,
        "Bio":           therapist.Bio,
        "Verified":      therapist.Verified,
        "AverageRating": therapist.AverageRating,
        "TotalRatings":  therapist.TotalRatings,
        "LicenseFiles":  therapist.LicenseFiles,
        "User": map[string]interface{}{
            "FullName":           therapist.User.FullName,
            "Email":              therapist.User.Email,
            "Phone":              therapist.User.Phone,
            "Role":               therapist.User.Role,
            "PhoneVerified":      therapist.User.PhoneVerified,
            "EmailVerified":      therapist.User.EmailVerified,
            "Status":             therapist.User.Status,
            "ProfilePicturePath": therapist.User.ProfilePicturePath,
        },
    }

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(therapistData)
}

// UpdateTherapist allows updating therapist profile information
func (h *Handler) UpdateTherapist(w http.ResponseWriter, r *http.Request) {
    vars := mux.Vars(r)
    therapistID, err := strconv.ParseUint(vars["id"], 10, 64)
    if err != nil {
        http.Error(w, "Invalid therapist ID", http.StatusBadRequest)
        return
    }

    var updateRequest struct {
        Specialties  []string `json:"specialties"`
        Bio          string   `json:"bio"`
        LicenseFiles []struct {
            FileName string `json:"file_name"`
            FilePath string `json:"file_path"`
        } `json:"license_files"`
    }
    if err := json.NewDecoder(r.Body).Decode(&updateRequest); err != nil {
        http.Error(w, "Invalid request body", http.StatusBadRequest)
        return
    }

    var therapist models.Therapist
    if result := h.db.Preload("LicenseFiles").First(&therapist, therapistID); result.Error != nil {
        http.Error(w, "Therapist not found", http.StatusNotFound)
        return
    }

    therapist.Specialties = updateRequest.Specialties
    therapist.Bio = updateRequest.Bio

    // Handle license file updates
    if len(updateRequest.LicenseFiles) > 0 {
        if err := h.db.Where("therapist_id = ?", therapist.ID).Delete(&models.LicenseFile{}).Error; err != nil {
            http.Error(w, "Error clearing license files", http.StatusInternalServerError)
            return
        }

        for _, file := range updateRequest.LicenseFiles {
            licenseFile := models.LicenseFile{
                TherapistID: therapist.ID,
                FileName:    file.FileName,
                FilePath:    file.FilePath,
            }
            if err := h.db.Create(&licenseFile).Error; err != nil {
                http.Error(w, "Error adding license files", http.StatusInternalServerError)
                return
            }
        }
    }

    if err := h.db.Save(&therapist).Error; err != nil {
        http.Error(w, "Error updating therapist", http.StatusInternalServerError)
        return
    }

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(map[string]interface{}{
        "message":   "Therapist updated successfully",
        "therapist": therapist,
    })
}

// VerifyTherapist handles therapist verification by an admin
func (h *Handler) VerifyTherapist(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	therapistID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid therapist ID", http.StatusBadRequest)
		return
	}

	var verifyRequest struct {
		Verified bool `json:"verified"`
	}
	if err := json.NewDecoder(r.Body).Decode(&verifyRequest); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var therapist models.Therapist
	result := h.db.First(&therapist, therapistID)
	if result.Error != nil {
		http.Error(w, "Therapist not found", http.StatusNotFound)
		return
	}

	therapist.Verified = verifyRequest.Verified
	if err := h.db.Save(&therapist).Error; err != nil {
		http.Error(w, "Error updating therapist verification", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":  "Therapist verification updated",
		"verified": therapist.Verified,
	})
}

// SearchTherapists allows searching therapists by various criteria
func (h *Handler) SearchTherapists(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	specialty := r.URL.Query().Get("specialty")
	verified := r.URL.Query().Get("verified")
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize := 10

	dbQuery := h.db.Model(&models.Therapist{}).Preload("User")

	// Apply filters
	if query != "" {
		searchQuery := "%" + query + "%"
		dbQuery = dbQuery.Where(
			"bio ILIKE ? OR array_to_string(specialties, ',') ILIKE ?",
			searchQuery, searchQuery,
		)
	}

	if specialty != "" {
		dbQuery = dbQuery.Where("? = ANY(specialties)", specialty)
	}

	if verified != "" {
		isVerified, _ := strconv.ParseBool(verified)
		dbQuery = dbQuery.Where("verified = ?", isVerified)
	}

	var total int64
	dbQuery.Count(&total)

	var therapists []models.Therapist
	result := dbQuery.Offset((page - 1) * pageSize).Limit(pageSize).Find(&therapists)

	if result.Error != nil {
		http.Error(w, "Error searching therapists", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"therapists":  therapists,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": (total + int64(pageSize) - 1) / int64(pageSize),
	})
}

// GetTherapistsBySpecialty retrieves therapists by a specific specialty
func (h *Handler) GetTherapistsBySpecialty(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	specialty := vars["specialty"]

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize := 10

	var therapists []models.Therapist
	var total int64

	query := h.db.Model(&models.Therapist{}).
		Where("? = ANY(specialties)", specialty).
		Preload("User")

	query.Count(&total)

	result := query.
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&therapists)

	if result.Error != nil {
		http.Error(w, "Error retrieving therapists", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"therapists":  therapists,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": (total + int64(pageSize) - 1) / int64(pageSize),
	})
}

// RateTherapist records a client rating and refreshes the aggregates on the
// therapist profile. A client can only rate a therapist they have completed
// a session with.
func (h *Handler) RateTherapist(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	therapistID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid therapist ID", http.StatusBadRequest)
		return
	}

	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var rateRequest struct {
		Rating  float64 `json:"rating"`
		Comment string  `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&rateRequest); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if rateRequest.Rating < 1 || rateRequest.Rating > 5 {
		http.Error(w, "Rating must be between 1 and 5", http.StatusBadRequest)
		return
	}

	var therapist models.Therapist
	if err := h.db.First(&therapist, therapistID).Error; err != nil {
		http.Error(w, "Therapist not found", http.StatusNotFound)
		return
	}

	var completed int64
	h.db.Model(&models.Appointment{}).
		Where("client_id = ? AND therapist_id = ? AND status = ?", userID, therapist.ID, models.StatusCompleted).
		Count(&completed)
	if completed == 0 {
		http.Error(w, "You can only rate therapists after a completed session", http.StatusForbidden)
		return
	}

	tx := h.db.Begin()

	rating := models.Rating{
		UserID:      userID,
		TherapistID: therapist.ID,
		Rating:      rateRequest.Rating,
		Comment:     rateRequest.Comment,
	}
	if err := tx.Create(&rating).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error saving rating", http.StatusInternalServerError)
		return
	}

	// Recompute aggregates
	var stats struct {
		Avg   float64
		Count int64
	}
	if err := tx.Model(&models.Rating{}).
		Select("AVG(rating) as avg, COUNT(*) as count").
		Where("therapist_id = ?", therapist.ID).
		Scan(&stats).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error updating therapist rating", http.StatusInternalServerError)
		return
	}

	if err := tx.Model(&therapist).Updates(map[string]interface{}{
		"average_rating": stats.Avg,
		"total_ratings":  stats.Count,
	}).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error updating therapist rating", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Error saving rating", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(rating)
}

// GetTherapistRatings lists ratings for a therapist, newest first.
func (h *Handler) GetTherapistRatings(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	therapistID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid therapist ID", http.StatusBadRequest)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize := 10

	query := h.db.Model(&models.Rating{}).
		Where("therapist_id = ?", therapistID).
		Preload("User").
		Order("created_at DESC")

	var total int64
	query.Count(&total)

	var ratings []models.Rating
	if err := query.Offset((page - 1) * pageSize).Limit(pageSize).Find(&ratings).Error; err != nil {
		http.Error(w, "Error retrieving ratings", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"ratings":     ratings,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": (total + int64(pageSize) - 1) / int64(pageSize),
	})
}
