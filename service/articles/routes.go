package articles

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/mindhaven/mindhaven-server/cmd/models"
	"github.com/mindhaven/mindhaven-server/cmd/utils"
	"gorm.io/gorm"
)

type ArticleHandler struct {
    db *gorm.DB
}

func NewArticleHandler(db *gorm.DB) *ArticleHandler {
    return &ArticleHandler{db: db}
}

func (h *ArticleHandler) RegisterRoutes(router *mux.Router) {
    router.HandleFunc("/articles", utils.AuthMiddleware(h.CreateArticle)).Methods("POST")
    router.HandleFunc("/articles", h.GetArticles).Methods("GET")
    router.HandleFunc("/articles/{id}", h.GetArticle).Methods("GET")
    router.HandleFunc("/articles/{id}", utils.AuthMiddleware(h.UpdateArticle)).Methods("PUT")
    router.HandleFunc("/articles/{id}", utils.AuthMiddleware(h.DeleteArticle)).Methods("DELETE")

    router.HandleFunc("/articles/{id}/like", utils.AuthMiddleware(h.LikeArticle)).Methods("POST")
    router.HandleFunc("/articles/{id}/unlike", utils.AuthMiddleware(h.UnlikeArticle)).Methods("POST")
}

// CreateArticle publishes a wellness article. Only therapists and admins can
// author articles.
func (h *ArticleHandler) CreateArticle(w http.ResponseWriter, r *http.Request) {
    userID, err := utils.GetUserIDFromContext(r.Context())
    if err != nil {
        http.Error(w, "Unauthorized", http.StatusUnauthorized)
        return
    }

    var author models.User
    if err := h.db.First(&author, userID).Error; err != nil {
        http.Error(w, "Unauthorized", http.StatusUnauthorized)
        return
    }
    if author.Role != models.RoleTherapist && author.Role != models.RoleAdmin {
        http.Error(w, "Only therapists can publish articles", http.StatusForbidden)
        return
    }

    err = r.ParseMultipartForm(50 << 20)
    if err != nil {
        http.Error(w, "Error parsing form", http.StatusBadRequest)
        return
    }

    title := r.FormValue("title")
    content := r.FormValue("content")
    if title == "" || content == "" {
        http.Error(w, "Title and content are required", http.StatusBadRequest)
        return
    }

    var tags []string
    if rawTags := r.FormValue("tags"); rawTags != "" {
        if err := json.Unmarshal([]byte(rawTags), &tags); err != nil {
            http.Error(w, "Invalid tags format", http.StatusBadRequest)
            return
        }
    }

    tx := h.db.Begin()

    article := models.Article{
        AuthorID: userID,
        Title:    title,
        Content:  content,
        Tags:     tags,
    }

    if err := tx.Create(&article).Error; err != nil {
        tx.Rollback()
        http.Error(w, "Error creating article", http.StatusInternalServerError)
        return
    }

    // Handle multiple image uploads
    files := r.MultipartForm.File["images"]
    for i, fileHeader := range files {
        file, err := fileHeader.Open()
        if err != nil {
            tx.Rollback()
            http.Error(w, "Error processing image", http.StatusInternalServerError)
            return
        }
        defer file.Close()

        imageURL, err := utils.SaveImage(file, fileHeader)
        if err != nil {
            tx.Rollback()
            http.Error(w, fmt.Sprintf("Error saving image: %v", err), http.StatusInternalServerError)
            return
        }

        image := models.ArticleImage{
            ArticleID: article.ID,
            URL:       imageURL,
            Caption:   r.FormValue(fmt.Sprintf("caption_%d", i)),
        }

        if err := tx.Create(&image).Error; err != nil {
            tx.Rollback()
            // Clean up saved image
            utils.DeleteImage(imageURL)
            http.Error(w, "Error saving image record", http.StatusInternalServerError)
            return
        }
    }

    if err := tx.Commit().Error; err != nil {
        http.Error(w, "Error saving article", http.StatusInternalServerError)
        return
    }

    h.db.Preload("Author").Preload("Images").First(&article, article.ID)

    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(http.StatusCreated)
    json.NewEncoder(w).Encode(article)
}

// GetArticles retrieves published articles with pagination. Filter by tag or
// author with query parameters.
func (h *ArticleHandler) GetArticles(w http.ResponseWriter, r *http.Request) {
    page, _ := strconv.Atoi(r.URL.Query().Get("page"))
    if page < 1 {
        page = 1
    }
    pageSize := 10

    var articles []models.Article
    var total int64

    query := h.db.Model(&models.Article{}).
        Where("published = ?", true).
        Preload("Author").
        Preload("Images")

    if tag := r.URL.Query().Get("tag"); tag != "" {
        query = query.Where("? = ANY(tags)", tag)
    }
    if author := r.URL.Query().Get("author"); author != "" {
        query = query.Where("author_id = ?", author)
    }

    query.Count(&total)

    if err := query.Order("created_at DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&articles).Error; err != nil {
        http.Error(w, "Error retrieving articles", http.StatusInternalServerError)
        return
    }

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(map[string]interface{}{
        "articles":    articles,
        "total":       total,
        "page":        page,
        "page_size":   pageSize,
        "total_pages": (total + int64(pageSize) - 1) / int64(pageSize),
    })
}

// GetArticle retrieves a specific article
func (h *ArticleHandler) GetArticle(w http.ResponseWriter, r *http.Request) {
    vars := mux.Vars(r)
    articleID, err := strconv.ParseUint(vars["id"], 10, 64)
    if err != nil {
        http.Error(w, "Invalid article ID", http.StatusBadRequest)
        return
    }

    var article models.Article
    if err := h.db.Preload("Author").Preload("Images").First(&article, articleID).Error; err != nil {
        http.Error(w, "Article not found", http.StatusNotFound)
        return
    }

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(article)
}

// UpdateArticle edits an article's content. Only the author can edit.
func (h *ArticleHandler) UpdateArticle(w http.ResponseWriter, r *http.Request) {
    vars := mux.Vars(r)
    articleID, err := strconv.ParseUint(vars["id"], 10, 64)
    if err != nil {
        http.Error(w, "Invalid article ID", http.StatusBadRequest)
        return
    }

    userID, err := utils.GetUserIDFromContext(r.Context())
    if err != nil {
        http.Error(w, "Unauthorized", http.StatusUnauthorized)
        return
    }

    var updateData struct {
        Title     string   `json:"title"`
        Content   string   `json:"content"`
        Tags      []string `json:"tags"`
        Published *bool    `json:"published"`
    }
    if err := json.NewDecoder(r.Body).Decode(&updateData); err != nil {
        http.Error(w, "Invalid request body", http.StatusBadRequest)
        return
    }

    var article models.Article
    if err := h.db.First(&article, articleID).Error; err != nil {
        http.Error(w, "Article not found", http.StatusNotFound)
        return
    }

    if article.AuthorID != userID {
        http.Error(w, "Only the author can edit this article", http.StatusForbidden)
        return
    }

    if updateData.Title != "" {
        article.Title = updateData.Title
    }
    if updateData.Content != "" {
        article.Content = updateData.Content
    }
    if updateData.Tags != nil {
        article.Tags = updateData.Tags
    }
    if updateData.Published != nil {
        article.Published = *updateData.Published
    }

    if err := h.db.Save(&article).Error; err != nil {
        http.Error(w, "Error updating article", http.StatusInternalServerError)
        return
    }

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(article)
}

// DeleteArticle deletes an article and its associated likes and images
func (h *ArticleHandler) DeleteArticle(w http.ResponseWriter, r *http.Request) {
    vars := mux.Vars(r)
    articleID, err := strconv.ParseUint(vars["id"], 10, 64)
    if err != nil {
        http.Error(w, "Invalid article ID", http.StatusBadRequest)
        return
    }

    userID, err := utils.GetUserIDFromContext(r.Context())
    if err != nil {
        http.Error(w, "Unauthorized", http.StatusUnauthorized)
        return
    }

    var article models.Article
    if err := h.db.First(&article, articleID).Error; err != nil {
        http.Error(w, "Article not found", http.StatusNotFound)
        return
    }

    if article.AuthorID != userID {
        http.Error(w, "Only the author can delete this article", http.StatusForbidden)
        return
    }

    tx := h.db.Begin()

    if err := tx.Where("article_id = ?", articleID).Delete(&models.ArticleLike{}).Error; err != nil {
        tx.Rollback()
        http.Error(w, "Error deleting likes", http.StatusInternalServerError)
        return
    }

    if err := tx.Where("article_id = ?", articleID).Delete(&models.ArticleImage{}).Error; err != nil {
        tx.Rollback()
        http.Error(w, "Error deleting images", http.StatusInternalServerError)
        return
    }

    if err := tx.Delete(&article).Error; err != nil {
        tx.Rollback()
        http.Error(w, "Error deleting article", http.StatusInternalServerError)
        return
    }

    tx.Commit()

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(map[string]string{
        "message": "Article deleted successfully",
    })
}

// LikeArticle handles liking an article
func (h *ArticleHandler) LikeArticle(w http.ResponseWriter, r *http.Request) {
    vars := mux.Vars(r)
    articleID, err := strconv.ParseUint(vars["id"], 10, 64)
    if err != nil {
        http.Error(w, "Invalid article ID", http.StatusBadRequest)
        return
    }

    userID, err := utils.GetUserIDFromContext(r.Context())
    if err != nil {
        http.Error(w, "Unauthorized", http.StatusUnauthorized)
        return
    }

    tx := h.db.Begin()

    // Check if already liked
    var existingLike models.ArticleLike
    if err := tx.Where("user_id = ? AND article_id = ?", userID, articleID).First(&existingLike).Error; err == nil {
        tx.Rollback()
        http.Error(w, "Article already liked", http.StatusConflict)
        return
    }

    like := models.ArticleLike{
        UserID:    userID,
        ArticleID: uint(articleID),
    }

    if err := tx.Create(&like).Error; err != nil {
        tx.Rollback()
        http.Error(w, "Error liking article", http.StatusInternalServerError)
        return
    }

    if err := tx.Model(&models.Article{}).Where("id = ?", articleID).
        UpdateColumn("likes_count", gorm.Expr("likes_count + ?", 1)).Error; err != nil {
        tx.Rollback()
        http.Error(w, "Error updating likes count", http.StatusInternalServerError)
        return
    }

    tx.Commit()

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(map[string]string{
        "message": "Article liked successfully",
    })
}

// UnlikeArticle removes a like from an article
func (h *ArticleHandler) UnlikeArticle(w http.ResponseWriter, r *http.Request) {
    vars := mux.Vars(r)
    articleID, err := strconv.ParseUint(vars["id"], 10, 64)
    if err != nil {
        http.Error(w, "Invalid article ID", http.StatusBadRequest)
        return
    }

    userID, err := utils.GetUserIDFromContext(r.Context())
    if err != nil {
        http.Error(w, "Unauthorized", http.StatusUnauthorized)
        return
    }

    tx := h.db.Begin()

    result := tx.Where("user_id = ? AND article_id = ?", userID, articleID).Delete(&models.ArticleLike{})
    if result.Error != nil {
        tx.Rollback()
        http.Error(w, "Error unliking article", http.StatusInternalServerError)
        return
    }

    if result.RowsAffected == 0 {
        tx.Rollback()
        http.Error(w, "Article was not liked", http.StatusBadRequest)
        return
    }

    if err := tx.Model(&models.Article{}).Where("id = ?", articleID).
        UpdateColumn("likes_count", gorm.Expr("likes_count - ?", 1)).Error; err != nil {
        tx.Rollback()
        http.Error(w, "Error updating likes count", http.StatusInternalServerError)
        return
    }

    tx.Commit()

    w.Header().Set("Content-Type", "application/json")
    json.NewEncoder(w).Encode(map[string]string{
        "message": "Article unliked successfully",
    })
}
