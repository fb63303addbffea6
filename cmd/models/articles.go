package models

import (
    "github.com/lib/pq"
    "gorm.io/gorm"
)


type Article struct {
    gorm.Model
    AuthorID    uint           `gorm:"column:author_id;not null" json:"author_id"`
    Title       string         `gorm:"column:title;size:255;not null" json:"title"`
    Content     string         `gorm:"column:content;type:text;not null" json:"content"`
    Tags        pq.StringArray `gorm:"type:text[];column:tags" json:"tags,omitempty"`
    Published   bool           `gorm:"column:published;default:true" json:"published"`
    LikesCount  int            `gorm:"column:likes_count;default:0" json:"likes_count"`
    Author      *User          `gorm:"foreignKey:AuthorID" json:"author,omitempty"`
    Images      []ArticleImage `gorm:"foreignKey:ArticleID" json:"images,omitempty"`
}

type ArticleImage struct {
    gorm.Model
    ArticleID uint   `gorm:"column:article_id;not null" json:"article_id"`
    URL       string `gorm:"column:url;not null" json:"url"`
    Caption   string `gorm:"column:caption" json:"caption,omitempty"`
}

type ArticleLike struct {
    gorm.Model
    UserID    uint  `gorm:"column:user_id;not null" json:"user_id"`
    ArticleID uint  `gorm:"column:article_id;not null" json:"article_id"`
    User      *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}
