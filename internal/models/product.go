package models

import (
	"fmt"
	"time"
)

const MediaTypeImage = "image"

// MediaEntry is one element of a product's media list.
type MediaEntry struct {
	ID           string     `json:"id"`
	URL          string     `json:"url"`
	PublicID     string     `json:"publicId,omitempty"`
	Type         string     `json:"type"`
	IsEnhanced   bool       `json:"isEnhanced,omitempty"`
	EnhancedFrom string     `json:"enhancedFrom,omitempty"`
	EnhancedAt   *time.Time `json:"enhancedAt,omitempty"`
}

type Product struct {
	ID       string
	StoreID  string
	Media    []MediaEntry
	Revision int64
}

// NewEnhancedMediaEntry builds the entry appended after a successful enhancement.
// The id embeds the creation time so enhancing the same source twice never collides.
func NewEnhancedMediaEntry(mediaFileID, url, publicID string, now time.Time) MediaEntry {
	at := now.UTC()
	return MediaEntry{
		ID:           fmt.Sprintf("%s_enhanced_%d", mediaFileID, at.UnixMilli()),
		URL:          url,
		PublicID:     publicID,
		Type:         MediaTypeImage,
		IsEnhanced:   true,
		EnhancedFrom: mediaFileID,
		EnhancedAt:   &at,
	}
}
