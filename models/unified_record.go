package models

import (
	"time"

	"gorm.io/datatypes"
)

// UnifiedRecord ist die lesbare Projektion über alle fünf Publikationsvarianten.
// Primärschlüssel ist (Kind, SourceID); jede Zeile spiegelt genau eine
// Quellzeile und existiert nur solange deren Pflicht-Referenzen auflösbar sind.
type UnifiedRecord struct {
	Kind     RecordKind `json:"kind" gorm:"primaryKey;size:32"`
	SourceID uint       `json:"source_id" gorm:"primaryKey"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Filter columns for the read API.
	Title       string `json:"title" gorm:"type:text;not null"`
	Year        int    `json:"year" gorm:"index"`
	LanguageID  uint   `json:"language_id"`
	StatusID    uint   `json:"status_id"`
	CharacterID uint   `json:"character_id" gorm:"index"`
	Affiliated  bool   `json:"affiliated" gorm:"index"`

	ImpactFactor   float64 `json:"impact_factor" gorm:"type:decimal(8,3)"`
	MinistryPoints float64 `json:"ministry_points" gorm:"type:decimal(8,4)"`

	// Denormalized caches, engine-owned.
	DescriptionCache         string         `json:"description_cache" gorm:"type:text"`
	AuthorNamesCache         datatypes.JSON `json:"author_names_cache" gorm:"type:jsonb"`
	RecordedAuthorNamesCache datatypes.JSON `json:"recorded_author_names_cache" gorm:"type:jsonb"`
	Slug                     string         `json:"slug" gorm:"size:512;uniqueIndex"`
}

// TableName gibt explizit den Tabellennamen an.
func (UnifiedRecord) TableName() string { return "unified_records" }

// Ref liefert die Identität der Quellzeile.
func (u UnifiedRecord) Ref() RecordRef { return RecordRef{Kind: u.Kind, ID: u.SourceID} }
