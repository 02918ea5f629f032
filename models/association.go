package models

import "time"

// AuthorAssociation verknüpft einen Autor mit genau einer Publikationszeile.
// Die Kombination (RecordKind, RecordID) zeigt auf eine der fünf Variantentabellen.
type AuthorAssociation struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	RecordKind RecordKind `json:"record_kind" gorm:"size:32;not null;index:idx_assoc_record"`
	RecordID   uint       `json:"record_id" gorm:"not null;index:idx_assoc_record"`

	AuthorID uint    `json:"author_id" gorm:"not null;index"`
	Author   *Author `json:"author,omitempty"`

	RoleTypeID uint      `json:"role_type_id" gorm:"not null;index"`
	RoleType   *RoleType `json:"role_type,omitempty"`

	// Ordering among co-authors of one record.
	Sequence int `json:"sequence" gorm:"not null;default:0"`

	// Free-text display name as printed on the publication itself;
	// distinct from the author's canonical name.
	RecordedName string `json:"recorded_name" gorm:"not null"`

	// Responsibility share; the sum over one record must not exceed 100.00.
	Percentage float64 `json:"percentage" gorm:"type:decimal(5,2);default:0"`

	DisciplineID *uint       `json:"discipline_id,omitempty" gorm:"index"`
	Discipline   *Discipline `json:"discipline,omitempty"`

	Affiliated bool `json:"affiliated" gorm:"default:false"`
	Pinned     bool `json:"pinned" gorm:"default:true"`
}

func (AuthorAssociation) TableName() string { return "author_associations" }

// Ref liefert die Publikationszeile, auf die diese Zuordnung zeigt.
func (a AuthorAssociation) Ref() RecordRef {
	return RecordRef{Kind: a.RecordKind, ID: a.RecordID}
}
