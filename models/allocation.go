package models

import (
	"time"

	"gorm.io/datatypes"
)

// SlotCost konfiguriert die Slot-Kosten einer Publikationsklasse für ein Jahr.
type SlotCost struct {
	ID            uint    `json:"id" gorm:"primaryKey"`
	CharacterCode string  `json:"character_code" gorm:"size:16;not null;uniqueIndex:idx_slot_cost"`
	Year          int     `json:"year" gorm:"not null;uniqueIndex:idx_slot_cost"`
	Cost          float64 `json:"cost" gorm:"type:decimal(8,4);not null"`
}

func (SlotCost) TableName() string { return "slot_costs" }

// AllocationResult ist das persistierte Ergebnis einer Slot-Zuteilung für
// einen Scope (Autor, Jahr, Disziplin). Wird bei jedem Rebuild überschrieben.
type AllocationResult struct {
	ID uint `json:"id" gorm:"primaryKey"`

	AuthorID     uint `json:"author_id" gorm:"not null;uniqueIndex:idx_alloc_scope"`
	Year         int  `json:"year" gorm:"not null;uniqueIndex:idx_alloc_scope"`
	DisciplineID uint `json:"discipline_id" gorm:"not null;uniqueIndex:idx_alloc_scope"`

	TotalValue float64 `json:"total_value" gorm:"type:decimal(12,4);not null"`

	// JSON array of record refs ("article/42", ...), in input order.
	SelectedIDs datatypes.JSON `json:"selected_ids" gorm:"type:jsonb"`

	ComputedAt time.Time `json:"computed_at"`
}

func (AllocationResult) TableName() string { return "allocation_results" }
