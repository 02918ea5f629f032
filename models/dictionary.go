package models

// Language repräsentiert die Publikationssprache.
type Language struct {
	ID   uint   `json:"id" gorm:"primaryKey"`
	Code string `json:"code" gorm:"size:8;uniqueIndex;not null"` // z.B. "pol", "eng"
	Name string `json:"name" gorm:"not null"`
}

func (Language) TableName() string { return "languages" }

// CorrectionStatus ist der redaktionelle Korrekturstatus eines Eintrags.
type CorrectionStatus struct {
	ID   uint   `json:"id" gorm:"primaryKey"`
	Name string `json:"name" gorm:"uniqueIndex;not null"` // z.B. "before correction", "after correction"

	// Records in this status never enter slot accounting.
	ExcludedFromEvaluation bool `json:"excluded_from_evaluation" gorm:"default:false"`
}

func (CorrectionStatus) TableName() string { return "correction_statuses" }

// FormalCharacter klassifiziert die formale Art der Publikation; der Code
// ist der Schlüssel in die Slot-Kosten-Tabelle.
type FormalCharacter struct {
	ID   uint   `json:"id" gorm:"primaryKey"`
	Code string `json:"code" gorm:"size:16;uniqueIndex;not null"` // z.B. "AC", "KSZ", "PAT"
	Name string `json:"name" gorm:"not null"`
}

func (FormalCharacter) TableName() string { return "formal_characters" }

// RoleType beschreibt die Verantwortlichkeit eines Autors an einer Publikation.
// DisplayOrder legt die kanonische Gruppenreihenfolge in der Beschreibung fest.
type RoleType struct {
	ID           uint   `json:"id" gorm:"primaryKey"`
	Code         string `json:"code" gorm:"size:32;uniqueIndex;not null"` // author, editor, translator, other
	Label        string `json:"label" gorm:"not null"`                    // rendered inside [..] in the description
	DisplayOrder int    `json:"display_order" gorm:"not null;default:0"`
}

func (RoleType) TableName() string { return "role_types" }

// Discipline ist das wissenschaftliche Fach, dem die Beteiligung eines Autors
// für die Evaluation zugeordnet wird.
type Discipline struct {
	ID   uint   `json:"id" gorm:"primaryKey"`
	Code string `json:"code" gorm:"size:16;uniqueIndex;not null"`
	Name string `json:"name" gorm:"not null"`
}

func (Discipline) TableName() string { return "disciplines" }

// Unit ist eine institutionelle Einheit (Klinik, Institut, Abteilung).
type Unit struct {
	ID   uint   `json:"id" gorm:"primaryKey"`
	Name string `json:"name" gorm:"uniqueIndex;not null"`
}

func (Unit) TableName() string { return "units" }

// Author ist die kanonische Personenakte eines Forschers.
type Author struct {
	ID         uint   `json:"id" gorm:"primaryKey"`
	Surname    string `json:"surname" gorm:"index;not null"`
	GivenNames string `json:"given_names"`
	UnitID     *uint  `json:"unit_id,omitempty"`
	Unit       *Unit  `json:"unit,omitempty"`
}

func (Author) TableName() string { return "authors" }

// CanonicalName liefert "Surname GivenNames" für den Namens-Cache.
func (a Author) CanonicalName() string {
	if a.GivenNames == "" {
		return a.Surname
	}
	return a.Surname + " " + a.GivenNames
}
