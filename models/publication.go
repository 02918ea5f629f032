package models

import "time"

// PublicationBase bündelt die Felder, die alle fünf Publikationsvarianten teilen.
// DescriptionCache und Slug werden ausschließlich von der Denormalisierung
// geschrieben und über die UnifiedRecord-Projektion gespiegelt.
type PublicationBase struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Title           string `json:"title" gorm:"type:text;not null"`
	TranslatedTitle string `json:"translated_title,omitempty" gorm:"type:text"`
	Year            int    `json:"year" gorm:"index;not null"`

	LanguageID  uint `json:"language_id" gorm:"not null"`
	StatusID    uint `json:"status_id" gorm:"not null"`    // correction status
	CharacterID uint `json:"character_id" gorm:"not null"` // formal character

	ImpactFactor   float64 `json:"impact_factor" gorm:"type:decimal(8,3);default:0"`
	MinistryPoints float64 `json:"ministry_points" gorm:"type:decimal(8,4);default:0"`
	InternalScore  float64 `json:"internal_score" gorm:"type:decimal(8,4);default:0"`

	Affiliated bool `json:"affiliated" gorm:"default:true"`
	Reviewed   bool `json:"reviewed" gorm:"default:false"`

	// Denormalized, engine-owned.
	DescriptionCache string `json:"description_cache,omitempty" gorm:"type:text"`
	Slug             string `json:"slug,omitempty" gorm:"size:512;index"`
}

// ContinuousPublication ist ein Artikel in einer fortlaufenden Publikation
// (Zeitschrift, Serie).
type ContinuousPublication struct {
	PublicationBase

	Journal string `json:"journal" gorm:"index"`
	Volume  string `json:"volume,omitempty"`
	Pages   string `json:"pages,omitempty"`
}

func (ContinuousPublication) TableName() string { return "continuous_publications" }

func (p ContinuousPublication) Ref() RecordRef { return RecordRef{Kind: KindArticle, ID: p.ID} }

// BoundPublication ist ein buchartiges Werk (Monographie, Sammelband, Kapitel).
type BoundPublication struct {
	PublicationBase

	Publisher string `json:"publisher,omitempty"`
	Place     string `json:"place,omitempty"`
	ISBN      string `json:"isbn,omitempty" gorm:"size:32"`
}

func (BoundPublication) TableName() string { return "bound_publications" }

func (p BoundPublication) Ref() RecordRef { return RecordRef{Kind: KindBook, ID: p.ID} }

// Patent repräsentiert ein erteiltes oder angemeldetes Patent.
type Patent struct {
	PublicationBase

	PatentOffice string     `json:"patent_office,omitempty"`
	PatentNumber string     `json:"patent_number,omitempty" gorm:"size:64;index"`
	GrantedAt    *time.Time `json:"granted_at,omitempty"`
}

func (Patent) TableName() string { return "patents" }

func (p Patent) Ref() RecordRef { return RecordRef{Kind: KindPatent, ID: p.ID} }

// DoctoralThesis ist eine Doktorarbeit.
type DoctoralThesis struct {
	PublicationBase

	DefendingUnitID *uint `json:"defending_unit_id,omitempty"`
}

func (DoctoralThesis) TableName() string { return "doctoral_theses" }

func (p DoctoralThesis) Ref() RecordRef { return RecordRef{Kind: KindDoctoral, ID: p.ID} }

// HabilitationThesis ist eine Habilitationsschrift.
type HabilitationThesis struct {
	PublicationBase

	DefendingUnitID *uint `json:"defending_unit_id,omitempty"`
}

func (HabilitationThesis) TableName() string { return "habilitation_theses" }

func (p HabilitationThesis) Ref() RecordRef { return RecordRef{Kind: KindHabilitation, ID: p.ID} }

// TableForKind liefert den Tabellennamen zur Variante.
func TableForKind(kind RecordKind) string {
	switch kind {
	case KindArticle:
		return ContinuousPublication{}.TableName()
	case KindBook:
		return BoundPublication{}.TableName()
	case KindPatent:
		return Patent{}.TableName()
	case KindDoctoral:
		return DoctoralThesis{}.TableName()
	case KindHabilitation:
		return HabilitationThesis{}.TableName()
	}
	return ""
}

// BlankForKind liefert einen leeren Modell-Wert der Variante für GORM-Queries.
func BlankForKind(kind RecordKind) interface{} {
	switch kind {
	case KindArticle:
		return &ContinuousPublication{}
	case KindBook:
		return &BoundPublication{}
	case KindPatent:
		return &Patent{}
	case KindDoctoral:
		return &DoctoralThesis{}
	case KindHabilitation:
		return &HabilitationThesis{}
	}
	return nil
}
