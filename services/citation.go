package services

import (
	"sort"
	"strconv"
	"strings"

	"bib-registry/models"
)

// AssociationView ist die formatierungsrelevante Sicht auf eine Autorenzuordnung.
type AssociationView struct {
	Sequence      int    `json:"sequence"`
	RecordedName  string `json:"recorded_name"`
	CanonicalName string `json:"canonical_name"`
	RoleCode      string `json:"role_code"`
	RoleLabel     string `json:"role_label"`
	RoleOrder     int    `json:"role_order"`
}

// RecordView ist die formatierungsrelevante Sicht auf eine Publikationszeile.
type RecordView struct {
	Ref         models.RecordRef
	Title       string
	Year        int
	SourceName  string // journal, publisher, patent office - whatever the variant carries
	StatusLabel string
}

// CitationFormatter rendert den bibliografischen Beschreibungstext.
// Die Interpunktions- und Gruppierungsregeln sind eine austauschbare Strategie;
// DefaultFormatter implementiert die Hauskonvention.
type CitationFormatter interface {
	FormatAuthors(assocs []AssociationView) string
	FormatDescription(rec RecordView, assocs []AssociationView) string
}

// DefaultFormatter gruppiert nach Rollentyp in kanonischer Anzeige-Reihenfolge,
// ordnet innerhalb einer Gruppe streng nach Sequenznummer und rendert
// "[ROLE-A] Name1, Name2, [ROLE-B] Name3." in Großbuchstaben.
type DefaultFormatter struct{}

// FormatAuthors rendert nur den Autorenteil der Beschreibung.
func (DefaultFormatter) FormatAuthors(assocs []AssociationView) string {
	if len(assocs) == 0 {
		return ""
	}

	ordered := make([]AssociationView, len(assocs))
	copy(ordered, assocs)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].RoleOrder != ordered[j].RoleOrder {
			return ordered[i].RoleOrder < ordered[j].RoleOrder
		}
		return ordered[i].Sequence < ordered[j].Sequence
	})

	var b strings.Builder
	lastRole := ""
	for i, a := range ordered {
		if a.RoleCode != lastRole {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("[")
			b.WriteString(a.RoleLabel)
			b.WriteString("] ")
			lastRole = a.RoleCode
		} else {
			b.WriteString(", ")
		}
		b.WriteString(a.RecordedName)
	}
	b.WriteString(".")

	return strings.ToUpper(b.String())
}

// FormatDescription rendert die vollständige bibliografische Beschreibung:
// Autorenteil, Titel, Quelle, Jahr und - falls gesetzt - Statusmarkierung.
func (f DefaultFormatter) FormatDescription(rec RecordView, assocs []AssociationView) string {
	var b strings.Builder
	b.WriteString(f.FormatAuthors(assocs))

	if rec.Title != "" {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(strings.ToUpper(rec.Title))
		b.WriteString(".")
	}
	if rec.SourceName != "" {
		b.WriteString(" ")
		b.WriteString(strings.ToUpper(rec.SourceName))
		b.WriteString(".")
	}
	if rec.Year > 0 {
		b.WriteString(" ")
		b.WriteString(strconv.Itoa(rec.Year))
		b.WriteString(".")
	}
	if rec.StatusLabel != "" {
		b.WriteString(" [")
		b.WriteString(strings.ToUpper(rec.StatusLabel))
		b.WriteString("]")
	}

	return strings.TrimSpace(b.String())
}

// CanonicalNames liefert die kanonischen Namen ("Surname Firstname") in
// Beschreibungsreihenfolge für den author_names_cache.
func CanonicalNames(assocs []AssociationView) []string {
	return orderedNames(assocs, func(a AssociationView) string { return a.CanonicalName })
}

// RecordedNames liefert die auf der Publikation abgedruckten Namen in
// Beschreibungsreihenfolge für den recorded_author_names_cache.
func RecordedNames(assocs []AssociationView) []string {
	return orderedNames(assocs, func(a AssociationView) string { return a.RecordedName })
}

func orderedNames(assocs []AssociationView, pick func(AssociationView) string) []string {
	ordered := make([]AssociationView, len(assocs))
	copy(ordered, assocs)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].RoleOrder != ordered[j].RoleOrder {
			return ordered[i].RoleOrder < ordered[j].RoleOrder
		}
		return ordered[i].Sequence < ordered[j].Sequence
	})
	names := make([]string, 0, len(ordered))
	for _, a := range ordered {
		names = append(names, pick(a))
	}
	return names
}
