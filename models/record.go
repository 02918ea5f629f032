package models

import (
	"fmt"
	"strconv"
	"strings"
)

// RecordKind ist das Varianten-Tag einer Publikation.
type RecordKind string

const (
	KindArticle      RecordKind = "article"      // journal-style, continuous publication
	KindBook         RecordKind = "book"         // bound publication
	KindPatent       RecordKind = "patent"       //
	KindDoctoral     RecordKind = "doctoral"     // doctoral thesis
	KindHabilitation RecordKind = "habilitation" // habilitation thesis
)

// AllKinds listet jede Publikationsvariante in stabiler Reihenfolge.
var AllKinds = []RecordKind{KindArticle, KindBook, KindPatent, KindDoctoral, KindHabilitation}

// Valid meldet, ob das Tag eine bekannte Variante bezeichnet.
func (k RecordKind) Valid() bool {
	switch k {
	case KindArticle, KindBook, KindPatent, KindDoctoral, KindHabilitation:
		return true
	}
	return false
}

// RecordRef identifiziert genau eine Publikationszeile über alle Varianten hinweg.
type RecordRef struct {
	Kind RecordKind
	ID   uint
}

func (r RecordRef) String() string {
	return string(r.Kind) + "/" + strconv.FormatUint(uint64(r.ID), 10)
}

// ParseRecordRef liest eine "kind/id"-Darstellung zurück in eine RecordRef.
func ParseRecordRef(s string) (RecordRef, error) {
	kind, idPart, ok := strings.Cut(s, "/")
	if !ok {
		return RecordRef{}, fmt.Errorf("invalid record ref %q", s)
	}
	k := RecordKind(kind)
	if !k.Valid() {
		return RecordRef{}, fmt.Errorf("unknown record kind %q", kind)
	}
	id, err := strconv.ParseUint(idPart, 10, 32)
	if err != nil || id == 0 {
		return RecordRef{}, fmt.Errorf("invalid record id %q", idPart)
	}
	return RecordRef{Kind: k, ID: uint(id)}, nil
}
