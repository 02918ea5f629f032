package services

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"bib-registry/models"
)

// ErrPercentageExceeded: die Summe der Verantwortungsanteile einer Publikation
// würde 100.00 überschreiten.
var ErrPercentageExceeded = errors.New("responsibility percentages exceed 100.00")

// PublicationRecord wird von allen fünf Variantenmodellen erfüllt.
type PublicationRecord interface {
	Ref() models.RecordRef
}

// Store ist der einzige Mutationspfad für Publikationszeilen, Zuordnungen und
// Wörterbucheinträge. Jede Mutation läuft als Write -> Recompute-Batch ->
// Projektions-Spiegelung in einer Transaktion, sodass ein Leser nach Commit nie
// einen veralteten Cache sieht.
type Store struct {
	DB     *gorm.DB
	Engine *Engine
	Logger *zap.Logger
}

func NewStore(db *gorm.DB, engine *Engine, logger *zap.Logger) *Store {
	return &Store{DB: db, Engine: engine, Logger: logger}
}

// SavePublication legt eine Variantenzeile an oder aktualisiert sie und
// frischt Caches und Projektion auf.
func (s *Store) SavePublication(ctx context.Context, rec PublicationRecord) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(rec).Error; err != nil {
			return err
		}
		batch := s.Engine.NewBatch()
		batch.Touch(EntityPublication, "*", rec.Ref())
		return batch.Flush(tx)
	})
}

// DeletePublication löscht eine Variantenzeile samt Zuordnungen und Projektion.
func (s *Store) DeletePublication(ctx context.Context, ref models.RecordRef) error {
	if !ref.Kind.Valid() {
		return fmt.Errorf("unknown record kind %q", ref.Kind)
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("record_kind = ? AND record_id = ?", ref.Kind, ref.ID).
			Delete(&models.AuthorAssociation{}).Error; err != nil {
			return err
		}
		if err := tx.Where("id = ?", ref.ID).Delete(models.BlankForKind(ref.Kind)).Error; err != nil {
			return err
		}
		return s.Engine.removeUnified(tx, ref)
	})
}

// basis points avoid float drift when summing decimal(5,2) shares
func toBasisPoints(pct float64) int64 {
	return int64(math.Round(pct * 100))
}

// ValidatePercentages prüft, dass die Anteile einer Publikation zusammen mit
// dem ein- oder umgespeicherten Anteil 100.00 nicht überschreiten.
func ValidatePercentages(existing []models.AuthorAssociation, incoming models.AuthorAssociation) error {
	sum := toBasisPoints(incoming.Percentage)
	for _, a := range existing {
		if a.ID != 0 && a.ID == incoming.ID {
			continue // replaced by the incoming row
		}
		sum += toBasisPoints(a.Percentage)
	}
	if sum > 100*100 {
		return fmt.Errorf("%w: total %.2f%%", ErrPercentageExceeded, float64(sum)/100)
	}
	return nil
}

// SaveAssociation legt eine Autorenzuordnung an oder aktualisiert sie.
// Verletzt der Anteil die 100.00-Invariante, wird der Save abgelehnt.
func (s *Store) SaveAssociation(ctx context.Context, assoc *models.AuthorAssociation) error {
	if !assoc.RecordKind.Valid() {
		return fmt.Errorf("unknown record kind %q", assoc.RecordKind)
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var siblings []models.AuthorAssociation
		if err := tx.Select("id", "percentage").
			Where("record_kind = ? AND record_id = ?", assoc.RecordKind, assoc.RecordID).
			Find(&siblings).Error; err != nil {
			return err
		}
		if err := ValidatePercentages(siblings, *assoc); err != nil {
			return err
		}
		if err := tx.Save(assoc).Error; err != nil {
			return err
		}
		batch := s.Engine.NewBatch()
		batch.Touch(EntityAssociation, "*", assoc.Ref())
		return batch.Flush(tx)
	})
}

// SaveAssociations speichert mehrere Zuordnungen einer logischen Operation;
// der Recompute-Batch dedupliziert auf einen Pass pro betroffener Publikation.
func (s *Store) SaveAssociations(ctx context.Context, assocs []*models.AuthorAssociation) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch := s.Engine.NewBatch()
		for _, assoc := range assocs {
			if !assoc.RecordKind.Valid() {
				return fmt.Errorf("unknown record kind %q", assoc.RecordKind)
			}
			var siblings []models.AuthorAssociation
			if err := tx.Select("id", "percentage").
				Where("record_kind = ? AND record_id = ?", assoc.RecordKind, assoc.RecordID).
				Find(&siblings).Error; err != nil {
				return err
			}
			if err := ValidatePercentages(siblings, *assoc); err != nil {
				return err
			}
			if err := tx.Save(assoc).Error; err != nil {
				return err
			}
			batch.Touch(EntityAssociation, "*", assoc.Ref())
		}
		return batch.Flush(tx)
	})
}

// DeleteAssociation löscht eine Zuordnung. War sie die letzte der Publikation,
// kaskadiert die Neuberechnung und entfernt Quellzeile und Projektion.
func (s *Store) DeleteAssociation(ctx context.Context, id uint) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var assoc models.AuthorAssociation
		if err := tx.Take(&assoc, id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.AuthorAssociation{}, id).Error; err != nil {
			return err
		}
		batch := s.Engine.NewBatch()
		batch.Touch(EntityAssociation, "*", assoc.Ref())
		return batch.Flush(tx)
	})
}

// SaveAuthor aktualisiert die Personenakte und frischt die Namens-Caches aller
// Publikationen des Autors auf.
func (s *Store) SaveAuthor(ctx context.Context, author *models.Author) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(author).Error; err != nil {
			return err
		}
		refs, err := s.refsForAssociations(tx, "author_id = ?", author.ID)
		if err != nil {
			return err
		}
		batch := s.Engine.NewBatch()
		batch.Touch(EntityAuthor, "*", refs...)
		return batch.Flush(tx)
	})
}

// SaveRoleType aktualisiert einen Rollentyp (Label, Anzeigereihenfolge) und
// frischt die Beschreibungen aller betroffenen Publikationen auf.
func (s *Store) SaveRoleType(ctx context.Context, role *models.RoleType) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(role).Error; err != nil {
			return err
		}
		refs, err := s.refsForAssociations(tx, "role_type_id = ?", role.ID)
		if err != nil {
			return err
		}
		batch := s.Engine.NewBatch()
		batch.Touch(EntityRoleType, "*", refs...)
		return batch.Flush(tx)
	})
}

// DeleteRoleType löscht einen Rollentyp. Publikationen, deren Zuordnungen ihn
// referenzieren, werden unklassifizierbar und kaskadiert entfernt.
func (s *Store) DeleteRoleType(ctx context.Context, id uint) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		refs, err := s.refsForAssociations(tx, "role_type_id = ?", id)
		if err != nil {
			return err
		}
		if err := tx.Delete(&models.RoleType{}, id).Error; err != nil {
			return err
		}
		batch := s.Engine.NewBatch()
		batch.Touch(EntityRoleType, "*", refs...)
		return batch.Flush(tx)
	})
}

// DeleteCorrectionStatus löscht einen Korrekturstatus mit derselben Kaskade.
func (s *Store) DeleteCorrectionStatus(ctx context.Context, id uint) error {
	return s.deleteRecordDependency(ctx, "status_id = ?", id, &models.CorrectionStatus{})
}

// DeleteLanguage löscht eine Sprache mit derselben Kaskade.
func (s *Store) DeleteLanguage(ctx context.Context, id uint) error {
	return s.deleteRecordDependency(ctx, "language_id = ?", id, &models.Language{})
}

// DeleteFormalCharacter löscht einen Publikationstyp mit derselben Kaskade.
func (s *Store) DeleteFormalCharacter(ctx context.Context, id uint) error {
	return s.deleteRecordDependency(ctx, "character_id = ?", id, &models.FormalCharacter{})
}

// deleteRecordDependency löscht eine Wörterbuchzeile, auf die Publikationszeilen
// direkt verweisen. Die betroffenen Zeilen laufen nicht über den Feldgraphen
// (der kennt nur Cache-Eingaben), sondern direkt durch einen vollen
// Recompute-Pass: der erkennt die fehlende Pflicht-Referenz und kaskadiert
// Quellzeile samt Projektion noch in derselben Transaktion.
func (s *Store) deleteRecordDependency(ctx context.Context, cond string, id uint, dict interface{}) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var refs []models.RecordRef
		for _, kind := range models.AllKinds {
			var ids []uint
			if err := tx.Table(models.TableForKind(kind)).Where(cond, id).Pluck("id", &ids).Error; err != nil {
				return err
			}
			for _, rid := range ids {
				refs = append(refs, models.RecordRef{Kind: kind, ID: rid})
			}
		}
		if err := tx.Where("id = ?", id).Delete(dict).Error; err != nil {
			return err
		}
		if !s.Engine.Active() {
			return nil
		}
		for _, ref := range refs {
			if err := s.Engine.RecomputeRecord(tx, ref); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) refsForAssociations(tx *gorm.DB, cond string, arg interface{}) ([]models.RecordRef, error) {
	var rows []models.AuthorAssociation
	if err := tx.Select("record_kind", "record_id").Where(cond, arg).Find(&rows).Error; err != nil {
		return nil, err
	}
	seen := make(map[models.RecordRef]bool)
	var refs []models.RecordRef
	for _, r := range rows {
		ref := r.Ref()
		if !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}
	return refs, nil
}
