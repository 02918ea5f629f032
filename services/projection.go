package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"bib-registry/models"
)

// ProjectionService pflegt die UnifiedRecord-Projektion über die fünf
// Variantentabellen. Alle Mutationen der Projektion laufen über Upsert,
// Remove und FullRefresh; kein anderer Code schreibt die Tabelle.
type ProjectionService struct {
	DB     *gorm.DB
	Engine *Engine
	Logger *zap.Logger
}

func NewProjectionService(db *gorm.DB, engine *Engine, logger *zap.Logger) *ProjectionService {
	return &ProjectionService{DB: db, Engine: engine, Logger: logger}
}

// Upsert legt die Projektionszeile für eine Quellzeile an oder frischt sie auf.
// Nicht auflösbare Pflicht-Referenzen schlagen weich fehl: es entsteht keine
// Projektionszeile, die Kaskadenentscheidung liegt bei der Engine.
func (p *ProjectionService) Upsert(tx *gorm.DB, ref models.RecordRef) error {
	return p.Engine.RecomputeRecord(tx, ref)
}

// Remove löscht die Projektionszeile einer gelöschten Quellzeile.
func (p *ProjectionService) Remove(tx *gorm.DB, ref models.RecordRef) error {
	return p.Engine.removeUnified(tx, ref)
}

// FullRefresh baut die gesamte Projektion aus dem aktuellen Zustand aller
// Variantentabellen neu auf. Idempotent: ein zweiter Lauf erzeugt byte-gleiche
// Cache-Felder und dieselbe Identitätsmenge. Liefert die Zahl der
// aufgefrischten Zeilen.
func (p *ProjectionService) FullRefresh(ctx context.Context) (int, error) {
	refreshed := 0

	for _, kind := range models.AllKinds {
		table := models.TableForKind(kind)

		var ids []uint
		if err := p.DB.WithContext(ctx).Table(table).Order("id asc").Pluck("id", &ids).Error; err != nil {
			return refreshed, fmt.Errorf("list %s: %w", table, err)
		}

		for _, id := range ids {
			if ctx.Err() != nil {
				return refreshed, ctx.Err()
			}
			ref := models.RecordRef{Kind: kind, ID: id}
			err := p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				return p.Engine.RecomputeRecord(tx, ref)
			})
			if err != nil {
				// Soft failures are absorbed inside the engine; anything
				// surfacing here is a storage error.
				if errors.Is(err, context.Canceled) {
					return refreshed, err
				}
				p.Logger.Error("Full refresh failed for record",
					zap.String("record", ref.String()), zap.Error(err))
				return refreshed, err
			}
			refreshed++
		}

		// Drop projection rows whose source row disappeared.
		if err := p.DB.WithContext(ctx).Exec(
			"DELETE FROM unified_records WHERE kind = ? AND source_id NOT IN (SELECT id FROM "+table+")",
			kind,
		).Error; err != nil {
			return refreshed, fmt.Errorf("prune %s projection: %w", kind, err)
		}
	}

	p.Logger.Info("Projection full refresh completed", zap.Int("records", refreshed))
	return refreshed, nil
}
