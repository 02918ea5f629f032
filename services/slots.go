package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bib-registry/config"
	"bib-registry/models"
)

// SlotCostMissingError: für die Klassifikation/Jahr-Kombination ist keine
// Slot-Kosten-Konfiguration hinterlegt; der Scope ist nicht berechenbar.
type SlotCostMissingError struct {
	CharacterCode string
	Year          int
}

func (e *SlotCostMissingError) Error() string {
	return fmt.Sprintf("no slot cost configured for character %q in year %d", e.CharacterCode, e.Year)
}

// EvaluationCandidate ist das transiente (Identität, Gewicht, Wert)-Tripel
// einer Publikation für einen Evaluations-Scope.
type EvaluationCandidate struct {
	Ref    models.RecordRef `json:"ref"`
	Weight float64          `json:"weight"` // slot cost
	Value  float64          `json:"value"`  // point contribution
}

// SlotBuilder orchestriert pro Scope (Autor, Jahr, Disziplin) das Einsammeln
// der anrechenbaren Publikationen, den Allokator-Lauf und das Persistieren des
// Ergebnisses. Die Sequenz Lesen-Allokieren-Schreiben läuft pro Scope in einer
// Transaktion; konkurrierende Trigger desselben Scopes werden serialisiert.
type SlotBuilder struct {
	Config *config.Config
	DB     *gorm.DB
	Logger *zap.Logger

	mu     sync.Mutex
	scopes map[string]*sync.Mutex
}

func NewSlotBuilder(cfg *config.Config, db *gorm.DB, logger *zap.Logger) *SlotBuilder {
	return &SlotBuilder{
		Config: cfg,
		DB:     db,
		Logger: logger,
		scopes: make(map[string]*sync.Mutex),
	}
}

func (b *SlotBuilder) scopeLock(authorID uint, year int, disciplineID uint) *sync.Mutex {
	key := fmt.Sprintf("%d/%d/%d", authorID, year, disciplineID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.scopes[key]; ok {
		return m
	}
	m := &sync.Mutex{}
	b.scopes[key] = m
	return m
}

// candidateRow ist das Scan-Ziel der Kandidatenabfrage pro Variantentabelle.
type candidateRow struct {
	ID             uint
	Year           int
	MinistryPoints float64
	CharacterCode  string
}

// collectCandidates sammelt die anrechenbaren Publikationen eines Scopes:
// Disziplin zugewiesen, Affiliation erklärt, Zuordnung aktiv (pinned),
// Korrekturstatus nicht ausgeschlossen, Jahr im Evaluationsfenster.
func (b *SlotBuilder) collectCandidates(tx *gorm.DB, authorID uint, year int, disciplineID uint) ([]EvaluationCandidate, error) {
	if year < b.Config.EvaluationYearFrom || year > b.Config.EvaluationYearTo {
		return nil, nil
	}

	costs, err := b.loadSlotCosts(tx, year)
	if err != nil {
		return nil, err
	}

	var candidates []EvaluationCandidate
	for _, kind := range models.AllKinds {
		table := models.TableForKind(kind)

		var rows []candidateRow
		err := tx.Table(table+" AS p").
			Select("p.id, p.ministry_points, fc.code AS character_code").
			Joins("JOIN author_associations aa ON aa.record_kind = ? AND aa.record_id = p.id", kind).
			Joins("JOIN formal_characters fc ON fc.id = p.character_id").
			Joins("JOIN correction_statuses cs ON cs.id = p.status_id").
			Where("aa.author_id = ? AND aa.discipline_id = ?", authorID, disciplineID).
			Where("aa.affiliated AND aa.pinned").
			Where("p.year = ? AND NOT cs.excluded_from_evaluation", year).
			Order("p.id asc").
			Scan(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("collect %s candidates: %w", kind, err)
		}

		for _, r := range rows {
			cost, ok := costs[r.CharacterCode]
			if !ok {
				return nil, &SlotCostMissingError{CharacterCode: r.CharacterCode, Year: year}
			}
			candidates = append(candidates, EvaluationCandidate{
				Ref:    models.RecordRef{Kind: kind, ID: r.ID},
				Weight: cost,
				Value:  r.MinistryPoints,
			})
		}
	}
	return candidates, nil
}

func (b *SlotBuilder) loadSlotCosts(tx *gorm.DB, year int) (map[string]float64, error) {
	var rows []models.SlotCost
	if err := tx.Where("year = ?", year).Find(&rows).Error; err != nil {
		return nil, err
	}
	costs := make(map[string]float64, len(rows))
	for _, r := range rows {
		costs[r.CharacterCode] = r.Cost
	}
	return costs, nil
}

// BuildScope berechnet die Slot-Zuteilung eines Scopes neu und überschreibt
// das persistierte Ergebnis. Fehlende Slot-Kosten liefern einen
// SlotCostMissingError; in dem Fall wird kein Teilergebnis persistiert.
func (b *SlotBuilder) BuildScope(ctx context.Context, authorID uint, year int, disciplineID uint) (*models.AllocationResult, error) {
	lock := b.scopeLock(authorID, year, disciplineID)
	lock.Lock()
	defer lock.Unlock()

	var result *models.AllocationResult
	err := b.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		candidates, err := b.collectCandidates(tx, authorID, year, disciplineID)
		if err != nil {
			return err
		}

		weights := make([]float64, len(candidates))
		values := make([]float64, len(candidates))
		ids := make([]string, len(candidates))
		for i, c := range candidates {
			weights[i] = c.Weight
			values[i] = c.Value
			ids[i] = c.Ref.String()
		}

		total, selected, err := Knapsack(b.Config.SlotCapacity, weights, values, ids)
		if err != nil {
			return err
		}

		selectedJSON, err := json.Marshal(selected)
		if err != nil {
			return err
		}

		row := models.AllocationResult{
			AuthorID:     authorID,
			Year:         year,
			DisciplineID: disciplineID,
			TotalValue:   total,
			SelectedIDs:  selectedJSON,
			ComputedAt:   time.Now().UTC(),
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "author_id"}, {Name: "year"}, {Name: "discipline_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"total_value", "selected_ids", "computed_at",
			}),
		}).Create(&row).Error; err != nil {
			return err
		}
		result = &row
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.Logger.Info("Slot allocation rebuilt",
		zap.Uint("author_id", authorID), zap.Int("year", year),
		zap.Uint("discipline_id", disciplineID), zap.Float64("total_value", result.TotalValue))
	return result, nil
}

// CheckPublication prüft eine einzelne Publikation: liefert deren Kandidatendaten
// für den Autor, sofern sie überhaupt anrechenbar ist. Nicht anrechenbare
// Publikationen (keine passende Zuordnung, ausgeschlossener Status, Jahr
// außerhalb des Evaluationsfensters) melden gorm.ErrRecordNotFound.
func (b *SlotBuilder) CheckPublication(ctx context.Context, ref models.RecordRef, authorID uint) (*EvaluationCandidate, error) {
	var candidate *EvaluationCandidate
	err := b.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var assoc models.AuthorAssociation
		err := tx.Where("record_kind = ? AND record_id = ? AND author_id = ?", ref.Kind, ref.ID, authorID).
			Where("affiliated AND pinned AND discipline_id IS NOT NULL").
			Take(&assoc).Error
		if err != nil {
			return err
		}

		var row candidateRow
		err = tx.Table(models.TableForKind(ref.Kind)+" AS p").
			Select("p.id, p.year, p.ministry_points, fc.code AS character_code").
			Joins("JOIN formal_characters fc ON fc.id = p.character_id").
			Joins("JOIN correction_statuses cs ON cs.id = p.status_id").
			Where("p.id = ? AND NOT cs.excluded_from_evaluation", ref.ID).
			Take(&row).Error
		if err != nil {
			return err
		}
		if row.Year < b.Config.EvaluationYearFrom || row.Year > b.Config.EvaluationYearTo {
			return gorm.ErrRecordNotFound
		}

		costs, err := b.loadSlotCosts(tx, row.Year)
		if err != nil {
			return err
		}
		cost, ok := costs[row.CharacterCode]
		if !ok {
			return &SlotCostMissingError{CharacterCode: row.CharacterCode, Year: row.Year}
		}

		candidate = &EvaluationCandidate{
			Ref:    ref,
			Weight: cost,
			Value:  row.MinistryPoints,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return candidate, nil
}

// scopeKey ist ein (Autor, Jahr, Disziplin)-Tripel für den Bulk-Rebuild.
type scopeKey struct {
	AuthorID     uint
	Year         int
	DisciplineID uint
}

// listScopes zählt alle Scopes auf, für die anrechenbare Zuordnungen existieren.
func (b *SlotBuilder) listScopes(ctx context.Context) ([]scopeKey, error) {
	seen := make(map[scopeKey]bool)
	var scopes []scopeKey

	for _, kind := range models.AllKinds {
		table := models.TableForKind(kind)

		var rows []struct {
			AuthorID     uint
			Year         int
			DisciplineID uint
		}
		err := b.DB.WithContext(ctx).Table("author_associations AS aa").
			Select("DISTINCT aa.author_id, p.year, aa.discipline_id").
			Joins("JOIN "+table+" p ON aa.record_kind = ? AND aa.record_id = p.id", kind).
			Where("aa.discipline_id IS NOT NULL AND aa.affiliated AND aa.pinned").
			Where("p.year BETWEEN ? AND ?", b.Config.EvaluationYearFrom, b.Config.EvaluationYearTo).
			Scan(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("list %s scopes: %w", kind, err)
		}
		for _, r := range rows {
			k := scopeKey{AuthorID: r.AuthorID, Year: r.Year, DisciplineID: r.DisciplineID}
			if !seen[k] {
				seen[k] = true
				scopes = append(scopes, k)
			}
		}
	}
	return scopes, nil
}

// BuildAuthorYear berechnet alle Disziplin-Scopes eines Autors für ein Jahr neu.
func (b *SlotBuilder) BuildAuthorYear(ctx context.Context, authorID uint, year int) (int, error) {
	scopes, err := b.listScopes(ctx)
	if err != nil {
		return 0, err
	}
	built := 0
	for _, s := range scopes {
		if s.AuthorID != authorID || s.Year != year {
			continue
		}
		if _, err := b.BuildScope(ctx, s.AuthorID, s.Year, s.DisciplineID); err != nil {
			return built, err
		}
		built++
	}
	return built, nil
}

// RebuildAll berechnet jeden bekannten Scope neu (nach Bulk-Loads oder
// Änderungen der Slot-Kosten-Konfiguration). Scopes ohne konfigurierte
// Slot-Kosten werden übersprungen und geloggt, nicht abgebrochen.
func (b *SlotBuilder) RebuildAll(ctx context.Context) (int, error) {
	scopes, err := b.listScopes(ctx)
	if err != nil {
		return 0, err
	}

	var mu sync.Mutex
	built := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.Config.RebuildWorkers)
	for _, s := range scopes {
		s := s
		g.Go(func() error {
			if _, err := b.BuildScope(gctx, s.AuthorID, s.Year, s.DisciplineID); err != nil {
				var missing *SlotCostMissingError
				if errors.As(err, &missing) {
					b.Logger.Warn("Scope not computable, skipping",
						zap.Uint("author_id", s.AuthorID), zap.Int("year", s.Year),
						zap.Uint("discipline_id", s.DisciplineID), zap.Error(err))
					return nil
				}
				return err
			}
			mu.Lock()
			built++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return built, err
	}
	return built, nil
}
