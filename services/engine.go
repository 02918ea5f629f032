package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bib-registry/models"
)

var (
	// ErrRecordMissing: die Quellzeile existiert nicht (mehr).
	ErrRecordMissing = errors.New("source record not found")

	// ErrUnresolvable: eine Pflicht-Referenz der Quellzeile ist nicht mehr
	// auflösbar; die Zeile ist kein gültiger Domänenzustand und wird kaskadiert
	// gelöscht statt einen teilberechneten Cache zu persistieren.
	ErrUnresolvable = errors.New("required dependency unresolvable")
)

// EngineConfig konfiguriert die Denormalisierungs-Engine pro Instanz;
// es gibt bewusst keinen prozessweiten Schalter.
type EngineConfig struct {
	Enabled   bool
	Formatter CitationFormatter
}

// Engine hält description_cache, author_names_cache, recorded_author_names_cache
// und slug als reine Funktionen des deklarierten Abhängigkeitsgraphen aktuell.
// Alle Schreibzugriffe auf denormalisierte Felder laufen ausschließlich hier.
type Engine struct {
	cfg       EngineConfig
	db        *gorm.DB
	logger    *zap.Logger
	graph     *Graph
	suspended atomic.Int32
}

// NewEngine erstellt eine Engine mit dem Standard-Abhängigkeitsgraphen.
func NewEngine(cfg EngineConfig, db *gorm.DB, logger *zap.Logger) *Engine {
	if cfg.Formatter == nil {
		cfg.Formatter = DefaultFormatter{}
	}
	return &Engine{
		cfg:    cfg,
		db:     db,
		logger: logger,
		graph:  DefaultGraph(),
	}
}

// Graph liefert den Abhängigkeitsgraphen der Engine.
func (e *Engine) Graph() *Graph { return e.graph }

// Active meldet, ob Schreibzugriffe aktuell Neuberechnungen auslösen.
func (e *Engine) Active() bool {
	return e.cfg.Enabled && e.suspended.Load() == 0
}

// Suspend schaltet die Engine für einen Bulk-Import ab und liefert die
// Resume-Funktion. Während der Suspendierung werden Trigger verworfen;
// der schlimmste Fall ist ein veralteter Cache, reparierbar durch einen
// anschließenden FullRefresh.
func (e *Engine) Suspend() (resume func()) {
	e.suspended.Add(1)
	var done atomic.Bool
	return func() {
		if done.CompareAndSwap(false, true) {
			e.suspended.Add(-1)
		}
	}
}

// RecordSnapshot ist der für eine Neuberechnung gelesene Zustand einer Zeile.
type RecordSnapshot struct {
	Ref models.RecordRef

	Title           string
	TranslatedTitle string
	Year            int
	LanguageID      uint
	StatusID        uint
	CharacterID     uint
	ImpactFactor    float64
	MinistryPoints  float64
	Affiliated      bool

	SourceName  string
	StatusLabel string

	Associations []AssociationView
}

// variant row scan target; per kind only a subset of columns is selected.
type recordRow struct {
	ID              uint
	Title           string
	TranslatedTitle string
	Year            int
	LanguageID      uint
	StatusID        uint
	CharacterID     uint
	ImpactFactor    float64
	MinistryPoints  float64
	Affiliated      bool
	Journal         string
	Publisher       string
	PatentOffice    string
}

// baseColumns wird immer gelesen: Identität plus die Spalten, die die
// UnifiedRecord-Projektion spiegelt.
var baseColumns = []string{
	"id", "title", "year", "language_id", "status_id", "character_id",
	"impact_factor", "ministry_points", "affiliated",
}

func sourceColumn(kind models.RecordKind) string {
	switch kind {
	case models.KindArticle:
		return "journal"
	case models.KindBook:
		return "publisher"
	case models.KindPatent:
		return "patent_office"
	}
	return ""
}

// LoadSnapshot liest die Quellzeile mit selektivem Spaltenzugriff: über die
// Basisspalten hinaus werden nur die Spalten geholt, die der Graph für die
// angefragten berechneten Felder deklariert.
func (e *Engine) LoadSnapshot(tx *gorm.DB, ref models.RecordRef, fields []ComputedField) (*RecordSnapshot, error) {
	table := models.TableForKind(ref.Kind)
	if table == "" {
		return nil, fmt.Errorf("unknown record kind %q", ref.Kind)
	}

	cols := append([]string{}, baseColumns...)
	for _, logical := range e.graph.Columns(EntityPublication, fields) {
		switch logical {
		case "translated_title":
			cols = append(cols, "translated_title")
		case "source_name":
			if sc := sourceColumn(ref.Kind); sc != "" {
				cols = append(cols, sc)
			}
		}
	}

	var row recordRow
	if err := tx.Table(table).Select(cols).Where("id = ?", ref.ID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordMissing
		}
		return nil, err
	}

	snap := &RecordSnapshot{
		Ref:             ref,
		Title:           row.Title,
		TranslatedTitle: row.TranslatedTitle,
		Year:            row.Year,
		LanguageID:      row.LanguageID,
		StatusID:        row.StatusID,
		CharacterID:     row.CharacterID,
		ImpactFactor:    row.ImpactFactor,
		MinistryPoints:  row.MinistryPoints,
		Affiliated:      row.Affiliated,
	}
	switch ref.Kind {
	case models.KindArticle:
		snap.SourceName = row.Journal
	case models.KindBook:
		snap.SourceName = row.Publisher
	case models.KindPatent:
		snap.SourceName = row.PatentOffice
	}

	// Required references: language and correction status must resolve.
	var langCount int64
	if err := tx.Model(&models.Language{}).Where("id = ?", row.LanguageID).Count(&langCount).Error; err != nil {
		return nil, err
	}
	if langCount == 0 {
		return nil, fmt.Errorf("%w: language %d", ErrUnresolvable, row.LanguageID)
	}

	var status models.CorrectionStatus
	if err := tx.Where("id = ?", row.StatusID).Take(&status).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: correction status %d", ErrUnresolvable, row.StatusID)
		}
		return nil, err
	}
	snap.StatusLabel = status.Name

	var charCount int64
	if err := tx.Model(&models.FormalCharacter{}).Where("id = ?", row.CharacterID).Count(&charCount).Error; err != nil {
		return nil, err
	}
	if charCount == 0 {
		return nil, fmt.Errorf("%w: formal character %d", ErrUnresolvable, row.CharacterID)
	}

	assocs, err := e.loadAssociations(tx, ref)
	if err != nil {
		return nil, err
	}
	snap.Associations = assocs

	return snap, nil
}

// loadAssociations lädt die Autorenzuordnungen und prüft dabei explizit, dass
// jede referenzierte Autoren- und Rollentypzeile noch existiert; ein Join würde
// fehlende Referenzen stumm verschlucken.
func (e *Engine) loadAssociations(tx *gorm.DB, ref models.RecordRef) ([]AssociationView, error) {
	var rows []models.AuthorAssociation
	if err := tx.
		Select("id", "author_id", "role_type_id", "sequence", "recorded_name").
		Where("record_kind = ? AND record_id = ?", ref.Kind, ref.ID).
		Order("sequence asc, id asc").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no author associations", ErrUnresolvable)
	}

	authorIDs := make([]uint, 0, len(rows))
	roleIDs := make([]uint, 0, len(rows))
	for _, r := range rows {
		authorIDs = append(authorIDs, r.AuthorID)
		roleIDs = append(roleIDs, r.RoleTypeID)
	}

	var authors []models.Author
	if err := tx.Select("id", "surname", "given_names").Where("id IN ?", authorIDs).Find(&authors).Error; err != nil {
		return nil, err
	}
	authorByID := make(map[uint]models.Author, len(authors))
	for _, a := range authors {
		authorByID[a.ID] = a
	}

	var roles []models.RoleType
	if err := tx.Select("id", "code", "label", "display_order").Where("id IN ?", roleIDs).Find(&roles).Error; err != nil {
		return nil, err
	}
	roleByID := make(map[uint]models.RoleType, len(roles))
	for _, r := range roles {
		roleByID[r.ID] = r
	}

	views := make([]AssociationView, 0, len(rows))
	for _, r := range rows {
		author, ok := authorByID[r.AuthorID]
		if !ok {
			return nil, fmt.Errorf("%w: author %d", ErrUnresolvable, r.AuthorID)
		}
		role, ok := roleByID[r.RoleTypeID]
		if !ok {
			return nil, fmt.Errorf("%w: role type %d", ErrUnresolvable, r.RoleTypeID)
		}
		views = append(views, AssociationView{
			Sequence:      r.Sequence,
			RecordedName:  r.RecordedName,
			CanonicalName: author.CanonicalName(),
			RoleCode:      role.Code,
			RoleLabel:     role.Label,
			RoleOrder:     role.DisplayOrder,
		})
	}
	return views, nil
}

// CacheValues sind die berechneten Werte eines Recompute-Passes.
type CacheValues struct {
	Description   string
	AuthorNames   []string
	RecordedNames []string
	Slug          string
}

// ComputeCaches ist die reine Berechnungsfunktion über einem Snapshot.
func ComputeCaches(f CitationFormatter, snap *RecordSnapshot) CacheValues {
	view := RecordView{
		Ref:         snap.Ref,
		Title:       snap.Title,
		Year:        snap.Year,
		SourceName:  snap.SourceName,
		StatusLabel: snap.StatusLabel,
	}
	return CacheValues{
		Description:   f.FormatDescription(view, snap.Associations),
		AuthorNames:   CanonicalNames(snap.Associations),
		RecordedNames: RecordedNames(snap.Associations),
		Slug:          RecordSlug(snap.Title, snap.Ref),
	}
}

// RecomputeRecord berechnet alle vier Felder einer Zeile neu und spiegelt sie
// in die Projektion. Fehlende Quellzeile oder Kaskade werden lokal absorbiert.
func (e *Engine) RecomputeRecord(tx *gorm.DB, ref models.RecordRef) error {
	return e.RecomputeFields(tx, ref, AllComputedFields)
}

// RecomputeFields berechnet die gegebene Feldmenge neu. Fehlt die
// Projektionszeile noch, wird auf eine vollständige Neuberechnung eskaliert,
// damit nie ein teilbefüllter Cache eingefügt wird.
func (e *Engine) RecomputeFields(tx *gorm.DB, ref models.RecordRef, fields []ComputedField) error {
	if len(fields) < len(AllComputedFields) {
		var n int64
		if err := tx.Model(&models.UnifiedRecord{}).
			Where("kind = ? AND source_id = ?", ref.Kind, ref.ID).
			Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			fields = AllComputedFields
		}
	}

	snap, err := e.LoadSnapshot(tx, ref, fields)
	switch {
	case errors.Is(err, ErrRecordMissing):
		return e.removeUnified(tx, ref)
	case errors.Is(err, ErrUnresolvable):
		e.logger.Info("Cascading delete of unresolvable record",
			zap.String("record", ref.String()), zap.String("reason", err.Error()))
		return e.cascadeDelete(tx, ref)
	case err != nil:
		return err
	}

	caches := ComputeCaches(e.cfg.Formatter, snap)

	has := func(f ComputedField) bool {
		for _, x := range fields {
			if x == f {
				return true
			}
		}
		return false
	}

	// Variant row carries description and slug; name arrays live only on the
	// projection.
	variantUpdates := map[string]interface{}{"updated_at": time.Now()}
	if has(FieldDescription) {
		variantUpdates["description_cache"] = caches.Description
	}
	if has(FieldSlug) {
		variantUpdates["slug"] = caches.Slug
	}
	if len(variantUpdates) > 1 {
		if err := tx.Table(models.TableForKind(ref.Kind)).
			Where("id = ?", ref.ID).
			Updates(variantUpdates).Error; err != nil {
			return err
		}
	}

	unified := models.UnifiedRecord{
		Kind:           ref.Kind,
		SourceID:       ref.ID,
		Title:          snap.Title,
		Year:           snap.Year,
		LanguageID:     snap.LanguageID,
		StatusID:       snap.StatusID,
		CharacterID:    snap.CharacterID,
		Affiliated:     snap.Affiliated,
		ImpactFactor:   snap.ImpactFactor,
		MinistryPoints: snap.MinistryPoints,
	}
	updateCols := []string{
		"title", "year", "language_id", "status_id", "character_id",
		"affiliated", "impact_factor", "ministry_points", "updated_at",
	}
	if has(FieldDescription) {
		unified.DescriptionCache = caches.Description
		updateCols = append(updateCols, "description_cache")
	}
	if has(FieldAuthorNames) {
		unified.AuthorNamesCache = mustJSON(caches.AuthorNames)
		updateCols = append(updateCols, "author_names_cache")
	}
	if has(FieldRecordedNames) {
		unified.RecordedAuthorNamesCache = mustJSON(caches.RecordedNames)
		updateCols = append(updateCols, "recorded_author_names_cache")
	}
	if has(FieldSlug) {
		unified.Slug = caches.Slug
		updateCols = append(updateCols, "slug")
	}

	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kind"}, {Name: "source_id"}},
		DoUpdates: clause.AssignmentColumns(updateCols),
	}).Create(&unified).Error
}

func (e *Engine) removeUnified(tx *gorm.DB, ref models.RecordRef) error {
	return tx.Where("kind = ? AND source_id = ?", ref.Kind, ref.ID).
		Delete(&models.UnifiedRecord{}).Error
}

// cascadeDelete entfernt die Quellzeile samt Zuordnungen und Projektion.
func (e *Engine) cascadeDelete(tx *gorm.DB, ref models.RecordRef) error {
	if err := tx.Where("record_kind = ? AND record_id = ?", ref.Kind, ref.ID).
		Delete(&models.AuthorAssociation{}).Error; err != nil {
		return err
	}
	if err := tx.Where("id = ?", ref.ID).Delete(models.BlankForKind(ref.Kind)).Error; err != nil {
		return err
	}
	return e.removeUnified(tx, ref)
}

func mustJSON(v interface{}) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(b)
}

// Batch sammelt die Trigger einer logischen Operation und dedupliziert sie zu
// genau einem Recompute-Pass pro betroffener Zeile.
type Batch struct {
	engine *Engine
	dirty  map[models.RecordRef]map[ComputedField]bool
	order  []models.RecordRef
}

// NewBatch beginnt eine leere Trigger-Sammlung.
func (e *Engine) NewBatch() *Batch {
	return &Batch{
		engine: e,
		dirty:  make(map[models.RecordRef]map[ComputedField]bool),
	}
}

// Touch meldet einen Schreibzugriff auf (entity, field) für die gegebenen
// Zeilen. field "*" steht für "irgendein Feld der Entität". Bei suspendierter
// oder deaktivierter Engine ist Touch ein No-Op.
func (b *Batch) Touch(entity EntityType, field string, refs ...models.RecordRef) {
	if !b.engine.Active() {
		return
	}
	affected := b.engine.graph.Affected(entity, field)
	if len(affected) == 0 {
		return
	}
	for _, ref := range refs {
		set, ok := b.dirty[ref]
		if !ok {
			set = make(map[ComputedField]bool)
			b.dirty[ref] = set
			b.order = append(b.order, ref)
		}
		for _, f := range affected {
			set[f] = true
		}
	}
}

// Size liefert die Zahl der Zeilen, die beim Flush neu berechnet werden.
func (b *Batch) Size() int { return len(b.order) }

// Flush führt pro betroffener Zeile genau einen Recompute-Pass innerhalb der
// Transaktion des Aufrufers aus, sodass Neuberechnung und auslösender Write
// zusammen sichtbar werden.
func (b *Batch) Flush(tx *gorm.DB) error {
	for _, ref := range b.order {
		fields := make([]ComputedField, 0, len(b.dirty[ref]))
		for _, f := range AllComputedFields {
			if b.dirty[ref][f] {
				fields = append(fields, f)
			}
		}
		if err := b.engine.RecomputeFields(tx, ref, fields); err != nil {
			return err
		}
	}
	b.dirty = make(map[models.RecordRef]map[ComputedField]bool)
	b.order = nil
	return nil
}
