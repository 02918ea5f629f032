package services

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bib-registry/config"
	"bib-registry/models"
)

// Integrationstests laufen nur gegen eine echte PostgreSQL-Instanz.
// Ohne TEST_DATABASE_URL werden sie übersprungen.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.Language{}, &models.CorrectionStatus{}, &models.FormalCharacter{},
		&models.RoleType{}, &models.Discipline{}, &models.Unit{}, &models.Author{},
		&models.ContinuousPublication{}, &models.BoundPublication{}, &models.Patent{},
		&models.DoctoralThesis{}, &models.HabilitationThesis{},
		&models.AuthorAssociation{}, &models.UnifiedRecord{},
		&models.SlotCost{}, &models.AllocationResult{},
	))

	require.NoError(t, db.Exec(`TRUNCATE
		languages, correction_statuses, formal_characters, role_types,
		disciplines, units, authors,
		continuous_publications, bound_publications, patents,
		doctoral_theses, habilitation_theses,
		author_associations, unified_records, slot_costs, allocation_results
		RESTART IDENTITY CASCADE`).Error)

	return db
}

type fixture struct {
	db         *gorm.DB
	engine     *Engine
	store      *Store
	projection *ProjectionService

	language models.Language
	status   models.CorrectionStatus
	excluded models.CorrectionStatus
	article  models.FormalCharacter
	author   models.RoleType
	editor   models.RoleType
	doe      models.Author
	smith    models.Author
	field    models.Discipline
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()
	db := setupTestDB(t)
	log := zap.NewNop()
	engine := NewEngine(EngineConfig{Enabled: true}, db, log)

	f := &fixture{
		db:         db,
		engine:     engine,
		store:      NewStore(db, engine, log),
		projection: NewProjectionService(db, engine, log),

		language: models.Language{Code: "en", Name: "English"},
		status:   models.CorrectionStatus{Name: "verified"},
		excluded: models.CorrectionStatus{Name: "retracted", ExcludedFromEvaluation: true},
		article:  models.FormalCharacter{Code: "ART", Name: "Article"},
		author:   models.RoleType{Code: "author", Label: "Author", DisplayOrder: 1},
		editor:   models.RoleType{Code: "editor", Label: "Editor", DisplayOrder: 2},
		doe:      models.Author{Surname: "Doe", GivenNames: "Anna"},
		smith:    models.Author{Surname: "Smith", GivenNames: "John"},
		field:    models.Discipline{Name: "Computer Science"},
	}
	require.NoError(t, db.Create(&f.language).Error)
	require.NoError(t, db.Create(&f.status).Error)
	require.NoError(t, db.Create(&f.excluded).Error)
	require.NoError(t, db.Create(&f.article).Error)
	require.NoError(t, db.Create(&f.author).Error)
	require.NoError(t, db.Create(&f.editor).Error)
	require.NoError(t, db.Create(&f.doe).Error)
	require.NoError(t, db.Create(&f.smith).Error)
	require.NoError(t, db.Create(&f.field).Error)
	return f
}

func (f *fixture) newArticle(t *testing.T, title string, year int) models.RecordRef {
	t.Helper()
	pub := models.ContinuousPublication{
		PublicationBase: models.PublicationBase{
			Title:       title,
			Year:        year,
			LanguageID:  f.language.ID,
			StatusID:    f.status.ID,
			CharacterID: f.article.ID,
			Affiliated:  true,
		},
		Journal: "Test Journal",
	}
	require.NoError(t, f.db.Create(&pub).Error)

	assoc := models.AuthorAssociation{
		RecordKind:   models.KindArticle,
		RecordID:     pub.ID,
		AuthorID:     f.doe.ID,
		RoleTypeID:   f.author.ID,
		Sequence:     1,
		RecordedName: "Doe A",
		Percentage:   100,
		DisciplineID: &f.field.ID,
		Affiliated:   true,
		Pinned:       true,
	}
	require.NoError(t, f.store.SaveAssociation(context.Background(), &assoc))
	return pub.Ref()
}

func (f *fixture) unifiedCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.UnifiedRecord{}).Count(&n).Error)
	return n
}

func TestEngineMaintainsCaches(t *testing.T) {
	f := setupFixture(t)
	ref := f.newArticle(t, "Graph Databases in Practice", 2022)

	var unified models.UnifiedRecord
	require.NoError(t, f.db.Where("kind = ? AND source_id = ?", ref.Kind, ref.ID).First(&unified).Error)
	assert.Equal(t, "[AUTHOR] DOE A. GRAPH DATABASES IN PRACTICE. TEST JOURNAL. 2022.", unified.DescriptionCache)
	assert.Equal(t, "graph-databases-in-practice-article-1", unified.Slug)

	var names []string
	require.NoError(t, json.Unmarshal(unified.AuthorNamesCache, &names))
	assert.Equal(t, []string{"Doe Anna"}, names)

	// description also lands on the variant row itself
	var pub models.ContinuousPublication
	require.NoError(t, f.db.First(&pub, ref.ID).Error)
	assert.Equal(t, unified.DescriptionCache, pub.DescriptionCache)
	assert.Equal(t, unified.Slug, pub.Slug)

	t.Run("editing an association refreshes the caches", func(t *testing.T) {
		var assoc models.AuthorAssociation
		require.NoError(t, f.db.Where("record_id = ?", ref.ID).First(&assoc).Error)
		assoc.RecordedName = "Doe A B"
		require.NoError(t, f.store.SaveAssociation(context.Background(), &assoc))

		var unified models.UnifiedRecord
		require.NoError(t, f.db.Where("kind = ? AND source_id = ?", ref.Kind, ref.ID).First(&unified).Error)
		assert.Contains(t, unified.DescriptionCache, "DOE A B")
	})

	t.Run("swapping sequence numbers reorders the name caches", func(t *testing.T) {
		ref := f.newArticle(t, "Second Paper", 2022)
		second := models.AuthorAssociation{
			RecordKind: ref.Kind, RecordID: ref.ID,
			AuthorID: f.smith.ID, RoleTypeID: f.author.ID,
			Sequence: 2, RecordedName: "Smith J",
		}
		require.NoError(t, f.store.SaveAssociation(context.Background(), &second))

		var unified models.UnifiedRecord
		require.NoError(t, f.db.Where("kind = ? AND source_id = ?", ref.Kind, ref.ID).First(&unified).Error)
		var recorded []string
		require.NoError(t, json.Unmarshal(unified.RecordedAuthorNamesCache, &recorded))
		assert.Equal(t, []string{"Doe A", "Smith J"}, recorded)

		// swap
		var assocs []models.AuthorAssociation
		require.NoError(t, f.db.Where("record_id = ?", ref.ID).Order("sequence").Find(&assocs).Error)
		assocs[0].Sequence, assocs[1].Sequence = 2, 1
		require.NoError(t, f.store.SaveAssociations(context.Background(), []*models.AuthorAssociation{&assocs[0], &assocs[1]}))

		require.NoError(t, f.db.Where("kind = ? AND source_id = ?", ref.Kind, ref.ID).First(&unified).Error)
		require.NoError(t, json.Unmarshal(unified.RecordedAuthorNamesCache, &recorded))
		assert.Equal(t, []string{"Smith J", "Doe A"}, recorded)
	})
}

func TestDeleteCascades(t *testing.T) {
	f := setupFixture(t)

	t.Run("deleting the last association removes the record", func(t *testing.T) {
		ref := f.newArticle(t, "Orphaned Soon", 2020)
		var assoc models.AuthorAssociation
		require.NoError(t, f.db.Where("record_id = ?", ref.ID).First(&assoc).Error)

		require.NoError(t, f.store.DeleteAssociation(context.Background(), assoc.ID))

		var n int64
		f.db.Model(&models.ContinuousPublication{}).Where("id = ?", ref.ID).Count(&n)
		assert.Zero(t, n, "source row must be gone")
		f.db.Model(&models.UnifiedRecord{}).Where("source_id = ?", ref.ID).Count(&n)
		assert.Zero(t, n, "projection row must be gone")
	})

	t.Run("deleting a role type removes every referencing record", func(t *testing.T) {
		refA := f.newArticle(t, "Uses Role A", 2021)
		refB := f.newArticle(t, "Uses Role B", 2021)
		before := f.unifiedCount(t)
		require.GreaterOrEqual(t, before, int64(2))

		require.NoError(t, f.store.DeleteRoleType(context.Background(), f.author.ID))

		var n int64
		f.db.Model(&models.UnifiedRecord{}).
			Where("source_id IN ?", []uint{refA.ID, refB.ID}).Count(&n)
		assert.Zero(t, n)
		f.db.Model(&models.ContinuousPublication{}).
			Where("id IN ?", []uint{refA.ID, refB.ID}).Count(&n)
		assert.Zero(t, n)
	})
}

// Sprache und Publikationstyp sind Pflicht-Referenzen ohne Cache-Eingabe,
// ihr Löschen muss trotzdem noch in derselben Transaktion kaskadieren.
func TestLanguageDeleteCascades(t *testing.T) {
	f := setupFixture(t)
	refA := f.newArticle(t, "Written In English", 2021)
	refB := f.newArticle(t, "Also In English", 2022)

	require.NoError(t, f.store.DeleteLanguage(context.Background(), f.language.ID))

	var n int64
	f.db.Model(&models.ContinuousPublication{}).Where("id IN ?", []uint{refA.ID, refB.ID}).Count(&n)
	assert.Zero(t, n, "source rows must be gone")
	f.db.Model(&models.UnifiedRecord{}).Where("source_id IN ?", []uint{refA.ID, refB.ID}).Count(&n)
	assert.Zero(t, n, "projection rows must be gone")
	f.db.Model(&models.AuthorAssociation{}).Where("record_id IN ?", []uint{refA.ID, refB.ID}).Count(&n)
	assert.Zero(t, n, "associations must be gone")
}

func TestFormalCharacterDeleteCascades(t *testing.T) {
	f := setupFixture(t)
	ref := f.newArticle(t, "Typed As Article", 2021)

	require.NoError(t, f.store.DeleteFormalCharacter(context.Background(), f.article.ID))

	var n int64
	f.db.Model(&models.FormalCharacter{}).Where("id = ?", f.article.ID).Count(&n)
	assert.Zero(t, n, "dictionary row must be gone")
	f.db.Model(&models.ContinuousPublication{}).Where("id = ?", ref.ID).Count(&n)
	assert.Zero(t, n, "source row must be gone")
	f.db.Model(&models.UnifiedRecord{}).Where("source_id = ?", ref.ID).Count(&n)
	assert.Zero(t, n, "projection row must be gone")
}

func TestPercentageInvariantInStore(t *testing.T) {
	f := setupFixture(t)
	ref := f.newArticle(t, "Shared Work", 2022) // Doe holds 100%

	over := models.AuthorAssociation{
		RecordKind: ref.Kind, RecordID: ref.ID,
		AuthorID: f.smith.ID, RoleTypeID: f.author.ID,
		Sequence: 2, RecordedName: "Smith J", Percentage: 0.01,
	}
	err := f.store.SaveAssociation(context.Background(), &over)
	assert.ErrorIs(t, err, ErrPercentageExceeded)

	// the rejected row must not exist
	var n int64
	f.db.Model(&models.AuthorAssociation{}).Where("record_id = ?", ref.ID).Count(&n)
	assert.Equal(t, int64(1), n)
}

func TestFullRefreshIsIdempotent(t *testing.T) {
	f := setupFixture(t)
	f.newArticle(t, "Stable Under Refresh", 2022)
	f.newArticle(t, "Another One", 2023)

	var before []models.UnifiedRecord
	require.NoError(t, f.db.Order("source_id").Find(&before).Error)

	for i := 0; i < 2; i++ {
		n, err := f.projection.FullRefresh(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	}

	var after []models.UnifiedRecord
	require.NoError(t, f.db.Order("source_id").Find(&after).Error)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].Slug, after[i].Slug, "slug must be reproducible")
		assert.Equal(t, before[i].DescriptionCache, after[i].DescriptionCache)
	}

	t.Run("refresh drops stale projection rows", func(t *testing.T) {
		stale := models.UnifiedRecord{Kind: models.KindArticle, SourceID: 9999, Title: "ghost", Slug: "ghost-article-9999"}
		require.NoError(t, f.db.Create(&stale).Error)

		_, err := f.projection.FullRefresh(context.Background())
		require.NoError(t, err)

		var n int64
		f.db.Model(&models.UnifiedRecord{}).Where("source_id = ?", 9999).Count(&n)
		assert.Zero(t, n)
	})
}

func TestSuspendedEngineLeavesCachesStale(t *testing.T) {
	f := setupFixture(t)
	ref := f.newArticle(t, "Bulk Loaded", 2022)

	resume := f.engine.Suspend()
	var assoc models.AuthorAssociation
	require.NoError(t, f.db.Where("record_id = ?", ref.ID).First(&assoc).Error)
	assoc.RecordedName = "Changed While Suspended"
	require.NoError(t, f.store.SaveAssociation(context.Background(), &assoc))
	resume()

	var unified models.UnifiedRecord
	require.NoError(t, f.db.Where("source_id = ?", ref.ID).First(&unified).Error)
	assert.NotContains(t, unified.DescriptionCache, "CHANGED WHILE SUSPENDED")

	// a full refresh repairs the stale cache
	_, err := f.projection.FullRefresh(context.Background())
	require.NoError(t, err)
	require.NoError(t, f.db.Where("source_id = ?", ref.ID).First(&unified).Error)
	assert.Contains(t, unified.DescriptionCache, "CHANGED WHILE SUSPENDED")
}

func TestSlotBuilder(t *testing.T) {
	f := setupFixture(t)
	cfg := &config.Config{
		SlotCapacity:       4,
		EvaluationYearFrom: 2017,
		EvaluationYearTo:   2030,
		RebuildWorkers:     2,
	}
	builder := NewSlotBuilder(cfg, f.db, zap.NewNop())

	year := 2022
	makeCandidate := func(t *testing.T, title string, points float64) models.RecordRef {
		ref := f.newArticle(t, title, year)
		require.NoError(t, f.db.Model(&models.ContinuousPublication{}).
			Where("id = ?", ref.ID).Update("ministry_points", points).Error)
		return ref
	}

	t.Run("missing slot cost is not computable", func(t *testing.T) {
		makeCandidate(t, "No Cost Configured", 100)
		_, err := builder.BuildScope(context.Background(), f.doe.ID, year, f.field.ID)
		var missing *SlotCostMissingError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, "ART", missing.CharacterCode)
		assert.Equal(t, year, missing.Year)

		var n int64
		f.db.Model(&models.AllocationResult{}).Count(&n)
		assert.Zero(t, n, "no partial result may be persisted")
	})

	require.NoError(t, f.db.Create(&models.SlotCost{CharacterCode: "ART", Year: year, Cost: 1.0}).Error)

	t.Run("fast path takes everything within capacity", func(t *testing.T) {
		makeCandidate(t, "Second Candidate", 40)
		result, err := builder.BuildScope(context.Background(), f.doe.ID, year, f.field.ID)
		require.NoError(t, err)
		assert.Equal(t, 140.0, result.TotalValue)

		var selected []string
		require.NoError(t, json.Unmarshal(result.SelectedIDs, &selected))
		assert.Len(t, selected, 2)
	})

	t.Run("excluded status drops the candidate", func(t *testing.T) {
		ref := makeCandidate(t, "Retracted Candidate", 500)
		require.NoError(t, f.db.Model(&models.ContinuousPublication{}).
			Where("id = ?", ref.ID).Update("status_id", f.excluded.ID).Error)

		result, err := builder.BuildScope(context.Background(), f.doe.ID, year, f.field.ID)
		require.NoError(t, err)
		assert.Equal(t, 140.0, result.TotalValue, "retracted points must not count")
	})

	t.Run("capacity forces the knapsack choice", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			makeCandidate(t, "Filler", 10)
		}
		// seven candidates at cost 1.0 against capacity 4: the four most
		// valuable win (100 + 40 + 10 + 10)
		result, err := builder.BuildScope(context.Background(), f.doe.ID, year, f.field.ID)
		require.NoError(t, err)
		assert.Equal(t, 160.0, result.TotalValue)

		var selected []string
		require.NoError(t, json.Unmarshal(result.SelectedIDs, &selected))
		assert.Len(t, selected, 4)
	})

	t.Run("check reports an eligible candidate", func(t *testing.T) {
		ref := makeCandidate(t, "Checkable", 55)
		cand, err := builder.CheckPublication(context.Background(), ref, f.doe.ID)
		require.NoError(t, err)
		assert.Equal(t, ref, cand.Ref)
		assert.Equal(t, 1.0, cand.Weight)
		assert.Equal(t, 55.0, cand.Value)
	})

	t.Run("check rejects records outside the evaluation window", func(t *testing.T) {
		ref := f.newArticle(t, "Before The Window", 2003)
		_, err := builder.CheckPublication(context.Background(), ref, f.doe.ID)
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	})

	t.Run("rebuild all covers every scope", func(t *testing.T) {
		built, err := builder.RebuildAll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, built)
	})
}
