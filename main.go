package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"bib-registry/config"
	"bib-registry/models"
	"bib-registry/services"
	"bib-registry/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	recordsRefreshedCounter prometheus.Counter
	allocationsBuiltCounter prometheus.Counter
)

func init() {
	recordsRefreshedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "unified_records_refreshed_total",
			Help: "Total number of unified record rows recomputed by full refreshes.",
		},
	)
	allocationsBuiltCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "slot_allocations_built_total",
			Help: "Total number of evaluation slot scopes rebuilt.",
		},
	)
	prometheus.MustRegister(recordsRefreshedCounter, allocationsBuiltCounter)
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	// Setup Database Connection
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to bibliography database.")

	// Auto-Migration
	logging.Info("Running database auto-migration...")
	db.AutoMigrate(
		&models.Language{}, &models.CorrectionStatus{}, &models.FormalCharacter{},
		&models.RoleType{}, &models.Discipline{}, &models.Unit{}, &models.Author{},
		&models.ContinuousPublication{}, &models.BoundPublication{}, &models.Patent{},
		&models.DoctoralThesis{}, &models.HabilitationThesis{},
		&models.AuthorAssociation{}, &models.UnifiedRecord{},
		&models.SlotCost{}, &models.AllocationResult{},
	)

	// Seeding
	seedDefaultRoleTypes(db, logging)
	seedDefaultCorrectionStatuses(db, logging)

	// Setup Services
	engine := services.NewEngine(services.EngineConfig{Enabled: cfg.CacheEnabled}, db, logging)
	projection := services.NewProjectionService(db, engine, logging)
	store := services.NewStore(db, engine, logging)
	slots := services.NewSlotBuilder(cfg, db, logging)

	// Setup Router
	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Setup Routes
	setupRecordRoutes(router, db, cfg, projection, logging)
	setupPublicationRoutes(router, db, store, engine, logging)
	setupAssociationRoutes(router, db, store, engine, projection, logging)
	setupDictionaryRoutes(router, db, store, logging)
	setupAllocationRoutes(router, db, cfg, slots, logging)

	// Setup Cron: nightly full refresh plus slot rebuild
	cronScheduler := cron.New()
	cronScheduler.AddFunc(cfg.CronSchedule, func() {
		logging.Info("Running scheduled maintenance job...")
		refreshed, err := projection.FullRefresh(context.Background())
		if err != nil {
			logging.Error("Scheduled projection refresh failed", zap.Error(err))
		} else {
			recordsRefreshedCounter.Add(float64(refreshed))
		}
		built, err := slots.RebuildAll(context.Background())
		if err != nil {
			logging.Error("Scheduled slot rebuild failed", zap.Error(err))
		} else {
			allocationsBuiltCounter.Add(float64(built))
		}
	})
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

// recordRef liest kind und id aus den Pfadparametern.
func recordRef(c *gin.Context) (models.RecordRef, bool) {
	ref, err := models.ParseRecordRef(c.Param("kind") + "/" + c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return models.RecordRef{}, false
	}
	return ref, true
}

func setupRecordRoutes(router *gin.Engine, db *gorm.DB, cfg *config.Config, projection *services.ProjectionService, log *zap.Logger) {
	rg := router.Group("/records")

	// Einfacher GET-Endpunkt über die vereinheitlichte Projektion (ohne Filter: alles)
	rg.GET("/", func(c *gin.Context) {
		query := db.Model(&models.UnifiedRecord{})

		if kind := c.Query("kind"); kind != "" {
			if !models.RecordKind(kind).Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown record kind"})
				return
			}
			query = query.Where("kind = ?", kind)
		}
		if year := c.Query("year"); year != "" {
			query = query.Where("year = ?", year)
		}
		if yearFrom := c.Query("year_from"); yearFrom != "" {
			query = query.Where("year >= ?", yearFrom)
		}
		if yearTo := c.Query("year_to"); yearTo != "" {
			query = query.Where("year <= ?", yearTo)
		}
		if lang := c.Query("language_id"); lang != "" {
			query = query.Where("language_id = ?", lang)
		}
		if status := c.Query("status_id"); status != "" {
			query = query.Where("status_id = ?", status)
		}
		if character := c.Query("character_id"); character != "" {
			query = query.Where("character_id = ?", character)
		}
		if affiliated := c.Query("affiliated"); affiliated != "" {
			query = query.Where("affiliated = ?", affiliated == "true")
		}
		if slug := c.Query("slug"); slug != "" {
			query = query.Where("slug = ?", slug)
		}
		if title := c.Query("title"); title != "" {
			query = query.Where("title ILIKE ?", "%"+title+"%")
		}
		// Autorenfilter über die Zuordnungstabelle, ohne die Projektion zu joinen
		if author := c.Query("author_id"); author != "" {
			query = query.Where(`EXISTS (
				SELECT 1 FROM author_associations aa
				WHERE aa.record_kind = unified_records.kind AND aa.record_id = unified_records.source_id
				AND aa.author_id = ?)`, author)
		}
		if discipline := c.Query("discipline_id"); discipline != "" {
			query = query.Where(`EXISTS (
				SELECT 1 FROM author_associations aa
				WHERE aa.record_kind = unified_records.kind AND aa.record_id = unified_records.source_id
				AND aa.discipline_id = ?)`, discipline)
		}
		if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 {
			query = query.Limit(limit)
		}

		var records []models.UnifiedRecord
		if err := query.Order("year desc, kind, source_id").Find(&records).Error; err != nil {
			log.Error("Database query for unified records failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, records)
	})

	rg.GET("/:kind/:id", func(c *gin.Context) {
		ref, ok := recordRef(c)
		if !ok {
			return
		}
		var record models.UnifiedRecord
		if err := db.Where("kind = ? AND source_id = ?", ref.Kind, ref.ID).First(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
				return
			}
			log.Error("DB error fetching unified record", zap.String("ref", ref.String()), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, record)
	})

	// Voll-Refresh läuft asynchron; der Client pollt über das Log-Korrelations-Token
	rg.POST("/refresh", func(c *gin.Context) {
		jobID := uuid.NewString()
		go func() {
			count, err := projection.FullRefresh(context.Background())
			if err != nil {
				log.Error("Async projection refresh failed", zap.String("job_id", jobID), zap.Error(err))
				return
			}
			recordsRefreshedCounter.Add(float64(count))
			log.Info("Async projection refresh completed", zap.String("job_id", jobID), zap.Int("records", count))
		}()
		c.JSON(http.StatusAccepted, gin.H{"message": "Full projection refresh triggered.", "job_id": jobID})
	})

	// Exportiert die komplette Projektion als JSON-Snapshot ins S3
	rg.POST("/export", func(c *gin.Context) {
		if cfg.StratoS3Bucket == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "S3 export not configured"})
			return
		}
		var records []models.UnifiedRecord
		if err := db.Order("kind, source_id").Find(&records).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		data, err := json.Marshal(records)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to serialize records"})
			return
		}
		s3Client, err := storage.NewS3Client(cfg)
		if err != nil {
			log.Error("S3 client creation failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "S3 client error"})
			return
		}
		key := fmt.Sprintf("exports/unified-records-%s.json", time.Now().UTC().Format("2006-01-02T15-04-05Z"))
		link, err := storage.UploadFile(s3Client, cfg.StratoS3Bucket, key, data, cfg)
		if err != nil {
			log.Error("Failed to upload record export", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to upload export"})
			return
		}
		log.Info("Record export uploaded", zap.String("key", key), zap.Int("records", len(records)))
		c.JSON(http.StatusOK, gin.H{"link": link, "records": len(records)})
	})
}

func setupPublicationRoutes(router *gin.Engine, db *gorm.DB, store *services.Store, engine *services.Engine, log *zap.Logger) {
	rg := router.Group("/publications")

	// bindPublication wählt das Variantenmodell anhand des kind-Pfadsegments.
	bindPublication := func(c *gin.Context, kind models.RecordKind) (services.PublicationRecord, error) {
		switch kind {
		case models.KindArticle:
			var p models.ContinuousPublication
			return &p, c.ShouldBindJSON(&p)
		case models.KindBook:
			var p models.BoundPublication
			return &p, c.ShouldBindJSON(&p)
		case models.KindPatent:
			var p models.Patent
			return &p, c.ShouldBindJSON(&p)
		case models.KindDoctoral:
			var p models.DoctoralThesis
			return &p, c.ShouldBindJSON(&p)
		case models.KindHabilitation:
			var p models.HabilitationThesis
			return &p, c.ShouldBindJSON(&p)
		}
		return nil, errors.New("unknown record kind")
	}

	rg.POST("/:kind", func(c *gin.Context) {
		kind := models.RecordKind(c.Param("kind"))
		if !kind.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown record kind"})
			return
		}
		rec, err := bindPublication(c, kind)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := store.SavePublication(c.Request.Context(), rec); err != nil {
			log.Error("Failed to save publication", zap.String("kind", string(kind)), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save publication"})
			return
		}
		c.JSON(http.StatusCreated, rec)
	})

	rg.PUT("/:kind/:id", func(c *gin.Context) {
		ref, ok := recordRef(c)
		if !ok {
			return
		}
		// Existenz prüfen, bevor der Body gebunden wird
		existing := models.BlankForKind(ref.Kind)
		if err := db.First(existing, ref.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "publication not found"})
				return
			}
			log.Error("DB error checking for publication on PUT", zap.String("ref", ref.String()), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		rec, err := bindPublication(c, ref.Kind)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		setRecordID(rec, ref.ID)
		if err := store.SavePublication(c.Request.Context(), rec); err != nil {
			log.Error("Failed to update publication", zap.String("ref", ref.String()), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update publication"})
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	// Bulk-Import der Publikationszeilen. Die Engine bleibt suspendiert; Caches
	// entstehen erst, wenn der zugehörige Zuordnungs-Import den Refresh anstößt.
	rg.POST("/:kind/bulk", func(c *gin.Context) {
		kind := models.RecordKind(c.Param("kind"))
		if !kind.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown record kind"})
			return
		}
		var raw []json.RawMessage
		if err := c.ShouldBindJSON(&raw); err != nil || len(raw) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: non-empty array expected"})
			return
		}

		resume := engine.Suspend()
		defer resume()

		ids := make([]uint, 0, len(raw))
		err := db.Transaction(func(tx *gorm.DB) error {
			for _, msg := range raw {
				rec := models.BlankForKind(kind)
				if err := json.Unmarshal(msg, rec); err != nil {
					return err
				}
				if err := tx.Create(rec).Error; err != nil {
					return err
				}
				ids = append(ids, rec.(services.PublicationRecord).Ref().ID)
			}
			return nil
		})
		if err != nil {
			log.Error("Bulk import failed", zap.String("kind", string(kind)), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "bulk import failed"})
			return
		}
		log.Info("Bulk import completed", zap.String("kind", string(kind)), zap.Int("rows", len(ids)))
		c.JSON(http.StatusCreated, gin.H{"imported": len(ids), "ids": ids})
	})

	rg.DELETE("/:kind/:id", func(c *gin.Context) {
		ref, ok := recordRef(c)
		if !ok {
			return
		}
		if err := store.DeletePublication(c.Request.Context(), ref); err != nil {
			log.Error("Failed to delete publication", zap.String("ref", ref.String()), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete publication"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "publication deleted", "ref": ref.String()})
	})
}

// setRecordID trägt die Pfad-ID in das gebundene Variantenmodell ein.
func setRecordID(rec services.PublicationRecord, id uint) {
	switch p := rec.(type) {
	case *models.ContinuousPublication:
		p.ID = id
	case *models.BoundPublication:
		p.ID = id
	case *models.Patent:
		p.ID = id
	case *models.DoctoralThesis:
		p.ID = id
	case *models.HabilitationThesis:
		p.ID = id
	}
}

func setupAssociationRoutes(router *gin.Engine, db *gorm.DB, store *services.Store, engine *services.Engine, projection *services.ProjectionService, log *zap.Logger) {
	rg := router.Group("/associations")

	// Bulk-Import der Zuordnungen. Schließt den zweistufigen Bulk-Load ab:
	// zunächst werden die Zeilen roh eingefügt, danach repariert ein
	// asynchroner Voll-Refresh sämtliche Caches.
	rg.POST("/bulk", func(c *gin.Context) {
		var assocs []models.AuthorAssociation
		if err := c.ShouldBindJSON(&assocs); err != nil || len(assocs) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: non-empty array expected"})
			return
		}
		for i := range assocs {
			if !assocs[i].RecordKind.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown record kind in row"})
				return
			}
		}

		resume := engine.Suspend()
		err := db.Transaction(func(tx *gorm.DB) error {
			return tx.Create(&assocs).Error
		})
		resume()
		if err != nil {
			log.Error("Bulk association import failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "bulk import failed"})
			return
		}

		jobID := uuid.NewString()
		go func() {
			count, err := projection.FullRefresh(context.Background())
			if err != nil {
				log.Error("Post-import refresh failed", zap.String("job_id", jobID), zap.Error(err))
				return
			}
			recordsRefreshedCounter.Add(float64(count))
			log.Info("Post-import refresh completed", zap.String("job_id", jobID), zap.Int("records", count))
		}()
		c.JSON(http.StatusAccepted, gin.H{"imported": len(assocs), "refresh_job_id": jobID})
	})

	rg.GET("/:kind/:id", func(c *gin.Context) {
		ref, ok := recordRef(c)
		if !ok {
			return
		}
		var assocs []models.AuthorAssociation
		if err := db.Where("record_kind = ? AND record_id = ?", ref.Kind, ref.ID).
			Order("sequence, id").Find(&assocs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, assocs)
	})

	rg.POST("/", func(c *gin.Context) {
		var assoc models.AuthorAssociation
		if err := c.ShouldBindJSON(&assoc); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := store.SaveAssociation(c.Request.Context(), &assoc); err != nil {
			if errors.Is(err, services.ErrPercentageExceeded) {
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
				return
			}
			log.Error("Failed to save association", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save association"})
			return
		}
		c.JSON(http.StatusCreated, assoc)
	})

	rg.PUT("/:assoc_id", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("assoc_id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid association id"})
			return
		}
		var assoc models.AuthorAssociation
		if err := c.ShouldBindJSON(&assoc); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		assoc.ID = uint(id)
		if err := store.SaveAssociation(c.Request.Context(), &assoc); err != nil {
			if errors.Is(err, services.ErrPercentageExceeded) {
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
				return
			}
			log.Error("Failed to update association", zap.Uint64("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update association"})
			return
		}
		c.JSON(http.StatusOK, assoc)
	})

	rg.DELETE("/:assoc_id", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("assoc_id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid association id"})
			return
		}
		if err := store.DeleteAssociation(c.Request.Context(), uint(id)); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "association not found"})
				return
			}
			log.Error("Failed to delete association", zap.Uint64("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete association"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "association deleted"})
	})
}

func setupDictionaryRoutes(router *gin.Engine, db *gorm.DB, store *services.Store, log *zap.Logger) {
	// Einfache Listen-/Anlage-Endpunkte für die Wörterbuchtabellen
	listAndCreate := func(rg *gin.RouterGroup, blank func() interface{}, list func() interface{}) {
		rg.GET("/", func(c *gin.Context) {
			rows := list()
			if err := db.Find(rows).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
				return
			}
			c.JSON(http.StatusOK, rows)
		})
		rg.POST("/", func(c *gin.Context) {
			row := blank()
			if err := c.ShouldBindJSON(row); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
			if err := db.Create(row).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create entry"})
				return
			}
			c.JSON(http.StatusCreated, row)
		})
	}

	listAndCreate(router.Group("/languages"),
		func() interface{} { return &models.Language{} },
		func() interface{} { return &[]models.Language{} })
	listAndCreate(router.Group("/correction-statuses"),
		func() interface{} { return &models.CorrectionStatus{} },
		func() interface{} { return &[]models.CorrectionStatus{} })
	listAndCreate(router.Group("/formal-characters"),
		func() interface{} { return &models.FormalCharacter{} },
		func() interface{} { return &[]models.FormalCharacter{} })
	listAndCreate(router.Group("/role-types"),
		func() interface{} { return &models.RoleType{} },
		func() interface{} { return &[]models.RoleType{} })
	listAndCreate(router.Group("/disciplines"),
		func() interface{} { return &models.Discipline{} },
		func() interface{} { return &[]models.Discipline{} })
	listAndCreate(router.Group("/units"),
		func() interface{} { return &models.Unit{} },
		func() interface{} { return &[]models.Unit{} })
	listAndCreate(router.Group("/authors"),
		func() interface{} { return &models.Author{} },
		func() interface{} { return &[]models.Author{} })
	listAndCreate(router.Group("/slot-costs"),
		func() interface{} { return &models.SlotCost{} },
		func() interface{} { return &[]models.SlotCost{} })

	parseID := func(c *gin.Context) (uint, bool) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return 0, false
		}
		return uint(id), true
	}

	// Mutationen, die Caches berühren, laufen über den Store (Kaskaden!)
	router.PUT("/authors/:id", func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		var author models.Author
		if err := c.ShouldBindJSON(&author); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		author.ID = id
		if err := store.SaveAuthor(c.Request.Context(), &author); err != nil {
			log.Error("Failed to update author", zap.Uint("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update author"})
			return
		}
		c.JSON(http.StatusOK, author)
	})

	router.PUT("/role-types/:id", func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		var role models.RoleType
		if err := c.ShouldBindJSON(&role); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		role.ID = id
		if err := store.SaveRoleType(c.Request.Context(), &role); err != nil {
			log.Error("Failed to update role type", zap.Uint("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update role type"})
			return
		}
		c.JSON(http.StatusOK, role)
	})

	router.DELETE("/role-types/:id", func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		if err := store.DeleteRoleType(c.Request.Context(), id); err != nil {
			log.Error("Failed to delete role type", zap.Uint("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete role type"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "role type deleted"})
	})

	router.DELETE("/correction-statuses/:id", func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		if err := store.DeleteCorrectionStatus(c.Request.Context(), id); err != nil {
			log.Error("Failed to delete correction status", zap.Uint("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete correction status"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "correction status deleted"})
	})

	router.DELETE("/languages/:id", func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		if err := store.DeleteLanguage(c.Request.Context(), id); err != nil {
			log.Error("Failed to delete language", zap.Uint("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete language"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "language deleted"})
	})

	router.DELETE("/formal-characters/:id", func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		if err := store.DeleteFormalCharacter(c.Request.Context(), id); err != nil {
			log.Error("Failed to delete formal character", zap.Uint("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete formal character"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "formal character deleted"})
	})
}

func setupAllocationRoutes(router *gin.Engine, db *gorm.DB, cfg *config.Config, slots *services.SlotBuilder, log *zap.Logger) {
	// Reiner Solver-Endpunkt ohne Datenbankzugriff
	router.POST("/allocator/knapsack", func(c *gin.Context) {
		var req struct {
			Capacity *float64  `json:"capacity"`
			Weights  []float64 `json:"weights" binding:"required"`
			Values   []float64 `json:"values" binding:"required"`
			IDs      []string  `json:"ids" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		// Pointer, damit eine echte Null-Kapazität nicht mit "Feld fehlt"
		// zusammenfällt; nur Letzteres fällt auf die konfigurierte Kapazität zurück.
		capacity := cfg.SlotCapacity
		if req.Capacity != nil {
			capacity = *req.Capacity
		}
		total, selected, err := services.Knapsack(capacity, req.Weights, req.Values, req.IDs)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"total_value": total, "selected_ids": selected})
	})

	rg := router.Group("/allocations")

	rg.GET("/:author_id/:year/:discipline_id", func(c *gin.Context) {
		authorID, err1 := strconv.ParseUint(c.Param("author_id"), 10, 32)
		year, err2 := strconv.Atoi(c.Param("year"))
		disciplineID, err3 := strconv.ParseUint(c.Param("discipline_id"), 10, 32)
		if err1 != nil || err2 != nil || err3 != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid scope parameters"})
			return
		}
		var result models.AllocationResult
		err := db.Where("author_id = ? AND year = ? AND discipline_id = ?", authorID, year, disciplineID).
			First(&result).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "allocation not computed for this scope"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	// Synchroner Rebuild eines einzelnen Scopes
	rg.POST("/build", func(c *gin.Context) {
		var req struct {
			AuthorID     uint `json:"author_id" binding:"required"`
			Year         int  `json:"year" binding:"required"`
			DisciplineID uint `json:"discipline_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		result, err := slots.BuildScope(c.Request.Context(), req.AuthorID, req.Year, req.DisciplineID)
		if err != nil {
			var missing *services.SlotCostMissingError
			if errors.As(err, &missing) {
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "status": "not_computable"})
				return
			}
			log.Error("Slot scope build failed",
				zap.Uint("author_id", req.AuthorID), zap.Int("year", req.Year), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build allocation"})
			return
		}
		allocationsBuiltCounter.Inc()
		c.JSON(http.StatusOK, result)
	})

	// Rebuild aller Disziplin-Scopes eines Autors in einem Jahr
	rg.POST("/build-author", func(c *gin.Context) {
		var req struct {
			AuthorID uint `json:"author_id" binding:"required"`
			Year     int  `json:"year" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		built, err := slots.BuildAuthorYear(c.Request.Context(), req.AuthorID, req.Year)
		if err != nil {
			var missing *services.SlotCostMissingError
			if errors.As(err, &missing) {
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "status": "not_computable"})
				return
			}
			log.Error("Author slot build failed",
				zap.Uint("author_id", req.AuthorID), zap.Int("year", req.Year), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build allocations"})
			return
		}
		allocationsBuiltCounter.Add(float64(built))
		c.JSON(http.StatusOK, gin.H{"scopes_built": built})
	})

	// Anrechenbarkeits-Check einer einzelnen Publikation für einen Autor
	router.GET("/allocator/check/:kind/:id", func(c *gin.Context) {
		ref, ok := recordRef(c)
		if !ok {
			return
		}
		authorID, err := strconv.ParseUint(c.Query("author_id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "author_id query parameter required"})
			return
		}
		candidate, err := slots.CheckPublication(c.Request.Context(), ref, uint(authorID))
		if err != nil {
			var missing *services.SlotCostMissingError
			if errors.As(err, &missing) {
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "status": "not_computable"})
				return
			}
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "publication not eligible for this author"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, candidate)
	})

	// Bulk-Rebuild asynchron, analog zum Projektions-Refresh
	rg.POST("/rebuild", func(c *gin.Context) {
		jobID := uuid.NewString()
		go func() {
			built, err := slots.RebuildAll(context.Background())
			if err != nil {
				log.Error("Async slot rebuild failed", zap.String("job_id", jobID), zap.Error(err))
				return
			}
			allocationsBuiltCounter.Add(float64(built))
			log.Info("Async slot rebuild completed", zap.String("job_id", jobID), zap.Int("scopes", built))
		}()
		c.JSON(http.StatusAccepted, gin.H{"message": "Slot cache rebuild triggered.", "job_id": jobID})
	})
}

func seedDefaultRoleTypes(db *gorm.DB, logger *zap.Logger) {
	var count int64
	db.Model(&models.RoleType{}).Count(&count)
	if count > 0 {
		return
	}
	roles := []models.RoleType{
		{Code: "author", Label: "Author", DisplayOrder: 1},
		{Code: "editor", Label: "Editor", DisplayOrder: 2},
		{Code: "translator", Label: "Translator", DisplayOrder: 3},
		{Code: "other", Label: "Other", DisplayOrder: 4},
	}
	if err := db.Create(&roles).Error; err != nil {
		logger.Warn("Failed to seed default role types", zap.Error(err))
	} else {
		logger.Info("Default role types seeded.")
	}
}

func seedDefaultCorrectionStatuses(db *gorm.DB, logger *zap.Logger) {
	var count int64
	db.Model(&models.CorrectionStatus{}).Count(&count)
	if count > 0 {
		return
	}
	statuses := []models.CorrectionStatus{
		{Name: "verified", ExcludedFromEvaluation: false},
		{Name: "pending", ExcludedFromEvaluation: false},
		{Name: "duplicate", ExcludedFromEvaluation: true},
		{Name: "retracted", ExcludedFromEvaluation: true},
	}
	if err := db.Create(&statuses).Error; err != nil {
		logger.Warn("Failed to seed default correction statuses", zap.Error(err))
	} else {
		logger.Info("Default correction statuses seeded.")
	}
}
