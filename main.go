package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"metaslim/config"
	"metaslim/models"
	"metaslim/providers/gemini"
	"metaslim/services"
	"metaslim/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	cohortsAddedCounter   prometheus.Counter
	filesIngestedCounter  prometheus.Counter
	ingestFailuresCounter prometheus.Counter
)

func init() {
	cohortsAddedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cohorts_added_total",
			Help: "Total number of new study cohorts added to the database.",
		},
	)
	filesIngestedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "files_ingested_total",
			Help: "Total number of uploaded files processed by the ingest pipeline.",
		},
	)
	ingestFailuresCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_failures_total",
			Help: "Total number of files whose ingest ended in an error outcome.",
		},
	)
	prometheus.MustRegister(cohortsAddedCounter, filesIngestedCounter, ingestFailuresCounter)
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

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to studies database.")

	logging.Info("Running database auto-migration...")
	db.AutoMigrate(&models.Study{}, &models.IngestLog{})

	store := storage.NewStore(db, logging)

	s3Client, err := storage.NewS3Client(cfg)
	if err != nil {
		logging.Fatal("S3 client creation failed", zap.Error(err))
	}
	archive := storage.NewArchive(s3Client, cfg)

	extractor, err := gemini.NewExtractor(context.Background(), cfg, logging)
	if err != nil {
		logging.Fatal("Gemini client creation failed", zap.Error(err))
	}

	batch := &services.BatchService{
		Store:    store,
		Text:     services.NewPDFExtractor(cfg, logging),
		Provider: extractor,
		Archive:  archive,
		Logs:     store,
		Ingestor: services.NewIngestor(store, logging),
		Logger:   logging,
	}

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	setupStudyRoutes(router, store, logging)
	setupIngestRoutes(router, batch, extractor, store, logging)
	setupEventRoutes(router, store, logging)

	// Nightly snapshot of the full study set into the archive bucket.
	cronScheduler := cron.New()
	cronScheduler.AddFunc(cfg.CronSchedule, func() {
		logging.Info("Running scheduled snapshot job...")
		studies, err := store.List(context.Background())
		if err != nil {
			logging.Error("Snapshot job failed to load studies", zap.Error(err))
			return
		}
		data, err := json.Marshal(studies)
		if err != nil {
			logging.Error("Snapshot job failed to marshal studies", zap.Error(err))
			return
		}
		link, err := archive.UploadSnapshot(context.Background(), data)
		if err != nil {
			logging.Error("Snapshot upload failed", zap.Error(err))
			return
		}
		logging.Info("Snapshot job completed", zap.Int("studies", len(studies)), zap.String("link", link))
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

func setupStudyRoutes(router *gin.Engine, store *storage.Store, log *zap.Logger) {
	rg := router.Group("/studies")

	// Full study list, optionally narrowed to one cohort population.
	rg.GET("/", func(c *gin.Context) {
		studies, err := store.List(c.Request.Context())
		if err != nil {
			log.Error("Database query for studies failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		filtered, err := services.FilterByPopulation(studies, c.Query("population"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, filtered)
	})

	rg.GET("/:id", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid study id"})
			return
		}
		study, err := store.Get(c.Request.Context(), uint(id))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "study not found"})
			return
		}
		c.JSON(http.StatusOK, study)
	})

	// Dose arms of one study, sorted by a metric.
	rg.GET("/:id/doses", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid study id"})
			return
		}
		study, err := store.Get(c.Request.Context(), uint(id))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "study not found"})
			return
		}
		sortBy := c.DefaultQuery("sortBy", "weightLoss")
		desc := c.DefaultQuery("order", "desc") == "desc"
		doses, err := services.SortDoses(study.Doses, sortBy, desc)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, doses)
	})

	// Manual entry. Payload fields may arrive as strings from form controls.
	rg.POST("/", func(c *gin.Context) {
		var raw map[string]any
		if err := c.ShouldBindJSON(&raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		study, err := services.NormalizeStudyInput(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := store.Create(c.Request.Context(), study); err != nil {
			log.Error("Study creation failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		cohortsAddedCounter.Inc()
		c.JSON(http.StatusCreated, study)
	})

	rg.PUT("/:id", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid study id"})
			return
		}
		var raw map[string]any
		if err := c.ShouldBindJSON(&raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		fields, err := services.NormalizeStudyInput(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		updated, err := store.Update(c.Request.Context(), uint(id), fields)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				c.JSON(http.StatusNotFound, gin.H{"error": "study not found"})
				return
			}
			log.Error("Study update failed", zap.Uint64("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, updated)
	})

	rg.DELETE("/:id", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid study id"})
			return
		}
		if err := store.Delete(c.Request.Context(), uint(id)); err != nil {
			if err == gorm.ErrRecordNotFound {
				c.JSON(http.StatusNotFound, gin.H{"error": "study not found"})
				return
			}
			log.Error("Study deletion failed", zap.Uint64("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.Status(http.StatusNoContent)
	})

	rg.POST("/delete-many", func(c *gin.Context) {
		var req struct {
			IDs []uint `json:"ids"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		deleted, err := store.DeleteMany(c.Request.Context(), req.IDs)
		if err != nil {
			log.Error("Bulk study deletion failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": deleted})
	})

	rg.DELETE("/", func(c *gin.Context) {
		deleted, err := store.DeleteAll(c.Request.Context())
		if err != nil {
			log.Error("Full study deletion failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": deleted})
	})

	rg.GET("/stats", func(c *gin.Context) {
		studies, err := store.List(c.Request.Context())
		if err != nil {
			log.Error("Database query for stats failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, services.Stats(studies))
	})

	rg.GET("/charts/efficacy", func(c *gin.Context) {
		studies, err := store.List(c.Request.Context())
		if err != nil {
			log.Error("Database query for efficacy chart failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		filtered, err := services.FilterByPopulation(studies, c.Query("population"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, services.EfficacyScatter(filtered))
	})

	rg.GET("/charts/safety", func(c *gin.Context) {
		studies, err := store.List(c.Request.Context())
		if err != nil {
			log.Error("Database query for safety chart failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		filtered, err := services.FilterByPopulation(studies, c.Query("population"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		points, err := services.SafetyProfile(filtered, c.DefaultQuery("event", "nausea"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, points)
	})
}

func setupIngestRoutes(router *gin.Engine, batch *services.BatchService, extractor *gemini.Extractor, store *storage.Store, log *zap.Logger) {
	rg := router.Group("/ingest")

	// Batch PDF upload. One outcome per file, a failed file never aborts
	// the rest of the batch.
	rg.POST("/", func(c *gin.Context) {
		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid multipart form"})
			return
		}
		fileHeaders := form.File["files"]
		if len(fileHeaders) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No files uploaded"})
			return
		}

		files := make([]services.FileInput, 0, len(fileHeaders))
		for _, fh := range fileHeaders {
			f, err := fh.Open()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Could not read upload " + fh.Filename})
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Could not read upload " + fh.Filename})
				return
			}
			files = append(files, services.FileInput{Name: fh.Filename, Data: data})
		}

		outcomes, err := batch.ProcessFiles(c.Request.Context(), files)
		if err != nil {
			log.Error("Batch ingest failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		for _, o := range outcomes {
			filesIngestedCounter.Inc()
			if o.Status == services.StatusError {
				ingestFailuresCounter.Inc()
			}
			cohortsAddedCounter.Add(float64(o.Outcome.Added))
		}
		c.JSON(http.StatusOK, gin.H{"results": outcomes})
	})

	// Single screenshot or scan, sent to the model as raw bytes.
	rg.POST("/image", func(c *gin.Context) {
		fh, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
			return
		}
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Could not read upload"})
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Could not read upload"})
			return
		}
		mimeType := fh.Header.Get("Content-Type")
		if mimeType == "" {
			mimeType = "image/png"
		}

		outcome, err := batch.ProcessImage(c.Request.Context(), fh.Filename, data, mimeType)
		if err != nil {
			log.Error("Image ingest failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		filesIngestedCounter.Inc()
		if outcome.Status == services.StatusError {
			ingestFailuresCounter.Inc()
		}
		cohortsAddedCounter.Add(float64(outcome.Outcome.Added))
		c.JSON(http.StatusOK, outcome)
	})

	rg.GET("/logs", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		logs, err := store.ListLogs(c.Request.Context(), limit)
		if err != nil {
			log.Error("Database query for ingest logs failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, logs)
	})

	// Raw extraction without persistence. Accepts exactly one of text or
	// fileData.
	router.POST("/extract", func(c *gin.Context) {
		var req struct {
			Text     string `json:"text"`
			FileData *struct {
				Data     string `json:"data"`
				MimeType string `json:"mimeType"`
			} `json:"fileData"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if (req.Text == "") == (req.FileData == nil) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Provide exactly one of text or fileData"})
			return
		}

		var (
			candidates []models.CandidateStudy
			err        error
		)
		if req.Text != "" {
			candidates, err = extractor.ExtractText(c.Request.Context(), req.Text)
		} else {
			var data []byte
			data, err = base64.StdEncoding.DecodeString(req.FileData.Data)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "fileData.data is not valid base64"})
				return
			}
			candidates, err = extractor.ExtractFile(c.Request.Context(), data, req.FileData.MimeType)
		}
		if err != nil {
			log.Error("Extraction failed", zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"studies": candidates})
	})
}

// setupEventRoutes streams the full study set to connected clients whenever
// it changes, as server-sent events.
func setupEventRoutes(router *gin.Engine, store *storage.Store, log *zap.Logger) {
	router.GET("/events", func(c *gin.Context) {
		ch, cancel := store.Subscribe()
		defer cancel()

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")

		// Initial snapshot so a new client does not wait for the next write.
		studies, err := store.List(c.Request.Context())
		if err != nil {
			log.Error("Initial snapshot for event stream failed", zap.Error(err))
			c.Status(http.StatusInternalServerError)
			return
		}
		writeStudyEvent(c, studies)

		for {
			select {
			case <-c.Request.Context().Done():
				return
			case snapshot := <-ch:
				writeStudyEvent(c, snapshot)
			}
		}
	})
}

func writeStudyEvent(c *gin.Context, studies []models.Study) {
	data, err := json.Marshal(studies)
	if err != nil {
		return
	}
	c.Writer.Write([]byte("event: studies\ndata: "))
	c.Writer.Write(data)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
