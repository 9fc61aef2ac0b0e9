// Package v1 provides HTTP API version 1.
package v1

import (
	"context"

	"github.com/gin-gonic/gin"

	corenumerator "medledger/internal/core/numerator"
	"medledger/internal/domain/adjustment"
	"medledger/internal/domain/alert"
	"medledger/internal/domain/catalogs/item"
	"medledger/internal/domain/catalogs/warehouse"
	"medledger/internal/domain/ledger"
	"medledger/internal/domain/receipt"
	"medledger/internal/domain/reservation"
	"medledger/internal/domain/transfer"
	"medledger/internal/infrastructure/http/v1/handlers"
	"medledger/internal/infrastructure/http/v1/middleware"
	"medledger/internal/infrastructure/storage/postgres"
	"medledger/internal/infrastructure/storage/postgres/catalog_repo"
	"medledger/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	// Pool is the database connection pool (used by health checks).
	Pool *postgres.Pool

	// TxManager drives all transactional work.
	TxManager *postgres.TxManager

	// Logger for request logging.
	Logger *logger.Logger

	// JWTValidator for token validation.
	JWTValidator middleware.JWTValidator

	// Numerator for document number generation.
	Numerator corenumerator.Generator

	// Audit records catalog and document changes.
	Audit *postgres.AuditService
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	// Health endpoints (no auth required)
	healthHandler := handlers.NewHealthHandler(cfg.Pool)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}

	// API v1, JWT protected
	api := router.Group("/api/v1")
	api.Use(middleware.Auth(cfg.JWTValidator))

	registerCatalogRoutes(api, cfg)
	registerStockRoutes(api, cfg)
	registerDocumentRoutes(api, cfg)
	registerAlertRoutes(api, cfg)

	if cfg.Audit != nil {
		auditHandler := handlers.NewAuditHandler(handlers.NewBaseHandler(), cfg.Audit)
		api.GET("/audit/:entityType/:id", auditHandler.History)
	}

	return router
}

// registerCatalogRoutes wires the warehouse and item catalogs.
func registerCatalogRoutes(rg *gin.RouterGroup, cfg RouterConfig) {
	base := handlers.NewBaseHandler()

	{
		repo := catalog_repo.NewWarehouseRepo(cfg.TxManager)
		service := warehouse.NewService(repo, cfg.TxManager, cfg.Numerator)

		if cfg.Audit != nil {
			service.Hooks().OnAfterCreate(func(ctx context.Context, wh *warehouse.Warehouse) error {
				return cfg.Audit.LogChange(ctx, "warehouse", wh.ID, postgres.AuditActionCreate, postgres.StructToMap(wh))
			})
			service.Hooks().OnAfterUpdate(func(ctx context.Context, wh *warehouse.Warehouse) error {
				return cfg.Audit.LogChange(ctx, "warehouse", wh.ID, postgres.AuditActionUpdate, postgres.StructToMap(wh))
			})
			service.Hooks().OnAfterDelete(func(ctx context.Context, wh *warehouse.Warehouse) error {
				return cfg.Audit.LogChange(ctx, "warehouse", wh.ID, postgres.AuditActionDelete, nil)
			})
		}

		handler := handlers.NewWarehouseHandler(base, service)

		g := rg.Group("/warehouses")
		g.GET("", handler.List)
		g.GET("/tree", handler.GetTree)
		g.POST("", handler.Create)
		g.GET("/:id", handler.Get)
		g.PUT("/:id", handler.Update)
		g.DELETE("/:id", handler.Delete)
		g.PUT("/:id/parent", handler.SetParent)
		g.GET("/:id/subtree", handler.GetSubtree)
	}

	{
		repo := catalog_repo.NewItemRepo(cfg.TxManager)
		service := item.NewService(repo, cfg.TxManager, cfg.Numerator)

		if cfg.Audit != nil {
			service.Hooks().OnAfterCreate(func(ctx context.Context, it *item.Item) error {
				return cfg.Audit.LogChange(ctx, "item", it.ID, postgres.AuditActionCreate, postgres.StructToMap(it))
			})
			service.Hooks().OnAfterUpdate(func(ctx context.Context, it *item.Item) error {
				return cfg.Audit.LogChange(ctx, "item", it.ID, postgres.AuditActionUpdate, postgres.StructToMap(it))
			})
			service.Hooks().OnAfterDelete(func(ctx context.Context, it *item.Item) error {
				return cfg.Audit.LogChange(ctx, "item", it.ID, postgres.AuditActionDelete, nil)
			})
		}

		handler := handlers.NewItemHandler(base, service)

		g := rg.Group("/items")
		g.GET("", handler.List)
		g.POST("", handler.Create)
		g.GET("/by-kind/:kind", handler.ListByKind)
		g.GET("/:id", handler.Get)
		g.PUT("/:id", handler.Update)
		g.DELETE("/:id", handler.Delete)
	}
}

// registerStockRoutes wires the batch ledger endpoints.
func registerStockRoutes(rg *gin.RouterGroup, cfg RouterConfig) {
	base := handlers.NewBaseHandler()

	ledgerRepo := postgres.NewLedgerRepo(cfg.TxManager)
	ledgerSvc := ledger.NewService(ledgerRepo, cfg.TxManager, cfg.Logger)
	handler := handlers.NewStockHandler(base, ledgerSvc)

	g := rg.Group("/stock")
	g.GET("/available", handler.Available)
	g.GET("/batches", handler.ListBatches)
	g.GET("/batches/:id", handler.GetBatch)
	g.PUT("/batches/:id/lock", middleware.RequireRole("inventory_manager"), handler.SetBatchLock)
	g.GET("/batches/:id/history", handler.History)
	g.GET("/batches/:id/replay", handler.Replay)
	g.GET("/movements", handler.ListMovements)
	g.GET("/turnover", handler.Turnover)
}

// registerDocumentRoutes wires reservations, transfers, adjustments
// and import/export receipts.
func registerDocumentRoutes(rg *gin.RouterGroup, cfg RouterConfig) {
	base := handlers.NewBaseHandler()

	ledgerRepo := postgres.NewLedgerRepo(cfg.TxManager)
	ledgerSvc := ledger.NewService(ledgerRepo, cfg.TxManager, cfg.Logger)

	resRepo := postgres.NewReservationRepo(cfg.TxManager)
	resSvc := reservation.NewService(resRepo, ledgerRepo, ledgerSvc, cfg.TxManager, cfg.Logger)

	{
		handler := handlers.NewReservationHandler(base, resSvc)

		g := rg.Group("/reservations")
		g.POST("", handler.Create)
		g.GET("", handler.List)
		g.GET("/:id", handler.Get)
		g.POST("/:id/consume", handler.Consume)
		g.POST("/:id/release", handler.Release)
	}

	{
		repo := postgres.NewTransferRepo(cfg.TxManager)
		service := transfer.NewService(repo, resSvc, ledgerSvc, ledgerRepo, cfg.Numerator, cfg.TxManager, cfg.Logger)
		handler := handlers.NewTransferHandler(base, service)

		g := rg.Group("/transfers")
		g.POST("", handler.Create)
		g.GET("", handler.List)
		g.GET("/:id", handler.Get)
		g.POST("/:id/approve", handler.Approve)
		g.POST("/:id/deliver", handler.Deliver)
		g.POST("/:id/receive", handler.Receive)
		g.POST("/:id/cancel", handler.Cancel)
	}

	{
		repo := postgres.NewAdjustmentRepo(cfg.TxManager)
		service := adjustment.NewService(repo, ledgerSvc, cfg.Numerator, cfg.TxManager, cfg.Logger)
		handler := handlers.NewAdjustmentHandler(base, service)

		g := rg.Group("/adjustments")
		g.POST("", handler.Create)
		g.GET("", handler.List)
		g.GET("/:id", handler.Get)
		g.PUT("/:id/lines", handler.UpdateLines)
		g.POST("/:id/approve", middleware.RequireRole("inventory_manager"), handler.Approve)
		g.DELETE("/:id", handler.Discard)
	}

	{
		imports := postgres.NewImportReceiptRepo(cfg.TxManager)
		exports := postgres.NewExportReceiptRepo(cfg.TxManager)
		service := receipt.NewService(imports, exports, ledgerSvc, ledgerRepo, resSvc, cfg.Numerator, cfg.TxManager, cfg.Logger)
		handler := handlers.NewReceiptHandler(base, service)

		gi := rg.Group("/import-receipts")
		gi.POST("", handler.CreateImport)
		gi.GET("", handler.ListImports)
		gi.GET("/:id", handler.GetImport)
		gi.POST("/:id/approve", handler.ApproveImport)
		gi.POST("/:id/cancel", handler.CancelImport)

		ge := rg.Group("/export-receipts")
		ge.POST("", handler.CreateExport)
		ge.GET("", handler.ListExports)
		ge.GET("/:id", handler.GetExport)
		ge.POST("/:id/reserve", handler.ReserveExport)
		ge.POST("/:id/approve", handler.ApproveExport)
		ge.POST("/:id/cancel", handler.CancelExport)
	}
}

// registerAlertRoutes wires thresholds and stock alerts.
func registerAlertRoutes(rg *gin.RouterGroup, cfg RouterConfig) {
	base := handlers.NewBaseHandler()

	ledgerRepo := postgres.NewLedgerRepo(cfg.TxManager)
	thresholds := postgres.NewThresholdRepo(cfg.TxManager)
	alerts := postgres.NewAlertRepo(cfg.TxManager)
	engine := alert.NewEngine(thresholds, alerts, ledgerRepo, cfg.TxManager, cfg.Logger)
	handler := handlers.NewAlertHandler(base, engine)

	g := rg.Group("/alerts")
	g.GET("", handler.List)
	g.POST("/:id/acknowledge", handler.Acknowledge)
	g.POST("/:id/resolve", handler.Resolve)

	t := rg.Group("/thresholds")
	t.GET("", handler.ListThresholds)
	t.PUT("", middleware.RequireRole("inventory_manager"), handler.UpsertThreshold)
	t.DELETE("/:id", middleware.RequireRole("inventory_manager"), handler.DeleteThreshold)
}
