package app

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/goodsflow/internal/catalog"
	"github.com/odyssey-erp/goodsflow/internal/contracts"
	"github.com/odyssey-erp/goodsflow/internal/inbound"
	"github.com/odyssey-erp/goodsflow/internal/ledger"
	"github.com/odyssey-erp/goodsflow/internal/observability"
	"github.com/odyssey-erp/goodsflow/internal/outbound"
	"github.com/odyssey-erp/goodsflow/internal/platform/cache"
	"github.com/odyssey-erp/goodsflow/internal/platform/db"
	"github.com/odyssey-erp/goodsflow/internal/platform/events"
	"github.com/odyssey-erp/goodsflow/internal/shared"
	"github.com/odyssey-erp/goodsflow/internal/transfer"
	"github.com/odyssey-erp/goodsflow/internal/warehouses"
)

// Infrastructure is what the service graph needs from the outside world.
// Redis, Publisher and Queue are optional.
type Infrastructure struct {
	Config    *Config
	Logger    *slog.Logger
	Runner    *db.TxRunner
	Redis     *redis.Client
	Publisher events.Publisher
	Queue     outbound.InvalidationQueue
	Metrics   *observability.Metrics
}

// Services is the wired domain layer shared by the server, worker and CLI.
type Services struct {
	Warehouses *warehouses.Service
	Catalog    *catalog.Service
	Ledger     *ledger.Service
	Contracts  *contracts.Service
	Inbound    *inbound.Service
	Outbound   *outbound.Service
	Transfer   *transfer.Service

	ListingCache *cache.JSONCache
}

// NewServices builds every domain service on top of infra.
func NewServices(infra Infrastructure) *Services {
	logger := infra.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := infra.Config
	if cfg == nil {
		cfg = &Config{}
	}
	pool := infra.Runner.Pool()
	audit := shared.NewAuditLogger(pool)

	warehouseRepo := warehouses.NewRepository(pool)
	catalogRepo := catalog.NewRepository(pool)

	ledgerSvc := ledger.NewService(ledger.NewRepository(infra.Runner), ledger.Dependencies{
		Warehouses: warehouseRepo,
		Variants:   catalogRepo,
		Publisher:  infra.Publisher,
		Metrics:    infra.Metrics,
		Logger:     logger.With(slog.String("module", "ledger")),
	})
	contractSvc := contracts.NewService(contracts.NewRepository(infra.Runner),
		contracts.Config{ApprovalRequired: cfg.ContractApprovalRequired},
		audit, logger.With(slog.String("module", "contracts")))
	inboundSvc := inbound.NewService(inbound.NewRepository(infra.Runner), ledgerSvc, contractSvc,
		inbound.DefaultResolvers(), audit, logger.With(slog.String("module", "inbound")))

	var listingCache *cache.JSONCache
	var outboundCache outbound.ListingCache
	if infra.Redis != nil {
		listingCache = cache.NewJSONCache(infra.Redis, cfg.OutboundCacheTTL)
		outboundCache = listingCache
	}
	outboundSvc := outbound.NewService(outbound.NewRepository(infra.Runner), outbound.Dependencies{
		Ledger:    ledgerSvc,
		Cache:     outboundCache,
		Queue:     infra.Queue,
		Publisher: infra.Publisher,
		Audit:     audit,
		Metrics:   infra.Metrics,
		Logger:    logger.With(slog.String("module", "outbound")),
	})
	transferSvc := transfer.NewService(transfer.NewRepository(infra.Runner), ledgerSvc, infra.Publisher,
		infra.Metrics, audit, logger.With(slog.String("module", "transfer")))

	return &Services{
		Warehouses:   warehouses.NewService(warehouseRepo, audit, logger.With(slog.String("module", "warehouses"))),
		Catalog:      catalog.NewService(catalogRepo),
		Ledger:       ledgerSvc,
		Contracts:    contractSvc,
		Inbound:      inboundSvc,
		Outbound:     outboundSvc,
		Transfer:     transferSvc,
		ListingCache: listingCache,
	}
}

// Handlers builds the HTTP handlers for every service.
func (s *Services) Handlers(logger *slog.Logger, params RouterParams) RouterParams {
	params.WarehousesHandler = warehouses.NewHandler(logger, s.Warehouses)
	params.CatalogHandler = catalog.NewHandler(logger, s.Catalog)
	params.LedgerHandler = ledger.NewHandler(logger, s.Ledger)
	params.ContractsHandler = contracts.NewHandler(logger, s.Contracts)
	params.InboundHandler = inbound.NewHandler(logger, s.Inbound)
	params.OutboundHandler = outbound.NewHandler(logger, s.Outbound)
	params.TransferHandler = transfer.NewHandler(logger, s.Transfer)
	return params
}

// RedisPinger adapts a redis client to Pinger.
type RedisPinger struct {
	Client *redis.Client
}

// Ping implements Pinger.
func (p RedisPinger) Ping(ctx context.Context) error {
	return p.Client.Ping(ctx).Err()
}
