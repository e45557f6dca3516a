package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	aggregatedomain "github.com/usagekit/tally/internal/aggregate/domain"
	"github.com/usagekit/tally/internal/config"
	eventdomain "github.com/usagekit/tally/internal/event/domain"
	itemdomain "github.com/usagekit/tally/internal/item/domain"
	pricedomain "github.com/usagekit/tally/internal/price/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(
		NewEngine,
		NewServer,
	),
	fx.Invoke(registerRoutes),
	fx.Invoke(RunHTTP),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type ServerParam struct {
	fx.In

	Engine       *gin.Engine
	Log          *zap.Logger
	ItemSvc      itemdomain.Service
	PriceSvc     pricedomain.Service
	EventStore   eventdomain.Store
	AggregateSvc aggregatedomain.Service
}

type Server struct {
	engine       *gin.Engine
	log          *zap.Logger
	itemSvc      itemdomain.Service
	priceSvc     pricedomain.Service
	eventStore   eventdomain.Store
	aggregateSvc aggregatedomain.Service
}

func NewServer(p ServerParam) *Server {
	return &Server{
		engine:       p.Engine,
		log:          p.Log.Named("server"),
		itemSvc:      p.ItemSvc,
		priceSvc:     p.PriceSvc,
		eventStore:   p.EventStore,
		aggregateSvc: p.AggregateSvc,
	}
}

// RegisterAPIRoutes mounts the read-only query surface. Administrative writes
// (item naming, price insertion) happen directly against the store and have no
// route here on purpose.
func (s *Server) RegisterAPIRoutes() {
	v1 := s.engine.Group("/v1")
	v1.GET("/usage/aggregate", s.AggregateUsage)
	v1.GET("/usage/events", s.ListEvents)
	v1.GET("/items", s.ListItems)
	v1.GET("/prices", s.ListPrices)
}

func registerRoutes(s *Server) {
	s.RegisterAPIRoutes()
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, engine *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
