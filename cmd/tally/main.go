package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/usagekit/tally/internal/aggregate"
	"github.com/usagekit/tally/internal/clock"
	"github.com/usagekit/tally/internal/config"
	"github.com/usagekit/tally/internal/estimator"
	"github.com/usagekit/tally/internal/event"
	"github.com/usagekit/tally/internal/ingest"
	"github.com/usagekit/tally/internal/item"
	"github.com/usagekit/tally/internal/logger"
	"github.com/usagekit/tally/internal/metrics"
	"github.com/usagekit/tally/internal/migration"
	"github.com/usagekit/tally/internal/price"
	"github.com/usagekit/tally/internal/seed"
	"github.com/usagekit/tally/internal/server"
	"github.com/usagekit/tally/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		metrics.Module,
		seed.Module,

		// Functional domains
		item.Module,
		price.Module,
		event.Module,
		estimator.Module,
		aggregate.Module,
		ingest.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
