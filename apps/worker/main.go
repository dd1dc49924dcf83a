package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/classpoint/invoicing/internal/billing/engine"
	"github.com/classpoint/invoicing/internal/billing/outbox"
	"github.com/classpoint/invoicing/internal/clock"
	"github.com/classpoint/invoicing/internal/config"
	"github.com/classpoint/invoicing/internal/observability"
	"github.com/classpoint/invoicing/internal/server"
	"github.com/classpoint/invoicing/internal/worker"
	"github.com/classpoint/invoicing/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		config.PolicyModule,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		outbox.Module,
		engine.Module,
		worker.Module,
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
