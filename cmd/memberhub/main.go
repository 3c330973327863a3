package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberhub/internal/authorization"
	"github.com/smallbiznis/memberhub/internal/clock"
	"github.com/smallbiznis/memberhub/internal/config"
	"github.com/smallbiznis/memberhub/internal/event"
	"github.com/smallbiznis/memberhub/internal/lock"
	"github.com/smallbiznis/memberhub/internal/membership"
	"github.com/smallbiznis/memberhub/internal/migration"
	"github.com/smallbiznis/memberhub/internal/observability"
	"github.com/smallbiznis/memberhub/internal/order"
	"github.com/smallbiznis/memberhub/internal/payment"
	"github.com/smallbiznis/memberhub/internal/providers"
	"github.com/smallbiznis/memberhub/internal/scheduler"
	"github.com/smallbiznis/memberhub/internal/server"
	"github.com/smallbiznis/memberhub/internal/user"
	"github.com/smallbiznis/memberhub/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		lock.Module,
		providers.Module,

		// Functional Domains
		user.Module,
		authorization.Module,
		order.Module,
		membership.Module,
		event.Module,
		payment.Module,
		scheduler.Module,

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
