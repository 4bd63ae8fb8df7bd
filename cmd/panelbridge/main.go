package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/nzrmohammad/panelbridge/internal/account"
	"github.com/nzrmohammad/panelbridge/internal/clock"
	"github.com/nzrmohammad/panelbridge/internal/config"
	"github.com/nzrmohammad/panelbridge/internal/identitymap"
	"github.com/nzrmohammad/panelbridge/internal/migration"
	"github.com/nzrmohammad/panelbridge/internal/notify"
	"github.com/nzrmohammad/panelbridge/internal/panel"
	"github.com/nzrmohammad/panelbridge/internal/payment"
	"github.com/nzrmohammad/panelbridge/internal/reconcile"
	"github.com/nzrmohammad/panelbridge/internal/report"
	"github.com/nzrmohammad/panelbridge/internal/scheduler"
	"github.com/nzrmohammad/panelbridge/internal/server"
	"github.com/nzrmohammad/panelbridge/internal/usage"
	"github.com/nzrmohammad/panelbridge/internal/warning"
	"github.com/nzrmohammad/panelbridge/pkg/db"
	"github.com/nzrmohammad/panelbridge/pkg/log"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		log.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		identitymap.Module,
		migration.Module,

		// Functional domains
		panel.Module,
		account.Module,
		usage.Module,
		reconcile.Module,
		payment.Module,
		notify.Module,
		warning.Module,
		report.Module,

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
