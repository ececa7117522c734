// Package handlers implements the HTTP surface over the order store, state
// machine, funding watcher, and PST pipeline.
package handlers

import (
	"github.com/escrowd/coordinator/internal/config"
	"github.com/escrowd/coordinator/internal/db"
	"github.com/escrowd/coordinator/internal/orders"
	"github.com/escrowd/coordinator/internal/pst"
	"github.com/escrowd/coordinator/internal/walletrpc"
	"github.com/escrowd/coordinator/internal/webhook"
)

// Deps bundles every collaborator a handler needs.
type Deps struct {
	DB      *db.DB
	WC      *walletrpc.Client
	Engine  *orders.Engine
	PST     *pst.Pipeline
	Webhook *webhook.Dispatcher
	Cfg     *config.Config
}
