// Package coordinator binds the supervisor and proxy to the hosting web
// server's startup and shutdown hooks: backends are guaranteed running
// before traffic is routed and guaranteed stopped on shutdown. It composes
// with the host server's own lifecycle rather than replacing it.
package coordinator

import (
	"log"

	"github.com/robfig/cron/v3"
	"github.com/ttymux/ttymux/internal/dynargs"
	"github.com/ttymux/ttymux/internal/portalloc"
	"github.com/ttymux/ttymux/internal/proxy"
	"github.com/ttymux/ttymux/internal/routes"
	"github.com/ttymux/ttymux/internal/supervisor"
)

type Coordinator struct {
	table    *routes.Table
	sup      *supervisor.Supervisor
	router   *proxy.Router
	store    *dynargs.Store
	basePort int
	cron     *cron.Cron
}

func New(table *routes.Table, sup *supervisor.Supervisor, router *proxy.Router, store *dynargs.Store, basePort int) *Coordinator {
	return &Coordinator{
		table:    table,
		sup:      sup,
		router:   router,
		store:    store,
		basePort: basePort,
	}
}

// Startup allocates ports for routes lacking them, then starts every route
// in configuration order, and schedules the stale-parameter-file sweep.
// Port exhaustion is fatal; per-route start failures are surfaced joined so
// the caller can decide between aborting and running degraded.
func (c *Coordinator) Startup() error {
	if err := portalloc.Allocate(c.table.Routes(), c.basePort); err != nil {
		return err
	}
	for _, cfg := range c.table.Routes() {
		log.Printf("Assigned port %d to route %s", cfg.Port, cfg.RoutePath)
	}

	c.cron = cron.New()
	c.cron.Schedule(cron.Every(dynargs.StaleAge), cron.FuncJob(func() {
		c.store.CleanupStale(dynargs.StaleAge)
	}))
	c.cron.Start()

	return c.sup.StartAll()
}

// Shutdown stops every backend and releases the proxy's pooled client. It
// always runs to completion; per-route stop errors are logged inside the
// supervisor and never abort the batch.
func (c *Coordinator) Shutdown() {
	if c.cron != nil {
		c.cron.Stop()
	}
	c.sup.StopAll()
	c.router.Close()
}
