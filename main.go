package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/ttymux/ttymux/internal/config"
	"github.com/ttymux/ttymux/internal/coordinator"
	"github.com/ttymux/ttymux/internal/dynargs"
	"github.com/ttymux/ttymux/internal/handlers"
	"github.com/ttymux/ttymux/internal/logging"
	"github.com/ttymux/ttymux/internal/portalloc"
	"github.com/ttymux/ttymux/internal/proxy"
	"github.com/ttymux/ttymux/internal/routes"
	"github.com/ttymux/ttymux/internal/supervisor"
)

func main() {
	config.Load()
	logging.Init()
	defer logging.Close()

	routeCfgs, err := config.LoadRoutes(config.Cfg.RoutesFile)
	if err != nil {
		log.Fatalf("Route config: %v", err)
	}

	table, err := routes.NewTable(config.Cfg.MountPath, routeCfgs)
	if err != nil {
		log.Fatalf("Route table: %v", err)
	}
	log.Printf("Config: ListenAddr=%s MountPath=%s BasePort=%d Routes=%d Debug=%v",
		config.Cfg.ListenAddr, table.MountPath(), config.Cfg.BasePort, len(table.Routes()), config.Cfg.Debug)

	store := dynargs.NewStore("")
	sup := supervisor.New(table, store, config.Cfg.Debug)
	router := proxy.New(table, store, sup)
	coord := coordinator.New(table, sup, router, store, config.Cfg.BasePort)

	if err := coord.Startup(); err != nil {
		if errors.Is(err, portalloc.ErrPortsExhausted) {
			log.Fatalf("Startup: %v", err)
		}
		// Failed routes stay stopped; the rest of the server runs degraded.
		log.Printf("WARNING: some backends failed to start: %v", err)
	}

	api := &handlers.API{Table: table, Sup: sup, Proxy: router}

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// Health and introspection live under the mount path; the proxy
	// catch-all stays at the server root because non-root routes are
	// always addressed by their own path, whatever the mounting scheme.
	healthPath, routesPath := "/health", "/routes"
	if !table.IsRootMounted() {
		healthPath = table.MountPath() + "/health"
		routesPath = table.MountPath() + "/routes"
	}
	r.Get(healthPath, api.Health)
	r.Get(routesPath, api.RoutesInfo)
	r.HandleFunc("/*", api.Terminal)

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	coord.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
