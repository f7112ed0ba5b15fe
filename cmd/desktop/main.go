// Package main runs the Moneta desktop host: the local store, the sync
// engine, and the localhost REST/WebSocket surface the UI shell talks to.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/linchiayu/moneta/cmd/desktop/handlers"
	"github.com/linchiayu/moneta/internal/db"
	"github.com/linchiayu/moneta/internal/ledger"
	"github.com/linchiayu/moneta/internal/logging"
	"github.com/linchiayu/moneta/internal/netmon"
	syncpkg "github.com/linchiayu/moneta/internal/sync"
	"github.com/linchiayu/moneta/internal/sync/queue"
	"github.com/linchiayu/moneta/internal/uuid"
)

// ensureDeviceID returns the per-install device identifier, minting and
// persisting one on first launch.
func ensureDeviceID(repo *db.Repository) (string, error) {
	id, err := repo.GetMetadataDefault(db.MetaDeviceID, "")
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	id = uuid.New()
	if err := repo.SetMetadata(db.MetaDeviceID, id); err != nil {
		return "", err
	}
	return id, nil
}

// envOr reads an environment variable with a fallback.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	dataDir := envOr("MONETA_DATA_DIR", "./data")
	serverURL := envOr("MONETA_SERVER_URL", "https://api.moneta.app/v1")
	port := envOr("MONETA_PORT", "8090")

	logger := logging.New(os.Stdout, logging.LevelInfo)

	database, err := db.Open(dataDir)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	migrator := db.NewMigrator(database.DB)
	if err := migrator.Initialize(); err != nil {
		log.Fatalf("Failed to initialize migrations: %v", err)
	}
	if err := migrator.Up(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	repo := db.NewRepository(database.DB)
	defer repo.Close()

	remote := syncpkg.NewHTTPClient(serverURL, http.DefaultClient)
	deviceID, err := ensureDeviceID(repo)
	if err != nil {
		log.Fatalf("Failed to establish device ID: %v", err)
	}
	remote.SetDeviceID(deviceID)
	monitor := netmon.NewMonitor(remote.HealthURL(), http.DefaultClient, true, logger)

	mutationQueue := queue.NewMutationQueue(repo)
	engine := syncpkg.NewEngine(repo, mutationQueue, remote, monitor, logger)
	defer engine.Close()

	service := ledger.NewService(repo, mutationQueue, engine, monitor, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine.Init(ctx)

	// Push state changes to the UI as they happen.
	hub := NewWSHub()
	unsubStatus := engine.Subscribe(func(status syncpkg.Status) {
		hub.Broadcast(EventSyncStatus, map[string]interface{}{
			"is_syncing":    status.IsSyncing,
			"pending_count": status.PendingCount,
			"last_sync_at":  status.LastSyncAt,
			"last_error":    status.LastError,
		})
	})
	defer unsubStatus()
	unsubNet := monitor.Subscribe(func(online bool) {
		hub.Broadcast(EventNetworkStatus, map[string]interface{}{"online": online})
	})
	defer unsubNet()
	unwatch := repo.Watch(func() {
		hub.Broadcast(EventStoreChanged, nil)
	})
	defer unwatch()

	mux := newMux(service, monitor, hub)

	server := &http.Server{
		Addr:    "localhost:" + port,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		server.Shutdown(context.Background())
	}()

	logger.Info("Moneta desktop host starting", map[string]interface{}{"port": port})
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
}

// newMux registers the localhost API surface.
func newMux(service *ledger.Service, monitor *netmon.Monitor, hub *WSHub) *http.ServeMux {
	txHandler := handlers.NewTransactionHandler(service)
	syncHandler := handlers.NewSyncHandler(service, monitor)

	mux := http.NewServeMux()
	mux.HandleFunc("/transactions", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			txHandler.List(w, r)
		case http.MethodPost:
			txHandler.Create(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/transactions/", txHandler.Item)
	mux.HandleFunc("/sync/status", syncHandler.Status)
	mux.HandleFunc("/sync/force", syncHandler.Force)
	mux.HandleFunc("/sync/refresh", syncHandler.Refresh)
	mux.HandleFunc("/network", syncHandler.Network)
	mux.HandleFunc("/ws", HandleWebSocket(hub, monitor))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"moneta-desktop"}`))
	})
	return mux
}
