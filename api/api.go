// Package api exposes the faucet claim surface over HTTP: claim creation,
// session status, the cached queue snapshot and the websocket progress
// feed.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/cosmdrop/faucet-node/faucet"
	"github.com/cosmdrop/faucet-node/log"
	"github.com/cosmdrop/faucet-node/notify"
	"github.com/cosmdrop/faucet-node/status"
	stg "github.com/cosmdrop/faucet-node/storage"
)

const (
	maxRequestBodyLog = 512 // Maximum length of request body to log

	// queueStatusTTL is the lifetime of the cached queue snapshot.
	queueStatusTTL = 10 * time.Second
)

// APIConfig type represents the configuration for the API HTTP server.
type APIConfig struct {
	Host     string
	Port     int
	Storage  *stg.Storage
	Status   *status.Registry
	Wallet   *faucet.WalletManager
	Pipeline *faucet.Pipeline
	Refill   *faucet.RefillController
	Hub      *notify.Hub
}

// API type represents the faucet API HTTP server.
type API struct {
	router   *chi.Mux
	storage  *stg.Storage
	status   *status.Registry
	wallet   *faucet.WalletManager
	pipeline *faucet.Pipeline
	refill   *faucet.RefillController
	hub      *notify.Hub

	queueCache *expirable.LRU[string, *QueueStatus]
}

// New creates a new API instance with the given configuration. The caller
// owns the listener lifecycle; see Router.
func New(conf *APIConfig) (*API, error) {
	if conf == nil {
		return nil, fmt.Errorf("missing API configuration")
	}
	if conf.Storage == nil || conf.Pipeline == nil || conf.Wallet == nil || conf.Hub == nil {
		return nil, fmt.Errorf("missing API collaborators")
	}
	a := &API{
		storage:    conf.Storage,
		status:     conf.Status,
		wallet:     conf.Wallet,
		pipeline:   conf.Pipeline,
		refill:     conf.Refill,
		hub:        conf.Hub,
		queueCache: expirable.NewLRU[string, *QueueStatus](1, nil, queueStatusTTL),
	}
	a.initRouter()
	return a, nil
}

// Router returns the chi router, for mounting and for tests.
func (a *API) Router() *chi.Mux {
	return a.router
}

// registerHandlers registers all the HTTP handlers for the API endpoints.
func (a *API) registerHandlers() {
	log.Infow("register handler", "endpoint", PingEndpoint, "method", "GET")
	a.router.Get(PingEndpoint, func(w http.ResponseWriter, _ *http.Request) {
		httpWriteOK(w)
	})
	log.Infow("register handler", "endpoint", ClaimRewardEndpoint, "method", "POST")
	a.router.Post(ClaimRewardEndpoint, a.claimReward)
	log.Infow("register handler", "endpoint", SessionStatusEndpoint, "method", "GET")
	a.router.Get(SessionStatusEndpoint, a.getSessionStatus)
	log.Infow("register handler", "endpoint", QueueStatusEndpoint, "method", "GET")
	a.router.Get(QueueStatusEndpoint, a.getQueueStatus)
	log.Infow("register handler", "endpoint", ClaimWSEndpoint, "method", "GET")
	a.router.Get(ClaimWSEndpoint, a.claimWebsocket)
}

// initRouter creates the router with all the routes and middleware.
func (a *API) initRouter() {
	a.router = chi.NewRouter()
	a.router.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)
	a.router.Use(loggingMiddleware(maxRequestBodyLog))
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Throttle(100))
	a.router.Use(middleware.ThrottleBacklog(5000, 40000, 60*time.Second))
	// No global timeout: the websocket endpoint keeps its connection open.

	a.registerHandlers()
}
