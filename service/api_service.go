package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cosmdrop/faucet-node/api"
	"github.com/cosmdrop/faucet-node/log"
)

// apiShutdownTimeout bounds the graceful drain of in-flight requests.
const apiShutdownTimeout = 10 * time.Second

// APIService represents a service that manages the HTTP API server.
type APIService struct {
	conf   *api.APIConfig
	API    *api.API
	server *http.Server
	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewAPI creates a new APIService instance.
func NewAPI(conf *api.APIConfig, disableLogging bool) *APIService {
	if disableLogging {
		api.DisabledLogging = disableLogging
		log.Debugw("API logging is disabled")
	}
	return &APIService{conf: conf}
}

// Start begins the API server. It returns an error if the service is
// already running or if it fails to start.
func (as *APIService) Start(ctx context.Context) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.cancel != nil {
		return fmt.Errorf("service already running")
	}
	_, as.cancel = context.WithCancel(ctx)

	var err error
	as.API, err = api.New(as.conf)
	if err != nil {
		as.cancel = nil
		return fmt.Errorf("failed to create API: %w", err)
	}
	as.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", as.conf.Host, as.conf.Port),
		Handler:           as.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infow("starting API server", "host", as.conf.Host, "port", as.conf.Port)
		if err := as.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start the API server: %v", err)
		}
	}()
	return nil
}

// Stop drains in-flight requests and shuts the server down.
func (as *APIService) Stop() {
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.cancel == nil {
		return
	}
	as.cancel()
	as.cancel = nil

	ctx, cancel := context.WithTimeout(context.Background(), apiShutdownTimeout)
	defer cancel()
	if err := as.server.Shutdown(ctx); err != nil {
		log.Warnw("API server shutdown", "error", err)
	}
}
