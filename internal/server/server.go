package server

import (
	"context"
	"log"
	"net/http"
	"time"
)

// Handler assembles the websocket event stream and the command API.
func Handler(hub *Hub, dictator Dictator, manager ModelManager, store HistoryStore) http.Handler {
	mux := http.NewServeMux()
	registerWSRoute(mux, hub)
	registerAPIRoutes(mux, dictator, manager, store)
	return mux
}

// Serve runs the command surface until ctx is cancelled.
func Serve(ctx context.Context, addr string, hub *Hub, dictator Dictator, manager ModelManager, store HistoryStore) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: Handler(hub, dictator, manager, store),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("command API listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
