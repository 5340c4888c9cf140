// Command mockbulk runs the in-process bulk endpoint stub as a standalone
// server, for manual testing of the CLIs without a real org.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/perrin/forcebulk/internal/logger"
	"github.com/perrin/forcebulk/internal/mockbulk"
)

func main() {
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "mockbulk",
	})
	logger.SetDefault(appLogger)

	addr := flag.String("addr", ":8080", "Listen address")
	token := flag.String("token", "mock-token", "Session token every request must carry")
	polls := flag.Int("polls", 1, "Status checks before a batch completes")
	stall := flag.Bool("stall", false, "Keep batches InProgress forever")
	flag.Parse()

	srv := &http.Server{
		Addr: *addr,
		Handler: mockbulk.New(mockbulk.Options{
			Token:           *token,
			PollsBeforeDone: *polls,
			Stall:           *stall,
		}).Router(),
	}

	go func() {
		appLogger.WithField("addr", *addr).Info("Mock bulk endpoint listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Forced shutdown")
	}
}
