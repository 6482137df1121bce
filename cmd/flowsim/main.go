package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	app "github.com/kode4food/flowsession"
	"github.com/kode4food/flowsession/internal/server"
	"github.com/kode4food/flowsession/pkg/log"
)

type flowsim struct {
	addr       string
	backend    *server.Server
	httpServer *http.Server
	quit       chan os.Signal
}

const (
	defaultAddr     = ":8005"
	shutdownTimeout = 5 * time.Second
)

func main() {
	level := log.ParseLevel(os.Getenv("LOG_LEVEL"))
	logger := log.NewWithLevel(
		app.Name+"-sim", os.Getenv("ENV"), app.Version, level,
	)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level)
	if level > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	cfg := server.Config{
		Token:      os.Getenv("SIM_TOKEN"),
		TokenParam: os.Getenv("TOKEN_PARAM"),
		StepDelay:  server.DefaultStepDelay,
	}
	if v := os.Getenv("SIM_STEP_DELAY_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			slog.Error("Invalid configuration",
				log.ErrorString("SIM_STEP_DELAY_MS must be a whole number"))
			os.Exit(1)
		}
		cfg.StepDelay = time.Duration(ms) * time.Millisecond
	}

	addr := os.Getenv("SIM_ADDR")
	if addr == "" {
		addr = defaultAddr
	}

	s := &flowsim{
		addr:    addr,
		backend: server.NewServer(cfg),
		quit:    make(chan os.Signal, 1),
	}
	s.run()
}

func (s *flowsim) run() {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.backend.SetupRoutes(),
	}

	go func() {
		slog.Info("Simulated backend starting",
			slog.String("addr", s.httpServer.Addr))
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", log.Error(err))
			os.Exit(1)
		}
	}()

	signal.Notify(s.quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(s.quit)
	<-s.quit

	s.shutdown()
}

func (s *flowsim) shutdown() {
	slog.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.backend.CloseSessions()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("Shutdown failed", log.Error(err))
	}
	slog.Info("Simulated backend exited")
}
