package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "gocloud.dev/blob/fileblob"

	app "github.com/kode4food/flowsession"
	"github.com/kode4food/flowsession/internal/archive"
	"github.com/kode4food/flowsession/internal/auth"
	"github.com/kode4food/flowsession/internal/config"
	"github.com/kode4food/flowsession/internal/conn"
	"github.com/kode4food/flowsession/internal/session"
	"github.com/kode4food/flowsession/pkg/log"
)

type flowtest struct {
	cfg      *config.Config
	tokens   auth.TokenProvider
	redis    *auth.RedisTokenProvider
	archiver *archive.BlobArchiver
	ctrl     *session.Controller
	render   *renderer
	out      io.Writer
	quit     chan os.Signal
}

var ErrOpenArchive = errors.New("failed to open transcript archive")

func main() {
	cfg := config.NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}

	f := &flowtest{
		cfg:  cfg,
		out:  os.Stdout,
		quit: make(chan os.Signal, 1),
	}
	f.setupLogging()

	if err := f.run(); err != nil {
		slog.Error("Session failed", log.Error(err))
		os.Exit(1)
	}
}

func (f *flowtest) run() error {
	if err := f.initialize(); err != nil {
		return err
	}
	defer f.shutdown()

	if err := f.ctrl.Connect(context.Background()); err != nil {
		fmt.Fprintf(f.out, "! connect failed: %v (use /connect to retry)\n", err)
	}

	lines := make(chan string)
	go readLines(os.Stdin, lines)

	signal.Notify(f.quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(f.quit)

	for {
		select {
		case <-f.quit:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if !f.handleLine(line) {
				return nil
			}
		}
	}
}

func (f *flowtest) setupLogging() {
	level := log.ParseLevel(f.cfg.LogLevel)
	env := os.Getenv("ENV")
	logger := log.NewWithWriter(os.Stderr, app.Name, env, app.Version, level)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level)

	slog.Info("Flow test panel starting",
		log.FlowID(f.cfg.FlowID),
		slog.String("server_url", f.cfg.ServerURL),
		slog.String("log_level", f.cfg.LogLevel))
}

func (f *flowtest) initialize() error {
	if f.cfg.TokenStore.Addr != "" {
		f.redis = auth.NewRedisTokenProvider(&f.cfg.TokenStore)
		f.tokens = f.redis
	} else {
		f.tokens = auth.StaticToken(f.cfg.AccessToken)
	}

	var apps []session.Applier
	if f.cfg.ArchiveBucketURL != "" {
		a, err := archive.Open(
			context.Background(), f.cfg.ArchiveBucketURL, f.cfg.ArchivePrefix,
		)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrOpenArchive, err)
		}
		f.archiver = a
		apps = append(apps, session.WithArchiver(a))
	}

	mgr := conn.NewManager(f.cfg, f.tokens)
	f.ctrl = session.New(f.cfg, mgr, apps...)
	f.render = newRenderer(f.out, f.ctrl)
	f.render.start()
	return nil
}

func (f *flowtest) handleLine(line string) bool {
	line = strings.TrimRight(line, "\r\n")
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")

	var err error
	switch cmd {
	case "":
		return true
	case "/quit", "/exit":
		return false
	case "/stop":
		err = f.ctrl.Stop()
	case "/retry":
		err = f.ctrl.RetryStreaming(strings.TrimSpace(arg))
	case "/reset":
		err = f.ctrl.ResetAll()
	case "/connect":
		err = f.ctrl.Connect(context.Background())
	case "/disconnect":
		err = f.ctrl.Disconnect()
	case "/status":
		f.render.printStatus()
	case "/help":
		printHelp(f.out)
	default:
		err = f.ctrl.SendUserMessage(line)
	}
	if err != nil {
		fmt.Fprintf(f.out, "! %v\n", err)
	}
	return true
}

func (f *flowtest) shutdown() {
	if err := f.ctrl.Close(context.Background()); err != nil {
		slog.Error("Session close failed", log.Error(err))
	}
	f.render.stop()
	if f.archiver != nil {
		_ = f.archiver.Close()
	}
	if f.redis != nil {
		_ = f.redis.Close()
	}
	slog.Info("Flow test panel exited")
}

func readLines(r io.Reader, lines chan<- string) {
	defer close(lines)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lines <- sc.Text()
	}
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, "  <text>          send a message (answers a pending input first)")
	fmt.Fprintln(w, "  /stop           cancel the running flow")
	fmt.Fprintln(w, "  /retry [node]   re-run after a stalled stream")
	fmt.Fprintln(w, "  /reset          clear node highlighting")
	fmt.Fprintln(w, "  /status         show node statuses")
	fmt.Fprintln(w, "  /connect        reconnect after giving up")
	fmt.Fprintln(w, "  /disconnect     close the connection")
	fmt.Fprintln(w, "  /quit           leave")
}
