package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"kartai/pkg/cache"
	"kartai/pkg/deals"
	"kartai/pkg/logutils"
	"kartai/pkg/ocr"
	"kartai/pkg/ocr/tesseract"
)

var log = logrus.StandardLogger()

func main() {
	// variables already set win over .env
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("load .env: %v", err)
	}
	var args Args
	arg.MustParse(&args)
	logutils.SetLoggerLevel(args.LogLevel)
	logFile := logutils.SetLogFile(args.LogFile)
	defer logFile.Close()

	// `kartai migrate` creates the schema and exits. Useful for CI or manual DB setup.
	if args.Migrate != nil {
		if err := migrate(args); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		log.Info("migration completed")
		return
	}

	if err := run(args); err != nil {
		log.Fatalf("run: %v", err)
	}
}

func run(args Args) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(args)
	if err != nil {
		return err
	}
	defer closeStore()

	kv, closeCache := openCache(args.CachePath)
	defer closeCache()

	objects, signer, closeObjects, err := openStorage(ctx, args)
	if err != nil {
		return err
	}
	defer closeObjects()

	engine := tesseract.New()
	defer engine.Close()

	presets := ocr.NewPresetStore(args.OcrPresets)
	_ = presets.Reload(ctx)
	go func() {
		if err := presets.Watch(ctx); err != nil {
			log.WithError(err).Warn("presets watch stopped")
		}
	}()

	live := deals.NewLive(store, kv)
	if err := live.Start(ctx, args.Resync); err != nil {
		return err
	}
	defer live.Close()

	s := newServer(serverConfig{
		Store:     store,
		Live:      live,
		KV:        kv,
		Scanner:   ocr.NewScanner(engine),
		Tasks:     ocr.NewTasks(10 * time.Minute),
		Presets:   presets,
		Objects:   objects,
		Signer:    signer,
		MaxUpload: args.MaxUploadMB << 20,
	})

	ln, err := net.Listen("tcp", args.ListenAddr)
	if err != nil {
		return err
	}
	log.Infof("listening on %s", ln.Addr())
	return serve(ctx, &http.Server{Handler: s.e}, ln, 10*time.Second)
}

// serve runs srv until ctx is done and returns once shutdown has finished.
// Request contexts derive from ctx, so open streams end when it does.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, grace time.Duration) error {
	srv.BaseContext = func(net.Listener) context.Context { return ctx }
	shutdown := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		shutdown <- srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	if err := <-shutdown; err != nil {
		log.WithError(err).Warn("shutdown")
	}
	return nil
}

// openCache falls back to an in-memory cache when the bolt file cannot be
// opened, e.g. because another instance holds its lock.
func openCache(path string) (cache.KV, func()) {
	b, err := cache.Open(path)
	if err != nil {
		log.WithError(err).Warnf("cache %s unavailable, using memory", path)
		return cache.NewMemory(), func() {}
	}
	return b, func() { _ = b.Close() }
}
