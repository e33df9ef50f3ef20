package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexflint/go-arg"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"kartai/pkg/deals"
	"kartai/pkg/logutils"
	"kartai/pkg/ocr"
	"kartai/pkg/ocr/tesseract"
	"kartai/pkg/storage"
	"kartai/process/inbox"
)

var args struct {
	Dir          string  `arg:"positional" default:"inbox" help:"directory to scan for deal photos"`
	ProcessedDir string  `arg:"--processed-dir,env:INBOX_PROCESSED_DIR" default:"inbox/processed"`
	Watch        bool    `arg:"-w,--watch" help:"keep watching for new photos"`
	Workers      int     `arg:"--workers" default:"2"`
	Mode         string  `arg:"-m,--mode" default:"auto"`
	YOffset      float64 `arg:"--y-offset"`
	DryRun       bool    `arg:"--dry-run" help:"scan and log without storing anything"`
	DbDsn        string  `arg:"--db-dsn,env:DB_DSN"`
	StorageType  string  `arg:"--storage-type,env:STORAGE_TYPE" default:"fs"`
	UploadBase   string  `arg:"--upload-base,env:UPLOAD_BASE" default:"uploads"`
	GcsBucket    string  `arg:"--gcs-bucket,env:GCS_BUCKET"`
	LogLevel     string  `arg:"--log-level,env:LOG_LEVEL" default:"info"`
	LogFile      string  `arg:"--log-file,env:LOG_FILE"`
}

var log = logrus.StandardLogger()

func main() {
	_ = godotenv.Load()
	arg.MustParse(&args)
	logutils.SetLoggerLevel(args.LogLevel)
	defer logutils.SetLogFile(args.LogFile).Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store inbox.Writer
	var objects storage.Storer
	if !args.DryRun {
		if args.DbDsn == "" {
			log.Fatal("DB_DSN must be set unless --dry-run is given")
		}
		gs, err := deals.Open(args.DbDsn)
		if err != nil {
			log.Fatalf("open store: %v", err)
		}
		defer gs.Close()
		store = gs

		// files are signed on request by the API, so the stored URL stays empty here
		s, closeObjects, err := storage.Setup(ctx, storage.Config{
			Type:   args.StorageType,
			FsPath: args.UploadBase,
			Bucket: args.GcsBucket,
		})
		if err != nil {
			log.Fatalf("open storage: %v", err)
		}
		defer closeObjects()
		objects = s
	}

	engine := tesseract.New()
	defer engine.Close()

	mode := ocr.ParseMode(args.Mode)
	in := inbox.New(inbox.Config{
		Dir:          args.Dir,
		ProcessedDir: args.ProcessedDir,
		Workers:      args.Workers,
		Scan:         ocr.ScanOptions{Mode: mode, YOffset: args.YOffset, DualBand: mode == ocr.ModeGas},
		DryRun:       args.DryRun,
	}, ocr.NewScanner(engine), store, objects)

	results, err := in.Run(ctx)
	if err != nil {
		log.Fatalf("inbox: %v", err)
	}
	stored := 0
	for _, r := range results {
		if r.Err != nil {
			log.WithError(r.Err).Warnf("%s not stored", r.File)
			continue
		}
		stored++
	}
	log.Infof("inbox done: %d/%d photos stored", stored, len(results))

	if args.Watch {
		err := in.Watch(ctx, func(r inbox.Result) {
			if r.Err != nil {
				log.WithError(r.Err).Warnf("%s not stored", r.File)
			}
		})
		if err != nil {
			log.Fatalf("watch failed: %v", err)
		}
	}
}
