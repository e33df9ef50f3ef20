package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/alexflint/go-arg"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"kartai/pkg/deals"
	"kartai/pkg/logutils"
	"kartai/pkg/ocr"
	"kartai/pkg/ocr/tesseract"
	"kartai/pkg/storage"
	"kartai/process/rescan"
)

var args struct {
	DbDsn         string  `arg:"--db-dsn,env:DB_DSN,required"`
	StorageType   string  `arg:"--storage-type,env:STORAGE_TYPE" default:"fs"`
	UploadBase    string  `arg:"--upload-base,env:UPLOAD_BASE" default:"uploads"`
	GcsBucket     string  `arg:"--gcs-bucket,env:GCS_BUCKET"`
	DryRun        bool    `arg:"--dry-run" help:"print changes without applying them"`
	MinConfidence float64 `arg:"--min-conf" default:"60" help:"minimum digit confidence (0-100)"`
	LogLevel      string  `arg:"--log-level,env:LOG_LEVEL" default:"info"`
}

var log = logrus.StandardLogger()

func main() {
	_ = godotenv.Load()
	arg.MustParse(&args)
	logutils.SetLoggerLevel(args.LogLevel)
	ctx := context.Background()

	store, err := deals.Open(args.DbDsn)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	objects, closeObjects, err := storage.Setup(ctx, storage.Config{
		Type:   args.StorageType,
		FsPath: args.UploadBase,
		Bucket: args.GcsBucket,
	})
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}
	defer closeObjects()

	engine := tesseract.New()
	defer engine.Close()

	changes, err := rescan.Run(ctx, store, objects, ocr.NewScanner(engine), rescan.Options{
		DryRun:        args.DryRun,
		MinConfidence: args.MinConfidence,
	})
	if err != nil {
		log.Fatalf("rescan: %v", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(changes)
}
