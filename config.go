package main

import "time"

type MigrateCmd struct{}

// Args is read from flags, the environment and an optional .env file.
type Args struct {
	ListenAddr       string        `arg:"-L,--listen-addr,env:LISTEN_ADDR" default:":8081"`
	DbDsn            string        `arg:"--db-dsn,env:DB_DSN" help:"Postgres DSN; empty keeps deals in memory"`
	DbAutoMigrate    bool          `arg:"--db-auto-migrate,env:DB_AUTO_MIGRATE" default:"true"`
	StorageType      string        `arg:"--storage-type,env:STORAGE_TYPE" default:"fs" help:"fs or gcs"`
	UploadBase       string        `arg:"--upload-base,env:UPLOAD_BASE" default:"uploads" help:"directory for the fs storage"`
	GcsBucket        string        `arg:"--gcs-bucket,env:GCS_BUCKET" help:"bucket for the gcs storage"`
	URLSigningSecret string        `arg:"--url-signing-secret,env:URL_SIGNING_SECRET"`
	URLTTL           time.Duration `arg:"--url-ttl,env:URL_TTL" default:"168h" help:"lifetime of signed file URLs"`
	CachePath        string        `arg:"--cache-path,env:CACHE_PATH" default:"kart.db"`
	OcrPresets       string        `arg:"--ocr-presets,env:OCR_PRESETS" help:"preset JSON file or URL"`
	Resync           string        `arg:"--resync,env:DEALS_RESYNC" default:"@every 1m" help:"cron spec for re-reading the deal list"`
	MaxUploadMB      int64         `arg:"--max-upload-mb,env:MAX_UPLOAD_MB" default:"10"`
	LogLevel         string        `arg:"--log-level,env:LOG_LEVEL" default:"info"`
	LogFile          string        `arg:"--log-file,env:LOG_FILE"`

	Migrate *MigrateCmd `arg:"subcommand:migrate" help:"create the deals table and its trigger, then exit"`
}

const devSigningSecret = "dev-insecure-secret-change"

func (a Args) signingSecret() string {
	if a.URLSigningSecret == "" {
		log.Warn("URL_SIGNING_SECRET is not set, using the development secret")
		return devSigningSecret
	}
	return a.URLSigningSecret
}
