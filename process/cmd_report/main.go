package main

import (
	"context"
	"os"

	"github.com/alexflint/go-arg"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"kartai/pkg/deals"
	"kartai/pkg/logutils"
	"kartai/process/report"
)

var args struct {
	DbDsn    string `arg:"--db-dsn,env:DB_DSN,required"`
	Type     string `arg:"-t,--type" default:"all" help:"all, grocery or gas"`
	Query    string `arg:"-q,--query"`
	Top      int    `arg:"-n,--top" default:"10" help:"rows per type, 0 for all"`
	LogLevel string `arg:"--log-level,env:LOG_LEVEL" default:"warn"`
}

var log = logrus.StandardLogger()

func main() {
	_ = godotenv.Load()
	arg.MustParse(&args)
	logutils.SetLoggerLevel(args.LogLevel)

	store, err := deals.Open(args.DbDsn)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	list, err := store.List(context.Background())
	if err != nil {
		log.Fatalf("list deals: %v", err)
	}
	if err := report.Write(os.Stdout, list, report.Options{
		Type:  deals.ParseTypeFilter(args.Type),
		Query: args.Query,
		Top:   args.Top,
	}); err != nil {
		log.Fatalf("write report: %v", err)
	}
}
