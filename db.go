package main

import (
	"context"
	"errors"
	"strings"

	"kartai/pkg/deals"
	"kartai/pkg/storage"
)

// openStore picks the Postgres store when a DSN is configured and the
// in-memory store otherwise. Migration permission errors are logged and
// ignored so a restricted role can still serve.
func openStore(args Args) (deals.Store, func(), error) {
	if args.DbDsn == "" {
		log.Warn("DB_DSN is not set, deals are kept in memory")
		return deals.NewMemoryStore(), func() {}, nil
	}
	store, err := deals.Open(args.DbDsn)
	if err != nil {
		return nil, nil, err
	}
	if args.DbAutoMigrate {
		if err := store.Migrate(); err != nil {
			log.Warnf("migration warning (deals): %v", err)
		}
	}
	return store, func() { _ = store.Close() }, nil
}

func migrate(args Args) error {
	if args.DbDsn == "" {
		return errors.New("DB_DSN is not set")
	}
	store, err := deals.Open(args.DbDsn)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Migrate()
}

// openStorage returns the photo storage. Only the fs backend needs a signer:
// its files are served by this API.
func openStorage(ctx context.Context, args Args) (storage.Storer, *storage.URLSigner, func(), error) {
	var signer *storage.URLSigner
	if !strings.EqualFold(args.StorageType, "gcs") {
		signer = storage.NewURLSigner(args.signingSecret(), args.URLTTL)
	}
	objects, closeFn, err := storage.Setup(ctx, storage.Config{
		Type:   args.StorageType,
		FsPath: args.UploadBase,
		Bucket: args.GcsBucket,
		Signer: signer,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return objects, signer, closeFn, nil
}
