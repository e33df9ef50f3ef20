package deals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"kartai/models"
)

// NotifyChannel is the Postgres channel the deals trigger notifies on.
const NotifyChannel = "deals_changed"

var notifySQL = []string{
	`CREATE OR REPLACE FUNCTION notify_deals_changed() RETURNS trigger AS $$
BEGIN
	IF TG_OP = 'DELETE' THEN
		PERFORM pg_notify('deals_changed', OLD.id);
	ELSE
		PERFORM pg_notify('deals_changed', NEW.id);
	END IF;
	RETURN NULL;
END;
$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS deals_changed ON deals`,
	`CREATE TRIGGER deals_changed AFTER INSERT OR UPDATE OR DELETE ON deals
	FOR EACH ROW EXECUTE FUNCTION notify_deals_changed()`,
}

// GormStore keeps deals in Postgres. Live updates use LISTEN/NOTIFY on a
// dedicated pgx connection opened from dsn.
type GormStore struct {
	db      *gorm.DB
	dsn     string
	backoff time.Duration
}

func NewGormStore(db *gorm.DB, dsn string) *GormStore {
	return &GormStore{db: db, dsn: dsn, backoff: 2 * time.Second}
}

// Open connects to Postgres and returns a store on the connection.
func Open(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect postgres database: %w", err)
	}
	return NewGormStore(db, dsn), nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate creates the deals table and the change notification trigger.
func (s *GormStore) Migrate() error {
	if err := s.db.AutoMigrate(&models.Deal{}); err != nil {
		return err
	}
	for _, stmt := range notifySQL {
		if err := s.db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *GormStore) Create(ctx context.Context, d *models.Deal) (string, error) {
	if err := prepare(d, false); err != nil {
		return "", err
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(d).Error; err != nil {
		return "", writeFailed("create", err)
	}
	return d.ID, nil
}

func (s *GormStore) Upsert(ctx context.Context, d *models.Deal) (string, error) {
	if err := prepare(d, true); err != nil {
		return "", err
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"item", "store", "station", "location", "caption", "price", "unit",
			"normalized_per_kg", "normalized_per_l", "original_multi_buy",
			"image_url", "image_path", "updated_at",
		}),
	}).Create(d).Error
	if err != nil {
		return "", writeFailed("upsert", err)
	}
	return d.ID, nil
}

func (s *GormStore) Update(ctx context.Context, id string, p Patch) error {
	var d models.Deal
	if err := s.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return writeFailed("load", err)
	}
	if err := p.Apply(&d); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Save(&d).Error; err != nil {
		return writeFailed("update", err)
	}
	return nil
}

func (s *GormStore) Remove(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&models.Deal{}, "id = ?", id)
	if res.Error != nil {
		return writeFailed("remove", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) List(ctx context.Context) ([]models.Deal, error) {
	var out []models.Deal
	if err := s.db.WithContext(ctx).Order("updated_at desc").Order("id").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Subscribe listens on NotifyChannel and re-reads the list on every
// notification. Connection failures are reported, answered with a one-shot
// read and retried after a backoff.
func (s *GormStore) Subscribe(ctx context.Context, onChange func([]models.Deal), onError func(error)) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		for ctx.Err() == nil {
			if err := s.listen(ctx, onChange); err != nil && ctx.Err() == nil {
				log.WithError(err).Warn("deals listen failed")
				onError(err)
				s.fallback(ctx, onChange, onError)
			}
			select {
			case <-ctx.Done():
			case <-time.After(s.backoff):
			}
		}
	}()
	return cancel, nil
}

func (s *GormStore) fallback(ctx context.Context, onChange func([]models.Deal), onError func(error)) {
	list, err := s.List(ctx)
	if err != nil {
		if ctx.Err() == nil {
			onError(err)
		}
		return
	}
	onChange(list)
}

func (s *GormStore) listen(ctx context.Context, onChange func([]models.Deal)) error {
	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())
	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return err
	}
	list, err := s.List(ctx)
	if err != nil {
		return err
	}
	onChange(list)
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		log.Debugf("deal %s changed", n.Payload)
		list, err := s.List(ctx)
		if err != nil {
			return err
		}
		onChange(list)
	}
}
