package database

import (
	"context"
	"embed"
	"strings"
	"time"

	"defect-tracker/internal/config"
	"defect-tracker/internal/logging"
	"defect-tracker/internal/models"

	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"
)

var DB *gorm.DB

//go:embed migrations/*.sql
var migrationsFS embed.FS

const maxAttempts = 10

// Open connects once. For sqlite the DSN is a file path.
func Open(driver, dsn string, log *zap.Logger) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: logging.NewGormLogger(log)}

	switch driver {
	case "postgres":
		return gorm.Open(postgres.Open(dsn), gcfg)
	case "sqlite":
		if !strings.Contains(dsn, "?") {
			dsn += "?_pragma=busy_timeout(5000)"
		}
		return gorm.Open(sqlite.Dialector{
			DriverName: "sqlite",
			DSN:        dsn,
		}, gcfg)
	}
	return nil, errors.Errorf("unsupported database driver %q", driver)
}

// Connect retries Open while the database container is still starting.
func Connect(driver, dsn string, log *zap.Logger) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)

	for i := 1; i <= maxAttempts; i++ {
		log.Info("connecting to database", zap.String("driver", driver), zap.Int("attempt", i), zap.Int("max", maxAttempts))

		db, err = Open(driver, dsn, log)
		if err == nil {
			err = ping(db)
		}
		if err == nil {
			log.Info("connected to database")
			return db, nil
		}

		log.Warn("failed to connect to database", zap.Error(err))
		time.Sleep(2 * time.Second)
	}

	return nil, errors.Wrapf(err, "connect after %d attempts", maxAttempts)
}

func ping(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

type gooseLogger struct {
	*zap.SugaredLogger
}

func (l gooseLogger) Printf(format string, v ...interface{}) {
	l.Infof(strings.TrimSpace(format), v...)
}

// Migrate creates the tables from the models, then applies the embedded SQL
// migrations (indexes and reporting views) on top.
func Migrate(ctx context.Context, db *gorm.DB, log *zap.Logger) error {
	err := db.WithContext(ctx).AutoMigrate(
		&models.Contractor{},
		&models.User{},
		&models.Project{},
		&models.Category{},
		&models.FloorPlan{},
		&models.FloorPlanBackup{},
		&models.Defect{},
		&models.DefectImage{},
		&models.DefectDraft{},
		&models.AuditLog{},
		&models.SystemLog{},
		&models.UserLog{},
		&models.ExportLog{},
	)
	if err != nil {
		return errors.Wrap(err, "auto migrate")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	dialect := "postgres"
	if db.Dialector.Name() == "sqlite" {
		dialect = "sqlite3"
	}
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}

	goose.SetLogger(gooseLogger{log.Sugar()})
	goose.SetBaseFS(migrationsFS)
	if err := goose.UpContext(ctx, sqlDB, "migrations"); err != nil {
		return errors.Wrap(err, "goose up")
	}

	return nil
}

// Init connects, migrates, seeds the admin account and publishes the handle as DB.
func Init(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	db, err := Connect(cfg.DBDriver, cfg.DBDSN, log)
	if err != nil {
		return err
	}

	if err := Migrate(ctx, db, log); err != nil {
		return err
	}

	DB = db

	created, err := EnsureAdmin(cfg.AdminUser, cfg.AdminPass)
	if err != nil {
		return errors.Wrap(err, "seed admin")
	}
	if created {
		log.Info("created default admin user", zap.String("username", cfg.AdminUser))
	}

	return nil
}
