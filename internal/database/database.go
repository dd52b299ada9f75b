package database

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/matchday/backend/internal/permissions"
	"github.com/MarcoPoloResearchLab/matchday/backend/internal/principals"
	"github.com/MarcoPoloResearchLab/matchday/backend/internal/scoring"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options selects the database to open.
type Options struct {
	Driver string
	DSN    string
}

// Open connects to the configured database, migrates the schema and applies the
// named data migrations.
func Open(options Options, zapLogger *zap.Logger) (*gorm.DB, error) {
	dsn := strings.TrimSpace(options.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	var (
		db  *gorm.DB
		err error
	)
	switch strings.ToLower(strings.TrimSpace(options.Driver)) {
	case DriverSQLite, "":
		db, err = openSQLite(dsn)
	case DriverPostgres:
		db, err = openPostgres(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", options.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := Migrate(db, zapLogger); err != nil {
		return nil, err
	}

	if zapLogger != nil {
		zapLogger.Info("database initialized", zap.String("driver", db.Dialector.Name()))
	}
	return db, nil
}

// Migrate creates or updates every table the service owns and runs pending data migrations.
func Migrate(db *gorm.DB, zapLogger *zap.Logger) error {
	if err := db.AutoMigrate(schemaModels()...); err != nil {
		return err
	}
	return applyMigrations(db, zapLogger)
}

func schemaModels() []interface{} {
	models := append([]interface{}{}, scoring.Models()...)
	return append(models, &permissions.RoleAssignment{}, &principals.Identity{}, &migrationRecord{})
}

func gormConfig() *gorm.Config {
	return &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
}
