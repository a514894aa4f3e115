package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/accessportal/internal/audit/domain"
	devicedomain "github.com/smallbiznis/accessportal/internal/device/domain"
	tokendomain "github.com/smallbiznis/accessportal/internal/enrollmenttoken/domain"
	integrationdomain "github.com/smallbiznis/accessportal/internal/integration/domain"
	organizationdomain "github.com/smallbiznis/accessportal/internal/organization/domain"
	profiledomain "github.com/smallbiznis/accessportal/internal/profile/domain"
	resourcedomain "github.com/smallbiznis/accessportal/internal/resource/domain"
	secretdomain "github.com/smallbiznis/accessportal/internal/secretstore/domain"
	sessiondomain "github.com/smallbiznis/accessportal/internal/session/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Models lists every persisted type in dependency order.
func Models() []any {
	return []any{
		&organizationdomain.Organization{},
		&profiledomain.Profile{},
		&devicedomain.Device{},
		&devicedomain.DeviceEvent{},
		&tokendomain.EnrollmentToken{},
		&secretdomain.EncryptedSecret{},
		&integrationdomain.ProviderIntegration{},
		&resourcedomain.Resource{},
		&resourcedomain.Group{},
		&resourcedomain.GroupMember{},
		&resourcedomain.ResourceGrant{},
		&sessiondomain.AccessSession{},
		&auditdomain.AuditLog{},
	}
}

// Run applies the versioned SQL migrations on postgres. Other dialects are
// development targets and get their schema from the gorm models.
func Run(conn *gorm.DB, dbType string) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if dbType != "postgres" {
		return AutoMigrate(conn)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// migrator.Close would close the shared *sql.DB

	return nil
}
