package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

const (
	migrationUp   = "up"
	migrationDown = "down"
)

func main() {
	var dsn, migrationsPath, direction string
	flag.StringVar(&dsn, "dsn", "", "database connection string (falls back to DB_DSN)")
	flag.StringVar(&migrationsPath, "migrations-path", "migrations", "path to migrations")
	flag.StringVar(&direction, "direction", migrationUp, "up or down")
	flag.Parse()

	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		panic("dsn is required")
	}

	m, err := migrate.New("file://"+migrationsPath, dsn)
	if err != nil {
		panic(err)
	}

	switch direction {
	case migrationUp:
		mustMigrateUp(m)
	case migrationDown:
		mustMigrateDown(m)
	default:
		panic(fmt.Sprintf("unknown direction %q", direction))
	}
}

func mustMigrateUp(m *migrate.Migrate) {
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			fmt.Println("no migrations to apply")
			return
		}
		panic(err)
	}
	fmt.Println("migrations applied successfully")
}

func mustMigrateDown(m *migrate.Migrate) {
	if err := m.Down(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			fmt.Println("no migrations to apply")
			return
		}
		panic(err)
	}
	fmt.Println("migrations downed successfully")
}
