// Команда migrate управляет схемой базы вне основного процесса:
// применяет и откатывает миграции, снимает dirty-состояние.
package main

import (
	"database/sql"
	"errors"
	"flag"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"github.com/yourusername/eduquery-api/internal/config"
	"github.com/yourusername/eduquery-api/pkg/database"
)

func main() {
	action := flag.String("action", "up", "up, down, force или version")
	steps := flag.Int("steps", 1, "количество миграций для down")
	version := flag.Int("version", -1, "версия для force")
	source := flag.String("source", database.DefaultMigrationsSource, "каталог миграций")
	flag.Parse()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.PostgresURL())
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatal(err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatal(err)
	}

	m, err := migrate.NewWithDatabaseInstance(*source, "postgres", driver)
	if err != nil {
		log.Fatal(err)
	}

	switch *action {
	case "up":
		err = m.Up()
	case "down":
		err = m.Steps(-*steps)
	case "force":
		if *version < 0 {
			log.Fatal("-version is required for force")
		}
		// Снимает dirty-состояние после неудачной миграции
		err = m.Force(*version)
	case "version":
		v, dirty, verr := m.Version()
		if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
			log.Fatal(verr)
		}
		log.Printf("Version: %d, dirty: %t", v, dirty)
		return
	default:
		log.Fatalf("unknown action %q", *action)
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("Migration %s failed: %v", *action, err)
	}
	log.Printf("Migration %s completed", *action)
}
