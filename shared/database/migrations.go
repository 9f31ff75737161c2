package database

import "embed"

// MigrationsFS - SQL миграции схемы документов для pkg/migration.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS

// MigrationsDir - каталог миграций внутри MigrationsFS.
const MigrationsDir = "migrations"
