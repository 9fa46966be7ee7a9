package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vitalmesh/consentd/internal/app"
)

func TestConvertDatabaseConfigDefaultsToSQLite(t *testing.T) {
	cfg := &app.Config{}
	cfg.Database.Path = " ./data/consentd.sqlite "

	dbCfg := convertDatabaseConfig(cfg)

	require.Equal(t, "sqlite", dbCfg.Driver)
	require.Equal(t, "./data/consentd.sqlite", dbCfg.Path)
}

func TestConvertDatabaseConfigPostgres(t *testing.T) {
	cfg := &app.Config{}
	cfg.Database.Driver = "PostgreSQL"
	cfg.Database.Postgres.Host = "db.internal"
	cfg.Database.Postgres.Port = 5432
	cfg.Database.Postgres.Database = "consentd"
	cfg.Database.Postgres.Username = "consentd"
	cfg.Database.Postgres.Password = "secret"

	dbCfg := convertDatabaseConfig(cfg)

	require.Equal(t, "postgres", dbCfg.Driver)
	require.Equal(t, "db.internal", dbCfg.Host)
	require.Equal(t, 5432, dbCfg.Port)
	require.Equal(t, "consentd", dbCfg.Name)
	require.Equal(t, "consentd", dbCfg.User)
	require.Equal(t, "secret", dbCfg.Password)
}

func TestConvertDatabaseConfigMySQL(t *testing.T) {
	cfg := &app.Config{}
	cfg.Database.Driver = "mysql"
	cfg.Database.MySQL.Host = "mysql.internal"
	cfg.Database.MySQL.Port = 3306
	cfg.Database.MySQL.Database = "consentd"

	dbCfg := convertDatabaseConfig(cfg)

	require.Equal(t, "mysql", dbCfg.Driver)
	require.Equal(t, "mysql.internal", dbCfg.Host)
	require.Equal(t, 3306, dbCfg.Port)
}

func TestLoadApplicationConfigMissingPath(t *testing.T) {
	_, err := loadApplicationConfig("/nonexistent/config/dir")
	require.Error(t, err)
	require.Contains(t, err.Error(), "does not exist")
}
