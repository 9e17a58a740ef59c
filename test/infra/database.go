package infra

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/jackc/pgx/v5"
)

const (
	localHost     = "127.0.0.1:5432"
	localDatabase = "courseflow_stress"
	localRole     = "courseflow"
	localPassword = "courseflow"
)

// InitLocalDatabase recreates courseflow_stress on a PostgreSQL listening on
// localhost and returns its DSN. Used when neither a DSN nor docker is available.
func InitLocalDatabase(ctx context.Context) (string, error) {
	if !localPostgresReady(ctx) {
		return "", errors.New("local postgres is not accepting connections on " + localHost)
	}

	admin, err := connectAdmin(ctx)
	if err != nil {
		return "", err
	}
	defer admin.Close(ctx)

	role := pgx.Identifier{localRole}.Sanitize()
	database := pgx.Identifier{localDatabase}.Sanitize()

	steps := []struct {
		name string
		sql  string
	}{
		{"create role", fmt.Sprintf(`DO $$ BEGIN CREATE ROLE %s WITH LOGIN PASSWORD '%s'; EXCEPTION WHEN duplicate_object THEN NULL; END $$;`, role, localPassword)},
		{"drop database", "DROP DATABASE IF EXISTS " + database + " WITH (FORCE)"},
		{"create database", "CREATE DATABASE " + database + " OWNER " + role},
		{"grant", "GRANT ALL PRIVILEGES ON DATABASE " + database + " TO " + role},
	}
	for _, step := range steps {
		if _, err := admin.Exec(ctx, step.sql); err != nil {
			return "", fmt.Errorf("local database: %s: %w", step.name, err)
		}
	}

	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", localRole, localPassword, localHost, localDatabase), nil
}

// connectAdmin tries the usual superuser logins of a developer machine.
func connectAdmin(ctx context.Context) (*pgx.Conn, error) {
	user := os.Getenv("USER")
	candidates := []string{
		"postgres://postgres@" + localHost + "/postgres?sslmode=disable",
		"postgres://postgres:postgres@" + localHost + "/postgres?sslmode=disable",
		"postgres://" + user + "@" + localHost + "/postgres?sslmode=disable",
		"postgres://" + user + ":postgres@" + localHost + "/postgres?sslmode=disable",
	}

	var errs []error
	for _, dsn := range candidates {
		conn, err := pgx.Connect(ctx, dsn)
		if err == nil {
			return conn, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("local database: connect as admin: %w", errors.Join(errs...))
}

func localPostgresReady(ctx context.Context) bool {
	return exec.CommandContext(ctx, "pg_isready", "-h", "127.0.0.1", "-p", "5432").Run() == nil
}
