package main

import (
	"log"
	"os"

	"github.com/NordCoder/Cronus/internal/obs"
	"github.com/NordCoder/Cronus/migrations"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	dsn := pflag.String("dsn", os.Getenv("DB_DSN"), "postgres DSN (defaults to $DB_DSN)")
	command := pflag.String("command", "up", "goose command: up, down, status, reset")
	pflag.Parse()

	l, err := obs.NewLogger(obs.LogConfig{Level: "info", App: "cronus-migrator"})
	if err != nil {
		log.Fatal(err)
	}
	if *dsn == "" {
		l.Fatal("DB_DSN is empty")
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		l.Fatal("set dialect", zap.Error(err))
	}
	db, err := goose.OpenDBWithDriver("pgx", *dsn)
	if err != nil {
		l.Fatal("open db", zap.Error(err))
	}
	defer db.Close()

	if err := goose.Run(*command, db, "."); err != nil {
		l.Fatal("migrate", zap.String("command", *command), zap.Error(err))
	}
	l.Info("migrations done", zap.String("command", *command))
}
