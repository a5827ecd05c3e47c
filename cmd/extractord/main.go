package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"sigaasync-backend/lib/configutil"
	"sigaasync-backend/lib/serviceutil"
	"sigaasync-backend/lib/telemetry"
	"sigaasync-backend/services/extraction"
	"sigaasync-backend/services/matriculas"
)

type config struct {
	Port         int               `json:"port"`
	DatabasePath string            `json:"database_path"`
	PostgresDsn  string            `json:"postgres_dsn"`
	Extraction   extraction.Config `json:"extraction"`
}

func main() {
	telemetry.InitSlog(os.Getenv("DEBUG") != "")
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	ctx := serviceutil.SignalContext()

	tel, err := telemetry.SetupFromEnv(ctx, "extractord")
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		serviceutil.Fatal("failed to setup telemetry", err)
	}
	if err == nil {
		defer tel.Shutdown(ctx)
	}
	telemetry.InstrumentPerfStats(ctx)

	cfg, err := configutil.ReadRecursively[config]("extractord.json5")
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			serviceutil.Fatal("failed to read config", err)
		}
		slog.WarnContext(ctx, "no extractord.json5 found, using defaults")
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "data/extractions.db"
	}
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		cfg.PostgresDsn = dsn
	}
	if password := os.Getenv("LDAP_PASSWORD"); password != "" {
		cfg.Extraction.Ldap.Password = password
	}

	database, err := extraction.Open(ctx, cfg.DatabasePath)
	if err != nil {
		serviceutil.Fatal("failed to open extraction store", err)
	}
	defer database.Close()

	api := &api{extraction: extraction.NewService(database, cfg.Extraction)}

	if cfg.PostgresDsn != "" {
		pg, err := matriculas.Open(ctx, cfg.PostgresDsn)
		if err != nil {
			serviceutil.Fatal("failed to open matriculas store", err)
		}
		defer pg.Close()
		api.matriculas = matriculas.NewService(pg)
	} else {
		slog.WarnContext(ctx, "postgres_dsn not configured, matriculas endpoints disabled")
	}

	slog.InfoContext(ctx, "starting extractord", "port", cfg.Port)
	serviceutil.StartHttpServer(cfg.Port, api.router())
}
