package main

import (
	"context"
	"errors"
	"os"

	"sigaasync-backend/cmd/extraction-cli/commands"
	"sigaasync-backend/lib/serviceutil"
	"sigaasync-backend/lib/telemetry"
)

func main() {
	telemetry.InitSlog(true)

	ctx := context.Background()
	tel, err := telemetry.SetupFromEnv(ctx, "extraction-cli")
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		serviceutil.Fatal("failed to setup telemetry", err)
	}
	if err == nil {
		defer tel.Shutdown(ctx)
	}

	commands.ExecuteContext(ctx)
}
