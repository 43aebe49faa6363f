package main

import (
	"context"
	"fmt"
	"os"

	"github.com/yungbote/widgetchat-backend/internal/app"
	"github.com/yungbote/widgetchat-backend/internal/platform/shutdown"
)

func main() {
	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	a, err := app.New(ctx, app.RoleWorker)
	if err != nil {
		fmt.Printf("Failed to init worker: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		a.Log.Error("Worker exited", "error", err)
		a.Close()
		os.Exit(1)
	}
}
