package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/cedromirror/talkcart-web-sub008/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	_ = godotenv.Load()
	code := cli.Execute(ctx)
	stop()
	os.Exit(code)
}
