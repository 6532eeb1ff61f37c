package main

import (
	"context"
	"os"

	"github.com/amp-labs/stage-engine/cli"
	"github.com/amp-labs/stage-engine/shutdown"
)

func main() {
	ctx, handler := shutdown.SetupHandler(context.Background())

	code := cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)

	handler.Release()
	os.Exit(code)
}
