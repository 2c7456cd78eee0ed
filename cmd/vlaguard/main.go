package main

import (
	"context"
	"os"

	"github.com/straja-ai/vlaguard/internal/cli"
	"github.com/straja-ai/vlaguard/internal/redact"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		redact.Logf("vlaguard: %v", err)
		os.Exit(1)
	}
}
