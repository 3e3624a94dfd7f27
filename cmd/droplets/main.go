package main

import (
	"context"
	"os"

	"github.com/ethereum/go-ethereum/log"

	"github.com/wjorgensen/StreamDroplets/common/opio"
)

var (
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := newCli(GitCommit, GitDate)
	ctx := opio.CancelOnInterrupt(context.Background())
	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Crit("application failed", "err", err)
	}
}
