package main

import (
	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

// version is set by ldflags during build
var version = "dev"

type CLI struct {
	Version  kong.VersionFlag `short:"v" help:"Show version"`
	Server   ServerCmd        `cmd:"" help:"Run the game server"`
	Client   ClientCmd        `cmd:"" help:"Connect as an interactive player"`
	Watch    WatchCmd         `cmd:"" help:"Log the event stream of a mode"`
	Simulate SimulateCmd      `cmd:"" help:"Measure return-to-player of the payout table"`
}

func main() {
	// A missing .env is fine; flags and the environment still apply.
	_ = godotenv.Load()

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("wingo"),
		kong.Description("Round-based colour and number prediction game"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version,
		},
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
