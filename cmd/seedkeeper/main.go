// Command seedkeeper keeps a download daemon seeding a tracker's free
// promotions within a fixed disk budget.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

var version = "dev"

// Globals are shared by every command.
type Globals struct {
	RPCURL      string `name:"rpc-url" help:"Transmission RPC endpoint." default:"http://127.0.0.1:9091/transmission/rpc" env:"SEEDKEEPER_RPC_URL"`
	Credentials string `help:"Credentials template file (JSON with env/file/op functions)." default:"credentials.json.tmpl" env:"SEEDKEEPER_CREDENTIALS"`
	OPAccount   string `name:"op-account" help:"1Password account used by the op template function." env:"SEEDKEEPER_OP_ACCOUNT"`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info" enum:"debug,info,warn,error" env:"SEEDKEEPER_LOG_LEVEL"`
	LogFormat string `help:"Log format (tint, text, json)." default:"tint" enum:"tint,text,json" env:"SEEDKEEPER_LOG_FORMAT"`
	LogFile   string `help:"Log file used while the terminal display is active." default:"seedkeeper.log" env:"SEEDKEEPER_LOG_FILE"`

	Version kong.VersionFlag `help:"Print version and exit."`
}

// CLI is the command line.
type CLI struct {
	Globals

	Run       RunCmd       `cmd:"" default:"withargs" help:"Run the refresh, promote and maintain loops (default)."`
	Act       ActCmd       `cmd:"" help:"Apply a torrent action (start, stop, start-now, verify, reannounce)."`
	FreeSpace FreeSpaceCmd `cmd:"" name:"free-space" help:"Report free space on the daemon host."`
}

func main() {
	// a missing .env is fine
	_ = godotenv.Load()

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("seedkeeper"),
		kong.Description("Seed a private tracker's free promotions within a disk budget."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)

	if err := ctx.Run(&cli.Globals); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
