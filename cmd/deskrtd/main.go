// Command deskrtd hosts the desktop client's conversation runtime: the
// Worker Manager, streaming pipeline, MCP multiplexer, and the HTTP bridge
// that fronts them, wired together by the serve subcommand.
package main

import (
	"log"
	"os"
	"strings"

	"github.com/jessevdk/go-flags"
)

// configPath is set from the root -f/--config flag before the selected
// sub-command's Execute runs.
var configPath string

func main() {
	run(os.Args[1:])
}

func run(args []string) {
	configPath = extractConfigPath(args)

	opts := &Options{}
	var first string
	if len(args) > 0 {
		first = args[0]
	}
	opts.Init(first)

	parser := flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		log.Fatalf("%v", err)
	}
}

// extractConfigPath scans raw args for -f/--config before full parsing so
// the chosen sub-command's Execute can read it.
func extractConfigPath(args []string) string {
	for i, a := range args {
		switch a {
		case "-f", "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
		default:
			if strings.HasPrefix(a, "--config=") {
				return strings.TrimPrefix(a, "--config=")
			}
		}
	}
	return ""
}
