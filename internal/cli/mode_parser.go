package cli

import (
	"fmt"
	"io"
	"strings"
)

const (
	ModeServer     = "server"
	ModeDispatcher = "dispatcher"
	ModeMigrate    = "migrate"
)

// isKnownMode checks if the provided mode name is known.
func isKnownMode(s string) (string, bool) {
	switch s {
	case ModeServer, "gateway", "api":
		return ModeServer, true
	case ModeDispatcher, "dispatch", "broadcast":
		return ModeDispatcher, true
	case ModeMigrate, "migrations":
		return ModeMigrate, true
	default:
		return "", false
	}
}

// NormalizeArgs rewrites the accepted mode spellings into a leading subcommand:
//
//	--mode=<value> [flags]
//	--mode <value> [flags]
//	<alias> [flags], e.g. `gateway --embed-dispatcher=false`
//
// Unknown modes are passed through so the command tree reports them.
func NormalizeArgs(args []string) []string {
	var mode string
	out := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case strings.HasPrefix(arg, "--mode="):
			mode = strings.TrimPrefix(arg, "--mode=")
			continue
		case arg == "--mode" && i+1 < len(args):
			mode = args[i+1]
			i++
			continue
		}

		if mode == "" && len(out) == 0 {
			if m, ok := isKnownMode(arg); ok {
				mode = m
				continue
			}
		}
		out = append(out, arg)
	}

	if mode == "" {
		return out
	}
	if m, ok := isKnownMode(mode); ok {
		mode = m
	}

	return append([]string{mode}, out...)
}

// PrintUsage prints the usage information with examples.
func PrintUsage(w io.Writer) {
	fmt.Fprint(w, "\033[36m") // switch the color to cyan

	fmt.Fprintln(w, `Usage:
  ./dispatch --mode=<mode> [flags]
  ./dispatch <mode> [flags]

Modes:
  server        Websocket gateway, job lifecycle and operator API
  dispatcher    RabbitMQ consumer that broadcasts job offers
  migrate       Apply the database schema and exit

Examples:
  ./dispatch --mode=server --port=8080
  ./dispatch server --embed-dispatcher=false
  ./dispatch --mode=dispatcher --metrics-port=8081 --prefetch=4
  STORE_DRIVER=sqlite ./dispatch migrate`)

	fmt.Fprint(w, "\033[0m") // switch back to normal
}
