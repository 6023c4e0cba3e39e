package cli

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"
)

const usageHeader = `markdown-cli - command line client for the markdown file service

Commands:
  upload <file>              Upload a local markdown file to the service
  download <name>            Download a file by name to current directory
  edit <name>                Edit a file using $EDITOR (default vim)
  list                       List all files in the service
  delete <name>              Delete a file by name
  health                     Check server health
  rename <name> <new-name>   Rename a file
  show <id>                  Print the content of a file by id

Server URL formats:
  url://markdown/            URL protocol (P2P, default)
  http://localhost:8080      HTTP (for local testing)

usage: markdown-cli [options] <command> [args]
`

func printUsage(w io.Writer, flags *pflag.FlagSet) {
	fmt.Fprint(w, usageHeader)
	fmt.Fprint(w, flags.FlagUsages())
}
