// ionic - incremental binary Ion CLI tool
//
// Usage:
//
//	ionic events [--chunk=N] [file]          Print the reader event stream
//	ionic dump [file]                        Print values in a compact text notation
//	ionic copy [--raw] [--minor=N] IN OUT    Re-encode a stream through the reader and writer
//	ionic symtab [file]                      Print every symbol table the stream installs
//	ionic frames [file]                      Decode @segment frames and print their values
//	ionic stats FILE...                      Print reader metrics for each file
//	ionic catalog add|list|remove            Manage the persistent shared table catalog
//
// If no file is given, or the file is "-", input is read from stdin.
// Compressed input (gzip, zstd, snappy) is detected from its first bytes.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"
)

const libVersion = "0.3.0"

func main() {
	app := kingpin.New("ionic", "Incremental binary Ion reader, writer and symbol catalog.")
	app.HelpFlag.Short('h')
	app.Version(libVersion)

	g := registerGlobalFlags(app)
	app.PreAction(g.load)

	addEventsCommand(app, g)
	addDumpCommand(app, g)
	addCopyCommand(app, g)
	addSymtabCommand(app, g)
	addFramesCommand(app, g)
	addStatsCommand(app, g)
	addCatalogCommand(app, g)

	_, err := app.Parse(os.Args[1:])
	g.close()
	if err != nil {
		exitWithErr(err)
	}
}

func exitWithErr(err error) {
	fmt.Fprintf(os.Stderr, "ionic: %v\n", err)
	os.Exit(1)
}
