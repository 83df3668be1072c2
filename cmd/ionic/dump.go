package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"github.com/pkg/errors"

	"github.com/Neumenon/ionic/ion"
)

// dumpCommand prints each top-level value on its own line.
type dumpCommand struct {
	g     *globals
	file  *string
	limit *int
}

func addDumpCommand(app *kingpin.Application, g *globals) {
	cmd := &dumpCommand{g: g}
	c := app.Command("dump", "Print values in a compact text notation.").Action(cmd.run)
	cmd.limit = c.Flag("limit", "Stop after this many top-level values; 0 prints all.").Default("0").Int()
	cmd.file = c.Arg("file", "Input file, - for stdin.").String()
}

func (cmd *dumpCommand) run(*kingpin.ParseContext) error {
	in, err := cmd.g.openInput(*cmd.file)
	if err != nil {
		return err
	}
	defer in.Close()

	opts, err := cmd.g.readerOptions()
	if err != nil {
		return err
	}
	r := ion.NewReader(in, opts...)
	p := newValuePrinter(r, nil)

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	for n := 0; *cmd.limit == 0 || n < *cmd.limit; n++ {
		var sb strings.Builder
		ok, err := p.next(&sb)
		if err != nil {
			return errors.Wrapf(err, "%s: value %d", in.name, n)
		}
		if !ok {
			return errors.Wrap(r.Close(), in.name)
		}
		fmt.Fprintln(out, sb.String())
	}
	return nil
}
