package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"github.com/pkg/errors"

	"github.com/Neumenon/ionic/ion"
	"github.com/Neumenon/ionic/stream"
)

// symtabCommand prints the symbol context each time it changes.
type symtabCommand struct {
	g       *globals
	file    *string
	summary *bool
}

func addSymtabCommand(app *kingpin.Application, g *globals) {
	cmd := &symtabCommand{g: g}
	c := app.Command("symtab", "Print every symbol table the stream installs.").Action(cmd.run)
	cmd.summary = c.Flag("summary", "Print only imports and fingerprints, not the local symbols.").Bool()
	cmd.file = c.Arg("file", "Input file, - for stdin.").String()
}

func (cmd *symtabCommand) run(*kingpin.ParseContext) error {
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
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	var (
		values int64
		tables int
		last   uint64
	)
	r.RegisterIVMHandler(func(major, minor int) {
		fmt.Fprintf(out, "# version marker %d.%d before value %d\n", major, minor, values)
		last = 0
	})
	for {
		ev, err := r.NextValue()
		if err != nil {
			return errors.Wrapf(err, "%s: value %d", in.name, values)
		}
		if ev == ion.EventNeedsData {
			break
		}
		st := r.SymbolTable()
		if fp := st.Fingerprint(); fp != last {
			last = fp
			tables++
			printSnapshot(out, st, tables, values, *cmd.summary)
		}
		values++
	}
	fmt.Fprintf(out, "# %d values, %d symbol contexts\n", values, tables)
	return errors.Wrap(r.Close(), in.name)
}

func printSnapshot(w io.Writer, st *ion.Snapshot, n int, before int64, summary bool) {
	imports := st.Imports()
	names := make([]string, len(imports))
	for i, t := range imports {
		names[i] = fmt.Sprintf("%s@%d(max_id=%d)", t.Name(), t.Version(), t.MaxID())
		if t.IsSubstitute() {
			names[i] += "[substitute]"
		}
	}
	locals := st.LocalSymbols()
	fmt.Fprintf(w, "symbol context %d before value %d: base=xxh64:%s max_id=%d locals=%d\n",
		n, before, stream.FingerprintHex(st.Fingerprint()), st.MaxID(), len(locals))
	fmt.Fprintf(w, "  imports: %s\n", strings.Join(names, " "))
	if summary {
		return
	}
	first := st.FirstLocalID()
	for i, text := range locals {
		if text == nil {
			fmt.Fprintf(w, "  $%d <unknown text>\n", first+int64(i))
			continue
		}
		fmt.Fprintf(w, "  $%d %q\n", first+int64(i), *text)
	}
}
