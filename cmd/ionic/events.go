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

// eventsCommand prints every event the reader produces, one per line.
type eventsCommand struct {
	g     *globals
	file  *string
	chunk *int
}

func addEventsCommand(app *kingpin.Application, g *globals) {
	cmd := &eventsCommand{g: g}
	c := app.Command("events", "Print the reader event stream.").Action(cmd.run)
	cmd.chunk = c.Flag("chunk", "Feed the reader this many bytes at a time and show NEEDS_DATA events.").Default("0").Int()
	cmd.file = c.Arg("file", "Input file, - for stdin.").String()
}

func (cmd *eventsCommand) run(*kingpin.ParseContext) error {
	in, err := cmd.g.openInput(*cmd.file)
	if err != nil {
		return err
	}
	defer in.Close()

	var src io.Reader = in
	var chunked *stream.ChunkedReader
	if *cmd.chunk > 0 {
		chunked = stream.NewChunkedReader(in, *cmd.chunk)
		src = chunked
	}
	opts, err := cmd.g.readerOptions()
	if err != nil {
		return err
	}
	r := ion.NewReader(src, opts...)

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	ew := &eventWriter{out: out, r: r, chunked: chunked}
	if err := ew.walk(); err != nil {
		return errors.Wrap(err, in.name)
	}
	if err := r.Close(); err != nil {
		return errors.Wrap(err, in.name)
	}
	if chunked != nil {
		fmt.Fprintf(out, "# %d bytes in %d chunks\n", chunked.BytesRead(), chunked.Chunks())
	}
	return nil
}

type eventWriter struct {
	out     io.Writer
	r       *ion.Reader
	chunked *stream.ChunkedReader
}

// call repeats op, printing each NEEDS_DATA, while another chunk can be
// granted.
func (ew *eventWriter) call(op func() (ion.Event, error)) (ion.Event, error) {
	for {
		ev, err := op()
		if err != nil || ev != ion.EventNeedsData || ew.chunked == nil || !ew.chunked.More() {
			return ev, err
		}
		ew.line(ev.String())
	}
}

func (ew *eventWriter) line(s string) {
	fmt.Fprintf(ew.out, "%s%s\n", strings.Repeat("  ", ew.r.Depth()), s)
}

func (ew *eventWriter) walk() error {
	r := ew.r
	for {
		ev, err := ew.call(r.NextValue)
		if err != nil {
			return err
		}
		switch ev {
		case ion.EventNeedsData:
			if r.Depth() > 0 {
				return errors.New("input ended inside a container")
			}
			return nil
		case ion.EventEndContainer:
			ew.line(ev.String())
			if _, err := ew.call(r.StepOut); err != nil {
				return err
			}
		case ion.EventStartContainer:
			ew.line(ev.String() + " " + describe(r))
			if r.IsNull() {
				continue
			}
			if _, err := ew.call(r.StepIn); err != nil {
				return err
			}
		default:
			desc := describe(r)
			if !r.IsNull() {
				if ev, err = ew.call(r.FillValue); err != nil {
					return err
				}
				if ev != ion.EventValueReady {
					return errors.Errorf("%s value is incomplete", r.Type())
				}
				text, err := scalarText(r)
				if err != nil {
					return err
				}
				desc += " " + text
			}
			ew.line(ion.EventStartScalar.String() + " " + desc)
		}
	}
}

// describe renders the type, field name and annotations of the current value.
func describe(r *ion.Reader) string {
	var sb strings.Builder
	if r.IsNull() {
		sb.WriteString(nullText(r.Type()))
	} else {
		sb.WriteString(r.Type().String())
	}
	if r.HasFieldName() {
		sb.WriteString(" field=")
		sb.WriteString(fieldText(r))
	}
	if anns := r.AnnotationSymbols(); len(anns) > 0 {
		texts := make([]string, len(anns))
		for i, a := range anns {
			texts[i] = a.String()
		}
		sb.WriteString(" annotations=")
		sb.WriteString(strings.Join(texts, ","))
	}
	return sb.String()
}
