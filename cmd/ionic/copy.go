package main

import (
	"bufio"
	"io"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/Neumenon/ionic/ion"
	"github.com/Neumenon/ionic/stream"
)

// copyCommand re-encodes a stream: every value is read, macro invocations
// are expanded and the result is written by the binary writer.
type copyCommand struct {
	g           *globals
	in, out     *string
	raw         *bool
	minor       *int
	compression *string
	framed      *bool
	sid         *uint64
	batch       *int
}

func addCopyCommand(app *kingpin.Application, g *globals) {
	cmd := &copyCommand{g: g}
	c := app.Command("copy", "Re-encode a stream through the reader and the writer.").Action(cmd.run)
	cmd.raw = c.Flag("raw", "Copy encoded 1.0 values byte for byte when symbol IDs allow it.").Bool()
	cmd.minor = c.Flag("minor", "Minor version of the output: 0 or 1.").Default("0").Int()
	cmd.compression = c.Flag("output-compression", "Output compression: none, gzip, zstd or snappy.").
		Default("none").Enum(stream.CompressionNames...)
	cmd.framed = c.Flag("framed", "Write @segment frames instead of a plain stream.").Bool()
	cmd.sid = c.Flag("sid", "Stream ID of the frames written with --framed.").Default("1").Uint64()
	cmd.batch = c.Flag("batch", "Top-level values per frame with --framed.").Default("100").Int()
	cmd.in = c.Arg("in", "Input file, - for stdin.").Required().String()
	cmd.out = c.Arg("out", "Output file, - for stdout.").Required().String()
}

func (cmd *copyCommand) run(*kingpin.ParseContext) error {
	if *cmd.minor != 0 && *cmd.minor != 1 {
		return errors.Errorf("unsupported minor version %d", *cmd.minor)
	}
	if *cmd.batch < 1 {
		return errors.New("--batch must be at least 1")
	}
	in, err := cmd.g.openInput(*cmd.in)
	if err != nil {
		return err
	}
	defer in.Close()

	opts, err := cmd.g.readerOptions()
	if err != nil {
		return err
	}
	r := ion.NewReader(in, opts...)

	dst, closeDst, err := cmd.output()
	if err != nil {
		return err
	}
	var n int64
	if *cmd.framed {
		n, err = cmd.copyFramed(dst, r)
	} else {
		n, err = cmd.copyPlain(dst, r)
	}
	if cerr := closeDst(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrap(err, in.name)
	}
	level.Info(cmd.g.logger).Log("msg", "copied", "in", in.name, "out", *cmd.out, "values", n,
		"input_compression", in.compression, "minor", *cmd.minor)
	return errors.Wrap(r.Close(), in.name)
}

// output opens the destination behind a buffer and the chosen compressor.
// The returned function flushes and closes everything in order.
func (cmd *copyCommand) output() (io.Writer, func() error, error) {
	c, err := stream.ParseCompression(*cmd.compression)
	if err != nil {
		return nil, nil, err
	}
	var f *os.File
	if *cmd.out == "-" {
		f = os.Stdout
	} else if f, err = os.Create(*cmd.out); err != nil {
		return nil, nil, errors.Wrap(err, "create output")
	}
	bw := bufio.NewWriter(f)
	cw, err := stream.NewCompressor(bw, c)
	if err != nil {
		if f != os.Stdout {
			_ = f.Close()
		}
		return nil, nil, err
	}
	closeAll := func() error {
		err := cw.Close()
		if ferr := bw.Flush(); err == nil {
			err = ferr
		}
		if f != os.Stdout {
			if cerr := f.Close(); err == nil {
				err = cerr
			}
		}
		return errors.Wrap(err, "write output")
	}
	return cw, closeAll, nil
}

func (cmd *copyCommand) transferOptions() []ion.TransferOption {
	if *cmd.raw {
		return []ion.TransferOption{ion.WithRawCopy()}
	}
	return nil
}

func (cmd *copyCommand) copyPlain(dst io.Writer, r *ion.Reader) (int64, error) {
	w := ion.NewBinaryWriter(dst, ion.WithMinorVersion(*cmd.minor), ion.WithWriterLogger(cmd.g.logger))
	n, err := copyValues(w, r, 0, nil, cmd.transferOptions()...)
	if err != nil {
		return n, err
	}
	return n, w.Finish()
}

func (cmd *copyCommand) copyFramed(dst io.Writer, r *ion.Reader) (int64, error) {
	sw := stream.NewSegmentWriter(stream.NewWriterWithCRC(dst), *cmd.sid,
		ion.WithMinorVersion(*cmd.minor), ion.WithWriterLogger(cmd.g.logger))
	n, err := copyValues(sw.Writer(), r, *cmd.batch, sw.Flush, cmd.transferOptions()...)
	if err != nil {
		return n, err
	}
	return n, sw.Close()
}

// copyValues transfers the top-level values of r to w. When batch is
// positive, flush is called after every batch values.
func copyValues(w ion.Writer, r *ion.Reader, batch int, flush func() error, opts ...ion.TransferOption) (int64, error) {
	var n int64
	for {
		ev, err := r.NextValue()
		if err != nil {
			return n, err
		}
		if ev == ion.EventNeedsData {
			return n, nil
		}
		if err := ion.Transfer(w, r, opts...); err != nil {
			return n, err
		}
		n++
		if batch > 0 && n%int64(batch) == 0 {
			if err := flush(); err != nil {
				return n, err
			}
		}
	}
}
