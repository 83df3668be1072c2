package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"github.com/c2h5oh/datasize"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/Neumenon/ionic/ion"
	"github.com/Neumenon/ionic/stream"
)

// framesCommand decodes a framed stream and prints the values of each frame.
type framesCommand struct {
	g           *globals
	file        *string
	noCRC       *bool
	headersOnly *bool
	maxPayload  byteSizeFlag
}

func addFramesCommand(app *kingpin.Application, g *globals) {
	cmd := &framesCommand{g: g}
	cmd.maxPayload.size = datasize.ByteSize(stream.MaxPayloadSize)
	c := app.Command("frames", "Decode @segment frames and print their values.").Action(cmd.run)
	cmd.noCRC = c.Flag("no-crc", "Do not verify frame checksums.").Bool()
	cmd.headersOnly = c.Flag("headers-only", "Print frame headers without decoding payloads.").Bool()
	c.Flag("max-payload", "Largest frame payload accepted.").PlaceHolder("SIZE").SetValue(&cmd.maxPayload)
	cmd.file = c.Arg("file", "Input file, - for stdin.").String()
}

func (cmd *framesCommand) run(*kingpin.ParseContext) error {
	in, err := cmd.g.openInput(*cmd.file)
	if err != nil {
		return err
	}
	defer in.Close()

	ropts, err := cmd.g.readerOptions()
	if err != nil {
		return err
	}
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	fopts := []stream.ReaderOption{stream.WithMaxPayload(int(cmd.maxPayload.size))}
	if *cmd.noCRC {
		fopts = append(fopts, stream.WithoutCRCVerification())
	}
	fr := stream.NewReader(in, fopts...)

	h := stream.NewFrameHandler()
	h.Logger = cmd.g.logger
	h.ReaderOptions = ropts
	h.OnValues = func(sid, seq uint64, r *ion.Reader, state *stream.SIDState) error {
		return printFrameValues(out, r)
	}
	h.OnErr = func(sid, seq uint64, message string, state *stream.SIDState) error {
		fmt.Fprintf(out, "  error from peer: %s\n", message)
		return nil
	}
	h.OnFinal = func(sid uint64, state *stream.SIDState) error {
		fmt.Fprintf(out, "  stream %d final after seq %d\n", sid, state.LastSeq)
		return nil
	}
	h.OnSeqGap = func(sid, expected, got uint64) error {
		fmt.Fprintf(out, "  gap: expected seq %d, got %d\n", expected, got)
		return nil
	}

	count := 0
	for {
		frame, err := fr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrapf(err, "%s: frame %d", in.name, count+1)
		}
		count++
		printFrame(out, count, frame)
		if *cmd.headersOnly {
			continue
		}
		if err := h.Handle(frame); err != nil {
			return errors.Wrapf(err, "%s: frame %d", in.name, count)
		}
	}
	for _, sid := range h.Cursor.AllSIDs() {
		if pending := h.Cursor.PendingAcks(sid); len(pending) > 0 {
			level.Debug(cmd.g.logger).Log("msg", "unacknowledged frames", "sid", sid, "count", len(pending))
		}
	}
	fmt.Fprintf(out, "# %d frames decoded\n", count)
	return nil
}

func printFrame(w io.Writer, n int, f *stream.Frame) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "frame %d: sid=%d seq=%d kind=%s len=%d", n, f.SID, f.Seq, f.Kind, len(f.Payload))
	if f.HasCRC() {
		fmt.Fprintf(&sb, " crc=%08x", *f.CRC)
	}
	if f.HasBase() {
		sb.WriteString(" base=xxh64:" + stream.FingerprintHex(*f.Base))
	}
	if f.Final {
		sb.WriteString(" final=true")
	}
	fmt.Fprintln(w, sb.String())
}

func printFrameValues(w io.Writer, r *ion.Reader) error {
	p := newValuePrinter(r, nil)
	for {
		var sb strings.Builder
		ok, err := p.next(&sb)
		if err != nil || !ok {
			return err
		}
		fmt.Fprintf(w, "  %s\n", sb.String())
	}
}
