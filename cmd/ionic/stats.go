package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/Neumenon/ionic/ion"
	"github.com/Neumenon/ionic/stream"
)

// statsCommand reads files concurrently and prints the reader metrics of
// each.
type statsCommand struct {
	g        *globals
	files    *[]string
	chunk    *int
	parallel *int
}

func addStatsCommand(app *kingpin.Application, g *globals) {
	cmd := &statsCommand{g: g}
	c := app.Command("stats", "Print reader metrics for each file.").Action(cmd.run)
	cmd.chunk = c.Flag("chunk", "Feed each reader this many bytes at a time.").Default("0").Int()
	cmd.parallel = c.Flag("parallel", "Files read at the same time.").Default("4").Int()
	cmd.files = c.Arg("file", "Input files.").Required().ExistingFiles()
}

// fileStats is what one file read produced.
type fileStats struct {
	Name         string
	Compression  stream.Compression
	FileSize     int64
	Bytes        float64
	Values       float64
	NeedsData    float64
	Oversized    float64
	SymbolTables map[string]float64
	Expansions   map[string]float64
	ValueBytes   float64
	Elapsed      time.Duration
}

func (cmd *statsCommand) run(*kingpin.ParseContext) error {
	results := make([]*fileStats, len(*cmd.files))
	// Readers share the catalog, so it is opened before any goroutine starts.
	base, err := cmd.g.readerOptions()
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(context.Background())
	if *cmd.parallel > 0 {
		g.SetLimit(*cmd.parallel)
	}
	for i, name := range *cmd.files {
		i, name := i, name
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			st, err := cmd.read(name, base)
			if err != nil {
				return errors.Wrap(err, name)
			}
			results[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, st := range results {
		printStats(os.Stdout, st)
	}
	return nil
}

func (cmd *statsCommand) read(name string, base []ion.ReaderOption) (*fileStats, error) {
	st := &fileStats{Name: name}
	if fi, err := os.Stat(name); err == nil {
		st.FileSize = fi.Size()
	}
	in, err := cmd.g.openInput(name)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	st.Compression = in.compression

	reg := prometheus.NewRegistry()
	opts := append(base[:len(base):len(base)], ion.WithMetrics(ion.NewMetrics(reg)))

	var src io.Reader = in
	retry := retryFunc(once)
	if *cmd.chunk > 0 {
		chunked := stream.NewChunkedReader(in, *cmd.chunk)
		src, retry = chunked, chunked.Retry
	}

	start := time.Now()
	r := ion.NewReader(src, opts...)
	for {
		ev, err := retry(r.NextValue)
		if err != nil {
			return nil, err
		}
		if ev == ion.EventNeedsData {
			break
		}
	}
	if err := r.Close(); err != nil {
		return nil, err
	}
	st.Elapsed = time.Since(start)

	if err := st.collect(reg); err != nil {
		return nil, err
	}
	return st, nil
}

// collect copies the gathered reader metrics into st.
func (st *fileStats) collect(g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return errors.Wrap(err, "gather metrics")
	}
	st.SymbolTables = map[string]float64{}
	st.Expansions = map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			label := ""
			if pairs := m.GetLabel(); len(pairs) > 0 {
				label = pairs[0].GetValue()
			}
			switch mf.GetName() {
			case "ion_reader_bytes_total":
				st.Bytes = m.GetCounter().GetValue()
			case "ion_reader_values_total":
				st.Values = m.GetCounter().GetValue()
			case "ion_reader_needs_data_total":
				st.NeedsData = m.GetCounter().GetValue()
			case "ion_reader_oversized_values_total":
				st.Oversized = m.GetCounter().GetValue()
			case "ion_reader_symbol_tables_total":
				st.SymbolTables[label] = m.GetCounter().GetValue()
			case "ion_reader_macro_expansions_total":
				st.Expansions[label] = m.GetCounter().GetValue()
			case "ion_reader_value_bytes":
				st.ValueBytes = m.GetHistogram().GetSampleSum()
			}
		}
	}
	return nil
}

func printStats(w io.Writer, st *fileStats) {
	fmt.Fprintf(w, "%s:\n", st.Name)
	fmt.Fprintf(w, "\tfile size: %v, compression: %s, decoded: %v\n",
		humanize.Bytes(uint64(st.FileSize)), st.Compression, humanize.Bytes(uint64(st.Bytes)))
	avg := 0.0
	if st.Values > 0 {
		avg = st.ValueBytes / st.Values
	}
	fmt.Fprintf(w, "\tvalues: %s, average value size: %v, needs data: %s, oversized: %s\n",
		humanize.Comma(int64(st.Values)), humanize.Bytes(uint64(avg)),
		humanize.Comma(int64(st.NeedsData)), humanize.Comma(int64(st.Oversized)))
	fmt.Fprintf(w, "\tsymbol tables: %s\n", labelCounts(st.SymbolTables))
	fmt.Fprintf(w, "\tmacro expansions: %s\n", labelCounts(st.Expansions))
	rate := 0.0
	if secs := st.Elapsed.Seconds(); secs > 0 {
		rate = st.Bytes / secs
	}
	fmt.Fprintf(w, "\telapsed: %v, throughput: %s/s\n", st.Elapsed.Round(time.Microsecond), humanize.Bytes(uint64(rate)))
}

func labelCounts(m map[string]float64) string {
	if len(m) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%s", k, humanize.Comma(int64(m[k])))
	}
	return strings.Join(parts, " ")
}
