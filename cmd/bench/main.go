// bench - ionic reader benchmark runner
//
// Encodes a set of generated workloads (plus any files listed in a corpus
// manifest) and measures, for each:
//   - Bytes on wire, raw and compressed with gzip, zstd and snappy
//   - Read throughput when the whole input is available and when it arrives
//     in small chunks, with the number of NEEDS_DATA events
//
// Output: CSV and markdown summary
package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/Neumenon/ionic/ion"
	"github.com/Neumenon/ionic/stream"
)

// CaseResult is one workload read at one chunk size.
type CaseResult struct {
	Name        string
	Bytes       int
	GzipBytes   int
	ZstdBytes   int
	SnappyBytes int
	Values      int
	Chunk       int // 0 means the whole input at once
	Elapsed     time.Duration
	NeedsData   int
}

// NsPerValue returns the mean read time per top-level value.
func (r CaseResult) NsPerValue() float64 {
	if r.Values == 0 {
		return 0
	}
	return float64(r.Elapsed.Nanoseconds()) / float64(r.Values)
}

// BytesPerSec returns the read throughput.
func (r CaseResult) BytesPerSec() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Bytes) / r.Elapsed.Seconds()
}

// Manifest lists external corpus files.
//
//	version: corpus-1
//	cases:
//	  - name: logs
//	    file: logs.10n
type Manifest struct {
	Version string `yaml:"version"`
	Cases   []struct {
		Name string `yaml:"name"`
		File string `yaml:"file"`
	} `yaml:"cases"`
}

// workload is an encoded input and the reader options it needs.
type workload struct {
	name string
	data []byte
	opts []ion.ReaderOption
}

func main() {
	app := kingpin.New("bench", "Measure ionic reader throughput.")
	rows := app.Flag("rows", "Top-level values per generated workload.").Default("20000").Int()
	chunks := app.Flag("chunk", "Chunk sizes to feed the reader; 0 is the whole input.").Default("0", "4096", "64").Ints()
	repeat := app.Flag("repeat", "Reads per measurement; the fastest is kept.").Default("3").Int()
	manifestPath := app.Flag("manifest", "YAML corpus manifest with extra input files.").String()
	csvPath := app.Flag("csv", "CSV output path.").Default("bench_results.csv").String()
	mdPath := app.Flag("markdown", "Markdown output path.").Default("BENCH.md").String()
	kingpin.MustParse(app.Parse(os.Args[1:]))

	workloads, err := generate(*rows)
	if err != nil {
		fatal("generate workloads: %v", err)
	}
	corpus := "generated"
	if *manifestPath != "" {
		extra, version, err := loadManifest(*manifestPath)
		if err != nil {
			fatal("%v", err)
		}
		workloads = append(workloads, extra...)
		corpus = version
	}

	fmt.Fprintf(os.Stderr, "ionic Benchmark Runner\n")
	fmt.Fprintf(os.Stderr, "======================\n")
	fmt.Fprintf(os.Stderr, "Corpus: %s (%d cases)\n\n", corpus, len(workloads))

	var results []CaseResult
	for _, wl := range workloads {
		sizes, err := compressedSizes(wl.data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Skip %s: %v\n", wl.name, err)
			continue
		}
		for _, chunk := range *chunks {
			res, err := measure(wl, chunk, *repeat)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Skip %s (chunk %d): %v\n", wl.name, chunk, err)
				continue
			}
			res.GzipBytes, res.ZstdBytes, res.SnappyBytes = sizes[0], sizes[1], sizes[2]
			results = append(results, res)
			fmt.Fprintf(os.Stderr, "%-22s chunk=%-5d %8.0f ns/value %10s/s\n",
				wl.name, chunk, res.NsPerValue(), humanize.Bytes(uint64(res.BytesPerSec())))
		}
	}

	if f, err := os.Create(*csvPath); err == nil {
		writeCSV(f, results)
		f.Close()
		fmt.Fprintf(os.Stderr, "CSV written to: %s\n", *csvPath)
	}
	if f, err := os.Create(*mdPath); err == nil {
		writeMarkdown(f, results, corpus, time.Now())
		f.Close()
		fmt.Fprintf(os.Stderr, "Markdown written to: %s\n", *mdPath)
	}

	var total int
	for _, r := range results {
		if r.Chunk == 0 {
			total += r.Bytes
		}
	}
	fmt.Printf("\n=== SUMMARY ===\n")
	fmt.Printf("Measurements: %d\n", len(results))
	fmt.Printf("Input total:  %s\n", humanize.Bytes(uint64(total)))
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "bench: "+format+"\n", args...)
	os.Exit(1)
}

// ============================================================
// Workloads
// ============================================================

func generate(rows int) ([]workload, error) {
	row := ion.MustMacro("row", mustParams("id", "name", "price"),
		ion.Struct(
			ion.Field("id", ion.Var("id")),
			ion.Field("name", ion.Var("name")),
			ion.Field("price", ion.Var("price")),
			ion.Field("tags", ion.List(ion.LitSymbol("stock"), ion.LitSymbol("sale"))),
		))
	macros, err := ion.NewMacroTable(row)
	if err != nil {
		return nil, err
	}

	var out []workload
	add := func(name string, minor int, opts []ion.ReaderOption, fn func(w *ion.BinaryWriter, i int) error) error {
		var buf bytes.Buffer
		w := ion.NewBinaryWriter(&buf, ion.WithMinorVersion(minor))
		for i := 0; i < rows; i++ {
			if err := fn(w, i); err != nil {
				return errors.Wrap(err, name)
			}
			// Periodic flushes append symbols to the open table.
			if i%1000 == 999 {
				if err := w.Flush(); err != nil {
					return errors.Wrap(err, name)
				}
			}
		}
		if err := w.Finish(); err != nil {
			return errors.Wrap(err, name)
		}
		out = append(out, workload{name: name, data: buf.Bytes(), opts: opts})
		return nil
	}

	writeRow := func(w *ion.BinaryWriter, i int) error {
		if err := w.BeginStruct(); err != nil {
			return err
		}
		w.FieldName(ion.NewSymbolToken("id"))
		if err := w.WriteInt(int64(i)); err != nil {
			return err
		}
		w.FieldName(ion.NewSymbolToken("name"))
		if err := w.WriteString("item-" + strconv.Itoa(i)); err != nil {
			return err
		}
		w.FieldName(ion.NewSymbolToken("price"))
		if err := w.WriteDecimal(ion.NewDecimalFromInt64(int64(i%10000), -2)); err != nil {
			return err
		}
		w.FieldName(ion.NewSymbolToken("tags"))
		if err := w.BeginList(); err != nil {
			return err
		}
		if err := w.WriteSymbol(ion.NewSymbolToken("stock")); err != nil {
			return err
		}
		if err := w.WriteSymbol(ion.NewSymbolToken("sale")); err != nil {
			return err
		}
		if err := w.EndList(); err != nil {
			return err
		}
		return w.EndStruct()
	}

	for _, minor := range []int{0, 1} {
		if err := add(fmt.Sprintf("rows-1.%d", minor), minor, nil, writeRow); err != nil {
			return nil, err
		}
	}
	if err := add("rows-macro-1.1", 1, []ion.ReaderOption{ion.WithMacroTable(macros)}, func(w *ion.BinaryWriter, i int) error {
		if err := w.BeginInvocation(row, false); err != nil {
			return err
		}
		if err := w.WriteInt(int64(i)); err != nil {
			return err
		}
		if err := w.WriteString("item-" + strconv.Itoa(i)); err != nil {
			return err
		}
		if err := w.WriteDecimal(ion.NewDecimalFromInt64(int64(i%10000), -2)); err != nil {
			return err
		}
		return w.EndInvocation()
	}); err != nil {
		return nil, err
	}
	if err := add("symbols-1.0", 0, nil, func(w *ion.BinaryWriter, i int) error {
		return w.WriteSymbol(ion.NewSymbolToken("sym-" + strconv.Itoa(i)))
	}); err != nil {
		return nil, err
	}
	if err := add("nested-1.1", 1, nil, func(w *ion.BinaryWriter, i int) error {
		const depth = 8
		for d := 0; d < depth; d++ {
			if err := w.BeginList(); err != nil {
				return err
			}
		}
		if err := w.WriteInt(int64(i)); err != nil {
			return err
		}
		for d := 0; d < depth; d++ {
			if err := w.EndList(); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func mustParams(names ...string) []ion.Parameter {
	params := make([]ion.Parameter, len(names))
	for i, n := range names {
		p, err := ion.ParseParameter(n)
		if err != nil {
			panic(err)
		}
		params[i] = p
	}
	return params
}

func loadManifest(path string) ([]workload, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", errors.Wrap(err, "read manifest")
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, "", errors.Wrap(err, "parse manifest")
	}
	dir := filepath.Dir(path)
	var out []workload
	for _, c := range m.Cases {
		f, err := os.Open(filepath.Join(dir, c.File))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Skip %s: %v\n", c.Name, err)
			continue
		}
		rc, _, err := stream.NewDecompressor(f, stream.CompressionAuto)
		if err != nil {
			f.Close()
			fmt.Fprintf(os.Stderr, "Skip %s: %v\n", c.Name, err)
			continue
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		f.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Skip %s: %v\n", c.Name, err)
			continue
		}
		out = append(out, workload{name: c.Name, data: raw})
	}
	return out, m.Version, nil
}

// ============================================================
// Measurement
// ============================================================

func compressedSizes(data []byte) ([3]int, error) {
	var sizes [3]int
	for i, c := range []stream.Compression{stream.CompressionGzip, stream.CompressionZstd, stream.CompressionSnappy} {
		var buf bytes.Buffer
		w, err := stream.NewCompressor(&buf, c)
		if err != nil {
			return sizes, err
		}
		if _, err := w.Write(data); err != nil {
			return sizes, err
		}
		if err := w.Close(); err != nil {
			return sizes, err
		}
		sizes[i] = buf.Len()
	}
	return sizes, nil
}

func measure(wl workload, chunk, repeat int) (CaseResult, error) {
	res := CaseResult{Name: wl.name, Bytes: len(wl.data), Chunk: chunk}
	for i := 0; i < max(1, repeat); i++ {
		values, needsData, elapsed, err := readOnce(wl, chunk)
		if err != nil {
			return res, err
		}
		if i == 0 || elapsed < res.Elapsed {
			res.Elapsed = elapsed
		}
		res.Values, res.NeedsData = values, needsData
	}
	return res, nil
}

// readOnce reads every value, filling scalars so that the decoding cost is
// included.
func readOnce(wl workload, chunk int) (values, needsData int, elapsed time.Duration, err error) {
	var r *ion.Reader
	retry := func(op func() (ion.Event, error)) (ion.Event, error) { return op() }
	if chunk > 0 {
		cr := stream.NewChunkedReader(bytes.NewReader(wl.data), chunk)
		r = ion.NewReader(cr, wl.opts...)
		retry = func(op func() (ion.Event, error)) (ion.Event, error) {
			for {
				ev, err := op()
				if err != nil || ev != ion.EventNeedsData || !cr.More() {
					return ev, err
				}
				needsData++
			}
		}
	} else {
		r = ion.NewReaderBytes(wl.data, wl.opts...)
	}

	start := time.Now()
	for {
		ev, err := retry(r.NextValue)
		if err != nil {
			return values, needsData, 0, err
		}
		switch ev {
		case ion.EventNeedsData:
			if r.Depth() == 0 {
				return values, needsData, time.Since(start), r.Close()
			}
			return values, needsData, 0, errors.New("input ended inside a container")
		case ion.EventEndContainer:
			if _, err := retry(r.StepOut); err != nil {
				return values, needsData, 0, err
			}
		case ion.EventStartContainer:
			if r.Depth() == 0 {
				values++
			}
			if !r.IsNull() {
				if _, err := retry(r.StepIn); err != nil {
					return values, needsData, 0, err
				}
			}
		default:
			if r.Depth() == 0 {
				values++
			}
			if _, err := retry(r.FillValue); err != nil {
				return values, needsData, 0, err
			}
		}
	}
}

// ============================================================
// Reports
// ============================================================

func chunkName(chunk int) string {
	if chunk == 0 {
		return "whole"
	}
	return strconv.Itoa(chunk)
}

func writeCSV(w io.Writer, results []CaseResult) {
	fmt.Fprintln(w, "name,bytes,gzip_bytes,zstd_bytes,snappy_bytes,values,chunk,ns_per_value,bytes_per_sec,needs_data")
	for _, r := range results {
		fmt.Fprintf(w, "%s,%d,%d,%d,%d,%d,%s,%.1f,%.0f,%d\n",
			r.Name, r.Bytes, r.GzipBytes, r.ZstdBytes, r.SnappyBytes, r.Values,
			chunkName(r.Chunk), r.NsPerValue(), r.BytesPerSec(), r.NeedsData)
	}
}

func writeMarkdown(w io.Writer, results []CaseResult, corpus string, now time.Time) {
	fmt.Fprintf(w, "# ionic Benchmark Results\n\n")
	fmt.Fprintf(w, "**Date:** %s  \n", now.Format("2006-01-02"))
	fmt.Fprintf(w, "**Corpus:** %s (%d measurements)  \n\n", corpus, len(results))

	fmt.Fprintf(w, "## Sizes\n\n")
	fmt.Fprintf(w, "| Case | Values | Binary | gzip | zstd | snappy |\n")
	fmt.Fprintf(w, "|------|--------|--------|------|------|--------|\n")
	seen := map[string]bool{}
	for _, r := range results {
		if seen[r.Name] {
			continue
		}
		seen[r.Name] = true
		fmt.Fprintf(w, "| %s | %s | %s | %s | %s | %s |\n", truncateName(r.Name, 25),
			humanize.Comma(int64(r.Values)), humanize.Bytes(uint64(r.Bytes)),
			humanize.Bytes(uint64(r.GzipBytes)), humanize.Bytes(uint64(r.ZstdBytes)), humanize.Bytes(uint64(r.SnappyBytes)))
	}

	fmt.Fprintf(w, "\n## Fastest Reads\n\n")
	sorted := make([]CaseResult, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].BytesPerSec() > sorted[j].BytesPerSec()
	})
	fmt.Fprintf(w, "| Case | Chunk | Throughput |\n")
	fmt.Fprintf(w, "|------|-------|------------|\n")
	for i := 0; i < min(5, len(sorted)); i++ {
		r := sorted[i]
		fmt.Fprintf(w, "| %s | %s | %s/s |\n", r.Name, chunkName(r.Chunk), humanize.Bytes(uint64(r.BytesPerSec())))
	}

	fmt.Fprintf(w, "\n## Methodology\n\n")
	fmt.Fprintf(w, "- **Read:** every value is positioned on, containers are stepped into and scalars are filled\n")
	fmt.Fprintf(w, "- **Chunked:** the input is handed to the reader a fixed number of bytes at a time; each NEEDS_DATA grants the next chunk\n")
	fmt.Fprintf(w, "- **Timing:** fastest of several reads\n\n")

	fmt.Fprintf(w, "## Detailed Results\n\n")
	fmt.Fprintf(w, "| Case | Chunk | ns/value | Throughput | NEEDS_DATA |\n")
	fmt.Fprintf(w, "|------|-------|----------|------------|------------|\n")
	for _, r := range results {
		fmt.Fprintf(w, "| %s | %s | %.0f | %s/s | %s |\n",
			truncateName(r.Name, 25), chunkName(r.Chunk), r.NsPerValue(),
			humanize.Bytes(uint64(r.BytesPerSec())), humanize.Comma(int64(r.NeedsData)))
	}
}

func truncateName(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
