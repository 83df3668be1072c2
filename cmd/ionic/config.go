package main

import (
	"io"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/c2h5oh/datasize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/Neumenon/ionic/catalog"
	"github.com/Neumenon/ionic/ion"
	"github.com/Neumenon/ionic/stream"
)

// ============================================================
// Configuration file
// ============================================================

// Config is the YAML configuration file. Command line flags override it.
//
//	catalog: /var/lib/ionic/catalog.db
//	catalog_cache: 64
//	definitions: defs.yaml
//	compression: auto
//	log_level: info
//	reader:
//	  max_buffer: 64MB
//	  initial_buffer: 32KB
type Config struct {
	Catalog      string       `yaml:"catalog"`
	CatalogCache int          `yaml:"catalog_cache"`
	Definitions  string       `yaml:"definitions"`
	Compression  string       `yaml:"compression"`
	LogLevel     string       `yaml:"log_level"`
	Reader       ReaderConfig `yaml:"reader"`
}

// ReaderConfig holds the reader buffer limits.
type ReaderConfig struct {
	MaxBuffer     datasize.ByteSize `yaml:"max_buffer"`
	InitialBuffer datasize.ByteSize `yaml:"initial_buffer"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	d := ion.DefaultCursorOptions()
	return Config{
		CatalogCache: catalog.DefaultMaxTables,
		Compression:  "auto",
		LogLevel:     "warn",
		Reader: ReaderConfig{
			MaxBuffer:     datasize.ByteSize(d.MaxBufferSize),
			InitialBuffer: datasize.ByteSize(d.InitialBufferSize),
		},
	}
}

// LoadConfig reads a configuration file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "open config")
	}
	defer f.Close()
	cfg, err := ParseConfig(f)
	return cfg, errors.Wrapf(err, "load %s", path)
}

// ParseConfig decodes YAML configuration on top of DefaultConfig.
func ParseConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, errors.Wrap(err, "decode yaml")
	}
	return cfg, cfg.Validate()
}

// Validate checks the values a reader cannot start with.
func (c *Config) Validate() error {
	if _, err := stream.ParseCompression(c.Compression); err != nil {
		return err
	}
	if _, ok := levelOptions[c.LogLevel]; !ok {
		return errors.Errorf("unknown log level %q", c.LogLevel)
	}
	if c.Reader.MaxBuffer == 0 {
		return errors.New("reader.max_buffer must be positive")
	}
	if c.Reader.InitialBuffer > c.Reader.MaxBuffer {
		return errors.Errorf("reader.initial_buffer %s exceeds reader.max_buffer %s",
			c.Reader.InitialBuffer.HumanReadable(), c.Reader.MaxBuffer.HumanReadable())
	}
	if c.CatalogCache < 1 {
		return errors.New("catalog_cache must be at least 1")
	}
	return nil
}

var levelOptions = map[string]level.Option{
	"debug": level.AllowDebug(),
	"info":  level.AllowInfo(),
	"warn":  level.AllowWarn(),
	"error": level.AllowError(),
}

func newLogger(w io.Writer, lvl string) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	logger = level.NewFilter(logger, levelOptions[lvl])
	return log.With(logger, "ts", log.DefaultTimestampUTC)
}

// byteSizeFlag is a kingpin value accepting sizes such as 512KB or 64MB.
type byteSizeFlag struct {
	size datasize.ByteSize
	set  bool
}

func (f *byteSizeFlag) Set(s string) error {
	if err := f.size.UnmarshalText([]byte(s)); err != nil {
		return err
	}
	f.set = true
	return nil
}

func (f *byteSizeFlag) String() string { return f.size.String() }

// ============================================================
// Global flags and shared state
// ============================================================

type globals struct {
	configPath  string
	catalogPath string
	definitions string
	logLevel    string
	compression string
	maxBuffer   byteSizeFlag

	cfg    Config
	logger log.Logger
	memory *catalog.Memory
	macros *ion.MacroTable
	bolt   *catalog.Bolt
}

func registerGlobalFlags(app *kingpin.Application) *globals {
	g := &globals{logger: log.NewNopLogger()}
	app.Flag("config", "YAML configuration file.").PlaceHolder("FILE").StringVar(&g.configPath)
	app.Flag("catalog", "Path of the persistent shared symbol table catalog.").PlaceHolder("FILE").StringVar(&g.catalogPath)
	app.Flag("definitions", "YAML file with shared tables and macros.").PlaceHolder("FILE").StringVar(&g.definitions)
	app.Flag("log.level", "Only log messages with the given severity or above. One of: [debug, info, warn, error]").
		EnumVar(&g.logLevel, "debug", "info", "warn", "error")
	app.Flag("compression", "Input compression: auto, none, gzip, zstd or snappy.").
		EnumVar(&g.compression, stream.CompressionNames...)
	app.Flag("max-buffer", "Largest value the reader buffers, e.g. 64MB.").PlaceHolder("SIZE").SetValue(&g.maxBuffer)
	return g
}

// load builds the configuration and the symbol sources every command reads
// with. The persistent catalog is opened on demand.
func (g *globals) load(*kingpin.ParseContext) error {
	cfg := DefaultConfig()
	if g.configPath != "" {
		var err error
		if cfg, err = LoadConfig(g.configPath); err != nil {
			return err
		}
	}
	if g.catalogPath != "" {
		cfg.Catalog = g.catalogPath
	}
	if g.definitions != "" {
		cfg.Definitions = g.definitions
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if g.compression != "" {
		cfg.Compression = g.compression
	}
	if g.maxBuffer.set {
		cfg.Reader.MaxBuffer = g.maxBuffer.size
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	g.cfg = cfg
	g.logger = newLogger(os.Stderr, cfg.LogLevel)

	g.memory = catalog.NewMemory(
		catalog.WithMaxTables(cfg.CatalogCache),
		catalog.WithMemoryLogger(g.logger),
	)
	if cfg.Definitions != "" {
		defs, err := catalog.LoadDefinitionsFile(cfg.Definitions)
		if err != nil {
			return err
		}
		defs.Register(g.memory)
		if g.macros, err = defs.MacroTable(); err != nil {
			return errors.Wrap(err, "define macros")
		}
		level.Debug(g.logger).Log("msg", "loaded definitions", "file", cfg.Definitions,
			"tables", len(defs.Tables), "macros", len(defs.Macros))
	}
	return nil
}

// openCatalog opens the persistent catalog once. It returns nil when no
// catalog is configured.
func (g *globals) openCatalog(readOnly bool) (*catalog.Bolt, error) {
	if g.bolt != nil || g.cfg.Catalog == "" {
		return g.bolt, nil
	}
	opts := []catalog.BoltOption{
		catalog.WithCacheSize(g.cfg.CatalogCache),
		catalog.WithBoltLogger(g.logger),
	}
	if readOnly {
		opts = append(opts, catalog.WithReadOnly())
	}
	b, err := catalog.OpenBolt(g.cfg.Catalog, opts...)
	if err != nil {
		return nil, err
	}
	g.bolt = b
	return b, nil
}

func (g *globals) close() {
	if g.bolt != nil {
		if err := g.bolt.Close(); err != nil {
			level.Warn(g.logger).Log("msg", "closing catalog", "err", err)
		}
		g.bolt = nil
	}
}

// readerOptions returns the options shared by every reader a command opens.
// Definitions take precedence over the persistent catalog.
func (g *globals) readerOptions(extra ...ion.ReaderOption) ([]ion.ReaderOption, error) {
	var cat ion.Catalog = g.memory
	b, err := g.openCatalog(true)
	if err != nil {
		return nil, err
	}
	if b != nil {
		cat = catalog.Chain{g.memory, b}
	}
	opts := []ion.ReaderOption{
		ion.WithCatalog(cat),
		ion.WithLogger(g.logger),
		ion.WithMaxBufferSize(int64(g.cfg.Reader.MaxBuffer)),
		ion.WithInitialBufferSize(int(g.cfg.Reader.InitialBuffer)),
		ion.WithOversizedValueHandler(func() {
			level.Warn(g.logger).Log("msg", "skipped oversized value", "max_buffer", g.cfg.Reader.MaxBuffer.HumanReadable())
		}),
	}
	if g.macros != nil {
		opts = append(opts, ion.WithMacroTable(g.macros))
	}
	return append(opts, extra...), nil
}

// input is an opened, decompressed input file.
type input struct {
	io.Reader
	name        string
	compression stream.Compression
	closers     []io.Closer
}

func (in *input) Close() error {
	var first error
	for i := len(in.closers) - 1; i >= 0; i-- {
		if err := in.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// openInput opens name, or stdin for "" and "-", and decompresses it.
func (g *globals) openInput(name string) (*input, error) {
	in := &input{name: name}
	var src io.Reader = os.Stdin
	if name == "" || name == "-" {
		in.name = "stdin"
	} else {
		f, err := os.Open(name)
		if err != nil {
			return nil, errors.Wrap(err, "open input")
		}
		in.closers = append(in.closers, f)
		src = f
	}
	c, err := stream.ParseCompression(g.cfg.Compression)
	if err != nil {
		_ = in.Close()
		return nil, err
	}
	rc, detected, err := stream.NewDecompressor(src, c)
	if err != nil {
		_ = in.Close()
		return nil, errors.Wrap(err, in.name)
	}
	in.Reader = rc
	in.compression = detected
	in.closers = append(in.closers, rc)
	level.Debug(g.logger).Log("msg", "opened input", "file", in.name, "compression", detected)
	return in, nil
}
