package catalog

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"go.etcd.io/bbolt"

	"github.com/Neumenon/ionic/ion"
)

var tablesBucket = []byte("shared_tables")

// sharedTableAnnotation marks a stored table value.
const sharedTableAnnotation = "$ion_shared_symbol_table"

// ErrSubstitute is returned when a substitute table is stored.
var ErrSubstitute = errors.New("substitute tables cannot be stored")

// TableInfo describes a stored table without its symbols.
type TableInfo struct {
	Name    string
	Version int
	MaxID   int
	Size    int // encoded bytes
}

// Bolt is a catalog persisted in a bbolt file. Each table is stored as one
// annotated struct in the binary format, under a per-name bucket keyed by the
// big-endian version. Lookups go through an in-memory LRU.
type Bolt struct {
	db     *bbolt.DB
	cache  *Memory
	logger log.Logger
}

// BoltOption configures a Bolt catalog.
type BoltOption func(*boltOptions)

type boltOptions struct {
	timeout   time.Duration
	readOnly  bool
	cacheSize int
	logger    log.Logger
}

// WithReadOnly opens the file without taking the write lock.
func WithReadOnly() BoltOption {
	return func(o *boltOptions) { o.readOnly = true }
}

// WithOpenTimeout bounds the wait for the file lock.
func WithOpenTimeout(d time.Duration) BoltOption {
	return func(o *boltOptions) { o.timeout = d }
}

// WithCacheSize sets the number of decoded tables kept in memory.
func WithCacheSize(n int) BoltOption {
	return func(o *boltOptions) { o.cacheSize = n }
}

// WithBoltLogger sets the logger for lookup failures.
func WithBoltLogger(l log.Logger) BoltOption {
	return func(o *boltOptions) { o.logger = l }
}

// OpenBolt opens or creates a catalog file.
func OpenBolt(path string, opts ...BoltOption) (*Bolt, error) {
	o := boltOptions{
		timeout:   time.Second,
		cacheSize: DefaultMaxTables,
		logger:    log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := bbolt.Open(path, 0o644, &bbolt.Options{Timeout: o.timeout, ReadOnly: o.readOnly})
	if err != nil {
		return nil, errors.Wrapf(err, "open catalog %s", path)
	}
	if !o.readOnly {
		err = db.Update(func(tx *bbolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(tablesBucket)
			return err
		})
		if err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, "create tables bucket")
		}
	}
	return &Bolt{
		db:     db,
		cache:  NewMemory(WithMaxTables(o.cacheSize), WithMemoryLogger(o.logger)),
		logger: o.logger,
	}, nil
}

// Close closes the underlying file.
func (b *Bolt) Close() error {
	return b.db.Close()
}

func versionKey(version int) []byte {
	var k [4]byte
	binary.BigEndian.PutUint32(k[:], uint32(version))
	return k[:]
}

// Put stores tables, replacing existing versions.
func (b *Bolt) Put(tables ...*ion.SharedTable) error {
	encoded := make([][]byte, len(tables))
	for i, t := range tables {
		if t.IsSubstitute() {
			return errors.Wrapf(ErrSubstitute, "table %s", t)
		}
		data, err := EncodeTable(t)
		if err != nil {
			return errors.Wrapf(err, "encode table %s", t)
		}
		encoded[i] = data
	}

	err := b.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(tablesBucket)
		if root == nil {
			return errors.New("catalog is read-only or not initialised")
		}
		for i, t := range tables {
			bucket, err := root.CreateBucketIfNotExists([]byte(t.Name()))
			if err != nil {
				return err
			}
			if err := bucket.Put(versionKey(t.Version()), encoded[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "store shared tables")
	}
	b.cache.Add(tables...)
	return nil
}

// Delete removes one table version. Deleting a missing table is not an error.
func (b *Bolt) Delete(name string, version int) error {
	b.cache.Remove(name, version)
	err := b.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(tablesBucket)
		if root == nil {
			return nil
		}
		bucket := root.Bucket([]byte(name))
		if bucket == nil {
			return nil
		}
		if err := bucket.Delete(versionKey(version)); err != nil {
			return err
		}
		if k, _ := bucket.Cursor().First(); k == nil {
			return root.DeleteBucket([]byte(name))
		}
		return nil
	})
	return errors.Wrapf(err, "delete %s@%d", name, version)
}

// Get loads the requested version, or the highest stored version when
// exact is false and the requested one is missing. It returns nil, nil when
// nothing matches.
func (b *Bolt) Get(name string, version int, exact bool) (*ion.SharedTable, error) {
	if t := b.cache.Get(name, version); t != nil {
		return t, nil
	}

	var data []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(tablesBucket)
		if root == nil {
			return nil
		}
		bucket := root.Bucket([]byte(name))
		if bucket == nil {
			return nil
		}
		v := bucket.Get(versionKey(version))
		if v == nil && !exact {
			_, v = bucket.Cursor().Last()
		}
		// Values are only valid inside the transaction.
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "load %s@%d", name, version)
	}
	if len(data) == 0 {
		return nil, nil
	}

	t, err := DecodeTable(data)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s@%d", name, version)
	}
	b.cache.Add(t)
	return t, nil
}

// Table implements ion.Catalog. Load failures are logged and reported as a
// missing table.
func (b *Bolt) Table(name string, version int) *ion.SharedTable {
	t, err := b.Get(name, version, false)
	if err != nil {
		level.Warn(b.logger).Log("msg", "catalog lookup failed", "name", name, "version", version, "err", err)
		return nil
	}
	return t
}

// List describes every stored table ordered by name then version.
func (b *Bolt) List() ([]TableInfo, error) {
	var out []TableInfo
	err := b.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(tablesBucket)
		if root == nil {
			return nil
		}
		return root.ForEachBucket(func(name []byte) error {
			return root.Bucket(name).ForEach(func(k, v []byte) error {
				t, err := DecodeTable(v)
				if err != nil {
					return errors.Wrapf(err, "decode %s", name)
				}
				out = append(out, TableInfo{
					Name:    string(name),
					Version: int(binary.BigEndian.Uint32(k)),
					MaxID:   t.MaxID(),
					Size:    len(v),
				})
				return nil
			})
		})
	})
	return out, errors.Wrap(err, "list shared tables")
}

// ============================================================
// Table encoding
// ============================================================

// EncodeTable writes t as $ion_shared_symbol_table::{name, version, symbols}.
func EncodeTable(t *ion.SharedTable) ([]byte, error) {
	var buf bytes.Buffer
	w := ion.NewBinaryWriter(&buf)

	w.Annotations(ion.NewSymbolToken(sharedTableAnnotation))
	if err := w.BeginStruct(); err != nil {
		return nil, err
	}
	w.FieldName(ion.NewSymbolToken("name"))
	if err := w.WriteString(t.Name()); err != nil {
		return nil, err
	}
	w.FieldName(ion.NewSymbolToken("version"))
	if err := w.WriteInt(int64(t.Version())); err != nil {
		return nil, err
	}
	w.FieldName(ion.NewSymbolToken("symbols"))
	if err := w.BeginList(); err != nil {
		return nil, err
	}
	for sid := 1; sid <= t.MaxID(); sid++ {
		text, ok := t.Text(sid)
		var err error
		if ok {
			err = w.WriteString(text)
		} else {
			err = w.WriteNullType(ion.StringType)
		}
		if err != nil {
			return nil, err
		}
	}
	if err := w.EndList(); err != nil {
		return nil, err
	}
	if err := w.EndStruct(); err != nil {
		return nil, err
	}
	if err := w.Finish(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeTable reads a table written by EncodeTable. Unknown fields are
// ignored.
func DecodeTable(data []byte) (*ion.SharedTable, error) {
	r := ion.NewReaderBytes(data)
	defer r.Close()

	ev, err := r.NextValue()
	if err != nil {
		return nil, err
	}
	if ev != ion.EventStartContainer || r.Type() != ion.StructType || r.IsNull() {
		return nil, errors.New("expected a shared table struct")
	}
	anns, err := r.Annotations()
	if err != nil {
		return nil, err
	}
	if len(anns) == 0 || anns[0] != sharedTableAnnotation {
		return nil, errors.Errorf("expected %s annotation", sharedTableAnnotation)
	}
	if _, err := r.StepIn(); err != nil {
		return nil, err
	}

	var (
		name    string
		version = 1
		symbols []string
	)
	for {
		ev, err := r.NextValue()
		if err != nil {
			return nil, err
		}
		if ev == ion.EventEndContainer || ev == ion.EventNeedsData {
			break
		}
		field, err := r.FieldName()
		if err != nil {
			return nil, err
		}
		switch field {
		case "name":
			if name, err = stringField(r); err != nil {
				return nil, errors.Wrap(err, "name")
			}
		case "version":
			if _, err := r.FillValue(); err != nil {
				return nil, err
			}
			v, err := r.Int64Value()
			if err != nil {
				return nil, errors.Wrap(err, "version")
			}
			version = int(v)
		case "symbols":
			if symbols, err = symbolList(r); err != nil {
				return nil, errors.Wrap(err, "symbols")
			}
		}
	}
	if name == "" {
		return nil, errors.New("shared table without a name")
	}
	return ion.NewSharedTable(name, version, symbols), nil
}

func stringField(r *ion.Reader) (string, error) {
	if r.Type() != ion.StringType || r.IsNull() {
		return "", errors.Errorf("expected string, found %s", r.Type())
	}
	if _, err := r.FillValue(); err != nil {
		return "", err
	}
	return r.StringValue()
}

func symbolList(r *ion.Reader) ([]string, error) {
	if r.Type() != ion.ListType || r.IsNull() {
		return nil, errors.Errorf("expected list, found %s", r.Type())
	}
	if _, err := r.StepIn(); err != nil {
		return nil, err
	}
	var out []string
	for {
		ev, err := r.NextValue()
		if err != nil {
			return nil, err
		}
		if ev == ion.EventEndContainer || ev == ion.EventNeedsData {
			break
		}
		if r.Type() != ion.StringType || r.IsNull() {
			// Reserved slot: keep the position with empty text.
			out = append(out, "")
			continue
		}
		s, err := stringField(r)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if _, err := r.StepOut(); err != nil {
		return nil, err
	}
	return out, nil
}
