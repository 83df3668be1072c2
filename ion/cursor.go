package ion

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// cursorState is the resumption point of a Cursor. Every state can be
// re-entered after EventNeedsData without losing or repeating input.
type cursorState uint8

const (
	stateAwaitingHeader cursorState = iota
	stateHeaderPartial
	stateBodyPending
	stateAwaitingStepOut
	stateSkipping
	stateSkippingOversized
	stateEnded
)

func (s cursorState) String() string {
	switch s {
	case stateAwaitingHeader:
		return "AWAITING_HEADER"
	case stateHeaderPartial:
		return "HEADER_PARTIAL"
	case stateBodyPending:
		return "BODY_PENDING"
	case stateAwaitingStepOut:
		return "AWAITING_STEP_OUT"
	case stateSkipping:
		return "SKIPPING"
	case stateSkippingOversized:
		return "SKIPPING_OVERSIZED"
	case stateEnded:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// CursorOptions configures a Cursor.
type CursorOptions struct {
	// InitialBufferSize is the starting capacity of the refill buffer (default: 32KiB).
	InitialBufferSize int

	// MaxBufferSize bounds the bytes a single value may occupy in the buffer
	// (default: 64MiB). Larger values are reported as oversized.
	MaxBufferSize int64

	// OnOversizedValue is called once for each skipped oversized value.
	OnOversizedValue func()

	// OnOversizedSymbolTable is called when a symbol table is too large to
	// buffer. The cursor terminates afterwards.
	OnOversizedSymbolTable func()

	Logger  log.Logger
	Metrics *Metrics
}

// DefaultCursorOptions returns the default limits.
func DefaultCursorOptions() CursorOptions {
	return CursorOptions{
		InitialBufferSize: 32 << 10,
		MaxBufferSize:     64 << 20,
	}
}

// MacroResolver maps an invocation address to its macro.
type MacroResolver func(address int64, system bool) (*Macro, error)

type containerFrame struct {
	td *TypeDescriptor
	// end is the offset after the container, or -1 while the delimiter of a
	// delimited container has not been seen.
	end       int64
	isStruct  bool
	flexSym   bool
	delimited bool
	closed    bool

	// Slices are argument ranges pushed by the interpreter. They do not
	// count as depth.
	slice   bool
	tagless Encoding
}

// Cursor walks encoded values one header at a time without decoding bodies
// until asked. Offsets are absolute positions in the stream.
type Cursor struct {
	buf  []byte
	base int64 // absolute offset of buf[0]
	peek int64
	src  io.Reader

	initialSize int
	maxSize     int64

	minor int

	state      cursorState
	checkpoint int64
	pins       []int64
	skipTarget int64

	// While draining, the cursor walks the children of delimited containers
	// it was asked to skip until only drainTo containers remain.
	draining bool
	drainTo  int

	containers []containerFrame
	depth      int

	// Current value.
	td           *TypeDescriptor
	headerStart  int64 // first byte of the field name, annotations or type byte
	valueHeader  int64 // first byte after the field name
	valueStart   int64
	valueEnd     int64
	filled       bool
	hasField     bool
	field        Marker
	annotations  MarkerList
	macroAddress int64
	systemMacro  bool

	scratch MarkerList

	ivmHandlers            []func(major, minor int)
	onOversizedValue       func()
	onOversizedSymbolTable func()
	resolver               MacroResolver

	logger  log.Logger
	metrics *Metrics
}

// NewCursor returns a cursor that refills from r. io.EOF from r is reported as
// EventNeedsData; reading resumes if r later yields more bytes.
func NewCursor(r io.Reader, opts CursorOptions) *Cursor {
	c := newCursor(opts)
	c.src = r
	c.buf = make([]byte, 0, c.initialSize)
	return c
}

// NewCursorBytes returns a cursor over a complete, fixed input.
func NewCursorBytes(b []byte, opts CursorOptions) *Cursor {
	c := newCursor(opts)
	c.buf = b
	return c
}

func newCursor(opts CursorOptions) *Cursor {
	defaults := DefaultCursorOptions()
	if opts.InitialBufferSize <= 0 {
		opts.InitialBufferSize = defaults.InitialBufferSize
	}
	if opts.MaxBufferSize <= 0 {
		opts.MaxBufferSize = defaults.MaxBufferSize
	}
	if opts.InitialBufferSize > int(opts.MaxBufferSize) {
		opts.InitialBufferSize = int(opts.MaxBufferSize)
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	return &Cursor{
		initialSize:            opts.InitialBufferSize,
		maxSize:                opts.MaxBufferSize,
		onOversizedValue:       opts.OnOversizedValue,
		onOversizedSymbolTable: opts.OnOversizedSymbolTable,
		logger:                 opts.Logger,
		metrics:                opts.Metrics,
		valueEnd:               -1,
	}
}

// RegisterIVMHandler adds fn to the handlers called, in registration order,
// when a version marker is read.
func (c *Cursor) RegisterIVMHandler(fn func(major, minor int)) {
	c.ivmHandlers = append(c.ivmHandlers, fn)
}

// SetMacroResolver sets the lookup used to skip nested invocations.
func (c *Cursor) SetMacroResolver(fn MacroResolver) {
	c.resolver = fn
}

// MinorVersion returns the minor version selected by the last version marker.
func (c *Cursor) MinorVersion() int { return c.minor }

// Depth returns the number of containers stepped into.
func (c *Cursor) Depth() int { return c.depth }

// Offset returns the absolute read position.
func (c *Cursor) Offset() int64 { return c.peek }

// ============================================================
// Buffer management
// ============================================================

func (c *Cursor) limit() int64 { return c.base + int64(len(c.buf)) }

func (c *Cursor) at(p int64) byte { return c.buf[p-c.base] }

func (c *Cursor) window(p int64) []byte { return c.buf[p-c.base:] }

func (c *Cursor) slice(start, end int64) []byte { return c.buf[start-c.base : end-c.base] }

// keepFrom returns the first offset that must stay buffered.
func (c *Cursor) keepFrom() int64 {
	k := c.checkpoint
	for _, p := range c.pins {
		if p < k {
			k = p
		}
	}
	if k > c.limit() {
		k = c.limit()
	}
	return k
}

func (c *Cursor) compact() {
	keep := c.keepFrom()
	drop := keep - c.base
	if drop <= 0 {
		return
	}
	n := copy(c.buf, c.buf[drop:])
	c.buf = c.buf[:n]
	c.base = keep
}

// fill makes [.., upTo) available. It reports false when the source has no
// more bytes for now.
func (c *Cursor) fill(upTo int64) (bool, error) {
	if upTo <= c.limit() {
		return true, nil
	}
	if c.src == nil {
		return false, nil
	}
	if need := upTo - c.base; need > int64(cap(c.buf)) {
		c.compact()
		if need = upTo - c.base; need > int64(cap(c.buf)) {
			size := int64(cap(c.buf)) * 2
			if size == 0 {
				size = int64(c.initialSize)
			}
			for size < need {
				size *= 2
			}
			grown := make([]byte, len(c.buf), size)
			copy(grown, c.buf)
			c.buf = grown
		}
	}
	for c.limit() < upTo {
		if len(c.buf) == cap(c.buf) {
			c.compact()
		}
		n, err := c.src.Read(c.buf[len(c.buf):cap(c.buf)])
		c.buf = c.buf[:len(c.buf)+n]
		c.metrics.addBytes(n)
		if err == io.EOF || (err == nil && n == 0) {
			break
		}
		if err != nil {
			return false, fmt.Errorf("ion: read: %w", err)
		}
	}
	return c.limit() >= upTo, nil
}

// need makes n bytes at p available.
func (c *Cursor) need(p, n int64) (bool, error) {
	return c.fill(p + n)
}

// bufferLimitError reports a scan that would buffer more than the maximum
// buffer size.
type bufferLimitError struct {
	MalformedError
}

// needScan is need for scans over a whole value, which must fit the buffer.
func (c *Cursor) needScan(p, n int64) (bool, error) {
	if c.src != nil && p+n-c.checkpoint > c.maxSize {
		return false, &bufferLimitError{MalformedError{
			Reason: fmt.Sprintf("value exceeds the maximum buffer size of %d bytes", c.maxSize),
			Offset: p,
		}}
	}
	return c.fill(p + n)
}

func isBufferLimit(err error) bool {
	var le *bufferLimitError
	return errors.As(err, &le)
}

// unscannable handles a value whose end cannot be found within the buffer
// limit. Nothing after it can be located, so the cursor ends.
func (c *Cursor) unscannable(err error) (Event, error) {
	if !isBufferLimit(err) {
		return c.needsData(err)
	}
	level.Warn(c.logger).Log("msg", "value end not found within the buffer limit, terminating", "offset", c.checkpoint, "max", c.maxSize)
	c.metrics.incOversizedValue()
	if c.onOversizedValue != nil {
		c.onOversizedValue()
	}
	c.Terminate()
	return EventNeedsData, nil
}

// skipTo moves to target, discarding bytes in between without buffering them.
func (c *Cursor) skipTo(target int64) (bool, error) {
	if target <= c.limit() {
		c.peek = target
		c.checkpoint = target
		return true, nil
	}
	c.checkpoint = target
	if c.src == nil {
		c.peek = c.limit()
		return false, nil
	}
	for c.limit() < target {
		c.compact()
		if len(c.buf) == cap(c.buf) {
			// Pinned bytes fill the buffer; grow by one initial chunk.
			grown := make([]byte, len(c.buf), cap(c.buf)+c.initialSize)
			copy(grown, c.buf)
			c.buf = grown
		}
		room := cap(c.buf)
		if want := target - c.base; want < int64(room) {
			room = int(want)
		}
		n, err := c.src.Read(c.buf[len(c.buf):room])
		c.buf = c.buf[:len(c.buf)+n]
		c.metrics.addBytes(n)
		if err == io.EOF || (err == nil && n == 0) {
			break
		}
		if err != nil {
			return false, fmt.Errorf("ion: read: %w", err)
		}
	}
	if c.limit() < target {
		c.peek = c.limit()
		return false, nil
	}
	c.peek = target
	return true, nil
}

// Pin keeps the bytes from offset on buffered until the matching Unpin.
func (c *Cursor) Pin(offset int64) {
	c.pins = append(c.pins, offset)
}

// Unpin releases the most recent Pin.
func (c *Cursor) Unpin() {
	if len(c.pins) > 0 {
		c.pins = c.pins[:len(c.pins)-1]
	}
}

// SeekTo moves to an already buffered offset and forgets the current value.
func (c *Cursor) SeekTo(offset int64) {
	c.peek = offset
	c.checkpoint = offset
	c.clearValue()
	c.state = stateAwaitingHeader
}

// PushSlice limits reading to [start, end) as if it were a container body.
// Values in the slice are tagless with encoding enc unless enc is
// EncodingTagged.
func (c *Cursor) PushSlice(start, end int64, enc Encoding) {
	c.containers = append(c.containers, containerFrame{end: end, slice: true, tagless: enc})
	c.peek = start
	c.clearValue()
	c.state = stateAwaitingHeader
}

// PopSlice removes the innermost slice.
func (c *Cursor) PopSlice() error {
	top := c.top()
	if top == nil || !top.slice {
		return usage("PopSlice", "no argument slice is active")
	}
	c.containers = c.containers[:len(c.containers)-1]
	c.clearValue()
	c.state = stateAwaitingHeader
	return nil
}

func (c *Cursor) top() *containerFrame {
	if len(c.containers) == 0 {
		return nil
	}
	return &c.containers[len(c.containers)-1]
}

func (c *Cursor) clearValue() {
	c.td = nil
	c.filled = false
	c.hasField = false
	c.valueEnd = -1
	c.annotations.Clear()
	c.systemMacro = false
	c.macroAddress = 0
}

// ============================================================
// Positioning
// ============================================================

// NextValue skips the rest of the current value and reads the next header.
// It returns EventStartScalar, EventStartContainer, EventEndContainer at the
// end of the current container, EventNeedsInstruction for a macro invocation,
// or EventNeedsData.
func (c *Cursor) NextValue() (Event, error) {
	if c.draining {
		ev, err := c.drain()
		if err != nil || ev == EventNeedsData {
			return ev, err
		}
	}
	return c.step()
}

func (c *Cursor) step() (Event, error) {
	switch c.state {
	case stateEnded:
		return EventNeedsData, nil
	case stateAwaitingStepOut:
		ev, err := c.finishStepOut()
		if err != nil || ev == EventNeedsData {
			return ev, err
		}
	case stateSkipping, stateSkippingOversized:
		ok, err := c.skipTo(c.skipTarget)
		if err != nil || !ok {
			return c.needsData(err)
		}
		c.state = stateAwaitingHeader
	case stateBodyPending:
		if c.unreadDelimited() && !c.draining {
			c.draining, c.drainTo = true, len(c.containers)
			ev, err := c.drain()
			if err != nil || ev == EventNeedsData {
				return ev, err
			}
			break
		}
		end := c.valueEnd
		if end < 0 {
			var ok bool
			var err error
			if end, ok, err = c.scanCurrentEnd(); err != nil || !ok {
				return c.unscannable(err)
			}
		}
		c.clearValue()
		c.state = stateSkipping
		c.skipTarget = end
		ok, err := c.skipTo(end)
		if err != nil || !ok {
			return c.needsData(err)
		}
		c.state = stateAwaitingHeader
	}
	return c.nextHeader()
}

// unreadDelimited reports whether the cursor is on a delimited container
// whose end is not known yet.
func (c *Cursor) unreadDelimited() bool {
	return c.state == stateBodyPending && c.td != nil && c.td.IsDelimited &&
		!c.td.IsMacroInvocation && c.valueEnd < 0
}

// drain skips values, stepping into delimited containers rather than
// scanning them, until only c.drainTo containers are open. Only one header
// at a time has to be buffered.
func (c *Cursor) drain() (Event, error) {
	for len(c.containers) > c.drainTo {
		if c.unreadDelimited() {
			if _, err := c.StepIn(); err != nil {
				return EventNeedsData, err
			}
			continue
		}
		ev, err := c.step()
		if err != nil || ev == EventNeedsData {
			return ev, err
		}
		if ev == EventEndContainer {
			if ev, err := c.finishStepOut(); err != nil || ev == EventNeedsData {
				return ev, err
			}
		}
	}
	c.draining = false
	return EventNeedsInstruction, nil
}

func (c *Cursor) needsData(err error) (Event, error) {
	if err == nil {
		c.metrics.incNeedsData()
	}
	return EventNeedsData, err
}

func (c *Cursor) nextHeader() (Event, error) {
	for {
		c.clearValue()
		if top := c.top(); top != nil {
			if top.closed || (top.end >= 0 && c.peek >= top.end) {
				if !top.closed && c.peek > top.end {
					return EventNeedsData, malformed(c.peek, "value overruns its container")
				}
				c.state = stateAwaitingHeader
				return EventEndContainer, nil
			}
			if top.delimited {
				end, ok, err := c.delimiterAt(c.peek, top.flexSym)
				if err != nil || !ok {
					return c.needsData(err)
				}
				if end >= 0 {
					top.end = end
					top.closed = true
					c.state = stateAwaitingHeader
					return EventEndContainer, nil
				}
			}
		}
		c.checkpoint = c.peek
		c.state = stateHeaderPartial
		ev, skip, err := c.readHeader()
		if err != nil {
			return EventNeedsData, err
		}
		if ev == EventNeedsData {
			c.peek = c.checkpoint
			return c.needsData(nil)
		}
		if !skip {
			return ev, nil
		}
		if c.state == stateSkipping || c.state == stateSkippingOversized {
			ok, err := c.skipTo(c.skipTarget)
			if err != nil || !ok {
				return c.needsData(err)
			}
		}
		if c.state == stateEnded {
			return EventNeedsData, nil
		}
	}
}

// delimiterAt reports the offset after the delimiter at p, or -1 when p holds
// something else.
func (c *Cursor) delimiterAt(p int64, flexSym bool) (int64, bool, error) {
	ok, err := c.need(p, 1)
	if !ok {
		return -1, false, err
	}
	b := c.at(p)
	if !flexSym {
		if b == 0xF0 {
			return p + 1, true, nil
		}
		return -1, true, nil
	}
	// In FlexSym structs the delimiter is the FlexSym escape followed by 0xF0.
	if b != 0x01 {
		return -1, true, nil
	}
	if ok, err = c.need(p, 2); !ok {
		return -1, false, err
	}
	if c.at(p+1) == 0xF0 {
		return p + 2, true, nil
	}
	return -1, true, nil
}

// readHeader parses the header at c.peek. skip is set when bytes were
// consumed without producing a value (NOP pad, version marker, oversized
// value). EventNeedsData means the header is incomplete.
func (c *Cursor) readHeader() (ev Event, skip bool, err error) {
	p := c.peek
	top := c.top()
	if top != nil && top.slice && top.tagless != EncodingTagged {
		return c.readTagless(p, top.tagless)
	}
	if top != nil && top.isStruct {
		np, ok, err := c.readFieldName(p, top)
		if err != nil || !ok {
			return EventNeedsData, false, err
		}
		p = np
	}
	valueHeader := p
	if ok, err := c.need(p, 1); !ok {
		return EventNeedsData, false, err
	}
	td := Lookup(c.at(p), c.minor)

	wrapperEnd := int64(-1)
	switch td.Kind {
	case KindIVM:
		return c.readIVM(p, top)
	case KindInvalid:
		return EventNeedsData, false, malformed(p, "invalid type descriptor 0x%02X", td.Byte)
	case KindDelimitedEnd:
		return EventNeedsData, false, malformed(p, "unexpected delimited end marker")
	case KindNOP:
		end, _, ok, err := c.readLength(p, td)
		if err != nil || !ok {
			return EventNeedsData, false, err
		}
		c.state = stateSkipping
		c.skipTarget = end
		return EventNeedsInstruction, true, nil
	case KindMacro:
		return c.readInvocationHeader(p, td, valueHeader)
	case KindAnnotations:
		np, wend, ok, err := c.readAnnotations(p, td)
		if err != nil || !ok {
			return EventNeedsData, false, err
		}
		p, wrapperEnd = np, wend
		if ok, err := c.need(p, 1); !ok {
			return EventNeedsData, false, err
		}
		td = Lookup(c.at(p), c.minor)
		if td.Kind != KindValue {
			return EventNeedsData, false, malformed(p, "annotations must wrap a value, found 0x%02X", td.Byte)
		}
	}

	start := p + 1
	end, bodyStart, ok, err := c.readLength(p, td)
	if err != nil || !ok {
		return EventNeedsData, false, err
	}
	start = bodyStart
	if td.TypedNull {
		if ok, err := c.need(start, 1); !ok {
			return EventNeedsData, false, err
		}
		nt := TypedNull11(c.at(start))
		if nt == nil {
			return EventNeedsData, false, malformed(start, "invalid typed null 0x%02X", c.at(start))
		}
		td = nt
		start, end = end, end
	}
	if wrapperEnd >= 0 && end != wrapperEnd {
		return EventNeedsData, false, malformed(p, "annotation wrapper length does not match its value")
	}

	// Containers are read by stepping in, so only scalars and symbol tables
	// are held to the buffer limit.
	if c.src != nil && end >= 0 && end-c.checkpoint > c.maxSize && !c.draining &&
		(!td.IsContainer() || c.mayBeSymbolTable(td)) {
		return c.oversized(td, end)
	}

	c.td = td
	c.headerStart = c.checkpoint
	c.valueHeader = valueHeader
	c.valueStart = start
	c.valueEnd = end
	c.peek = start
	c.state = stateBodyPending
	if td.IsContainer() {
		return EventStartContainer, false, nil
	}
	return EventStartScalar, false, nil
}

// readLength returns the end of the body introduced by td at p and the body
// start.
func (c *Cursor) readLength(p int64, td *TypeDescriptor) (end, start int64, ok bool, err error) {
	start = p + 1
	switch {
	case td.Length >= 0:
		return start + int64(td.Length), start, true, nil
	case td.Length == LengthDelimited:
		return -1, start, true, nil
	case td.SymbolAddress:
		// The body is a FlexUInt; its first byte announces its width.
		if ok, err := c.need(start, 1); !ok {
			return 0, 0, false, err
		}
		w := flexWidth(c.at(start))
		if w == 0 {
			return 0, 0, false, malformed(start, "symbol address is too large")
		}
		return start + int64(w), start, true, nil
	}
	var n uint64
	var next int64
	if c.minor == 0 {
		n, next, ok, err = c.readVarUIntAt(start)
	} else {
		n, next, ok, err = c.readFlexUIntAt(start)
	}
	if err != nil || !ok {
		return 0, 0, false, err
	}
	if td.Ordered && n == 0 {
		return 0, 0, false, malformed(p, "ordered struct must not be empty")
	}
	if n > math.MaxInt64/2 {
		return 0, 0, false, malformed(start, "length %d is too large", n)
	}
	return next + int64(n), next, true, nil
}

func (c *Cursor) readIVM(p int64, top *containerFrame) (Event, bool, error) {
	if top != nil || c.hasField {
		return EventNeedsData, false, malformed(p, "version marker is only valid at the top level")
	}
	if ok, err := c.need(p, 4); !ok {
		return EventNeedsData, false, err
	}
	b := c.slice(p, p+4)
	if b[3] != 0xEA {
		return EventNeedsData, false, malformed(p, "invalid version marker % X", b)
	}
	major, minor := int(b[1]), int(b[2])
	if major != 1 || minor > 1 {
		return EventNeedsData, false, malformed(p, "unsupported version %d.%d", major, minor)
	}
	c.peek = p + 4
	c.checkpoint = c.peek
	c.minor = minor
	level.Debug(c.logger).Log("msg", "version marker", "major", major, "minor", minor, "offset", p)
	for _, fn := range c.ivmHandlers {
		fn(major, minor)
	}
	c.state = stateAwaitingHeader
	return EventNeedsInstruction, true, nil
}

func (c *Cursor) readInvocationHeader(p int64, td *TypeDescriptor, valueHeader int64) (Event, bool, error) {
	if c.annotations.Len() > 0 {
		return EventNeedsData, false, malformed(p, "annotations cannot precede a macro invocation")
	}
	addr, q, end, ok, err := c.invocationAddress(p, td)
	if err != nil || !ok {
		return EventNeedsData, false, err
	}
	if c.src != nil && end >= 0 && end-c.checkpoint > c.maxSize && !c.draining {
		return c.oversized(td, end)
	}
	c.td = td
	c.headerStart = c.checkpoint
	c.valueHeader = valueHeader
	c.valueStart = q
	c.valueEnd = end
	c.macroAddress = int64(addr)
	c.systemMacro = td.MacroForm == MacroSystem
	c.peek = q
	c.state = stateBodyPending
	return EventNeedsInstruction, false, nil
}

// oversized reports a value that cannot be buffered and arranges to skip it.
func (c *Cursor) oversized(td *TypeDescriptor, end int64) (Event, bool, error) {
	if c.mayBeSymbolTable(td) {
		level.Warn(c.logger).Log("msg", "oversized symbol table, terminating", "offset", c.checkpoint, "size", end-c.checkpoint)
		c.metrics.incOversizedSymbolTable()
		if c.onOversizedSymbolTable != nil {
			c.onOversizedSymbolTable()
		}
		c.Terminate()
		return EventNeedsInstruction, true, nil
	}
	level.Warn(c.logger).Log("msg", "skipping oversized value", "offset", c.checkpoint, "size", end-c.checkpoint, "max", c.maxSize)
	c.metrics.incOversizedValue()
	if c.onOversizedValue != nil {
		c.onOversizedValue()
	}
	c.annotations.Clear()
	c.hasField = false
	c.state = stateSkippingOversized
	c.skipTarget = end
	return EventNeedsInstruction, true, nil
}

// mayBeSymbolTable reports whether a value about to be read could be a local
// symbol table: a top-level struct or null whose first annotation is
// $ion_symbol_table.
func (c *Cursor) mayBeSymbolTable(td *TypeDescriptor) bool {
	if len(c.containers) > 0 || c.annotations.Len() == 0 {
		return false
	}
	if td.Type != StructType && !td.IsNull {
		return false
	}
	m := c.annotations.At(0)
	if m.IsSID() {
		return m.End == sidSymbolTable
	}
	return m.Start >= 0 && string(c.slice(m.Start, m.End)) == "$ion_symbol_table"
}

// readFieldName reads the field name at p into c.field.
func (c *Cursor) readFieldName(p int64, top *containerFrame) (int64, bool, error) {
	if top.flexSym {
		m, np, ok, err := c.readFlexSym(p)
		if err != nil || !ok {
			return 0, false, err
		}
		c.field = m
		c.hasField = true
		return np, true, nil
	}
	var sid uint64
	var np int64
	var ok bool
	var err error
	if c.minor == 0 {
		sid, np, ok, err = c.readVarUIntAt(p)
	} else {
		sid, np, ok, err = c.readFlexUIntAt(p)
	}
	if err != nil || !ok {
		return 0, false, err
	}
	c.field = Marker{Start: markerSID, End: int64(sid)}
	c.hasField = true
	return np, true, nil
}

// readFlexSym reads a FlexSym: a positive FlexInt is a symbol ID, a negative
// one the length of inline text, and zero an escape byte.
func (c *Cursor) readFlexSym(p int64) (Marker, int64, bool, error) {
	v, np, ok, err := c.readFlexIntAt(p)
	if err != nil || !ok {
		return Marker{}, 0, false, err
	}
	switch {
	case v > 0:
		return Marker{Start: markerSID, End: v}, np, true, nil
	case v < 0:
		n := -v
		if ok, err := c.need(np, n); !ok {
			return Marker{}, 0, false, err
		}
		return Marker{Start: np, End: np + n}, np + n, true, nil
	}
	if ok, err := c.need(np, 1); !ok {
		return Marker{}, 0, false, err
	}
	switch c.at(np) {
	case 0x90:
		return Marker{Start: markerEmptyText}, np + 1, true, nil
	case 0xE1:
		// Escaped symbol zero.
		return Marker{Start: markerSID, End: 0}, np + 1, true, nil
	}
	return Marker{}, 0, false, malformed(np, "invalid FlexSym escape 0x%02X", c.at(np))
}

// readAnnotations reads the annotation sequence introduced by td at p into
// c.annotations. It returns the offset of the annotated value and, for 1.0
// wrappers, the offset where the wrapper ends.
func (c *Cursor) readAnnotations(p int64, td *TypeDescriptor) (int64, int64, bool, error) {
	c.annotations.Clear()
	switch td.AnnotationForm {
	case AnnotationsWrapper:
		end, q, ok, err := c.readLength(p, td)
		if err != nil || !ok {
			return 0, 0, false, err
		}
		n, q, ok, err := c.readVarUIntAt(q)
		if err != nil || !ok {
			return 0, 0, false, err
		}
		if n == 0 {
			return 0, 0, false, malformed(p, "annotation wrapper has no annotations")
		}
		stop := q + int64(n)
		if end >= 0 && stop >= end {
			return 0, 0, false, malformed(p, "annotation wrapper has no value")
		}
		for q < stop {
			sid, next, ok, err := c.readVarUIntAt(q)
			if err != nil || !ok {
				return 0, 0, false, err
			}
			c.annotations.Add(Marker{Start: markerSID, End: int64(sid)})
			q = next
		}
		if q != stop {
			return 0, 0, false, malformed(q, "annotation symbols overrun their length")
		}
		return q, end, true, nil
	case AnnotationsSID, AnnotationsFlexSym:
		q := p + 1
		for i := 0; i < td.AnnotationCount; i++ {
			m, next, ok, err := c.readAnnotationSymbol(q, td.AnnotationForm == AnnotationsFlexSym)
			if err != nil || !ok {
				return 0, 0, false, err
			}
			c.annotations.Add(m)
			q = next
		}
		return q, -1, true, nil
	default:
		n, q, ok, err := c.readFlexUIntAt(p + 1)
		if err != nil || !ok {
			return 0, 0, false, err
		}
		stop := q + int64(n)
		for q < stop {
			m, next, ok, err := c.readAnnotationSymbol(q, td.AnnotationForm == AnnotationsFlexSymPrefixed)
			if err != nil || !ok {
				return 0, 0, false, err
			}
			c.annotations.Add(m)
			q = next
		}
		if q != stop {
			return 0, 0, false, malformed(q, "annotation symbols overrun their length")
		}
		return q, -1, true, nil
	}
}

func (c *Cursor) readAnnotationSymbol(p int64, flexSym bool) (Marker, int64, bool, error) {
	if flexSym {
		return c.readFlexSym(p)
	}
	sid, np, ok, err := c.readFlexUIntAt(p)
	if err != nil || !ok {
		return Marker{}, 0, false, err
	}
	return Marker{Start: markerSID, End: int64(sid)}, np, true, nil
}

// readTagless positions on one tagless value of encoding enc at p.
func (c *Cursor) readTagless(p int64, enc Encoding) (Event, bool, error) {
	w := int64(enc.FixedWidth())
	if w == 0 {
		if ok, err := c.need(p, 1); !ok {
			return EventNeedsData, false, err
		}
		w = int64(flexWidth(c.at(p)))
		if w == 0 {
			return EventNeedsData, false, malformed(p, "tagless %s is too large", enc)
		}
	}
	if ok, err := c.need(p, w); !ok {
		return EventNeedsData, false, err
	}
	c.td = taglessDescriptor(enc)
	c.headerStart = p
	c.valueHeader = p
	c.valueStart = p
	c.valueEnd = p + w
	c.filled = true
	c.state = stateBodyPending
	return EventStartScalar, false, nil
}

func (c *Cursor) readVarUIntAt(p int64) (uint64, int64, bool, error) {
	for {
		v, n, st := decodeVarUInt(c.window(p))
		switch st {
		case decodeOK:
			return v, p + int64(n), true, nil
		case decodeOverflow:
			return 0, 0, false, malformed(p, "VarUInt overflows 63 bits")
		}
		if ok, err := c.fill(c.limit() + 1); !ok {
			return 0, 0, false, err
		}
	}
}

func (c *Cursor) readFlexUIntAt(p int64) (uint64, int64, bool, error) {
	for {
		v, n, st := decodeFlexUInt(c.window(p))
		switch st {
		case decodeOK:
			return v, p + int64(n), true, nil
		case decodeOverflow:
			return 0, 0, false, malformed(p, "FlexUInt wider than %d bytes", maxFlexWidth)
		}
		if ok, err := c.fill(c.limit() + 1); !ok {
			return 0, 0, false, err
		}
	}
}

func (c *Cursor) readFlexIntAt(p int64) (int64, int64, bool, error) {
	for {
		v, n, st := decodeFlexInt(c.window(p))
		switch st {
		case decodeOK:
			return v, p + int64(n), true, nil
		case decodeOverflow:
			return 0, 0, false, malformed(p, "FlexInt wider than %d bytes", maxFlexWidth)
		}
		if ok, err := c.fill(c.limit() + 1); !ok {
			return 0, 0, false, err
		}
	}
}

// ============================================================
// Containers
// ============================================================

// StepIn enters the container the cursor is positioned on.
func (c *Cursor) StepIn() (Event, error) {
	if c.state != stateBodyPending || c.td == nil || !c.td.IsContainer() {
		return EventNeedsData, usage("StepIn", "not positioned on a container")
	}
	td := c.td
	c.containers = append(c.containers, containerFrame{
		td:        td,
		end:       c.valueEnd,
		isStruct:  td.Type == StructType,
		flexSym:   td.FlexSymFields,
		delimited: td.IsDelimited,
	})
	c.depth++
	c.peek = c.valueStart
	c.checkpoint = c.peek
	c.clearValue()
	c.state = stateAwaitingHeader
	return EventNeedsInstruction, nil
}

// StepOut skips the rest of the current container and leaves it. It may
// return EventNeedsData, after which StepOut or NextValue resumes it.
func (c *Cursor) StepOut() (Event, error) {
	if c.draining {
		return c.drain()
	}
	if c.state == stateAwaitingStepOut {
		return c.finishStepOut()
	}
	top := c.top()
	if top == nil || top.slice {
		return EventNeedsData, usage("StepOut", "not inside a container")
	}
	if top.end < 0 {
		c.draining, c.drainTo = true, len(c.containers)-1
		return c.drain()
	}
	switch c.state {
	case stateBodyPending:
		// Rescan from the current value's header if the end must be found.
		c.peek = c.headerStart
	case stateSkipping, stateSkippingOversized:
		ok, err := c.skipTo(c.skipTarget)
		if err != nil || !ok {
			return c.needsData(err)
		}
	}
	c.clearValue()
	c.checkpoint = c.peek
	c.state = stateAwaitingStepOut
	return c.finishStepOut()
}

// finishStepOut leaves a container whose end is known.
func (c *Cursor) finishStepOut() (Event, error) {
	top := c.top()
	ok, err := c.skipTo(top.end)
	if err != nil || !ok {
		return c.needsData(err)
	}
	c.containers = c.containers[:len(c.containers)-1]
	c.depth--
	c.state = stateAwaitingHeader
	return EventNeedsInstruction, nil
}

// ============================================================
// Values
// ============================================================

// FillValue buffers the body of the current value. It returns
// EventValueReady, EventNeedsData, or EventNeedsInstruction when the value
// was oversized and skipped. A container too large to buffer is not skipped:
// FillValue returns EventStartContainer and the container can still be read
// by stepping in.
func (c *Cursor) FillValue() (Event, error) {
	if c.state != stateBodyPending || c.td == nil {
		return EventNeedsData, usage("FillValue", "not positioned on a value")
	}
	if c.td.IsMacroInvocation {
		return EventNeedsData, usage("FillValue", "positioned on a macro invocation")
	}
	if c.filled {
		return EventValueReady, nil
	}
	end := c.valueEnd
	if end < 0 {
		var ok bool
		var err error
		if end, ok, err = c.scanCurrentEnd(); err != nil || !ok {
			if c.td.IsContainer() && isBufferLimit(err) {
				return EventStartContainer, nil
			}
			return c.needsData(err)
		}
		c.valueEnd = end
	}
	if c.src != nil && end-c.headerStart > c.maxSize {
		if c.td.IsContainer() {
			return EventStartContainer, nil
		}
		_, _, _ = c.oversized(c.td, end)
		return EventNeedsInstruction, nil
	}
	ok, err := c.fill(end)
	if err != nil || !ok {
		return c.needsData(err)
	}
	c.filled = true
	return EventValueReady, nil
}

// Type returns the type of the current value.
func (c *Cursor) Type() Type {
	if c.td == nil || c.td.IsMacroInvocation {
		return NoType
	}
	return c.td.Type
}

// IsNull reports whether the current value is a null.
func (c *Cursor) IsNull() bool { return c.td != nil && c.td.IsNull }

// Descriptor returns the type descriptor of the current value.
func (c *Cursor) Descriptor() *TypeDescriptor { return c.td }

// IsInStruct reports whether the innermost container is a struct.
func (c *Cursor) IsInStruct() bool {
	top := c.top()
	return top != nil && top.isStruct
}

// IsMacroInvocation reports whether the cursor is on an e-expression.
func (c *Cursor) IsMacroInvocation() bool { return c.td != nil && c.td.IsMacroInvocation }

// MacroAddress returns the address of the current invocation.
func (c *Cursor) MacroAddress() int64 { return c.macroAddress }

// IsSystemInvocation reports whether the current invocation addresses the
// system macro table.
func (c *Cursor) IsSystemInvocation() bool { return c.systemMacro }

// ValueEnd returns the offset after the current value, or -1 if unknown.
func (c *Cursor) ValueEnd() int64 { return c.valueEnd }

// HeaderStart returns the offset of the current value's first byte,
// including its field name.
func (c *Cursor) HeaderStart() int64 { return c.headerStart }

// HasFieldName reports whether the current value has a field name.
func (c *Cursor) HasFieldName() bool { return c.hasField }

// FieldName returns the raw field name of the current value.
func (c *Cursor) FieldName() (SymbolToken, bool) {
	if !c.hasField {
		return SymbolToken{}, false
	}
	return c.markerToken(c.field), true
}

// AnnotationCount returns the number of annotations on the current value.
func (c *Cursor) AnnotationCount() int { return c.annotations.Len() }

// Annotation returns the raw annotation i of the current value.
func (c *Cursor) Annotation(i int) SymbolToken {
	return c.markerToken(c.annotations.At(i))
}

func (c *Cursor) markerToken(m Marker) SymbolToken {
	switch {
	case m.IsSID():
		return SymbolToken{SID: m.End}
	case m.Start == markerEmptyText:
		return NewSymbolToken("")
	}
	return NewSymbolToken(string(c.slice(m.Start, m.End)))
}

// RawValue returns the encoded bytes of the current filled value, from its
// annotations or type byte to its end. The slice is valid until the cursor
// moves.
func (c *Cursor) RawValue() ([]byte, bool) {
	if c.td == nil || !c.filled || c.valueEnd < 0 || c.td.Tagless != EncodingTagged {
		return nil, false
	}
	return c.slice(c.valueHeader, c.valueEnd), true
}

// ============================================================
// End of stream
// ============================================================

// Terminate stops the cursor; every further positioning call returns
// EventNeedsData.
func (c *Cursor) Terminate() {
	c.state = stateEnded
	c.draining = false
	c.containers = c.containers[:0]
	c.depth = 0
	c.clearValue()
}

// IsTerminated reports whether Terminate was called.
func (c *Cursor) IsTerminated() bool { return c.state == stateEnded }

func (c *Cursor) awaitingMoreData() bool {
	if c.draining && c.state != stateEnded {
		return true
	}
	switch c.state {
	case stateEnded:
		return false
	case stateHeaderPartial:
		if c.limit() > c.checkpoint {
			return true
		}
	case stateBodyPending:
		if c.valueEnd < 0 || c.valueEnd > c.limit() {
			return true
		}
	case stateSkipping, stateSkippingOversized:
		if c.skipTarget > c.limit() {
			return true
		}
	case stateAwaitingStepOut:
		return true
	}
	return len(c.containers) > 0
}

// EndStream reports an error if the input ended inside a value.
func (c *Cursor) EndStream() error {
	if c.awaitingMoreData() {
		return malformed(c.peek, "unexpected end of stream")
	}
	return nil
}

// Close ends the stream and releases the buffer.
func (c *Cursor) Close() error {
	err := c.EndStream()
	c.buf = nil
	c.base = c.peek
	c.state = stateEnded
	return err
}
