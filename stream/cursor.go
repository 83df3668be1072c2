package stream

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/Neumenon/ionic/ion"
)

// StreamCursor tracks per-SID state for stream processing: sequence numbers,
// acknowledgements and the symbol table a continuation frame resumes with.
type StreamCursor struct {
	mu sync.RWMutex

	// Per-SID state
	cursors map[uint64]*SIDState
}

// SIDState holds state for a single stream ID.
type SIDState struct {
	SID       uint64
	LastSeq   uint64        // Last sequence number seen
	LastAcked uint64        // Last sequence number acknowledged
	Symbols   *ion.Snapshot // Symbol table after the last decoded payload
	Minor     int           // Minor version of the last decoded payload
	Final     bool          // Whether stream has ended
}

// HasState reports whether a payload has been decoded for this stream.
func (s *SIDState) HasState() bool { return s.Symbols != nil }

// NewStreamCursor creates a new stream cursor.
func NewStreamCursor() *StreamCursor {
	return &StreamCursor{
		cursors: make(map[uint64]*SIDState),
	}
}

// Get returns the state for a SID, creating it if needed.
func (sc *StreamCursor) Get(sid uint64) *SIDState {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	state, ok := sc.cursors[sid]
	if !ok {
		state = &SIDState{SID: sid}
		sc.cursors[sid] = state
	}
	return state
}

// GetReadOnly returns the state for a SID without creating it.
func (sc *StreamCursor) GetReadOnly(sid uint64) *SIDState {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.cursors[sid]
}

// Delete removes state for a SID.
func (sc *StreamCursor) Delete(sid uint64) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	delete(sc.cursors, sid)
}

// AllSIDs returns all tracked SIDs.
func (sc *StreamCursor) AllSIDs() []uint64 {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	sids := make([]uint64, 0, len(sc.cursors))
	for sid := range sc.cursors {
		sids = append(sids, sid)
	}
	return sids
}

// ProcessFrame validates a frame against the cursor state.
// Returns an error if:
//   - Sequence number is not monotonic (gap or duplicate)
//   - A continuation's base does not match the stream's symbol table
//
// On success, updates LastSeq and returns nil.
func (sc *StreamCursor) ProcessFrame(frame *Frame) error {
	state := sc.Get(frame.SID)

	if frame.Seq != 0 && frame.Seq <= state.LastSeq {
		return fmt.Errorf("sequence not monotonic: got %d, last was %d", frame.Seq, state.LastSeq)
	}
	if state.LastSeq > 0 && frame.Seq != state.LastSeq+1 {
		return fmt.Errorf("sequence gap: expected %d, got %d", state.LastSeq+1, frame.Seq)
	}
	if err := checkBase(state, frame); err != nil {
		return err
	}

	state.LastSeq = frame.Seq
	if frame.Final {
		state.Final = true
	}
	return nil
}

func checkBase(state *SIDState, frame *Frame) error {
	if frame.Kind != KindContinue || frame.Base == nil {
		return nil
	}
	if !state.HasState() {
		return fmt.Errorf("cannot verify base: no symbol table for SID %d", frame.SID)
	}
	if got := state.Symbols.Fingerprint(); got != *frame.Base {
		return &BaseMismatchError{SID: frame.SID, Expected: *frame.Base, Got: got}
	}
	return nil
}

// Ack marks a sequence as acknowledged.
func (sc *StreamCursor) Ack(sid, seq uint64) {
	state := sc.Get(sid)
	if seq > state.LastAcked {
		state.LastAcked = seq
	}
}

// PendingAcks returns sequences that have been seen but not acked.
func (sc *StreamCursor) PendingAcks(sid uint64) []uint64 {
	state := sc.GetReadOnly(sid)
	if state == nil {
		return nil
	}
	if state.LastSeq <= state.LastAcked {
		return nil
	}

	pending := make([]uint64, 0, state.LastSeq-state.LastAcked)
	for seq := state.LastAcked + 1; seq <= state.LastSeq; seq++ {
		pending = append(pending, seq)
	}
	return pending
}

// NeedsResync returns true when a continuation frame cannot be decoded
// because no symbol table is held for the stream.
func (sc *StreamCursor) NeedsResync(sid uint64) bool {
	state := sc.GetReadOnly(sid)
	return state == nil || !state.HasState()
}

// ============================================================
// Payload decoding
// ============================================================

var versionMarkers = [2][]byte{
	{0xE0, 0x01, 0x00, 0xEA},
	{0xE0, 0x01, 0x01, 0xEA},
}

// NewPayloadReader returns a reader over a frame's payload. A continuation
// payload is read with the stream's symbol table and minor version.
func NewPayloadReader(state *SIDState, frame *Frame, opts ...ion.ReaderOption) (*ion.Reader, error) {
	if frame.Kind == KindSegment || !state.HasState() {
		if frame.Kind == KindContinue {
			return nil, fmt.Errorf("sid %d: continuation without a preceding segment", frame.SID)
		}
		if !bytes.HasPrefix(frame.Payload, versionMarkers[0][:2]) {
			return nil, fmt.Errorf("sid %d: segment does not start with a version marker", frame.SID)
		}
		return ion.NewReaderBytes(frame.Payload, opts...), nil
	}

	// The version marker resets the symbol table; restore it right after.
	ivm := versionMarkers[state.Minor&1]
	data := make([]byte, 0, len(ivm)+len(frame.Payload))
	data = append(append(data, ivm...), frame.Payload...)
	r := ion.NewReaderBytes(data, opts...)
	symbols := state.Symbols
	restored := false
	r.RegisterIVMHandler(func(major, minor int) {
		if !restored {
			r.RestoreSymbolTable(symbols)
			restored = true
		}
	})
	return r, nil
}

// Drain reads the remaining top-level values so that trailing symbol tables
// are applied. It returns the number of values skipped.
func Drain(r *ion.Reader) (int64, error) {
	for r.Depth() > 0 {
		if _, err := r.StepOut(); err != nil {
			return 0, err
		}
	}
	var n int64
	for {
		ev, err := r.NextValue()
		if err != nil {
			return n, err
		}
		if ev == ion.EventNeedsData || ev == ion.EventEndContainer {
			return n, nil
		}
		n++
	}
}

// ============================================================
// Frame Handler - functional processing helper
// ============================================================

// FrameHandler processes frames with state tracking.
type FrameHandler struct {
	Cursor *StreamCursor

	// ReaderOptions are applied to every payload reader.
	ReaderOptions []ion.ReaderOption
	Logger        log.Logger

	// Callbacks (optional)
	OnValues func(sid uint64, seq uint64, r *ion.Reader, state *SIDState) error
	OnAck    func(sid uint64, seq uint64, state *SIDState) error
	OnErr    func(sid uint64, seq uint64, message string, state *SIDState) error
	OnPing   func(sid uint64, seq uint64, state *SIDState) error
	OnFinal  func(sid uint64, state *SIDState) error

	// Error handling
	OnSeqGap       func(sid uint64, expected, got uint64) error // Called on sequence gap
	OnBaseMismatch func(sid uint64, frame *Frame) error         // Called on base mismatch
}

// NewFrameHandler creates a handler with default cursor.
func NewFrameHandler() *FrameHandler {
	return &FrameHandler{
		Cursor: NewStreamCursor(),
		Logger: log.NewNopLogger(),
	}
}

// Handle processes a frame and calls the appropriate callback.
func (h *FrameHandler) Handle(frame *Frame) error {
	state := h.Cursor.Get(frame.SID)

	if frame.Seq != 0 && state.LastSeq > 0 {
		if frame.Seq <= state.LastSeq {
			level.Debug(h.logger()).Log("msg", "duplicate frame skipped", "sid", frame.SID, "seq", frame.Seq)
			return nil
		}
		if frame.Seq != state.LastSeq+1 {
			level.Warn(h.logger()).Log("msg", "sequence gap", "sid", frame.SID, "expected", state.LastSeq+1, "got", frame.Seq)
			if h.OnSeqGap != nil {
				if err := h.OnSeqGap(frame.SID, state.LastSeq+1, frame.Seq); err != nil {
					return err
				}
			}
		}
	}

	if err := checkBase(state, frame); err != nil {
		if h.OnBaseMismatch != nil {
			return h.OnBaseMismatch(frame.SID, frame)
		}
		return err
	}

	state.LastSeq = frame.Seq

	var err error
	switch frame.Kind {
	case KindSegment, KindContinue:
		if len(frame.Payload) > 0 {
			err = h.decode(frame, state)
		}
	case KindAck:
		h.Cursor.Ack(frame.SID, frame.Seq)
		if h.OnAck != nil {
			err = h.OnAck(frame.SID, frame.Seq, state)
		}
	case KindErr:
		if h.OnErr != nil {
			err = h.OnErr(frame.SID, frame.Seq, string(frame.Payload), state)
		}
	case KindPing:
		if h.OnPing != nil {
			err = h.OnPing(frame.SID, frame.Seq, state)
		}
	}
	if err != nil {
		return err
	}

	if frame.Final {
		state.Final = true
		if h.OnFinal != nil {
			return h.OnFinal(frame.SID, state)
		}
	}
	return nil
}

func (h *FrameHandler) decode(frame *Frame, state *SIDState) error {
	r, err := NewPayloadReader(state, frame, h.ReaderOptions...)
	if err != nil {
		return err
	}
	defer r.Close()

	if h.OnValues != nil {
		if err := h.OnValues(frame.SID, frame.Seq, r, state); err != nil {
			return err
		}
	}
	if _, err := Drain(r); err != nil {
		return fmt.Errorf("sid %d seq %d: %w", frame.SID, frame.Seq, err)
	}
	state.Symbols = r.SymbolTable()
	state.Minor = r.MinorVersion()
	return nil
}

func (h *FrameHandler) logger() log.Logger {
	if h.Logger == nil {
		return log.NewNopLogger()
	}
	return h.Logger
}
