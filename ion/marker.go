package ion

// Marker is a byte range in the input, optionally typed.
//
// Symbol markers use Start < 0: End then holds a symbol ID instead of an
// offset. Start == markerEmptyText means a symbol with empty inline text.
type Marker struct {
	Start int64
	End   int64
	TD    *TypeDescriptor
}

const (
	markerSID       = -1
	markerEmptyText = -2
)

// Len returns the byte length of the range.
func (m Marker) Len() int64 { return m.End - m.Start }

// IsSID reports whether the marker holds a symbol ID rather than a byte range.
func (m Marker) IsSID() bool { return m.Start == markerSID }

// MarkerList is an arena of markers addressed by index. Slots are reused in
// place; a Marker read from the list must not be kept across cursor advances.
type MarkerList struct {
	items []Marker
	n     int
}

// NewMarkerList returns a list with room for capacity markers.
func NewMarkerList(capacity int) *MarkerList {
	return &MarkerList{items: make([]Marker, 0, capacity)}
}

// Provisional resets the next slot and returns its index. The slot becomes
// part of the list only after Commit.
func (l *MarkerList) Provisional() int {
	if l.n == len(l.items) {
		l.items = append(l.items, Marker{})
	} else {
		l.items[l.n] = Marker{}
	}
	return l.n
}

// Set stores m in slot i, which must be committed or provisional.
func (l *MarkerList) Set(i int, m Marker) {
	l.items[i] = m
}

// Commit appends the provisional slot.
func (l *MarkerList) Commit() {
	l.n++
}

// Add stores m in a new slot and returns its index.
func (l *MarkerList) Add(m Marker) int {
	i := l.Provisional()
	l.items[i] = m
	l.Commit()
	return i
}

// At returns the marker in slot i.
func (l *MarkerList) At(i int) Marker {
	return l.items[i]
}

// Len returns the number of committed markers.
func (l *MarkerList) Len() int { return l.n }

// Clear drops every marker, keeping the storage.
func (l *MarkerList) Clear() { l.n = 0 }

// Truncate drops every marker from slot n on.
func (l *MarkerList) Truncate(n int) {
	if n < l.n {
		l.n = n
	}
}
