// Package ion implements an incremental reader and a writer for the Ion binary
// format, version 1.0, plus a 1.1 dialect with macros.
//
// The reader never blocks waiting for input. Every positioning call returns an
// Event; EventNeedsData means the bytes for the next step are not available yet,
// and the same call should be repeated once the underlying source has grown.
//
// # Layers
//
// The reader is built from independent layers that forward to each other:
//   - Cursor: raw bytes to type descriptors, lengths, field names and annotations
//   - SymbolTableManager: symbol IDs to text, fed by top-level symbol table structs
//   - Reader: the application view, expanding macro invocations through a frame stack
//
// # Example
//
//	r := ion.NewReaderBytes(data)
//	for {
//		ev, err := r.NextValue()
//		if err != nil {
//			return err
//		}
//		if ev == ion.EventNeedsData {
//			break
//		}
//		if ev == ion.EventStartScalar && r.Type() == ion.StringType {
//			if _, err := r.FillValue(); err != nil {
//				return err
//			}
//			s, _ := r.StringValue()
//			fmt.Println(s)
//		}
//	}
//
// # Macros
//
// In the 1.1 dialect a value position may hold an e-expression: a macro address,
// a presence bitmap and the arguments. Macros are compiled templates held by a
// MacroTable; the reader evaluates arguments lazily, so arguments that the
// template never references are skipped without being decoded.
package ion
