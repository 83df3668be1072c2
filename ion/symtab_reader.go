package ion

import "math"

// symtabState is where the symbol table reader stopped. Every state repeats
// its cursor call when re-entered after EventNeedsData.
type symtabState uint8

const (
	symtabIdle symtabState = iota
	symtabAwaitingField
	symtabOnSymbols
	symtabReadingSymbols
	symtabReadingSymbol
	symtabOnImports
	symtabReadingImports
	symtabReadingImport
	symtabReadingImportName
	symtabReadingImportVersion
	symtabReadingImportMaxID
	symtabLeavingSymbols
	symtabLeavingImport
	symtabLeavingImports
	symtabLeavingTable
)

func (s symtabState) String() string {
	switch s {
	case symtabIdle:
		return "IDLE"
	case symtabAwaitingField:
		return "AWAITING_FIELD"
	case symtabOnSymbols:
		return "ON_SYMBOLS_FIELD"
	case symtabReadingSymbols:
		return "READING_SYMBOLS_LIST"
	case symtabReadingSymbol:
		return "READING_SYMBOL"
	case symtabOnImports:
		return "ON_IMPORTS_FIELD"
	case symtabReadingImports:
		return "READING_IMPORTS_LIST"
	case symtabReadingImport:
		return "READING_IMPORT_STRUCT"
	case symtabReadingImportName:
		return "READING_IMPORT_NAME"
	case symtabReadingImportVersion:
		return "READING_IMPORT_VERSION"
	case symtabReadingImportMaxID:
		return "READING_IMPORT_MAX_ID"
	case symtabLeavingSymbols:
		return "LEAVING_SYMBOLS_LIST"
	case symtabLeavingImport:
		return "LEAVING_IMPORT_STRUCT"
	case symtabLeavingImports:
		return "LEAVING_IMPORTS_LIST"
	case symtabLeavingTable:
		return "LEAVING_SYMBOL_TABLE"
	default:
		return "UNKNOWN"
	}
}

// symtabReader consumes a $ion_symbol_table struct from a cursor and applies
// it to a manager.
type symtabReader struct {
	state symtabState

	seenSymbols bool
	seenImports bool
	mode        symtabMode
	symbols     []symbolSlot
	imports     []importSpec
	current     importSpec
	currentOK   bool
}

// active reports whether a symbol table is being read.
func (s *symtabReader) active() bool { return s.state != symtabIdle }

// isSymbolTable reports whether the cursor's current top-level value is a
// symbol table declaration.
func isSymbolTable(c *Cursor) bool {
	if c.Depth() != 0 || c.AnnotationCount() == 0 || c.Type() != StructType {
		return false
	}
	return fieldIs(c.Annotation(0), sidSymbolTable, symbolTableAnnotation)
}

func fieldIs(tok SymbolToken, sid int64, text string) bool {
	if tok.Text != nil {
		return *tok.Text == text
	}
	return tok.SID == sid
}

// begin starts reading the symbol table the cursor is positioned on. A null
// struct declares nothing and resets the table.
func (s *symtabReader) begin(c *Cursor) error {
	*s = symtabReader{symbols: s.symbols[:0], imports: s.imports[:0]}
	if c.IsNull() {
		s.state = symtabLeavingTable
		return nil
	}
	if _, err := c.StepIn(); err != nil {
		return err
	}
	s.state = symtabAwaitingField
	return nil
}

// resume advances the reader. It returns false when the cursor needs data.
func (s *symtabReader) resume(c *Cursor, m *SymbolTableManager) (bool, error) {
	for {
		switch s.state {
		case symtabIdle:
			return true, nil

		case symtabAwaitingField:
			ev, err := c.NextValue()
			if err != nil || ev == EventNeedsData {
				return false, err
			}
			switch ev {
			case EventEndContainer:
				s.state = symtabLeavingTable
			case EventStartScalar, EventStartContainer:
				if err := s.onField(c); err != nil {
					return false, err
				}
			}

		case symtabOnImports:
			ev, err := c.FillValue()
			if err != nil || ev == EventNeedsData {
				return false, err
			}
			if ev == EventValueReady {
				tok, err := c.SymbolValue()
				if err != nil {
					return false, err
				}
				if fieldIs(tok, sidSymbolTable, symbolTableAnnotation) {
					s.mode = symtabAppend
				}
			}
			s.state = symtabAwaitingField

		case symtabReadingSymbols:
			ev, err := c.NextValue()
			if err != nil || ev == EventNeedsData {
				return false, err
			}
			switch {
			case ev == EventEndContainer:
				s.state = symtabLeavingSymbols
			case ev == EventStartScalar && c.Type() == StringType && !c.IsNull():
				s.state = symtabReadingSymbol
			case ev == EventStartScalar || ev == EventStartContainer:
				s.symbols = append(s.symbols, symbolSlot{})
			}

		case symtabReadingSymbol:
			ev, err := c.FillValue()
			if err != nil || ev == EventNeedsData {
				return false, err
			}
			slot := symbolSlot{}
			if ev == EventValueReady {
				text, err := c.StringValue()
				if err != nil {
					return false, err
				}
				slot = textSlot(text)
			}
			s.symbols = append(s.symbols, slot)
			s.state = symtabReadingSymbols

		case symtabReadingImports:
			ev, err := c.NextValue()
			if err != nil || ev == EventNeedsData {
				return false, err
			}
			switch {
			case ev == EventEndContainer:
				s.state = symtabLeavingImports
			case ev == EventStartContainer && c.Type() == StructType:
				if _, err := c.StepIn(); err != nil {
					return false, err
				}
				s.current = importSpec{version: 1}
				s.currentOK = false
				s.state = symtabReadingImport
			}

		case symtabReadingImport:
			ev, err := c.NextValue()
			if err != nil || ev == EventNeedsData {
				return false, err
			}
			if ev == EventEndContainer {
				if s.currentOK {
					s.imports = append(s.imports, s.current)
				}
				s.state = symtabLeavingImport
				continue
			}
			if ev != EventStartScalar || c.IsNull() {
				continue
			}
			name, _ := c.FieldName()
			switch {
			case fieldIs(name, sidName, "name") && c.Type() == StringType:
				s.state = symtabReadingImportName
			case fieldIs(name, sidVersion, "version") && c.Type() == IntType:
				s.state = symtabReadingImportVersion
			case fieldIs(name, sidMaxID, "max_id") && c.Type() == IntType:
				s.state = symtabReadingImportMaxID
			}

		case symtabReadingImportName, symtabReadingImportVersion, symtabReadingImportMaxID:
			ev, err := c.FillValue()
			if err != nil || ev == EventNeedsData {
				return false, err
			}
			if ev == EventValueReady {
				if err := s.readImportField(c); err != nil {
					return false, err
				}
			}
			s.state = symtabReadingImport

		case symtabLeavingSymbols, symtabLeavingImports:
			ev, err := c.StepOut()
			if err != nil || ev == EventNeedsData {
				return false, err
			}
			s.state = symtabAwaitingField

		case symtabLeavingImport:
			ev, err := c.StepOut()
			if err != nil || ev == EventNeedsData {
				return false, err
			}
			s.state = symtabReadingImports

		case symtabLeavingTable:
			if c.Depth() > 0 {
				ev, err := c.StepOut()
				if err != nil || ev == EventNeedsData {
					return false, err
				}
			}
			m.apply(s.mode, s.imports, s.symbols)
			s.state = symtabIdle
			return true, nil

		default:
			return false, malformed(c.Offset(), "symbol table reader in state %s", s.state)
		}
	}
}

func (s *symtabReader) onField(c *Cursor) error {
	name, _ := c.FieldName()
	switch {
	case fieldIs(name, sidSymbols, "symbols"):
		if s.seenSymbols {
			return malformed(c.HeaderStart(), "symbol table has more than one symbols field")
		}
		s.seenSymbols = true
		if c.Type() == ListType && !c.IsNull() {
			if _, err := c.StepIn(); err != nil {
				return err
			}
			s.state = symtabReadingSymbols
		}
	case fieldIs(name, sidImports, "imports"):
		if s.seenImports {
			return malformed(c.HeaderStart(), "symbol table has more than one imports field")
		}
		s.seenImports = true
		switch {
		case c.IsNull():
		case c.Type() == ListType:
			s.mode = symtabReplace
			if _, err := c.StepIn(); err != nil {
				return err
			}
			s.state = symtabReadingImports
		case c.Type() == SymbolType:
			s.state = symtabOnImports
		}
	}
	return nil
}

func (s *symtabReader) readImportField(c *Cursor) error {
	switch s.state {
	case symtabReadingImportName:
		name, err := c.StringValue()
		if err != nil {
			return err
		}
		s.current.name = name
		s.currentOK = name != "" && name != systemSymbolTableName
	case symtabReadingImportVersion:
		v, err := c.BigIntValue()
		if err != nil {
			return err
		}
		s.current.version = 1
		if v.IsInt64() && v.Int64() > 1 && v.Int64() <= math.MaxInt32 {
			s.current.version = v.Int64()
		}
	case symtabReadingImportMaxID:
		v, err := c.BigIntValue()
		if err != nil {
			return err
		}
		if v.Sign() < 0 || !v.IsInt64() || v.Int64() > math.MaxInt32 {
			return malformed(c.HeaderStart(), "import max_id %s is out of range", v)
		}
		s.current.maxID = v.Int64()
		s.current.hasMaxID = true
	}
	return nil
}
