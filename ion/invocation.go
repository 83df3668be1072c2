package ion

import "math"

// ============================================================
// E-expression arguments
// ============================================================

// FillInvocation reads the presence bitmap and argument extents of the
// invocation the cursor is positioned on. One marker per parameter is added
// to args: the byte range of the single expression, or of the group body.
// A delimited group's range stops before its end marker. Void arguments get
// an empty range.
//
// FillInvocation is resumable: on EventNeedsData args is left as it was and
// the call may be repeated. On EventValueReady ValueEnd returns the offset
// after the invocation.
func (c *Cursor) FillInvocation(m *Macro, bm *PresenceBitmap, args *MarkerList) (Event, error) {
	if c.state != stateBodyPending || !c.IsMacroInvocation() {
		return EventNeedsData, usage("FillInvocation", "not positioned on a macro invocation")
	}
	if err := bm.Init(m.Signature); err != nil {
		return EventNeedsData, err
	}
	base := args.Len()
	if c.valueEnd >= 0 {
		if ok, err := c.fill(c.valueEnd); !ok {
			return c.needsData(err)
		}
	}
	end, ok, err := c.scanArguments(c.valueStart, bm, args)
	if err != nil || !ok {
		args.Truncate(base)
		return c.unscannable(err)
	}
	if c.valueEnd >= 0 && end != c.valueEnd {
		args.Truncate(base)
		return EventNeedsData, malformed(c.valueStart, "invocation arguments end at %d, length prefix says %d", end, c.valueEnd)
	}
	c.valueEnd = end
	c.filled = true
	return EventValueReady, nil
}

// invocationAddress decodes the address of the invocation opcode td at p. It
// returns the offset of the first argument byte and, for length-prefixed
// invocations, the end of the arguments (otherwise -1).
func (c *Cursor) invocationAddress(p int64, td *TypeDescriptor) (addr uint64, q, end int64, ok bool, err error) {
	q = p + 1
	end = -1
	switch td.MacroForm {
	case MacroInline:
		addr = uint64(td.MacroID)
	case MacroExtended:
		v, next, ok, err := c.readFlexUIntAt(q)
		if err != nil || !ok {
			return 0, 0, 0, false, err
		}
		if v > math.MaxInt32>>4 {
			return 0, 0, 0, false, malformed(q, "macro address out of range")
		}
		addr = 64 + (uint64(td.MacroID) | v<<4)
		q = next
	case MacroSystem:
		if ok, err := c.need(q, 1); !ok {
			return 0, 0, 0, false, err
		}
		addr = uint64(c.at(q))
		q++
	case MacroPrefixed:
		v, next, ok, err := c.readFlexUIntAt(q)
		if err != nil || !ok {
			return 0, 0, 0, false, err
		}
		n, next2, ok, err := c.readFlexUIntAt(next)
		if err != nil || !ok {
			return 0, 0, 0, false, err
		}
		if n > math.MaxInt64/2 {
			return 0, 0, 0, false, malformed(next, "invocation length %d is too large", n)
		}
		addr = v
		q = next2
		end = q + int64(n)
	}
	if addr > math.MaxInt32 {
		return 0, 0, 0, false, malformed(p, "macro address %d out of range", addr)
	}
	return addr, q, end, true, nil
}

// scanArguments records the arguments of an invocation whose bitmap starts at
// q and returns the offset after the last argument. args may be nil when only
// the end is wanted.
func (c *Cursor) scanArguments(q int64, bm *PresenceBitmap, args *MarkerList) (int64, bool, error) {
	n := int64(bm.ByteSize())
	if ok, err := c.needScan(q, n); !ok {
		return 0, false, err
	}
	bm.Read(c.slice(q, q+n))
	if err := bm.Validate(); err != nil {
		return 0, false, malformed(q, "%v", err)
	}
	q += n
	for i, p := range bm.sig {
		var start, end int64
		switch bm.Get(i) {
		case PresenceVoid:
			start, end = q, q
		case PresenceExpression:
			var ok bool
			var err error
			if p.Encoding == EncodingTagged {
				start, end, ok, err = c.scanExpression(q)
			} else {
				start = q
				end, ok, err = c.scanTagless(q, p.Encoding)
			}
			if err != nil || !ok {
				return 0, false, err
			}
			q = end
		case PresenceGroup:
			length, next, ok, err := c.readFlexUIntAt(q)
			if err != nil || !ok {
				return 0, false, err
			}
			start = next
			switch {
			case length > 0:
				end = next + int64(length)
				if ok, err := c.needScan(start, int64(length)); !ok {
					return 0, false, err
				}
				q = end
			case p.Encoding != EncodingTagged:
				end = next
				q = next
			default:
				end, ok, err = c.scanDelimitedGroup(next)
				if err != nil || !ok {
					return 0, false, err
				}
				q = end + 1
			}
		}
		if args != nil {
			args.Add(Marker{Start: start, End: end})
		}
	}
	return q, true, nil
}

// scanDelimitedGroup returns the offset of the end marker of a delimited
// group of tagged expressions starting at p.
func (c *Cursor) scanDelimitedGroup(p int64) (int64, bool, error) {
	for {
		q, ok, err := c.skipPads(p)
		if err != nil || !ok {
			return 0, false, err
		}
		if c.at(q) == 0xF0 {
			return q, true, nil
		}
		_, end, ok, err := c.scanExpression(q)
		if err != nil || !ok {
			return 0, false, err
		}
		p = end
	}
}

// scanTagless returns the end of a tagless value of encoding enc at p.
func (c *Cursor) scanTagless(p int64, enc Encoding) (int64, bool, error) {
	w := int64(enc.FixedWidth())
	if w == 0 {
		if ok, err := c.needScan(p, 1); !ok {
			return 0, false, err
		}
		if w = int64(flexWidth(c.at(p))); w == 0 {
			return 0, false, malformed(p, "tagless %s is too large", enc)
		}
	}
	if ok, err := c.needScan(p, w); !ok {
		return 0, false, err
	}
	return p + w, true, nil
}

// skipPads returns the offset of the first byte at or after p that is not a
// NOP pad. That byte is buffered.
func (c *Cursor) skipPads(p int64) (int64, bool, error) {
	for {
		if ok, err := c.needScan(p, 1); !ok {
			return 0, false, err
		}
		td := Lookup(c.at(p), c.minor)
		if td.Kind != KindNOP {
			return p, true, nil
		}
		end, _, ok, err := c.readLength(p, td)
		if err != nil || !ok {
			return 0, false, err
		}
		p = end
	}
}

// scanExpression skips pads and returns the extent of the tagged value or
// invocation that follows.
func (c *Cursor) scanExpression(p int64) (start, end int64, ok bool, err error) {
	if start, ok, err = c.skipPads(p); err != nil || !ok {
		return 0, 0, false, err
	}
	end, ok, err = c.scanValue(start)
	return start, end, ok, err
}

// scanValue returns the end of the tagged value, annotated value or
// invocation whose header is at p. The bytes of the value are buffered.
func (c *Cursor) scanValue(p int64) (int64, bool, error) {
	if ok, err := c.needScan(p, 1); !ok {
		return 0, false, err
	}
	td := Lookup(c.at(p), c.minor)
	switch td.Kind {
	case KindInvalid:
		return 0, false, malformed(p, "invalid type descriptor 0x%02X", td.Byte)
	case KindIVM:
		return 0, false, malformed(p, "version marker is only valid at the top level")
	case KindDelimitedEnd:
		return 0, false, malformed(p, "unexpected delimited end marker")
	case KindMacro:
		return c.scanInvocation(p, td)
	case KindAnnotations:
		q, ok, err := c.skipAnnotations(p, td)
		if err != nil || !ok {
			return 0, false, err
		}
		if ok, err := c.needScan(q, 1); !ok {
			return 0, false, err
		}
		if inner := Lookup(c.at(q), c.minor); inner.Kind != KindValue {
			return 0, false, malformed(q, "annotations must wrap a value, found 0x%02X", inner.Byte)
		}
		return c.scanValue(q)
	}
	if td.IsDelimited {
		return c.scanContainerBody(p+1, td.FlexSymFields)
	}
	end, _, ok, err := c.readLength(p, td)
	if err != nil || !ok {
		return 0, false, err
	}
	if ok, err := c.needScan(p, end-p); !ok {
		return 0, false, err
	}
	return end, true, nil
}

// skipAnnotations returns the offset of the value after the 1.1 annotation
// sequence introduced by td at p.
func (c *Cursor) skipAnnotations(p int64, td *TypeDescriptor) (int64, bool, error) {
	q := p + 1
	switch td.AnnotationForm {
	case AnnotationsWrapper:
		// Only reachable for 1.0 input, which has no invocations.
		return 0, false, malformed(p, "annotation wrapper inside an invocation")
	case AnnotationsSID, AnnotationsFlexSym:
		for i := 0; i < td.AnnotationCount; i++ {
			var next int64
			var ok bool
			var err error
			if td.AnnotationForm == AnnotationsFlexSym {
				_, next, ok, err = c.readFlexSym(q)
			} else {
				_, next, ok, err = c.readFlexUIntAt(q)
			}
			if err != nil || !ok {
				return 0, false, err
			}
			q = next
		}
		return q, true, nil
	default:
		n, next, ok, err := c.readFlexUIntAt(q)
		if err != nil || !ok {
			return 0, false, err
		}
		return next + int64(n), true, nil
	}
}

// scanInvocation returns the end of the invocation with opcode td at p.
func (c *Cursor) scanInvocation(p int64, td *TypeDescriptor) (int64, bool, error) {
	addr, q, end, ok, err := c.invocationAddress(p, td)
	if err != nil || !ok {
		return 0, false, err
	}
	if end >= 0 {
		if ok, err := c.needScan(q, end-q); !ok {
			return 0, false, err
		}
		return end, true, nil
	}
	if c.resolver == nil {
		return 0, false, &UnknownMacroError{Address: int64(addr), System: td.MacroForm == MacroSystem}
	}
	m, err := c.resolver(int64(addr), td.MacroForm == MacroSystem)
	if err != nil {
		return 0, false, err
	}
	var bm PresenceBitmap
	if err := bm.Init(m.Signature); err != nil {
		return 0, false, err
	}
	return c.scanArguments(q, &bm, nil)
}

// scanContainerBody returns the offset after the end marker of the delimited
// container whose body starts at p.
func (c *Cursor) scanContainerBody(p int64, flexSym bool) (int64, bool, error) {
	for {
		q, ok, err := c.skipPads(p)
		if err != nil || !ok {
			return 0, false, err
		}
		if flexSym {
			if ok, err := c.needScan(q, 2); !ok {
				return 0, false, err
			}
			if c.at(q) == 0x01 && c.at(q+1) == 0xF0 {
				return q + 2, true, nil
			}
			_, next, ok, err := c.readFlexSym(q)
			if err != nil || !ok {
				return 0, false, err
			}
			if q, ok, err = c.skipPads(next); err != nil || !ok {
				return 0, false, err
			}
		} else if c.at(q) == 0xF0 {
			return q + 1, true, nil
		}
		end, ok, err := c.scanValue(q)
		if err != nil || !ok {
			return 0, false, err
		}
		p = end
	}
}

// scanCurrentEnd finds the end of the current value when its header does not
// carry a length: a delimited container or an invocation without a length
// prefix.
func (c *Cursor) scanCurrentEnd() (int64, bool, error) {
	switch {
	case c.td == nil:
		return c.peek, true, nil
	case c.td.IsMacroInvocation:
		return c.scanInvocation(c.valueHeader, c.td)
	case c.td.IsDelimited:
		return c.scanContainerBody(c.valueStart, c.td.FlexSymFields)
	}
	return c.valueEnd, true, nil
}
