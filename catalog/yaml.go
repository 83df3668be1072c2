package catalog

import (
	"encoding/hex"
	"io"
	"math/big"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/Neumenon/ionic/ion"
)

// Definitions holds shared tables and macros loaded from YAML.
//
//	tables:
//	  - name: fruit
//	    version: 2
//	    symbols: [apple, banana]
//	macros:
//	  - name: point
//	    params: [x, "y?"]
//	    body:
//	      - struct:
//	          lat: {var: x}
//	          lon: {var: y}
//
// A body expression is a plain scalar (int, float, bool, string or null) or a
// mapping with a single key: var, symbol, string, decimal, timestamp, blob,
// clob, null (type name), list, sexp, struct, group, invoke or annotate.
type Definitions struct {
	Tables []*ion.SharedTable
	Macros []*ion.Macro

	table *ion.MacroTable
}

type definitionsFile struct {
	Tables []tableDef `yaml:"tables"`
	Macros []macroDef `yaml:"macros"`
}

type tableDef struct {
	Name    string   `yaml:"name"`
	Version int      `yaml:"version"`
	Symbols []string `yaml:"symbols"`
}

type macroDef struct {
	Name   string      `yaml:"name"`
	Params []string    `yaml:"params"`
	Body   []yaml.Node `yaml:"body"`
}

// LoadDefinitionsFile reads definitions from a YAML file.
func LoadDefinitionsFile(path string) (*Definitions, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open definitions")
	}
	defer f.Close()
	defs, err := LoadDefinitions(f)
	return defs, errors.Wrapf(err, "load %s", path)
}

// LoadDefinitions decodes YAML definitions. Macros may invoke macros defined
// earlier in the same document.
func LoadDefinitions(r io.Reader) (*Definitions, error) {
	var file definitionsFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "decode yaml")
	}

	defs := &Definitions{}
	for _, td := range file.Tables {
		if td.Name == "" {
			return nil, errors.New("shared table without a name")
		}
		defs.Tables = append(defs.Tables, ion.NewSharedTable(td.Name, td.Version, td.Symbols))
	}

	p := &exprParser{macros: map[string]*ion.Macro{}}
	for _, md := range file.Macros {
		m, err := p.macro(md)
		if err != nil {
			return nil, errors.Wrapf(err, "macro %q", md.Name)
		}
		if _, dup := p.macros[m.Name]; dup {
			return nil, errors.Errorf("macro %q defined twice", m.Name)
		}
		p.macros[m.Name] = m
		defs.Macros = append(defs.Macros, m)
	}
	return defs, nil
}

// MacroTable returns the table holding the macros in definition order, so
// the first macro gets address 0. The table is built on the first call.
func (d *Definitions) MacroTable() (*ion.MacroTable, error) {
	if d.table == nil {
		t, err := ion.NewMacroTable(d.Macros...)
		if err != nil {
			return nil, err
		}
		d.table = t
	}
	return d.table, nil
}

// Register adds the shared tables to a Memory catalog.
func (d *Definitions) Register(m *Memory) {
	m.Add(d.Tables...)
}

// ============================================================
// Expressions
// ============================================================

type exprParser struct {
	macros map[string]*ion.Macro
}

func (p *exprParser) macro(md macroDef) (*ion.Macro, error) {
	if md.Name == "" {
		return nil, errors.New("macro without a name")
	}
	sig := make([]ion.Parameter, 0, len(md.Params))
	for _, s := range md.Params {
		param, err := ion.ParseParameter(s)
		if err != nil {
			return nil, err
		}
		sig = append(sig, param)
	}
	body := make([]ion.Expr, 0, len(md.Body))
	for i := range md.Body {
		e, err := p.expr(&md.Body[i])
		if err != nil {
			return nil, err
		}
		body = append(body, e)
	}
	return ion.NewMacro(md.Name, sig, body...)
}

func nodeError(n *yaml.Node, format string, args ...interface{}) error {
	return errors.Wrapf(errors.Errorf(format, args...), "line %d", n.Line)
}

func (p *exprParser) expr(n *yaml.Node) (ion.Expr, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		return scalarExpr(n)
	case yaml.MappingNode:
		if len(n.Content) != 2 {
			return ion.Expr{}, nodeError(n, "expression mapping must have exactly one key")
		}
		return p.tagged(n.Content[0].Value, n.Content[1])
	case yaml.AliasNode:
		return p.expr(n.Alias)
	default:
		return ion.Expr{}, nodeError(n, "unexpected yaml node")
	}
}

func scalarExpr(n *yaml.Node) (ion.Expr, error) {
	switch n.ShortTag() {
	case "!!null":
		return ion.LitNull(ion.NullType), nil
	case "!!bool":
		v, err := strconv.ParseBool(n.Value)
		if err != nil {
			return ion.Expr{}, nodeError(n, "bad bool %q", n.Value)
		}
		return ion.LitBool(v), nil
	case "!!int":
		if v, err := strconv.ParseInt(n.Value, 0, 64); err == nil {
			return ion.LitInt(v), nil
		}
		v, ok := new(big.Int).SetString(n.Value, 0)
		if !ok {
			return ion.Expr{}, nodeError(n, "bad int %q", n.Value)
		}
		return ion.LitBigInt(v), nil
	case "!!float":
		var v float64
		if err := n.Decode(&v); err != nil {
			return ion.Expr{}, nodeError(n, "bad float %q", n.Value)
		}
		return ion.LitFloat(v), nil
	default:
		return ion.LitString(n.Value), nil
	}
}

func (p *exprParser) tagged(tag string, v *yaml.Node) (ion.Expr, error) {
	switch tag {
	case "var":
		return ion.Var(v.Value), nil
	case "symbol":
		return ion.LitSymbol(v.Value), nil
	case "string":
		return ion.LitString(v.Value), nil
	case "decimal":
		d, err := ion.ParseDecimal(v.Value)
		if err != nil {
			return ion.Expr{}, nodeError(v, "%v", err)
		}
		return ion.LitDecimal(d), nil
	case "timestamp":
		ts, err := ion.ParseTimestamp(v.Value)
		if err != nil {
			return ion.Expr{}, nodeError(v, "%v", err)
		}
		return ion.LitTimestamp(ts), nil
	case "blob":
		b, err := hex.DecodeString(v.Value)
		if err != nil {
			return ion.Expr{}, nodeError(v, "blob must be hex: %v", err)
		}
		return ion.LitBlob(b), nil
	case "clob":
		return ion.LitClob([]byte(v.Value)), nil
	case "null":
		t, ok := typeNames[v.Value]
		if !ok {
			return ion.Expr{}, nodeError(v, "unknown type %q", v.Value)
		}
		return ion.LitNull(t), nil
	case "list", "sexp", "group":
		elems, err := p.sequence(v)
		if err != nil {
			return ion.Expr{}, err
		}
		switch tag {
		case "list":
			return ion.List(elems...), nil
		case "sexp":
			return ion.Sexp(elems...), nil
		default:
			return ion.Group(elems...), nil
		}
	case "struct":
		if v.Kind != yaml.MappingNode {
			return ion.Expr{}, nodeError(v, "struct needs a mapping")
		}
		fields := make([]ion.Expr, 0, len(v.Content)/2)
		for i := 0; i+1 < len(v.Content); i += 2 {
			e, err := p.expr(v.Content[i+1])
			if err != nil {
				return ion.Expr{}, err
			}
			fields = append(fields, ion.Field(v.Content[i].Value, e))
		}
		return ion.Struct(fields...), nil
	case "invoke":
		var call struct {
			Macro string      `yaml:"macro"`
			Args  []yaml.Node `yaml:"args"`
		}
		if err := v.Decode(&call); err != nil {
			return ion.Expr{}, nodeError(v, "%v", err)
		}
		m, ok := p.macros[call.Macro]
		if !ok {
			return ion.Expr{}, nodeError(v, "macro %q is not defined yet", call.Macro)
		}
		args := make([]ion.Expr, 0, len(call.Args))
		for i := range call.Args {
			e, err := p.expr(&call.Args[i])
			if err != nil {
				return ion.Expr{}, err
			}
			args = append(args, e)
		}
		return ion.Invoke(m, args...), nil
	case "annotate":
		var ann struct {
			With  []string  `yaml:"with"`
			Value yaml.Node `yaml:"value"`
		}
		if err := v.Decode(&ann); err != nil {
			return ion.Expr{}, nodeError(v, "%v", err)
		}
		e, err := p.expr(&ann.Value)
		if err != nil {
			return ion.Expr{}, err
		}
		return ion.Annotate(e, ann.With...), nil
	default:
		return ion.Expr{}, nodeError(v, "unknown expression %q", tag)
	}
}

func (p *exprParser) sequence(v *yaml.Node) ([]ion.Expr, error) {
	if v.Kind != yaml.SequenceNode {
		return nil, nodeError(v, "expected a sequence")
	}
	out := make([]ion.Expr, 0, len(v.Content))
	for _, c := range v.Content {
		e, err := p.expr(c)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

var typeNames = func() map[string]ion.Type {
	m := map[string]ion.Type{}
	for t := ion.NullType; t <= ion.StructType; t++ {
		m[t.String()] = t
	}
	return m
}()
