package dialect

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/aevon-lab/insight/internal/core/model"
)

var scalarTypes = map[string]model.DataType{
	"varchar":           model.TypeString,
	"char":              model.TypeString,
	"character":         model.TypeString,
	"character varying": model.TypeString,
	"nvarchar":          model.TypeString,
	"nchar":             model.TypeString,
	"text":              model.TypeString,
	"tinytext":          model.TypeString,
	"mediumtext":        model.TypeString,
	"longtext":          model.TypeString,
	"string":            model.TypeString,
	"clob":              model.TypeString,
	"citext":            model.TypeString,
	"name":              model.TypeString,
	"uuid":              model.TypeString,
	"json":              model.TypeString,
	"jsonb":             model.TypeString,
	"enum":              model.TypeString,
	"set":               model.TypeString,
	"ipaddress":         model.TypeString,

	"tinyint":          model.TypeNumber,
	"smallint":         model.TypeNumber,
	"mediumint":        model.TypeNumber,
	"int":              model.TypeNumber,
	"integer":          model.TypeNumber,
	"bigint":           model.TypeNumber,
	"hugeint":          model.TypeNumber,
	"utinyint":         model.TypeNumber,
	"usmallint":        model.TypeNumber,
	"uinteger":         model.TypeNumber,
	"ubigint":          model.TypeNumber,
	"uhugeint":         model.TypeNumber,
	"long":             model.TypeNumber,
	"short":            model.TypeNumber,
	"byte":             model.TypeNumber,
	"real":             model.TypeNumber,
	"float":            model.TypeNumber,
	"double":           model.TypeNumber,
	"double precision": model.TypeNumber,
	"decimal":          model.TypeNumber,
	"numeric":          model.TypeNumber,
	"number":           model.TypeNumber,
	"serial":           model.TypeNumber,
	"bigserial":        model.TypeNumber,
	"smallserial":      model.TypeNumber,

	"bool":    model.TypeBool,
	"boolean": model.TypeBool,

	"date":          model.TypeDatetime,
	"datetime":      model.TypeDatetime,
	"timestamp":     model.TypeDatetime,
	"timestamptz":   model.TypeDatetime,
	"timestamp_ntz": model.TypeDatetime,
	"timestamp_ltz": model.TypeDatetime,

	"array": model.TypeArray,
}

func scalarType(name string) (model.DataType, bool) {
	if t, ok := scalarTypes[name]; ok {
		return t, true
	}
	switch {
	case strings.HasPrefix(name, "timestamp"), strings.HasPrefix(name, "datetime"):
		return model.TypeDatetime, true
	case strings.HasPrefix(name, "int"), strings.HasPrefix(name, "uint"), strings.HasPrefix(name, "float"):
		return model.TypeNumber, true
	}
	return "", false
}

// parseNativeType parses engine type strings into a type shape, recursing into
// compound types in any of the common spellings:
//
//	struct<a:int,b:string>      row(a integer, b varchar)   STRUCT(a INTEGER, b VARCHAR)
//	map<string,int>             map(varchar, integer)       MAP(VARCHAR, INTEGER)
//	array<string>               array(varchar)              VARCHAR[]
func parseNativeType(native string) (model.Field, error) {
	p := &typeParser{src: native}
	f, err := p.parseType()
	if err != nil {
		return model.Field{}, &model.TypeMappingError{NativeType: native}
	}
	p.skipSpace()
	if !p.done() {
		return model.Field{}, &model.TypeMappingError{NativeType: native}
	}
	return f, nil
}

type typeParser struct {
	src string
	pos int
}

func (p *typeParser) done() bool { return p.pos >= len(p.src) }

func (p *typeParser) peek() byte {
	if p.done() {
		return 0
	}
	return p.src[p.pos]
}

func (p *typeParser) skipSpace() {
	for !p.done() && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

// readWords reads a possibly multi-word type name such as "double precision".
func (p *typeParser) readWords() string {
	start := p.pos
	for !p.done() && !strings.ContainsRune("<>()[],:", rune(p.src[p.pos])) {
		p.pos++
	}
	return strings.Join(strings.Fields(strings.ToLower(p.src[start:p.pos])), " ")
}

// readIdent reads a struct member name, quoted or bare.
func (p *typeParser) readIdent() (string, error) {
	p.skipSpace()
	if q := p.peek(); q == '"' || q == '`' {
		p.pos++
		start := p.pos
		for !p.done() && p.src[p.pos] != q {
			p.pos++
		}
		if p.done() {
			return "", fmt.Errorf("unterminated identifier")
		}
		name := p.src[start:p.pos]
		p.pos++
		return name, nil
	}
	start := p.pos
	for !p.done() && !unicode.IsSpace(rune(p.src[p.pos])) && !strings.ContainsRune("<>()[],:", rune(p.src[p.pos])) {
		p.pos++
	}
	if start == p.pos {
		return "", fmt.Errorf("expected identifier at %d", p.pos)
	}
	return p.src[start:p.pos], nil
}

// open consumes '<' or '(' and returns the matching closer.
func (p *typeParser) open() (byte, bool) {
	p.skipSpace()
	switch p.peek() {
	case '<':
		p.pos++
		return '>', true
	case '(':
		p.pos++
		return ')', true
	}
	return 0, false
}

func (p *typeParser) expect(c byte) error {
	p.skipSpace()
	if p.peek() != c {
		return fmt.Errorf("expected %q at %d", c, p.pos)
	}
	p.pos++
	return nil
}

func (p *typeParser) skipBalanced() error {
	depth := 0
	for !p.done() {
		switch p.src[p.pos] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				p.pos++
				return nil
			}
		}
		p.pos++
	}
	return fmt.Errorf("unbalanced parentheses")
}

func (p *typeParser) parseType() (model.Field, error) {
	p.skipSpace()
	name := p.readWords()
	if name == "" {
		return model.Field{}, fmt.Errorf("expected type at %d", p.pos)
	}

	var f model.Field
	switch {
	case name == "struct" || name == "row":
		closer, ok := p.open()
		if !ok {
			return model.Field{}, fmt.Errorf("%s without members", name)
		}
		members, err := p.parseMembers(closer)
		if err != nil {
			return model.Field{}, err
		}
		f = model.Field{Type: model.TypeStruct, Fields: members}
	case name == "map":
		closer, ok := p.open()
		if !ok {
			return model.Field{}, fmt.Errorf("map without key and value types")
		}
		if _, err := p.parseType(); err != nil {
			return model.Field{}, err
		}
		if err := p.expect(','); err != nil {
			return model.Field{}, err
		}
		value, err := p.parseType()
		if err != nil {
			return model.Field{}, err
		}
		if err := p.expect(closer); err != nil {
			return model.Field{}, err
		}
		f = model.Field{Type: model.TypeMap, ValueType: value.Type}
	case name == "array" && (p.peekSkip() == '<' || p.peekSkip() == '('):
		closer, _ := p.open()
		elem, err := p.parseType()
		if err != nil {
			return model.Field{}, err
		}
		if err := p.expect(closer); err != nil {
			return model.Field{}, err
		}
		f = model.Field{Type: model.TypeArray, ValueType: elem.Type}
	default:
		// parameters such as decimal(10,2) or timestamp(3) with time zone
		if p.peekSkip() == '(' {
			if err := p.skipBalanced(); err != nil {
				return model.Field{}, err
			}
			if rest := p.readWords(); rest != "" {
				name += " " + rest
			}
		}
		typ, ok := scalarType(name)
		if !ok {
			return model.Field{}, fmt.Errorf("unknown type %q", name)
		}
		f = model.Field{Type: typ}
	}

	// list suffix: VARCHAR[] or INTEGER[3]
	for p.peekSkip() == '[' {
		for !p.done() && p.src[p.pos] != ']' {
			p.pos++
		}
		if err := p.expect(']'); err != nil {
			return model.Field{}, err
		}
		f = model.Field{Type: model.TypeArray, ValueType: f.Type}
	}
	return f, nil
}

func (p *typeParser) peekSkip() byte {
	p.skipSpace()
	return p.peek()
}

func (p *typeParser) parseMembers(closer byte) ([]model.Field, error) {
	var members []model.Field
	for {
		name, err := p.readIdent()
		if err != nil {
			return nil, err
		}
		if p.peekSkip() == ':' {
			p.pos++
		}
		member, err := p.parseType()
		if err != nil {
			return nil, err
		}
		member.Name = name
		members = append(members, member)

		switch p.peekSkip() {
		case ',':
			p.pos++
		case closer:
			p.pos++
			return members, nil
		default:
			return nil, fmt.Errorf("expected ',' or %q at %d", closer, p.pos)
		}
	}
}
