// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package query

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/cubefs/entitydb/errors"
	"github.com/cubefs/entitydb/proto"
)

type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokOp
	tokComma
	tokLParen
	tokRParen
	tokStar
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) keyword(kw string) bool {
	return t.kind == tokIdent && strings.EqualFold(t.text, kw)
}

func lex(ql string) ([]token, error) {
	var tokens []token
	rs := []rune(ql)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == ',':
			tokens = append(tokens, token{kind: tokComma, text: ",", pos: i})
			i++
		case r == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++
		case r == '*':
			tokens = append(tokens, token{kind: tokStar, text: "*", pos: i})
			i++
		case r == '=' || r == '<' || r == '>':
			start := i
			i++
			if i < len(rs) && rs[i] == '=' && r != '=' {
				i++
			}
			tokens = append(tokens, token{kind: tokOp, text: string(rs[start:i]), pos: start})
		case r == '\'' || r == '"':
			start := i
			var sb strings.Builder
			i++
			closed := false
			for i < len(rs) {
				if rs[i] == '\\' && i+1 < len(rs) {
					sb.WriteRune(rs[i+1])
					i += 2
					continue
				}
				if rs[i] == r {
					closed = true
					i++
					break
				}
				sb.WriteRune(rs[i])
				i++
			}
			if !closed {
				return nil, errors.Wrap(errors.ErrInvalidQuery, "unterminated string at %d", start)
			}
			tokens = append(tokens, token{kind: tokString, text: sb.String(), pos: start})
		case unicode.IsDigit(r) || ((r == '-' || r == '.') && i+1 < len(rs) && (unicode.IsDigit(rs[i+1]) || rs[i+1] == '.')):
			start := i
			i++
			for i < len(rs) && (unicode.IsDigit(rs[i]) || strings.ContainsRune(".eE+-", rs[i])) {
				if (rs[i] == '+' || rs[i] == '-') && rs[i-1] != 'e' && rs[i-1] != 'E' {
					break
				}
				i++
			}
			// a uuid or name starting with digits lexes as an identifier
			if i < len(rs) && isIdentRune(rs[i]) {
				for i < len(rs) && isIdentRune(rs[i]) {
					i++
				}
				tokens = append(tokens, token{kind: tokIdent, text: string(rs[start:i]), pos: start})
				continue
			}
			tokens = append(tokens, token{kind: tokNumber, text: string(rs[start:i]), pos: start})
		case isIdentRune(r):
			start := i
			for i < len(rs) && isIdentRune(rs[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokIdent, text: string(rs[start:i]), pos: start})
		default:
			return nil, errors.Wrap(errors.ErrInvalidQuery, "unexpected %q at %d", r, i)
		}
	}
	return append(tokens, token{kind: tokEOF, pos: len(rs)}), nil
}

func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.' || r == '-' || r == '$'
}

type parser struct {
	tokens []token
	pos    int
	q      *Query
}

// Parse reads the query language:
//
//	[select * | p1,p2] [where] p op v [and ...] [order by p [asc|desc], ...]
//
// with op one of = eq < lt <= lte > gt >= gte, "in (v1, v2)", "contains v"
// and "within meters of lat,lon".
func Parse(ql string) (*Query, error) {
	tokens, err := lex(ql)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens, q: New()}
	if err = p.parse(); err != nil {
		return nil, err
	}
	return p.q, nil
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(t token, format string, args ...interface{}) error {
	return errors.Wrap(errors.ErrInvalidQuery, "at %d: "+format, append([]interface{}{t.pos}, args...)...)
}

func (p *parser) parse() error {
	if p.peek().keyword("select") {
		p.next()
		if err := p.parseSelect(); err != nil {
			return err
		}
	}
	if p.peek().keyword("where") {
		p.next()
	}
	if p.peek().kind == tokIdent && !p.peek().keyword("order") {
		if err := p.parsePredicates(); err != nil {
			return err
		}
	}
	if p.peek().keyword("order") {
		p.next()
		if t := p.next(); !t.keyword("by") {
			return p.errorf(t, "expected by")
		}
		if err := p.parseSorts(); err != nil {
			return err
		}
	}
	if t := p.peek(); t.kind != tokEOF {
		return p.errorf(t, "unexpected %q", t.text)
	}
	return nil
}

func (p *parser) parseSelect() error {
	if p.peek().kind == tokStar {
		p.next()
		return nil
	}
	for {
		t := p.next()
		if t.kind != tokIdent {
			return p.errorf(t, "expected property name")
		}
		p.q.Select = append(p.q.Select, t.text)
		if p.peek().kind != tokComma {
			return nil
		}
		p.next()
	}
}

func (p *parser) parsePredicates() error {
	for {
		if err := p.parsePredicate(); err != nil {
			return err
		}
		t := p.peek()
		switch {
		case t.keyword("and"):
			p.next()
		case t.keyword("or"), t.keyword("not"):
			return p.errorf(t, "%s is not supported", strings.ToLower(t.text))
		default:
			return nil
		}
	}
}

var wordOperators = map[string]Operator{
	"=": OpEqual, "eq": OpEqual,
	"<": OpLess, "lt": OpLess,
	"<=": OpLessEqual, "lte": OpLessEqual,
	">": OpGreater, "gt": OpGreater,
	">=": OpGreaterEqual, "gte": OpGreaterEqual,
}

func (p *parser) parsePredicate() error {
	name := p.next()
	if name.kind != tokIdent {
		return p.errorf(name, "expected property name")
	}
	opTok := p.next()
	if op, ok := wordOperators[strings.ToLower(opTok.text)]; ok && (opTok.kind == tokOp || opTok.kind == tokIdent) {
		v, err := p.parseValue()
		if err != nil {
			return err
		}
		p.q.add(Filter{Property: name.text, Op: op, Value: v})
		return nil
	}
	switch {
	case opTok.keyword("in"):
		if t := p.next(); t.kind != tokLParen {
			return p.errorf(t, "expected (")
		}
		var values []proto.Value
		for {
			v, err := p.parseValue()
			if err != nil {
				return err
			}
			values = append(values, v)
			t := p.next()
			if t.kind == tokRParen {
				break
			}
			if t.kind != tokComma {
				return p.errorf(t, "expected , or )")
			}
		}
		p.q.In(name.text, values...)
	case opTok.keyword("contains"):
		v, err := p.parseValue()
		if err != nil {
			return err
		}
		s, ok := v.AsString()
		if !ok {
			s = v.String()
		}
		p.q.Contains(name.text, s)
	case opTok.keyword("within"):
		dist, err := p.parseNumber()
		if err != nil {
			return err
		}
		if t := p.next(); !t.keyword("of") {
			return p.errorf(t, "expected of")
		}
		lat, err := p.parseNumber()
		if err != nil {
			return err
		}
		if t := p.next(); t.kind != tokComma {
			return p.errorf(t, "expected ,")
		}
		lon, err := p.parseNumber()
		if err != nil {
			return err
		}
		if p.q.Geo != nil {
			return p.errorf(opTok, "only one within clause is supported")
		}
		if dist <= 0 || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			return p.errorf(opTok, "within %g of %g,%g is out of range", dist, lat, lon)
		}
		p.q.Within(name.text, dist, lat, lon)
	default:
		return p.errorf(opTok, "unknown operator %q", opTok.text)
	}
	return nil
}

func (p *parser) parseNumber() (float64, error) {
	t := p.next()
	if t.kind != tokNumber {
		return 0, p.errorf(t, "expected number")
	}
	f, err := strconv.ParseFloat(t.text, 64)
	if err != nil {
		return 0, p.errorf(t, "bad number %q", t.text)
	}
	return f, nil
}

func (p *parser) parseValue() (proto.Value, error) {
	t := p.next()
	switch t.kind {
	case tokString:
		return proto.String(t.text), nil
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return proto.Null(), p.errorf(t, "bad number %q", t.text)
		}
		return proto.Number(f), nil
	case tokIdent:
		switch strings.ToLower(t.text) {
		case "true":
			return proto.Bool(true), nil
		case "false":
			return proto.Bool(false), nil
		case "null":
			return proto.Null(), nil
		}
		if len(t.text) == 36 {
			if id, err := uuid.Parse(t.text); err == nil {
				return proto.UUID(id), nil
			}
		}
		return proto.String(t.text), nil
	case tokStar:
		return proto.String("*"), nil
	}
	return proto.Null(), p.errorf(t, "expected value")
}

func (p *parser) parseSorts() error {
	for {
		t := p.next()
		if t.kind != tokIdent {
			return p.errorf(t, "expected property name")
		}
		s := Sort{Property: t.text}
		switch {
		case p.peek().keyword("asc"):
			p.next()
		case p.peek().keyword("desc"):
			p.next()
			s.Direction = Descending
		}
		p.q.Sorts = append(p.q.Sorts, s)
		if p.peek().kind != tokComma {
			return nil
		}
		p.next()
	}
}
