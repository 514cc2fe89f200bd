/*
   Copyright 2020 YANDEX LLC

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package pgstrict

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// typeParserQuery resolves requested type names to their scalar and array
// OIDs in the backend catalog
const typeParserQuery = `SELECT oid, typarray, typname FROM pg_type WHERE typname = ANY($1::text[])`

// typeRegistry holds per-OID decoders resolved against one backend.
// It is populated at most once per Driver and immutable afterwards.
type typeRegistry struct {
	parsers map[uint32]func(string) (any, error)
	typeMap *pgtype.Map
}

func newTypeRegistry() *typeRegistry {
	return &typeRegistry{
		parsers: make(map[uint32]func(string) (any, error)),
		typeMap: pgtype.NewMap(),
	}
}

// resolveTypeParsers looks up every requested type name in the backend
// catalog and installs decoders under the scalar OID and, when present,
// the array OID. A name with no catalog row fails driver bring-up.
func resolveTypeParsers(ctx context.Context, conn wireConn, parsers []TypeParser) (*typeRegistry, error) {
	registry := newTypeRegistry()
	if len(parsers) == 0 {
		return registry, nil
	}

	names := make([]string, len(parsers))
	for i, p := range parsers {
		names[i] = p.Name
	}

	rows, err := conn.Query(ctx, typeParserQuery, names)
	if err != nil {
		return nil, fmt.Errorf("resolve type parsers: %w", err)
	}
	defer rows.Close()

	type catalogType struct {
		oid      uint32
		arrayOID uint32
	}

	found := make(map[string]catalogType, len(parsers))
	for rows.Next() {
		var t catalogType
		var name string
		if err := rows.Scan(&t.oid, &t.arrayOID, &name); err != nil {
			return nil, fmt.Errorf("resolve type parsers: %w", err)
		}
		found[name] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("resolve type parsers: %w", err)
	}

	for _, p := range parsers {
		t, ok := found[p.Name]
		if !ok {
			return nil, fmt.Errorf("type parser %q refers to a type missing from the backend catalog", p.Name)
		}

		registry.parsers[t.oid] = p.Parse
		if t.arrayOID != 0 {
			registry.parsers[t.arrayOID] = arrayParser(p.Parse)
		}
	}

	return registry, nil
}

// decode turns the raw wire value of one column into its decoded form.
// Installed parsers take precedence; unnamed OIDs go through the default
// type map, and OIDs unknown even there decode as plain text.
func (r *typeRegistry) decode(oid uint32, raw []byte) (any, error) {
	if raw == nil {
		return nil, nil
	}
	if parse, ok := r.parsers[oid]; ok {
		return parse(string(raw))
	}
	if dt, ok := r.typeMap.TypeForOID(oid); ok {
		return dt.Codec.DecodeValue(r.typeMap, oid, pgtype.TextFormatCode, raw)
	}
	return string(raw), nil
}

// decodeRow maps one wire row into a Row keyed by column name
func (r *typeRegistry) decodeRow(fields []Field, raw [][]byte) (Row, error) {
	row := make(Row, len(fields))
	for i, f := range fields {
		if i >= len(raw) {
			break
		}
		v, err := r.decode(f.DataTypeOID, raw[i])
		if err != nil {
			return nil, fmt.Errorf("decode column %q: %w", f.Name, err)
		}
		row[f.Name] = v
	}
	return row, nil
}

// arrayParser decodes the backend array literal into a slice, mapping
// every element through the scalar parser. Sub-arrays recurse.
func arrayParser(parse func(string) (any, error)) func(string) (any, error) {
	var decode func(string) (any, error)
	decode = func(value string) (any, error) {
		elements, err := parseArrayLiteral(value)
		if err != nil {
			return nil, err
		}

		out := make([]any, len(elements))
		for i, e := range elements {
			switch {
			case e.null:
				// absent element stays nil
			case e.sub:
				v, err := decode(e.text)
				if err != nil {
					return nil, err
				}
				out[i] = v
			default:
				v, err := parse(e.text)
				if err != nil {
					return nil, err
				}
				out[i] = v
			}
		}
		return out, nil
	}
	return decode
}

// arrayElement is one raw element of an array literal
type arrayElement struct {
	text string
	null bool
	sub  bool
}

// parseArrayLiteral splits the text representation of a backend array into
// raw element strings. Quoted elements may contain commas, braces and
// backslash escapes; an unquoted NULL keyword denotes an absent element.
func parseArrayLiteral(value string) ([]arrayElement, error) {
	s := strings.TrimSpace(value)
	if len(s) < 2 || s[0] != '{' || s[len(s)-1] != '}' {
		return nil, fmt.Errorf("malformed array literal %q", value)
	}

	body := s[1 : len(s)-1]
	if body == "" {
		return nil, nil
	}

	var elements []arrayElement
	i := 0
	for {
		switch body[i] {
		case '"':
			text, next, err := readQuoted(body, i)
			if err != nil {
				return nil, fmt.Errorf("malformed array literal %q", value)
			}
			elements = append(elements, arrayElement{text: text})
			i = next
		case '{':
			text, next, err := readSubArray(body, i)
			if err != nil {
				return nil, fmt.Errorf("malformed array literal %q", value)
			}
			elements = append(elements, arrayElement{text: text, sub: true})
			i = next
		default:
			j := i
			for j < len(body) && body[j] != ',' {
				j++
			}
			text := body[i:j]
			if text == "NULL" {
				elements = append(elements, arrayElement{null: true})
			} else {
				elements = append(elements, arrayElement{text: text})
			}
			i = j
		}

		if i == len(body) {
			return elements, nil
		}
		if body[i] != ',' || i+1 == len(body) {
			return nil, fmt.Errorf("malformed array literal %q", value)
		}
		i++
	}
}

// readQuoted consumes one double-quoted element starting at the opening
// quote and returns its unescaped text and the index past the closing quote
func readQuoted(body string, start int) (string, int, error) {
	var b strings.Builder
	i := start + 1
	for i < len(body) {
		switch body[i] {
		case '\\':
			if i+1 == len(body) {
				return "", 0, fmt.Errorf("unterminated escape")
			}
			b.WriteByte(body[i+1])
			i += 2
		case '"':
			return b.String(), i + 1, nil
		default:
			b.WriteByte(body[i])
			i++
		}
	}
	return "", 0, fmt.Errorf("unterminated quoted element")
}

// readSubArray consumes one balanced {...} element, honoring quoting, and
// returns its raw text and the index past the closing brace
func readSubArray(body string, start int) (string, int, error) {
	depth := 0
	quoted := false
	for i := start; i < len(body); i++ {
		c := body[i]
		if quoted {
			if c == '\\' {
				i++
			} else if c == '"' {
				quoted = false
			}
			continue
		}
		switch c {
		case '"':
			quoted = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return body[start : i+1], i + 1, nil
			}
		}
	}
	return "", 0, fmt.Errorf("unterminated sub-array")
}
