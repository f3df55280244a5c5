/*
 * PS/2 ESDI adapter emulator - Configuration file parser
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

package configparser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

/* Configuration file format:
 *
 * '#' indicates comment, rest of line is ignored.
 * <line> ::= <model> <whitespace> <number> *(<whitespace> <option>)
 * <model> ::= <string>
 * <option> ::= <string> | <string> '=' <quoteopt>
 * <quoteopt> ::= <string> | '"' *(<letter> | <whitespace>) '"'
 *
 * For example:
 *
 *   # primary adapter in slot 3 with two drives
 *   esdi  0  slot=3 rom="roms/esdi.bin"
 *   drive 0  adapter=0 file=disk0.img spt=17 heads=4 tracks=615
 *   drive 1  adapter=0 file=disk1.img spt=17 heads=4 tracks=615
 */

// Single option on a config line, bare or name=value.
type Option struct {
	Name     string
	EqualOpt string
}

// One parsed config line: model keyword, unit number, options.
type Stanza struct {
	Model   string
	Number  int
	Options []Option
	Line    int // Source line, for error reporting
}

// Find an option by name. Names compare case insensitively.
func (st *Stanza) Option(name string) (Option, bool) {
	for _, opt := range st.Options {
		if strings.EqualFold(opt.Name, name) {
			return opt, true
		}
	}
	return Option{}, false
}

// String value of an option, or the given default when absent.
func (st *Stanza) String(name string, def string) string {
	if opt, ok := st.Option(name); ok {
		return opt.EqualOpt
	}
	return def
}

// Integer value of an option, or the given default when absent.
func (st *Stanza) Int(name string, def int) (int, error) {
	opt, ok := st.Option(name)
	if !ok {
		return def, nil
	}
	value, err := strconv.Atoi(opt.EqualOpt)
	if err != nil {
		return 0, fmt.Errorf("line %d: option %s: %w", st.Line, name, err)
	}
	return value, nil
}

// Parse a configuration file by name.
func LoadFile(fileName string) ([]Stanza, error) {
	file, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return Parse(file)
}

// Parse configuration lines from a reader.
func Parse(rdr io.Reader) ([]Stanza, error) {
	var stanzas []Stanza

	scanner := bufio.NewScanner(rdr)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields, err := splitFields(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNumber, err)
		}
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("line %d: expected model and unit number", lineNumber)
		}
		number, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: bad unit number %q", lineNumber, fields[1])
		}
		st := Stanza{
			Model:  strings.ToLower(fields[0]),
			Number: number,
			Line:   lineNumber,
		}
		for _, field := range fields[2:] {
			name, value, _ := strings.Cut(field, "=")
			st.Options = append(st.Options, Option{Name: name, EqualOpt: value})
		}
		stanzas = append(stanzas, st)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return stanzas, nil
}

// Split a line on whitespace, honoring double quotes after an equals
// sign so file names may contain spaces.
func splitFields(line string) ([]string, error) {
	var fields []string
	var cur strings.Builder
	inQuote := false

	flush := func() {
		if cur.Len() > 0 {
			fields = append(fields, cur.String())
			cur.Reset()
		}
	}

	for _, ch := range line {
		switch {
		case ch == '"':
			inQuote = !inQuote
		case !inQuote && (ch == ' ' || ch == '\t'):
			flush()
		default:
			cur.WriteRune(ch)
		}
	}
	if inQuote {
		return nil, errors.New("unterminated quote")
	}
	flush()
	return fields, nil
}
