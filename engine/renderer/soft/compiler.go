package soft

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

const bytecodeMagic = "SOFTBC\x00"

var profilePattern = regexp.MustCompile(`^(vs|ps)_6_[0-7]$`)

// Compiler checks HLSL for balanced delimiters, terminated comments and strings and the
// presence of the entry point. Diagnostics follow the "file:line:col: error: msg" layout.
type Compiler struct{}

func (Compiler) Compile(source []byte, name string, entryPoint string, profile string) ([]byte, error) {
	if !profilePattern.MatchString(profile) {
		return nil, &gpu.CompileError{Name: name, Diagnostic: fmt.Sprintf("%s: error: invalid target profile '%s'", name, profile)}
	}
	if diag := checkSyntax(source, name); diag != "" {
		return nil, &gpu.CompileError{Name: name, Diagnostic: diag}
	}
	entry := regexp.MustCompile(`\b` + regexp.QuoteMeta(entryPoint) + `\s*\(`)
	if !entry.Match(stripComments(source)) {
		return nil, &gpu.CompileError{Name: name, Diagnostic: fmt.Sprintf("%s: error: missing entry point function '%s'", name, entryPoint)}
	}

	var bc bytes.Buffer
	bc.WriteString(bytecodeMagic)
	bc.WriteString(profile)
	bc.WriteByte(0)
	bc.WriteString(entryPoint)
	bc.WriteByte(0)
	bc.Write(source)
	return bc.Bytes(), nil
}

func checkBytecode(bc []byte, stage string) error {
	if len(bc) == 0 {
		return fmt.Errorf("empty bytecode")
	}
	if !bytes.HasPrefix(bc, []byte(bytecodeMagic)) {
		return nil
	}
	if !bytes.HasPrefix(bc[len(bytecodeMagic):], []byte(stage)) {
		return fmt.Errorf("bytecode was not compiled for a %s profile", strings.TrimSuffix(stage, "_"))
	}
	return nil
}

type position struct {
	line, col int
	ch        byte
}

func checkSyntax(src []byte, name string) string {
	closing := map[byte]byte{')': '(', ']': '[', '}': '{'}
	var stack []position
	line, col := 1, 0
	errorf := func(l, c int, format string, args ...interface{}) string {
		return fmt.Sprintf("%s:%d:%d: error: %s", name, l, c, fmt.Sprintf(format, args...))
	}

	for i := 0; i < len(src); i++ {
		ch := src[i]
		col++
		if ch == '\n' {
			line++
			col = 0
			continue
		}
		switch {
		case ch == '/' && i+1 < len(src) && src[i+1] == '/':
			for i < len(src) && src[i] != '\n' {
				i++
			}
			i--
		case ch == '/' && i+1 < len(src) && src[i+1] == '*':
			startLine, startCol := line, col
			end := bytes.Index(src[i+2:], []byte("*/"))
			if end < 0 {
				return errorf(startLine, startCol, "unterminated /* comment")
			}
			col--
			for _, c := range src[i : i+2+end+2] {
				if c == '\n' {
					line++
					col = 0
				} else {
					col++
				}
			}
			i += 2 + end + 1
		case ch == '"':
			startLine, startCol := line, col
			j := i + 1
			for j < len(src) && src[j] != '"' && src[j] != '\n' {
				j++
			}
			if j >= len(src) || src[j] != '"' {
				return errorf(startLine, startCol, "missing terminating '\"' character")
			}
			col += j - i
			i = j
		case ch == '(' || ch == '[' || ch == '{':
			stack = append(stack, position{line, col, ch})
		case ch == ')' || ch == ']' || ch == '}':
			if len(stack) == 0 || stack[len(stack)-1].ch != closing[ch] {
				return errorf(line, col, "expected expression before '%c'", ch)
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) > 0 {
		open := stack[len(stack)-1]
		want := map[byte]byte{'(': ')', '[': ']', '{': '}'}[open.ch]
		return errorf(line, col+1, "expected '%c' to match '%c' at %d:%d", want, open.ch, open.line, open.col)
	}
	return ""
}

var commentPattern = regexp.MustCompile(`(?s)//[^\n]*|/\*.*?\*/`)

func stripComments(src []byte) []byte {
	return commentPattern.ReplaceAll(src, nil)
}
