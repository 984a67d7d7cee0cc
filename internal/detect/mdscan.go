package detect

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// section is one heading-delimited span of a Markdown document.
type section struct {
	Heading   string
	LineStart int // 1-based, inclusive
	LineEnd   int // 1-based, inclusive
	Body      []string
}

// fencedBlock is one fenced code block with its info string.
type fencedBlock struct {
	Info      string // language tag after the opening fence, lowercased
	LineStart int
	LineEnd   int
	Body      []string
}

// readLines reads a file into lines with a generous scanner buffer so long
// lines (embedded data, minified content) do not abort the scan.
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return scanLines(f)
}

func scanLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return lines, nil
}

// fencePrefix returns the opening fence marker ("```" or "~~~", possibly
// longer) when line starts a fenced code block, else "". Up to three leading
// spaces are allowed per CommonMark; four or more means an indented code
// block, not a fence.
func fencePrefix(line string) string {
	trimmed := strings.TrimLeft(line, " ")
	if len(line)-len(trimmed) >= 4 {
		return ""
	}
	for _, marker := range []byte{'`', '~'} {
		n := 0
		for n < len(trimmed) && trimmed[n] == marker {
			n++
		}
		if n >= 3 {
			return trimmed[:n]
		}
	}
	return ""
}

// isClosingFence reports whether line closes a block opened with openFence:
// at least as many markers of the same type, with nothing but spaces after.
func isClosingFence(line, openFence string) bool {
	trimmed := strings.TrimLeft(line, " ")
	if len(line)-len(trimmed) >= 4 {
		return false
	}
	marker := openFence[0]
	n := 0
	for n < len(trimmed) && trimmed[n] == marker {
		n++
	}
	if n < len(openFence) {
		return false
	}
	return strings.TrimSpace(trimmed[n:]) == ""
}

// fenceInfo returns the lowercased info string of an opening fence line.
func fenceInfo(line, openFence string) string {
	trimmed := strings.TrimLeft(line, " ")
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(trimmed, openFence)))
}

// isHeading reports whether line is an ATX heading (#, ##, ...). Headings
// inside fenced blocks are not headings; callers track fence state.
func isHeading(line string) bool {
	trimmed := strings.TrimLeft(line, " ")
	if !strings.HasPrefix(trimmed, "#") {
		return false
	}
	n := 0
	for n < len(trimmed) && trimmed[n] == '#' {
		n++
	}
	return n <= 6 && (len(trimmed) == n || trimmed[n] == ' ')
}

// headingText strips the marker from an ATX heading line.
func headingText(line string) string {
	trimmed := strings.TrimLeft(line, " #")
	return strings.TrimSpace(trimmed)
}

// splitSections segments lines into heading-delimited sections. Content
// before the first heading becomes a section with an empty heading. Fenced
// blocks are opaque: headings inside them do not split.
func splitSections(lines []string) []section {
	var sections []section
	cur := section{LineStart: 1}
	openFence := ""

	flush := func(end int) {
		if end >= cur.LineStart && (cur.Heading != "" || len(cur.Body) > 0) {
			cur.LineEnd = end
			sections = append(sections, cur)
		}
	}

	for i, line := range lines {
		lineNum := i + 1
		if openFence != "" {
			if isClosingFence(line, openFence) {
				openFence = ""
			}
			cur.Body = append(cur.Body, line)
			continue
		}
		if f := fencePrefix(line); f != "" {
			openFence = f
			cur.Body = append(cur.Body, line)
			continue
		}
		if isHeading(line) {
			flush(lineNum - 1)
			cur = section{Heading: headingText(line), LineStart: lineNum}
			continue
		}
		if strings.TrimSpace(line) != "" {
			cur.Body = append(cur.Body, line)
		}
	}
	flush(len(lines))
	return sections
}

// extractFenced returns every fenced block in lines with its info string.
func extractFenced(lines []string) []fencedBlock {
	var blocks []fencedBlock
	openFence := ""
	var cur fencedBlock

	for i, line := range lines {
		lineNum := i + 1
		if openFence == "" {
			if f := fencePrefix(line); f != "" {
				openFence = f
				cur = fencedBlock{Info: fenceInfo(line, f), LineStart: lineNum}
			}
			continue
		}
		if isClosingFence(line, openFence) {
			cur.LineEnd = lineNum
			blocks = append(blocks, cur)
			openFence = ""
			continue
		}
		cur.Body = append(cur.Body, line)
	}
	// An unterminated fence is dropped: its content cannot be attributed
	// reliably.
	return blocks
}
