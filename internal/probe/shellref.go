package probe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// ShellRefProbe matches shell startup files with lines mentioning pattern
// (PATH additions, aliases, completion hooks).
type ShellRefProbe struct {
	base
	files   []string
	pattern string
}

// NewShellRef returns a shell reference probe.
func NewShellRef(d Declaration, pattern string, files ...string) *ShellRefProbe {
	return &ShellRefProbe{base: newBase(d), files: files, pattern: pattern}
}

func (p *ShellRefProbe) Execute(ctx context.Context) Outcome {
	var (
		hits     []Resource
		evidence []string
		errs     []error
	)
	for _, path := range p.files {
		if ctx.Err() != nil {
			break
		}
		lines, err := MatchingLines(path, p.pattern)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		if len(lines) == 0 {
			continue
		}
		hits = append(hits, Resource{Kind: ResourceShellReference, Location: path, Detail: p.pattern})
		evidence = append(evidence, fmt.Sprintf("%s (%d lines)", path, len(lines)))
	}
	if len(hits) > 0 {
		return p.found(p.description+": "+strings.Join(evidence, ", "), hits...)
	}
	if len(errs) > 0 {
		return p.fail("read", errors.Join(errs...))
	}
	return Outcome{}
}

// MatchingLines returns the 1-based line numbers in path containing pattern,
// compared case-insensitively.
func MatchingLines(path, pattern string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	needle := strings.ToLower(pattern)
	var lines []int
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for n := 1; sc.Scan(); n++ {
		if strings.Contains(strings.ToLower(sc.Text()), needle) {
			lines = append(lines, n)
		}
	}
	return lines, sc.Err()
}
