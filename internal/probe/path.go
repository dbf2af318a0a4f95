package probe

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"
)

// PathProbe reports the target as present when any of its paths exists.
type PathProbe struct {
	base
	kind  ResourceKind
	paths []string
}

// NewPath returns a probe over candidate paths. kind decides what counts as
// a match: executables and files must be regular files, directories must be
// directories, config accepts either.
func NewPath(d Declaration, kind ResourceKind, paths ...string) *PathProbe {
	return &PathProbe{base: newBase(d), kind: kind, paths: paths}
}

func (p *PathProbe) Execute(ctx context.Context) Outcome {
	var (
		hits []Resource
		errs []error
	)
	for _, path := range p.paths {
		if ctx.Err() != nil {
			break
		}
		info, err := os.Stat(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		if !p.accepts(info) {
			continue
		}
		hits = append(hits, Resource{Kind: p.kind, Location: path})
	}

	if len(hits) > 0 {
		if len(errs) > 0 {
			log.Debug("path probe matched with stat errors", "probe", p.id, "errors", errors.Join(errs...))
		}
		locs := make([]string, len(hits))
		for i, h := range hits {
			locs[i] = h.Location
		}
		return p.found(p.description+" found at "+strings.Join(locs, ", "), hits...)
	}
	if len(errs) > 0 {
		return p.fail("stat", errors.Join(errs...))
	}
	return Outcome{}
}

func (p *PathProbe) accepts(info fs.FileInfo) bool {
	switch p.kind {
	case ResourceExecutable, ResourceFile:
		return info.Mode().IsRegular()
	case ResourceDirectory:
		return info.IsDir()
	default:
		return true
	}
}
