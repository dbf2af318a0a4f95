package probe

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultRuntimes are the container CLIs queried, in order.
var DefaultRuntimes = []string{"docker", "podman"}

// ContainerProbe matches containers and images whose image reference names
// one of the target images. Runtimes that are not installed or whose daemon
// is down are skipped.
type ContainerProbe struct {
	base
	images   []string
	runtimes []string
	timeout  time.Duration
}

// NewContainer returns a container probe over the given image names.
func NewContainer(d Declaration, timeout time.Duration, images ...string) *ContainerProbe {
	return &ContainerProbe{base: newBase(d), images: images, runtimes: DefaultRuntimes, timeout: timeout}
}

func (p *ContainerProbe) Execute(ctx context.Context) Outcome {
	var (
		hits     []Resource
		evidence []string
	)
	for _, rt := range p.runtimes {
		// Containers first so remediation removes them before their images.
		res := runCommand(ctx, p.timeout, rt, "ps", "-a", "--format", "{{.ID}}\t{{.Image}}\t{{.Names}}")
		if res.startErr != nil {
			return p.fail("exec "+rt, res.startErr)
		}
		if !res.ok() {
			continue
		}
		for _, f := range tabFields(res.output) {
			if len(f) < 2 || !p.matchImage(f[1]) {
				continue
			}
			hits = append(hits, Resource{Kind: ResourceContainer, Location: f[0], Detail: rt})
			evidence = append(evidence, fmt.Sprintf("%s container %s (%s)", rt, lastOf(f), f[1]))
		}

		res = runCommand(ctx, p.timeout, rt, "images", "--format", "{{.ID}}\t{{.Repository}}:{{.Tag}}")
		if res.startErr != nil {
			return p.fail("exec "+rt, res.startErr)
		}
		if !res.ok() {
			continue
		}
		for _, f := range tabFields(res.output) {
			if len(f) < 2 || !p.matchImage(f[1]) {
				continue
			}
			hits = append(hits, Resource{Kind: ResourceImage, Location: f[0], Detail: rt})
			evidence = append(evidence, fmt.Sprintf("%s image %s", rt, f[1]))
		}
	}
	if len(hits) == 0 {
		return Outcome{}
	}
	return p.found(p.description+": "+strings.Join(evidence, ", "), hits...)
}

// matchImage compares the last path segment of ref, without tag or digest,
// against the wanted names.
func (p *ContainerProbe) matchImage(ref string) bool {
	return MatchImage(ref, p.images)
}

// MatchImage reports whether the image reference names one of images.
func MatchImage(ref string, images []string) bool {
	name := ref
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.IndexByte(name, ':'); i >= 0 {
		name = name[:i]
	}
	name = strings.ToLower(name)
	for _, img := range images {
		if name == strings.ToLower(img) {
			return true
		}
	}
	return false
}

func tabFields(out []byte) [][]string {
	var rows [][]string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		rows = append(rows, strings.Split(line, "\t"))
	}
	return rows
}

func lastOf(fields []string) string {
	return fields[len(fields)-1]
}
