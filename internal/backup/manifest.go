package backup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
	"unicode/utf16"

	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/toolguard/internal/svcquery"
)

const manifestVersion = 1

// BackedUpItem is one resource copied into a manifest directory. Backup is
// relative to the manifest directory and slash-separated.
type BackedUpItem struct {
	Original string    `json:"original"`
	Backup   string    `json:"backup"`
	Kind     Kind      `json:"kind"`
	Size     int64     `json:"size"`
	Files    int       `json:"files,omitempty"`
	SHA256   string    `json:"sha256,omitempty"`
	CopiedAt time.Time `json:"copiedAt"`
}

// Excluded is a target that was deliberately not copied.
type Excluded struct {
	Location   string `json:"location"`
	Kind       Kind   `json:"kind"`
	Executable bool   `json:"executable,omitempty"`
	Reason     string `json:"reason"`
}

// Manifest is the ordered record of a backup. A manifest with Complete false
// is partial but valid for the items it lists.
type Manifest struct {
	Version   int            `json:"version"`
	ID        string         `json:"id"`
	Host      string         `json:"host"`
	OS        string         `json:"os"`
	CreatedAt time.Time      `json:"createdAt"`
	Complete  bool           `json:"complete"`
	Items     []BackedUpItem `json:"items"`
	Excluded  []Excluded     `json:"excluded,omitempty"`
	Offloaded string         `json:"offloaded,omitempty"`

	dir string
}

func newManifest(id, dir, host string, now time.Time) *Manifest {
	return &Manifest{
		Version:   manifestVersion,
		ID:        id,
		Host:      host,
		OS:        runtime.GOOS,
		CreatedAt: now,
		Items:     []BackedUpItem{},
		dir:       dir,
	}
}

// Dir is the manifest directory on disk.
func (m *Manifest) Dir() string {
	return m.dir
}

// Path resolves an item's backup location.
func (m *Manifest) Path(item BackedUpItem) string {
	return filepath.Join(m.dir, filepath.FromSlash(item.Backup))
}

// ExcludedExecutables lists executables that a restore cannot bring back.
func (m *Manifest) ExcludedExecutables() []string {
	var out []string
	for _, e := range m.Excluded {
		if e.Executable {
			out = append(out, e.Location)
		}
	}
	return out
}

func (m *Manifest) exclude(t Target, reason string) {
	m.Excluded = append(m.Excluded, Excluded{Location: t.Location, Kind: t.Kind, Executable: t.Executable, Reason: reason})
}

// Save atomically rewrites manifest.json.
func (m *Manifest) Save() error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	tmp, err := os.CreateTemp(m.dir, ".manifest-*.json")
	if err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("sync manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(m.dir, ManifestFile)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace manifest: %w", err)
	}
	return nil
}

// LoadManifest reads dir/manifest.json.
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("backup: read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("backup: parse manifest: %w", err)
	}
	if m.Version > manifestVersion {
		return nil, fmt.Errorf("backup: manifest version %d is newer than supported %d", m.Version, manifestVersion)
	}
	m.dir = dir
	return &m, nil
}

// Rebuild reconstructs a manifest from what is actually on disk under dir,
// for when manifest.json is missing or damaged. Every copied file becomes a
// file item; exported services and registry keys are read back from their
// export files.
func Rebuild(dir string) (*Manifest, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("backup: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("backup: %s is not a directory", dir)
	}

	host, _ := os.Hostname()
	m := newManifest(filepath.Base(dir), dir, host, info.ModTime().UTC())

	filesRoot := filepath.Join(dir, filesDir)
	err = filepath.WalkDir(filesRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == filesRoot && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(filesRoot, path)
		if err != nil {
			return err
		}
		sum, size, err := hashFile(path)
		if err != nil {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		m.Items = append(m.Items, BackedUpItem{
			Original: unmirror(filepath.ToSlash(rel)),
			Backup:   filesDir + "/" + filepath.ToSlash(rel),
			Kind:     KindFile,
			Size:     size,
			SHA256:   sum,
			CopiedAt: fi.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("backup: rebuild files: %w", err)
	}

	svcs, _ := filepath.Glob(filepath.Join(dir, servicesDir, "*.yaml"))
	for _, path := range svcs {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("backup: rebuild services: %w", err)
		}
		var def svcquery.Definition
		if err := yaml.Unmarshal(data, &def); err != nil || def.Name == "" {
			log.Warn("skipping unreadable service export", "path", path)
			continue
		}
		m.Items = append(m.Items, BackedUpItem{
			Original: def.Name,
			Backup:   servicesDir + "/" + filepath.Base(path),
			Kind:     KindServiceDefinition,
			Size:     int64(len(data)),
			SHA256:   hashBytes(data),
		})
	}

	regs, _ := filepath.Glob(filepath.Join(dir, registryDir, "*.reg"))
	for _, path := range regs {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("backup: rebuild registry: %w", err)
		}
		m.Items = append(m.Items, BackedUpItem{
			Original: regFileKey(data),
			Backup:   registryDir + "/" + filepath.Base(path),
			Kind:     KindRegistryKey,
			Size:     int64(len(data)),
			SHA256:   hashBytes(data),
		})
	}

	m.Complete = true
	return m, nil
}

// mirrorPath maps an absolute path to its location under files/:
// /home/u/.openclaw -> home/u/.openclaw, C:\Users\u -> C/Users/u.
func mirrorPath(original string) string {
	p := filepath.Clean(original)
	if vol := filepath.VolumeName(p); vol != "" {
		p = strings.TrimSuffix(vol, ":") + p[len(vol):]
	}
	return strings.TrimLeft(filepath.ToSlash(p), "/")
}

func unmirror(rel string) string {
	if runtime.GOOS == "windows" {
		drive, rest, _ := strings.Cut(rel, "/")
		return drive + `:\` + filepath.FromSlash(rest)
	}
	return "/" + rel
}

// regFileKey returns the first key named in a reg export, which reg.exe
// writes as UTF-16LE with a BOM.
func regFileKey(data []byte) string {
	text := string(data)
	if bytes.HasPrefix(data, []byte{0xFF, 0xFE}) {
		u := make([]uint16, 0, len(data)/2)
		for i := 2; i+1 < len(data); i += 2 {
			u = append(u, uint16(data[i])|uint16(data[i+1])<<8)
		}
		text = string(utf16.Decode(u))
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			return line[1 : len(line)-1]
		}
	}
	return ""
}
