package providers

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/breeze-rmm/toolguard/internal/config"
)

func TestLocalProviderRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := filepath.Join(t.TempDir(), "openclaw.json")
	payload := bytes.Repeat([]byte(`{"gateway":18789}`), 100)
	if err := os.WriteFile(src, payload, 0o600); err != nil {
		t.Fatal(err)
	}

	base := t.TempDir()
	p := NewLocalProvider(base)
	if err := p.Upload(ctx, src, "host/abc/files/openclaw.json"); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "host", "abc", "files", "openclaw.json.gz")); err != nil {
		t.Fatalf("expected gzipped object on disk: %v", err)
	}

	names, err := p.List(ctx, "host")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 1 || names[0] != "host/abc/files/openclaw.json" {
		t.Fatalf("List = %v", names)
	}

	dest := filepath.Join(t.TempDir(), "restored.json")
	if err := p.Download(ctx, names[0], dest); err != nil {
		t.Fatalf("Download: %v", err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("downloaded content differs from upload")
	}

	if err := p.Delete(ctx, names[0]); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "host")); !os.IsNotExist(err) {
		t.Errorf("empty directories should be cleaned up, stat err = %v", err)
	}
	if err := p.Delete(ctx, names[0]); err != nil {
		t.Errorf("deleting a missing object should succeed: %v", err)
	}
}

func TestLocalProviderUncompressed(t *testing.T) {
	ctx := context.Background()
	src := filepath.Join(t.TempDir(), "a.txt")
	if err := os.WriteFile(src, []byte("plain"), 0o644); err != nil {
		t.Fatal(err)
	}
	base := t.TempDir()
	p := &LocalProvider{BasePath: base}
	if err := p.Upload(ctx, src, "a.txt"); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(filepath.Join(base, "a.txt"))
	if err != nil || string(got) != "plain" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestLocalProviderRejectsTraversal(t *testing.T) {
	ctx := context.Background()
	p := NewLocalProvider(t.TempDir())
	src := filepath.Join(t.TempDir(), "x")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := p.Upload(ctx, src, "../escape"); err == nil {
		t.Fatal("expected traversal error")
	}
	if _, err := p.List(ctx, "../.."); err == nil {
		t.Fatal("expected traversal error on list")
	}
}

func TestLocalProviderListMissingPrefix(t *testing.T) {
	names, err := NewLocalProvider(t.TempDir()).List(context.Background(), "nothing")
	if err != nil || len(names) != 0 {
		t.Fatalf("List = %v, %v", names, err)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		cfg     config.OffloadConfig
		wantErr bool
	}{
		{config.OffloadConfig{Provider: "local", Path: "/srv/backups"}, false},
		{config.OffloadConfig{Provider: "S3", Bucket: "b", Region: "us-east-1"}, false},
		{config.OffloadConfig{Provider: "azure", Bucket: "c"}, false},
		{config.OffloadConfig{Provider: "gcs", Bucket: "b"}, false},
		{config.OffloadConfig{Provider: "b2", Bucket: "b"}, false},
		{config.OffloadConfig{Provider: "ftp"}, true},
	}
	for _, tt := range tests {
		p, err := New(tt.cfg)
		if (err != nil) != tt.wantErr {
			t.Errorf("New(%q) err = %v, wantErr %v", tt.cfg.Provider, err, tt.wantErr)
		}
		if err == nil && p == nil {
			t.Errorf("New(%q) returned nil provider", tt.cfg.Provider)
		}
	}
}

func TestCloudProvidersRequireSettings(t *testing.T) {
	ctx := context.Background()
	for name, p := range map[string]BackupProvider{
		"s3":    NewS3Provider("", "", "", "", ""),
		"azure": NewAzureProvider("", ""),
		"gcs":   NewGCSProvider("", ""),
		"b2":    NewB2Provider("", "", ""),
	} {
		if _, err := p.List(ctx, ""); err == nil {
			t.Errorf("%s: expected error for missing settings", name)
		}
	}
}
