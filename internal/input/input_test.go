package input

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	appconfig "github.com/perrin/forcebulk/internal/config"
)

func TestParseSourceLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.csv")
	if err := os.WriteFile(path, []byte("Name\nAcme\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	src, err := ParseSource(path, nil)
	if err != nil {
		t.Fatalf("ParseSource: %v", err)
	}
	if src.Name() != path {
		t.Errorf("Name() = %q, want %q", src.Name(), path)
	}

	rc, err := src.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "Name\nAcme\n" {
		t.Errorf("payload = %q", data)
	}
}

func TestParseSourceS3(t *testing.T) {
	cfg := &appconfig.S3Config{
		Endpoint:  "minio.local:9000",
		AccessKey: "ak",
		SecretKey: "sk",
	}

	src, err := ParseSource("s3://mybucket/in/accounts.csv", cfg)
	if err != nil {
		t.Fatalf("ParseSource: %v", err)
	}
	if src.Name() != "s3://mybucket/in/accounts.csv" {
		t.Errorf("Name() = %q", src.Name())
	}
}

func TestParseSourceS3Invalid(t *testing.T) {
	cfg := &appconfig.S3Config{Endpoint: "minio.local:9000"}

	cases := []string{"s3://", "s3://bucketonly", "s3://bucket/"}
	for _, arg := range cases {
		if _, err := ParseSource(arg, cfg); err == nil {
			t.Errorf("ParseSource(%q) = nil error, want failure", arg)
		}
	}

	// Valid shape but no endpoint configured.
	if _, err := ParseSource("s3://bucket/key", nil); err == nil {
		t.Error("ParseSource without s3 config = nil error, want failure")
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	cases := []struct{ in, want string }{
		{"https://minio.local:9000", "minio.local:9000"},
		{"http://minio.local:9000/", "minio.local:9000"},
		{"minio.local:9000/some/path", "minio.local:9000"},
		{"minio.local:9000", "minio.local:9000"},
	}
	for _, c := range cases {
		if got := normalizeEndpoint(c.in); got != c.want {
			t.Errorf("normalizeEndpoint(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
