package horosafe

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://93.184.216.34/page", false},
		{"ftp://evil.com/data", true},
		{"javascript:alert(1)", true},
		{"http://127.0.0.1/admin", true},
		{"http://10.0.0.1/internal", true},
		{"http://192.168.1.1/api", true},
		{"http://[::1]/api", true},
		{"http://172.16.0.1/secret", true},
		{"http:///nohost", true},
	}
	for _, tt := range tests {
		err := ValidateURL(tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateURL(%q) error=%v, wantErr=%v", tt.url, err, tt.wantErr)
		}
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	got, err := ExpandPath("~/notes/a.md")
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(home, "notes", "a.md") {
		t.Errorf("got %q", got)
	}
	got, _ = ExpandPath("file:///tmp/x/../y.txt")
	if got != "/tmp/y.txt" {
		t.Errorf("file url: got %q", got)
	}
}

func TestConfine(t *testing.T) {
	root := t.TempDir()
	if _, err := Confine(root, filepath.Join(root, "a", "b.md")); err != nil {
		t.Errorf("inside root: %v", err)
	}
	if _, err := Confine(root, filepath.Join(root, "..", "escape.md")); !errors.Is(err, ErrPathTraversal) {
		t.Errorf("outside root: got %v, want ErrPathTraversal", err)
	}
	if _, err := Confine("", "/etc/hosts"); err != nil {
		t.Errorf("empty root: %v", err)
	}
}

func TestLimitedReadAll(t *testing.T) {
	data, err := LimitedReadAll(strings.NewReader("hello"), 10)
	if err != nil || string(data) != "hello" {
		t.Fatalf("got %q, %v", data, err)
	}
	data, err = LimitedReadAll(strings.NewReader("hello world"), 5)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err: got %v, want ErrTooLarge", err)
	}
	if string(data) != "hello" {
		t.Errorf("truncated data: got %q", data)
	}
}

func TestIsPrivateIP(t *testing.T) {
	private := []string{"127.0.0.1", "10.1.2.3", "172.20.0.1", "192.168.0.10", "169.254.1.1", "::1", "fd00::1", "0.0.0.0"}
	for _, s := range private {
		if !isPrivateIP(net.ParseIP(s)) {
			t.Errorf("%s should be private", s)
		}
	}
	for _, s := range []string{"8.8.8.8", "1.1.1.1", "2606:4700::1111"} {
		if isPrivateIP(net.ParseIP(s)) {
			t.Errorf("%s should be public", s)
		}
	}
}
