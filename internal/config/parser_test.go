package config

import (
	"strings"
	"testing"
)

func TestParseMinimalConfig(t *testing.T) {
	src := `
listen 1935;
max_connections 1000;
vhost __defaultVhost__ { refer all a.com b.com; }
`
	root, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(root.Children) != 3 {
		t.Fatalf("expected 3 top-level directives, got %d", len(root.Children))
	}
	vhost := root.Get("vhost")
	if vhost == nil || vhost.Arg(0) != "__defaultVhost__" {
		t.Fatalf("expected vhost directive, got %+v", vhost)
	}
	refer := vhost.Get("refer")
	if refer == nil || len(refer.Args) != 3 || refer.Args[0] != "all" {
		t.Fatalf("expected refer leaf with 3 args, got %+v", refer)
	}
}

func TestParseQuotedTokens(t *testing.T) {
	src := `log_file "srs.log"; name 'quoted value';`
	root, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := root.Get("log_file").Arg(0); got != "srs.log" {
		t.Fatalf("expected unquoted value, got %q", got)
	}
	if got := root.Get("name").Arg(0); got != "quoted value" {
		t.Fatalf("expected unquoted value, got %q", got)
	}
}

func TestParseQuotedTokenMustBeFollowedByTerminator(t *testing.T) {
	src := `log_file "srs.log"bad;`
	_, err := Parse([]byte(src))
	if err == nil {
		t.Fatal("expected error for malformed quoted token")
	}
}

func TestParseComments(t *testing.T) {
	src := "# a comment\nlisten 1935; # trailing\n"
	root, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(root.Children) != 1 {
		t.Fatalf("expected 1 directive, got %d", len(root.Children))
	}
}

func TestParseUnexpectedTerminators(t *testing.T) {
	cases := []string{";", "{", "}", "listen 1935 }"}
	for _, src := range cases {
		if _, err := Parse([]byte(src)); err == nil {
			t.Errorf("expected error for input %q", src)
		}
	}
}

func TestParseUnterminatedBlockReferencesOpeningLine(t *testing.T) {
	src := "vhost a {\nrefer all x.com;\n"
	_, err := Parse([]byte(src))
	if err == nil {
		t.Fatal("expected unterminated block error")
	}
	if !strings.Contains(err.Error(), "line 1") {
		t.Fatalf("expected error to reference opening line 1, got: %v", err)
	}
}

type memFileReader map[string][]byte

func (m memFileReader) ReadFile(path string) ([]byte, error) {
	data, ok := m[path]
	if !ok {
		return nil, &missingFileError{path}
	}
	return data, nil
}

type missingFileError struct{ path string }

func (e *missingFileError) Error() string { return "no such file: " + e.path }

func TestIncludeInlining(t *testing.T) {
	reader := memFileReader{
		"base.conf":  []byte("listen 1935;\ninclude child.conf;\n"),
		"child.conf": []byte("max_connections 500;\n"),
	}
	root, err := ParseWithReader(reader["base.conf"], reader)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	expected, err := ParseWithReader([]byte("listen 1935; max_connections 500;"), reader)
	if err != nil {
		t.Fatalf("parse expected: %v", err)
	}
	if !Equal(NewRoot(root.Children), NewRoot(expected.Children)) {
		t.Fatalf("include inlining mismatch: got %+v want %+v", root, expected)
	}
}

func TestIncludeRequiresPath(t *testing.T) {
	_, err := Parse([]byte("include;"))
	if err == nil {
		t.Fatal("expected error for include with no paths")
	}
}

func TestIncludeNested(t *testing.T) {
	reader := memFileReader{
		"a.conf": []byte("include b.conf;"),
		"b.conf": []byte("include c.conf;"),
		"c.conf": []byte("listen 1935;"),
	}
	root, err := ParseWithReader(reader["a.conf"], reader)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(root.Children) != 1 || root.Children[0].Name != "listen" {
		t.Fatalf("expected nested include to inline listen directive, got %+v", root.Children)
	}
}

func TestParseRoundTrip(t *testing.T) {
	src := `listen 1935;
max_connections 1000;
vhost __defaultVhost__ {
    chunk_size 4096;
    refer {
        enabled on;
        all a.com b.com;
    }
}
`
	root, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	persisted := Persist(root)
	reparsed, err := Parse([]byte(persisted))
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if !Equal(root, reparsed) {
		t.Fatalf("round trip mismatch:\noriginal: %+v\nreparsed: %+v", root, reparsed)
	}
}
