package extract

import (
	"strings"
	"testing"
)

func TestTextAcceptsPlainText(t *testing.T) {
	got, err := Text("notes.txt", []byte("line one\r\nline two\n"))
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if got != "line one\nline two" {
		t.Errorf("got %q", got)
	}
}

func TestTextRejections(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		blob     []byte
		wantErr  string
	}{
		{name: "empty", filename: "a.txt", blob: nil, wantErr: "empty"},
		{name: "binary extension", filename: "image.png", blob: []byte("x"), wantErr: "unsupported file type"},
		{name: "nul byte", filename: "a.txt", blob: []byte("ab\x00cd"), wantErr: "binary"},
		{name: "invalid utf8", filename: "a.txt", blob: []byte{0xff, 0xfe, 0x41}, wantErr: "UTF-8"},
		{name: "whitespace only", filename: "a.txt", blob: []byte("  \n\t "), wantErr: "no text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Text(tt.filename, tt.blob)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestTextSizeCap(t *testing.T) {
	blob := make([]byte, MaxUploadBytes+1)
	for i := range blob {
		blob[i] = 'a'
	}
	if _, err := Text("big.txt", blob); err == nil {
		t.Fatal("expected size cap error")
	}
}
