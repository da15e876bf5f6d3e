package output

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"yaml", FormatYAML, false},
		{"YML", FormatYAML, false},
		{"", FormatYAML, false},
		{"json", FormatJSON, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if (err != nil) != tt.wantErr || got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
			}
		})
	}
}

func TestTo(t *testing.T) {
	data := struct {
		Name  string `json:"name" yaml:"name"`
		Saved int    `json:"saved" yaml:"saved"`
	}{"고훈서", 2}

	var buf bytes.Buffer
	if err := To(&buf, FormatYAML, data); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "name: 고훈서\nsaved: 2\n" {
		t.Errorf("yaml = %q", got)
	}

	buf.Reset()
	if err := To(&buf, FormatJSON, data); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"name": "고훈서"`) {
		t.Errorf("json = %q", buf.String())
	}

	if err := To(&buf, "xml", data); err == nil {
		t.Error("expected error for unknown format")
	}
}
