package logsanitize

import "testing"

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"tab\tkept", "tab\tkept"},
		{"line\nbreak", "line_break"},
		{"cr\rlf\n", "cr_lf_"},
		{"del\x7f", "del_"},
		{"c1\u0085", "c1_"},
	}

	for _, tt := range tests {
		if got := Sanitize(tt.in); got != tt.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMaskBOID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1301120000123456", "************3456"},
		{"12345", "*2345"},
		{"1234", "****"},
		{"", ""},
		{"12\n3456789", "******6789"},
	}

	for _, tt := range tests {
		if got := MaskBOID(tt.in); got != tt.want {
			t.Errorf("MaskBOID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMaskBOIDs(t *testing.T) {
	got := MaskBOIDs([]string{"1301120000000001", "99"})
	if len(got) != 2 || got[0] != "************0001" || got[1] != "**" {
		t.Errorf("MaskBOIDs = %v", got)
	}
}
