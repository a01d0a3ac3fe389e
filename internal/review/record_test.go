package review

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func ptr(f float64) *float64 { return &f }

func TestWriteCSV_BOMAndHeader(t *testing.T) {
	var buf bytes.Buffer
	records := []Record{
		{ReviewerName: "Ana", OriginLocation: "Zagreb, Croatia", Rating: ptr(5), PostedPeriod: "May 2024", BodyText: "Odlična hrana, \"super\" usluga"},
		{ReviewerName: "Jörg", OriginLocation: "Unknown", Rating: ptr(3.5), BodyText: "ok\nmulti-line"},
	}
	if err := WriteCSV(&buf, records); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	out := buf.Bytes()
	if !bytes.HasPrefix(out, []byte{0xEF, 0xBB, 0xBF}) {
		t.Fatal("expected UTF-8 byte order mark")
	}
	lines := strings.SplitN(string(out[3:]), "\n", 2)
	if lines[0] != "username,location,rating,date,text" {
		t.Errorf("got header %q", lines[0])
	}
	if !strings.Contains(string(out), "Ana,\"Zagreb, Croatia\",5.0,May 2024,") {
		t.Errorf("first row not formatted as expected:\n%s", out)
	}
	if !strings.Contains(string(out), "Jörg,Unknown,3.5,,") {
		t.Errorf("non-ASCII row not preserved:\n%s", out)
	}
}

func TestReadCSV_ReadsWhatWriteCSVWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "o1", "reviews.csv")
	records := []Record{
		{ReviewerName: "Ana", OriginLocation: "Zagreb, Croatia", Rating: ptr(4.5), PostedPeriod: "May 2024", BodyText: "Čevapi\nline two"},
		{ReviewerName: "Anonymous", OriginLocation: "Unknown", BodyText: ""},
	}
	if err := WriteCSVFile(path, records); err != nil {
		t.Fatalf("WriteCSVFile: %v", err)
	}

	got, err := ReadCSVFile(path)
	if err != nil {
		t.Fatalf("ReadCSVFile: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].ReviewerName != "Ana" || got[0].BodyText != "Čevapi\nline two" {
		t.Errorf("got %+v", got[0])
	}
	if got[0].Rating == nil || *got[0].Rating != 4.5 {
		t.Errorf("got rating %v, want 4.5", got[0].Rating)
	}
	if got[1].Rating != nil {
		t.Errorf("got rating %v, want nil", *got[1].Rating)
	}
}

func TestReadCSV_MissingColumn(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("username,rating\nAna,5\n"))
	if err == nil {
		t.Fatal("expected error for missing columns")
	}
}

func TestReadCSV_Empty(t *testing.T) {
	got, err := ReadCSV(strings.NewReader(""))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d records, want 0", len(got))
	}
}

func TestHasOrigin(t *testing.T) {
	tests := []struct {
		loc  string
		want bool
	}{
		{"Split, Croatia", true},
		{"Unknown", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := (Record{OriginLocation: tt.loc}).HasOrigin(); got != tt.want {
			t.Errorf("HasOrigin(%q) = %v, want %v", tt.loc, got, tt.want)
		}
	}
}
