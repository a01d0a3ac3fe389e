package review

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	DefaultReviewerName = "Anonymous"
	DefaultLocation     = "Unknown"
)

// Record is one review extracted from a listing page.
type Record struct {
	ReviewerName   string `json:"username"`
	OriginLocation string `json:"location"`
	// Rating is in [0,5]; nil when the page showed no parseable rating.
	Rating *float64 `json:"rating"`
	// PostedPeriod is a coarse "Month Year", empty when unknown.
	PostedPeriod string `json:"date,omitempty"`
	BodyText     string `json:"text"`
}

// HasOrigin reports whether the record carries a real reviewer location.
func (r Record) HasOrigin() bool {
	return r.OriginLocation != "" && r.OriginLocation != DefaultLocation
}

// Header is the column order of the dataset export.
var Header = []string{"username", "location", "rating", "date", "text"}

var bom = []byte{0xEF, 0xBB, 0xBF}

// WriteCSV writes records as a UTF-8 CSV with a byte order mark so that
// spreadsheet tools detect the encoding.
func WriteCSV(w io.Writer, records []Record) error {
	if _, err := w.Write(bom); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write([]string{r.ReviewerName, r.OriginLocation, formatRating(r.Rating), r.PostedPeriod, r.BodyText}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSVFile writes records to path, replacing any previous file atomically.
func WriteCSVFile(path string, records []Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating dataset directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".reviews-*.csv")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	if err := WriteCSV(bw, records); err != nil {
		tmp.Close()
		return fmt.Errorf("writing dataset: %w", err)
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("writing dataset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing dataset: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// ReadCSV parses a dataset written by WriteCSV. A leading byte order mark is
// optional.
func ReadCSV(r io.Reader) ([]Record, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(bom)); err == nil && bytes.Equal(head, bom) {
		br.Discard(len(bom))
	}

	cr := csv.NewReader(br)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	for _, name := range Header {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	var records []Record
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row %d: %w", len(records)+1, err)
		}
		rec := Record{
			ReviewerName:   row[cols["username"]],
			OriginLocation: row[cols["location"]],
			PostedPeriod:   row[cols["date"]],
			BodyText:       row[cols["text"]],
		}
		if v := row[cols["rating"]]; v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: parsing rating %q: %w", len(records)+1, v, err)
			}
			rec.Rating = &f
		}
		records = append(records, rec)
	}
	return records, nil
}

// ReadCSVFile is ReadCSV over the file at path.
func ReadCSVFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

func formatRating(r *float64) string {
	if r == nil {
		return ""
	}
	s := strconv.FormatFloat(*r, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
