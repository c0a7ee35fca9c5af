package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Decoder splits raw fragments into newline-delimited JSON records. A record
// cut in half by a fragment boundary is carried over to the next fragment.
type Decoder struct {
	carry string
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed decodes every record completed by fragment. Undecodable lines are
// reported as warnings and skipped; a line that is valid JSON of the wrong
// shape is a fatal error.
func (d *Decoder) Feed(fragment string) ([]Record, []*ParseWarning, error) {
	text := d.carry + fragment
	d.carry = ""

	var (
		records  []Record
		warnings []*ParseWarning
	)
	lines := strings.Split(text, "\n")
	last := len(lines) - 1
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		rec, err := decodeRecord(line)
		if err == nil {
			records = append(records, rec)
			continue
		}
		if !isSyntax(err) {
			return records, warnings, fmt.Errorf("decode record: %w", err)
		}
		if i == last {
			d.carry = raw
			continue
		}
		warnings = append(warnings, &ParseWarning{Line: line, Err: err})
	}
	return records, warnings, nil
}

// Flush decodes whatever is still carried once the body has ended.
func (d *Decoder) Flush() ([]Record, []*ParseWarning, error) {
	line := strings.TrimSpace(d.carry)
	d.carry = ""
	if line == "" {
		return nil, nil, nil
	}
	rec, err := decodeRecord(line)
	switch {
	case err == nil:
		return []Record{rec}, nil, nil
	case isSyntax(err):
		return nil, []*ParseWarning{{Line: line, Err: err}}, nil
	default:
		return nil, nil, fmt.Errorf("decode record: %w", err)
	}
}

// Pending reports whether a partial record is being carried.
func (d *Decoder) Pending() bool {
	return d.carry != ""
}

func decodeRecord(line string) (Record, error) {
	var rec Record
	err := json.Unmarshal([]byte(line), &rec)
	return rec, err
}

func isSyntax(err error) bool {
	var syntax *json.SyntaxError
	return errors.As(err, &syntax)
}
