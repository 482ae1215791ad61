package sink

import (
	"fmt"
	"unicode/utf8"
)

// maxCellChars is the longest text both spreadsheet formats accept in a cell.
const maxCellChars = 32767

// workbook is one physical spreadsheet file with a fixed set of sheets.
type workbook interface {
	AppendRow(sheet int, cells []any) error
	Close() error
	Discard()
}

// openWorkbook creates the file at path with one sheet per header chunk and
// writes the header row of every sheet.
type openWorkbook func(path string, sheets [][]string) (workbook, error)

// spreadsheet implements the splitting rules shared by xls and xlsx: column
// overflow opens further sheets in the same file, row overflow opens a
// further file with the same sheets.
type spreadsheet struct {
	format Format
	opts   Options
	open   openWorkbook

	headers []string
	chunks  [][2]int
	cur     workbook
	rows    int
	files   []string
}

func newSpreadsheet(format Format, opts Options, open openWorkbook) *spreadsheet {
	return &spreadsheet{format: format, opts: opts, open: open}
}

// columnChunks splits n columns into [lo, hi) ranges of at most ceiling
// columns. A zero-column export still gets one (empty) sheet.
func columnChunks(n, ceiling int) [][2]int {
	if ceiling <= 0 || n <= ceiling {
		return [][2]int{{0, n}}
	}
	var out [][2]int
	for lo := 0; lo < n; lo += ceiling {
		out = append(out, [2]int{lo, min(lo+ceiling, n)})
	}
	return out
}

func (s *spreadsheet) Begin(headers []string) error {
	s.headers = headers
	s.chunks = columnChunks(len(headers), s.opts.MaxColumns)
	return s.nextFile()
}

func (s *spreadsheet) nextFile() error {
	if s.cur != nil {
		if err := s.cur.Close(); err != nil {
			return fmt.Errorf("sink: %s: close: %w", s.format, err)
		}
		s.cur = nil
	}
	sheets := make([][]string, len(s.chunks))
	for i, c := range s.chunks {
		sheets[i] = s.headers[c[0]:c[1]]
	}
	path := fileName(s.opts, s.format, len(s.files)+1)
	s.files = append(s.files, path)
	wb, err := s.open(path, sheets)
	if err != nil {
		return fmt.Errorf("sink: %s: open: %w", s.format, err)
	}
	s.cur = wb
	s.rows = 0
	return nil
}

func (s *spreadsheet) validate(values []any) error {
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			if _, err := cellString(v); err != nil {
				return unserializable(s.format, s.headers[i], err.Error())
			}
			continue
		}
		if utf8.RuneCountInString(str) > maxCellChars {
			return unserializable(s.format, s.headers[i], "text exceeds cell limit")
		}
		if !validXMLText(str) {
			return unserializable(s.format, s.headers[i], "invalid characters in value")
		}
	}
	return nil
}

func (s *spreadsheet) WriteRow(values []any) error {
	if err := s.validate(values); err != nil {
		return err
	}
	if s.opts.MaxRows > 0 && s.rows >= s.opts.MaxRows {
		if err := s.nextFile(); err != nil {
			return err
		}
	}
	for i, c := range s.chunks {
		if err := s.cur.AppendRow(i, values[c[0]:c[1]]); err != nil {
			return fmt.Errorf("sink: %s: write: %w", s.format, err)
		}
	}
	s.rows++
	return nil
}

func (s *spreadsheet) End() ([]string, error) {
	if s.cur != nil {
		if err := s.cur.Close(); err != nil {
			return nil, fmt.Errorf("sink: %s: close: %w", s.format, err)
		}
		s.cur = nil
	}
	return s.files, nil
}

func (s *spreadsheet) Abort() {
	if s.cur != nil {
		s.cur.Discard()
		s.cur = nil
	}
	removeAll(s.files)
}
