package sink

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
)

// csvSink writes one delimited file with a header row. It never splits.
type csvSink struct {
	opts  Options
	path  string
	file  *os.File
	buf   *bufio.Writer
	w     *csv.Writer
	heads []string
}

func (s *csvSink) Begin(headers []string) error {
	s.path = fileName(s.opts, FormatCSV, 1)
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("sink: csv: create: %w", err)
	}
	s.file = f
	s.buf = bufio.NewWriter(f)
	s.w = csv.NewWriter(s.buf)
	s.heads = headers
	if err := s.w.Write(headers); err != nil {
		return fmt.Errorf("sink: csv: header: %w", err)
	}
	return nil
}

func (s *csvSink) WriteRow(values []any) error {
	record := make([]string, len(values))
	for i, v := range values {
		str, err := cellString(v)
		if err != nil {
			return unserializable(FormatCSV, s.heads[i], err.Error())
		}
		record[i] = str
	}
	if err := s.w.Write(record); err != nil {
		return fmt.Errorf("sink: csv: write: %w", err)
	}
	return nil
}

func (s *csvSink) End() ([]string, error) {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return nil, fmt.Errorf("sink: csv: flush: %w", err)
	}
	if err := s.buf.Flush(); err != nil {
		return nil, fmt.Errorf("sink: csv: flush: %w", err)
	}
	if err := s.file.Close(); err != nil {
		return nil, fmt.Errorf("sink: csv: close: %w", err)
	}
	s.file = nil
	return []string{s.path}, nil
}

func (s *csvSink) Abort() {
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if s.path != "" {
		_ = os.Remove(s.path)
	}
}
