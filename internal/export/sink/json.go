package sink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// jsonSink writes a JSON array with one object per record.
type jsonSink struct {
	opts  Options
	path  string
	file  *os.File
	buf   *bufio.Writer
	heads []string
	rows  int
}

func (s *jsonSink) Begin(headers []string) error {
	s.path = fileName(s.opts, FormatJSON, 1)
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("sink: json: create: %w", err)
	}
	s.file = f
	s.buf = bufio.NewWriter(f)
	s.heads = headers
	if _, err := s.buf.WriteString("["); err != nil {
		return fmt.Errorf("sink: json: write: %w", err)
	}
	return nil
}

func (s *jsonSink) WriteRow(values []any) error {
	obj := NewObject()
	for i, v := range values {
		obj.Set(s.heads[i], v)
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return unserializable(FormatJSON, "", err.Error())
	}
	sep := ",\n"
	if s.rows == 0 {
		sep = "\n"
	}
	if _, err := s.buf.WriteString(sep); err != nil {
		return fmt.Errorf("sink: json: write: %w", err)
	}
	if _, err := s.buf.Write(b); err != nil {
		return fmt.Errorf("sink: json: write: %w", err)
	}
	s.rows++
	return nil
}

func (s *jsonSink) End() ([]string, error) {
	if _, err := s.buf.WriteString("\n]\n"); err != nil {
		return nil, fmt.Errorf("sink: json: write: %w", err)
	}
	if err := s.buf.Flush(); err != nil {
		return nil, fmt.Errorf("sink: json: flush: %w", err)
	}
	if err := s.file.Close(); err != nil {
		return nil, fmt.Errorf("sink: json: close: %w", err)
	}
	s.file = nil
	return []string{s.path}, nil
}

func (s *jsonSink) Abort() {
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if s.path != "" {
		_ = os.Remove(s.path)
	}
}
