package sink

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"sort"
)

var (
	xmlRecord = xml.Name{Local: "record"}
	xmlField  = xml.Name{Local: "field"}
	xmlItem   = xml.Name{Local: "item"}
)

// xmlSink writes <records><record><field name="...">...</field></record></records>.
// Nested objects become nested fields, arrays become <item> lists.
type xmlSink struct {
	opts  Options
	path  string
	file  *os.File
	buf   *bufio.Writer
	heads []string
}

func (s *xmlSink) Begin(headers []string) error {
	s.path = fileName(s.opts, FormatXML, 1)
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("sink: xml: create: %w", err)
	}
	s.file = f
	s.buf = bufio.NewWriter(f)
	s.heads = headers
	if _, err := s.buf.WriteString(xml.Header + "<records>\n"); err != nil {
		return fmt.Errorf("sink: xml: write: %w", err)
	}
	return nil
}

func (s *xmlSink) WriteRow(values []any) error {
	var row bytes.Buffer
	enc := xml.NewEncoder(&row)
	if err := enc.EncodeToken(xml.StartElement{Name: xmlRecord}); err != nil {
		return fmt.Errorf("sink: xml: encode: %w", err)
	}
	for i, v := range values {
		if err := encodeXMLField(enc, s.heads[i], v); err != nil {
			return err
		}
	}
	if err := enc.EncodeToken(xml.EndElement{Name: xmlRecord}); err != nil {
		return fmt.Errorf("sink: xml: encode: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return fmt.Errorf("sink: xml: encode: %w", err)
	}
	row.WriteByte('\n')
	if _, err := s.buf.Write(row.Bytes()); err != nil {
		return fmt.Errorf("sink: xml: write: %w", err)
	}
	return nil
}

func encodeXMLField(enc *xml.Encoder, name string, v any) error {
	if !validXMLText(name) {
		return unserializable(FormatXML, name, "invalid characters in name")
	}
	start := xml.StartElement{Name: xmlField, Attr: []xml.Attr{{Name: xml.Name{Local: "name"}, Value: name}}}
	if err := enc.EncodeToken(start); err != nil {
		return fmt.Errorf("sink: xml: encode: %w", err)
	}
	if err := encodeXMLValue(enc, name, v); err != nil {
		return err
	}
	if err := enc.EncodeToken(start.End()); err != nil {
		return fmt.Errorf("sink: xml: encode: %w", err)
	}
	return nil
}

func encodeXMLValue(enc *xml.Encoder, name string, v any) error {
	switch t := v.(type) {
	case *Object:
		for _, k := range t.Keys() {
			child, _ := t.Get(k)
			if err := encodeXMLField(enc, k, child); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := encodeXMLField(enc, k, t[k]); err != nil {
				return err
			}
		}
		return nil
	case []any:
		for _, el := range t {
			if err := enc.EncodeToken(xml.StartElement{Name: xmlItem}); err != nil {
				return fmt.Errorf("sink: xml: encode: %w", err)
			}
			if err := encodeXMLValue(enc, name, el); err != nil {
				return err
			}
			if err := enc.EncodeToken(xml.EndElement{Name: xmlItem}); err != nil {
				return fmt.Errorf("sink: xml: encode: %w", err)
			}
		}
		return nil
	}
	str, err := cellString(v)
	if err != nil {
		return unserializable(FormatXML, name, err.Error())
	}
	if !validXMLText(str) {
		return unserializable(FormatXML, name, "invalid characters in value")
	}
	if str == "" {
		return nil
	}
	if err := enc.EncodeToken(xml.CharData(str)); err != nil {
		return fmt.Errorf("sink: xml: encode: %w", err)
	}
	return nil
}

func (s *xmlSink) End() ([]string, error) {
	if _, err := s.buf.WriteString("</records>\n"); err != nil {
		return nil, fmt.Errorf("sink: xml: write: %w", err)
	}
	if err := s.buf.Flush(); err != nil {
		return nil, fmt.Errorf("sink: xml: flush: %w", err)
	}
	if err := s.file.Close(); err != nil {
		return nil, fmt.Errorf("sink: xml: close: %w", err)
	}
	s.file = nil
	return []string{s.path}, nil
}

func (s *xmlSink) Abort() {
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if s.path != "" {
		_ = os.Remove(s.path)
	}
}
