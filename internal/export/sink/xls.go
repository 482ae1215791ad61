package sink

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"
)

const spreadsheetMLHead = `<?xml version="1.0" encoding="UTF-8"?>
<?mso-application progid="Excel.Sheet"?>
<Workbook xmlns="urn:schemas-microsoft-com:office:spreadsheet" xmlns:ss="urn:schemas-microsoft-com:office:spreadsheet">
`

// spreadsheetML writes the Excel 2003 XML workbook format. Sheets must be
// contiguous in the document, so each one is spooled to its own part file
// and the parts are stitched together on Close.
type spreadsheetML struct {
	path  string
	parts []*xlsPart
}

type xlsPart struct {
	file *os.File
	buf  *bufio.Writer
}

func openSpreadsheetML(path string, sheets [][]string) (workbook, error) {
	wb := &spreadsheetML{path: path}
	for i, headers := range sheets {
		f, err := os.Create(fmt.Sprintf("%s.part%d", path, i+1))
		if err != nil {
			wb.Discard()
			return nil, err
		}
		part := &xlsPart{file: f, buf: bufio.NewWriter(f)}
		wb.parts = append(wb.parts, part)
		cells := make([]any, len(headers))
		for j, h := range headers {
			cells[j] = h
		}
		if err := wb.AppendRow(i, cells); err != nil {
			wb.Discard()
			return nil, err
		}
	}
	return wb, nil
}

func (w *spreadsheetML) AppendRow(sheet int, cells []any) error {
	b := w.parts[sheet].buf
	b.WriteString("<Row>")
	for _, v := range cells {
		typ, text := "String", ""
		switch t := v.(type) {
		case nil:
		case bool:
			typ = "Boolean"
			text = "0"
			if t {
				text = "1"
			}
		case float64, float32, int, int64:
			typ = "Number"
			text, _ = cellString(t)
		default:
			text, _ = cellString(t)
		}
		b.WriteString(`<Cell><Data ss:Type="` + typ + `">`)
		if err := xml.EscapeText(b, []byte(text)); err != nil {
			return err
		}
		b.WriteString("</Data></Cell>")
	}
	_, err := b.WriteString("</Row>\n")
	return err
}

func (w *spreadsheetML) Close() error {
	out, err := os.Create(w.path)
	if err != nil {
		w.Discard()
		return err
	}
	bw := bufio.NewWriter(out)
	bw.WriteString(spreadsheetMLHead)
	for i, part := range w.parts {
		if err := part.buf.Flush(); err != nil {
			out.Close()
			w.Discard()
			return err
		}
		bw.WriteString(`<Worksheet ss:Name="Sheet` + strconv.Itoa(i+1) + `"><Table>` + "\n")
		if _, err := part.file.Seek(0, io.SeekStart); err != nil {
			out.Close()
			w.Discard()
			return err
		}
		if _, err := io.Copy(bw, part.file); err != nil {
			out.Close()
			w.Discard()
			return err
		}
		bw.WriteString("</Table></Worksheet>\n")
	}
	bw.WriteString("</Workbook>\n")
	if err := bw.Flush(); err != nil {
		out.Close()
		w.Discard()
		return err
	}
	w.removeParts()
	return out.Close()
}

func (w *spreadsheetML) removeParts() {
	for _, part := range w.parts {
		_ = part.file.Close()
		_ = os.Remove(part.file.Name())
	}
	w.parts = nil
}

func (w *spreadsheetML) Discard() {
	w.removeParts()
	_ = os.Remove(w.path)
}
