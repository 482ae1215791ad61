package sink

import (
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"
)

// xlsxBook streams every sheet of one .xlsx file through excelize stream
// writers; rows are spooled by excelize and assembled on SaveAs.
type xlsxBook struct {
	path    string
	file    *excelize.File
	writers []*excelize.StreamWriter
	rows    []int
}

func openXLSX(path string, sheets [][]string) (workbook, error) {
	f := excelize.NewFile()
	wb := &xlsxBook{path: path, file: f}
	for i, headers := range sheets {
		name := "Sheet" + strconv.Itoa(i+1)
		if i > 0 {
			if _, err := f.NewSheet(name); err != nil {
				wb.Discard()
				return nil, err
			}
		}
		sw, err := f.NewStreamWriter(name)
		if err != nil {
			wb.Discard()
			return nil, err
		}
		wb.writers = append(wb.writers, sw)
		wb.rows = append(wb.rows, 0)
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

func (b *xlsxBook) AppendRow(sheet int, cells []any) error {
	b.rows[sheet]++
	cell, err := excelize.CoordinatesToCellName(1, b.rows[sheet])
	if err != nil {
		return err
	}
	row := make([]any, len(cells))
	for i, v := range cells {
		switch v.(type) {
		case nil, string, bool, float64, int, int64, time.Time:
			row[i] = v
		default:
			row[i], _ = cellString(v)
		}
	}
	return b.writers[sheet].SetRow(cell, row)
}

func (b *xlsxBook) Close() error {
	defer b.file.Close()
	for _, sw := range b.writers {
		if err := sw.Flush(); err != nil {
			return err
		}
	}
	return b.file.SaveAs(b.path)
}

func (b *xlsxBook) Discard() {
	_ = b.file.Close()
}
