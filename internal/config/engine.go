package config

import (
	"github.com/godata/exporter/internal/export"
	"github.com/godata/exporter/internal/export/sink"
)

// Engine maps the export section onto the engine configuration.
func (c ExportConfig) Engine() export.Config {
	return export.Config{
		BatchSize:            c.BatchSize,
		TmpDir:               c.TmpDir,
		DefaultLanguage:      c.DefaultLanguage,
		AnonymizePlaceholder: c.AnonymizePlaceholder,
		TokenPrefix:          c.TokenPrefix,
		LocationBatchSize:    c.LocationBatchSize,
		RenderWorkers:        c.RenderWorkers,
		LocationCollection:   c.Collections.Location,
		TokenCollection:      c.Collections.LanguageToken,
		Limits: map[sink.Format]export.Limit{
			sink.FormatXLSX: {MaxColumns: c.XLSX.MaxColumns, MaxRows: c.XLSX.MaxRows},
			sink.FormatXLS:  {MaxColumns: c.XLS.MaxColumns, MaxRows: c.XLS.MaxRows},
		},
	}
}
