package resource

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/xuri/excelize/v2"

	"github.com/emaalouf/HIS-sub006/internal/platform/query"
	"github.com/emaalouf/HIS-sub006/internal/platform/store"
)

// MaxExportRows caps the rows written by one export.
const MaxExportRows = 10000

const (
	sheetName = "Sheet1"
	mimeXLSX  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Export writes the filtered, sorted list as an XLSX workbook. Pagination
// parameters are ignored.
func (h *Handler) Export(c echo.Context) error {
	ctx := c.Request().Context()
	rows, err := h.svc.ListAll(ctx, query.RequestFromContext(c), MaxExportRows)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, h.svc.Resource().Descriptor, rows); err != nil {
		return err
	}
	name := fmt.Sprintf("%s-%s.xlsx", h.svc.Resource().Slug, time.Now().UTC().Format("20060102"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Blob(http.StatusOK, mimeXLSX, buf.Bytes())
}

// WriteXLSX renders rows with one column per descriptor field.
func WriteXLSX(w io.Writer, d *query.Descriptor, rows []store.Record) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	header := make([]any, len(d.Fields))
	for i, fld := range d.Fields {
		header[i] = fld.Name
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("write xlsx header: %w", err)
	}
	for r, rec := range rows {
		cells := make([]any, len(d.Fields))
		for i, fld := range d.Fields {
			cells[i] = cellValue(rec[fld.Name])
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheetName, cell, &cells); err != nil {
			return fmt.Errorf("write xlsx row %d: %w", r+1, err)
		}
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func cellValue(v any) any {
	switch t := v.(type) {
	case nil:
		return ""
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return t
	}
}
