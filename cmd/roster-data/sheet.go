package main

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
)

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// readSheet returns every record of the first worksheet (xlsx) or of the
// CSV file at path. The first record is the header.
func readSheet(path string) ([][]string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, withCode(exitUsage, errors.Wrapf(err, "open %s", path))
	}
	switch {
	case mt.Is(xlsxMIME), mt.Is("application/zip"):
		return readXLSX(path)
	case mt.Is("text/csv"), mt.Is("text/plain"), mt.Is("text/tab-separated-values"):
		return readCSV(path)
	default:
		return nil, withCode(exitValidation, fmt.Errorf("%s: unsupported file type %s (want .xlsx or .csv)", path, mt.String()))
	}
}

func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, withCode(exitValidation, errors.Wrapf(err, "open workbook %s", path))
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, withCode(exitValidation, fmt.Errorf("%s: workbook has no sheets", path))
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, withCode(exitValidation, errors.Wrapf(err, "read sheet %q", sheets[0]))
	}
	return rows, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, withCode(exitUsage, errors.Wrapf(err, "open %s", path))
	}
	defer func() { _ = f.Close() }()

	br := stripUTF8BOM(bufio.NewReader(f))
	r := csv.NewReader(br)
	r.FieldsPerRecord = -1
	r.Comma = sniffDelimiter(br)

	var out [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, withCode(exitValidation, errors.Wrapf(err, "parse %s", path))
		}
		for i := range rec {
			if !utf8.ValidString(rec[i]) {
				line, _ := r.FieldPos(i)
				return nil, withCode(exitValidation, fmt.Errorf("%s:%d: invalid utf-8", path, line))
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func stripUTF8BOM(r *bufio.Reader) *bufio.Reader {
	b, err := r.Peek(3)
	if err == nil && len(b) == 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		_, _ = r.Discard(3)
	}
	return r
}

// sniffDelimiter picks ';' when the header line has more semicolons than
// commas, as spreadsheets exported with a Portuguese locale do.
func sniffDelimiter(r *bufio.Reader) rune {
	peek, _ := r.Peek(4096)
	line := string(peek)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if strings.Count(line, ";") > strings.Count(line, ",") {
		return ';'
	}
	return ','
}
