package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/iota-uz/roster/modules/roster/domain/normalize"
	"github.com/iota-uz/roster/modules/roster/domain/snapshot"
)

type column string

const (
	colRegistryID  column = "registry_id"
	colName        column = "name"
	colCommand     column = "command"
	colRegional    column = "regional"
	colDivision    column = "division"
	colRole        column = "role"
	colRank        column = "rank"
	colObservation column = "observation"
	colActionCode  column = "action_code"
	colLeaveStart  column = "leave_start"
	colLeaveEnd    column = "leave_end"
)

// headerAliases maps normalized header text to a column. Keys go through
// normalize.Person, so accents, case and punctuation do not matter.
var headerAliases = func() map[string]column {
	raw := map[column][]string{
		colRegistryID:  {"registry_id", "registry id", "matricula", "re", "id"},
		colName:        {"name", "nome", "nome completo"},
		colCommand:     {"command", "comando"},
		colRegional:    {"regional"},
		colDivision:    {"division", "divisao"},
		colRole:        {"role", "funcao", "cargo"},
		colRank:        {"rank", "grau"},
		colObservation: {"observation", "observacao", "obs"},
		colActionCode:  {"action_code", "action", "acao", "codigo acao"},
		colLeaveStart:  {"leave_start", "inicio afastamento", "inicio"},
		colLeaveEnd:    {"leave_end", "fim afastamento", "fim", "retorno"},
	}
	out := make(map[string]column)
	for col, names := range raw {
		for _, n := range names {
			out[normalize.Person(n)] = col
		}
	}
	return out
}()

type rowError struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

func mapHeader(header []string) (map[column]int, error) {
	idx := make(map[column]int, len(header))
	for i, h := range header {
		col, ok := headerAliases[normalize.Person(h)]
		if !ok {
			continue
		}
		if _, dup := idx[col]; dup {
			return nil, fmt.Errorf("column %s appears twice in the header", col)
		}
		idx[col] = i
	}
	for _, req := range []column{colRegistryID, colName} {
		if _, ok := idx[req]; !ok {
			return nil, fmt.Errorf("missing required header column: %s", req)
		}
	}
	return idx, nil
}

// parseRegistryID keeps the digits of a registry id; spreadsheets often
// carry it as "123.456-7".
func parseRegistryID(raw string) (int64, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0, fmt.Errorf("registry id %q has no digits", raw)
	}
	id, err := strconv.ParseInt(b.String(), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid registry id %q", raw)
	}
	return id, nil
}

// toRows converts sheet records into snapshot rows. Blank records are
// skipped; records that cannot be read are returned as errors and left out.
func toRows(records [][]string) ([]snapshot.Row, []rowError, error) {
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("missing header")
	}
	idx, err := mapHeader(records[0])
	if err != nil {
		return nil, nil, err
	}
	cell := func(rec []string, col column) string {
		i, ok := idx[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	optTime := func(rec []string, col column) (*time.Time, error) {
		v := cell(rec, col)
		if v == "" {
			return nil, nil
		}
		t, err := parseTimeField(v)
		if err != nil {
			return nil, err
		}
		return &t, nil
	}

	rows := make([]snapshot.Row, 0, len(records)-1)
	var errs []rowError
	for n, rec := range records[1:] {
		line := n + 2
		if blank(rec) {
			continue
		}
		id, err := parseRegistryID(cell(rec, colRegistryID))
		if err != nil {
			errs = append(errs, rowError{Line: line, Message: err.Error()})
			continue
		}
		row := snapshot.Row{
			Line:        line,
			RegistryID:  id,
			Name:        cell(rec, colName),
			Command:     cell(rec, colCommand),
			Regional:    cell(rec, colRegional),
			Division:    cell(rec, colDivision),
			Role:        cell(rec, colRole),
			Rank:        cell(rec, colRank),
			Observation: cell(rec, colObservation),
			ActionCode:  cell(rec, colActionCode),
		}
		if row.LeaveStart, err = optTime(rec, colLeaveStart); err != nil {
			errs = append(errs, rowError{Line: line, Message: "leave_start: " + err.Error()})
			continue
		}
		if row.LeaveEnd, err = optTime(rec, colLeaveEnd); err != nil {
			errs = append(errs, rowError{Line: line, Message: "leave_end: " + err.Error()})
			continue
		}
		rows = append(rows, row)
	}
	return rows, errs, nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
