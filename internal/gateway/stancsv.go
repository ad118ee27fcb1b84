package gateway

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/csv"
)

const stanChunkRows = 1024

// ReadStanCSV parses a CmdStan output file: '#' comment lines (config,
// adaptation info, timing) interleaved with a header row and one row of
// numeric values per draw.
func ReadStanCSV(r io.Reader) (*Draws, error) {
	br := bufio.NewReader(r)

	var header string
	for {
		line, err := br.ReadString('\n')
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			header = strings.TrimRight(line, "\r\n")
			break
		}
		if err == io.EOF {
			return nil, fmt.Errorf("stan csv: no header row")
		}
		if err != nil {
			return nil, fmt.Errorf("stan csv: reading header: %w", err)
		}
	}

	names := strings.Split(header, ",")
	fields := make([]arrow.Field, len(names))
	for i, n := range names {
		names[i] = strings.TrimSpace(n)
		fields[i] = arrow.Field{Name: names[i], Type: arrow.PrimitiveTypes.Float64}
	}

	rd := csv.NewReader(io.MultiReader(strings.NewReader(header+"\n"), br), arrow.NewSchema(fields, nil),
		csv.WithHeader(true),
		csv.WithComment('#'),
		csv.WithChunk(stanChunkRows),
	)
	defer rd.Release()

	var rows [][]float64
	for rd.Next() {
		rec := rd.Record()
		cols := make([]*array.Float64, len(names))
		for c := range names {
			col, ok := rec.Column(c).(*array.Float64)
			if !ok {
				return nil, fmt.Errorf("stan csv: column %q is not numeric", names[c])
			}
			cols[c] = col
		}
		for i := 0; i < int(rec.NumRows()); i++ {
			row := make([]float64, len(names))
			for c, col := range cols {
				if col.IsNull(i) {
					return nil, fmt.Errorf("stan csv: missing value in column %q, draw %d", names[c], len(rows)+1)
				}
				row[c] = col.Value(i)
			}
			rows = append(rows, row)
		}
	}
	if err := rd.Err(); err != nil {
		return nil, fmt.Errorf("stan csv: %w", err)
	}
	return NewDraws(names, rows)
}
