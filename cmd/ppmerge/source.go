package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	pp "github.com/zhangzqs/partitionpager-go"
)

// lineSource pages through the non-blank lines of a file. The cursor is the number of
// lines already returned.
type lineSource struct {
	path string
}

func (s lineSource) List(ctx context.Context, cursor pp.Cursor, limit int) (pp.ListResult[[]byte], error) {
	if err := ctx.Err(); err != nil {
		return pp.ListResult[[]byte]{}, err
	}
	skip := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return pp.ListResult[[]byte]{}, fmt.Errorf("bad cursor %q for %s", cursor, s.path)
		}
		skip = n
	}

	f, err := os.Open(s.path)
	if err != nil {
		return pp.ListResult[[]byte]{}, err
	}
	defer f.Close()

	var lines [][]byte
	seen := 0
	more := false
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		seen++
		if seen <= skip {
			continue
		}
		if len(lines) == limit {
			more = true
			break
		}
		lines = append(lines, bytes.Clone(line))
	}
	if err := scanner.Err(); err != nil {
		return pp.ListResult[[]byte]{}, fmt.Errorf("read %s: %w", s.path, err)
	}

	result := pp.ListResult[[]byte]{Items: lines, HasMore: more}
	if more {
		result.NextCursor = strconv.Itoa(skip + len(lines))
	}
	return result, nil
}

func decodeDocument(line []byte) (pp.Document, error) {
	var d pp.Document
	if err := json.Unmarshal(line, &d); err != nil {
		return d, fmt.Errorf("decode document: %w", err)
	}
	return d, nil
}

// documentSource reads partition documents from a JSON-lines file.
func documentSource(path string) pp.DataSource[pp.Document] {
	return pp.NewDecodingDataSource[[]byte, pp.Document](lineSource{path: path}, decodeDocument)
}
