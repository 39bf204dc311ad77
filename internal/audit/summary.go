package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/tkingovr/quotaguard/api"
)

// Summary aggregates a decision log.
type Summary struct {
	Total     int                 `json:"total"`
	ByOutcome map[api.Outcome]int `json:"by_outcome"`
	ByFlag    map[string]int      `json:"by_response_flag"`
	ByService map[string]int      `json:"by_service"`
}

// Summarize reads JSONL decision records from r.
func Summarize(r io.Reader) (*Summary, error) {
	s := &Summary{
		ByOutcome: make(map[api.Outcome]int),
		ByFlag:    make(map[string]int),
		ByService: make(map[string]int),
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		var rec api.DecisionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		s.Total++
		s.ByOutcome[rec.Outcome]++
		if rec.ResponseFlags != "" && rec.ResponseFlags != "-" {
			for _, f := range strings.Split(rec.ResponseFlags, ",") {
				s.ByFlag[f]++
			}
		}
		if rec.Service != "" {
			s.ByService[rec.Service]++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading decision log: %w", err)
	}
	return s, nil
}
