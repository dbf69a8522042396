package compaction

import (
	"strconv"

	"github.com/gholt/brimtext"
)

// Stats summarizes one Iterator's work once fully drained, for
// cmd/sstbench's compact subcommand and operator logging. Supplements the
// distilled spec, which specifies the merge algorithm but not its
// reporting surface.
type Stats struct {
	SlicesEmitted  int64
	SlicesDropped  int64
	ColumnsEmitted int64
	ColumnsDropped int64
}

func (s *Stats) String() string {
	report := [][]string{
		{"SlicesEmitted", strconv.FormatInt(s.SlicesEmitted, 10)},
		{"SlicesDropped", strconv.FormatInt(s.SlicesDropped, 10)},
		{"ColumnsEmitted", strconv.FormatInt(s.ColumnsEmitted, 10)},
		{"ColumnsDropped", strconv.FormatInt(s.ColumnsDropped, 10)},
	}
	return brimtext.Align(report, nil)
}
