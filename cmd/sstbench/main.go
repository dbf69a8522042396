// Command sstbench exercises an sstable/compaction write-scan-compact cycle
// against synthetic data, reporting throughput and compaction stats the way
// the teacher's own brimstore-valuesstore benchmark reports store stats.
package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jessevdk/go-flags"
	"gopkg.in/gholt/brimutil.v1"

	"github.com/brimstore/sstable"
	"github.com/brimstore/sstable/columnkey"
	"github.com/brimstore/sstable/compaction"
)

type optsStruct struct {
	Dir           string `long:"dir" description:"Working directory for SST files. Default: a temp dir"`
	Number        int    `short:"n" long:"number" description:"Number of rows. Default: 100000"`
	Length        int    `short:"l" long:"length" description:"Value length in bytes. Default: 100"`
	Random        int    `long:"random" description:"Random number seed. Default: 0"`
	TombEvery     int    `long:"tomb-every" description:"Emit a tombstone for every Nth row in the second input SST. Default: 4"`
	Major         bool   `long:"major" description:"Run the compact subcommand as a major compaction"`
	GCBefore      int64  `long:"gc-before" description:"Tombstone reclamation threshold for major compaction"`
	MaxSliceBytes int    `long:"max-slice-bytes" description:"Per-slice size cap for compaction output. Default: 1<<21"`
	Positional    struct {
		Tests []string `name:"tests" description:"write scan compact"`
	} `positional-args:"yes"`

	rows  [][]byte
	value []byte
}

var opts optsStruct
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		args = append(args, "-h")
	}
	if _, err := parser.ParseArgs(args); err != nil {
		os.Exit(1)
	}
	for _, arg := range opts.Positional.Tests {
		switch arg {
		case "write", "scan", "compact":
		default:
			fmt.Fprintf(os.Stderr, "Unknown test named %#v.\n", arg)
			os.Exit(1)
		}
	}
	if opts.Number <= 0 {
		opts.Number = 100000
	}
	if opts.Length <= 0 {
		opts.Length = 100
	}
	if opts.TombEvery <= 0 {
		opts.TombEvery = 4
	}
	if opts.MaxSliceBytes <= 0 {
		opts.MaxSliceBytes = 1 << 21
	}
	if opts.Dir == "" {
		dir, err := os.MkdirTemp("", "sstbench")
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		opts.Dir = dir
		fmt.Println("using", dir)
	}
	opts.rows = makeRows(opts.Number, opts.Random)
	opts.value = make([]byte, opts.Length)
	brimutil.NewSeededScrambled(int64(opts.Random)).Read(opts.value)

	fmt.Println(opts.Number, "rows")
	fmt.Println(opts.Length, "value length")
	for _, arg := range opts.Positional.Tests {
		switch arg {
		case "write":
			write()
		case "scan":
			scan()
		case "compact":
			compactCmd()
		}
	}
}

func depth1() columnkey.Depth { return columnkey.Depth{columnkey.BytesComparator} }

func rowKey(row []byte) columnkey.Key {
	return columnkey.New(columnkey.BytesPartitionKey(row), []byte("v"))
}

// makeRows produces n distinct, sorted 16-byte row keys, following the
// teacher's own NewSeededScrambled-driven keyspace generation.
func makeRows(n, seed int) [][]byte {
	buf := make([]byte, n*16)
	brimutil.NewSeededScrambled(int64(seed)).Read(buf)
	rows := make([][]byte, n)
	for i := range rows {
		rows[i] = buf[i*16 : i*16+16]
	}
	sort.Slice(rows, func(i, j int) bool { return bytes.Compare(rows[i], rows[j]) < 0 })
	return rows
}

// write builds the two-input scenario compact will later merge: "sst-a"
// holds every row as a live column; "sst-b" holds a tombstone for every
// TombEvery-th row at a later timestamp, shadowing it.
func write() {
	begin := time.Now()
	wa, err := sstable.NewWriter(opts.Dir, "sst-a", depth1())
	must(err)
	wb, err := sstable.NewWriter(opts.Dir, "sst-b", depth1())
	must(err)
	meta := columnkey.EmptyMetadata(1)
	wroteB := 0
	for _, row := range opts.rows {
		k := rowKey(row)
		must(wa.Append(meta, k, columnkey.Column{Name: []byte("v"), Value: opts.value, Timestamp: 1}))
	}
	for i, row := range opts.rows {
		if i%opts.TombEvery != 0 {
			continue
		}
		k := rowKey(row)
		tomb := columnkey.Column{Name: []byte("v"), Timestamp: 2, Flags: columnkey.FlagTombstone, ExpireAt: int32(opts.GCBefore - 1)}
		must(wb.Append(meta, k, tomb))
		wroteB++
	}
	_, err = wa.Finalize()
	must(err)
	_, err = wb.Finalize()
	must(err)
	dur := time.Since(begin)
	fmt.Printf("%s %.0f/s to write %d rows (%d tombstones)\n", dur, float64(len(opts.rows))/dur.Seconds(), len(opts.rows), wroteB)
	fmt.Println("sst-a", wa.Stats().String())
	fmt.Println("sst-b", wb.Stats().String())
}

func openReader(name string) *sstable.Reader {
	r, err := sstable.OpenReader(opts.Dir, name, depth1())
	must(err)
	return r
}

func scan() {
	r := openReader("sst-a")
	defer r.Close()
	s, err := r.NewScanner()
	must(err)
	defer s.Close()
	begin := time.Now()
	var slices, cols int64
	for s.Get() != nil {
		sl := s.Get()
		slices++
		cols += int64(len(sl.Columns))
		ok, err := s.Next()
		must(err)
		if !ok {
			break
		}
	}
	dur := time.Since(begin)
	fmt.Printf("%s %.0f/s to scan %d slices, %d columns\n", dur, float64(slices)/dur.Seconds(), slices, cols)
}

func compactCmd() {
	ra := openReader("sst-a")
	rb := openReader("sst-b")
	sa, err := ra.NewScanner()
	must(err)
	sb, err := rb.NewScanner()
	must(err)

	it, err := compaction.NewIterator([]*sstable.Scanner{sa, sb}, depth1(), compaction.OptMajor(opts.Major), compaction.OptGCBefore(opts.GCBefore), compaction.OptTargetMaxSliceBytes(opts.MaxSliceBytes))
	must(err)
	defer it.Close()

	w, err := sstable.NewWriter(opts.Dir, "sst-compacted", depth1())
	must(err)

	begin := time.Now()
	for {
		s, err := it.Next()
		must(err)
		if s == nil {
			break
		}
		must(w.AppendSlice(*s))
	}
	r, err := w.Finalize()
	must(err)
	r.Close()
	ra.Close()
	rb.Close()
	dur := time.Since(begin)

	fmt.Printf("%s %.0f/s to compact (major=%v gcBefore=%d)\n", dur, float64(len(opts.rows))/dur.Seconds(), opts.Major, opts.GCBefore)
	fmt.Println(filepath.Join(opts.Dir, "sst-compacted.data"))
	fmt.Println(it.Stats().String())
}

func must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
