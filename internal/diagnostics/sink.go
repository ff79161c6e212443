// Package diagnostics aggregates recoverable per-record drops. Dropped rows
// are never fatal: they are buffered with a reason and flushed next to the
// offending source file for later inspection, while the import continues.
package diagnostics

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Sink collects dropped rows per (source file, reason). Not safe for
// concurrent use; parallel workers count their own drops and report them
// into the sink during the sequential reduction phase.
type Sink struct {
	counts  map[string]int
	buffers map[string][][]string
}

func NewSink() *Sink {
	return &Sink{
		counts:  map[string]int{},
		buffers: map[string][][]string{},
	}
}

// Drop records one offending row from sourcePath, keyed by the field or
// reason that failed.
func (s *Sink) Drop(sourcePath, reason string, row []string) {
	key := errorFile(sourcePath, reason)
	s.counts[key]++
	if row != nil {
		s.buffers[key] = append(s.buffers[key], row)
	}
}

// Add records n drops with no row payload (used when a worker already
// counted them).
func (s *Sink) Add(sourcePath, reason string, n int) {
	if n <= 0 {
		return
	}
	s.counts[errorFile(sourcePath, reason)] += n
}

// Total reports the overall number of dropped records.
func (s *Sink) Total() int {
	total := 0
	for _, n := range s.counts {
		total += n
	}
	return total
}

// Summary returns drop counts per error file, sorted by path.
func (s *Sink) Summary() []string {
	keys := make([]string, 0, len(s.counts))
	for k := range s.counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s: %d", k, s.counts[k]))
	}
	return out
}

// Flush writes every buffered row set to its error file as tab-separated
// values and clears the buffers. Counts survive the flush.
func (s *Sink) Flush() error {
	for path, rows := range s.buffers {
		if err := writeTSV(path, rows); err != nil {
			return err
		}
		delete(s.buffers, path)
	}
	return nil
}

func errorFile(sourcePath, reason string) string {
	dir := filepath.Dir(sourcePath)
	name := filepath.Base(sourcePath)
	return filepath.Join(dir, fmt.Sprintf("___%s___%s_nas.tsv", name, reason))
}

func writeTSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("diagnostics: create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	w.Comma = '\t'
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return fmt.Errorf("diagnostics: write %s: %w", path, err)
	}
	return f.Close()
}
