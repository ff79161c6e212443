package sessionizer

import (
	"compress/bzip2"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"activity-sync/internal/domain"
)

// PartitionSuffix is appended to a dump file name to form its sessionized
// output. The suffix doubles as the completion marker: a partition whose
// output exists is never reprocessed.
const PartitionSuffix = "___sessions.tsv.br"

const timeLayout = "2006-01-02 15:04:05"

// DumpFormat describes the raw CSV layout of one provider's dump files.
type DumpFormat struct {
	Delim     rune
	HasHeader bool
}

// Source is the slice of a provider adapter the partition scan needs: how
// to read the dump and how to turn one raw record into an event.
type Source interface {
	Name() string
	Dump() DumpFormat
	Normalize(fields []string) (domain.RawEvent, bool)
	Session() Options
}

// OutputPath returns the sessionized output path for a dump file.
func OutputPath(dumpPath string) string {
	return dumpPath + PartitionSuffix
}

// ProcessPartition sessionizes one dump file into its output file. When the
// output already exists the call is a guaranteed no-op (skipped = true):
// this is both the idempotence guard and the retry trigger, since a failed
// run leaves no output behind. dropped counts records the adapter rejected.
func ProcessPartition(src Source, dumpPath string) (outPath string, skipped bool, dropped int, err error) {
	outPath = OutputPath(dumpPath)
	if _, statErr := os.Stat(outPath); statErr == nil {
		return outPath, true, 0, nil
	}

	events, dropped, err := readDump(src, dumpPath)
	if err != nil {
		return "", false, 0, err
	}
	rows := Sessionize(events, src.Session())

	// Write through a temp file so a crash mid-write cannot leave a partial
	// output that would be mistaken for a completed partition.
	tmp := outPath + ".tmp"
	if err := writeRows(tmp, rows); err != nil {
		os.Remove(tmp)
		return "", false, 0, err
	}
	if err := os.Rename(tmp, outPath); err != nil {
		os.Remove(tmp)
		return "", false, 0, fmt.Errorf("sessionizer: commit %s: %w", outPath, err)
	}
	return outPath, false, dropped, nil
}

func readDump(src Source, path string) ([]domain.RawEvent, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("sessionizer: open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".bz2") {
		r = bzip2.NewReader(f)
	}

	format := src.Dump()
	reader := csv.NewReader(r)
	reader.Comma = format.Delim
	if reader.Comma == 0 {
		reader.Comma = ','
	}
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var events []domain.RawEvent
	dropped := 0
	first := true
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("sessionizer: read %s: %w", path, err)
		}
		if first && format.HasHeader {
			first = false
			continue
		}
		first = false
		ev, ok := src.Normalize(record)
		if !ok {
			dropped++
			continue
		}
		events = append(events, ev)
	}
	return events, dropped, nil
}

func writeRows(path string, rows []domain.SessionRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("sessionizer: create %s: %w", path, err)
	}
	bw := brotli.NewWriter(f)
	w := csv.NewWriter(bw)
	w.Comma = '\t'

	for _, row := range rows {
		err := w.Write([]string{
			row.ProfileID,
			row.ContentID,
			row.Date,
			row.Start.Format(timeLayout),
			row.End.Format(timeLayout),
			strconv.FormatInt(row.DT, 10),
		})
		if err != nil {
			f.Close()
			return fmt.Errorf("sessionizer: write %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	if err := bw.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadPartition loads a sessionized output file back for the append phase.
func ReadPartition(path string) ([]domain.SessionRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sessionizer: open partition %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(brotli.NewReader(f))
	reader.Comma = '\t'
	reader.FieldsPerRecord = 6

	var rows []domain.SessionRow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("sessionizer: read partition %s: %w", path, err)
		}
		start, err := time.Parse(timeLayout, record[3])
		if err != nil {
			return nil, fmt.Errorf("sessionizer: partition %s: bad start %q: %w", path, record[3], err)
		}
		end, err := time.Parse(timeLayout, record[4])
		if err != nil {
			return nil, fmt.Errorf("sessionizer: partition %s: bad end %q: %w", path, record[4], err)
		}
		dt, err := strconv.ParseInt(record[5], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("sessionizer: partition %s: bad dt %q: %w", path, record[5], err)
		}
		rows = append(rows, domain.SessionRow{
			ProfileID: record[0],
			ContentID: record[1],
			Date:      record[2],
			Start:     start,
			End:       end,
			DT:        dt,
		})
	}
	return rows, nil
}
