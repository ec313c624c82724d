package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/golang/snappy"

	"github.com/dd0wney/cluso-cluster/pkg/delta"
)

// ActiveFileName is the fixed well-known name of the active WAL file.
// Sealed segments are archived under sequenced names next to it.
const ActiveFileName = "wal.log"

const (
	// footerMarker is the length-field sentinel introducing the seal
	// footer of a segment.
	footerMarker = ^uint32(0)

	recordFlagRaw    = byte(0)
	recordFlagSnappy = byte(1)
)

// Record framing: [len:4][flag:1][payload:len][crc32(payload):4].
// Seal footer:    [footerMarker:4][deltaCount:8][latestTx:8][runningCRC:4].
// The running CRC covers every payload byte written to the segment.

// segmentFile groups the logic of WAL file handling: flushing, naming
// and rotation. The active file has a fixed path; rotation seals it and
// moves it aside under a sequenced name.
type segmentFile struct {
	dir      string
	compress bool

	maxDeltas int
	maxBytes  int64

	file   *os.File
	writer *bufio.Writer

	runningCRC uint32
	deltaCount int
	latestTx   uint64
	bytes      int64
	nextSeq    int
}

func openSegmentFile(dir string, compress bool, maxDeltas int, maxBytes int64) (*segmentFile, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	sf := &segmentFile{
		dir:       dir,
		compress:  compress,
		maxDeltas: maxDeltas,
		maxBytes:  maxBytes,
	}

	// Continue the archive sequence after any existing segments.
	existing, err := SegmentFiles(dir)
	if err != nil {
		return nil, err
	}
	sf.nextSeq = len(existing)

	if err := sf.archiveLeftoverActive(); err != nil {
		return nil, err
	}
	if err := sf.openActive(); err != nil {
		return nil, err
	}
	return sf, nil
}

// archiveLeftoverActive moves a previous run's non-empty active file
// aside under the next sequenced name. The active path is truncated on
// open, so deltas flushed before a restart must be archived first.
func (sf *segmentFile) archiveLeftoverActive() error {
	info, err := os.Stat(sf.activePath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat active WAL file: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}
	return sf.archiveActive()
}

func (sf *segmentFile) activePath() string {
	return filepath.Join(sf.dir, ActiveFileName)
}

func (sf *segmentFile) openActive() error {
	file, err := os.OpenFile(sf.activePath(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to open active WAL file: %w", err)
	}
	sf.file = file
	sf.writer = bufio.NewWriter(file)
	sf.runningCRC = 0
	sf.deltaCount = 0
	sf.latestTx = 0
	sf.bytes = 0
	return nil
}

// writeDelta appends one framed delta to the active file
func (sf *segmentFile) writeDelta(d delta.StateDelta) error {
	payload := d.Marshal()
	flag := recordFlagRaw
	if sf.compress {
		payload = snappy.Encode(nil, payload)
		flag = recordFlagSnappy
	}

	if err := binary.Write(sf.writer, binary.LittleEndian, uint32(len(payload))); err != nil {
		return err
	}
	if err := sf.writer.WriteByte(flag); err != nil {
		return err
	}
	if _, err := sf.writer.Write(payload); err != nil {
		return err
	}
	crc := crc32.ChecksumIEEE(payload)
	if err := binary.Write(sf.writer, binary.LittleEndian, crc); err != nil {
		return err
	}

	sf.runningCRC = crc32.Update(sf.runningCRC, crc32.IEEETable, payload)
	sf.deltaCount++
	if d.TxID > sf.latestTx {
		sf.latestTx = d.TxID
	}
	sf.bytes += int64(4 + 1 + len(payload) + 4)
	return nil
}

// flush writes a batch of deltas, syncs, and rotates if a threshold was
// crossed. Returns the number of bytes written.
func (sf *segmentFile) flush(deltas []delta.StateDelta) (int, error) {
	before := sf.bytes
	for _, d := range deltas {
		if err := sf.writeDelta(d); err != nil {
			return 0, fmt.Errorf("failed to write delta: %w", err)
		}
	}
	if err := sf.writer.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush WAL writer: %w", err)
	}
	if err := sf.file.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync WAL file: %w", err)
	}

	written := int(sf.bytes - before)

	if sf.deltaCount >= sf.maxDeltas || sf.bytes >= sf.maxBytes {
		if err := sf.rotate(); err != nil {
			return written, err
		}
	}
	return written, nil
}

// seal writes the footer carrying delta count, highest transaction id
// and the final running checksum.
func (sf *segmentFile) seal() error {
	if err := binary.Write(sf.writer, binary.LittleEndian, footerMarker); err != nil {
		return err
	}
	if err := binary.Write(sf.writer, binary.LittleEndian, uint64(sf.deltaCount)); err != nil {
		return err
	}
	if err := binary.Write(sf.writer, binary.LittleEndian, sf.latestTx); err != nil {
		return err
	}
	if err := binary.Write(sf.writer, binary.LittleEndian, sf.runningCRC); err != nil {
		return err
	}
	if err := sf.writer.Flush(); err != nil {
		return err
	}
	return sf.file.Sync()
}

// rotate seals and archives the active file, then opens a fresh one at
// the fixed path.
func (sf *segmentFile) rotate() error {
	if err := sf.seal(); err != nil {
		return fmt.Errorf("failed to seal WAL segment: %w", err)
	}
	if err := sf.file.Close(); err != nil {
		return fmt.Errorf("failed to close WAL segment: %w", err)
	}

	if err := sf.archiveActive(); err != nil {
		return err
	}
	return sf.openActive()
}

// archiveActive renames the active file to the next sequenced segment
// name.
func (sf *segmentFile) archiveActive() error {
	archived := filepath.Join(sf.dir, fmt.Sprintf("wal_%06d.log", sf.nextSeq))
	if err := os.Rename(sf.activePath(), archived); err != nil {
		return fmt.Errorf("failed to archive WAL segment: %w", err)
	}
	sf.nextSeq++
	return nil
}

// close seals and closes the active file without archiving it. An
// empty active file is left unsealed so the next run reuses it.
func (sf *segmentFile) close() error {
	if sf.deltaCount > 0 {
		if err := sf.seal(); err != nil {
			return err
		}
	}
	return sf.file.Close()
}

// SegmentFiles returns the sealed segment files in the directory in
// rotation order.
func SegmentFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var segments []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "wal_") && strings.HasSuffix(name, ".log") {
			segments = append(segments, filepath.Join(dir, name))
		}
	}
	sort.Strings(segments)
	return segments, nil
}
