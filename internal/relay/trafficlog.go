package relay

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Traffic directions as written to the traffic log
const (
	trafficOut = "->"
	trafficIn  = "<-"
)

const trafficTimeLayout = "2006-01-02 15:04:05"

// trafficLog is an append-only record of every line relayed for one
// (server, upstream) pair. Once the file passes maxBytes it is compressed
// to <name>.<unix>.gz and a new file is started.
type trafficLog struct {
	path     string
	maxBytes int64
	file     *os.File
	size     int64
}

func trafficLogName(server, upstream string) string {
	clean := func(s string) string {
		return strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
				return r
			default:
				return '_'
			}
		}, s)
	}
	return clean(server) + "_" + clean(upstream) + ".log"
}

func openTrafficLog(dir, server, upstream string, maxBytes int64) (*trafficLog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating traffic log dir: %w", err)
	}
	t := &trafficLog{
		path:     filepath.Join(dir, trafficLogName(server, upstream)),
		maxBytes: maxBytes,
	}
	if err := t.open(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *trafficLog) open() error {
	file, err := os.OpenFile(t.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening traffic log: %w", err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat traffic log: %w", err)
	}
	t.file = file
	t.size = stat.Size()
	return nil
}

// Write appends one timestamped entry
func (t *trafficLog) Write(now time.Time, direction, line string) error {
	if t == nil || t.file == nil {
		return nil
	}
	entry := fmt.Sprintf("[%s] %s %s\n", now.Format(trafficTimeLayout), direction, line)
	n, err := t.file.WriteString(entry)
	t.size += int64(n)
	if err != nil {
		return fmt.Errorf("writing traffic log: %w", err)
	}
	if t.maxBytes > 0 && t.size >= t.maxBytes {
		return t.rotate(now)
	}
	return nil
}

// rotate compresses the current file and starts a fresh one
func (t *trafficLog) rotate(now time.Time) error {
	if err := t.file.Close(); err != nil {
		return fmt.Errorf("closing traffic log: %w", err)
	}
	t.file = nil

	archive := fmt.Sprintf("%s.%d.gz", t.path, now.Unix())
	if err := compressFile(t.path, archive); err != nil {
		return err
	}
	if err := os.Remove(t.path); err != nil {
		return fmt.Errorf("removing rotated traffic log: %w", err)
	}
	return t.open()
}

func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	defer out.Close()

	zw := gzip.NewWriter(out)
	zw.Name = filepath.Base(src)
	if _, err := io.Copy(zw, in); err != nil {
		zw.Close()
		return fmt.Errorf("compressing %s: %w", src, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finishing %s: %w", dst, err)
	}
	return nil
}

// Close closes the underlying file
func (t *trafficLog) Close() error {
	if t == nil || t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}
