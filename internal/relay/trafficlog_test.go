package relay

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
)

func TestTrafficLogName(t *testing.T) {
	if got := trafficLogName("Jelly Marathon", "dev/bot"); got != "Jelly_Marathon_dev_bot.log" {
		t.Errorf("trafficLogName = %q", got)
	}
}

func TestTrafficLogWrite(t *testing.T) {
	dir := t.TempDir()
	tl, err := openTrafficLog(dir, "srv", "devbot", 0)
	if err != nil {
		t.Fatalf("openTrafficLog: %v", err)
	}
	now := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)
	if err := tl.Write(now, trafficOut, "lGAME\x02x"); err != nil {
		t.Fatal(err)
	}
	if err := tl.Write(now, trafficIn, "cping"); err != nil {
		t.Fatal(err)
	}
	if err := tl.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "srv_devbot.log"))
	if err != nil {
		t.Fatal(err)
	}
	want := "[2026-10-18 09:30:00] -> lGAME\x02x\n[2026-10-18 09:30:00] <- cping\n"
	if string(data) != want {
		t.Errorf("log content = %q, want %q", data, want)
	}
}

func TestTrafficLogRotation(t *testing.T) {
	dir := t.TempDir()
	tl, err := openTrafficLog(dir, "srv", "devbot", 64)
	if err != nil {
		t.Fatalf("openTrafficLog: %v", err)
	}
	defer tl.Close()

	now := time.Unix(1700000000, 0)
	line := strings.Repeat("x", 80)
	if err := tl.Write(now, trafficOut, line); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if tl.size != 0 {
		t.Errorf("size after rotation = %d, want 0", tl.size)
	}

	f, err := os.Open(filepath.Join(dir, "srv_devbot.log.1700000000.gz"))
	if err != nil {
		t.Fatalf("rotated archive missing: %v", err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	content, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), line) {
		t.Errorf("archive does not contain the rotated entry: %q", content)
	}
}

func TestNilTrafficLogIsNoop(t *testing.T) {
	var tl *trafficLog
	if err := tl.Write(time.Now(), trafficOut, "x"); err != nil {
		t.Errorf("Write on nil log: %v", err)
	}
	if err := tl.Close(); err != nil {
		t.Errorf("Close on nil log: %v", err)
	}
}

func TestRelayWritesTrafficLog(t *testing.T) {
	dir := t.TempDir()
	s := upstream("devbot", 1001)
	s.LogTraffic = true
	h := newHarness(t, s)
	h.relay.opts.TrafficLogDir = dir
	h.start()

	h.upstreamSends("devbot", "cclientlist\n")
	h.relay.Detach()

	data, err := os.ReadFile(filepath.Join(dir, "test-server_devbot.log"))
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	for _, want := range []string{"-> v\x02004\x025.42", "-> aRelayBot", "<- cclientlist"} {
		if !strings.Contains(content, want) {
			t.Errorf("traffic log missing %q:\n%s", want, content)
		}
	}
}
