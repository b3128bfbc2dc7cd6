package paper

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"optionbot-go/internal/execution"
)

func TestJSONLRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paper", "fills.jsonl")

	recorder, err := NewJSONLRecorder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewJSONLRecorder error: %v", err)
	}
	fill := execution.Fill{OrderNo: "o-1", SecurityID: "45001", Symbol: "NIFTY-ATM-CE", Side: execution.Buy, Qty: 75, Price: 101.5}
	recorder.Record(fill)
	if err := recorder.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	recorder.Record(fill) // after close: ignored

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open recorded file: %v", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		t.Fatalf("expected one line in recorder output")
	}
	var decoded execution.Fill
	if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if decoded.Symbol != fill.Symbol || decoded.Side != fill.Side || decoded.Qty != 75 {
		t.Fatalf("unexpected decoded fill %+v", decoded)
	}
	if scanner.Scan() {
		t.Fatalf("expected exactly one line")
	}
}
