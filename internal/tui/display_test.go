package tui

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/smileynet/plotcaption/internal/task"
)

// --- isTTY ---

func TestIsTTY_NonFileWriter(t *testing.T) {
	var buf bytes.Buffer
	if isTTY(&buf) {
		t.Error("non-*os.File writer should not be a TTY")
	}
}

func TestIsTTY_RegularFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "test")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()

	if isTTY(f) {
		t.Error("regular file should not be a TTY")
	}
}

// --- Printer ---

func newTestPrinter(buf *bytes.Buffer) *Printer {
	p := NewPrinter(PrinterOptions{Writer: buf})
	p.now = func() time.Time { return time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC) }
	return p
}

func TestNewPrinter_PlainForNonTTY(t *testing.T) {
	var buf bytes.Buffer
	if NewPrinter(PrinterOptions{Writer: &buf}).styled {
		t.Error("printer over a buffer should be plain")
	}
}

func TestPrinter_Print(t *testing.T) {
	tests := []struct {
		name string
		msg  task.Message
		want string
	}{
		{"status", task.Status("r1", "Generating description (step 1/2)..."), "[09:30:00] Generating description (step 1/2)...\n"},
		{"field", task.UpdateField("r1", task.FieldCaption, "a cat"), "[09:30:00] caption (5 bytes)\n"},
		{"error", task.Error("r1", "Failed to load model: boom"), "[09:30:00] error: Failed to load model: boom\n"},
		{"done", task.Done("r1", "caption"), "[09:30:00] done: caption\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			newTestPrinter(&buf).Print(tt.msg)
			if got := buf.String(); got != tt.want {
				t.Errorf("Print() = %q, want %q", got, tt.want)
			}
		})
	}
}

type fieldMap map[task.FieldID]string

func (f fieldMap) Field(id task.FieldID) string { return f[id] }

func TestPrinter_FieldsSkipsEmpty(t *testing.T) {
	var buf bytes.Buffer
	newTestPrinter(&buf).Fields(fieldMap{
		task.FieldCaption:    "a cat on a sofa\n",
		task.FieldTags:       "  ",
		task.FieldCardOutput: "Name: Tom",
	})

	out := buf.String()
	if !strings.Contains(out, "== caption ==\na cat on a sofa\n") {
		t.Errorf("caption block missing:\n%s", out)
	}
	if !strings.Contains(out, "== card_output ==\nName: Tom\n") {
		t.Errorf("card block missing:\n%s", out)
	}
	if strings.Contains(out, "tags") {
		t.Errorf("blank field printed:\n%s", out)
	}
	if strings.Index(out, "caption") > strings.Index(out, "card_output") {
		t.Error("fields should print in display order")
	}
}
