package archive

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nvandessel/choice-lab/internal/panel"
	"github.com/nvandessel/choice-lab/internal/simulation"
)

func testRecord(t *testing.T, holdout int) *panel.Record {
	t.Helper()
	res, err := simulation.NewRunner(nil, nil).Run(context.Background(), simulation.Scenario{
		Name:    "archive",
		Dims:    panel.Dims{R: 4, T: 7, A: 3, L: 5, C: 1},
		Seed:    99,
		Holdout: holdout,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res.Record
}

func TestEncodeDecode(t *testing.T) {
	rec := testRecord(t, 2)

	var buf bytes.Buffer
	header, err := Encode(&buf, rec, map[string]string{"seed": "99"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if header.Holdout != 2 || header.Kind != panel.KindSimulated || header.Dims != rec.Dims {
		t.Errorf("header = %+v", header)
	}

	got, gotHeader, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	simulation.AssertIdenticalPanels(t, rec, got)
	if got.Split == nil || got.Split.Holdout != 2 {
		t.Errorf("split not restored: %+v", got.Split)
	}
	for i, g := range rec.Gamma {
		if got.Gamma[i] != g {
			t.Errorf("Gamma[%d] = %g, want %g", i, got.Gamma[i], g)
		}
	}
	if gotHeader.Metadata["seed"] != "99" {
		t.Errorf("metadata = %v", gotHeader.Metadata)
	}
}

func TestDecodeDetectsCorruption(t *testing.T) {
	data, err := Marshal(testRecord(t, 0), nil)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-3] ^= 0xff

	if _, _, err := Unmarshal(data); !errors.Is(err, ErrChecksum) {
		t.Errorf("Unmarshal() error = %v, want ErrChecksum", err)
	}
}

func TestDecodeRejectsUnknownFormat(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"no newline", `{"version":1}`},
		{"not json", "hello\n"},
		{"future version", `{"version":7,"checksum":"x"}` + "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := Unmarshal([]byte(tt.in)); !errors.Is(err, ErrFormat) {
				t.Errorf("Unmarshal() error = %v, want ErrFormat", err)
			}
		})
	}
}

func TestEncodeRejectsInvalidRecord(t *testing.T) {
	rec := testRecord(t, 0)
	rec.Y.Data[0] = 0
	if _, err := Marshal(rec, nil); !errors.Is(err, panel.ErrShapeMismatch) {
		t.Errorf("Marshal() error = %v, want ErrShapeMismatch", err)
	}
}

func TestWriteReadVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "run"+Ext)
	rec := testRecord(t, 3)

	if _, err := Write(path, rec, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := Verify(path); err != nil {
		t.Errorf("Verify: %v", err)
	}
	header, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if header.Version != Version || header.Holdout != 3 {
		t.Errorf("header = %+v", header)
	}
	got, _, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	simulation.AssertIdenticalPanels(t, rec, got)

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestCountPolicy(t *testing.T) {
	now := time.Now()
	archives := []Info{
		{Path: "/a/3", CreatedAt: now},
		{Path: "/a/2", CreatedAt: now.Add(-time.Hour)},
		{Path: "/a/1", CreatedAt: now.Add(-2 * time.Hour)},
	}
	keep := (&CountPolicy{MaxCount: 2}).Apply(archives)
	if len(keep) != 2 || keep[1].Path != "/a/2" {
		t.Errorf("kept %v", keep)
	}
	if got := (&CountPolicy{MaxCount: 5}).Apply(archives); len(got) != 3 {
		t.Errorf("kept %d, want 3", len(got))
	}
}

func TestAgePolicy(t *testing.T) {
	now := time.Now()
	archives := []Info{
		{Path: "/a/new", CreatedAt: now.Add(-time.Hour)},
		{Path: "/a/old", CreatedAt: now.Add(-72 * time.Hour)},
	}
	keep := (&AgePolicy{MaxAge: 24 * time.Hour}).Apply(archives)
	if len(keep) != 1 || keep[0].Path != "/a/new" {
		t.Errorf("kept %v", keep)
	}
}

func TestListAndPrune(t *testing.T) {
	dir := t.TempDir()
	rec := testRecord(t, 0)
	for _, name := range []string{"a", "b", "c"} {
		if _, err := Write(filepath.Join(dir, name+Ext), rec, map[string]string{"name": name}); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	list, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("List returned %d archives, want 3", len(list))
	}
	if list[0].Header == nil || list[0].Header.Metadata["name"] != "c" {
		t.Errorf("newest = %+v, want c", list[0])
	}

	deleted, err := Prune(dir, &CountPolicy{MaxCount: 1})
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if len(deleted) != 2 {
		t.Errorf("deleted %v, want 2 files", deleted)
	}
	if _, err := os.Stat(filepath.Join(dir, "c"+Ext)); err != nil {
		t.Errorf("newest archive removed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "notes.txt")); err != nil {
		t.Errorf("unrelated file removed: %v", err)
	}
}

func TestListMissingDir(t *testing.T) {
	list, err := List(filepath.Join(t.TempDir(), "absent"))
	if err != nil || list != nil {
		t.Errorf("List() = %v, %v", list, err)
	}
}
