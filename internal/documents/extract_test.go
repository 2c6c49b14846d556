package documents

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ledongthuc/pdf"
)

type fakePages [][]TextBox

func (f fakePages) NumPages() int { return len(f) }

func (f fakePages) Page(i int) ([]TextBox, error) { return f[i], nil }

type failingPages struct{}

func (failingPages) NumPages() int                { return 1 }
func (failingPages) Page(int) ([]TextBox, error) { return nil, errors.New("corrupt page") }

func TestOrderBlocks(t *testing.T) {
	pages := fakePages{
		{
			{X0: 300, Y0: 100, Text: "right column"},
			{X0: 50, Y0: 100, Text: "left column"},
			{X0: 50, Y0: 20, Text: "Title"},
			{X0: 50, Y0: 60, Text: "arXiv:2405.13599v1 [cs.SE]"},
		},
		{},
		{
			{X0: 50, Y0: 40, Text: "second page"},
		},
	}

	blocks, err := OrderBlocks(pages)
	if err != nil {
		t.Fatalf("OrderBlocks() error = %v", err)
	}
	want := []Block{
		{ID: "block_1", Text: "Title"},
		{ID: "block_2", Text: ""},
		{ID: "block_3", Text: "left column"},
		{ID: "block_4", Text: "right column"},
		{ID: "block_5", Text: "second page"},
	}
	if len(blocks) != len(want) {
		t.Fatalf("got %d blocks, want %d: %+v", len(blocks), len(want), blocks)
	}
	for i := range want {
		if blocks[i] != want[i] {
			t.Errorf("blocks[%d] = %+v, want %+v", i, blocks[i], want[i])
		}
	}
}

func TestOrderBlocksPageError(t *testing.T) {
	if _, err := OrderBlocks(failingPages{}); err == nil {
		t.Fatal("expected page error")
	}
}

func TestGroupRuns(t *testing.T) {
	// Bottom-up coordinates on a 800pt page: a two-line paragraph, a gap,
	// then a footer line.
	runs := []pdf.Text{
		{X: 60, Y: 700, W: 20, FontSize: 10, S: "line"},
		{X: 50, Y: 700, W: 8, FontSize: 10, S: "A"},
		{X: 50, Y: 688, W: 30, FontSize: 10, S: "two-"},
		{X: 50, Y: 100, W: 30, FontSize: 10, S: "Page 3"},
	}
	boxes := groupRuns(runs, 800)
	if len(boxes) != 2 {
		t.Fatalf("got %d boxes, want 2: %+v", len(boxes), boxes)
	}
	if boxes[0].Text != "A line\ntwo-" {
		t.Errorf("first box text = %q", boxes[0].Text)
	}
	if boxes[0].Y0 >= boxes[1].Y0 {
		t.Errorf("boxes not top-down: %v then %v", boxes[0].Y0, boxes[1].Y0)
	}
	if groupRuns(nil, 800) != nil {
		t.Error("expected no boxes for empty page")
	}
}

func TestExtractRejectsNonPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pdf")
	if err := os.WriteFile(path, []byte("not a pdf"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Extract(path); !errors.Is(err, ErrExtraction) {
		t.Fatalf("Extract() error = %v, want ErrExtraction", err)
	}
	if _, err := Extract(filepath.Join(t.TempDir(), "missing.pdf")); !errors.Is(err, ErrExtraction) {
		t.Fatalf("Extract() missing file error = %v, want ErrExtraction", err)
	}
}
