package documents

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Block is one positioned run of text on a page.
type Block struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// TextBox is a block of raw text with its bounding box in top-left page
// coordinates (y grows downward).
type TextBox struct {
	X0, Y0, X1, Y1 float64
	Text           string
}

// PageSource yields the text boxes of a document page by page.
type PageSource interface {
	NumPages() int
	Page(index int) ([]TextBox, error)
}

// OrderBlocks assigns block ids in reading order: pages in sequence, boxes
// within a page by (top, left). Ids increase across the whole document.
// Blocks that clean down to nothing keep their id.
func OrderBlocks(src PageSource) ([]Block, error) {
	var blocks []Block
	for i := 0; i < src.NumPages(); i++ {
		boxes, err := src.Page(i)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i+1, err)
		}
		sorted := append([]TextBox(nil), boxes...)
		sort.SliceStable(sorted, func(a, b int) bool {
			if sorted[a].Y0 != sorted[b].Y0 {
				return sorted[a].Y0 < sorted[b].Y0
			}
			return sorted[a].X0 < sorted[b].X0
		})
		for _, box := range sorted {
			blocks = append(blocks, Block{
				ID:   "block_" + strconv.Itoa(len(blocks)+1),
				Text: CleanBlock(box.Text),
			})
		}
	}
	return blocks, nil
}

// Extract reads the PDF at path and returns its cleaned blocks.
func Extract(path string) (blocks []Block, err error) {
	defer func() {
		if r := recover(); r != nil {
			blocks = nil
			err = fmt.Errorf("%w: %s: %v", ErrExtraction, path, r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrExtraction, path, err)
	}
	defer f.Close()

	blocks, err = OrderBlocks(pdfPages{reader: reader})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrExtraction, path, err)
	}
	return blocks, nil
}

// pdfPages adapts a pdf.Reader. The library reports individual text runs
// with baseline coordinates, so runs are joined into lines and lines into
// blocks separated by vertical gaps.
type pdfPages struct {
	reader *pdf.Reader
}

func (p pdfPages) NumPages() int { return p.reader.NumPage() }

func (p pdfPages) Page(index int) ([]TextBox, error) {
	page := p.reader.Page(index + 1)
	if page.V.IsNull() {
		return nil, nil
	}
	return groupRuns(page.Content().Text, pageHeight(page)), nil
}

const defaultPageHeight = 792

func pageHeight(page pdf.Page) float64 {
	box := page.V.Key("MediaBox")
	if box.Len() == 4 {
		if h := box.Index(3).Float64() - box.Index(1).Float64(); h > 0 {
			return h
		}
	}
	return defaultPageHeight
}

type textLine struct {
	x0, x1   float64
	baseline float64
	size     float64
	text     strings.Builder
}

// groupRuns converts text runs (bottom-up coordinates) into blocks.
func groupRuns(runs []pdf.Text, height float64) []TextBox {
	if len(runs) == 0 {
		return nil
	}
	runs = append([]pdf.Text(nil), runs...)
	sort.SliceStable(runs, func(a, b int) bool {
		if runs[a].Y != runs[b].Y {
			return runs[a].Y > runs[b].Y
		}
		return runs[a].X < runs[b].X
	})

	var grouped [][]pdf.Text
	for i, run := range runs {
		if i == 0 || !sameLine(grouped[len(grouped)-1][0], run) {
			grouped = append(grouped, nil)
		}
		grouped[len(grouped)-1] = append(grouped[len(grouped)-1], run)
	}

	lines := make([]*textLine, 0, len(grouped))
	for _, group := range grouped {
		sort.SliceStable(group, func(a, b int) bool { return group[a].X < group[b].X })
		line := &textLine{x0: group[0].X, x1: group[0].X, baseline: group[0].Y}
		for _, run := range group {
			size := runSize(run)
			if gap := run.X - line.x1; line.text.Len() > 0 && gap > size*0.15 &&
				!strings.HasSuffix(line.text.String(), " ") && !strings.HasPrefix(run.S, " ") {
				line.text.WriteByte(' ')
			}
			line.text.WriteString(run.S)
			line.x1 = math.Max(line.x1, run.X+run.W)
			line.size = math.Max(line.size, size)
		}
		lines = append(lines, line)
	}

	var boxes []TextBox
	var block *TextBox
	var prev *textLine
	for _, line := range lines {
		text := line.text.String()
		top := height - (line.baseline + line.size)
		bottom := height - line.baseline
		if block == nil || prev.baseline-line.baseline > prev.size*1.6 {
			boxes = append(boxes, TextBox{X0: line.x0, Y0: top, X1: line.x1, Y1: bottom, Text: text})
			block = &boxes[len(boxes)-1]
		} else {
			block.Text += "\n" + text
			block.X0 = math.Min(block.X0, line.x0)
			block.X1 = math.Max(block.X1, line.x1)
			block.Y1 = bottom
		}
		prev = line
	}
	return boxes
}

func runSize(run pdf.Text) float64 {
	if run.FontSize <= 0 {
		return 10
	}
	return run.FontSize
}

func sameLine(a, b pdf.Text) bool {
	return math.Abs(a.Y-b.Y) <= math.Max(runSize(a), runSize(b))*0.4
}
