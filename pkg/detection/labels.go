package detection

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Labels maps class ids to names.
type Labels []string

// Name returns the label for id, or "class <id>" when unknown.
func (l Labels) Name(id int) string {
	if id >= 0 && id < len(l) {
		return l[id]
	}
	return fmt.Sprintf("class %d", id)
}

// LoadLabels reads class names, one per line. Blank lines and lines starting
// with '#' are skipped.
func LoadLabels(path string) (Labels, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("detection: open labels: %w", err)
	}
	defer f.Close()

	var labels Labels
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		labels = append(labels, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("detection: read labels: %w", err)
	}
	return labels, nil
}

// resolveLabels picks the label set for a model with numClasses outputs.
// Without explicit labels an 80-class model is assumed to be COCO.
func resolveLabels(explicit Labels, numClasses int) Labels {
	if len(explicit) > 0 {
		return explicit
	}
	if numClasses == len(COCOClasses) {
		return COCOClasses
	}
	return nil
}

// COCOClasses contains the 80 COCO class names
var COCOClasses = Labels{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator",
	"book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}
