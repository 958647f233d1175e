package detection

import (
	"image"
	"sort"
)

// candidate is a box that passed the confidence filter, in frame pixels.
type candidate struct {
	box     image.Rectangle
	score   float32
	classID int
}

// outputLayout works out (attrs, anchors, transposed) for a YOLOv8 output of
// shape [1, 4+nc, N] or [1, N, 4+nc].
func outputLayout(dims []int) (attrs, anchors int, transposed bool, ok bool) {
	if len(dims) == 3 && dims[0] == 1 {
		dims = dims[1:]
	}
	if len(dims) != 2 {
		return 0, 0, false, false
	}
	// Anchors always outnumber attributes for real models.
	attrs, anchors = dims[0], dims[1]
	if attrs > anchors {
		attrs, anchors, transposed = anchors, attrs, true
	}
	if attrs <= 4 {
		return 0, 0, false, false
	}
	return attrs, anchors, transposed, true
}

// decodeYOLOv8 turns raw output into candidates. Box coordinates are in model
// input space and are scaled by (scaleX, scaleY) into frame pixels.
func decodeYOLOv8(data []float32, attrs, anchors int, transposed bool, scaleX, scaleY float32, conf float32) []candidate {
	if attrs <= 4 || len(data) < attrs*anchors {
		return nil
	}

	at := func(attr, i int) float32 {
		if transposed {
			return data[i*attrs+attr]
		}
		return data[attr*anchors+i]
	}

	var out []candidate
	for i := 0; i < anchors; i++ {
		maxScore := float32(0)
		maxClassID := 0

		for c := 4; c < attrs; c++ {
			score := at(c, i)
			if score > maxScore {
				maxScore = score
				maxClassID = c - 4
			}
		}

		// A zero score is never a detection, even with the slider at 0.
		if maxScore <= 0 || maxScore < conf {
			continue
		}

		// Bounding box is center x, center y, width, height
		cx, cy := at(0, i), at(1, i)
		w, h := at(2, i), at(3, i)

		x1 := int((cx - w/2) * scaleX)
		y1 := int((cy - h/2) * scaleY)
		x2 := int((cx + w/2) * scaleX)
		y2 := int((cy + h/2) * scaleY)

		out = append(out, candidate{
			box:     image.Rect(x1, y1, x2, y2),
			score:   maxScore,
			classID: maxClassID,
		})
	}
	return out
}

// classOffsetBoxes shifts each box by its class so that suppression only
// happens between boxes of the same class.
func classOffsetBoxes(cands []candidate, frameW, frameH int) []image.Rectangle {
	offset := frameW
	if frameH > offset {
		offset = frameH
	}
	offset *= 2

	boxes := make([]image.Rectangle, len(cands))
	for i, c := range cands {
		d := c.classID * offset
		boxes[i] = c.box.Add(image.Pt(d, d))
	}
	return boxes
}

// IoU returns the intersection over union of two rectangles.
func IoU(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	interArea := float64(inter.Dx() * inter.Dy())
	union := float64(a.Dx()*a.Dy()+b.Dx()*b.Dy()) - interArea
	if union <= 0 {
		return 0
	}
	return interArea / union
}

// NMS performs greedy non-maximum suppression. It returns the kept indices,
// highest score first. A box is dropped when its IoU with an already kept box
// exceeds iouThresh.
func NMS(boxes []image.Rectangle, scores []float32, iouThresh float64) []int {
	order := make([]int, len(boxes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	var keep []int
	suppressed := make([]bool, len(boxes))
	for _, i := range order {
		if suppressed[i] {
			continue
		}
		keep = append(keep, i)
		for _, j := range order {
			if j == i || suppressed[j] {
				continue
			}
			if IoU(boxes[i], boxes[j]) > iouThresh {
				suppressed[j] = true
			}
		}
	}
	return keep
}

// toDetections converts kept candidates to normalized detections.
func toDetections(cands []candidate, keep []int, frameW, frameH int, labels Labels, maxDets int) []ObjectDetection {
	if maxDets > 0 && len(keep) > maxDets {
		keep = keep[:maxDets]
	}

	frameRect := image.Rect(0, 0, frameW, frameH)
	dets := make([]ObjectDetection, 0, len(keep))
	for _, idx := range keep {
		c := cands[idx]
		box := c.box.Intersect(frameRect)
		if box.Empty() {
			continue
		}
		dets = append(dets, ObjectDetection{
			Detection: Detection{
				X:          float64(box.Min.X) / float64(frameW),
				Y:          float64(box.Min.Y) / float64(frameH),
				W:          float64(box.Dx()) / float64(frameW),
				H:          float64(box.Dy()) / float64(frameH),
				Confidence: float64(c.score),
			},
			ClassID:   c.classID,
			ClassName: labels.Name(c.classID),
		})
	}
	return dets
}
