package vision

import (
	"fmt"
	"math"
	"sort"

	ort "github.com/yalue/onnxruntime_go"
)

// Detection is a face box in original image pixels.
type Detection struct {
	BBox       [4]float32 // x1, y1, x2, y2
	Confidence float32
	Landmarks  [5][2]float32
}

// Detector runs RetinaFace (det_10g) with ONNX Runtime. A Detector owns
// fixed input and output tensors and is not safe for concurrent use.
type Detector struct {
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	threshold     float32
	nmsThreshold  float32
	inputW        int
	inputH        int
}

var strides = []int{8, 16, 32}

const anchorsPerStride = 2

// det_10g output names, grouped as scores, boxes, landmarks per stride.
var detectorOutputs = []struct {
	name string
	cols int64
}{
	{"448", 1}, {"471", 1}, {"494", 1},
	{"451", 4}, {"474", 4}, {"497", 4},
	{"454", 10}, {"477", 10}, {"500", 10},
}

func NewDetector(modelPath string, threshold, nmsThreshold float32) (*Detector, error) {
	inputW, inputH := 640, 640

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(inputH), int64(inputW)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	d := &Detector{
		inputTensor:  inputTensor,
		threshold:    threshold,
		nmsThreshold: nmsThreshold,
		inputW:       inputW,
		inputH:       inputH,
	}

	names := make([]string, len(detectorOutputs))
	values := make([]ort.Value, len(detectorOutputs))
	for i, spec := range detectorOutputs {
		stride := strides[i%len(strides)]
		rows := int64((inputW / stride) * (inputH / stride) * anchorsPerStride)
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(rows, spec.cols))
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("create output tensor %s: %w", spec.name, err)
		}
		d.outputTensors = append(d.outputTensors, t)
		names[i] = spec.name
		values[i] = t
	}

	d.session, err = ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		names,
		[]ort.Value{inputTensor},
		values,
		nil,
	)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("create detector session: %w", err)
	}
	return d, nil
}

// Detect runs detection on CHW input of the detector's size. Boxes are
// scaled back to origW x origH.
func (d *Detector) Detect(input []float32, origW, origH int) ([]Detection, error) {
	copy(d.inputTensor.GetData(), input)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	var out []Detection
	for si, stride := range strides {
		out = append(out, decodeStride(
			d.outputTensors[si].GetData(),
			d.outputTensors[si+3].GetData(),
			d.outputTensors[si+6].GetData(),
			stride, d.inputW, d.inputH, origW, origH, d.threshold,
		)...)
	}
	return nms(out, d.nmsThreshold), nil
}

// decodeStride turns one stride's anchor outputs into detections above
// threshold. Box and landmark outputs are distances in stride units.
func decodeStride(scores, bboxes, landmarks []float32, stride, inputW, inputH, origW, origH int, threshold float32) []Detection {
	var out []Detection

	scaleW := float32(origW) / float32(inputW)
	scaleH := float32(origH) / float32(inputH)
	st := float32(stride)

	idx := 0
	for cy := 0; cy < inputH/stride; cy++ {
		for cx := 0; cx < inputW/stride; cx++ {
			for a := 0; a < anchorsPerStride; a, idx = a+1, idx+1 {
				if idx >= len(scores) || scores[idx] < threshold {
					continue
				}
				ax := float32(cx) * st
				ay := float32(cy) * st

				det := Detection{
					BBox: [4]float32{
						clampF((ax-bboxes[idx*4+0]*st)*scaleW, 0, float32(origW)),
						clampF((ay-bboxes[idx*4+1]*st)*scaleH, 0, float32(origH)),
						clampF((ax+bboxes[idx*4+2]*st)*scaleW, 0, float32(origW)),
						clampF((ay+bboxes[idx*4+3]*st)*scaleH, 0, float32(origH)),
					},
					Confidence: scores[idx],
				}
				for li := 0; li < 5; li++ {
					det.Landmarks[li][0] = (ax + landmarks[idx*10+li*2]*st) * scaleW
					det.Landmarks[li][1] = (ay + landmarks[idx*10+li*2+1]*st) * scaleH
				}
				out = append(out, det)
			}
		}
	}
	return out
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.outputTensors {
		t.Destroy()
	}
}

// nms keeps the highest-confidence box of every overlapping group.
func nms(detections []Detection, iouThreshold float32) []Detection {
	if len(detections) == 0 {
		return detections
	}

	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})

	suppressed := make([]bool, len(detections))
	var result []Detection
	for i := range detections {
		if suppressed[i] {
			continue
		}
		result = append(result, detections[i])
		for j := i + 1; j < len(detections); j++ {
			if !suppressed[j] && iou(detections[i].BBox, detections[j].BBox) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return result
}

func iou(a, b [4]float32) float32 {
	x1 := float32(math.Max(float64(a[0]), float64(b[0])))
	y1 := float32(math.Max(float64(a[1]), float64(b[1])))
	x2 := float32(math.Min(float64(a[2]), float64(b[2])))
	y2 := float32(math.Min(float64(a[3]), float64(b[3])))

	inter := float32(math.Max(0, float64(x2-x1))) * float32(math.Max(0, float64(y2-y1)))
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clampF(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
