package model

// Metadata is the JSON sidecar shipped next to the model artifact.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
	// InputRange is the [min, max] value range the float input was trained
	// on. Empty means raw [0, 255].
	InputRange []float32 `json:"input_range,omitempty"`
	// OutputQuantization is required when the ONNX output is an integer tensor.
	OutputQuantization *Quantization `json:"output_quantization,omitempty"`
}

// Quantization maps an integer tensor value to a real: (raw - ZeroPoint) * Scale.
type Quantization struct {
	Scale     float32 `json:"scale"`
	ZeroPoint int     `json:"zero_point"`
}

type PredictionRequest struct {
	Image []float32 `json:"image"`
}

type PredictionResponse struct {
	Class       string             `json:"class"`
	Confidence  float32            `json:"confidence"`
	ClassIndex  int                `json:"class_index"`
	Predictions map[string]float32 `json:"predictions"`
}

// Result is a single top-1 classification.
type Result struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
	ClassIndex int     `json:"class_index"`
}

// ProbabilityVector holds one probability per label, summing to 1.
type ProbabilityVector []float32

// Top returns the argmax. Ties go to the lowest index.
func (p ProbabilityVector) Top() (int, float32) {
	if len(p) == 0 {
		return -1, 0
	}
	idx, best := 0, p[0]
	for i := 1; i < len(p); i++ {
		if p[i] > best {
			idx, best = i, p[i]
		}
	}
	return idx, best
}

// Clone returns an independent copy.
func (p ProbabilityVector) Clone() ProbabilityVector {
	out := make(ProbabilityVector, len(p))
	copy(out, p)
	return out
}
