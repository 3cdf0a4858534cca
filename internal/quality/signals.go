package quality

// Thresholds for the three legibility signals.
const (
	MinBrightness   = 30.0
	MaxBrightness   = 240.0
	EdgeDelta       = 30
	MinSharpness    = 0.5
	MinPixels       = 300 * 300
	LegibleAtLeast  = 60
	brightnessScore = 40
	sharpnessScore  = 40
	resolutionScore = 20
)

// Signals are the raw measurements taken from an RGBA pixel buffer.
type Signals struct {
	Brightness float64 `json:"brightness"`
	Sharpness  float64 `json:"sharpness"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
}

// BrightnessOK reports 30 < brightness < 240.
func (s Signals) BrightnessOK() bool {
	return s.Brightness > MinBrightness && s.Brightness < MaxBrightness
}

// SharpnessOK reports sharpness > 0.5.
func (s Signals) SharpnessOK() bool {
	return s.Sharpness > MinSharpness
}

// ResolutionOK reports an area larger than a 300x300 frame.
func (s Signals) ResolutionOK() bool {
	return s.Width*s.Height > MinPixels
}

// Measure computes Signals over a tightly packed, non-premultiplied RGBA
// buffer of w*h pixels.
//
// Sharpness only compares the red channel of consecutive pixels in the
// flattened buffer, so the last pixel of a row is compared with the first
// pixel of the next one.
func Measure(pix []byte, w, h int) Signals {
	total := w * h
	if total <= 0 || len(pix) < 4*total {
		return Signals{Width: w, Height: h}
	}
	pix = pix[:4*total]

	var sum float64
	for i := 0; i < len(pix); i += 4 {
		sum += (float64(pix[i]) + float64(pix[i+1]) + float64(pix[i+2])) / 3
	}

	edges := 0
	for i := 0; i+4 < len(pix); i += 4 {
		d := int(pix[i]) - int(pix[i+4])
		if d > EdgeDelta || d < -EdgeDelta {
			edges++
		}
	}

	return Signals{
		Brightness: sum / float64(total),
		Sharpness:  float64(edges) / float64(total) * 100,
		Width:      w,
		Height:     h,
	}
}

// Evaluate weighs the signals into a Verdict.
func Evaluate(s Signals) Verdict {
	score := 0
	if s.BrightnessOK() {
		score += brightnessScore
	}
	if s.SharpnessOK() {
		score += sharpnessScore
	}
	if s.ResolutionOK() {
		score += resolutionScore
	}
	if score > 100 {
		score = 100
	}

	v := Verdict{IsLegible: score >= LegibleAtLeast, QualityScore: score, Message: MsgAcceptable}
	if !v.IsLegible {
		switch {
		case !s.BrightnessOK():
			v.Message = MsgBrightness
		case !s.SharpnessOK():
			v.Message = MsgBlurry
		case !s.ResolutionOK():
			v.Message = MsgLowRes
		}
	}
	return v
}
