package pipeline

// Stage is the furthest point one image reached in the pipeline.
type Stage int

const (
	AwaitingLandmarks Stage = iota
	LandmarksExtracted
	GeometryNormalized
	Scored
	Final
	Overridden
	NoFaceDetected
)

var stageNames = [...]string{
	AwaitingLandmarks:  "awaiting_landmarks",
	LandmarksExtracted: "landmarks_extracted",
	GeometryNormalized: "geometry_normalized",
	Scored:             "scored",
	Final:              "final",
	Overridden:         "overridden",
	NoFaceDetected:     "no_face_detected",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}

// Terminal reports whether no further transition is possible.
func (s Stage) Terminal() bool {
	return s == Final || s == Overridden || s == NoFaceDetected
}

// MarshalText encodes the stage by name.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
