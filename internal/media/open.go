package media

import "fmt"

// Kind tags which source implementation a Spec selects.
type Kind string

const (
	KindFile      Kind = "file"
	KindCamera    Kind = "camera"
	KindSynthetic Kind = "synthetic"
)

// Spec is a tagged description of a source to open. Exactly one of the
// variant fields is read, selected by Kind.
type Spec struct {
	Kind      Kind
	Path      string          // KindFile
	Camera    CameraConfig    // KindCamera
	Synthetic SyntheticConfig // KindSynthetic
}

// Open dispatches on the spec kind and opens the matching source.
func Open(spec Spec) (Source, error) {
	switch spec.Kind {
	case KindFile:
		return OpenFile(spec.Path)
	case KindCamera:
		return OpenCamera(spec.Camera)
	case KindSynthetic:
		return NewSynthetic(spec.Synthetic), nil
	default:
		return nil, &OpenError{Target: string(spec.Kind), Err: fmt.Errorf("unknown source kind")}
	}
}
