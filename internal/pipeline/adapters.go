package pipeline

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/services/vision"

	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/model"
)

// CameraFrameSource adapts a go.viam.com/rdk camera component to
// FrameSource, grounded on the teacher's own t.cam.Stream/stream.Next loop
// (object_tracker.go's run method).
type CameraFrameSource struct {
	cam camera.Camera
}

func NewCameraFrameSource(cam camera.Camera) *CameraFrameSource {
	return &CameraFrameSource{cam: cam}
}

func (c *CameraFrameSource) Next(ctx context.Context) (*model.Frame, error) {
	stream, err := c.cam.Stream(ctx, nil)
	if err != nil {
		return nil, err
	}
	img, release, err := stream.Next(ctx)
	if release != nil {
		defer release()
	}
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	return &model.Frame{
		CapturedAt: time.Now(),
		Color:      img,
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
	}, nil
}

func (c *CameraFrameSource) Healthy() bool {
	return c.cam != nil
}

// DefaultConstructionClasses lists the class names this deployment treats
// as construction machinery for beacon matching; anything else detected is
// treated as a civilian vehicle (plate-recognition candidate). Mirrors the
// teacher's own label-prefix convention in object_tracker/filter.go.
var DefaultConstructionClasses = map[string]bool{
	"excavator":   true,
	"bulldozer":   true,
	"crane":       true,
	"loader":      true,
	"dump_truck":  true,
	"backhoe":     true,
	"grader":      true,
	"compactor":   true,
}

// VisionDetector adapts a go.viam.com/rdk vision.Service to Detector,
// grounded on the teacher's classifyTracks / t.detector.Detections calls.
type VisionDetector struct {
	service     vision.Service
	construction map[string]bool
}

func NewVisionDetector(service vision.Service, construction map[string]bool) *VisionDetector {
	if construction == nil {
		construction = DefaultConstructionClasses
	}
	return &VisionDetector{service: service, construction: construction}
}

func (v *VisionDetector) Detect(ctx context.Context, frame *model.Frame) ([]model.Detection, error) {
	raw, err := v.service.Detections(ctx, frame.Color, nil)
	if err != nil {
		return nil, err
	}
	out := make([]model.Detection, 0, len(raw))
	for i, d := range raw {
		name := strings.ToLower(d.Label())
		group := model.ClassGroupCivilian
		if v.construction[name] {
			group = model.ClassGroupConstruction
		}
		box := d.BoundingBox()
		if box == nil {
			continue
		}
		out = append(out, model.Detection{
			Box:       *box,
			ClassID:   i,
			ClassName: name,
			Score:     d.Score(),
			Group:     group,
		})
	}
	return out, nil
}

// FileFrameSource replays a directory of still images in filename-sorted
// order as a FrameSource, for the file-path form of cmd/gatewatch's source
// argument (the camera form is CameraFrameSource above). Stdlib
// image/jpeg+image/png decoding: no suitable third-party recorded-frame
// reader appears anywhere in the retrieved corpus, so this is the
// documented stdlib exception for this one collaborator.
type FileFrameSource struct {
	paths []string
	idx   int
	loop  bool
}

// NewFileFrameSource lists dir for .jpg/.jpeg/.png files and sorts them by
// name, which is assumed to sort in capture order (e.g. zero-padded
// sequence numbers or timestamps). loop replays from the start once the
// last file is reached instead of returning io.EOF-equivalent errors.
func NewFileFrameSource(dir string, loop bool) (*FileFrameSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame directory %q: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no .jpg/.jpeg/.png frames found in %q", dir)
	}
	sort.Strings(paths)
	return &FileFrameSource{paths: paths, loop: loop}, nil
}

func (f *FileFrameSource) Next(ctx context.Context) (*model.Frame, error) {
	if f.idx >= len(f.paths) {
		if !f.loop {
			return nil, fmt.Errorf("frame source exhausted after %d frames", len(f.paths))
		}
		f.idx = 0
	}
	path := f.paths[f.idx]
	f.idx++

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open frame %q: %w", path, err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode frame %q: %w", path, err)
	}
	bounds := img.Bounds()
	return &model.Frame{
		CapturedAt: time.Now(),
		Color:      img,
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
	}, nil
}

func (f *FileFrameSource) Healthy() bool {
	return len(f.paths) > 0
}
