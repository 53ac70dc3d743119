package matcher

import (
	"fmt"

	"gocv.io/x/gocv"
)

// ORB pyramid and patch parameters. OpenCV defaults apart from the
// feature budget, which comes from Config.
const (
	orbScaleFactor   = 1.2
	orbLevels        = 8
	orbEdgeThreshold = 31
	orbFirstLevel    = 0
	orbWTAK          = 2
	orbPatchSize     = 31
	orbFastThreshold = 20
)

func newORB(cfg Config) gocv.ORB {
	return gocv.NewORBWithParams(
		cfg.MaxFeatures,
		orbScaleFactor,
		orbLevels,
		orbEdgeThreshold,
		orbFirstLevel,
		orbWTAK,
		gocv.ORBScoreTypeHarris,
		orbPatchSize,
		orbFastThreshold,
	)
}

// toGray converts a 1, 3 (BGR) or 4 (BGRA) channel image to grayscale
// into dst. src is left untouched.
func toGray(src gocv.Mat, dst *gocv.Mat) error {
	switch src.Channels() {
	case 1:
		src.CopyTo(dst)
	case 3:
		gocv.CvtColor(src, dst, gocv.ColorBGRToGray)
	case 4:
		gocv.CvtColor(src, dst, gocv.ColorBGRAToGray)
	default:
		return fmt.Errorf("%w: %d channels", ErrMalformedImage, src.Channels())
	}
	if dst.Empty() {
		return fmt.Errorf("%w: grayscale conversion produced no pixels", ErrMalformedImage)
	}
	return nil
}

// extract runs ORB on a grayscale copy of img. On success the caller owns
// the returned descriptor Mat.
func extract(orb *gocv.ORB, img gocv.Mat) ([]gocv.KeyPoint, gocv.Mat, error) {
	gray := gocv.NewMat()
	defer gray.Close()

	if err := toGray(img, &gray); err != nil {
		return nil, gocv.Mat{}, err
	}

	mask := gocv.NewMat()
	defer mask.Close()

	kps, desc := orb.DetectAndCompute(gray, mask)
	return kps, desc, nil
}
