// planar-match: find a reference image in a single scene image
//
//	planar-match -ref target.png -scene photo.jpg -out annotated.jpg
//
// Exits 0 when the reference is found, 1 when it is not, and 2 on usage
// or I/O errors.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/teslashibe/go-planar/internal/config"
	"github.com/teslashibe/go-planar/internal/log"
	"github.com/teslashibe/go-planar/pkg/matcher"
	"github.com/teslashibe/go-planar/pkg/pipeline"
	"github.com/teslashibe/go-planar/pkg/reference"
	"gocv.io/x/gocv"
)

func main() {
	ref := flag.String("ref", "", "Reference image (or PLANAR_REFERENCE)")
	scene := flag.String("scene", "", "Scene image to search")
	out := flag.String("out", "", "Write the scene with the outline drawn to this path")
	asJSON := flag.Bool("json", false, "Print the detection as JSON")
	level := flag.String("log-level", "warn", "Log level: debug, info, warn, error (or LOG_LEVEL)")
	flag.Parse()

	log.Init(config.LogLevel(*level))

	refPath := config.ReferencePathRequired(*ref)
	if *scene == "" {
		fmt.Fprintln(os.Stderr, "Error: -scene is required")
		flag.Usage()
		os.Exit(2)
	}

	os.Exit(run(refPath, *scene, *out, *asJSON))
}

func run(refPath, scenePath, outPath string, asJSON bool) int {
	m := matcher.New()
	defer m.Close()

	refImg, err := reference.Load(refPath, reference.DefaultOptions())
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 2
	}
	err = m.SetReference(refImg)
	refImg.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error: reference unusable:", err)
		return 2
	}

	// The scene keeps its full resolution.
	sceneImg, err := reference.Load(scenePath, reference.Options{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 2
	}
	defer sceneImg.Close()

	det, err := m.Detect(sceneImg)
	if err != nil {
		fmt.Printf("no match (%s): %v\n", matcher.Reason(err), err)
		return 1
	}

	if asJSON {
		info, _ := m.Reference()
		data, err := json.MarshalIndent(pipeline.DetectionData(0, info.ID, det), "", "  ")
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			return 2
		}
		fmt.Println(string(data))
	} else {
		printDetection(det)
	}

	if outPath != "" {
		cfg := m.Config()
		matcher.Draw(&sceneImg, det.Corners, cfg.QuadColor, cfg.QuadThickness)
		if !gocv.IMWrite(outPath, sceneImg) {
			fmt.Fprintln(os.Stderr, "Error: cannot write", outPath)
			return 2
		}
	}
	return 0
}

func printDetection(det *matcher.Detection) {
	fmt.Println("match")
	for i, name := range []string{"top-left", "top-right", "bottom-right", "bottom-left"} {
		p := det.Corners[i]
		fmt.Printf("  %-12s (%.1f, %.1f)\n", name, p.X, p.Y)
	}
	fmt.Printf("  matches      %d (%d inliers)\n", det.Matches, det.Inliers)
	fmt.Printf("  mean dist    %.2f\n", det.MeanDistance)
	fmt.Printf("  reproj err   %.2f px\n", det.ReprojectionError)
	fmt.Printf("  elapsed      %s\n", det.Elapsed)
}
