package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"path/filepath"
	"time"

	"detect3d/pkg/config"
	"detect3d/pkg/detection"
	"detect3d/pkg/resample"
	"detect3d/pkg/tensor"
	"detect3d/pkg/visualization"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "detect3d.yaml", "Path to YAML configuration file")
	createConfig := flag.Bool("create-config", false, "Write a default configuration file and exit")
	seed := flag.Int64("seed", 0, "Override the demo random seed (0 keeps the configured seed)")
	flag.Parse()

	if *createConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to create config file: %v", err)
		}
		fmt.Printf("Default configuration written to: %s\n", *configPath)
		return
	}

	// Missing files fall back to the built-in defaults
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *seed != 0 {
		cfg.Demo.Seed = *seed
	}

	fmt.Println("================================")
	fmt.Println("3D REGION EXTRACTION WITH NON-MAX SUPPRESSION")
	fmt.Println("================================")
	fmt.Printf("Volume: %dx%dx%d with %d channels, %d candidates, seed %d\n",
		cfg.Demo.VolumeHeight, cfg.Demo.VolumeWidth, cfg.Demo.VolumeDepth,
		cfg.Demo.Channels, cfg.Demo.NumCandidates, cfg.Demo.Seed)
	fmt.Printf("Suppression: maxOutput=%d iou=%.2f score=%.2f sigma=%.2f\n",
		cfg.Suppression.MaxOutputSize, cfg.Suppression.IoUThreshold,
		cfg.Suppression.ScoreThreshold, cfg.Suppression.SoftNMSSigma)
	fmt.Printf("Crop: %dx%dx%d %s with %d workers\n\n",
		cfg.Crop.Height, cfg.Crop.Width, cfg.Crop.Depth, cfg.Crop.Method, cfg.Crop.Workers)

	rng := rand.New(rand.NewSource(cfg.Demo.Seed))

	fmt.Println("Generating synthetic volume...")
	volume, blobs := generateVolume(cfg, rng)

	fmt.Println("Generating candidate boxes around the bright regions...")
	boxes, boxIndex, scores := generateCandidates(cfg, rng, blobs)

	// Initialize extraction parameters
	params := &detection.Params{
		MaxOutputSize:      cfg.Suppression.MaxOutputSize,
		IoUThreshold:       cfg.Suppression.IoUThreshold,
		ScoreThreshold:     cfg.Suppression.ScoreThreshold,
		SoftNMSSigma:       cfg.Suppression.SoftNMSSigma,
		CropSize:           []int32{int32(cfg.Crop.Height), int32(cfg.Crop.Width), int32(cfg.Crop.Depth)},
		Method:             resample.Method(cfg.Crop.Method),
		ExtrapolationValue: cfg.Crop.ExtrapolationValue,
		Workers:            cfg.Crop.Workers,
	}

	extractor := detection.NewExtractor(params)
	if cfg.Output.Verbose {
		extractor.SetProgressCallback(func(completed, total int, message string) {
			if message != "" {
				fmt.Println(message)
			} else if total > 0 {
				percentage := float64(completed) / float64(total) * 100
				fmt.Printf("\rProgress: %.1f%% (%d/%d)", percentage, completed, total)
				if completed >= total {
					fmt.Println()
				}
			}
		})
	}

	// Run the extraction pipeline
	startTime := time.Now()
	result, err := extractor.Process(volume, boxes, boxIndex, scores)
	if err != nil {
		log.Fatalf("Extraction failed: %v", err)
	}
	processingTime := time.Since(startTime)

	fmt.Printf("\nExtraction completed in %.2f seconds\n", processingTime.Seconds())
	fmt.Printf("Kept %d of %d candidates\n\n", len(result.Detections), cfg.Demo.NumCandidates)

	fmt.Println("Detections:")
	fmt.Println("===========")
	for i, det := range result.Detections {
		c := det.Box.Coords()
		stats := result.Stats[i]
		fmt.Printf("#%d  candidate %d  score %.3f\n", i, det.Index, det.Score)
		fmt.Printf("    box  (%.3f, %.3f, %.3f) - (%.3f, %.3f, %.3f)\n",
			c[0], c[1], c[2], c[3], c[4], c[5])
		fmt.Printf("    crop mean %.3f  stddev %.3f  min %.3f  max %.3f\n",
			stats.Mean, stats.StdDev, stats.Min, stats.Max)
	}

	// Dump crop slices if requested
	if cfg.Output.SaveCropSlices && len(result.Detections) > 0 {
		fmt.Printf("\nSaving crop slices to: %s\n", cfg.Output.SliceDir)

		for i := range result.Detections {
			viewer, err := visualization.NewViewer(result.Crops, i, 0)
			if err != nil {
				log.Printf("Warning: Failed to view crop %d: %v", i, err)
				continue
			}

			cropDir := filepath.Join(cfg.Output.SliceDir, fmt.Sprintf("crop_%02d", i))
			if err := viewer.SaveSliceSequence("z", cropDir); err != nil {
				log.Printf("Warning: Failed to save slices for crop %d: %v", i, err)
			}
		}

		fmt.Println("Slice extraction completed!")
	}
}

// blob is a bright spot in the synthetic volume, in normalized coordinates
type blob struct {
	y, x, z float32
	radius  float32
}

// generateVolume builds a single-batch volume containing a few bright
// gaussian bumps over a low noise floor. The bump locations are returned so
// candidate boxes can cluster around them.
func generateVolume(cfg *config.Config, rng *rand.Rand) (*tensor.Dense, []blob) {
	height := cfg.Demo.VolumeHeight
	width := cfg.Demo.VolumeWidth
	depth := cfg.Demo.VolumeDepth
	channels := cfg.Demo.Channels

	volume, err := tensor.New(1, height, width, depth, channels)
	if err != nil {
		log.Fatalf("Failed to allocate volume: %v", err)
	}

	blobs := make([]blob, 3)
	for i := range blobs {
		blobs[i] = blob{
			y:      0.2 + 0.6*rng.Float32(),
			x:      0.2 + 0.6*rng.Float32(),
			z:      0.2 + 0.6*rng.Float32(),
			radius: 0.08 + 0.08*rng.Float32(),
		}
	}

	data := volume.Data()
	idx := 0
	for y := 0; y < height; y++ {
		ny := normalized(y, height)
		for x := 0; x < width; x++ {
			nx := normalized(x, width)
			for z := 0; z < depth; z++ {
				nz := normalized(z, depth)

				var value float32
				for _, b := range blobs {
					dy := ny - b.y
					dx := nx - b.x
					dz := nz - b.z
					dist2 := dy*dy + dx*dx + dz*dz
					value += float32(math.Exp(float64(-dist2 / (2 * b.radius * b.radius))))
				}
				value += 0.05 * rng.Float32()

				for c := 0; c < channels; c++ {
					data[idx] = value
					idx++
				}
			}
		}
	}

	return volume, blobs
}

// normalized maps voxel index i to [0, 1] along an axis of length n
func normalized(i, n int) float32 {
	if n <= 1 {
		return 0.5
	}
	return float32(i) / float32(n-1)
}

// generateCandidates samples candidate boxes with jittered centers and sizes
// around the blobs. Scores decay with distance from the chosen blob center,
// so suppression has meaningful overlaps to resolve.
func generateCandidates(cfg *config.Config, rng *rand.Rand, blobs []blob) (*tensor.Dense, []int32, []float32) {
	n := cfg.Demo.NumCandidates
	rows := make([]float32, 0, n*6)
	boxIndex := make([]int32, n) // all candidates reference the single batch element
	scores := make([]float32, n)

	for i := 0; i < n; i++ {
		b := blobs[rng.Intn(len(blobs))]

		cy := b.y + 0.1*(rng.Float32()-0.5)
		cx := b.x + 0.1*(rng.Float32()-0.5)
		cz := b.z + 0.1*(rng.Float32()-0.5)
		half := b.radius * (0.8 + 0.4*rng.Float32())

		rows = append(rows, cy-half, cx-half, cz-half, cy+half, cx+half, cz+half)

		dy := cy - b.y
		dx := cx - b.x
		dz := cz - b.z
		dist := float32(math.Sqrt(float64(dy*dy + dx*dx + dz*dz)))
		scores[i] = 0.95 - 2*dist + 0.05*rng.Float32()
	}

	boxes, err := tensor.FromSlice(rows, n, 6)
	if err != nil {
		log.Fatalf("Failed to build boxes tensor: %v", err)
	}
	return boxes, boxIndex, scores
}
