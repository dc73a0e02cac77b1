package ffmpeg

import (
	"fmt"
	"math"
	"runtime"
	"strings"
)

// QualityReportName is where libvmaf writes its JSON report, relative to the
// command's working directory.
const QualityReportName = "report.json"

// QualityOptions selects which metrics a libvmaf run computes. VMAF scores
// always come out; PSNR and MS-SSIM ride along as extra features.
type QualityOptions struct {
	PSNR          bool
	MSSSIM        bool
	SubsampleRate int
	// ModelName is the VMAF model file name in the working directory,
	// e.g. "vmaf_v0.6.1.json".
	ModelName string
}

// QualityCommand builds the ffmpeg arguments for a libvmaf comparison of
// compressed against reference. An interlaced reference is deinterlaced on
// the fly when the compressed copy is progressive.
func QualityCommand(referenceProbe, compressedProbe *ProbeResult, reference, compressed string, opts QualityOptions) ([]string, error) {
	if opts.SubsampleRate < 1 {
		return nil, fmt.Errorf("subsample rate %d below 1", opts.SubsampleRate)
	}
	if opts.ModelName == "" {
		return nil, fmt.Errorf("no vmaf model name")
	}

	refVideo, err := referenceProbe.VideoStream()
	if err != nil {
		return nil, fmt.Errorf("reference: %w", err)
	}
	compVideo, err := compressedProbe.VideoStream()
	if err != nil {
		return nil, fmt.Errorf("compressed: %w", err)
	}

	var feature string
	switch {
	case opts.PSNR && opts.MSSSIM:
		feature = "feature=name=psnr|name=float_ms_ssim:"
	case opts.PSNR:
		feature = "feature=name=psnr:"
	case opts.MSSSIM:
		feature = "feature=name=float_ms_ssim:"
	}

	var inputPrefix string
	if refVideo.Interlaced() && !compVideo.Interlaced() {
		inputPrefix = "[1:v]bwdif=0:-1:0[ref];[0:v][ref]"
	}

	modelStem := strings.TrimSuffix(opts.ModelName, ".json")
	threads := int(math.Floor(float64(runtime.NumCPU()) * 0.9))
	if threads < 1 {
		threads = 1
	}

	filter := fmt.Sprintf("%slibvmaf=%sn_subsample=%d:model=version=%s|path=%s:log_path=%s:n_threads=%d:log_fmt=json",
		inputPrefix, feature, opts.SubsampleRate, modelStem, opts.ModelName, QualityReportName, threads)

	args := append(BaseArgs(), "-loglevel", "warning")
	args = append(args,
		"-i", compressed,
		"-i", reference,
		"-lavfi", filter,
		"-f", "null", "-",
	)
	return args, nil
}
