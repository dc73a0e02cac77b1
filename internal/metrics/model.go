package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-retryablehttp"
)

var modelBaseURL = "https://raw.githubusercontent.com/Netflix/vmaf/master/model"

// ModelFileName returns the VMAF model file name for the given mode.
func ModelFileName(negMode bool) string {
	if negMode {
		return "vmaf_v0.6.1neg.json"
	}
	return "vmaf_v0.6.1.json"
}

// EnsureModel makes sure the VMAF model file exists in dir, downloading it
// from the upstream vmaf repository when missing. Returns the file name.
func EnsureModel(client *retryablehttp.Client, dir string, negMode bool) (string, error) {
	name := ModelFileName(negMode)
	path := filepath.Join(dir, name)

	if _, err := os.Stat(path); err == nil {
		return name, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("checking model file %s: %w", path, err)
	}

	resp, err := client.Get(modelBaseURL + "/" + name)
	if err != nil {
		return "", fmt.Errorf("downloading vmaf model %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return "", fmt.Errorf("downloading vmaf model %s: status %d", name, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(dir, name+".*")
	if err != nil {
		return "", fmt.Errorf("creating model temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.ReadFrom(resp.Body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing model file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing model file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("moving model file into place: %w", err)
	}
	return name, nil
}
