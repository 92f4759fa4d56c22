package config

import (
	"context"
	"encoding/json"
	"os/exec"
	"time"
)

// DetectionResult describes whether the gcloud CLI can be used.
type DetectionResult struct {
	Available bool
	Path      string
	Status    string
	Version   string
}

// DetectGCloud looks up the gcloud binary and asks it for its version.
func DetectGCloud(ctx context.Context, binary string) DetectionResult {
	result := DetectionResult{}

	path, err := exec.LookPath(binary)
	if err != nil {
		result.Status = "gcloud CLI not found"
		return result
	}
	result.Available = true
	result.Path = path

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, path, "version", "--format=json").Output()
	if err != nil {
		result.Status = "gcloud CLI found"
		return result
	}

	var versions map[string]string
	if json.Unmarshal(output, &versions) == nil {
		result.Version = versions["Google Cloud SDK"]
	}

	result.Status = "gcloud CLI found"
	if result.Version != "" {
		result.Status += " (v" + result.Version + ")"
	}

	return result
}
