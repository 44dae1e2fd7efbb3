package logsource

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strconv"
	"strings"

	"github.com/opensource-finance/osprey-verify/internal/domain"
)

// DockerSource runs `docker logs --tail N <container>`. Only containers
// whose name starts with the configured prefix may be read.
type DockerSource struct {
	prefix string
	binary string
}

// NewDockerSource creates a docker log source restricted to prefix.
func NewDockerSource(prefix string) *DockerSource {
	if prefix == "" {
		prefix = "tazama-"
	}
	return &DockerSource{prefix: prefix, binary: "docker"}
}

// Fetch returns the container's recent stdout.
func (s *DockerSource) Fetch(ctx context.Context, source string, tail int) (domain.LogResponse, error) {
	if !strings.HasPrefix(source, s.prefix) || strings.ContainsAny(source, " \t/") {
		return domain.LogResponse{Status: domain.LogStatusError, Message: "Invalid container name"}, nil
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.binary, "logs", source, "--tail", strconv.Itoa(tail))
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return domain.LogResponse{Status: domain.LogStatusError, Message: stderr.String()}, nil
		}
		return domain.LogResponse{Status: domain.LogStatusError, Message: err.Error()}, nil
	}
	return domain.LogResponse{Status: domain.LogStatusSuccess, Logs: stdout.String()}, nil
}
