package runner

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/shuttle-ci/shuttle/log"
	"github.com/shuttle-ci/shuttle/pipeline"
)

const containerWorkspace = "/shuttle/workspace"

// Docker runs each command in a fresh container. The run's workspace
// directory is bind-mounted at a fixed path so commands see the same
// files the local runner would.
type Docker struct {
	docker       client.APIClient
	defaultImage string
	l            *slog.Logger

	mu     sync.Mutex
	pulled map[string]bool
}

func NewDocker(ctx context.Context, defaultImage string) (*Docker, error) {
	dcli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}

	return &Docker{
		docker:       dcli,
		defaultImage: defaultImage,
		l:            log.FromContext(ctx).With("component", "runner"),
		pulled:       make(map[string]bool),
	}, nil
}

func (r *Docker) Run(ctx context.Context, cmd Command) (Result, error) {
	img := r.defaultImage
	var limits pipeline.ResourceLimits
	workdir := containerWorkspace
	if cmd.Agent != nil && cmd.Agent.Kind == pipeline.AgentContainer {
		img = cmd.Agent.Image
		limits = cmd.Agent.Limits
		if cmd.Agent.WorkDir != "" {
			workdir = cmd.Agent.WorkDir
		}
	}

	if err := r.ensureImage(ctx, img); err != nil {
		return Result{}, fmt.Errorf("pulling image: %w", err)
	}

	resp, err := r.docker.ContainerCreate(ctx, &container.Config{
		Image:      img,
		Cmd:        []string{"sh", "-c", cmd.Text},
		WorkingDir: workdir,
		Env:        cmd.Env,
		Hostname:   "shuttle",
	}, hostConfig(cmd.Dir, limits), nil, nil, "")
	if err != nil {
		return Result{}, fmt.Errorf("creating container: %w", err)
	}
	defer func() {
		// removal must outlive a cancelled step
		_ = r.docker.ContainerRemove(context.WithoutCancel(ctx), resp.ID, container.RemoveOptions{Force: true})
	}()

	if err := r.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return Result{}, fmt.Errorf("starting container: %w", err)
	}
	r.l.Debug("started container", "id", resp.ID, "image", img)

	exitCode, err := r.wait(ctx, resp.ID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, err
	}

	stdout, stderr, err := r.logs(ctx, resp.ID)
	if err != nil {
		return Result{}, err
	}

	return Result{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}, nil
}

func (r *Docker) ensureImage(ctx context.Context, img string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pulled[img] {
		return nil
	}
	reader, err := r.docker.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()
	// drain so the pull completes
	var sink bytes.Buffer
	_, _ = sink.ReadFrom(reader)
	r.pulled[img] = true
	return nil
}

func (r *Docker) wait(ctx context.Context, containerID string) (int, error) {
	wait, errCh := r.docker.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return 0, err
		}
	case body := <-wait:
		return int(body.StatusCode), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	info, err := r.docker.ContainerInspect(ctx, containerID)
	if err != nil {
		return 0, err
	}
	return info.State.ExitCode, nil
}

func (r *Docker) logs(ctx context.Context, containerID string) (string, string, error) {
	logs, err := r.docker.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", err
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return "", "", err
	}
	return stdout.String(), stderr.String(), nil
}

func hostConfig(workspace string, limits pipeline.ResourceLimits) *container.HostConfig {
	hc := &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: workspace,
				Target: containerWorkspace,
			},
		},
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges"},
	}
	hc.Resources.NanoCPUs = limits.NanoCPUs
	hc.Resources.Memory = limits.MemoryBytes
	return hc
}
