package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/sirupsen/logrus"
)

const cdpPort = "3000/tcp"

// Pool starts and stops one browserless/chrome container per session. The
// engine attaches to each container over its CDP websocket.
type Pool struct {
	client *client.Client
	image  string
	log    *logrus.Entry
}

func NewPool(image string, log *logrus.Logger) (*Pool, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	return &Pool{
		client: cli,
		image:  image,
		log:    log.WithField("component", "pool"),
	}, nil
}

// Start launches a container for the session and waits until its CDP
// endpoint answers. It returns the container id and the websocket URL to
// attach to.
func (p *Pool) Start(ctx context.Context, sessionID string) (string, string, error) {
	containerConfig := &container.Config{
		Image: p.image,
		Labels: map[string]string{
			"session-id": sessionID,
			"managed-by": "browsergate",
		},
		Env: []string{
			"CONNECTION_TIMEOUT=-1",
			"MAX_CONCURRENT_SESSIONS=1",
			"PREBOOT_CHROME=true",
			"KEEP_ALIVE=true",
		},
		ExposedPorts: nat.PortSet{
			cdpPort: struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			cdpPort: []nat.PortBinding{
				{
					HostIP:   "0.0.0.0",
					HostPort: "0",
				},
			},
		},
		AutoRemove: false,
	}

	name := fmt.Sprintf("browsergate-%s", shortID(sessionID))

	resp, err := p.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return "", "", fmt.Errorf("create container: %w", err)
	}

	if err := p.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		p.remove(resp.ID)
		return "", "", fmt.Errorf("start container: %w", err)
	}

	inspect, err := p.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		p.remove(resp.ID)
		return "", "", fmt.Errorf("inspect container: %w", err)
	}

	bindings := inspect.NetworkSettings.Ports[cdpPort]
	if len(bindings) == 0 {
		p.remove(resp.ID)
		return "", "", fmt.Errorf("container %s has no published CDP port", resp.ID)
	}
	port := bindings[0].HostPort

	if err := p.waitReady(ctx, port); err != nil {
		p.remove(resp.ID)
		return "", "", err
	}

	p.log.WithFields(logrus.Fields{
		"session":   sessionID,
		"container": shortID(resp.ID),
		"port":      port,
	}).Info("browser container ready")

	return resp.ID, fmt.Sprintf("ws://localhost:%s", port), nil
}

// Stop stops and removes a session's container.
func (p *Pool) Stop(ctx context.Context, containerID string) error {
	timeout := 10
	if err := p.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("stop container: %w", err)
	}

	if err := p.client.ContainerRemove(ctx, containerID, container.RemoveOptions{}); err != nil {
		return fmt.Errorf("remove container: %w", err)
	}

	return nil
}

// EnsureImage pulls the browser image unless it is already present.
func (p *Pool) EnsureImage(ctx context.Context) error {
	images, err := p.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}

	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == p.image {
				return nil
			}
		}
	}

	p.log.WithField("image", p.image).Info("pulling browser image")

	reader, err := p.client.ImagePull(ctx, p.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (p *Pool) Close() error {
	return p.client.Close()
}

// waitReady polls the container's /json/version endpoint until it answers.
func (p *Pool) waitReady(ctx context.Context, port string) error {
	url := fmt.Sprintf("http://localhost:%s/json/version", port)

	probe := func() error {
		resp, err := http.Get(url)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("status %d from %s", resp.StatusCode, url)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(probe, backoff.WithContext(bo, ctx)); err != nil {
		return fmt.Errorf("browser did not become ready: %w", err)
	}

	// The HTTP endpoint answers slightly before the websocket does
	time.Sleep(500 * time.Millisecond)
	return nil
}

func (p *Pool) remove(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := p.Stop(ctx, containerID); err != nil {
		p.log.WithError(err).WithField("container", shortID(containerID)).Warn("cleanup after failed start")
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
