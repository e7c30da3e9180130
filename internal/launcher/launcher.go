// Package launcher runs worker agents as Docker containers. Each worker
// gets the bus URL and its role in the environment, registers itself over
// NATS on boot and is reaped here when the swarm stops.
package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/rojlabs/roj/internal/config"
	"github.com/rojlabs/roj/internal/hive"
)

const (
	labelPrefix     = "roj"
	defaultNetwork  = "roj-net"
	secretRefPrefix = "secret:"
)

// CredentialSource resolves secret:name references in worker env vars.
// Satisfied by the vault keeper.
type CredentialSource interface {
	Get(name string) ([]byte, error)
}

type Launcher struct {
	docker      *client.Client
	cfg         config.LauncherConfig
	natsURL     string
	creds       CredentialSource
	mu          sync.RWMutex
	active      map[string]*WorkerInfo // worker name → container
	networkName string
}

type WorkerInfo struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Type      hive.AgentType `json:"type"`
	Status    string         `json:"status"`
	StartedAt time.Time      `json:"started_at"`
}

type WorkerOpts struct {
	Name         string
	Type         hive.AgentType
	Capabilities []hive.Capability
	Image        string
	Env          map[string]string
	Credentials  map[string]string
}

func New(cfg config.LauncherConfig, natsURL string) (*Launcher, error) {
	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}

	return &Launcher{
		docker:  docker,
		cfg:     cfg,
		natsURL: natsURL,
		active:  make(map[string]*WorkerInfo),
	}, nil
}

// SetCredentialSource enables secret:name resolution in worker env vars.
func (l *Launcher) SetCredentialSource(src CredentialSource) {
	l.creds = src
}

func (l *Launcher) ensureNetwork(ctx context.Context) error {
	if l.networkName != "" {
		return nil
	}

	name := l.cfg.Network
	if name == "" {
		name = defaultNetwork
	}

	_, err := l.docker.NetworkInspect(ctx, name, network.InspectOptions{})
	if err == nil {
		l.networkName = name
		return nil
	}

	_, err = l.docker.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
	})
	if err != nil {
		return fmt.Errorf("create network %s: %w", name, err)
	}
	l.networkName = name
	slog.Info("created docker network", "network", name)
	return nil
}

// StartWorker launches one worker container. Starting a name that is
// already running returns the existing container.
func (l *Launcher) StartWorker(ctx context.Context, opts WorkerOpts) (*WorkerInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.active[opts.Name]; ok {
		return existing, nil
	}

	if len(l.active) >= l.cfg.MaxContainers {
		return nil, fmt.Errorf("max containers (%d) reached", l.cfg.MaxContainers)
	}

	if err := l.ensureNetwork(ctx); err != nil {
		return nil, err
	}

	containerName := fmt.Sprintf("roj-worker-%s", opts.Name)

	// Remove any stale container with the same name
	timeout := 5
	_ = l.docker.ContainerStop(ctx, containerName, dockercontainer.StopOptions{Timeout: &timeout})
	_ = l.docker.ContainerRemove(ctx, containerName, dockercontainer.RemoveOptions{Force: true})

	caps := make([]string, len(opts.Capabilities))
	for i, c := range opts.Capabilities {
		caps[i] = string(c)
	}

	env := []string{
		fmt.Sprintf("NATS_URL=%s", l.natsURL),
		fmt.Sprintf("AGENT_NAME=%s", opts.Name),
		fmt.Sprintf("AGENT_TYPE=%s", opts.Type),
		fmt.Sprintf("AGENT_CAPABILITIES=%s", strings.Join(caps, ",")),
	}
	if tz := os.Getenv("TZ"); tz != "" {
		env = append(env, fmt.Sprintf("TZ=%s", tz))
	}
	// secret:name values are swapped for the decrypted credential so the
	// ciphertext never reaches the container.
	for k, v := range opts.Env {
		if name, ok := strings.CutPrefix(v, secretRefPrefix); ok {
			if l.creds == nil {
				slog.Warn("dropping env secret ref, no credential source", "worker", opts.Name, "env", k)
				continue
			}
			plaintext, err := l.creds.Get(name)
			if err != nil {
				slog.Warn("failed to resolve env secret", "worker", opts.Name, "env", k, "secret", name, "error", err)
				continue
			}
			v = string(plaintext)
		}
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	// Credentials come decrypted from the vault keeper.
	for k, v := range opts.Credentials {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	image := opts.Image
	if image == "" {
		image = l.cfg.Image
	}

	containerCfg := &dockercontainer.Config{
		Image: image,
		Env:   env,
		Labels: map[string]string{
			labelPrefix + ".managed": "true",
			labelPrefix + ".worker":  opts.Name,
			labelPrefix + ".type":    string(opts.Type),
		},
	}

	hostCfg := &dockercontainer.HostConfig{
		NetworkMode: dockercontainer.NetworkMode(l.networkName),
	}

	resp, err := l.docker.ContainerCreate(ctx, containerCfg, hostCfg, &network.NetworkingConfig{}, nil, containerName)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}

	if err := l.docker.ContainerStart(ctx, resp.ID, dockercontainer.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	info := &WorkerInfo{
		ID:        resp.ID,
		Name:      opts.Name,
		Type:      opts.Type,
		Status:    "running",
		StartedAt: time.Now(),
	}
	l.active[opts.Name] = info

	slog.Info("worker container started", "worker", opts.Name, "type", opts.Type, "container", resp.ID[:12])
	return info, nil
}

func (l *Launcher) StopWorker(ctx context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, ok := l.active[name]
	if !ok {
		return nil
	}

	timeout := 10
	if err := l.docker.ContainerStop(ctx, info.ID, dockercontainer.StopOptions{Timeout: &timeout}); err != nil {
		slog.Warn("failed to stop container gracefully", "container", info.ID[:12], "error", err)
	}

	if err := l.docker.ContainerRemove(ctx, info.ID, dockercontainer.RemoveOptions{Force: true}); err != nil {
		slog.Warn("failed to remove container", "container", info.ID[:12], "error", err)
	}

	delete(l.active, name)
	slog.Info("worker container stopped", "worker", name)
	return nil
}

func (l *Launcher) StopAll(ctx context.Context) {
	l.mu.RLock()
	names := make([]string, 0, len(l.active))
	for name := range l.active {
		names = append(names, name)
	}
	l.mu.RUnlock()

	for _, name := range names {
		_ = l.StopWorker(ctx, name)
	}
}

func (l *Launcher) ListRunning() []WorkerInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]WorkerInfo, 0, len(l.active))
	for _, info := range l.active {
		result = append(result, *info)
	}
	return result
}

func (l *Launcher) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.active)
}

// CleanupStale removes managed containers that this process no longer
// tracks, typically leftovers from a previous run.
func (l *Launcher) CleanupStale(ctx context.Context) error {
	filterArgs := filters.NewArgs()
	filterArgs.Add("label", labelPrefix+".managed=true")

	containers, err := l.docker.ContainerList(ctx, dockercontainer.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err != nil {
		return fmt.Errorf("list containers: %w", err)
	}

	l.mu.RLock()
	activeIDs := make(map[string]bool)
	for _, info := range l.active {
		activeIDs[info.ID] = true
	}
	l.mu.RUnlock()

	for _, c := range containers {
		if !activeIDs[c.ID] {
			slog.Info("cleaning up stale container", "container", c.ID[:12])
			_ = l.docker.ContainerRemove(ctx, c.ID, dockercontainer.RemoveOptions{Force: true})
		}
	}
	return nil
}

func (l *Launcher) BuildImage(ctx context.Context) error {
	return BuildWorkerImage(ctx, l.docker, l.cfg.Image)
}
