package ollama

import (
	"context"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"

	"github.com/jackzampolin/tabextract/internal/providers"
	"github.com/jackzampolin/tabextract/internal/testutil"
)

func TestGenerateContainerName(t *testing.T) {
	tests := []struct {
		name     string
		homePath string
		want     string
	}{
		{name: "linux home", homePath: "/home/user/.tabextract", want: "tabextract-ollama-aeec4745"},
		{name: "mac home", homePath: "/Users/jo/.tabextract", want: "tabextract-ollama-f7c658c5"},
		{name: "empty path", homePath: "", want: "tabextract-ollama-e3b0c442"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GenerateContainerName(tt.homePath); got != tt.want {
				t.Errorf("GenerateContainerName(%q) = %q, want %q", tt.homePath, got, tt.want)
			}
		})
	}

	if GenerateContainerName("/a") == GenerateContainerName("/b") {
		t.Error("expected distinct names per home path")
	}
}

func TestNewDockerManager_ContainerNaming(t *testing.T) {
	tests := []struct {
		name         string
		cfg          DockerConfig
		wantContName string
	}{
		{
			name:         "explicit container name takes precedence",
			cfg:          DockerConfig{ContainerName: "my-ollama", HomePath: "/home/test/.tabextract"},
			wantContName: "my-ollama",
		},
		{
			name:         "derived from home path",
			cfg:          DockerConfig{HomePath: "/home/test/.tabextract"},
			wantContName: GenerateContainerName("/home/test/.tabextract"),
		},
		{
			name:         "default",
			cfg:          DockerConfig{},
			wantContName: DefaultContainerName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr, err := NewDockerManager(tt.cfg)
			if err != nil {
				t.Fatalf("NewDockerManager() error = %v", err)
			}
			defer mgr.Close()

			if mgr.ContainerName() != tt.wantContName {
				t.Errorf("ContainerName() = %q, want %q", mgr.ContainerName(), tt.wantContName)
			}
		})
	}
}

func TestContainerConfig(t *testing.T) {
	mgr, err := NewDockerManager(DockerConfig{DataPath: "/srv/models", HostPort: "21434", GPU: true, Labels: map[string]string{"x": "y"}})
	if err != nil {
		t.Fatalf("NewDockerManager() error = %v", err)
	}
	defer mgr.Close()

	cfg, host := mgr.containerConfig()
	if cfg.Image != DefaultImage {
		t.Errorf("Image = %s", cfg.Image)
	}
	if cfg.Labels[Label] != "true" || cfg.Labels["x"] != "y" {
		t.Errorf("labels = %v", cfg.Labels)
	}
	if _, ok := cfg.ExposedPorts[nat.Port(ContainerPort)]; !ok {
		t.Error("container port not exposed")
	}
	if b := host.PortBindings[nat.Port(ContainerPort)]; len(b) != 1 || b[0].HostPort != "21434" {
		t.Errorf("port bindings = %v", host.PortBindings)
	}
	if len(host.Mounts) != 1 || host.Mounts[0].Source != "/srv/models" || host.Mounts[0].Target != DataDir {
		t.Errorf("mounts = %+v", host.Mounts)
	}
	if len(host.DeviceRequests) != 1 || host.DeviceRequests[0].Count != -1 {
		t.Errorf("device requests = %+v", host.DeviceRequests)
	}
	if mgr.URL() != "http://localhost:21434" {
		t.Errorf("URL() = %s", mgr.URL())
	}

	cpu, err := NewDockerManager(DockerConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer cpu.Close()
	if _, host := cpu.containerConfig(); len(host.DeviceRequests) != 0 || len(host.Mounts) != 0 {
		t.Errorf("expected no GPU or mounts, got %+v", host)
	}
}

func TestContainerStatus_Values(t *testing.T) {
	seen := make(map[ContainerStatus]bool)
	for _, s := range []ContainerStatus{StatusRunning, StatusStopped, StatusNotFound, StatusUnhealthy, StatusStarting} {
		if seen[s] {
			t.Errorf("duplicate status value: %s", s)
		}
		seen[s] = true
	}
}

func TestDockerManager_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("pulls the ollama image")
	}
	_ = testutil.DockerClient(t)

	ctx := context.Background()
	port, err := testutil.FindFreePort()
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}

	mgr, err := NewDockerManager(DockerConfig{
		ContainerName: testutil.UniqueContainerName(t, "ollama"),
		DataPath:      t.TempDir(),
		HostPort:      port,
		Labels:        testutil.ContainerLabels(t),
	})
	if err != nil {
		t.Fatalf("NewDockerManager() error = %v", err)
	}
	defer mgr.Close()

	t.Run("Start", func(t *testing.T) {
		if err := mgr.Start(ctx); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		status, err := mgr.Status(ctx)
		if err != nil {
			t.Fatalf("Status() error = %v", err)
		}
		if status != StatusRunning {
			t.Errorf("expected status running, got %s", status)
		}
	})

	t.Run("Start_AlreadyRunning", func(t *testing.T) {
		if err := mgr.Start(ctx); err != nil {
			t.Errorf("Start() on running container should succeed: %v", err)
		}
	})

	t.Run("ValidateExisting", func(t *testing.T) {
		if err := mgr.ValidateExisting(ctx); err != nil {
			t.Errorf("ValidateExisting() error = %v", err)
		}
	})

	t.Run("ListModels", func(t *testing.T) {
		client := providers.NewOllamaClient(providers.OllamaConfig{BaseURL: mgr.URL()})
		if _, err := client.ListModels(ctx); err != nil {
			t.Errorf("ListModels() error = %v", err)
		}
	})

	t.Run("Logs", func(t *testing.T) {
		if _, err := mgr.Logs(ctx, "10"); err != nil {
			t.Fatalf("Logs() error = %v", err)
		}
	})

	t.Run("Stop", func(t *testing.T) {
		if err := mgr.Stop(ctx); err != nil {
			t.Fatalf("Stop() error = %v", err)
		}
		status, err := mgr.Status(ctx)
		if err != nil {
			t.Fatalf("Status() error = %v", err)
		}
		if status != StatusStopped {
			t.Errorf("expected status stopped, got %s", status)
		}
	})

	t.Run("Remove", func(t *testing.T) {
		if err := mgr.Remove(ctx); err != nil {
			t.Fatalf("Remove() error = %v", err)
		}
		status, err := mgr.Status(ctx)
		if err != nil {
			t.Fatalf("Status() error = %v", err)
		}
		if status != StatusNotFound {
			t.Errorf("expected status not_found, got %s", status)
		}
	})

	t.Run("Logs_NotFound", func(t *testing.T) {
		if _, err := mgr.Logs(ctx, "10"); err == nil {
			t.Error("expected error for non-existent container")
		}
	})
}

func TestWaitReady_FakeServer(t *testing.T) {
	fake := testutil.NewFakeOllama(t, nil, nil)

	mgr := &DockerManager{hostPort: fake.Listener.Addr().String()[len("127.0.0.1:"):]}
	if err := mgr.WaitReady(context.Background(), 2*time.Second); err != nil {
		t.Fatalf("WaitReady() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	down := &DockerManager{hostPort: "1"}
	if err := down.WaitReady(ctx, time.Second); err == nil {
		t.Error("expected error from cancelled context")
	}
}
