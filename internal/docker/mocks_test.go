package docker

import (
	"context"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/mock"
)

// MockAPI mocks the apiClient interface.
type MockAPI struct {
	mock.Mock
}

func (m *MockAPI) Ping(ctx context.Context) (types.Ping, error) {
	args := m.Called(ctx)
	return types.Ping{}, args.Error(0)
}

func (m *MockAPI) ContainerCreate(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, netCfg *network.NetworkingConfig, platform *ocispec.Platform, name string) (container.CreateResponse, error) {
	args := m.Called(ctx, cfg, hostCfg, name)
	return args.Get(0).(container.CreateResponse), args.Error(1)
}

func (m *MockAPI) ContainerStart(ctx context.Context, id string, opts container.StartOptions) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockAPI) ContainerStop(ctx context.Context, id string, opts container.StopOptions) error {
	args := m.Called(ctx, id, opts)
	return args.Error(0)
}

func (m *MockAPI) ContainerRemove(ctx context.Context, id string, opts container.RemoveOptions) error {
	args := m.Called(ctx, id, opts)
	return args.Error(0)
}

func (m *MockAPI) ContainerList(ctx context.Context, opts container.ListOptions) ([]container.Summary, error) {
	args := m.Called(ctx, opts)
	if list := args.Get(0); list != nil {
		return list.([]container.Summary), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAPI) CopyToContainer(ctx context.Context, id, dst string, content io.Reader, opts container.CopyToContainerOptions) error {
	args := m.Called(ctx, id, dst, content)
	return args.Error(0)
}

func (m *MockAPI) ContainerExecCreate(ctx context.Context, id string, opts container.ExecOptions) (container.ExecCreateResponse, error) {
	args := m.Called(ctx, id, opts)
	return args.Get(0).(container.ExecCreateResponse), args.Error(1)
}

func (m *MockAPI) ContainerExecAttach(ctx context.Context, execID string, opts container.ExecAttachOptions) (types.HijackedResponse, error) {
	args := m.Called(ctx, execID, opts)
	return args.Get(0).(types.HijackedResponse), args.Error(1)
}

func (m *MockAPI) ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error) {
	args := m.Called(ctx, execID)
	return args.Get(0).(container.ExecInspect), args.Error(1)
}

func (m *MockAPI) ImageList(ctx context.Context, opts image.ListOptions) ([]image.Summary, error) {
	args := m.Called(ctx, opts)
	if list := args.Get(0); list != nil {
		return list.([]image.Summary), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAPI) ImagePull(ctx context.Context, ref string, opts image.PullOptions) (io.ReadCloser, error) {
	args := m.Called(ctx, ref)
	if body := args.Get(0); body != nil {
		return body.(io.ReadCloser), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAPI) ImageBuild(ctx context.Context, buildContext io.Reader, opts build.ImageBuildOptions) (build.ImageBuildResponse, error) {
	args := m.Called(ctx, buildContext, opts)
	return args.Get(0).(build.ImageBuildResponse), args.Error(1)
}

func (m *MockAPI) Close() error {
	return m.Called().Error(0)
}
