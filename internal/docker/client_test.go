package docker

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/p-arndt/compilerz/internal/config"
	"github.com/p-arndt/compilerz/internal/runtime"
)

func newTestClient() (*Client, *MockAPI) {
	api := &MockAPI{}
	return &Client{docker: api, cfg: config.Default().Sandbox}, api
}

func TestHostConfigIsHardened(t *testing.T) {
	hc := hostConfig(config.Default().Sandbox)

	assert.True(t, hc.AutoRemove)
	assert.Equal(t, int64(512*1024*1024), hc.Memory)
	assert.Equal(t, int64(50000), hc.CPUQuota)
	assert.Equal(t, int64(512), hc.CPUShares)
	require.NotNil(t, hc.PidsLimit)
	assert.Equal(t, int64(256), *hc.PidsLimit)
	assert.Equal(t, container.NetworkMode("none"), hc.NetworkMode)
	assert.Equal(t, "rw,size=104857600", hc.Tmpfs["/tmp"])
	assert.Equal(t, []string{"no-new-privileges"}, hc.SecurityOpt)
	assert.Equal(t, []string{"ALL"}, hc.CapDrop)
	assert.ElementsMatch(t, []string{"CHOWN", "SETGID", "SETUID"}, hc.CapAdd)
}

func TestContainerConfig(t *testing.T) {
	cc := containerConfig(runtime.CreateOpts{SessionID: "s1", Language: "python", Image: "python:3.11-alpine"})

	assert.Equal(t, "python:3.11-alpine", cc.Image)
	assert.Equal(t, []string{"tail", "-f", "/dev/null"}, []string(cc.Cmd))
	assert.Equal(t, runtime.WorkDir, cc.WorkingDir)
	assert.True(t, cc.Tty)
	assert.True(t, cc.OpenStdin)
	assert.Equal(t, "true", cc.Labels["compilerz.managed"])
	assert.Equal(t, "s1", cc.Labels["compilerz.session_id"])
	assert.Equal(t, "python", cc.Labels["compilerz.language"])
}

func TestCreate(t *testing.T) {
	c, api := newTestClient()
	ctx := context.Background()

	api.On("ContainerCreate", ctx, mock.Anything, mock.Anything, "compilerz-s1").
		Return(container.CreateResponse{ID: "cid"}, nil)
	api.On("ContainerStart", ctx, "cid").Return(nil)

	id, err := c.Create(ctx, runtime.CreateOpts{SessionID: "s1", Image: "python:3.11-alpine"})
	require.NoError(t, err)
	assert.Equal(t, "cid", id)
	api.AssertExpectations(t)
}

func TestCreateRemovesContainerWhenStartFails(t *testing.T) {
	c, api := newTestClient()
	ctx := context.Background()

	api.On("ContainerCreate", ctx, mock.Anything, mock.Anything, "compilerz-s1").
		Return(container.CreateResponse{ID: "cid"}, nil)
	api.On("ContainerStart", ctx, "cid").Return(errors.New("no such image"))
	api.On("ContainerRemove", ctx, "cid", container.RemoveOptions{Force: true}).Return(nil)

	_, err := c.Create(ctx, runtime.CreateOpts{SessionID: "s1", Image: "missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "container start")
	api.AssertExpectations(t)
}

func TestStop(t *testing.T) {
	c, api := newTestClient()
	ctx := context.Background()

	api.On("ContainerStop", ctx, "cid", mock.MatchedBy(func(o container.StopOptions) bool {
		return o.Timeout != nil && *o.Timeout == 2
	})).Return(nil)

	require.NoError(t, c.Stop(ctx, "cid"))
	api.AssertExpectations(t)
}

func TestStopMissingContainer(t *testing.T) {
	c, api := newTestClient()
	ctx := context.Background()

	api.On("ContainerStop", ctx, "gone", mock.Anything).Return(errdefs.NotFound(errors.New("no such container")))

	err := c.Stop(ctx, "gone")
	assert.ErrorIs(t, err, runtime.ErrNotFound)
}

func TestStopDaemonError(t *testing.T) {
	c, api := newTestClient()
	ctx := context.Background()

	api.On("ContainerStop", ctx, "cid", mock.Anything).Return(errors.New("daemon unavailable"))

	err := c.Stop(ctx, "cid")
	require.Error(t, err)
	assert.NotErrorIs(t, err, runtime.ErrNotFound)
}

func TestCopyTo(t *testing.T) {
	c, api := newTestClient()
	ctx := context.Background()
	archive := strings.NewReader("tar")

	api.On("CopyToContainer", ctx, "cid", runtime.WorkDir, archive).Return(nil)
	require.NoError(t, c.CopyTo(ctx, "cid", runtime.WorkDir, archive))

	api.On("CopyToContainer", ctx, "gone", runtime.WorkDir, archive).Return(errdefs.NotFound(errors.New("gone")))
	assert.ErrorIs(t, c.CopyTo(ctx, "gone", runtime.WorkDir, archive), runtime.ErrNotFound)
}

func TestExecProcessWait(t *testing.T) {
	api := &MockAPI{}
	ctx := context.Background()

	api.On("ContainerExecInspect", ctx, "exec1").Return(container.ExecInspect{Running: true}, nil).Once()
	api.On("ContainerExecInspect", ctx, "exec1").Return(container.ExecInspect{Running: false, ExitCode: 3}, nil).Once()

	p := &execProcess{docker: api, execID: "exec1"}
	code, err := p.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	api.AssertExpectations(t)
}

func TestExecProcessWaitCancelled(t *testing.T) {
	api := &MockAPI{}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	api.On("ContainerExecInspect", mock.Anything, "exec1").Return(container.ExecInspect{Running: true}, nil)

	p := &execProcess{docker: api, execID: "exec1"}
	_, err := p.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestListManaged(t *testing.T) {
	c, api := newTestClient()
	ctx := context.Background()

	api.On("ContainerList", ctx, mock.Anything).Return([]container.Summary{
		{ID: "c1", Created: 1700000000, Labels: map[string]string{"compilerz.session_id": "s1"}},
		{ID: "c2", Labels: map[string]string{}},
	}, nil)

	list, err := c.ListManaged(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "c1", list[0].Handle)
	assert.Equal(t, "s1", list[0].SessionID)
	assert.Equal(t, int64(1700000000), list[0].CreatedAt.Unix())
}

func TestImageExists(t *testing.T) {
	c, api := newTestClient()
	ctx := context.Background()

	api.On("ImageList", ctx, mock.Anything).Return([]image.Summary{
		{RepoTags: []string{"python:3.11-alpine"}},
	}, nil).Once()
	ok, err := c.ImageExists(ctx, "python:3.11-alpine")
	require.NoError(t, err)
	assert.True(t, ok)

	api.On("ImageList", ctx, mock.Anything).Return([]image.Summary{}, nil).Once()
	ok, err = c.ImageExists(ctx, "gcc:alpine")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPullImageReportsProgress(t *testing.T) {
	c, api := newTestClient()
	ctx := context.Background()

	body := io.NopCloser(strings.NewReader(
		`{"status":"Pulling from library/python","id":"3.11-alpine"}` + "\n" +
			`{"status":"Download complete","id":"abc123"}` + "\n"))
	api.On("ImagePull", ctx, "python:3.11-alpine").Return(body, nil)

	var lines []string
	err := c.PullImage(ctx, "python:3.11-alpine", func(line string) { lines = append(lines, line) })
	require.NoError(t, err)
	assert.Equal(t, []string{"3.11-alpine: Pulling from library/python", "abc123: Download complete"}, lines)
}

func TestPullImageStreamError(t *testing.T) {
	c, api := newTestClient()
	ctx := context.Background()

	body := io.NopCloser(strings.NewReader(`{"errorDetail":{"message":"manifest unknown"},"error":"manifest unknown"}`))
	api.On("ImagePull", ctx, "nope:latest").Return(body, nil)

	err := c.PullImage(ctx, "nope:latest", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manifest unknown")
}

func TestBuildImage(t *testing.T) {
	c, api := newTestClient()
	ctx := context.Background()
	buildCtx := strings.NewReader("tar")

	body := io.NopCloser(strings.NewReader(
		`{"stream":"Step 1/2 : FROM alpine:latest\n"}` + "\n" +
			`{"stream":"Successfully tagged gcc:alpine\n"}` + "\n"))
	api.On("ImageBuild", ctx, buildCtx, mock.MatchedBy(func(o build.ImageBuildOptions) bool {
		return len(o.Tags) == 1 && o.Tags[0] == "gcc:alpine" && o.Dockerfile == "Dockerfile"
	})).Return(build.ImageBuildResponse{Body: body}, nil)

	var lines []string
	err := c.BuildImage(ctx, "gcc:alpine", buildCtx, func(line string) { lines = append(lines, line) })
	require.NoError(t, err)
	assert.Equal(t, []string{"Step 1/2 : FROM alpine:latest", "Successfully tagged gcc:alpine"}, lines)
}

func TestReadProgressMalformed(t *testing.T) {
	err := readProgress(strings.NewReader("{not json"), nil)
	assert.Error(t, err)
}
