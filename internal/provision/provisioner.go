// Package provision makes sure the runtime image for a language is present
// before a sandbox is created from it, pulling or building it on demand.
package provision

import (
	"archive/tar"
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/p-arndt/compilerz/internal/language"
	"github.com/p-arndt/compilerz/internal/runtime"
	"github.com/p-arndt/compilerz/internal/telemetry"
)

var ErrProvision = errors.New("image provisioning failed")

//go:embed dockerfiles/*.Dockerfile
var recipes embed.FS

// Provisioner acquires runtime images. Concurrent requests for the same
// image share one acquisition.
type Provisioner struct {
	images  runtime.ImageStore
	inst    *telemetry.Instruments
	logger  *zap.Logger
	timeout time.Duration
	group   singleflight.Group
}

func New(images runtime.ImageStore, inst *telemetry.Instruments, logger *zap.Logger, timeout time.Duration) *Provisioner {
	return &Provisioner{
		images:  images,
		inst:    inst,
		logger:  logger,
		timeout: timeout,
	}
}

// EnsureImage returns once the image for lang is available locally.
// A started acquisition runs to completion even if ctx is cancelled.
func (p *Provisioner) EnsureImage(ctx context.Context, lang language.Language) error {
	img, err := lang.Image()
	if err != nil {
		return err
	}

	exists, err := p.images.ImageExists(ctx, img.Ref)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrProvision, img.Ref, err)
	}
	if exists {
		return nil
	}

	ch := p.group.DoChan(img.Ref, func() (any, error) {
		return nil, p.acquire(img)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Provisioner) acquire(img language.Image) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	method := "pull"
	if img.Built() {
		method = "build"
	}
	ctx, span := p.inst.Tracer.Start(ctx, "provision."+method)
	defer span.End()
	span.SetAttributes(attribute.String("image", img.Ref))

	log := p.logger.With(zap.String("image", img.Ref), zap.String("method", method))
	log.Info("acquiring runtime image")
	progress := func(line string) {
		log.Debug("provision progress", zap.String("line", line))
	}

	start := time.Now()
	var err error
	if img.Built() {
		err = p.build(ctx, img, progress)
	} else {
		err = p.images.PullImage(ctx, img.Ref, progress)
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	p.inst.ProvisionDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", outcome),
	))

	if err != nil {
		log.Error("runtime image acquisition failed", zap.Error(err))
		return fmt.Errorf("%w: %s: %w", ErrProvision, img.Ref, err)
	}
	log.Info("runtime image ready", zap.Duration("took", time.Since(start)))
	return nil
}

func (p *Provisioner) build(ctx context.Context, img language.Image, progress func(string)) error {
	buildCtx, err := buildContext(img.Recipe)
	if err != nil {
		return err
	}
	return p.images.BuildImage(ctx, img.Ref, buildCtx, progress)
}

// buildContext packs the named recipe as the sole Dockerfile of a tar build context.
func buildContext(recipe string) (io.Reader, error) {
	dockerfile, err := recipes.ReadFile("dockerfiles/" + recipe)
	if err != nil {
		return nil, fmt.Errorf("recipe %s: %w", recipe, err)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name:    "Dockerfile",
		Mode:    0o644,
		Size:    int64(len(dockerfile)),
		ModTime: time.Unix(0, 0),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, err
	}
	if _, err := tw.Write(dockerfile); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}
