package meta

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/depotdb/depot"
)

// Logger is a logging middleware for the metadata service.
type Logger struct {
	logger *zap.Logger
	svc    MetaService
}

// NewLogger returns a logging service middleware for the metadata service.
func NewLogger(log *zap.Logger, s MetaService) *Logger {
	return &Logger{logger: log, svc: s}
}

var _ MetaService = (*Logger)(nil)

func (l *Logger) CreateDataset(ctx context.Context, d *depot.Dataset) (err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to create dataset", zap.Error(err), dur)
			return
		}
		l.logger.Debug("dataset create", zap.String("dataset", d.Name), dur)
	}(time.Now())
	return l.svc.CreateDataset(ctx, d)
}

func (l *Logger) FindDataset(ctx context.Context, name string) (d *depot.Dataset, err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to find dataset", zap.String("dataset", name), zap.Error(err), dur)
			return
		}
		l.logger.Debug("dataset find", zap.String("dataset", name), dur)
	}(time.Now())
	return l.svc.FindDataset(ctx, name)
}

func (l *Logger) ListDatasets(ctx context.Context) (ds []*depot.Dataset, err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to list datasets", zap.Error(err), dur)
			return
		}
		l.logger.Debug("dataset list", zap.Int("count", len(ds)), dur)
	}(time.Now())
	return l.svc.ListDatasets(ctx)
}

func (l *Logger) CreateVersion(ctx context.Context, v *depot.Version) (err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to create version", zap.Error(err), dur)
			return
		}
		l.logger.Debug("version create", zap.String("version", v.ID), zap.String("dataset", v.Dataset), dur)
	}(time.Now())
	return l.svc.CreateVersion(ctx, v)
}

func (l *Logger) FindVersion(ctx context.Context, id string) (v *depot.Version, err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to find version", zap.String("version", id), zap.Error(err), dur)
			return
		}
		l.logger.Debug("version find", zap.String("version", id), dur)
	}(time.Now())
	return l.svc.FindVersion(ctx, id)
}

func (l *Logger) ListVersions(ctx context.Context, filter depot.VersionFilter) (vs []*depot.Version, err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to list versions", zap.Error(err), dur)
			return
		}
		l.logger.Debug("version list", zap.Int("count", len(vs)), dur)
	}(time.Now())
	return l.svc.ListVersions(ctx, filter)
}

func (l *Logger) UpdateStatus(ctx context.Context, id string, target depot.Status, audit map[string]string) (v *depot.Version, err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to update version status",
				zap.String("version", id), zap.String("target", string(target)), zap.Error(err), dur)
			return
		}
		l.logger.Debug("version status update",
			zap.String("version", id), zap.String("target", string(target)), dur)
	}(time.Now())
	return l.svc.UpdateStatus(ctx, id, target, audit)
}

func (l *Logger) ActivateVersion(ctx context.Context, id string) (err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to activate version", zap.String("version", id), zap.Error(err), dur)
			return
		}
		l.logger.Debug("version activate", zap.String("version", id), dur)
	}(time.Now())
	return l.svc.ActivateVersion(ctx, id)
}
