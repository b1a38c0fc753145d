// Package insights serves discovery and metric queries over the configured
// data sources.
package insights

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aevon-lab/insight/internal/codec"
	"github.com/aevon-lab/insight/internal/core/model"
	"github.com/aevon-lab/insight/internal/core/sources"
	"github.com/aevon-lab/insight/internal/core/warehouse"
	"github.com/aevon-lab/insight/internal/dialect"
	"github.com/aevon-lab/insight/internal/discovery"
	"github.com/aevon-lab/insight/internal/query"
	"github.com/aevon-lab/insight/internal/snapshot"
)

const defaultLookbackDays = 30

// Service ties sources, warehouse connections, discovery and compilation
// together. Compilation reads only the published snapshot, so concurrent
// requests never interfere.
type Service struct {
	sources      sources.Repository
	pool         *warehouse.Pool
	registry     *snapshot.Registry
	opts         discovery.Options
	lookbackDays int
	nowFn        func() time.Time
}

// NewService creates a new insights service.
func NewService(
	repo sources.Repository,
	pool *warehouse.Pool,
	registry *snapshot.Registry,
	opts discovery.Options,
	lookbackDays int,
) *Service {
	if lookbackDays <= 0 {
		lookbackDays = defaultLookbackDays
	}
	return &Service{
		sources:      repo,
		pool:         pool,
		registry:     registry,
		opts:         opts,
		lookbackDays: lookbackDays,
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *Service) source(ctx context.Context, id string) (*sources.Source, *dialect.Adapter, error) {
	src, err := s.sources.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	adapter, err := dialect.Connect(ctx, s.pool, src.Connection)
	if err != nil {
		return nil, nil, fmt.Errorf("connect source %s: %w", id, err)
	}
	return src, adapter, nil
}

// window resolves the discovery window: explicit bounds win, otherwise the
// source's default window ending now.
func (s *Service) window(src *sources.Source, req DiscoverRequest) (time.Time, time.Time) {
	end := s.nowFn()
	if req.End != nil {
		end = req.End.UTC()
	}
	if req.Start != nil {
		return req.Start.UTC(), end
	}
	if src.DefaultDiscoveryWindow.Validate() == nil {
		return src.DefaultDiscoveryWindow.Before(end), end
	}
	return end.AddDate(0, 0, -s.lookbackDays), end
}

// Discover runs discovery for a source and publishes the snapshot. Tables that
// fail are reported in the response; the snapshot is published as long as one
// table succeeded.
func (s *Service) Discover(ctx context.Context, sourceID string, req DiscoverRequest) (*DiscoverResponse, error) {
	src, adapter, err := s.source(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	var tables []model.EventDataTable
	for _, name := range req.Tables {
		t, err := src.Table(name)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	start, end := s.window(src, req)

	engine := discovery.NewEngine(adapter, s.opts)
	discovered, err := engine.Discover(ctx, src.EventDataSource, tables, start, end, func(p discovery.Progress) {
		slog.Debug("[Insights] Discovery progress",
			"source_id", sourceID,
			"table", p.Table,
			"stage", p.Stage,
			"event", p.Event,
			"done", p.Done,
			"total", p.Total,
		)
	})

	var partial *model.DiscoveryPartialFailure
	if err != nil && !errors.As(err, &partial) {
		return nil, err
	}
	if len(discovered.Tables) == 0 {
		if err == nil {
			err = model.NewValidationError("tables", "no tables to discover (source %s)", sourceID)
		}
		return nil, err
	}

	published, perr := s.registry.Publish(*discovered)
	if perr != nil {
		return nil, perr
	}
	resp := &DiscoverResponse{
		SnapshotID:   published.ID,
		SourceID:     published.SourceID,
		Version:      published.Version,
		DiscoveredAt: published.DiscoveredAt,
		Tables:       published.TableNames(),
	}
	if partial != nil {
		resp.Failures = make(map[string]string, len(partial.Failures))
		for table, ferr := range partial.Failures {
			resp.Failures[table] = ferr.Error()
		}
	}
	return resp, nil
}

// Snapshot returns the current snapshot of a source.
func (s *Service) Snapshot(ctx context.Context, sourceID string) (*model.DiscoveredEventDataSource, error) {
	if _, err := s.sources.Get(ctx, sourceID); err != nil {
		return nil, err
	}
	return s.registry.Current(sourceID)
}

// decode reads the metric of a request against the source's current snapshot.
func (s *Service) decode(ctx context.Context, sourceID string, req MetricRequest) (model.Metric, error) {
	hasJSON := len(req.Metric) > 0 && string(req.Metric) != "null"
	hasCompressed := req.Compressed != ""
	if hasJSON == hasCompressed {
		return nil, &model.SerializationError{Message: `request needs exactly one of "metric" and "m"`}
	}
	snap, err := s.Snapshot(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if hasCompressed {
		return codec.Decompress(req.Compressed, snap)
	}
	return codec.Unmarshal(req.Metric, snap)
}

// Compile decodes and compiles a metric for the source's dialect. Nothing is
// sent to the warehouse.
func (s *Service) Compile(ctx context.Context, sourceID string, req MetricRequest) (*query.CompiledQuery, model.Metric, error) {
	src, err := s.sources.Get(ctx, sourceID)
	if err != nil {
		return nil, nil, err
	}
	metric, err := s.decode(ctx, sourceID, req)
	if err != nil {
		return nil, nil, err
	}
	d, err := dialect.For(src.Connection.Type)
	if err != nil {
		return nil, nil, err
	}
	compiled, err := query.NewBuilder(d).Compile(metric)
	if err != nil {
		return nil, nil, err
	}
	return compiled, metric, nil
}

// CompileSQL returns the display SQL of a metric.
func (s *Service) CompileSQL(ctx context.Context, sourceID string, req MetricRequest) (*SQLResponse, error) {
	compiled, metric, err := s.Compile(ctx, sourceID, req)
	if err != nil {
		return nil, err
	}
	compressed, err := codec.Compress(metric)
	if err != nil {
		return nil, err
	}
	return &SQLResponse{Kind: compiled.Kind().String(), SQL: compiled.Render(), Compressed: compressed}, nil
}

// Run compiles a metric and executes it against the source's warehouse.
func (s *Service) Run(ctx context.Context, sourceID string, req MetricRequest) (*RunResponse, error) {
	compiled, _, err := s.Compile(ctx, sourceID, req)
	if err != nil {
		return nil, err
	}
	_, adapter, err := s.source(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	res, err := compiled.Execute(ctx, adapter)
	if err != nil {
		return nil, err
	}
	rows := res.Rows
	if rows == nil {
		rows = [][]any{}
	}
	return &RunResponse{SQL: compiled.Render(), Columns: res.Columns, Rows: rows}, nil
}

// Ping checks connectivity to every configured source.
func (s *Service) Ping(ctx context.Context) error {
	var errs []error
	for _, src := range s.sources.List(ctx) {
		adapter, err := dialect.Connect(ctx, s.pool, src.Connection)
		if err == nil {
			err = adapter.TestConnection(ctx)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", src.ID, err))
		}
	}
	return errors.Join(errs...)
}

// RediscoverAll discovers every source in turn and publishes the results.
func (s *Service) RediscoverAll(ctx context.Context) error {
	var errs []error
	for _, src := range s.sources.List(ctx) {
		resp, err := s.Discover(ctx, src.ID, DiscoverRequest{})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errs = append(errs, fmt.Errorf("source %s: %w", src.ID, err))
			continue
		}
		slog.Info("[Insights] Source re-discovered",
			"source_id", src.ID,
			"snapshot_id", resp.SnapshotID,
			"version", resp.Version,
			"failed_tables", len(resp.Failures),
		)
	}
	return errors.Join(errs...)
}
