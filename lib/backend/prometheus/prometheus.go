// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package prometheus samples utilization from a Prometheus server with
// a PromQL instant query. The first element of the result vector (or a
// scalar result) is multiplied by Scale, so a 0-1 ratio such as
//
//	1 - avg(rate(node_cpu_seconds_total{mode="idle"}[1m]))
//
// becomes a percentage with Scale 100. This lets a host without local
// counters display the load of a remote machine, or of a whole fleet.
package prometheus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/bureau-foundation/loadmeter/lib/clock"
	"github.com/bureau-foundation/loadmeter/lib/provider"
)

// Kind is the configuration name of this backend.
const Kind = "prometheus"

// DefaultTimeout bounds a query when Options.Timeout is zero.
const DefaultTimeout = 3 * time.Second

var errNoData = errors.New("query returned no samples")

// Options configures a Provider.
type Options struct {
	// Name identifies the provider. Default "prometheus".
	Name string

	// Address is the server base URL, e.g. http://prometheus:9090.
	Address string

	// Query is the PromQL expression.
	Query string

	// Scale multiplies the query result. Default 1.
	Scale float64

	// Timeout bounds one query. Default DefaultTimeout.
	Timeout time.Duration

	// Clock supplies the evaluation time. Default clock.Real().
	Clock clock.Clock
}

// Provider runs one instant query per Read.
type Provider struct {
	logger  *slog.Logger
	name    string
	api     v1.API
	query   string
	scale   float64
	timeout time.Duration
	clock   clock.Clock
	closed  bool
}

var _ provider.Provider = (*Provider)(nil)

// New validates the options and builds the API client. No request is
// made until the first Read.
func New(logger *slog.Logger, options Options) (*Provider, error) {
	var errs []error
	if options.Address == "" {
		errs = append(errs, errors.New("prometheus provider needs an address"))
	}
	if options.Query == "" {
		errs = append(errs, errors.New("prometheus provider needs a query"))
	}
	if options.Timeout < 0 {
		errs = append(errs, fmt.Errorf("prometheus timeout must not be negative, got %v", options.Timeout))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if options.Name == "" {
		options.Name = Kind
	}
	if options.Scale == 0 {
		options.Scale = 1
	}
	if options.Timeout == 0 {
		options.Timeout = DefaultTimeout
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}

	client, err := api.NewClient(api.Config{Address: options.Address})
	if err != nil {
		return nil, fmt.Errorf("creating Prometheus client for %s: %w", options.Address, err)
	}

	return &Provider{
		logger:  logger,
		name:    options.Name,
		api:     v1.NewAPI(client),
		query:   options.Query,
		scale:   options.Scale,
		timeout: options.Timeout,
		clock:   options.Clock,
	}, nil
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return p.name }

// Available reports whether the provider is open. Reachability is only
// known by querying.
func (p *Provider) Available() bool { return !p.closed }

// Read evaluates the query once.
func (p *Provider) Read(ctx context.Context) provider.Sample {
	value, err := p.evaluate(ctx)
	return provider.Collapse(p.logger, p.name, value, err)
}

func (p *Provider) evaluate(ctx context.Context) (float64, error) {
	if p.closed {
		return 0, fmt.Errorf("%s: %w", p.name, provider.ErrBackendUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result, warnings, err := p.api.Query(ctx, p.query, p.clock.Now(), v1.WithTimeout(p.timeout))
	if err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("%s after %v: %w", p.name, p.timeout, provider.ErrTimeout)
		}
		return 0, fmt.Errorf("prometheus query %q: %w", p.query, err)
	}
	if len(warnings) > 0 {
		p.logger.Debug("prometheus query warnings",
			"provider", p.name,
			"warnings", []string(warnings))
	}

	value, err := firstValue(result)
	if err != nil {
		return 0, fmt.Errorf("prometheus query %q: %w", p.query, err)
	}
	return value * p.scale, nil
}

// firstValue extracts the number an instant query produced.
func firstValue(result model.Value) (float64, error) {
	if result == nil {
		return 0, errNoData
	}
	switch typed := result.(type) {
	case model.Vector:
		if len(typed) == 0 {
			return 0, errNoData
		}
		return float64(typed[0].Value), nil
	case *model.Scalar:
		return float64(typed.Value), nil
	default:
		return 0, fmt.Errorf("unsupported result type %s", result.Type())
	}
}

// Close marks the provider closed.
func (p *Provider) Close() error {
	p.closed = true
	return nil
}
