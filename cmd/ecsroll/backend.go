package main

import (
	"net/http"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/ecr"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/fluxcd/ecsroll/pkg/event"
	fluxmetrics "github.com/fluxcd/ecsroll/pkg/metrics"
	"github.com/fluxcd/ecsroll/pkg/platform"
	"github.com/fluxcd/ecsroll/pkg/platform/ecs"
	"github.com/fluxcd/ecsroll/pkg/registry"
	"github.com/fluxcd/ecsroll/pkg/rollout"
)

// backend is everything a Coordinator talks to.
type backend struct {
	Platform  platform.Platform
	Publisher registry.Publisher
	Health    rollout.HealthChecker
	Sink      fluxmetrics.Sink
	Events    event.EventWriter
}

type backendFunc func(opts *rootOpts) (*backend, error)

// awsBackend connects to the cluster, registry and reporting
// services named in the fleet configuration, with credentials found
// the usual AWS SDK way.
func awsBackend(opts *rootOpts) (*backend, error) {
	cfg := opts.fleet
	awsConfig := aws.Config{}
	if cfg.Region != "" {
		awsConfig.Region = aws.String(cfg.Region)
	}
	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            awsConfig,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating AWS session")
	}

	var b backend
	{
		logger := log.With(opts.logger, "component", "platform")
		cluster := ecs.NewClusterFromSession(cfg.Cluster, sess, logger)
		b.Platform = platform.Instrument(platform.RateLimited(cluster, platform.RateLimiterConfig{
			RPS:   cfg.Run.APIRPS,
			Burst: cfg.Run.APIBurst,
		}))
		logger.Log("cluster", cfg.Cluster, "rps", cfg.Run.APIRPS, "burst", cfg.Run.APIBurst)
	}

	{
		logger := log.With(opts.logger, "component", "registry")
		runner := registry.ExecRunner{}
		auth := &registry.ECRLogin{
			Client:      ecr.New(sess),
			RegistryIDs: cfg.Registry.RegistryIDs,
			Runner:      runner,
			Logger:      logger,
		}
		b.Publisher = registry.NewInstrumentedPublisher(registry.NewDocker(cfg.Registry, auth, runner, logger))
		logger.Log("registry", cfg.Registry.Host)
	}

	b.Health = &rollout.Prober{
		Client: &http.Client{},
		Sleep:  opts.sleep,
		Logger: log.With(opts.logger, "component", "health"),
	}

	{
		logger := log.With(opts.logger, "component", "metrics")
		sinks := fluxmetrics.Multi{fluxmetrics.LogSink{Logger: logger}}
		if cfg.Metrics.CloudWatch {
			sinks = append(sinks, fluxmetrics.NewCloudWatchSink(cloudwatch.New(sess), logger))
			logger.Log("cloudwatch", cfg.Metrics.Namespace)
		}
		b.Sink = sinks
	}

	{
		logger := log.With(opts.logger, "component", "events")
		writers := event.Multi{event.LogWriter{Logger: logger}}
		if cfg.Events.SNSTopicARN != "" {
			writers = append(writers, event.SNSWriter{Client: sns.New(sess), TopicARN: cfg.Events.SNSTopicARN})
			logger.Log("sns", cfg.Events.SNSTopicARN)
		}
		b.Events = writers
	}
	return &b, nil
}
