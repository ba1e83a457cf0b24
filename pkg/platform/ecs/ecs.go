// Package ecs implements platform.Platform against Amazon ECS.
package ecs

// References:
//  - https://docs.aws.amazon.com/AmazonECS/latest/APIReference/API_Deployment.html
//  - https://docs.aws.amazon.com/AmazonECS/latest/developerguide/deployment-circuit-breaker.html

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ecs"
	"github.com/aws/aws-sdk-go/service/ecs/ecsiface"
	"github.com/aws/aws-sdk-go/service/sts"
	"github.com/aws/aws-sdk-go/service/sts/stsiface"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/fluxcd/ecsroll/pkg/image"
	"github.com/fluxcd/ecsroll/pkg/platform"
)

const (
	failureMissing  = "MISSING"
	serviceInactive = "INACTIVE"
	clusterActive   = "ACTIVE"
)

// Cluster is one ECS cluster.
type Cluster struct {
	name   string
	ecs    ecsiface.ECSAPI
	sts    stsiface.STSAPI
	logger log.Logger
}

var _ platform.Platform = &Cluster{}

func NewCluster(name string, ecsAPI ecsiface.ECSAPI, stsAPI stsiface.STSAPI, logger log.Logger) *Cluster {
	return &Cluster{name: name, ecs: ecsAPI, sts: stsAPI, logger: logger}
}

// NewClusterFromSession uses the default credential chain for region.
func NewClusterFromSession(name string, sess *session.Session, logger log.Logger) *Cluster {
	return NewCluster(name, ecs.New(sess), sts.New(sess), logger)
}

func (c *Cluster) Ping(ctx context.Context) error {
	identity, err := c.sts.GetCallerIdentityWithContext(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return errors.Wrap(err, "checking AWS credentials")
	}
	c.logger.Log("account", aws.StringValue(identity.Account), "arn", aws.StringValue(identity.Arn))

	out, err := c.ecs.DescribeClustersWithContext(ctx, &ecs.DescribeClustersInput{
		Clusters: aws.StringSlice([]string{c.name}),
	})
	if err != nil {
		return errors.Wrapf(err, "describing cluster %s", c.name)
	}
	if len(out.Clusters) == 0 || aws.StringValue(out.Clusters[0].Status) != clusterActive {
		return fmt.Errorf("cluster %s is not active", c.name)
	}
	return nil
}

func (c *Cluster) Describe(ctx context.Context, service string) (platform.ServiceState, error) {
	out, err := c.ecs.DescribeServicesWithContext(ctx, &ecs.DescribeServicesInput{
		Cluster:  aws.String(c.name),
		Services: aws.StringSlice([]string{service}),
	})
	if err != nil {
		return platform.ServiceState{}, translate(err)
	}
	for _, f := range out.Failures {
		if aws.StringValue(f.Reason) == failureMissing {
			return platform.ServiceState{}, platform.ErrServiceNotFound
		}
	}
	if len(out.Services) == 0 || aws.StringValue(out.Services[0].Status) == serviceInactive {
		return platform.ServiceState{}, platform.ErrServiceNotFound
	}

	svc := out.Services[0]
	current, err := platform.ParseRevision(aws.StringValue(svc.TaskDefinition))
	if err != nil {
		return platform.ServiceState{}, err
	}
	state := platform.ServiceState{
		Service:  service,
		Revision: current,
	}
	for _, d := range svc.Deployments {
		rev, err := platform.ParseRevision(aws.StringValue(d.TaskDefinition))
		if err != nil {
			return platform.ServiceState{}, err
		}
		deployment := platform.Deployment{
			ID:       aws.StringValue(d.Id),
			Status:   aws.StringValue(d.Status),
			Revision: rev,
			Desired:  int(aws.Int64Value(d.DesiredCount)),
			Running:  int(aws.Int64Value(d.RunningCount)),
			Pending:  int(aws.Int64Value(d.PendingCount)),
		}
		deployment.RolloutState = rolloutState(d, len(svc.Deployments))
		state.Deployments = append(state.Deployments, deployment)
	}
	return state, nil
}

// rolloutState uses the rollout state ECS reports when the service
// has the deployment circuit breaker; otherwise it is derived from
// task counts the way `aws ecs wait services-stable` does.
func rolloutState(d *ecs.Deployment, deployments int) platform.RolloutState {
	if d.RolloutState != nil {
		switch s := aws.StringValue(d.RolloutState); s {
		case ecs.DeploymentRolloutStateCompleted:
			return platform.RolloutCompleted
		case ecs.DeploymentRolloutStateFailed:
			return platform.RolloutFailed
		case ecs.DeploymentRolloutStateInProgress:
			return platform.RolloutInProgress
		default:
			return platform.RolloutState(s)
		}
	}
	desired, running, pending := aws.Int64Value(d.DesiredCount), aws.Int64Value(d.RunningCount), aws.Int64Value(d.PendingCount)
	switch {
	case deployments == 1 && running == desired && pending == 0:
		return platform.RolloutCompleted
	case running == 0 && pending == 0:
		return platform.RolloutPending
	default:
		return platform.RolloutInProgress
	}
}

func (c *Cluster) describeTaskDefinition(ctx context.Context, rev platform.Revision) (*ecs.DescribeTaskDefinitionOutput, error) {
	out, err := c.ecs.DescribeTaskDefinitionWithContext(ctx, &ecs.DescribeTaskDefinitionInput{
		TaskDefinition: aws.String(rev.String()),
		Include:        aws.StringSlice([]string{ecs.TaskDefinitionFieldTags}),
	})
	if err != nil {
		return nil, errors.Wrapf(translate(err), "describing task definition %s", rev)
	}
	return out, nil
}

func (c *Cluster) ContainerImage(ctx context.Context, rev platform.Revision, container string) (image.Ref, error) {
	out, err := c.describeTaskDefinition(ctx, rev)
	if err != nil {
		return image.Ref{}, err
	}
	for _, def := range out.TaskDefinition.ContainerDefinitions {
		if aws.StringValue(def.Name) == container {
			return image.ParseRef(aws.StringValue(def.Image))
		}
	}
	return image.Ref{}, errors.Wrapf(platform.ErrContainerNotFound, "%s in %s", container, rev)
}

func (c *Cluster) RegisterRevision(ctx context.Context, from platform.Revision, container string, ref image.Ref) (platform.Revision, error) {
	out, err := c.describeTaskDefinition(ctx, from)
	if err != nil {
		return platform.Revision{}, err
	}
	td := out.TaskDefinition

	found := false
	var containers []*ecs.ContainerDefinition
	for _, def := range td.ContainerDefinitions {
		copied := *def
		if aws.StringValue(def.Name) == container {
			copied.Image = aws.String(ref.String())
			found = true
		}
		containers = append(containers, &copied)
	}
	if !found {
		return platform.Revision{}, errors.Wrapf(platform.ErrContainerNotFound, "%s in %s", container, from)
	}

	input := &ecs.RegisterTaskDefinitionInput{
		Family:                  td.Family,
		ContainerDefinitions:    containers,
		Cpu:                     td.Cpu,
		Memory:                  td.Memory,
		NetworkMode:             td.NetworkMode,
		RequiresCompatibilities: td.RequiresCompatibilities,
		ExecutionRoleArn:        td.ExecutionRoleArn,
		TaskRoleArn:             td.TaskRoleArn,
		Volumes:                 td.Volumes,
		PlacementConstraints:    td.PlacementConstraints,
		ProxyConfiguration:      td.ProxyConfiguration,
		EphemeralStorage:        td.EphemeralStorage,
		RuntimePlatform:         td.RuntimePlatform,
		IpcMode:                 td.IpcMode,
		PidMode:                 td.PidMode,
	}
	if len(out.Tags) > 0 {
		input.Tags = out.Tags
	}
	registered, err := c.ecs.RegisterTaskDefinitionWithContext(ctx, input)
	if err != nil {
		return platform.Revision{}, errors.Wrapf(translate(err), "registering new revision of %s", from.Family)
	}
	return platform.ParseRevision(aws.StringValue(registered.TaskDefinition.TaskDefinitionArn))
}

func (c *Cluster) UpdateService(ctx context.Context, service string, spec platform.UpdateSpec) error {
	_, err := c.ecs.UpdateServiceWithContext(ctx, &ecs.UpdateServiceInput{
		Cluster:            aws.String(c.name),
		Service:            aws.String(service),
		TaskDefinition:     aws.String(spec.Revision.String()),
		ForceNewDeployment: aws.Bool(spec.ForceNewDeployment),
	})
	return translate(err)
}

func (c *Cluster) Revisions(ctx context.Context, family string) ([]platform.Revision, error) {
	var revisions []platform.Revision
	var parseErr error
	err := c.ecs.ListTaskDefinitionsPagesWithContext(ctx, &ecs.ListTaskDefinitionsInput{
		FamilyPrefix: aws.String(family),
		Status:       aws.String(ecs.TaskDefinitionStatusActive),
		Sort:         aws.String(ecs.SortOrderDesc),
	}, func(page *ecs.ListTaskDefinitionsOutput, lastPage bool) bool {
		for _, arn := range page.TaskDefinitionArns {
			rev, err := platform.ParseRevision(aws.StringValue(arn))
			if err != nil {
				parseErr = err
				return false
			}
			// FamilyPrefix is a prefix match; keep only this family
			if rev.Family == family {
				revisions = append(revisions, rev)
			}
		}
		return true
	})
	if err != nil {
		return nil, errors.Wrapf(translate(err), "listing revisions of %s", family)
	}
	return revisions, parseErr
}

func (c *Cluster) DeregisterRevision(ctx context.Context, rev platform.Revision) error {
	_, err := c.ecs.DeregisterTaskDefinitionWithContext(ctx, &ecs.DeregisterTaskDefinitionInput{
		TaskDefinition: aws.String(rev.String()),
	})
	return translate(err)
}

func translate(err error) error {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case ecs.ErrCodeServiceNotFoundException, ecs.ErrCodeServiceNotActiveException:
			return platform.ErrServiceNotFound
		}
	}
	return err
}
