package ecs

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ecs"
	"github.com/aws/aws-sdk-go/service/ecs/ecsiface"
	"github.com/aws/aws-sdk-go/service/sts"
	"github.com/aws/aws-sdk-go/service/sts/stsiface"
	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcd/ecsroll/pkg/image"
	"github.com/fluxcd/ecsroll/pkg/platform"
)

const arnPrefix = "arn:aws:ecs:us-east-1:123456789012:task-definition/"

type fakeECS struct {
	ecsiface.ECSAPI

	clusters   *ecs.DescribeClustersOutput
	services   *ecs.DescribeServicesOutput
	taskDef    *ecs.DescribeTaskDefinitionOutput
	registered *ecs.RegisterTaskDefinitionInput
	updated    *ecs.UpdateServiceInput
	updateErr  error
	pages      [][]string
}

func (f *fakeECS) DescribeClustersWithContext(ctx aws.Context, in *ecs.DescribeClustersInput, opts ...request.Option) (*ecs.DescribeClustersOutput, error) {
	return f.clusters, nil
}

func (f *fakeECS) DescribeServicesWithContext(ctx aws.Context, in *ecs.DescribeServicesInput, opts ...request.Option) (*ecs.DescribeServicesOutput, error) {
	return f.services, nil
}

func (f *fakeECS) DescribeTaskDefinitionWithContext(ctx aws.Context, in *ecs.DescribeTaskDefinitionInput, opts ...request.Option) (*ecs.DescribeTaskDefinitionOutput, error) {
	return f.taskDef, nil
}

func (f *fakeECS) RegisterTaskDefinitionWithContext(ctx aws.Context, in *ecs.RegisterTaskDefinitionInput, opts ...request.Option) (*ecs.RegisterTaskDefinitionOutput, error) {
	f.registered = in
	return &ecs.RegisterTaskDefinitionOutput{
		TaskDefinition: &ecs.TaskDefinition{TaskDefinitionArn: aws.String(arnPrefix + aws.StringValue(in.Family) + ":42")},
	}, nil
}

func (f *fakeECS) UpdateServiceWithContext(ctx aws.Context, in *ecs.UpdateServiceInput, opts ...request.Option) (*ecs.UpdateServiceOutput, error) {
	f.updated = in
	return &ecs.UpdateServiceOutput{}, f.updateErr
}

func (f *fakeECS) ListTaskDefinitionsPagesWithContext(ctx aws.Context, in *ecs.ListTaskDefinitionsInput, fn func(*ecs.ListTaskDefinitionsOutput, bool) bool, opts ...request.Option) error {
	for i, page := range f.pages {
		if !fn(&ecs.ListTaskDefinitionsOutput{TaskDefinitionArns: aws.StringSlice(page)}, i == len(f.pages)-1) {
			break
		}
	}
	return nil
}

type fakeSTS struct {
	stsiface.STSAPI
}

func (fakeSTS) GetCallerIdentityWithContext(ctx aws.Context, in *sts.GetCallerIdentityInput, opts ...request.Option) (*sts.GetCallerIdentityOutput, error) {
	return &sts.GetCallerIdentityOutput{Account: aws.String("123456789012"), Arn: aws.String("arn:aws:iam::123456789012:user/deployer")}, nil
}

func newCluster(f *fakeECS) *Cluster {
	return NewCluster("ecs-modernization-cluster", f, fakeSTS{}, log.NewNopLogger())
}

func TestPing(t *testing.T) {
	f := &fakeECS{clusters: &ecs.DescribeClustersOutput{
		Clusters: []*ecs.Cluster{{Status: aws.String("ACTIVE")}},
	}}
	assert.NoError(t, newCluster(f).Ping(context.Background()))

	f.clusters.Clusters[0].Status = aws.String("INACTIVE")
	assert.Error(t, newCluster(f).Ping(context.Background()))
}

func TestDescribeMissing(t *testing.T) {
	for name, out := range map[string]*ecs.DescribeServicesOutput{
		"failure":  {Failures: []*ecs.Failure{{Reason: aws.String("MISSING")}}},
		"inactive": {Services: []*ecs.Service{{Status: aws.String("INACTIVE")}}},
		"empty":    {},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := newCluster(&fakeECS{services: out}).Describe(context.Background(), "crm-system")
			assert.Equal(t, platform.ErrServiceNotFound, err)
		})
	}
}

func TestDescribeDeployments(t *testing.T) {
	f := &fakeECS{services: &ecs.DescribeServicesOutput{Services: []*ecs.Service{{
		Status:         aws.String("ACTIVE"),
		TaskDefinition: aws.String(arnPrefix + "crm-system:42"),
		Deployments: []*ecs.Deployment{
			{
				Id:             aws.String("ecs-svc/2"),
				Status:         aws.String("PRIMARY"),
				TaskDefinition: aws.String(arnPrefix + "crm-system:42"),
				RolloutState:   aws.String("IN_PROGRESS"),
				DesiredCount:   aws.Int64(2),
				RunningCount:   aws.Int64(1),
				PendingCount:   aws.Int64(1),
			},
			{
				Id:             aws.String("ecs-svc/1"),
				Status:         aws.String("ACTIVE"),
				TaskDefinition: aws.String(arnPrefix + "crm-system:41"),
				DesiredCount:   aws.Int64(2),
				RunningCount:   aws.Int64(2),
			},
		},
	}}}}

	state, err := newCluster(f).Describe(context.Background(), "crm-system")
	require.NoError(t, err)
	assert.Equal(t, 42, state.Revision.Number)
	assert.Equal(t, "crm-system", state.Revision.Family)
	assert.False(t, state.Settled())

	primary, ok := state.Primary()
	require.True(t, ok)
	assert.Equal(t, platform.RolloutInProgress, primary.RolloutState)
	assert.Equal(t, 1, primary.Pending)
	// no rollout state reported and not alone: derived as in progress
	assert.Equal(t, platform.RolloutInProgress, state.Deployments[1].RolloutState)
}

func TestRolloutStateFallback(t *testing.T) {
	settled := &ecs.Deployment{DesiredCount: aws.Int64(2), RunningCount: aws.Int64(2), PendingCount: aws.Int64(0)}
	assert.Equal(t, platform.RolloutCompleted, rolloutState(settled, 1))
	assert.Equal(t, platform.RolloutInProgress, rolloutState(settled, 2))

	starting := &ecs.Deployment{DesiredCount: aws.Int64(2)}
	assert.Equal(t, platform.RolloutPending, rolloutState(starting, 2))

	failed := &ecs.Deployment{RolloutState: aws.String("FAILED")}
	assert.Equal(t, platform.RolloutFailed, rolloutState(failed, 2))
}

func TestRegisterRevisionReplacesOnlyContainerImage(t *testing.T) {
	f := &fakeECS{taskDef: &ecs.DescribeTaskDefinitionOutput{
		TaskDefinition: &ecs.TaskDefinition{
			Family:      aws.String("crm-system"),
			Cpu:         aws.String("256"),
			Memory:      aws.String("512"),
			NetworkMode: aws.String("awsvpc"),
			ContainerDefinitions: []*ecs.ContainerDefinition{
				{Name: aws.String("crm-system"), Image: aws.String("123456789012.dkr.ecr.us-east-1.amazonaws.com/ecs-modernization/crm-system:old")},
				{Name: aws.String("log-router"), Image: aws.String("amazon/aws-for-fluent-bit:2.31.0")},
			},
		},
		Tags: []*ecs.Tag{{Key: aws.String("project"), Value: aws.String("modernization")}},
	}}
	ref, err := image.ParseRef("123456789012.dkr.ecr.us-east-1.amazonaws.com/ecs-modernization/crm-system:20250801-100000")
	require.NoError(t, err)

	from := platform.Revision{ID: arnPrefix + "crm-system:41", Family: "crm-system", Number: 41}
	rev, err := newCluster(f).RegisterRevision(context.Background(), from, "crm-system", ref)
	require.NoError(t, err)
	assert.Equal(t, 42, rev.Number)

	in := f.registered
	require.NotNil(t, in)
	assert.Equal(t, "256", aws.StringValue(in.Cpu))
	assert.Equal(t, ref.String(), aws.StringValue(in.ContainerDefinitions[0].Image))
	assert.Equal(t, "amazon/aws-for-fluent-bit:2.31.0", aws.StringValue(in.ContainerDefinitions[1].Image))
	assert.Len(t, in.Tags, 1)
	// the described definition is left as it was
	assert.Contains(t, aws.StringValue(f.taskDef.TaskDefinition.ContainerDefinitions[0].Image), ":old")
}

func TestRegisterRevisionUnknownContainer(t *testing.T) {
	f := &fakeECS{taskDef: &ecs.DescribeTaskDefinitionOutput{
		TaskDefinition: &ecs.TaskDefinition{Family: aws.String("crm-system")},
	}}
	_, err := newCluster(f).RegisterRevision(context.Background(), platform.Revision{Family: "crm-system", Number: 1}, "crm-system", image.Ref{})
	assert.Error(t, err)
	assert.Nil(t, f.registered)
}

func TestUpdateService(t *testing.T) {
	f := &fakeECS{}
	rev := platform.Revision{ID: arnPrefix + "crm-system:42", Family: "crm-system", Number: 42}
	err := newCluster(f).UpdateService(context.Background(), "crm-system", platform.UpdateSpec{Revision: rev, ForceNewDeployment: true})
	require.NoError(t, err)
	assert.Equal(t, rev.ID, aws.StringValue(f.updated.TaskDefinition))
	assert.True(t, aws.BoolValue(f.updated.ForceNewDeployment))
	assert.Equal(t, "ecs-modernization-cluster", aws.StringValue(f.updated.Cluster))

	f.updateErr = awserr.New(ecs.ErrCodeServiceNotFoundException, "gone", nil)
	err = newCluster(f).UpdateService(context.Background(), "crm-system", platform.UpdateSpec{Revision: rev})
	assert.Equal(t, platform.ErrServiceNotFound, err)
}

func TestRevisionsFiltersFamily(t *testing.T) {
	f := &fakeECS{pages: [][]string{
		{arnPrefix + "crm-system:42", arnPrefix + "crm-system-worker:7"},
		{arnPrefix + "crm-system:41"},
	}}
	revs, err := newCluster(f).Revisions(context.Background(), "crm-system")
	require.NoError(t, err)
	require.Len(t, revs, 2)
	assert.Equal(t, 42, revs[0].Number)
	assert.Equal(t, 41, revs[1].Number)
}
