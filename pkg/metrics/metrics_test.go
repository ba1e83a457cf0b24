package metrics

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/cloudwatch/cloudwatchiface"
	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
)

type fakeCloudWatch struct {
	cloudwatchiface.CloudWatchAPI
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (f *fakeCloudWatch) PutMetricData(in *cloudwatch.PutMetricDataInput) (*cloudwatch.PutMetricDataOutput, error) {
	f.inputs = append(f.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, f.err
}

func TestCloudWatchSink(t *testing.T) {
	cw := &fakeCloudWatch{}
	now := time.Date(2025, 8, 1, 10, 0, 0, 0, time.UTC)
	sink := &CloudWatchSink{Client: cw, Logger: log.NewNopLogger(), Now: func() time.Time { return now }}

	sink.PutMetric("ECS/Modernization", MetricDeploymentDuration, 42, map[string]string{
		LabelService: "crm-system",
		LabelOutcome: "SUCCESS",
	})

	if !assert.Len(t, cw.inputs, 1) {
		return
	}
	in := cw.inputs[0]
	assert.Equal(t, "ECS/Modernization", aws.StringValue(in.Namespace))
	datum := in.MetricData[0]
	assert.Equal(t, MetricDeploymentDuration, aws.StringValue(datum.MetricName))
	assert.Equal(t, cloudwatch.StandardUnitSeconds, aws.StringValue(datum.Unit))
	assert.Equal(t, 42.0, aws.Float64Value(datum.Value))
	assert.Equal(t, now, aws.TimeValue(datum.Timestamp))
	// dimensions are sorted by name
	assert.Equal(t, LabelOutcome, aws.StringValue(datum.Dimensions[0].Name))
	assert.Equal(t, "crm-system", aws.StringValue(datum.Dimensions[1].Value))
}

func TestCloudWatchSinkSwallowsErrors(t *testing.T) {
	var buf bytes.Buffer
	cw := &fakeCloudWatch{err: errors.New("throttled")}
	sink := NewCloudWatchSink(cw, log.NewLogfmtLogger(&buf))
	assert.NotPanics(t, func() {
		sink.PutMetric("ns", MetricFleetSuccessCount, 1, nil)
	})
	assert.Contains(t, buf.String(), "throttled")
}

func TestMultiAndLogSink(t *testing.T) {
	var buf bytes.Buffer
	Multi{Nop{}, LogSink{Logger: log.NewLogfmtLogger(&buf)}}.PutMetric("ns", "m", 3, map[string]string{"b": "2", "a": "1"})
	assert.Equal(t, "metric=m namespace=ns value=3 a=1 b=2\n", buf.String())
}
