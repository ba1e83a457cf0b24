package metrics

import (
	"sort"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/cloudwatch/cloudwatchiface"
	"github.com/go-kit/kit/log"
)

// CloudWatchSink publishes metrics with PutMetricData. Errors are
// logged and dropped.
type CloudWatchSink struct {
	Client cloudwatchiface.CloudWatchAPI
	Logger log.Logger
	Now    func() time.Time
}

func NewCloudWatchSink(client cloudwatchiface.CloudWatchAPI, logger log.Logger) *CloudWatchSink {
	return &CloudWatchSink{Client: client, Logger: logger, Now: time.Now}
}

func (c *CloudWatchSink) PutMetric(namespace, name string, value float64, dimensions map[string]string) {
	var keys []string
	for k := range dimensions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var dims []*cloudwatch.Dimension
	for _, k := range keys {
		dims = append(dims, &cloudwatch.Dimension{
			Name:  aws.String(k),
			Value: aws.String(dimensions[k]),
		})
	}

	unit := cloudwatch.StandardUnitCount
	if name == MetricDeploymentDuration || name == MetricFleetDuration {
		unit = cloudwatch.StandardUnitSeconds
	}

	_, err := c.Client.PutMetricData(&cloudwatch.PutMetricDataInput{
		Namespace: aws.String(namespace),
		MetricData: []*cloudwatch.MetricDatum{{
			MetricName: aws.String(name),
			Value:      aws.Float64(value),
			Unit:       aws.String(unit),
			Timestamp:  aws.Time(c.Now()),
			Dimensions: dims,
		}},
	})
	if err != nil {
		c.Logger.Log("warning", "metric not published", "metric", name, "err", err)
	}
}
