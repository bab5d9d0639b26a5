package metrics

import (
	"context"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"barflow/logger"
	"barflow/models"
)

type cloudWatchState struct {
	client    *cloudwatch.Client
	namespace string
}

var cwState atomic.Pointer[cloudWatchState]

// InitCloudWatch initialises the CloudWatch client. When the client cannot be
// created the function logs a warning and leaves publishing disabled.
func InitCloudWatch(ctx context.Context, region, namespace string) {
	log := logger.GetLogger().WithComponent("cloudwatch")

	opts := []func(*config.LoadOptions) error{}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}

	if namespace == "" {
		namespace = "Barflow"
	}

	cwState.Store(&cloudWatchState{
		client:    cloudwatch.NewFromConfig(cfg),
		namespace: namespace,
	})

	log.WithFields(logger.Fields{
		"region":    cfg.Region,
		"namespace": namespace,
	}).Info("initialized CloudWatch client")
}

// PublishRunSummary mirrors the end-of-run counters to CloudWatch. A no-op
// until InitCloudWatch has succeeded.
func PublishRunSummary(ctx context.Context, summary models.RunSummary) {
	state := cwState.Load()
	if state == nil || state.client == nil {
		return
	}

	dims := []cwtypes.Dimension{
		{Name: aws.String("run_id"), Value: aws.String(summary.RunID)},
	}

	datum := func(name string, value int) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Dimensions: dims,
			Unit:       cwtypes.StandardUnitCount,
			Value:      aws.Float64(float64(value)),
		}
	}

	data := []cwtypes.MetricDatum{
		datum("SymbolsSucceeded", summary.Succeeded),
		datum("SymbolsFailed", summary.Failed),
		datum("RowsWritten", summary.RowsWritten),
		datum("RowsFilled", summary.RowsFilled),
		datum("RowsDropped", summary.RowsDropped),
		datum("Splits", summary.Splits),
		datum("Dividends", summary.Dividends),
		datum("SkippedDividends", summary.SkippedDividends),
	}

	if _, err := state.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(state.namespace),
		MetricData: data,
	}); err != nil {
		logger.GetLogger().WithComponent("cloudwatch").WithError(err).Warn("failed to publish CloudWatch metrics")
	}
}
