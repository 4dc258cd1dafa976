package otel

import (
	"errors"

	"go.opentelemetry.io/otel/metric"
)

type EngineMetrics struct {
	InstancesStarted   metric.Int64Counter
	InstancesCompleted metric.Int64Counter
	InstancesFaulted   metric.Int64Counter
	InstancesCancelled metric.Int64Counter
	ActivitiesExecuted metric.Int64Counter
	TimersFired        metric.Int64Counter
	JobsCreated        metric.Int64Counter
	JobsCompleted      metric.Int64Counter
	JobsFailed         metric.Int64Counter
	LockContentions    metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*EngineMetrics, error) {
	var errJoin error

	instancesStarted, err := meter.Int64Counter("instances_started", metric.WithDescription("Number of workflow instances started"))
	errJoin = errors.Join(errJoin, err)

	instancesCompleted, err := meter.Int64Counter("instances_completed", metric.WithDescription("Number of workflow instances completed"))
	errJoin = errors.Join(errJoin, err)

	instancesFaulted, err := meter.Int64Counter("instances_faulted", metric.WithDescription("Number of workflow instances faulted"))
	errJoin = errors.Join(errJoin, err)

	instancesCancelled, err := meter.Int64Counter("instances_cancelled", metric.WithDescription("Number of workflow instances cancelled or terminated"))
	errJoin = errors.Join(errJoin, err)

	activitiesExecuted, err := meter.Int64Counter("activities_executed", metric.WithDescription("Number of activity executions"))
	errJoin = errors.Join(errJoin, err)

	timersFired, err := meter.Int64Counter("timers_fired", metric.WithDescription("Number of timers fired"))
	errJoin = errors.Join(errJoin, err)

	jobsCreated, err := meter.Int64Counter("jobs_created", metric.WithDescription("Number of jobs created"))
	errJoin = errors.Join(errJoin, err)

	jobsCompleted, err := meter.Int64Counter("jobs_completed", metric.WithDescription("Number of jobs completed"))
	errJoin = errors.Join(errJoin, err)

	jobsFailed, err := meter.Int64Counter("jobs_failed", metric.WithDescription("Number of jobs failed"))
	errJoin = errors.Join(errJoin, err)

	lockContentions, err := meter.Int64Counter("instance_lock_contentions", metric.WithDescription("Number of operations that could not acquire the instance lock"))
	errJoin = errors.Join(errJoin, err)

	metrics := EngineMetrics{
		InstancesStarted:   instancesStarted,
		InstancesCompleted: instancesCompleted,
		InstancesFaulted:   instancesFaulted,
		InstancesCancelled: instancesCancelled,
		ActivitiesExecuted: activitiesExecuted,
		TimersFired:        timersFired,
		JobsCreated:        jobsCreated,
		JobsCompleted:      jobsCompleted,
		JobsFailed:         jobsFailed,
		LockContentions:    lockContentions,
	}
	return &metrics, errJoin
}
