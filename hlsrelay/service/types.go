package service

// HealthMetricProvider is a function that returns a metric value for a given key.
type HealthMetricProvider func() string
