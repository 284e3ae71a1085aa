package telemetry

import "context"

// MetricsSummary represents aggregated scan insights.
type MetricsSummary struct {
	TotalAnalyses             int64            `json:"total_analyses"`
	SuccessfulAnalyses        int64            `json:"successful_analyses"`
	SuccessRate               float64          `json:"success_rate"`
	AverageAnalysisLatencyMs  float64          `json:"average_analysis_latency_ms"`
	FailuresByKind            map[string]int64 `json:"failures_by_kind"`
	DeviceAcquisitionFailures int64            `json:"device_acquisition_failures"`
}

type kindCount struct {
	ErrorKind string
	Count     int64
}

// GetMetricsSummary aggregates scan metrics from persisted events.
func (r *Repository) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	var succeeded, failed int64
	if err := r.db.WithContext(ctx).Model(&ScanEvent{}).
		Where("event = ?", "analysis_succeeded").Count(&succeeded).Error; err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Model(&ScanEvent{}).
		Where("event = ?", "analysis_failed").Count(&failed).Error; err != nil {
		return nil, err
	}

	var avgLatency float64
	row := r.db.WithContext(ctx).Model(&ScanEvent{}).
		Where("event IN ?", []string{"analysis_succeeded", "analysis_failed"}).
		Select("COALESCE(AVG(latency_ms), 0)").Row()
	if err := row.Scan(&avgLatency); err != nil {
		return nil, err
	}

	var kinds []kindCount
	if err := r.db.WithContext(ctx).Model(&ScanEvent{}).
		Where("error_kind <> ''").
		Select("error_kind, COUNT(*) AS count").
		Group("error_kind").
		Scan(&kinds).Error; err != nil {
		return nil, err
	}

	var deviceFailures int64
	if err := r.db.WithContext(ctx).Model(&ScanEvent{}).
		Where("event IN ? AND error_kind = ?",
			[]string{"request_camera", "shutter_pressed"}, "device_unavailable").
		Count(&deviceFailures).Error; err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalAnalyses:             succeeded + failed,
		SuccessfulAnalyses:        succeeded,
		AverageAnalysisLatencyMs:  avgLatency,
		FailuresByKind:            make(map[string]int64, len(kinds)),
		DeviceAcquisitionFailures: deviceFailures,
	}
	for _, kc := range kinds {
		summary.FailuresByKind[kc.ErrorKind] = kc.Count
	}
	if summary.TotalAnalyses > 0 {
		summary.SuccessRate = float64(succeeded) / float64(summary.TotalAnalyses)
	}

	return summary, nil
}
