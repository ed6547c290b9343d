package alert

import (
	"strings"

	"github.com/ridewatch/transit-alerts/internal/domain"
)

// Decision is the outcome of a delay evaluation.
type Decision struct {
	ShouldNotify    bool
	DelayedVehicles int
	AvgDelayMinutes int
}

// EvaluateVehicleDelay flags a route when at least one vehicle's delay
// measurement strictly exceeds the threshold. When the free-text progress
// status is present it must also read as delayed — both signals have to
// agree, so noisy status text alone never fires an alert.
func EvaluateVehicleDelay(activities []domain.VehicleActivity, thresholdMinutes int) Decision {
	var delayed, totalMinutes int

	for _, a := range activities {
		delayMin := a.DelaySeconds / 60
		if delayMin <= thresholdMinutes {
			continue
		}
		if a.ProgressStatus != "" && !strings.Contains(strings.ToLower(a.ProgressStatus), "delayed") {
			continue
		}
		delayed++
		totalMinutes += delayMin
	}

	if delayed == 0 {
		return Decision{}
	}

	return Decision{
		ShouldNotify:    true,
		DelayedVehicles: delayed,
		AvgDelayMinutes: totalMinutes / delayed,
	}
}

// EvaluateStopDelay checks a single prediction's schedule deviation. When
// the upstream provided no aimed-vs-expected difference the check is
// skipped — the evaluator never fabricates a delay from absent data.
func EvaluateStopDelay(p *domain.Prediction, thresholdMinutes int) Decision {
	if p == nil || p.DeviationMinutes == nil {
		return Decision{}
	}
	if *p.DeviationMinutes <= thresholdMinutes {
		return Decision{}
	}
	return Decision{
		ShouldNotify:    true,
		DelayedVehicles: 1,
		AvgDelayMinutes: *p.DeviationMinutes,
	}
}

// IsRouteCancelled treats the absence of any vehicle activity as the
// cancellation signal. Boolean, no threshold.
func IsRouteCancelled(activities []domain.VehicleActivity) bool {
	return len(activities) == 0
}
