package upstream

// Wire types for the SIRI vehicle-monitoring and stop-monitoring responses.
// Only the nesting the service reads is modeled; anything else is ignored
// by the decoder.

type siriEnvelope struct {
	Siri struct {
		ServiceDelivery struct {
			VehicleMonitoringDelivery []vehicleMonitoringDelivery `json:"VehicleMonitoringDelivery"`
			StopMonitoringDelivery    []stopMonitoringDelivery    `json:"StopMonitoringDelivery"`
		} `json:"ServiceDelivery"`
	} `json:"Siri"`
}

type vehicleMonitoringDelivery struct {
	VehicleActivity []vehicleActivity `json:"VehicleActivity"`
}

type stopMonitoringDelivery struct {
	MonitoredStopVisit []monitoredStopVisit `json:"MonitoredStopVisit"`
}

type vehicleActivity struct {
	MonitoredVehicleJourney monitoredVehicleJourney `json:"MonitoredVehicleJourney"`
}

type monitoredStopVisit struct {
	MonitoredVehicleJourney monitoredVehicleJourney `json:"MonitoredVehicleJourney"`
}

type monitoredVehicleJourney struct {
	LineRef        string        `json:"LineRef"`
	VehicleRef     string        `json:"VehicleRef"`
	ProgressStatus string        `json:"ProgressStatus"`
	Delay          int           `json:"Delay"` // seconds
	MonitoredCall  monitoredCall `json:"MonitoredCall"`
}

type monitoredCall struct {
	StopPointRef        string `json:"StopPointRef"`
	ExpectedArrivalTime string `json:"ExpectedArrivalTime"`
	AimedArrivalTime    string `json:"AimedArrivalTime"`
	Extensions          struct {
		Distances struct {
			StopsFromCall    *int     `json:"StopsFromCall"`
			DistanceFromCall *float64 `json:"DistanceFromCall"` // meters
		} `json:"Distances"`
	} `json:"Extensions"`
}

// StopVisit is one raw upcoming-arrival record for a stop, as returned by
// FetchStopPredictions and consumed by Normalize. Empty time strings mean
// the upstream omitted the field.
type StopVisit struct {
	StopPointRef        string
	ExpectedArrivalTime string
	AimedArrivalTime    string
	StopsFromCall       *int
	DistanceFromCallM   *float64
}
