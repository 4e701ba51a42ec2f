package health

import "time"

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a new healthy status
func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// NewUnhealthy creates a new unhealthy status
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

// NewDegraded creates a new degraded status
func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

// Aggregate combines sub-statuses: unhealthy wins over degraded, degraded
// over healthy. An empty input is healthy.
func Aggregate(component string, subStatuses []Status) Status {
	var status Status
	switch worst(subStatuses) {
	case StateUnhealthy:
		status = NewUnhealthy(component, "one or more components are unhealthy")
	case StateDegraded:
		status = NewDegraded(component, "one or more components are degraded")
	default:
		status = NewHealthy(component, "all components are healthy")
	}

	if len(subStatuses) > 0 {
		status.SubStatuses = make([]Status, len(subStatuses))
		copy(status.SubStatuses, subStatuses)
	}
	return status
}

func worst(statuses []Status) string {
	state := StateHealthy
	for _, s := range statuses {
		switch {
		case s.IsUnhealthy():
			return StateUnhealthy
		case s.IsDegraded():
			state = StateDegraded
		}
	}
	return state
}
