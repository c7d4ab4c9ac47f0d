package health

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

func newStatus(component, status, message string) Status {
	return Status{
		Component: component,
		Healthy:   status == StatusHealthy,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a healthy status.
func NewHealthy(component, message string) Status {
	return newStatus(component, StatusHealthy, message)
}

// NewUnhealthy creates an unhealthy status.
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StatusUnhealthy, message)
}

// NewDegraded creates a degraded status.
func NewDegraded(component, message string) Status {
	return newStatus(component, StatusDegraded, message)
}

// Aggregate reports the worst of subStatuses as the status of component. The
// sub-statuses are copied and sorted by component name.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "nothing registered")
	}

	worst := subStatuses[0]
	for _, sub := range subStatuses[1:] {
		if sub.Level() < worst.Level() {
			worst = sub
		}
	}

	var status Status
	if worst.IsHealthy() {
		status = NewHealthy(component, fmt.Sprintf("%d components healthy", len(subStatuses)))
	} else {
		level := StatusUnhealthy
		if worst.IsDegraded() {
			level = StatusDegraded
		}
		status = newStatus(component, level, fmt.Sprintf("%s is %s", worst.Component, level))
	}

	status.SubStatuses = slices.Clone(subStatuses)
	slices.SortFunc(status.SubStatuses, func(a, b Status) int {
		return strings.Compare(a.Component, b.Component)
	})
	return status
}
