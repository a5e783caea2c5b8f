package health

import (
	"context"
	"fmt"
	"runtime"
)

// PingCheck reports a dependency reachable through ping, such as the
// configuration store
func PingCheck(name string, ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{Name: name}

		if err := ping(ctx); err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
		} else {
			check.Status = StatusHealthy
			check.Message = "Connected"
		}

		return check
	}
}

// SubscriptionCheck compares the subscribed set with the registry size. A
// node that has not yet subscribed to every instance is degraded.
func SubscriptionCheck(subscribed func() int, registered func(ctx context.Context) (int, error)) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{
			Name:    "subscriptions",
			Details: make(map[string]any),
		}

		have := subscribed()
		check.Details["subscribed"] = have

		want, err := registered(ctx)
		if err != nil {
			check.Status = StatusUnhealthy
			check.Message = fmt.Sprintf("registry unavailable: %v", err)
			return check
		}
		check.Details["registered"] = want

		if have < want {
			check.Status = StatusDegraded
			check.Message = "Not subscribed to every instance"
		} else {
			check.Status = StatusHealthy
			check.Message = "Subscribed"
		}

		return check
	}
}

// InstancesCheck summarises the verdicts of the poller. Offline peers make
// the cluster degraded; this node itself stays serviceable.
func InstancesCheck(counts func() (online, offline int)) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{
			Name:    "instances",
			Details: make(map[string]any),
		}

		online, offline := counts()
		check.Details["online"] = online
		check.Details["offline"] = offline

		switch {
		case online+offline == 0:
			check.Status = StatusHealthy
			check.Message = "No instances probed yet"
		case offline > 0:
			check.Status = StatusDegraded
			check.Message = fmt.Sprintf("%d instance(s) offline", offline)
		default:
			check.Status = StatusHealthy
			check.Message = "All instances online"
		}

		return check
	}
}

// PendingCallsCheck flags a backlog of unanswered calls
func PendingCallsCheck(pending func() int, limit int) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{
			Name:    "pending_calls",
			Details: make(map[string]any),
		}

		n := pending()
		check.Details["pending"] = n
		check.Details["limit"] = limit

		if n > limit {
			check.Status = StatusDegraded
			check.Message = "High number of pending calls"
		} else {
			check.Status = StatusHealthy
		}

		return check
	}
}

// MemoryCheck creates a health check for memory usage
func MemoryCheck(getUsage func() (alloc, sys uint64)) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{
			Name:    "memory",
			Details: make(map[string]any),
		}

		alloc, sys := getUsage()

		check.Details["alloc_bytes"] = alloc
		check.Details["sys_bytes"] = sys

		usagePercent := float64(alloc) / float64(sys) * 100

		if usagePercent > 90 {
			check.Status = StatusDegraded
			check.Message = "High memory usage"
		} else {
			check.Status = StatusHealthy
			check.Message = "Memory usage normal"
		}

		return check
	}
}

// RuntimeMemory reads the Go runtime's heap and system memory
func RuntimeMemory() (alloc, sys uint64) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Alloc, m.Sys
}
