package autoscaleerrors

import "fmt"

// ErrorReason is one collaborator failure recorded against a group during a
// convergence pass. Not every reason is user-presentable — most are internal
// detail an operator needs but a tenant should never see.
type ErrorReason struct {
	Exception error
}

// NoSuchLoadBalancer is recorded when convergence references a load balancer
// the cloud no longer knows about.
type NoSuchLoadBalancer struct {
	LBID string
}

func (e NoSuchLoadBalancer) Error() string { return fmt.Sprintf("no such load balancer: %s", e.LBID) }

// LoadBalancerDeleted is recorded when convergence targets a load balancer
// that is mid-deletion.
type LoadBalancerDeleted struct {
	LBID string
}

func (e LoadBalancerDeleted) Error() string { return fmt.Sprintf("load balancer deleted: %s", e.LBID) }

// PresentReasons filters reasons down to the subset with a user-presentable
// message, in order, dropping anything that has no presentable form — the
// Go substitute for the original's singledispatch-based present_reasons.
func PresentReasons(reasons []ErrorReason) []string {
	var presented []string
	for _, r := range reasons {
		if msg, ok := presentException(r.Exception); ok {
			presented = append(presented, msg)
		}
	}
	return presented
}

func presentException(err error) (string, bool) {
	switch e := err.(type) {
	case NoSuchLoadBalancer:
		return fmt.Sprintf("Cloud Load Balancer does not exist: %s", e.LBID), true
	case LoadBalancerDeleted:
		return fmt.Sprintf("Cloud Load Balancer is currently being deleted: %s", e.LBID), true
	default:
		return "", false
	}
}
