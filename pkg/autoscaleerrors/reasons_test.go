package autoscaleerrors

import (
	"errors"
	"reflect"
	"testing"
)

func TestPresentReasons(t *testing.T) {
	reasons := []ErrorReason{
		{Exception: NoSuchLoadBalancer{LBID: "42"}},
		{Exception: errors.New("some internal detail no tenant should see")},
		{Exception: LoadBalancerDeleted{LBID: "7"}},
	}

	got := PresentReasons(reasons)
	want := []string{
		"Cloud Load Balancer does not exist: 42",
		"Cloud Load Balancer is currently being deleted: 7",
	}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("PresentReasons() = %v, want %v", got, want)
	}
}

func TestPresentReasons_EmptyWhenNothingPresentable(t *testing.T) {
	reasons := []ErrorReason{{Exception: errors.New("opaque failure")}}
	if got := PresentReasons(reasons); got != nil {
		t.Errorf("PresentReasons() = %v, want nil", got)
	}
}
