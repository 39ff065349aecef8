package autoscaleerrors

import (
	"errors"
	"net/http"
	"testing"
)

func TestKindAndStatus(t *testing.T) {
	cases := []struct {
		name   string
		err    APIError
		kind   string
		status int
	}{
		{"NoSuchGroup", NoSuchGroup{Tenant: "t1", Group: "g1"}, "NoSuchGroup", http.StatusNotFound},
		{"NoSuchPolicy", NoSuchPolicy{Tenant: "t1", Group: "g1", Policy: "p1"}, "NoSuchPolicy", http.StatusNotFound},
		{"NoSuchWebhook", NoSuchWebhook{Tenant: "t1", Group: "g1", Policy: "p1", Webhook: "w1"}, "NoSuchWebhook", http.StatusNotFound},
		{"UnrecognizedCapability", UnrecognizedCapability{Hash: "abc", Version: 1}, "UnrecognizedCapability", http.StatusNotFound},
		{"GroupNotEmpty", GroupNotEmpty{Tenant: "t1", Group: "g1"}, "GroupNotEmpty", http.StatusConflict},
		{"ScalingGroupOverLimit", ScalingGroupOverLimit{Tenant: "t1", Max: 100}, "ScalingGroupOverLimit", http.StatusUnprocessableEntity},
		{"PoliciesOverLimit", PoliciesOverLimit{Tenant: "t1", Group: "g1", Max: 10, Current: 10, New: 1}, "PoliciesOverLimit", http.StatusUnprocessableEntity},
		{"WebhooksOverLimit", WebhooksOverLimit{Tenant: "t1", Group: "g1", Policy: "p1", Max: 10, Current: 10, New: 1}, "WebhooksOverLimit", http.StatusUnprocessableEntity},
		{"LockContention", LockContention{Group: "g1"}, "LockContention", http.StatusServiceUnavailable},
		{"UpstreamError", UpstreamError{System: "nova", Operation: "create_server"}, "UpstreamError", http.StatusBadGateway},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.err.Kind(); got != tc.kind {
				t.Errorf("Kind() = %q, want %q", got, tc.kind)
			}
			if got := tc.err.HTTPStatus(); got != tc.status {
				t.Errorf("HTTPStatus() = %d, want %d", got, tc.status)
			}
			if tc.err.Error() == "" {
				t.Error("Error() should not be empty")
			}
		})
	}
}

func TestErrorsAs_DispatchesByKind(t *testing.T) {
	var err error = NoSuchGroup{Tenant: "t1", Group: "g1"}

	var nsg NoSuchGroup
	if !errors.As(err, &nsg) {
		t.Fatal("errors.As should match NoSuchGroup")
	}

	var nsp NoSuchPolicy
	if errors.As(err, &nsp) {
		t.Error("errors.As should not match the wrong kind")
	}
}

func TestUpstreamError_Message(t *testing.T) {
	tests := []struct {
		name string
		body []byte
		want string
	}{
		{"empty body", nil, couldNotParseBody},
		{"invalid json", []byte("not json"), couldNotParseBody},
		{"empty object", []byte("{}"), couldNotParseBody},
		{
			"wrapped message",
			[]byte(`{"itemNotFound": {"code": 404, "message": "Server not found."}}`),
			"Server not found.",
		},
		{
			"missing message field",
			[]byte(`{"badRequest": {"code": 400}}`),
			couldNotParseBody,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := UpstreamError{Body: tc.body}
			if got := e.Message(); got != tc.want {
				t.Errorf("Message() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestUpstreamError_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	e := UpstreamError{System: "nova", Operation: "list_servers", Cause: cause}

	if !errors.Is(e, cause) {
		t.Error("errors.Is should see through Unwrap to the cause")
	}
}
