// Package observability exposes delivery and HTTP metrics through an
// OpenTelemetry meter backed by a Prometheus exporter.
package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

const (
	attrEvent   = "event"
	attrSuccess = "success"
	attrStatus  = "status"
	attrMethod  = "method"
	attrRoute   = "route"
)

func eventAttr(event string) attribute.KeyValue {
	return attribute.String(attrEvent, event)
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}

// statusAttr groups status codes (2xx, 4xx, 5xx). A missing status means the
// request never produced a response.
func statusAttr(code *int) attribute.KeyValue {
	if code == nil {
		return attribute.String(attrStatus, "none")
	}
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", *code/100))
}

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

// routeAttr uses the router pattern rather than the raw path so IDs do not
// explode cardinality.
func routeAttr(pattern string) attribute.KeyValue {
	if pattern == "" {
		pattern = "unmatched"
	}
	return attribute.String(attrRoute, pattern)
}
