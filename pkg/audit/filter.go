package audit

import "strings"

// Drop reasons reported by the filter, used as metric labels.
const (
	dropReasonUntracked           = "untracked_action"
	dropReasonExcludedEndpoint    = "excluded_endpoint"
	dropReasonExcludedContentType = "excluded_content_type"
	dropReasonDisabled            = "pipeline_disabled"
)

// Filter decides whether an incoming event is in scope for capture. It is a
// pure function of the event and configuration: no side effects, no I/O.
type Filter struct {
	tracked             map[string]struct{}
	excludeEndpoints    []string
	excludeContentTypes map[string]struct{}
}

// NewFilter builds a Filter from the configured tracked-action set and the
// endpoint/content-type exclusion sets. Excluded endpoints match exactly or
// by prefix, so "/api/upload" also excludes "/api/upload/123".
func NewFilter(tracked, excludeEndpoints, excludeContentTypes []string) *Filter {
	f := &Filter{
		tracked:             make(map[string]struct{}, len(tracked)),
		excludeEndpoints:    make([]string, 0, len(excludeEndpoints)),
		excludeContentTypes: make(map[string]struct{}, len(excludeContentTypes)),
	}
	for _, action := range tracked {
		f.tracked[action] = struct{}{}
	}
	for _, endpoint := range excludeEndpoints {
		if endpoint != "" {
			f.excludeEndpoints = append(f.excludeEndpoints, endpoint)
		}
	}
	for _, ct := range excludeContentTypes {
		f.excludeContentTypes[ct] = struct{}{}
	}
	return f
}

// ShouldCapture reports whether the event is tracked and not excluded. An
// event matching any exclusion is dropped regardless of its action being
// tracked.
func (f *Filter) ShouldCapture(event *AuditEvent) bool {
	ok, _ := f.evaluate(event)
	return ok
}

// evaluate returns the capture decision with the drop reason for metrics.
func (f *Filter) evaluate(event *AuditEvent) (bool, string) {
	if _, ok := f.tracked[event.Action]; !ok {
		return false, dropReasonUntracked
	}
	if event.Endpoint != "" {
		for _, excluded := range f.excludeEndpoints {
			if event.Endpoint == excluded || strings.HasPrefix(event.Endpoint, excluded+"/") {
				return false, dropReasonExcludedEndpoint
			}
		}
	}
	if event.ContentType != "" {
		if _, excluded := f.excludeContentTypes[event.ContentType]; excluded {
			return false, dropReasonExcludedContentType
		}
	}
	return true, ""
}
