package security

import (
	"encoding/json"
	"sort"

	"github.com/bentman/JARVISv5/internal/jerr"
)

// ScanResult is the shape returned by ScanToolInput/ScanToolOutput (ported
// from privacy_wrapper.py's scan_tool_input/scan_tool_output).
type ScanResult struct {
	Text        string  `json:"text"`
	PIIDetected bool    `json:"pii_detected"`
	PIIRedacted bool    `json:"pii_redacted"`
	Summary     Summary `json:"summary"`
	Mode        Mode    `json:"mode"`
}

// ExternalCallDecision is the shape returned by
// EvaluateAndPrepareExternalCall.
type ExternalCallDecision struct {
	Allowed             bool    `json:"allowed"`
	Code                string  `json:"code"`
	Message             string  `json:"message"`
	Provider            string  `json:"provider"`
	Endpoint            string  `json:"endpoint"`
	TaskID              string  `json:"task_id,omitempty"`
	RedactionMode       Mode    `json:"redaction_mode,omitempty"`
	RedactedPayloadText string  `json:"redacted_payload_text,omitempty"`
	PIIDetected         bool    `json:"pii_detected,omitempty"`
	Summary             Summary `json:"summary,omitempty"`
}

// PrivacyWrapper gates and redacts external-call traffic, ported from
// original_source/backend/security/privacy_wrapper.py's
// PrivacyExternalCallWrapper.
type PrivacyWrapper struct {
	redactor *Redactor
	audit    *AuditLog
}

// NewPrivacyWrapper builds a wrapper over an existing redactor and audit
// log (both already wired by the caller).
func NewPrivacyWrapper(redactor *Redactor, audit *AuditLog) *PrivacyWrapper {
	return &PrivacyWrapper{redactor: redactor, audit: audit}
}

func stringify(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (w *PrivacyWrapper) auditDetectionAndRedaction(detected, redacted bool, summary Summary, mode Mode, taskID string) error {
	if detected {
		types := append([]string(nil), summary.Types...)
		sort.Strings(types)
		if err := w.audit.LogPIIDetection(types, summaryContext(summary, mode), taskID); err != nil {
			return err
		}
	}
	if redacted {
		if err := w.audit.LogPIIRedaction(summary.Types, summary.Total, taskID); err != nil {
			return err
		}
	}
	return nil
}

func summaryContext(summary Summary, mode Mode) string {
	b, err := json.Marshal(map[string]any{"mode": mode, "summary": summary})
	if err != nil {
		return string(mode)
	}
	return string(b)
}

// ScanToolInput redacts payload (already JSON-stringified by the caller)
// and audits the detection/redaction, mirroring scan_tool_input.
func (w *PrivacyWrapper) ScanToolInput(payloadText string, mode Mode, taskID string) (ScanResult, error) {
	return w.scan(payloadText, mode, taskID)
}

// ScanToolOutput redacts a handler's result text and audits it, mirroring
// scan_tool_output.
func (w *PrivacyWrapper) ScanToolOutput(resultText string, mode Mode, taskID string) (ScanResult, error) {
	return w.scan(resultText, mode, taskID)
}

func (w *PrivacyWrapper) scan(text string, mode Mode, taskID string) (ScanResult, error) {
	result, err := w.redactor.Redact(text, mode)
	if err != nil {
		return ScanResult{}, err
	}
	redacted := result.Redacted != text
	if err := w.auditDetectionAndRedaction(result.PIIDetected, redacted, result.Summary, mode, taskID); err != nil {
		return ScanResult{}, err
	}
	return ScanResult{
		Text:        result.Redacted,
		PIIDetected: result.PIIDetected,
		PIIRedacted: redacted,
		Summary:     result.Summary,
		Mode:        mode,
	}, nil
}

// EvaluateAndPrepareExternalCall is the policy gate for external calls
// (ported from evaluate_and_prepare_external_call): denies when
// allowExternal is false, else redacts payload and prepares the call,
// auditing every outcome.
func (w *PrivacyWrapper) EvaluateAndPrepareExternalCall(provider, endpoint string, payload map[string]any, allowExternal bool, mode Mode, taskID string) (ExternalCallDecision, error) {
	if !allowExternal {
		if err := w.audit.LogPermissionDenied("external_call:"+provider+":"+endpoint, "allow_external_false", taskID); err != nil {
			return ExternalCallDecision{}, err
		}
		return ExternalCallDecision{
			Allowed:  false,
			Code:     string(jerr.CodePermissionDenied),
			Message:  "external call blocked by policy",
			Provider: provider,
			Endpoint: endpoint,
			TaskID:   taskID,
		}, nil
	}

	payloadText, err := stringify(payload)
	if err != nil {
		return ExternalCallDecision{}, err
	}

	redaction, rerr := w.redactor.Redact(payloadText, mode)
	if rerr != nil {
		if err := w.audit.LogPermissionDenied("external_call:"+provider+":"+endpoint, "invalid_redaction_mode", taskID); err != nil {
			return ExternalCallDecision{}, err
		}
		return ExternalCallDecision{
			Allowed:  false,
			Code:     string(jerr.CodeValidationError),
			Message:  "invalid redaction mode",
			Provider: provider,
			Endpoint: endpoint,
			TaskID:   taskID,
		}, nil
	}

	if redaction.PIIDetected {
		if err := w.audit.LogPIIDetection(redaction.Summary.Types, summaryContext(redaction.Summary, mode), taskID); err != nil {
			return ExternalCallDecision{}, err
		}
	}

	redactedPayload := map[string]any{
		"payload_text":  redaction.Redacted,
		"redaction_mode": mode,
		"pii_detected":   redaction.PIIDetected,
		"pii_summary":    redaction.Summary,
	}
	if err := w.audit.LogExternalCall(provider, endpoint, redactedPayload, taskID); err != nil {
		return ExternalCallDecision{}, err
	}

	return ExternalCallDecision{
		Allowed:             true,
		Code:                "external_call_prepared",
		Message:             "external call prepared",
		Provider:            provider,
		Endpoint:            endpoint,
		TaskID:              taskID,
		RedactionMode:       mode,
		RedactedPayloadText: redaction.Redacted,
		PIIDetected:         redaction.PIIDetected,
		Summary:             redaction.Summary,
	}, nil
}
