package taxonomy

import (
	"fmt"
	"strings"
	"time"
)

// NewStepExecutionError reports a step implementation failure. category is
// always execution; phase defaults to "execution" unless overridden with
// WithContext({"execution_phase": ...}).
func NewStepExecutionError(stepName, message string, cause error) *Error {
	return New("STEP_EXECUTION_FAILED", CategoryExecution, message).
		WithContext(Context{"step_name": stepName, "execution_phase": "execution"}).
		WithCause(cause)
}

// NewDependencyError reports that a step's dependencies are not satisfied.
func NewDependencyError(stepName string, missing []string) *Error {
	msg := fmt.Sprintf("step %q dependencies not satisfied: %v", stepName, missing)
	return New("DEPENDENCY_NOT_SATISFIED", CategoryDependency, msg).
		WithContext(Context{"step_name": stepName, "missing_dependencies": missing}).
		WithSuggested(ActionRetry, ActionSkip)
}

// NewCircularDependencyError reports a cycle discovered among step
// definitions. It is always non-recoverable and critical.
func NewCircularDependencyError(cycle []string) *Error {
	msg := fmt.Sprintf("circular dependency detected: %s", strings.Join(cycle, " -> "))
	var first string
	if len(cycle) > 0 {
		first = cycle[0]
	}
	return New("CIRCULAR_DEPENDENCY", CategoryDependency, msg).
		WithContext(Context{"step_name": first, "missing_dependencies": []string{}, "dependency_chain": cycle}).
		WithSeverity(SeverityCritical).
		WithRecoverable(false).
		WithSuggested(ActionManualIntervention)
}

// NewResourceLimitError reports that a requested resource amount exceeds
// what is available.
func NewResourceLimitError(resourceName string, requested, available any) *Error {
	msg := fmt.Sprintf("resource %q limit exceeded: requested %v, available %v", resourceName, requested, available)
	return New("RESOURCE_LIMIT_EXCEEDED", CategoryResource, msg).
		WithContext(Context{"resource_name": resourceName, "requested_amount": requested, "available_amount": available}).
		WithSuggested(ActionRetry, ActionFallback)
}

// NewResourceUnavailableError reports that a resource cannot currently be
// granted at all.
func NewResourceUnavailableError(resourceName, reason string) *Error {
	return NewResourceLimitError(resourceName, "any", 0).
		WithContext(Context{"reason": reason}).
		WithCause(nil)
}

// NewValidationError reports a data-validation failure on a named field.
func NewValidationError(field string, value any, rule string) *Error {
	msg := fmt.Sprintf("validation failed for field %q: %s", field, rule)
	return New("VALIDATION_FAILED", CategoryValidation, msg).
		WithContext(Context{"field_name": field, "value": fmt.Sprintf("%v", value), "validation_rule": rule}).
		WithSuggested(ActionManualIntervention)
}

// NewTimeoutError reports that an operation exceeded its time budget.
func NewTimeoutError(operation string, budget, elapsed time.Duration) *Error {
	msg := fmt.Sprintf("operation %q timed out after %.1fs (limit: %.1fs)", operation, elapsed.Seconds(), budget.Seconds())
	return New("OPERATION_TIMEOUT", CategoryTimeout, msg).
		WithContext(Context{"operation": operation, "timeout_seconds": budget.Seconds(), "elapsed_seconds": elapsed.Seconds()}).
		WithSuggested(ActionRetry, ActionFallback)
}

// NewExternalAPIError reports a failure surfaced by an external service call.
func NewExternalAPIError(apiName string, httpStatus int, apiErrorCode, message string) *Error {
	if message == "" {
		message = fmt.Sprintf("external API %q error", apiName)
		if httpStatus != 0 {
			message += fmt.Sprintf(" (HTTP %d)", httpStatus)
		}
		if apiErrorCode != "" {
			message += " - " + apiErrorCode
		}
	}
	return New("EXTERNAL_API_ERROR", CategoryExternalAPI, message).
		WithContext(Context{"api_name": apiName, "http_status": httpStatus, "api_error_code": apiErrorCode}).
		WithSuggested(ActionRetry, ActionFallback)
}

// NewConfigurationError reports an invalid or missing configuration value.
// Always non-recoverable.
func NewConfigurationError(key, expectedType string) *Error {
	msg := fmt.Sprintf("configuration error for key %q", key)
	if expectedType != "" {
		msg += fmt.Sprintf(" (expected %s)", expectedType)
	}
	return New("CONFIGURATION_ERROR", CategoryConfig, msg).
		WithContext(Context{"config_key": key, "expected_type": expectedType}).
		WithRecoverable(false).
		WithSuggested(ActionManualIntervention)
}

// NewRecoveryError reports that an attempted recovery action itself failed.
func NewRecoveryError(action RecoveryAction, original *Error) *Error {
	msg := fmt.Sprintf("recovery action %q failed for error: %s", action, original.Message)
	return New("RECOVERY_FAILED", CategoryExecution, msg).
		WithContext(Context{"recovery_action": string(action), "original_error_code": original.Code, "original_error_message": original.Message}).
		WithSeverity(SeverityCritical).
		WithRecoverable(false).
		WithSuggested(ActionManualIntervention)
}

// NewProcessorNotFoundError builds the engine's PROCESSOR_NOT_FOUND
// failure: a step reached execution with no registered implementation.
func NewProcessorNotFoundError(stepName string) *Error {
	return New("PROCESSOR_NOT_FOUND", CategoryConfig, fmt.Sprintf("no step processor registered for %q", stepName)).
		WithContext(Context{"step_name": stepName}).
		WithRecoverable(false).
		WithSuggested(ActionManualIntervention)
}

// IsRecoverable mirrors is_recoverable_error from the distilled source: a
// *Error reports its own flag; any other error defaults to recoverable.
func IsRecoverable(err error) bool {
	if te, ok := err.(*Error); ok {
		return te.Recoverable
	}
	return true
}

// SuggestedActions mirrors get_suggested_recovery_actions: a *Error reports
// its own list; an unknown error gets the general-purpose default of
// retry-then-manual-intervention.
func SuggestedActions(err error) []RecoveryAction {
	if te, ok := err.(*Error); ok {
		return te.Suggested
	}
	return []RecoveryAction{ActionRetry, ActionManualIntervention}
}
