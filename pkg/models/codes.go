package models

// Stable error codes surfaced in job records and API responses.
// Messages are human-readable; codes are the contract.
const (
	// Validation: rejected at submit, never enqueued.
	CodeBadRequest       = "bad_request"
	CodeInvalidUUID      = "invalid_uuid"
	CodeLocaleNotAllowed = "locale_not_allowed"

	// Auth.
	CodeMissingToken       = "missing_token"
	CodeInvalidToken       = "invalid_token"
	CodeMissingActorUserID = "missing_actor_user_id"
	CodeActorUserNotFound  = "actor_user_not_found"

	// Feasibility.
	CodeSvcBearerMissing = "svc_to_svc_bearer_missing"
	CodeQuoteExpired     = "quote_expired"
	CodeTooManySegments  = "too_many_segments"

	// Transient provider: requeued with backoff.
	CodeProvider5xx     = "provider_5xx"
	CodeProviderTimeout = "provider_timeout"
	CodeNetworkError    = "network_error"

	// Permanent provider.
	CodeProvider4xx            = "provider_4xx"
	CodeContentPolicyViolation = "content_policy_violation"
	CodeInvalidFaceInput       = "invalid_face_input"

	// Internal.
	CodeWorkerCrash         = "WORKER_CRASH"
	CodeStitchFailed        = "STITCH_FAILED"
	CodeCommerceWorkerError = "commerce_worker_error"
	CodeTimeout             = "TIMEOUT"

	// Safety.
	CodeUnsafePrompt = "unsafe_prompt"
	CodeUnsafeImage  = "unsafe_image"
)
