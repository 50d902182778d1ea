package apperr

type Code string

const (
	CodeValidation           Code = "VALIDATION"
	CodeNotFound             Code = "NOT_FOUND"
	CodeForbidden            Code = "FORBIDDEN"
	CodeAlreadyExists        Code = "ALREADY_EXISTS"
	CodeUnauthenticated      Code = "UNAUTHENTICATED"
	CodeUploadFailed         Code = "UPLOAD_FAILED"
	CodeNotificationDelivery Code = "NOTIFICATION_DELIVERY"
	CodeTransientStore       Code = "TRANSIENT_STORE"
	CodeInternal             Code = "INTERNAL"
)
