package medical_record

import "errors"

var (
	ErrInvalidRecordType    = errors.New("invalid medical record type")
	ErrDescriptionRequired  = errors.New("description is required")
	ErrTooManyAttachments   = errors.New("an entry may carry at most 5 attachments")
	ErrAttachmentTooLarge   = errors.New("attachment exceeds 10 MiB")
	ErrAttachmentNameNeeded = errors.New("attachment name is required")
	ErrInvalidBundle        = errors.New("record bundle failed schema validation")
)
