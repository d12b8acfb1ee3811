package model

import "github.com/stratumlake/stratum/internal/apperrors"

var errTooManyCustomPartitions = apperrors.NewSchemaError(
	apperrors.CodeSchemaInvalid,
	"at most 3 custom partition fields are allowed",
)
