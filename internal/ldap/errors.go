package ldap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// ErrorCategory represents different categories of diff errors.
type ErrorCategory string

const (
	ErrorCategoryDecode     ErrorCategory = "decode"
	ErrorCategoryEncode     ErrorCategory = "encode"
	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategorySchema     ErrorCategory = "schema"
	ErrorCategoryUnknown    ErrorCategory = "unknown"
)

// Conditions surfaced to callers. Use errors.Is to test for them.
var (
	ErrSourceUnreadable = errors.New("source LDIF unreadable")
	ErrTargetUnreadable = errors.New("target LDIF unreadable")
	ErrOutputWrite      = errors.New("change log write failed")
)

// OperationError provides categorized error information for a diff run.
type OperationError struct {
	Operation string        // The operation that failed
	Category  ErrorCategory // Error category
	LDAPCode  uint16        // LDAP result code reported to the caller
	Message   string        // Human-readable message
	DN        string        // DN involved in the operation (if applicable)
	Cause     error         // Underlying error
}

func (e *OperationError) Error() string {
	var parts []string

	if e.LDAPCode > 0 {
		parts = append(parts, fmt.Sprintf("%s failed (code %d)", e.Operation, e.LDAPCode))
	} else {
		parts = append(parts, fmt.Sprintf("%s failed", e.Operation))
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	if e.DN != "" {
		parts = append(parts, fmt.Sprintf("DN: %s", e.DN))
	}

	return strings.Join(parts, " - ")
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}

// NewOperationError creates a categorized error. Outside the validation
// category, a go-ldap *ldap.Error anywhere in the chain contributes its result
// code; otherwise the code is derived from the category.
func NewOperationError(operation string, category ErrorCategory, err error) *OperationError {
	if err == nil {
		return nil
	}

	opErr := &OperationError{
		Operation: operation,
		Category:  category,
		LDAPCode:  categoryResultCode(category),
		Message:   err.Error(),
		Cause:     err,
	}

	var ldapResultErr *ldap.Error
	if category != ErrorCategoryValidation && errors.As(err, &ldapResultErr) {
		opErr.LDAPCode = ldapResultErr.ResultCode
	}

	return opErr
}

// WithDN records the DN involved in the failure.
func (e *OperationError) WithDN(dn string) *OperationError {
	e.DN = dn
	return e
}

// categoryResultCode maps a category onto the LDAP client-side result codes.
func categoryResultCode(category ErrorCategory) uint16 {
	switch category {
	case ErrorCategoryDecode:
		return ldap.LDAPResultDecodingError
	case ErrorCategoryEncode:
		return ldap.LDAPResultEncodingError
	case ErrorCategoryValidation:
		return ldap.LDAPResultParamError
	case ErrorCategorySchema:
		return ldap.LDAPResultObjectClassViolation
	default:
		return ldap.LDAPResultLocalError
	}
}

// WrapError wraps an error with operation context, keeping an existing
// OperationError intact.
func WrapError(operation string, category ErrorCategory, err error) error {
	if err == nil {
		return nil
	}

	var opErr *OperationError
	if errors.As(err, &opErr) {
		if opErr.Operation == "" {
			opErr.Operation = operation
		}
		return err
	}

	return NewOperationError(operation, category, err)
}

// GetErrorCategory returns the category of an error.
func GetErrorCategory(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryUnknown
	}

	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Category
	}

	return ErrorCategoryUnknown
}

// ResultCode returns the LDAP result code a caller should report for err:
// LDAPResultSuccess for nil, the code carried by an OperationError or
// go-ldap error, and LDAPResultLocalError otherwise.
func ResultCode(err error) uint16 {
	if err == nil {
		return ldap.LDAPResultSuccess
	}

	var opErr *OperationError
	if errors.As(err, &opErr) && opErr.LDAPCode > 0 {
		return opErr.LDAPCode
	}

	var ldapResultErr *ldap.Error
	if errors.As(err, &ldapResultErr) {
		return ldapResultErr.ResultCode
	}

	return ldap.LDAPResultLocalError
}

// IsDecodeError checks if an error indicates unreadable input.
func IsDecodeError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryDecode
}

// IsValidationError checks if an error indicates invalid parameters.
func IsValidationError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryValidation
}
