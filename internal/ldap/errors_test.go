package ldap

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
)

func TestNewOperationError(t *testing.T) {
	tests := []struct {
		name      string
		operation string
		category  ErrorCategory
		err       error
		wantNil   bool
		wantCode  uint16
	}{
		{
			name:      "nil error",
			operation: "load source",
			category:  ErrorCategoryDecode,
			err:       nil,
			wantNil:   true,
		},
		{
			name:      "decode error",
			operation: "load source",
			category:  ErrorCategoryDecode,
			err:       errors.New("line 3: invalid base64"),
			wantCode:  ldap.LDAPResultDecodingError,
		},
		{
			name:      "write error",
			operation: "write change log",
			category:  ErrorCategoryEncode,
			err:       errors.New("disk full"),
			wantCode:  ldap.LDAPResultEncodingError,
		},
		{
			name:      "go-ldap error keeps its result code",
			operation: "load target",
			category:  ErrorCategoryDecode,
			err:       fmt.Errorf("wrapped: %w", ldap.NewError(ldap.LDAPResultInvalidDNSyntax, errors.New("bad DN"))),
			wantCode:  ldap.LDAPResultInvalidDNSyntax,
		},
		{
			name:      "validation code wins over nested go-ldap error",
			operation: "validate configuration",
			category:  ErrorCategoryValidation,
			err:       fmt.Errorf("source: %w", ldap.NewError(ldap.ErrorFilterCompile, errors.New("unexpected end of filter"))),
			wantCode:  ldap.LDAPResultParamError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NewOperationError(tt.operation, tt.category, tt.err)

			if tt.wantNil {
				assert.Nil(t, result)
				return
			}

			if assert.NotNil(t, result) {
				assert.Equal(t, tt.operation, result.Operation)
				assert.Equal(t, tt.category, result.Category)
				assert.Equal(t, tt.wantCode, result.LDAPCode)
				assert.Same(t, tt.err, result.Cause)
			}
		})
	}
}

func TestOperationError_Error(t *testing.T) {
	tests := []struct {
		name  string
		opErr *OperationError
		want  string
	}{
		{
			name: "basic error",
			opErr: &OperationError{
				Operation: "load source",
				Message:   "unexpected EOF",
			},
			want: "load source failed - unexpected EOF",
		},
		{
			name: "error with code",
			opErr: &OperationError{
				Operation: "load target",
				LDAPCode:  ldap.LDAPResultDecodingError,
				Message:   "invalid LDIF format",
			},
			want: "load target failed (code 84) - invalid LDIF format",
		},
		{
			name: "error with DN",
			opErr: &OperationError{
				Operation: "write change log",
				Message:   "short write",
				DN:        "cn=user,dc=example,dc=com",
			},
			want: "write change log failed - short write - DN: cn=user,dc=example,dc=com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.opErr.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOperationError_Is(t *testing.T) {
	cause := fmt.Errorf("%w: line 7: missing DN", ErrSourceUnreadable)
	err := fmt.Errorf("diff: %w", NewOperationError("load source", ErrorCategoryDecode, cause))

	assert.ErrorIs(t, err, ErrSourceUnreadable)
	assert.NotErrorIs(t, err, ErrTargetUnreadable)
	assert.True(t, IsDecodeError(err))
	assert.False(t, IsValidationError(err))
}

func TestWrapError(t *testing.T) {
	t.Run("nil error", func(t *testing.T) {
		assert.NoError(t, WrapError("load source", ErrorCategoryDecode, nil))
	})

	t.Run("plain error is wrapped", func(t *testing.T) {
		err := WrapError("write change log", ErrorCategoryEncode, errors.New("broken pipe"))
		assert.Equal(t, ErrorCategoryEncode, GetErrorCategory(err))
	})

	t.Run("existing operation error is kept", func(t *testing.T) {
		inner := NewOperationError("load target", ErrorCategoryDecode, errors.New("bad"))
		err := WrapError("run", ErrorCategoryUnknown, fmt.Errorf("outer: %w", inner))
		assert.Equal(t, ErrorCategoryDecode, GetErrorCategory(err))
	})
}

func TestResultCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want uint16
	}{
		{
			name: "nil",
			err:  nil,
			want: ldap.LDAPResultSuccess,
		},
		{
			name: "validation",
			err:  NewOperationError("parse arguments", ErrorCategoryValidation, errors.New("missing source")),
			want: ldap.LDAPResultParamError,
		},
		{
			name: "schema",
			err:  NewOperationError("load source", ErrorCategorySchema, errors.New("no object classes")),
			want: ldap.LDAPResultObjectClassViolation,
		},
		{
			name: "raw go-ldap error",
			err:  ldap.NewError(ldap.LDAPResultBusy, errors.New("busy")),
			want: ldap.LDAPResultBusy,
		},
		{
			name: "generic error",
			err:  errors.New("something went wrong"),
			want: ldap.LDAPResultLocalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResultCode(tt.err))
		})
	}
}
