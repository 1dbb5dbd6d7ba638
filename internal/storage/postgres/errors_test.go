package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	wrap := func(code string) error {
		return fmt.Errorf("exec: %w", &pgconn.PgError{Code: code})
	}

	tests := []struct {
		name      string
		err       error
		retryable bool
		reason    string
	}{
		{name: "serialization", err: wrap(codeSerializationFailure), retryable: true, reason: "serialization_failure"},
		{name: "deadlock", err: wrap(codeDeadlockDetected), retryable: true, reason: "deadlock"},
		{name: "unique", err: wrap(codeUniqueViolation), retryable: false, reason: "other"},
		{name: "plain", err: errors.New("boom"), retryable: false, reason: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.retryable, isRetryable(tt.err))
			require.Equal(t, tt.reason, RetryReason(tt.err))
		})
	}

	require.True(t, isUniqueViolation(wrap(codeUniqueViolation)))
	require.True(t, isForeignKeyViolation(wrap(codeForeignKeyViolation)))
	require.False(t, isUniqueViolation(nil))
}
