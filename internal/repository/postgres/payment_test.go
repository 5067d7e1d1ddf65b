package postgres

import (
	"reflect"
	"strings"
	"testing"

	"aquabill/internal/domain"
)

func TestApplyTransitionQuery_GuardsOnLockedStatus(t *testing.T) {
	t.Parallel()

	for _, fragment := range []string{
		"SELECT id, status AS previous_status FROM payments WHERE external_reference = $1 FOR UPDATE",
		"WHERE p.id = old.id AND old.previous_status = ANY($6)",
		"RETURNING old.previous_status, p.id, p.external_reference",
		"settlement_claimed_at = CASE WHEN $2 = 'COMPLETED' THEN $5",
	} {
		if !strings.Contains(applyTransitionQuery, fragment) {
			t.Errorf("expected transition query to contain %q", fragment)
		}
	}
}

func TestTransitionSources(t *testing.T) {
	t.Parallel()

	tests := []struct {
		target  domain.PaymentStatus
		want    []string
		wantErr bool
	}{
		{target: domain.PaymentStatusPending, want: []string{"CREATED"}},
		{target: domain.PaymentStatusCompleted, want: []string{"CREATED", "PENDING"}},
		{target: domain.PaymentStatusFailed, want: []string{"CREATED", "PENDING"}},
		{target: domain.PaymentStatusCancelled, want: []string{"CREATED", "PENDING"}},
		{target: domain.PaymentStatusRefunded, want: []string{"COMPLETED"}},
		{target: domain.PaymentStatusCreated, wantErr: true},
		{target: domain.PaymentStatus("CHARGEBACK"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.target), func(t *testing.T) {
			got, err := transitionSources(tt.target)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got sources %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error, got: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestClaimSettlementQuery_CoversRefundedPayments(t *testing.T) {
	t.Parallel()

	for _, fragment := range []string{
		"status = ANY($3)",
		"settled_at IS NULL",
		"settlement_claimed_at IS NULL OR settlement_claimed_at < $4",
	} {
		if !strings.Contains(claimSettlementQuery, fragment) {
			t.Errorf("expected claim query to contain %q", fragment)
		}
	}

	got := statusStrings(domain.SettlingStatuses())
	want := []string{"COMPLETED", "REFUNDED"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected settling statuses %v, got %v", want, got)
	}
}

func TestListOpenQuery_RotatesByLastPoll(t *testing.T) {
	t.Parallel()

	if !strings.Contains(listOpenQuery, "ORDER BY last_polled_at NULLS FIRST, created_at") {
		t.Errorf("expected open payments ordered by last poll, got:\n%s", listOpenQuery)
	}
}
