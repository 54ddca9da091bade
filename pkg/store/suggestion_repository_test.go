package store

import (
	"testing"

	"github.com/evalforge/evalforge/pkg/domain"
)

func TestListFilter_ToBSON_Empty(t *testing.T) {
	got := ListFilter{}.toBSON()
	if len(got) != 0 {
		t.Errorf("expected an empty filter, got %v", got)
	}
}

func TestListFilter_ToBSON_AllFields(t *testing.T) {
	filter := ListFilter{
		Type:     domain.SuggestionEval,
		Status:   domain.StatusPending,
		Severity: domain.SeverityHigh,
	}
	got := filter.toBSON()

	if got["type"] != domain.SuggestionEval {
		t.Errorf("type = %v, want %v", got["type"], domain.SuggestionEval)
	}
	if got["status"] != domain.StatusPending {
		t.Errorf("status = %v, want %v", got["status"], domain.StatusPending)
	}
	if got["severity"] != domain.SeverityHigh {
		t.Errorf("severity = %v, want %v", got["severity"], domain.SeverityHigh)
	}
}

func TestListFilter_ToBSON_PartialFields(t *testing.T) {
	filter := ListFilter{Status: domain.StatusApproved}
	got := filter.toBSON()

	if len(got) != 1 {
		t.Errorf("expected exactly one filter field, got %v", got)
	}
	if got["status"] != domain.StatusApproved {
		t.Errorf("status = %v, want %v", got["status"], domain.StatusApproved)
	}
}
