package models

import (
	"testing"
	"time"
)

func TestDefectTransitionTable(t *testing.T) {
	cases := []struct {
		from, to DefectStatus
		want     bool
	}{
		{DefectOpen, DefectRejected, true},
		{DefectPending, DefectRejected, true},
		{DefectRejected, DefectOpen, true},
		{DefectClosed, DefectOpen, true},
		{DefectClosed, DefectInProgress, false},
		{DefectOpen, DefectOpen, false},
		{DefectOpen, DefectReopened, false},
		{DefectReopened, DefectInProgress, true},
		{DefectResolved, DefectRejected, false},
		{DefectInProgress, DefectOpen, false},
		{DefectStatus("bogus"), DefectOpen, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestEveryStatusHasAWayOut(t *testing.T) {
	for _, s := range DefectStatuses {
		var found bool
		for _, next := range DefectStatuses {
			if s.CanTransition(next) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("status %s has no outgoing transition", s)
		}
	}
}

func TestCanChangeDefectStatusRoles(t *testing.T) {
	if !CanChangeDefectStatus(RoleInspector, DefectPending, DefectRejected) {
		t.Fatalf("inspector should reject pending defects")
	}
	if CanChangeDefectStatus(RoleContractor, DefectPending, DefectRejected) {
		t.Fatalf("contractor must not reject")
	}
	if !CanChangeDefectStatus(RoleContractor, DefectOpen, DefectAccepted) {
		t.Fatalf("contractor should accept open defects")
	}
	if CanChangeDefectStatus(RoleContractor, DefectClosed, DefectOpen) {
		t.Fatalf("contractor must not reopen")
	}
	if CanChangeDefectStatus(RoleViewer, DefectOpen, DefectInProgress) {
		t.Fatalf("viewer must not change status")
	}
}

func TestBuckets(t *testing.T) {
	want := map[DefectStatus]string{
		DefectOpen:       "open",
		DefectReopened:   "open",
		DefectAccepted:   "in_progress",
		DefectInProgress: "in_progress",
		DefectPending:    "pending",
		DefectCompleted:  "pending",
		DefectRejected:   "rejected",
		DefectResolved:   "closed",
		DefectClosed:     "closed",
	}
	for s, b := range want {
		if s.Bucket() != b {
			t.Errorf("%s: bucket %s, want %s", s, s.Bucket(), b)
		}
	}
}

func TestIsOverdue(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)

	d := Defect{Status: DefectOpen, DueDate: &past}
	if !d.IsOverdue(now) {
		t.Fatalf("open defect past due should be overdue")
	}
	d.Status = DefectClosed
	if d.IsOverdue(now) {
		t.Fatalf("closed defect is never overdue")
	}
	d.DueDate = nil
	d.Status = DefectOpen
	if d.IsOverdue(now) {
		t.Fatalf("defect without due date is never overdue")
	}
}

func TestContractorTransitions(t *testing.T) {
	if !ContractorPending.CanTransition(ContractorActive) {
		t.Fatalf("pending contractors can be approved")
	}
	if ContractorPending.CanTransition(ContractorSuspended) {
		t.Fatalf("pending contractors cannot be suspended")
	}
	if !ContractorSuspended.CanTransition(ContractorActive) {
		t.Fatalf("suspended contractors can be reactivated")
	}
	if ContractorActive.CanTransition(ContractorActive) {
		t.Fatalf("no-op transition must be rejected")
	}
	if ContractorAction["approve"] != ContractorActive {
		t.Fatalf("approve should target active")
	}
}

func TestRoles(t *testing.T) {
	if !RoleInspector.IsStaff() || RoleContractor.IsStaff() || RoleViewer.IsStaff() {
		t.Fatalf("unexpected staff classification")
	}
	if UserRole("root").Valid() {
		t.Fatalf("unknown role must be invalid")
	}
}
