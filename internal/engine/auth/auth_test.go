package auth

import (
	"errors"
	"testing"

	"podnotes/internal/domain"
)

func TestCanClaim(t *testing.T) {
	strict := Policy{SingleClaimPerUser: true}
	relaxed := Policy{}
	cases := []struct {
		name   string
		policy Policy
		state  ClaimState
		want   error
	}{
		{"unclaimed", strict, ClaimState{}, nil},
		{"claimed by other", strict, ClaimState{Holder: "bob"}, domain.ErrAlreadyClaimed},
		{"claimed by self", strict, ClaimState{Holder: "alice"}, domain.ErrAlreadyClaimed},
		{"holds other claim strict", strict, ClaimState{OtherClaims: 1}, domain.ErrUserHoldsClaim},
		{"holds other claim relaxed", relaxed, ClaimState{OtherClaims: 1}, nil},
	}
	for _, c := range cases {
		d := c.policy.CanClaim("alice", c.state)
		if c.want == nil {
			if !d.Allowed || d.Err("claim") != nil {
				t.Fatalf("%s: expected allowed, got %+v", c.name, d)
			}
			continue
		}
		if d.Allowed || !errors.Is(d.Err("claim"), c.want) {
			t.Fatalf("%s: expected %v, got %+v", c.name, c.want, d)
		}
	}
}

func TestCanUnclaim(t *testing.T) {
	p := Policy{SingleClaimPerUser: true}
	if !p.CanUnclaim("alice", ClaimState{}).Allowed {
		t.Fatalf("unclaimed episode should be releasable")
	}
	if !p.CanUnclaim("alice", ClaimState{Holder: "alice"}).Allowed {
		t.Fatalf("holder should be allowed")
	}
	d := p.CanUnclaim("alice", ClaimState{Holder: "bob"})
	var fe ForbiddenError
	if d.Allowed || !errors.As(d.Err("unclaim"), &fe) || !errors.Is(fe, domain.ErrClaimedBySomeoneElse) {
		t.Fatalf("non-holder should be denied, got %+v", d)
	}
}

func TestCanEdit(t *testing.T) {
	p := Policy{}
	if d := p.CanEdit("alice", ClaimState{}); d.Allowed || !errors.Is(d.Reason, domain.ErrMustClaimFirst) {
		t.Fatalf("expected must claim first, got %+v", d)
	}
	if d := p.CanEdit("alice", ClaimState{Holder: "bob"}); d.Allowed || !errors.Is(d.Reason, domain.ErrClaimedBySomeoneElse) {
		t.Fatalf("expected claimed by someone else, got %+v", d)
	}
	if !p.CanEdit("alice", ClaimState{Holder: "alice"}).Allowed {
		t.Fatalf("holder should edit")
	}
}

func TestCanVote(t *testing.T) {
	p := Policy{SingleClaimPerUser: true}
	if !p.CanVote("alice").Allowed {
		t.Fatalf("authenticated users vote")
	}
	if p.CanVote("").Allowed {
		t.Fatalf("anonymous vote allowed")
	}
}
