package tenancy

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestWithCallerAndCallerFromContext(t *testing.T) {
	c := Caller{TenantID: uuid.New(), UserID: uuid.New(), Role: RoleDoctor}
	ctx := WithCaller(context.Background(), c)

	got, ok := CallerFromContext(ctx)
	if !ok {
		t.Fatalf("expected caller to be present")
	}
	if got != c {
		t.Fatalf("expected %+v, got %+v", c, got)
	}
}

func TestCallerFromContext_MissingOrInvalid(t *testing.T) {
	if _, ok := CallerFromContext(context.Background()); ok {
		t.Fatalf("expected missing caller to return false")
	}

	ctx := context.WithValue(context.Background(), callerKey, "not-a-caller")
	if _, ok := CallerFromContext(ctx); ok {
		t.Fatalf("expected non-caller value to return false")
	}

	ctx = WithCaller(context.Background(), Caller{TenantID: uuid.New(), UserID: uuid.New(), Role: "janitor"})
	if _, ok := CallerFromContext(ctx); ok {
		t.Fatalf("expected unknown role to return false")
	}
}

func TestRoleHelpers(t *testing.T) {
	tenant := uuid.New()
	cases := []struct {
		role  Role
		admin bool
		staff bool
	}{
		{RolePatient, false, false},
		{RoleDoctor, false, true},
		{RoleAdmin, true, true},
		{RoleSystem, true, true},
	}
	for _, tc := range cases {
		c := Caller{TenantID: tenant, UserID: uuid.New(), Role: tc.role}
		if c.IsAdmin() != tc.admin || c.IsStaff() != tc.staff {
			t.Fatalf("role %s: admin=%v staff=%v", tc.role, c.IsAdmin(), c.IsStaff())
		}
	}

	sys := SystemCaller(tenant)
	if err := sys.Validate(); err != nil {
		t.Fatalf("system caller should validate: %v", err)
	}
}
