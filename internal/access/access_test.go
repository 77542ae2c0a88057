package access

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pavelanni/checkin/internal/model"
)

func TestAllows(t *testing.T) {
	tests := []struct {
		name     string
		policy   Policy
		role     model.Role
		required []model.Role
		want     bool
	}{
		{"client on client view", DefaultPolicy(), model.RoleClient, []model.Role{model.RoleClient}, true},
		{"client on clinician view", DefaultPolicy(), model.RoleClient, []model.Role{model.RoleClinician}, false},
		{"clinician on clinician view", DefaultPolicy(), model.RoleClinician, []model.Role{model.RoleClinician}, true},
		{"clinician on admin view", DefaultPolicy(), model.RoleClinician, []model.Role{model.RoleAdmin}, false},
		{"admin acting as clinician", DefaultPolicy(), model.RoleAdmin, []model.Role{model.RoleClinician}, true},
		{"admin not acting as clinician", Policy{}, model.RoleAdmin, []model.Role{model.RoleClinician}, false},
		{"admin on admin view", Policy{}, model.RoleAdmin, []model.Role{model.RoleAdmin}, true},
		{"any of several", DefaultPolicy(), model.RoleClinician, []model.Role{model.RoleAdmin, model.RoleClinician}, true},
		{"no requirement", DefaultPolicy(), model.RoleClient, nil, true},
		{"unknown role", DefaultPolicy(), model.Role("superuser"), nil, false},
		{"empty role", DefaultPolicy(), "", []model.Role{model.RoleClient}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Allows(tt.role, tt.required...))
		})
	}
}

func TestCanViewSubject(t *testing.T) {
	p := DefaultPolicy()

	client := model.Identity{UserID: "3", Role: model.RoleClient}
	assert.True(t, p.CanViewSubject(client, "3"))
	assert.False(t, p.CanViewSubject(client, "4"))

	clinician := model.Identity{UserID: "9", Role: model.RoleClinician}
	assert.True(t, p.CanViewSubject(clinician, "3"))

	admin := model.Identity{UserID: "1", Role: model.RoleAdmin}
	assert.True(t, p.CanViewSubject(admin, "3"))
	assert.False(t, Policy{}.CanViewSubject(admin, "3"))
}

func TestEffectiveRoles(t *testing.T) {
	assert.Equal(t, []model.Role{model.RoleAdmin, model.RoleClinician}, DefaultPolicy().EffectiveRoles(model.RoleAdmin))
	assert.Equal(t, []model.Role{model.RoleAdmin}, Policy{}.EffectiveRoles(model.RoleAdmin))
	assert.Nil(t, DefaultPolicy().EffectiveRoles("nobody"))
}
