package span

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// RoleSet is the set of role identifiers a span may carry. It is read-only
// after construction and safe to share across concurrent calls.
type RoleSet struct {
	roles map[string]struct{}
}

// NewRoleSet builds a RoleSet from a list of role identifiers.
func NewRoleSet(roles []string) RoleSet {
	m := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		m[r] = struct{}{}
	}
	return RoleSet{roles: m}
}

// Contains reports whether role is a member of the set.
func (rs RoleSet) Contains(role string) bool {
	_, ok := rs.roles[role]
	return ok
}

// Len returns the number of roles in the set.
func (rs RoleSet) Len() int {
	return len(rs.roles)
}

// Roles returns the role identifiers in sorted order.
func (rs RoleSet) Roles() []string {
	out := make([]string, 0, len(rs.roles))
	for r := range rs.roles {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// roleSetFile is the on-disk taxonomy format.
type roleSetFile struct {
	Roles []string `yaml:"roles"`
}

// RoleSetFromYAML loads a taxonomy from YAML data of the form:
//
//	roles:
//	  - subject.person
//	  - camera.movement
func RoleSetFromYAML(data []byte) (RoleSet, error) {
	var f roleSetFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return RoleSet{}, fmt.Errorf("failed to parse role taxonomy: %w", err)
	}
	if len(f.Roles) == 0 {
		return RoleSet{}, fmt.Errorf("role taxonomy contains no roles")
	}
	return NewRoleSet(f.Roles), nil
}

// DefaultRoles returns the built-in video-prompt taxonomy.
func DefaultRoles() RoleSet {
	return NewRoleSet([]string{
		"subject.person",
		"subject.animal",
		"subject.object",
		"subject.group",
		"action.movement",
		"action.gesture",
		"action.interaction",
		"environment.location",
		"environment.time",
		"environment.weather",
		"camera.angle",
		"camera.movement",
		"camera.lens",
		"shot.framing",
		"shot.composition",
		"shot.transition",
		"style.aesthetic",
		"style.era",
		"style.reference",
		"audio.music",
		"audio.sfx",
		"audio.dialogue",
		"lighting.source",
		"lighting.quality",
		"technical.resolution",
		"technical.framerate",
		"technical.aspect",
		"mood.tone",
		"color.palette",
	})
}
