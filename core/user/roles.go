package user

import "strings"

// Roles
const (
	// Admin
	RoleAdmin          = "admin:"
	RoleAdminOwner     = "admin:owner"
	RoleAdminPrincipal = "admin:principal"

	// Teacher
	RoleTeacher = "teacher:"

	// Parent
	RoleParent = "parent:"

	// Student
	RoleStudent = "student:"
)

var (
	AdminRoles   = []string{RoleAdmin, RoleAdminOwner, RoleAdminPrincipal}
	TeacherRoles = []string{RoleTeacher}
	ParentRoles  = []string{RoleParent}
	StudentRoles = []string{RoleStudent}
	AllRoles     = getAllRoles()

	// roles a user can pick when self-registering
	RegistrationRoles = []string{RoleStudent, RoleParent}

	rolePriorities = map[string]int{
		// Admins: 30 - 21
		RoleAdminOwner:     30,
		RoleAdminPrincipal: 29,
		RoleAdmin:          21,

		// Teachers: 20 - 11
		RoleTeacher: 11,

		// Parents & Students: 10 - 1
		RoleParent:  2,
		RoleStudent: 1,
	}

	Roles = []Role{
		{Name: "دانش‌آموز", Value: RoleStudent},
		{Name: "ولی", Value: RoleParent},
		{Name: "معلم", Value: RoleTeacher},
		{Name: "مدیر سیستم", Value: RoleAdmin},
		{Name: "مدیر مدرسه", Value: RoleAdminPrincipal},
		{Name: "مالک", Value: RoleAdminOwner},
	}
)

func getAllRoles() []string {
	all := make([]string, 0, len(rolePriorities))
	all = append(all, AdminRoles...)
	all = append(all, TeacherRoles...)
	all = append(all, ParentRoles...)
	all = append(all, StudentRoles...)
	return all
}

func RolePriority(role string) int {
	return rolePriorities[role]
}

func MaxRolePriority(roles []string) int {
	var max int
	for _, role := range roles {
		if RolePriority(role) > max {
			max = RolePriority(role)
		}
	}
	return max
}

func IsValidRole(role string) bool {
	_, ok := rolePriorities[role]
	return ok
}

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func rolesStartWith(roles []string, prefix string) bool {
	for _, role := range roles {
		if strings.HasPrefix(role, prefix) {
			return true
		}
	}
	return false
}
