package realtime

import "strings"

// GlobalRoom is joined by every connected client.
const GlobalRoom = "global"

// UserRoom is the private room of one user.
func UserRoom(userID string) string { return "user:" + userID }

// RoleRoom groups every socket of a role.
func RoleRoom(role string) string { return "role:" + role }

// CollegeRoom groups every socket of one tenant.
func CollegeRoom(collegeID string) string { return "college:" + collegeID }

// CollegeRoleRoom groups the sockets of one role within a tenant.
func CollegeRoleRoom(collegeID, role string) string { return CollegeRoom(collegeID) + ":role:" + role }

// DoubtRoom is a discussion thread room.
func DoubtRoom(id string) string { return "doubt:" + id }

// CourseRoom is a course room.
func CourseRoom(id string) string { return "course:" + id }

// Joinable reports whether clients may join or leave the room themselves.
// Identity rooms are assigned on connect and cannot be requested.
func Joinable(room string) bool {
	for _, prefix := range []string{"doubt:", "course:"} {
		if strings.HasPrefix(room, prefix) && len(room) > len(prefix) {
			return true
		}
	}
	return false
}
