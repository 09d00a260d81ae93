package chat

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember, RoleViewer:
		return true
	}
	return false
}

// Action is something a participant may attempt inside a session.
type Action string

const (
	ActionViewMessages      Action = "view_messages"
	ActionSendMessage       Action = "send_message"
	ActionUpdateSession     Action = "update_session"
	ActionDeleteSession     Action = "delete_session"
	ActionInvite            Action = "invite"
	ActionRemoveParticipant Action = "remove_participant"
	ActionChangeRole        Action = "change_role"
	ActionLeave             Action = "leave"
)

// Actions lists every action in the permission table.
var Actions = []Action{
	ActionViewMessages,
	ActionSendMessage,
	ActionUpdateSession,
	ActionDeleteSession,
	ActionInvite,
	ActionRemoveParticipant,
	ActionChangeRole,
	ActionLeave,
}

// permissions is the whole access matrix. Anything not listed is denied.
var permissions = map[Role]map[Action]bool{
	RoleOwner: {
		ActionViewMessages:      true,
		ActionSendMessage:       true,
		ActionUpdateSession:     true,
		ActionDeleteSession:     true,
		ActionInvite:            true,
		ActionRemoveParticipant: true,
		ActionChangeRole:        true,
	},
	RoleAdmin: {
		ActionViewMessages:      true,
		ActionSendMessage:       true,
		ActionUpdateSession:     true,
		ActionInvite:            true,
		ActionRemoveParticipant: true,
		ActionChangeRole:        true,
		ActionLeave:             true,
	},
	RoleMember: {
		ActionViewMessages: true,
		ActionSendMessage:  true,
		ActionLeave:        true,
	},
	RoleViewer: {
		ActionViewMessages: true,
		ActionLeave:        true,
	},
}

// Authorized reports whether role may perform action.
func Authorized(role Role, action Action) bool {
	return permissions[role][action]
}

// CanChangeRole refines ActionChangeRole with the target's current role and the
// requested one. An admin can never touch the owner or hand out ownership, and
// since a session has exactly one owner nobody can grant the owner role.
func CanChangeRole(actor, targetCurrent, newRole Role) bool {
	if !Authorized(actor, ActionChangeRole) || !newRole.Valid() {
		return false
	}
	if newRole == RoleOwner || targetCurrent == RoleOwner {
		return false
	}
	return true
}
