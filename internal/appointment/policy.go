package appointment

// TransitionPolicy decides who may move an appointment between statuses.
type TransitionPolicy interface {
	Allow(role Role, current, requested Status) bool
}

// DefaultPolicy lets doctors and admins set any status and patients only
// cancel.
type DefaultPolicy struct{}

func (DefaultPolicy) Allow(role Role, current, requested Status) bool {
	switch role {
	case RoleAdmin, RoleDoctor:
		return true
	case RolePatient:
		return requested == StatusCancelled
	}
	return false
}

// PolicyFunc adapts a plain function.
type PolicyFunc func(role Role, current, requested Status) bool

func (f PolicyFunc) Allow(role Role, current, requested Status) bool {
	return f(role, current, requested)
}
