package client

// View is a client route path.
type View string

const (
	ViewLoading View = "loading"
	ViewAuth    View = "/auth"
	ViewRoot    View = "/"
	ViewHome    View = "/home"
	ViewAdmin   View = "/admin"
)

func (v View) Protected() bool {
	switch v {
	case ViewRoot, ViewHome, ViewAdmin:
		return true
	default:
		return false
	}
}

// Landing is where an authenticated user is sent from the login view.
func Landing(state State) View {
	if state.User != nil && state.User.IsAdmin() {
		return ViewAdmin
	}
	return ViewHome
}

// Route applies the access policy to a requested view and reports whether
// the caller was redirected.
func Route(state State, requested View) (View, bool) {
	switch {
	case state.Status == StatusLoading:
		return ViewLoading, requested != ViewLoading
	case !state.Authenticated():
		if requested.Protected() {
			return ViewAuth, true
		}
	case requested == ViewAuth:
		return Landing(state), true
	case requested == ViewAdmin && !state.User.IsAdmin():
		return ViewHome, true
	}
	return requested, false
}
