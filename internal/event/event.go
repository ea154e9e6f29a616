package event

type Type string

const (
	TypeAccountRegistered    Type = "account.registered"
	TypeAdminBootstrapped    Type = "account.admin_bootstrapped"
	TypePasswordHashUpgraded Type = "account.password_hash_upgraded"
	TypeLoginSucceeded       Type = "session.login_succeeded"
	TypeLoginFailed          Type = "session.login_failed"
	TypeSessionRejected      Type = "session.rejected"
)

type Event struct {
	ID        string `json:"id"`
	Type      Type   `json:"type"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp string `json:"timestamp"`
	ActorID   string `json:"actor_id,omitempty"` // Account the event is about, when known
}

type Bus interface {
	Publish(e Event)
	Subscribe() (<-chan Event, func()) // Returns channel and unsubscribe function
}
