package context

type Key string

const (
	Claims    Key = "claims"
	Params    Key = "params"
	Identity  Key = "identity"
	Workspace Key = "workspace"
	RequestID Key = "request_id"
)
