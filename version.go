package flowsession

const (
	Name    = "flowsession"
	Version = "0.1.0"
)
