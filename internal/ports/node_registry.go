package ports

type NodeRegistryPort interface {
	Register(typeName string, factory NodeFactory, info NodeTypeInfo) error
	Resolve(typeName string) (NodeFactory, error)
	Describe(typeName string) (NodeTypeInfo, bool)
	ListTypes() []string
	Unregister(typeName string) error
	HasType(typeName string) bool
}

type NodeRegistrationError struct {
	NodeType string
	Reason   string
}

func (e NodeRegistrationError) Error() string {
	return "node registration failed for '" + e.NodeType + "': " + e.Reason
}
