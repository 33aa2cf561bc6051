package node

// Services under this prefix are answered by every node and never published.
const BuiltinPrefix = "__zmp__."

const (
	// IndexService returns the sorted names the node provides.
	IndexService = BuiltinPrefix + "index"

	// PingService returns the node name.
	PingService = BuiltinPrefix + "ping"
)

func (n *Node) builtins() map[string]Handler {
	return map[string]Handler{
		IndexService: n.indexHandler,
		PingService:  n.pingHandler,
	}
}

func (n *Node) indexHandler(ctx *Context) (interface{}, error) {
	return n.Services(), nil
}

func (n *Node) pingHandler(ctx *Context) (interface{}, error) {
	return n.name, nil
}
