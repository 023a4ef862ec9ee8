// Command workflow-engine is the CLI entrypoint that wires a logger, a
// layered config, the SQLite metadata repository, the project filesystem
// manager, the data-integration layer, and the workflow engine together,
// then drives the demo Yukkuri pipeline through them.
package main

import "github.com/yukkuri-studio/workflow-core/cmd/workflow-engine/cmd"

func main() {
	cmd.Execute()
}
