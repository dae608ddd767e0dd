// Command rigger resolves layered manifests and deploys them.
package main

import "github.com/cameronsjo/rigger/internal/cmd"

func main() {
	cmd.Execute()
}
