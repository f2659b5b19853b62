// Command flowgraph serves the workflow editor API and offers offline tools
// for checking and running saved workflows.
package main

func main() {
	Execute()
}
