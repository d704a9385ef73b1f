package main

import "caseflow/cmd"

func main() {
	cmd.Execute()
}
