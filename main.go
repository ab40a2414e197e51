package main

import "github.com/user/policyguard/cmd"

func main() {
	cmd.Execute()
}
