package main

import "github.com/humanitec/oidc-role-manager/cmd"

func main() {
	cmd.Execute()
}
