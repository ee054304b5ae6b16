package main

import "github.com/jrsteele09/go-auth-client/cmd/authclient/cmd"

func main() {
	cmd.Execute()
}
