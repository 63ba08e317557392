package main

import (
	"github.com/canonical/maas-images/cmd/meph2-util/cmd"
)

func main() {
	cmd.Execute()
}
