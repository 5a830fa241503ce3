/*
Copyright 2025 Yousaf Gill. All rights reserved.
Use of this source code is governed by the MIT license
that can be found in the LICENSE file.

filedrop moves a single file from a client to a server over raw TCP using a
small length-prefixed framing protocol, reporting transfer progress as it
goes.

The program operates in two modes:

1. serve: accepts uploads on a bounded worker pool and stores each file
   under the uploads directory, answering with a one-byte status

2. send: uploads one file and exits with a status describing the outcome
*/
package main

import (
	"os"

	"filedrop/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
