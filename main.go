// The main package for the jobs-crawler executable.
package main

import "github.com/JakeFAU/realtime-jobs-crawler/cmd"

func main() {
	cmd.Execute()
}
