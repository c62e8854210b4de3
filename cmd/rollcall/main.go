// Command rollcall runs blink-verified face attendance on a camera or a
// recorded video and manages the data it depends on.
package main

const version = "0.1.0"

func main() {
	Execute()
}
